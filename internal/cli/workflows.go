package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/definitions"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/repository"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

func newWorkflowsCmd(s *session) *cobra.Command {
	workflowsCmd := &cobra.Command{
		Use:     "workflows",
		Aliases: []string{"workflow", "wf"},
		Short:   "Manage workflow templates",
		Long: `Manage workflow templates.

Available commands:
  list     - List the tenant's workflows and the global ones
  import   - Register workflow definitions from YAML files`,
	}

	var status string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.open(cmd)
			if err != nil {
				return err
			}
			workflows, err := a.Service.ListWorkflows(cmd.Context(), s.opts.tenant, repository.WorkflowFilter{Status: status, Limit: limit})
			if err != nil {
				return err
			}
			p, err := s.printer(cmd)
			if err != nil {
				return err
			}
			return p.workflows(workflows)
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "Filter by status (active, inactive)")
	listCmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of workflows")

	var global bool
	importCmd := &cobra.Command{
		Use:   "import <file-or-dir>...",
		Short: "Register workflow definitions",
		Long: `Register workflow definitions from YAML files or directories.

Each definition becomes the newest active version of its key. Definitions
are scoped to --tenant unless --global is set or the file names a tenant_id.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := loadDefinitions(args)
			if err != nil {
				return err
			}
			if !global && s.opts.tenant == "" {
				return fmt.Errorf("--tenant or --global is required")
			}
			a, err := s.open(cmd)
			if err != nil {
				return err
			}
			var registered []models.Workflow
			for _, def := range defs {
				if def.TenantID == "" && !global {
					def.TenantID = s.opts.tenant
				}
				wf, err := a.Service.RegisterWorkflow(cmd.Context(), def)
				if err != nil {
					return err
				}
				registered = append(registered, *wf)
			}
			p, err := s.printer(cmd)
			if err != nil {
				return err
			}
			return p.workflows(registered)
		},
	}
	importCmd.Flags().BoolVar(&global, "global", false, "Register as global templates shared by every tenant")

	workflowsCmd.AddCommand(listCmd, importCmd)
	return workflowsCmd
}

func loadDefinitions(paths []string) ([]definitions.Definition, error) {
	var defs []definitions.Definition
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			loaded, err := definitions.LoadDir(path)
			if err != nil {
				return nil, err
			}
			defs = append(defs, loaded...)
			continue
		}
		def, err := definitions.LoadFile(path)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("no workflow definitions found")
	}
	return defs, nil
}

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/repository"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/services"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

// parseContext decodes a JSON object flag value. Empty means no context.
func parseContext(flag, raw string) (models.Context, error) {
	if raw == "" {
		return nil, nil
	}
	var out models.Context
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("--%s must be a JSON object: %w", flag, err)
	}
	return out, nil
}

func newRunsCmd(s *session) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:     "runs",
		Aliases: []string{"run"},
		Short:   "Create and drive workflow runs",
		Long: `Create and drive workflow runs.

Available commands:
  create   - Create a run from a workflow key
  advance  - Start runnable steps and finalize the run when it is done
  status   - Show a run and its steps
  list     - List the tenant's runs
  cancel   - Cancel an active run`,
	}
	runsCmd.AddCommand(
		newRunsCreateCmd(s),
		newRunsAdvanceCmd(s),
		newRunsStatusCmd(s),
		newRunsListCmd(s),
		newRunsCancelCmd(s),
	)
	return runsCmd
}

func newRunsCreateCmd(s *session) *cobra.Command {
	var rawContext, triggeredBy string
	var advance bool
	cmd := &cobra.Command{
		Use:   "create <workflow-key>",
		Short: "Create a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := s.requireTenant()
			if err != nil {
				return err
			}
			runContext, err := parseContext("context", rawContext)
			if err != nil {
				return err
			}
			a, err := s.open(cmd)
			if err != nil {
				return err
			}
			req := services.CreateRunRequest{TenantID: tenant, WorkflowKey: args[0], Context: runContext}
			if triggeredBy != "" {
				req.TriggeredBy = &triggeredBy
			}
			run, err := a.Service.CreateWorkflowRun(cmd.Context(), req)
			if err != nil {
				return err
			}
			p, err := s.printer(cmd)
			if err != nil {
				return err
			}
			if !advance {
				return p.run(run)
			}
			if _, err := a.Service.AdvanceWorkflow(cmd.Context(), run.ID); err != nil {
				return err
			}
			view, err := a.Service.GetRunStatus(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			return p.runStatus(view)
		},
	}
	cmd.Flags().StringVar(&rawContext, "context", "", "Initial run context as a JSON object")
	cmd.Flags().StringVar(&triggeredBy, "triggered-by", "", "User that triggered the run")
	cmd.Flags().BoolVar(&advance, "advance", false, "Advance the run right after creating it")
	return cmd
}

func newRunsAdvanceCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <run-id>",
		Short: "Advance a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.open(cmd)
			if err != nil {
				return err
			}
			if _, err := a.Service.AdvanceWorkflow(cmd.Context(), args[0]); err != nil {
				return err
			}
			view, err := a.Service.GetRunStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			p, err := s.printer(cmd)
			if err != nil {
				return err
			}
			return p.runStatus(view)
		},
	}
}

func newRunsStatusCmd(s *session) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a run and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				s.opts.output = string(OutputFormatJSON)
			}
			a, err := s.open(cmd)
			if err != nil {
				return err
			}
			view, err := a.Service.GetRunStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			p, err := s.printer(cmd)
			if err != nil {
				return err
			}
			return p.runStatus(view)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Shorthand for --output json")
	return cmd
}

func newRunsListCmd(s *session) *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenant, err := s.requireTenant()
			if err != nil {
				return err
			}
			a, err := s.open(cmd)
			if err != nil {
				return err
			}
			runs, err := a.Service.ListRuns(cmd.Context(), tenant, repository.RunFilter{Status: models.RunStatus(status), Limit: limit})
			if err != nil {
				return err
			}
			p, err := s.printer(cmd)
			if err != nil {
				return err
			}
			return p.runs(runs)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by run status")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")
	return cmd
}

func newRunsCancelCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel an active run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.open(cmd)
			if err != nil {
				return err
			}
			run, err := a.Service.CancelWorkflowRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			p, err := s.printer(cmd)
			if err != nil {
				return err
			}
			return p.run(run)
		},
	}
}

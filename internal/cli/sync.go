package cli

import (
	"github.com/spf13/cobra"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/services"
)

func newSyncCmd(s *session) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile waiting steps against their agent tasks",
		Long: `Reconcile waiting steps against their agent tasks.

Steps whose task finished take the task's result or error, and every run
with a settled step is advanced once. Use --all to sync every tenant with
active runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.open(cmd)
			if err != nil {
				return err
			}
			var results []*services.SyncResult
			if all {
				if results, err = a.Service.SyncAllTenants(cmd.Context()); err != nil {
					return err
				}
			} else {
				tenant, err := s.requireTenant()
				if err != nil {
					return err
				}
				result, err := a.Service.SyncWorkflowStepsFromTasks(cmd.Context(), tenant)
				if err != nil {
					return err
				}
				results = []*services.SyncResult{result}
			}
			p, err := s.printer(cmd)
			if err != nil {
				return err
			}
			return p.syncResults(results)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Sync every tenant with active runs")
	return cmd
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/app"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

func newTasksCmd(s *session) *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"task"},
		Short:   "Settle agent tasks stored in the workflow database",
		Long: `Settle agent tasks stored in the workflow database.

These commands stand in for an external task executor when tasks.backend
is "store". After settling, the waiting step is reconciled and its run
advanced unless --no-advance is given.`,
	}

	var rawResult string
	var noAdvance bool
	completeCmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := parseContext("result", rawResult)
			if err != nil {
				return err
			}
			return settleTask(cmd, s, args[0], !noAdvance, func(ctx context.Context, a *app.App) (*models.AgentTask, error) {
				return a.Store.CompleteTask(ctx, args[0], result)
			})
		},
	}
	completeCmd.Flags().StringVar(&rawResult, "result", "", "Task result as a JSON object")
	completeCmd.Flags().BoolVar(&noAdvance, "no-advance", false, "Only settle the task")

	var message string
	var failNoAdvance bool
	failCmd := &cobra.Command{
		Use:   "fail <task-id>",
		Short: "Mark a task failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return settleTask(cmd, s, args[0], !failNoAdvance, func(ctx context.Context, a *app.App) (*models.AgentTask, error) {
				return a.Store.FailTask(ctx, args[0], message)
			})
		},
	}
	failCmd.Flags().StringVarP(&message, "message", "m", "agent task failed", "Failure message")
	failCmd.Flags().BoolVar(&failNoAdvance, "no-advance", false, "Only settle the task")

	tasksCmd.AddCommand(completeCmd, failCmd)
	return tasksCmd
}

func settleTask(cmd *cobra.Command, s *session, taskID string, advance bool, settle func(context.Context, *app.App) (*models.AgentTask, error)) error {
	a, err := s.open(cmd)
	if err != nil {
		return err
	}
	if a.Store == nil {
		return fmt.Errorf("tasks are managed by %s; settle them there", a.Config.Tasks.URL)
	}
	task, err := settle(cmd.Context(), a)
	if err != nil {
		return err
	}
	p, err := s.printer(cmd)
	if err != nil {
		return err
	}
	if !advance {
		return p.task(task)
	}
	rs, _, err := a.Service.ReconcileTask(cmd.Context(), taskID)
	if err != nil {
		return err
	}
	if rs == nil {
		return p.task(task)
	}
	view, err := a.Service.GetRunStatus(cmd.Context(), rs.RunID)
	if err != nil {
		return err
	}
	return p.runStatus(view)
}

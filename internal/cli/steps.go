package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/app"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/pkg/models"
)

func newStepsCmd(s *session) *cobra.Command {
	stepsCmd := &cobra.Command{
		Use:     "steps",
		Aliases: []string{"step"},
		Short:   "Finish running manual steps",
	}

	var rawOutput string
	var noAdvance bool
	completeCmd := &cobra.Command{
		Use:   "complete <run-step-id>",
		Short: "Complete a running step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, err := parseContext("result", rawOutput)
			if err != nil {
				return err
			}
			return finishStep(cmd, s, !noAdvance, func(ctx context.Context, a *app.App) (*models.WorkflowRunStep, error) {
				return a.Service.CompleteStep(ctx, args[0], output)
			})
		},
	}
	completeCmd.Flags().StringVar(&rawOutput, "result", "", "Step output as a JSON object")
	completeCmd.Flags().BoolVar(&noAdvance, "no-advance", false, "Do not advance the run afterwards")

	var message string
	var failNoAdvance bool
	failCmd := &cobra.Command{
		Use:   "fail <run-step-id>",
		Short: "Fail a running step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return finishStep(cmd, s, !failNoAdvance, func(ctx context.Context, a *app.App) (*models.WorkflowRunStep, error) {
				return a.Service.FailStep(ctx, args[0], message)
			})
		},
	}
	failCmd.Flags().StringVarP(&message, "message", "m", "", "Failure message")
	failCmd.Flags().BoolVar(&failNoAdvance, "no-advance", false, "Do not advance the run afterwards")

	stepsCmd.AddCommand(completeCmd, failCmd)
	return stepsCmd
}

// finishStep applies finish and, when advance is set, advances the step's run and
// prints the run status. Otherwise the step alone is printed.
func finishStep(cmd *cobra.Command, s *session, advance bool, finish func(context.Context, *app.App) (*models.WorkflowRunStep, error)) error {
	a, err := s.open(cmd)
	if err != nil {
		return err
	}
	rs, err := finish(cmd.Context(), a)
	if err != nil {
		return err
	}
	p, err := s.printer(cmd)
	if err != nil {
		return err
	}
	if !advance {
		return p.runSteps([]models.WorkflowRunStep{*rs})
	}
	if _, err := a.Service.AdvanceWorkflow(cmd.Context(), rs.RunID); err != nil {
		return err
	}
	view, err := a.Service.GetRunStatus(cmd.Context(), rs.RunID)
	if err != nil {
		return err
	}
	return p.runStatus(view)
}

// Package cli implements the workflowctl command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/app"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/config"
	"github.com/ZORA-CORE/ZORA-CORE-sub001/internal/logging"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	output     string
	tenant     string
	dbPath     string
	verbose    bool
}

// session is the per-invocation state built by PersistentPreRunE.
type session struct {
	opts *globalOptions
	app  *app.App
}

func (s *session) open(cmd *cobra.Command) (*app.App, error) {
	if s.app != nil {
		return s.app, nil
	}
	cfg, err := config.LoadConfig(s.opts.configPath)
	if err != nil {
		return nil, err
	}
	if s.opts.dbPath != "" {
		cfg.DB.Driver = "sqlite"
		cfg.DB.Path = s.opts.dbPath
	}
	logger := logging.Discard()
	if s.opts.verbose {
		logger = logging.New(logging.Options{Level: "debug", Format: cfg.Logging.Format, Output: cmd.ErrOrStderr()})
	}

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}
	s.app = a
	return a, nil
}

func (s *session) close() {
	if s.app != nil {
		_ = s.app.Close()
		s.app = nil
	}
}

func (s *session) requireTenant() (string, error) {
	if s.opts.tenant == "" {
		return "", fmt.Errorf("--tenant is required (or set ZORA_TENANT)")
	}
	return s.opts.tenant, nil
}

func (s *session) printer(cmd *cobra.Command) (*printer, error) {
	return newPrinter(cmd.OutOrStdout(), s.opts.output)
}

// NewRootCmd builds the workflowctl command tree.
func NewRootCmd() *cobra.Command {
	rootCmd, _ := newRootCmd()
	return rootCmd
}

func newRootCmd() (*cobra.Command, *session) {
	opts := &globalOptions{}
	s := &session{opts: opts}

	rootCmd := &cobra.Command{
		Use:   "workflowctl",
		Short: "Operate ZORA workflow templates and runs",
		Long: `workflowctl registers workflow templates, creates and advances runs,
and reconciles steps against agent tasks.

It talks to the database named in config.yaml (or ZORA_* environment
variables). Use --db to work against a local SQLite file instead.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to config file (default ./config.yaml)")
	flags.StringVarP(&opts.output, "output", "o", string(OutputFormatTable), "Output format (table, json, yaml)")
	flags.StringVarP(&opts.tenant, "tenant", "t", os.Getenv("ZORA_TENANT"), "Tenant ID")
	flags.StringVar(&opts.dbPath, "db", "", "Use the SQLite database at this path")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log engine activity to stderr")

	rootCmd.AddCommand(newMigrateCmd(s))
	rootCmd.AddCommand(newWorkflowsCmd(s))
	rootCmd.AddCommand(newRunsCmd(s))
	rootCmd.AddCommand(newStepsCmd(s))
	rootCmd.AddCommand(newSyncCmd(s))
	rootCmd.AddCommand(newTasksCmd(s))
	return rootCmd, s
}

// Run executes args and returns the process exit code. Errors go to stderr.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd, s := newRootCmd()
	defer s.close()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// Execute runs the command line of the current process and exits non-zero on error.
func Execute() {
	os.Exit(Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func newMigrateCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.open(cmd)
			if err != nil {
				return err
			}
			if err := a.Repo.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database migrated (%s)\n", a.Config.DB.Driver)
			return nil
		},
	}
}

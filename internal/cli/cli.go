package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/leyline/core/internal/api/middleware"
	"github.com/leyline/core/internal/config"
	"github.com/leyline/core/internal/services"
	"github.com/spf13/cobra"
)

// Reprocessor runs the action engine again on a stale email
type Reprocessor interface {
	Reprocess(ctx context.Context, emailID string) error
}

// Env holds the services the commands operate on
type Env struct {
	Config     *config.Config
	APIKeys    *middleware.APIKeyManager
	LogService *services.LogService
	Store      *services.EmailStore
	Profiles   *services.ProfileService
	Pipeline   Reprocessor
	// Serve runs the HTTP server until it fails
	Serve func() error
}

// NewRootCmd builds the command tree over env
func NewRootCmd(env *Env) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "leyline",
		Short: "Gmail push webhook with an LLM action engine",
		Long: `Leyline receives Gmail push notifications, stores the latest message and
lets a language model summarize it and fill out attached PDF forms.

Examples:
  leyline serve                                 # start the HTTP server (default)
  leyline key show                              # print the current API key
  leyline key reset                             # rotate the API key
  leyline profile show alex@example.com         # print a profile
  leyline profile add-context alex@example.com "I moved to Lisbon"
  leyline email list --status stale             # list emails awaiting processing
  leyline email reprocess <id>                  # run the engine again on a stale email
  leyline email reprocess --all-stale           # run the engine on every stale email
  leyline logs --email <id>                     # audit trail of one email
  leyline config init config.yaml               # write the effective configuration`,
		SilenceUsage: true,
	}

	var verbose bool
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "record DEBUG audit rows for this run")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if verbose && env.LogService != nil {
			env.LogService.SetLogLevel("DEBUG")
		}
	}

	rootCmd.AddCommand(newServeCmd(env))
	rootCmd.AddCommand(newKeyCmd(env))
	rootCmd.AddCommand(newProfileCmd(env))
	rootCmd.AddCommand(newEmailCmd(env))
	rootCmd.AddCommand(newLogsCmd(env))
	rootCmd.AddCommand(newConfigCmd(env))
	return rootCmd
}

// Execute runs the command named by the process arguments
func Execute(env *Env) {
	if err := NewRootCmd(env).Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if env.Serve == nil {
				return fmt.Errorf("server is not available")
			}
			return env.Serve()
		},
	}
}

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/leyline/core/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(env *Env) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or write the configuration",
	}

	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with credentials masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd, env.Config.Redacted())
		},
	}

	var (
		force    bool
		defaults bool
	)
	configInitCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a config file (.json, .yaml or .yml)",
		Long: `Write the effective configuration to a file that later runs can load,
either from the working directory or through ` + config.ConfigPathEnv + `.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			cfg := env.Config
			if defaults {
				cfg = config.Default()
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}
	configInitCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	configInitCmd.Flags().BoolVar(&defaults, "defaults", false, "write default values instead of the effective configuration")

	configCmd.AddCommand(configShowCmd, configInitCmd)
	return configCmd
}

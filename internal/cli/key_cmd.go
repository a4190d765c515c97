package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newKeyCmd(env *Env) *cobra.Command {
	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the API key",
		Long:  `Show or rotate the key required in the X-API-Key header of /api requests.`,
	}

	keyShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			currentKey := env.APIKeys.GetCurrentKey()
			if currentKey == "" {
				return fmt.Errorf("no API key available")
			}
			fmt.Fprintln(cmd.OutOrStdout(), currentKey)
			return nil
		},
	}

	var assumeYes bool
	keyResetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Generate a new API key",
		Long:  `Generate a new API key. Clients using the old key lose access.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if !assumeYes {
				fmt.Fprint(out, "Clients using the current key will lose access. Reset the API key? (yes/no): ")
				input, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil {
					return fmt.Errorf("failed to read input: %w", err)
				}
				input = strings.TrimSpace(strings.ToLower(input))
				if input != "yes" && input != "y" {
					fmt.Fprintln(out, "Cancelled.")
					return nil
				}
			}

			newKey, err := env.APIKeys.ResetKey()
			if err != nil {
				return fmt.Errorf("failed to reset key: %w", err)
			}
			env.LogService.LogAPIKeyReset()

			fmt.Fprintln(out, "New API key:")
			fmt.Fprintln(out, newKey)
			return nil
		},
	}
	keyResetCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")

	keyCmd.AddCommand(keyShowCmd, keyResetCmd)
	return keyCmd
}

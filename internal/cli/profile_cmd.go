package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leyline/core/internal/database/models"
	"github.com/spf13/cobra"
)

func newProfileCmd(env *Env) *cobra.Command {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage recipient profiles",
		Long:  `Profiles hold the facts used to fill out forms for a recipient address.`,
	}

	profileShowCmd := &cobra.Command{
		Use:   "show <email>",
		Short: "Print a profile as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := env.Profiles.GetProfile(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, profile)
		},
	}

	var (
		firstName string
		lastName  string
		data      map[string]string
	)
	profileSetCmd := &cobra.Command{
		Use:   "set <email>",
		Short: "Create or replace a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := &models.Profile{Email: args[0], FirstName: firstName, LastName: lastName}
			if cmd.Flags().Changed("data") {
				input.UserData = data
			}
			profile, err := env.Profiles.UpsertProfile(input)
			if err != nil {
				return err
			}
			return printJSON(cmd, profile)
		},
	}
	profileSetCmd.Flags().StringVar(&firstName, "first-name", "", "first name")
	profileSetCmd.Flags().StringVar(&lastName, "last-name", "", "last name")
	profileSetCmd.Flags().StringToStringVar(&data, "data", nil, "user data as key=value pairs")

	profileAddContextCmd := &cobra.Command{
		Use:   "add-context <email> <note>...",
		Short: "Merge a free-text note into a profile's user data",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userData, err := env.Profiles.AddContext(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return printJSON(cmd, userData)
		},
	}

	profileCmd.AddCommand(profileShowCmd, profileSetCmd, profileAddContextCmd)
	return profileCmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

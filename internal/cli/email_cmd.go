package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/leyline/core/internal/database/models"
	"github.com/leyline/core/internal/services"
	"github.com/spf13/cobra"
)

func newEmailCmd(env *Env) *cobra.Command {
	emailCmd := &cobra.Command{
		Use:   "email",
		Short: "Inspect and reprocess ingested emails",
	}

	var (
		status string
		page   int
		limit  int
	)
	emailListCmd := &cobra.Command{
		Use:   "list",
		Short: "List emails, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := env.Store.ListEmails(services.EmailListOptions{
				Status: models.EmailStatus(status),
				Page:   page,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tDATE\tSUBJECT")
			for _, email := range result.Emails {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", email.ID, email.Status, email.InternalDate.Format("2006-01-02 15:04"), email.Subject)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d emails\n", len(result.Emails), result.Total)
			return nil
		},
	}
	emailListCmd.Flags().StringVar(&status, "status", "", "filter by status (stale, processing, done)")
	emailListCmd.Flags().IntVar(&page, "page", 1, "page number")
	emailListCmd.Flags().IntVar(&limit, "limit", 20, "emails per page")

	var allStale bool
	emailReprocessCmd := &cobra.Command{
		Use:   "reprocess [id]",
		Short: "Run the action engine again on a stale email",
		Args: func(cmd *cobra.Command, args []string) error {
			if allStale {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !allStale {
				return reprocessOne(cmd, env, args[0])
			}

			ids, err := env.Store.ListByStatus(models.EmailStatusStale)
			if err != nil {
				return err
			}
			failed := 0
			for _, id := range ids {
				if err := reprocessOne(cmd, env, id); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Email %s failed: %v\n", id, err)
					failed++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d stale emails reprocessed, %d failed\n", len(ids)-failed, failed)
			if failed > 0 {
				return fmt.Errorf("%d emails could not be reprocessed", failed)
			}
			return nil
		},
	}
	emailReprocessCmd.Flags().BoolVar(&allStale, "all-stale", false, "reprocess every stale email, oldest first")

	emailCmd.AddCommand(emailListCmd, emailReprocessCmd)
	return emailCmd
}

func reprocessOne(cmd *cobra.Command, env *Env, id string) error {
	if err := env.Pipeline.Reprocess(cmd.Context(), id); err != nil {
		return err
	}
	email, err := env.Store.GetEmail(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Email %s is %s\n", email.ID, email.Status)
	if email.Summary != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Summary: %s\n", email.Summary)
	}
	return nil
}

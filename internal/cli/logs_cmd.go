package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/leyline/core/internal/services"
	"github.com/spf13/cobra"
)

func newLogsCmd(env *Env) *cobra.Command {
	var query services.LogQuery

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show audit log rows, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query.Level = strings.ToUpper(query.Level)
			result, err := env.LogService.QueryLogs(query)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tLEVEL\tMODULE\tACTION\tEMAIL\tMESSAGE")
			for _, row := range result.Logs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					row.CreatedAt.Format("2006-01-02 15:04:05"), row.Level, row.Module, row.Action, row.EmailID, row.Message)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d rows\n", len(result.Logs), result.Total)
			return nil
		},
	}
	logsCmd.Flags().StringVar(&query.EmailID, "email", "", "only rows for this email id")
	logsCmd.Flags().StringVar(&query.Level, "level", "", "only rows at this level (DEBUG, INFO, WARN, ERROR)")
	logsCmd.Flags().StringVar(&query.Module, "module", "", "only rows from this module (webhook, ingest, engine, profile, api, cli)")
	logsCmd.Flags().IntVar(&query.Page, "page", 1, "page number")
	logsCmd.Flags().IntVar(&query.Limit, "limit", 50, "rows per page")
	return logsCmd
}

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored review sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, database, repo, err := openStore()
			if err != nil {
				return err
			}
			defer database.Close()

			sessions, err := repo.ListSessions(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			if len(sessions) == 0 {
				cmd.Println("no sessions")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSUBJECT\tSCENARIO\tMODE\tSTATUS\tFRAME\tUPDATED")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					s.ID, s.Key.Subject, s.Key.Scenario, s.Mode, s.Status, s.LastFrame,
					s.UpdatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of sessions to list")
	return cmd
}

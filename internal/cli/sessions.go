// internal/cli/sessions.go
package ragguard

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mwiater/ragguard/internal/app"
)

// sessionsCmd groups conversation store commands.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List, show, or delete stored conversations",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			sessions, err := a.Store.List(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions stored.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tMESSAGES\tCREATED\tUPDATED")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.ID, s.MessageCount, s.CreatedAt.Format("2006-01-02 15:04:05"), s.LastUpdated.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		})
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			session, ok, err := a.Store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("session %q not found", args[0])
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session %s (%d messages)\n\n", session.ID, session.MessageCount())
			for _, m := range session.Messages {
				fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Role, m.Content)
				if m.ConfidenceScore != nil {
					fmt.Fprintln(out, metaText(fmt.Sprintf("    confidence %.3f, context used: %v", *m.ConfidenceScore, m.ContextUsed)))
				}
				for _, src := range m.Sources {
					fmt.Fprintln(out, metaText(fmt.Sprintf("    source %s #%d", src.Source, src.Ordinal)))
				}
			}
			return nil
		})
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete [session-id]",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			deleted, err := a.Store.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("session %q not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
			return nil
		})
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

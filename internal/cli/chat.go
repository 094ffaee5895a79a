// internal/cli/chat.go
package ragguard

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mwiater/ragguard/internal/app"
	"github.com/mwiater/ragguard/internal/tui"
)

var startChat = tui.Start

// chatCmd represents the 'chat' command.
var chatCmd = &cobra.Command{
	Use:         "chat",
	Short:       "Start an interactive chat session",
	Long:        `The 'chat' command opens a terminal chat over the guarded pipeline. Every turn is stored in the session.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{"logging": "file-only"},
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		ctx, stop := signalContext(cmd)
		defer stop()

		return withApp(ctx, func(ctx context.Context, a *app.App) error {
			if _, err := a.WarmIndex(ctx); err != nil {
				return err
			}
			return startChat(ctx, a.Pipeline, tui.Options{
				SessionID: session,
				Backend:   a.Backends.Init.Backend,
				Status:    string(a.Backends.Init.Status),
				Debug:     a.Config.Debug,
			})
		})
	},
}

func init() {
	chatCmd.Flags().String("session", "", "resume an existing session")
	rootCmd.AddCommand(chatCmd)
}

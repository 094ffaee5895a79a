// internal/cli/serve.go
package ragguard

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mwiater/ragguard/internal/app"
	"github.com/mwiater/ragguard/internal/appconfig"
	"github.com/mwiater/ragguard/internal/logging"
	"github.com/mwiater/ragguard/internal/server"
)

// runServer is swapped in tests.
var runServer = func(ctx context.Context, s *server.Server, addr string) error {
	return s.Run(ctx, addr)
}

// serveCmd starts the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat, guardrails, evaluation, and session API",
	Long: `The 'serve' command indexes the corpus when the index is empty and then serves
the HTTP API until interrupted. With --watch, corpus changes are re-indexed live.
With --reload, edits to the config file are applied to the running server.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		reload, _ := cmd.Flags().GetBool("reload")
		ctx, stop := signalContext(cmd)
		defer stop()

		return withApp(ctx, func(ctx context.Context, a *app.App) error {
			if n, err := a.WarmIndex(ctx); err != nil {
				logging.LogEvent("[SERVER] initial indexing failed: %v", err)
			} else if n > 0 {
				logging.LogEvent("[SERVER] indexed %d chunks from %s", n, a.Config.Rag.CorpusPath)
			}
			if watch {
				if err := startWatcher(ctx, a, nil); err != nil {
					return err
				}
			}

			addr := a.Config.Server.Addr()
			if reload {
				watchConfig(a)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s (backend %s: %s)\n", addr, a.Backends.Init.Backend, a.Backends.Init.Status)
			return runServer(ctx, server.New(a.ServerDeps()), addr)
		})
	},
}

// watchConfig applies config file edits to a. Only the file viper loaded is
// watched; without one there is nothing to do.
func watchConfig(a *app.App) {
	path := viper.ConfigFileUsed()
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		logging.LogEvent("[SERVER] config reload disabled: %v", err)
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		if err := reloadConfig(a, viper.GetViper()); err != nil {
			logging.LogEvent("[SERVER] config change in %s rejected: %v", e.Name, err)
		}
	})
	viper.WatchConfig()
	logging.LogEvent("[SERVER] watching %s for config changes", path)
}

// reloadConfig decodes v and swaps the result into a.
func reloadConfig(a *app.App, v *viper.Viper) error {
	cfg, err := appconfig.Decode(v)
	if err != nil {
		return err
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = a.Config.ConfigPath
	}
	return a.Reconfigure(cfg)
}

// signalContext returns the command context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func init() {
	serveCmd.Flags().String("host", "", "listen host (overrides server.host)")
	serveCmd.Flags().Int("port", 0, "listen port (overrides server.port)")
	serveCmd.Flags().Bool("watch", false, "re-index corpus files as they change")
	serveCmd.Flags().Bool("reload", false, "apply config file changes without a restart")
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	rootCmd.AddCommand(serveCmd)
}

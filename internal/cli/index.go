// internal/cli/index.go
package ragguard

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mwiater/ragguard/internal/app"
	"github.com/mwiater/ragguard/internal/appconfig"
	"github.com/mwiater/ragguard/internal/rag"
)

// indexCmd builds the vector index from the corpus directory.
var indexCmd = &cobra.Command{
	Use:   "index [corpus-dir]",
	Short: "Chunk, embed, and index the corpus",
	Long: `The 'index' command ingests every matching file under the corpus directory
(rag.corpusPath unless given). Re-indexing a file replaces its previous chunks.
With --watch it keeps running and re-indexes files as they change.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		ctx, stop := signalContext(cmd)
		defer stop()

		return withApp(ctx, func(ctx context.Context, a *app.App) error {
			root := a.Config.Rag.CorpusPath
			if len(args) == 1 {
				root = args[0]
			}
			out := cmd.OutOrStdout()
			if a.Config.Rag.Store == appconfig.StoreMemory && !watch {
				fmt.Fprintln(out, "Note: rag.store is \"memory\"; the index will not outlive this command.")
			}

			report, err := a.Indexer.IngestCorpus(ctx, root)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Indexed %d files (%d skipped) into %d chunks in %s\n", report.Files, report.Skipped, report.Chunks, report.Duration.Round(time.Millisecond))
			if !watch {
				return nil
			}

			a.Config.Rag.CorpusPath = root
			if err := startWatcher(ctx, a, out); err != nil {
				return err
			}
			fmt.Fprintf(out, "Watching %s for changes (Ctrl+C to stop)\n", root)
			<-ctx.Done()
			return nil
		})
	},
}

// startWatcher re-indexes the corpus on file changes until ctx is done. When
// out is not nil each handled change is echoed to it.
func startWatcher(ctx context.Context, a *app.App, out io.Writer) error {
	w, err := rag.NewWatcher(a.Indexer)
	if err != nil {
		return err
	}
	events, err := w.Watch(ctx, a.Config.Rag.CorpusPath)
	if err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer w.Close()
		for ev := range events {
			if out != nil {
				fmt.Fprintln(out, describeWatchEvent(ev))
			}
		}
	}()
	return nil
}

func describeWatchEvent(ev rag.WatchEvent) string {
	switch {
	case ev.Err != nil:
		return fmt.Sprintf("failed %s: %v", ev.Path, ev.Err)
	case ev.Op == rag.FileRemoved:
		return fmt.Sprintf("removed %s (%d chunks)", ev.Path, ev.Chunks)
	default:
		return fmt.Sprintf("indexed %s (%d chunks)", ev.Path, ev.Chunks)
	}
}

func init() {
	indexCmd.Flags().Bool("watch", false, "keep running and re-index changed files")
	rootCmd.AddCommand(indexCmd)
}

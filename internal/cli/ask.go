// internal/cli/ask.go
package ragguard

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/k0kubun/pp"
	"github.com/spf13/cobra"

	"github.com/mwiater/ragguard/internal/app"
	"github.com/mwiater/ragguard/internal/pipeline"
)

var (
	answerText   = color.New(color.FgGreen).SprintFunc()
	degradedText = color.New(color.FgYellow).SprintFunc()
	blockedText  = color.New(color.FgRed).SprintFunc()
	metaText     = color.New(color.FgHiBlack).SprintFunc()
)

// askCmd answers a single question and exits.
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask one question against the indexed documentation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		reference, _ := cmd.Flags().GetString("reference")
		query := strings.Join(args, " ")
		ctx, stop := signalContext(cmd)
		defer stop()

		return withApp(ctx, func(ctx context.Context, a *app.App) error {
			if _, err := a.WarmIndex(ctx); err != nil {
				return err
			}
			resp, err := a.Pipeline.ProcessQuery(ctx, pipeline.Request{
				SessionID:       session,
				Query:           query,
				ReferenceAnswer: reference,
			})
			if err != nil {
				return err
			}
			printResponse(cmd.OutOrStdout(), resp)
			if a.Config.Debug {
				pp.Fprintln(cmd.OutOrStdout(), resp)
			}
			return nil
		})
	},
}

// printResponse writes an answer colored by its outcome plus a metadata footer.
func printResponse(out io.Writer, resp pipeline.Response) {
	var text string
	switch resp.Outcome {
	case pipeline.OutcomeAnswered:
		text = answerText(resp.Response)
	case pipeline.OutcomeDegraded, pipeline.OutcomeOutOfContext:
		text = degradedText(resp.Response)
	default:
		text = blockedText(resp.Response)
	}
	fmt.Fprintln(out, text)
	fmt.Fprintln(out)

	fmt.Fprintln(out, metaText(fmt.Sprintf("session: %s  outcome: %s  state: %s", resp.SessionID, resp.Outcome, resp.State)))
	if resp.Evaluation != nil {
		fmt.Fprintln(out, metaText(fmt.Sprintf("confidence: %.3f", resp.ConfidenceScore)))
	}
	if resp.Verdict != nil && !resp.Verdict.Allowed {
		fmt.Fprintln(out, metaText(fmt.Sprintf("blocked: %s (%s)", resp.Verdict.Category, resp.Verdict.Reason)))
	}
	for _, s := range resp.Sources {
		fmt.Fprintln(out, metaText(fmt.Sprintf("source: %s #%d (similarity %.3f)", s.Source, s.Ordinal, s.Similarity)))
	}
}

func init() {
	askCmd.Flags().String("session", "", "continue an existing session")
	askCmd.Flags().String("reference", "", "reference answer used to score accuracy")
	rootCmd.AddCommand(askCmd)
}

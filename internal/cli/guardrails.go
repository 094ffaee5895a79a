// internal/cli/guardrails.go
package ragguard

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mwiater/ragguard/internal/app"
	"github.com/mwiater/ragguard/internal/guardrails"
)

var (
	passedCheck = color.New(color.FgGreen).SprintFunc()
	failedCheck = color.New(color.FgRed).SprintFunc()
)

// guardrailsCmd groups policy inspection commands.
var guardrailsCmd = &cobra.Command{
	Use:   "guardrails",
	Short: "Inspect the content policy",
}

var guardrailsCheckCmd = &cobra.Command{
	Use:   "check [text]",
	Short: "Run text through the input (or --output) checks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetBool("output")
		text := strings.Join(args, " ")

		return withApp(cmd.Context(), func(_ context.Context, a *app.App) error {
			out := cmd.OutOrStdout()
			if output {
				res := a.Guard.CheckOutput(text)
				printVerdict(cmd, "output", res.Verdict)
				if res.Text != text {
					fmt.Fprintf(out, "delivered: %s\n", res.Text)
				}
				return nil
			}
			printVerdict(cmd, "input", a.Guard.CheckInput(text))
			fmt.Fprintf(out, "sanitized: %s\n", a.Guard.Sanitize(text))
			return nil
		})
	},
}

var guardrailsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active policy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(_ context.Context, a *app.App) error {
			st := a.Guard.Status()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "enabled: %v  strict: %v  profile: %s\n", st.Enabled, st.StrictMode, st.Profile)
			fmt.Fprintf(out, "max input length: %d\n", st.MaxInputLength)
			fmt.Fprintf(out, "blocked patterns: %d  unsafe output patterns: %d\n", st.BlockedPatternsCount, st.UnsafeOutputCount)
			fmt.Fprintf(out, "allowed topics: %d  domain keywords: %d\n", st.AllowedTopicsCount, st.DomainKeywordsCount)
			for _, c := range []guardrails.Category{guardrails.CategoryPromptInjection, guardrails.CategoryCodeInjection, guardrails.CategoryPersonalData, guardrails.CategoryProfanity} {
				fmt.Fprintf(out, "  %-18s %v\n", c, st.ContentFilters[c])
			}
			return nil
		})
	},
}

func printVerdict(cmd *cobra.Command, side string, v guardrails.Verdict) {
	out := cmd.OutOrStdout()
	if v.Allowed {
		fmt.Fprintf(out, "%s %s\n", passedCheck("PASS"), side)
		return
	}
	fmt.Fprintf(out, "%s %s [%s/%s]: %s\n", failedCheck("BLOCK"), side, v.Stage, v.Category, v.Reason)
}

func init() {
	guardrailsCheckCmd.Flags().Bool("output", false, "apply the output checks instead of the input checks")
	guardrailsCmd.AddCommand(guardrailsCheckCmd, guardrailsStatusCmd)
	rootCmd.AddCommand(guardrailsCmd)
}

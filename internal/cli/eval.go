// internal/cli/eval.go
package ragguard

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mwiater/ragguard/internal/app"
	"github.com/mwiater/ragguard/internal/evaluation"
	"github.com/mwiater/ragguard/internal/schema"
)

var evalFileSchema = map[string]any{
	"type":     "array",
	"minItems": 1,
	"items":    evaluation.InputSchema(),
}

// evalCmd scores a file of answers offline.
var evalCmd = &cobra.Command{
	Use:   "eval [file.json]",
	Short: "Score a JSON array of {query, generated_answer, ...} items",
	Long: `The 'eval' command validates the file, evaluates each item independently, and
prints per-item scores plus the batch averages. Items without a reference
answer borrow one from the golden dataset when a query matches.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		inputs, err := readEvalFile(args[0])
		if err != nil {
			return err
		}

		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			result := a.Evaluator.EvaluateBatch(ctx, inputs)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			for i, rec := range result.Records {
				fmt.Fprintf(out, "%3d  %.3f  %-9s  %s\n", i+1, rec.OverallScore, rec.Method, truncate(rec.Query, 60))
			}
			fmt.Fprintf(out, "\n%d items, average overall %.3f\n", result.Count, result.AverageOverall)
			for _, d := range evaluation.Dimensions {
				if avg, ok := result.Averages[d]; ok {
					fmt.Fprintf(out, "  %-20s %.3f\n", d, avg)
				}
			}
			return nil
		})
	},
}

func readEvalFile(path string) ([]evaluation.Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := schema.Validate(evalFileSchema, data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var inputs []evaluation.Input
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return inputs, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

func init() {
	evalCmd.Flags().Bool("json", false, "print the full batch result as JSON")
	rootCmd.AddCommand(evalCmd)
}

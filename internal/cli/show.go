// internal/cli/show.go
package ragguard

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mwiater/ragguard/internal/app"
	"github.com/mwiater/ragguard/internal/appconfig"
	"github.com/mwiater/ragguard/internal/evaluation"
)

// showCmd represents the 'show' command group for displaying resources.
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Group commands for displaying resources",
	Long:  `The 'show' command groups subcommands that display configuration and collected metrics.`,
}

// showConfigCmd implements 'show config', which prints the merged configuration.
var showConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show config settings",
	Long:  `Show config settings ensuring that the JSON configs are loaded properly and overridden by flags and RAGGUARD_* variables.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		appconfig.ShowConfig(cmd.OutOrStdout(), viper.ConfigFileUsed(), currentConfig)
	},
}

// showMetricsCmd prints the evaluation history and backend call statistics.
var showMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show evaluation and backend metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(_ context.Context, a *app.App) error {
			out := cmd.OutOrStdout()
			if h := a.Evaluator.History(); h != nil {
				m := h.Metrics()
				fmt.Fprintf(out, "Evaluations: %d (average overall %.3f)\n", m.TotalEvaluations, m.AverageOverall)
				for _, d := range evaluation.Dimensions {
					fmt.Fprintf(out, "  %-20s %.3f\n", d, m.AverageScores[d])
				}
				fmt.Fprint(out, "  distribution:")
				for _, bucket := range evaluation.DistributionBuckets {
					fmt.Fprintf(out, " %s=%d", bucket, m.ScoreDistribution[bucket])
				}
				fmt.Fprintln(out)
			}

			snapshot := a.BackendMetrics.Snapshot()
			fmt.Fprintf(out, "\nBackend calls (%d models):\n", len(snapshot))
			for _, bm := range snapshot {
				s := bm.OverallStats
				fmt.Fprintf(out, "  %-9s %-24s requests=%d errors=%d timeouts=%d mean=%.0fms\n",
					bm.Kind, bm.Model, s.TotalRequests, s.Errors, s.Timeouts, s.LatencyMillis.Mean)
			}
			return nil
		})
	},
}

func init() {
	showCmd.AddCommand(showConfigCmd, showMetricsCmd)
	rootCmd.AddCommand(showCmd)
}

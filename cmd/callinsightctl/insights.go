package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/insights"
)

var (
	backfillFrom       string
	backfillTo         string
	exportOut          string
	exportSlackChannel string
)

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Compute, inspect, and export daily insight aggregates",
	Long: `Daily aggregates summarize every call that reached a terminal status
during the day: volume, sentiment, quality, and the ranked pain points,
objections, topics, and entities.

Examples:
  callinsightctl insights compute 2026-08-24
  callinsightctl insights backfill --from 2026-08-01 --to 2026-08-24
  callinsightctl insights show 2026-08-24
  callinsightctl insights export 2026-08-24 --out reports/aug24.xlsx --slack-channel C0REVIEW`,
}

var insightsComputeCmd = &cobra.Command{
	Use:   "compute <YYYY-MM-DD>",
	Short: "Recompute one day's aggregate from the call records",
	Args:  cobra.ExactArgs(1),
	RunE:  runInsightsCompute,
}

var insightsBackfillCmd = &cobra.Command{
	Use:   "backfill --from <YYYY-MM-DD> --to <YYYY-MM-DD>",
	Short: "Recompute every day in an inclusive date range",
	RunE:  runInsightsBackfill,
}

var insightsShowCmd = &cobra.Command{
	Use:   "show <YYYY-MM-DD>",
	Short: "Print a stored aggregate",
	Args:  cobra.ExactArgs(1),
	RunE:  runInsightsShow,
}

var insightsExportCmd = &cobra.Command{
	Use:   "export <YYYY-MM-DD>",
	Short: "Write a stored aggregate to an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE:  runInsightsExport,
}

func init() {
	insightsBackfillCmd.Flags().StringVar(&backfillFrom, "from", "", "first day to recompute (required)")
	insightsBackfillCmd.Flags().StringVar(&backfillTo, "to", "", "last day to recompute (required)")
	insightsBackfillCmd.MarkFlagRequired("from")
	insightsBackfillCmd.MarkFlagRequired("to")

	insightsExportCmd.Flags().StringVar(&exportOut, "out", "", "output workbook path (required)")
	insightsExportCmd.Flags().StringVar(&exportSlackChannel, "slack-channel", "", "also share the workbook to this Slack channel")
	insightsExportCmd.MarkFlagRequired("out")

	insightsCmd.AddCommand(insightsComputeCmd)
	insightsCmd.AddCommand(insightsBackfillCmd)
	insightsCmd.AddCommand(insightsShowCmd)
	insightsCmd.AddCommand(insightsExportCmd)
}

func parseDay(arg string) (time.Time, error) {
	day, err := time.Parse("2006-01-02", arg)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q, expected YYYY-MM-DD", arg)
	}
	return day.UTC(), nil
}

// newAggregator builds the same reducer the server's cron runs, feeding
// metric observations to the notifier-less engine so manual recomputes
// keep metric alerts current.
func newAggregator() *insights.Aggregator {
	return insights.NewAggregator(logger, callStore, insightStore, alertEngine)
}

func runInsightsCompute(cmd *cobra.Command, args []string) error {
	day, err := parseDay(args[0])
	if err != nil {
		return err
	}

	agg, err := newAggregator().ComputePeriod(cmd.Context(), day)
	if err != nil {
		return err
	}
	fmt.Printf("Computed %s: %d calls (%d analyzed, %d failed)\n",
		agg.PeriodKey(), agg.TotalCalls, agg.AnalyzedCalls, agg.FailedCalls)
	return nil
}

func runInsightsBackfill(cmd *cobra.Command, args []string) error {
	from, err := parseDay(backfillFrom)
	if err != nil {
		return err
	}
	to, err := parseDay(backfillTo)
	if err != nil {
		return err
	}

	if err := newAggregator().Backfill(cmd.Context(), from, to); err != nil {
		return err
	}
	days := int(to.Sub(from).Hours()/24) + 1
	fmt.Printf("Backfilled %d days from %s to %s\n", days, backfillFrom, backfillTo)
	return nil
}

func runInsightsShow(cmd *cobra.Command, args []string) error {
	day, err := parseDay(args[0])
	if err != nil {
		return err
	}

	agg, err := insightStore.Get(cmd.Context(), day, insights.PeriodDaily)
	if err != nil {
		if errors.IsNotFound(err) {
			return fmt.Errorf("no aggregate stored for %s, run \"insights compute %s\" first", args[0], args[0])
		}
		return err
	}

	fmt.Printf("Period:            %s\n", agg.PeriodKey())
	fmt.Printf("Total calls:       %d\n", agg.TotalCalls)
	fmt.Printf("Analyzed calls:    %d\n", agg.AnalyzedCalls)
	fmt.Printf("Failed calls:      %d (%.1f%% failure rate)\n", agg.FailedCalls, agg.FailureRate*100)
	fmt.Printf("Average quality:   %.2f\n", agg.AverageQualityScore)
	fmt.Printf("Average sentiment: %.2f\n", agg.AverageSentimentScore)
	fmt.Printf("Computed at:       %s\n", agg.ComputedAt.UTC().Format("2006-01-02 15:04:05 UTC"))

	if len(agg.Sentiment.Counts) > 0 {
		fmt.Println("\nSentiment:")
		labels := make([]string, 0, len(agg.Sentiment.Counts))
		for label := range agg.Sentiment.Counts {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			fmt.Printf("  %-10s %d (%.1f%%)\n", label, agg.Sentiment.Counts[label], agg.Sentiment.Percentages[label])
		}
	}

	printRanked(cmd, "Pain points", agg.PainPoints)
	printRanked(cmd, "Objections", agg.Objections)
	printRanked(cmd, "Topics", agg.Topics)
	printRanked(cmd, "Entities", agg.Entities)
	return nil
}

func printRanked(cmd *cobra.Command, heading string, items []insights.RankedItem) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", heading)
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, item := range items {
		examples := ""
		if len(item.ExampleCallIDs) > 0 {
			examples = strings.Join(item.ExampleCallIDs, ", ")
		}
		fmt.Fprintf(w, "  %s\t%d\t%s\t%s\n", item.Name, item.Count, item.Trend, examples)
	}
	w.Flush()
}

func runInsightsExport(cmd *cobra.Command, args []string) error {
	day, err := parseDay(args[0])
	if err != nil {
		return err
	}

	agg, err := insightStore.Get(cmd.Context(), day, insights.PeriodDaily)
	if err != nil {
		if errors.IsNotFound(err) {
			return fmt.Errorf("no aggregate stored for %s, run \"insights compute %s\" first", args[0], args[0])
		}
		return err
	}

	var uploader insights.ReportUploader
	if exportSlackChannel != "" {
		if appConfig.Alerting.SlackToken == "" {
			return fmt.Errorf("--slack-channel requires a Slack token in the configuration")
		}
		client := slack.New(appConfig.Alerting.SlackToken)
		uploader = insights.NewSlackReportUploader(logger, client, exportSlackChannel)
	}

	exporter := insights.NewExporter(logger, uploader)
	if err := exporter.Export(cmd.Context(), agg, exportOut); err != nil {
		return err
	}

	fmt.Printf("Exported %s to %s\n", agg.PeriodKey(), exportOut)
	if exportSlackChannel != "" {
		fmt.Printf("Shared to Slack channel %s\n", exportSlackChannel)
	}
	return nil
}

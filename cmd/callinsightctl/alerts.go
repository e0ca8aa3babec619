package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"callinsight-server/pkg/alerting"
)

var (
	alertsListStatus string
	alertsListLimit  int
	alertsAckBy      string
	alertsNotes      string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and work quality and metric alerts",
	Long: `Alerts are raised by the server when a call's analysis requires review
or a rolling metric crosses its threshold. They stay open until someone
acknowledges, resolves, or ignores them here.

Examples:
  callinsightctl alerts list
  callinsightctl alerts list --status acknowledged --limit 20
  callinsightctl alerts ack alert-7f3a --by dana
  callinsightctl alerts resolve alert-7f3a --notes "provider outage, calls replayed"
  callinsightctl alerts ignore alert-7f3a`,
	RunE: runAlertsList,
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts by status",
	RunE:  runAlertsList,
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an open alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsAck,
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Resolve an open or acknowledged alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsResolve,
}

var alertsIgnoreCmd = &cobra.Command{
	Use:   "ignore <alert-id>",
	Short: "Close an alert as not actionable",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsIgnore,
}

func init() {
	alertsCmd.Flags().StringVar(&alertsListStatus, "status", "open", "alert status to list")
	alertsCmd.Flags().IntVar(&alertsListLimit, "limit", 50, "max alerts to list")
	alertsListCmd.Flags().StringVar(&alertsListStatus, "status", "open", "alert status to list")
	alertsListCmd.Flags().IntVar(&alertsListLimit, "limit", 50, "max alerts to list")

	alertsAckCmd.Flags().StringVar(&alertsAckBy, "by", "", "who is acknowledging (required)")
	alertsAckCmd.MarkFlagRequired("by")

	alertsResolveCmd.Flags().StringVar(&alertsNotes, "notes", "", "resolution notes")

	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsAckCmd)
	alertsCmd.AddCommand(alertsResolveCmd)
	alertsCmd.AddCommand(alertsIgnoreCmd)
}

func runAlertsList(cmd *cobra.Command, args []string) error {
	status := alerting.AlertStatus(strings.ToLower(alertsListStatus))
	switch status {
	case alerting.AlertStatusOpen, alerting.AlertStatusAcknowledged,
		alerting.AlertStatusResolved, alerting.AlertStatusIgnored:
	default:
		return fmt.Errorf("unknown alert status %q", alertsListStatus)
	}

	alerts, err := alertEngine.List(cmd.Context(), status, alertsListLimit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Printf("No %s alerts.\n", status)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ALERT ID\tTYPE\tSEVERITY\tTRIGGERED\tTITLE")
	for _, a := range alerts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			a.AlertID, a.Type, a.Severity,
			a.TriggeredAt.UTC().Format("2006-01-02 15:04"), a.Title)
	}
	return w.Flush()
}

func runAlertsAck(cmd *cobra.Command, args []string) error {
	alert, err := alertEngine.Acknowledge(cmd.Context(), args[0], alertsAckBy)
	if err != nil {
		return err
	}
	fmt.Printf("Alert %s acknowledged by %s\n", alert.AlertID, alert.AcknowledgedBy)
	return nil
}

func runAlertsResolve(cmd *cobra.Command, args []string) error {
	alert, err := alertEngine.Resolve(cmd.Context(), args[0], alertsNotes)
	if err != nil {
		return err
	}
	fmt.Printf("Alert %s resolved\n", alert.AlertID)
	if alert.ResolutionNotes != "" {
		fmt.Printf("Notes: %s\n", alert.ResolutionNotes)
	}
	return nil
}

func runAlertsIgnore(cmd *cobra.Command, args []string) error {
	alert, err := alertEngine.Ignore(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Alert %s ignored\n", alert.AlertID)
	return nil
}

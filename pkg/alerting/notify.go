package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/version"
)

// SlackNotifier posts alerts to a Slack channel as attachment messages.
type SlackNotifier struct {
	logger  *logrus.Entry
	client  *slack.Client
	channel string
}

// NewSlackNotifier creates a notifier over an already constructed Slack
// client.
func NewSlackNotifier(logger *logrus.Logger, client *slack.Client, channel string) *SlackNotifier {
	return &SlackNotifier{
		logger:  logger.WithField("component", "slack_notifier"),
		client:  client,
		channel: channel,
	}
}

func (n *SlackNotifier) Name() string {
	return "slack"
}

func (n *SlackNotifier) Notify(ctx context.Context, alert *Alert) error {
	if n.client == nil || n.channel == "" {
		return errors.New("slack notifier is not configured")
	}

	fields := []slack.AttachmentField{
		{Title: "Severity", Value: string(alert.Severity), Short: true},
		{Title: "Type", Value: string(alert.Type), Short: true},
	}
	if alert.Type == AlertTypeMetric {
		fields = append(fields,
			slack.AttachmentField{Title: "Metric", Value: alert.MetricName, Short: true},
			slack.AttachmentField{Title: "Value", Value: fmt.Sprintf("%.2f (threshold %.2f)", alert.MetricValue, alert.ThresholdValue), Short: true},
			slack.AttachmentField{Title: "Period", Value: alert.Period, Short: true},
		)
	}
	if len(alert.CallIDs) > 0 {
		fields = append(fields, slack.AttachmentField{
			Title: "Calls",
			Value: strings.Join(alert.CallIDs, ", "),
			Short: false,
		})
	}

	attachment := slack.Attachment{
		Color:  slackColor(alert.Severity),
		Title:  alert.Title,
		Text:   alert.Description,
		Fields: fields,
		Footer: alert.AlertID,
		Ts:     json.Number(fmt.Sprintf("%d", alert.TriggeredAt.Unix())),
	}

	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(alert.Title, false),
		slack.MsgOptionAttachments(attachment),
	)
	if err != nil {
		return errors.Wrap(err, "failed to post alert to slack",
			map[string]interface{}{"alert_id": alert.AlertID, "channel": n.channel})
	}
	return nil
}

func slackColor(severity call.Severity) string {
	switch severity {
	case call.SeverityCritical, call.SeverityHigh:
		return "danger"
	case call.SeverityMedium:
		return "warning"
	default:
		return "#439FE0"
	}
}

// WebhookNotifier delivers alerts as JSON to an arbitrary HTTP endpoint.
type WebhookNotifier struct {
	logger *logrus.Entry
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier for the given URL.
func NewWebhookNotifier(logger *logrus.Logger, url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		logger: logger.WithField("component", "webhook_notifier"),
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (n *WebhookNotifier) Name() string {
	return "webhook"
}

func (n *WebhookNotifier) Notify(ctx context.Context, alert *Alert) error {
	if n.url == "" {
		return errors.New("webhook notifier is not configured")
	}

	payload := struct {
		Alert     *Alert `json:"alert"`
		Timestamp int64  `json:"timestamp"`
	}{Alert: alert, Timestamp: time.Now().Unix()}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.WrapPermanent(err, "failed to marshal alert payload",
			map[string]interface{}{"alert_id": alert.AlertID})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to deliver alert webhook",
			map[string]interface{}{"alert_id": alert.AlertID})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New(fmt.Sprintf("alert webhook returned status %d", resp.StatusCode),
			map[string]interface{}{"alert_id": alert.AlertID})
	}
	return nil
}

var (
	_ Notifier = (*SlackNotifier)(nil)
	_ Notifier = (*WebhookNotifier)(nil)
)

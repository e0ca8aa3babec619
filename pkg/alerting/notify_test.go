package alerting

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callinsight-server/pkg/call"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func sampleAlert() *Alert {
	now := time.Now().UTC()
	return &Alert{
		AlertID:     "alert-42",
		Type:        AlertTypeQuality,
		Severity:    call.SeverityHigh,
		Status:      AlertStatusOpen,
		Title:       "Call c-7 flagged for review",
		Description: "Quality low (score 0.40): analysis carries no summary",
		CallIDs:     []string{"c-7"},
		TriggeredAt: now,
		UpdatedAt:   now,
	}
}

func TestWebhookNotifierPostsAlert(t *testing.T) {
	var (
		mu          sync.Mutex
		gotMethod   string
		gotType     string
		gotPayload  map[string]json.RawMessage
		gotRequests int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		mu.Lock()
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		require.NoError(t, json.Unmarshal(body, &gotPayload))
		gotRequests++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	notifier := NewWebhookNotifier(newTestLogger(), server.URL, time.Second)
	require.NoError(t, notifier.Notify(context.Background(), sampleAlert()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, gotRequests)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotType)

	var delivered Alert
	require.NoError(t, json.Unmarshal(gotPayload["alert"], &delivered))
	assert.Equal(t, "alert-42", delivered.AlertID)
	assert.Equal(t, AlertTypeQuality, delivered.Type)

	var ts int64
	require.NoError(t, json.Unmarshal(gotPayload["timestamp"], &ts))
	assert.Greater(t, ts, int64(0))
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	notifier := NewWebhookNotifier(newTestLogger(), server.URL, time.Second)
	err := notifier.Notify(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestWebhookNotifierSurfacesTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	notifier := NewWebhookNotifier(newTestLogger(), server.URL, time.Second)
	err := notifier.Notify(context.Background(), sampleAlert())
	require.Error(t, err)
}

func TestWebhookNotifierRequiresURL(t *testing.T) {
	notifier := NewWebhookNotifier(newTestLogger(), "", time.Second)
	require.Error(t, notifier.Notify(context.Background(), sampleAlert()))
}

// newMockSlackAPI stands up a Slack-shaped HTTP server and a client
// pointed at it, capturing chat.postMessage form payloads.
func newMockSlackAPI(t *testing.T) (*slack.Client, *sync.Map, *int) {
	t.Helper()

	postCalls := 0
	var captured sync.Map
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/")
		switch path {
		case "chat.postMessage":
			require.NoError(t, r.ParseForm())
			postCalls++
			captured.Store("channel", r.Form.Get("channel"))
			captured.Store("text", r.Form.Get("text"))
			captured.Store("attachments", r.Form.Get("attachments"))
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": r.Form.Get("channel")})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		}
	}))
	t.Cleanup(server.Close)

	api := slack.New("xoxb-test", slack.OptionAPIURL(server.URL+"/api/"))
	return api, &captured, &postCalls
}

func TestSlackNotifierPostsAttachment(t *testing.T) {
	api, captured, postCalls := newMockSlackAPI(t)
	notifier := NewSlackNotifier(newTestLogger(), api, "C0REVIEW")

	alert := sampleAlert()
	alert.Type = AlertTypeMetric
	alert.MetricName = "failure_rate"
	alert.MetricValue = 0.35
	alert.ThresholdValue = 0.2
	alert.Period = "2025-08-24/daily"

	require.NoError(t, notifier.Notify(context.Background(), alert))
	assert.Equal(t, 1, *postCalls)

	channel, _ := captured.Load("channel")
	assert.Equal(t, "C0REVIEW", channel)
	text, _ := captured.Load("text")
	assert.Equal(t, alert.Title, text)

	attachments, ok := captured.Load("attachments")
	require.True(t, ok)
	raw := attachments.(string)
	assert.Contains(t, raw, "failure_rate")
	assert.Contains(t, raw, "danger")
	assert.Contains(t, raw, "2025-08-24/daily")
	assert.Contains(t, raw, alert.AlertID)
}

func TestSlackNotifierSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	}))
	t.Cleanup(server.Close)

	api := slack.New("xoxb-test", slack.OptionAPIURL(server.URL+"/api/"))
	notifier := NewSlackNotifier(newTestLogger(), api, "C0MISSING")

	err := notifier.Notify(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestSlackNotifierRequiresConfiguration(t *testing.T) {
	notifier := NewSlackNotifier(newTestLogger(), nil, "")
	require.Error(t, notifier.Notify(context.Background(), sampleAlert()))
}

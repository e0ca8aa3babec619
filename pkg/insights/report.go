package insights

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/xuri/excelize/v2"

	"callinsight-server/pkg/errors"
)

const (
	sheetOverview   = "Overview"
	sheetPainPoints = "Pain Points"
	sheetObjections = "Objections"
	sheetTopics     = "Topics"
	sheetEntities   = "Entities"
)

// ReportUploader delivers a rendered report file to a sharing channel.
type ReportUploader interface {
	UploadReport(ctx context.Context, path, title, comment string) error
}

// Exporter renders a period's aggregate to an XLSX workbook with an
// overview sheet and one sheet per ranked list.
type Exporter struct {
	logger   *logrus.Entry
	uploader ReportUploader
}

// NewExporter creates an exporter. The uploader may be nil; Export then
// only writes the local file.
func NewExporter(logger *logrus.Logger, uploader ReportUploader) *Exporter {
	return &Exporter{
		logger:   logger.WithField("component", "insights_exporter"),
		uploader: uploader,
	}
}

// Export writes the aggregate's workbook to path and, when an uploader
// is wired, shares it with a one-line summary.
func (e *Exporter) Export(ctx context.Context, agg *Aggregate, path string) error {
	f, err := buildWorkbook(agg)
	if err != nil {
		return err
	}
	defer f.Close()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "failed to create report directory",
				map[string]interface{}{"dir": dir})
		}
	}
	if err := f.SaveAs(path); err != nil {
		return errors.Wrap(err, "failed to write report workbook",
			map[string]interface{}{"path": path})
	}
	e.logger.WithFields(logrus.Fields{
		"period": agg.PeriodKey(),
		"path":   path,
	}).Info("Insight report written")

	if e.uploader == nil {
		return nil
	}
	title := fmt.Sprintf("Call insights %s", agg.PeriodStart.Format("2006-01-02"))
	comment := summarize(agg)
	if err := e.uploader.UploadReport(ctx, path, title, comment); err != nil {
		return err
	}
	return nil
}

func buildWorkbook(agg *Aggregate) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetOverview); err != nil {
		return nil, errors.Wrap(err, "failed to name overview sheet")
	}

	rows := [][]interface{}{
		{"Period", agg.PeriodKey()},
		{"Total calls", agg.TotalCalls},
		{"Analyzed calls", agg.AnalyzedCalls},
		{"Failed calls", agg.FailedCalls},
		{"Failure rate", fmt.Sprintf("%.1f%%", agg.FailureRate*100)},
		{"Average quality score", fmt.Sprintf("%.2f", agg.AverageQualityScore)},
		{"Average sentiment score", fmt.Sprintf("%.2f", agg.AverageSentimentScore)},
		{"Computed at", agg.ComputedAt.Format("2006-01-02 15:04:05 UTC")},
		{},
		{"Sentiment", "Calls", "Share"},
	}
	for _, label := range sortedLabels(agg.Sentiment.Counts) {
		rows = append(rows, []interface{}{
			label,
			agg.Sentiment.Counts[label],
			fmt.Sprintf("%.1f%%", agg.Sentiment.Percentages[label]),
		})
	}
	for i, row := range rows {
		cell := fmt.Sprintf("A%d", i+1)
		if err := f.SetSheetRow(sheetOverview, cell, &row); err != nil {
			return nil, errors.Wrap(err, "failed to write overview row")
		}
	}

	ranked := []struct {
		sheet string
		items []RankedItem
	}{
		{sheetPainPoints, agg.PainPoints},
		{sheetObjections, agg.Objections},
		{sheetTopics, agg.Topics},
		{sheetEntities, agg.Entities},
	}
	for _, r := range ranked {
		if err := writeRankedSheet(f, r.sheet, r.items); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func writeRankedSheet(f *excelize.File, sheet string, items []RankedItem) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return errors.Wrap(err, "failed to create sheet",
			map[string]interface{}{"sheet": sheet})
	}

	header := []interface{}{"Name", "Mentions", "Trend", "Example calls"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return errors.Wrap(err, "failed to write sheet header",
			map[string]interface{}{"sheet": sheet})
	}
	for i, item := range items {
		row := []interface{}{
			item.Name,
			item.Count,
			string(item.Trend),
			strings.Join(item.ExampleCallIDs, ", "),
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return errors.Wrap(err, "failed to write sheet row",
				map[string]interface{}{"sheet": sheet})
		}
	}
	return nil
}

func sortedLabels(counts map[string]int) []string {
	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func summarize(agg *Aggregate) string {
	return fmt.Sprintf("%d calls analyzed, %d failed (%.1f%% failure rate), average quality %.2f",
		agg.AnalyzedCalls, agg.FailedCalls, agg.FailureRate*100, agg.AverageQualityScore)
}

// SlackReportUploader shares report workbooks in a Slack channel.
type SlackReportUploader struct {
	logger  *logrus.Entry
	client  *slack.Client
	channel string
}

// NewSlackReportUploader creates an uploader over an already
// constructed Slack client.
func NewSlackReportUploader(logger *logrus.Logger, client *slack.Client, channel string) *SlackReportUploader {
	return &SlackReportUploader{
		logger:  logger.WithField("component", "report_uploader"),
		client:  client,
		channel: channel,
	}
}

func (u *SlackReportUploader) UploadReport(ctx context.Context, path, title, comment string) error {
	if u.client == nil || u.channel == "" {
		return errors.New("slack report uploader is not configured")
	}

	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, "failed to stat report file",
			map[string]interface{}{"path": path})
	}

	_, err = u.client.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		File:           path,
		FileSize:       int(info.Size()),
		Filename:       filepath.Base(path),
		Channel:        u.channel,
		Title:          title,
		InitialComment: comment,
	})
	if err != nil {
		return errors.Wrap(err, "failed to upload report to slack",
			map[string]interface{}{"path": path, "channel": u.channel})
	}

	u.logger.WithFields(logrus.Fields{
		"path":    path,
		"channel": u.channel,
	}).Info("Insight report shared")
	return nil
}

var _ ReportUploader = (*SlackReportUploader)(nil)

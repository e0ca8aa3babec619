package insights

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleAggregate() *Aggregate {
	return &Aggregate{
		PeriodStart:   testDay,
		PeriodType:    PeriodDaily,
		TotalCalls:    4,
		AnalyzedCalls: 3,
		FailedCalls:   1,
		Sentiment: SentimentDistribution{
			Counts:      map[string]int{"positive": 2, "negative": 1},
			Percentages: map[string]float64{"positive": 66.7, "negative": 33.3},
		},
		AverageSentimentScore: 0.3,
		AverageQualityScore:   0.73,
		FailureRate:           0.25,
		PainPoints: []RankedItem{
			{Name: "Slow dashboard loading", Count: 2, Trend: TrendNew, ExampleCallIDs: []string{"c-01", "c-02"}},
			{Name: "Confusing invoices", Count: 1, Trend: TrendNew, ExampleCallIDs: []string{"c-02"}},
		},
		Topics:     []RankedItem{{Name: "renewal", Count: 2, Trend: TrendIncreasing}},
		Entities:   []RankedItem{{Name: "Acme Manufacturing", Count: 3, Trend: TrendStable}},
		ComputedAt: time.Date(2026, 8, 25, 0, 10, 0, 0, time.UTC),
	}
}

type fakeUploader struct {
	path    string
	title   string
	comment string
	err     error
}

func (u *fakeUploader) UploadReport(ctx context.Context, path, title, comment string) error {
	if u.err != nil {
		return u.err
	}
	u.path = path
	u.title = title
	u.comment = comment
	return nil
}

func TestExportWritesWorkbook(t *testing.T) {
	exporter := NewExporter(newTestLogger(), nil)
	path := filepath.Join(t.TempDir(), "insights-2026-08-24.xlsx")

	require.NoError(t, exporter.Export(context.Background(), sampleAggregate(), path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	sheets := f.GetSheetList()
	assert.ElementsMatch(t, []string{sheetOverview, sheetPainPoints, sheetObjections, sheetTopics, sheetEntities}, sheets)

	overview, err := f.GetRows(sheetOverview)
	require.NoError(t, err)
	require.NotEmpty(t, overview)
	assert.Equal(t, []string{"Period", "2026-08-24/daily"}, overview[0])

	flat := map[string]string{}
	for _, row := range overview {
		if len(row) >= 2 {
			flat[row[0]] = row[1]
		}
	}
	assert.Equal(t, "4", flat["Total calls"])
	assert.Equal(t, "1", flat["Failed calls"])
	assert.Equal(t, "25.0%", flat["Failure rate"])
	assert.Equal(t, "1", flat["negative"])
	assert.Equal(t, "2", flat["positive"])

	pains, err := f.GetRows(sheetPainPoints)
	require.NoError(t, err)
	require.Len(t, pains, 3)
	assert.Equal(t, []string{"Name", "Mentions", "Trend", "Example calls"}, pains[0])
	assert.Equal(t, []string{"Slow dashboard loading", "2", "new", "c-01, c-02"}, pains[1])

	objections, err := f.GetRows(sheetObjections)
	require.NoError(t, err)
	require.Len(t, objections, 1, "empty ranked lists still render a header sheet")
}

func TestExportSharesReportWhenUploaderWired(t *testing.T) {
	uploader := &fakeUploader{}
	exporter := NewExporter(newTestLogger(), uploader)
	path := filepath.Join(t.TempDir(), "insights.xlsx")

	require.NoError(t, exporter.Export(context.Background(), sampleAggregate(), path))

	assert.Equal(t, path, uploader.path)
	assert.Equal(t, "Call insights 2026-08-24", uploader.title)
	assert.Contains(t, uploader.comment, "3 calls analyzed")
	assert.Contains(t, uploader.comment, "25.0% failure rate")
}

func TestExportSurfacesUploaderError(t *testing.T) {
	uploader := &fakeUploader{err: fmt.Errorf("channel archived")}
	exporter := NewExporter(newTestLogger(), uploader)
	path := filepath.Join(t.TempDir(), "insights.xlsx")

	err := exporter.Export(context.Background(), sampleAggregate(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel archived")
}

func TestSlackReportUploaderRequiresConfiguration(t *testing.T) {
	uploader := NewSlackReportUploader(newTestLogger(), nil, "")
	err := uploader.UploadReport(context.Background(), "report.xlsx", "t", "c")
	require.Error(t, err)
}

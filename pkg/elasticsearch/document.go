package elasticsearch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/errors"
)

// InsightDocument is the searchable projection of an analyzed call. The
// vector field carries the transcript embedding for kNN queries.
type InsightDocument struct {
	CallID          string    `json:"call_id"`
	Summary         string    `json:"summary,omitempty"`
	Topics          []string  `json:"topics,omitempty"`
	Sentiment       string    `json:"sentiment,omitempty"`
	SentimentScore  float64   `json:"sentiment_score"`
	QualityLevel    string    `json:"quality_level,omitempty"`
	QualityScore    float64   `json:"quality_score"`
	CallType        string    `json:"call_type,omitempty"`
	CallOutcome     string    `json:"call_outcome,omitempty"`
	Language        string    `json:"language,omitempty"`
	WordCount       int       `json:"word_count"`
	Vector          []float32 `json:"vector,omitempty"`
	EmbeddingModel  string    `json:"embedding_model,omitempty"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
}

// NewInsightDocument projects a call record and its embedding into the
// index shape. The record is expected to be analyzed; missing analysis
// sections simply leave their fields empty.
func NewInsightDocument(record *call.Call, vector []float32, model string) InsightDocument {
	doc := InsightDocument{
		CallID:         record.CallID,
		Vector:         vector,
		EmbeddingModel: model,
		AnalyzedAt:     record.UpdatedAt,
	}

	if record.Transcript != nil {
		doc.Language = record.Transcript.Language
		doc.WordCount = record.Transcript.WordCount
	}

	if record.Analysis != nil {
		doc.Summary = record.Analysis.Summary
		doc.CallType = record.Analysis.CallType
		doc.CallOutcome = record.Analysis.CallOutcome
		if record.Analysis.Sentiment != nil {
			doc.Sentiment = record.Analysis.Sentiment.Overall
			doc.SentimentScore = record.Analysis.Sentiment.Score
		}
		for _, topic := range record.Analysis.KeyTopics {
			doc.Topics = append(doc.Topics, topic.Topic)
		}
	}

	if record.Quality != nil {
		doc.QualityLevel = string(record.Quality.QualityLevel)
		doc.QualityScore = record.Quality.QualityScore
	}

	return doc
}

// Indexer writes insight documents to one configured index.
type Indexer struct {
	logger *logrus.Entry
	client *Client
	index  string
}

// NewIndexer creates an indexer bound to the configured index name.
func NewIndexer(logger *logrus.Logger, client *Client, index string) *Indexer {
	return &Indexer{
		logger: logger.WithField("component", "es_indexer"),
		client: client,
		index:  index,
	}
}

// IndexAnalyzedCall writes the document keyed by call_id, so retries of
// the embedding task converge on a single document.
func (ix *Indexer) IndexAnalyzedCall(ctx context.Context, record *call.Call, vector []float32, model string) error {
	if record == nil {
		return errors.NewInvalidInput("cannot index a nil call record")
	}

	doc := NewInsightDocument(record, vector, model)
	if err := ix.client.IndexDocument(ctx, ix.index, record.CallID, doc); err != nil {
		return err
	}

	ix.logger.WithFields(logrus.Fields{
		"call_id":   record.CallID,
		"index":     ix.index,
		"dimension": len(vector),
	}).Debug("Indexed analyzed call")

	return nil
}

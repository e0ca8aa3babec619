package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/errors"
)

type stubTranscriber struct {
	transcript *call.Transcript
	err        error

	mu    sync.Mutex
	calls int
}

func (s *stubTranscriber) Transcribe(ctx context.Context, providerName, audioRef, callID string) (*call.Transcript, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.transcript, s.err
}

func (s *stubTranscriber) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubAnalyzer struct {
	analysis *call.Analysis
	err      error
}

func (s *stubAnalyzer) Name() string { return "stub" }

func (s *stubAnalyzer) Analyze(ctx context.Context, transcript *call.Transcript) (*call.Analysis, error) {
	return s.analysis, s.err
}

type stubEmbedder struct {
	vectors [][]float32
	err     error
}

func (s *stubEmbedder) Name() string { return "stub" }

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return s.vectors, s.err
}

type indexedDocument struct {
	callID string
	vector []float32
	model  string
}

type stubIndexer struct {
	err error

	mu      sync.Mutex
	indexed []indexedDocument
}

func (s *stubIndexer) IndexAnalyzedCall(ctx context.Context, record *call.Call, vector []float32, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.indexed = append(s.indexed, indexedDocument{callID: record.CallID, vector: vector, model: model})
	return nil
}

func (s *stubIndexer) documents() []indexedDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]indexedDocument, len(s.indexed))
	copy(out, s.indexed)
	return out
}

func richAnalysis() *call.Analysis {
	return &call.Analysis{
		Summary: "The customer reviewed the renewal pricing, asked how the reporting rollout would affect their team, and agreed to a follow-up demo next week.",
		Sentiment: &call.Sentiment{
			Overall:    "positive",
			Score:      0.6,
			Confidence: 0.9,
		},
		Entities: []call.Entity{
			{Name: "Acme Manufacturing", Type: "organization", Mentions: 3},
		},
		KeyTopics: []call.Topic{
			{Topic: "renewal", Importance: "high"},
			{Topic: "reporting rollout", Importance: "medium"},
		},
		CallType:        "sales",
		CallOutcome:     "positive",
		NextSteps:       []string{"Schedule the demo for next week"},
		EngagementLevel: "high",
	}
}

func transcribingCall() *call.Call {
	return &call.Call{
		CallID:   "call-1",
		Status:   call.StatusTranscribing,
		AudioRef: "s3://recordings/call-1.wav",
		Version:  3,
	}
}

func analyzingCall() *call.Call {
	c := transcribingCall()
	c.Status = call.StatusAnalyzing
	c.Transcript = sampleTranscript()
	c.Version = 4
	return c
}

func analyzedCall() *call.Call {
	c := analyzingCall()
	c.Status = call.StatusAnalyzed
	c.Analysis = richAnalysis()
	c.Version = 5
	return c
}

func TestTranscriptionHandlerPatchesTranscript(t *testing.T) {
	transcriber := &stubTranscriber{transcript: sampleTranscript()}
	handler := NewTranscriptionHandler(newTestLogger(), transcriber, "mock")

	patch, err := handler.Process(context.Background(), transcribingCall())
	require.NoError(t, err)
	require.NotNil(t, patch)
	require.NotNil(t, patch.Transcript)
	assert.Equal(t, 19, patch.Transcript.WordCount)
	assert.Nil(t, patch.Status)
	assert.Equal(t, 1, transcriber.callCount())
}

func TestTranscriptionHandlerRejectsEmptyTranscript(t *testing.T) {
	transcriber := &stubTranscriber{transcript: &call.Transcript{Text: "   "}}
	handler := NewTranscriptionHandler(newTestLogger(), transcriber, "mock")

	_, err := handler.Process(context.Background(), transcribingCall())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestTranscriptionHandlerPropagatesClassifiedError(t *testing.T) {
	transcriber := &stubTranscriber{err: errors.Permanent("unsupported audio codec")}
	handler := NewTranscriptionHandler(newTestLogger(), transcriber, "mock")

	_, err := handler.Process(context.Background(), transcribingCall())
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))
}

func TestAnalysisHandlerRequiresTranscript(t *testing.T) {
	handler := NewAnalysisHandler(newTestLogger(), &stubAnalyzer{analysis: richAnalysis()})

	record := transcribingCall()
	record.Status = call.StatusAnalyzing

	_, err := handler.Process(context.Background(), record)
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))
}

func TestAnalysisHandlerAttachesQualityVerdict(t *testing.T) {
	handler := NewAnalysisHandler(newTestLogger(), &stubAnalyzer{analysis: richAnalysis()})

	patch, err := handler.Process(context.Background(), analyzingCall())
	require.NoError(t, err)
	require.NotNil(t, patch)
	require.NotNil(t, patch.Analysis)
	require.NotNil(t, patch.Quality)

	assert.Equal(t, call.QualityHigh, patch.Quality.QualityLevel)
	assert.False(t, patch.Quality.RequiresReview)
	assert.GreaterOrEqual(t, patch.Quality.QualityScore, 0.8)
}

func TestAnalysisHandlerFlagsThinResultForReview(t *testing.T) {
	// A result with no summary and no sentiment is exactly what review
	// queues exist for; the verdict must travel in the same patch.
	handler := NewAnalysisHandler(newTestLogger(), &stubAnalyzer{analysis: &call.Analysis{}})

	patch, err := handler.Process(context.Background(), analyzingCall())
	require.NoError(t, err)
	require.NotNil(t, patch.Quality)

	assert.Equal(t, call.QualityLow, patch.Quality.QualityLevel)
	assert.True(t, patch.Quality.RequiresReview)
	assert.True(t, patch.Quality.AlertTriggered)
}

func TestAnalysisHandlerCircuitOpensAfterRepeatedFailures(t *testing.T) {
	analyzer := &stubAnalyzer{err: errors.Transient("model overloaded")}
	handler := NewAnalysisHandler(newTestLogger(), analyzer)
	record := analyzingCall()

	// Analysis circuit opens after three consecutive failures.
	for i := 0; i < 3; i++ {
		_, err := handler.Process(context.Background(), record)
		require.Error(t, err)
	}

	_, err := handler.Process(context.Background(), record)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Contains(t, err.Error(), "open circuit")
}

func TestEmbeddingHandlerIndexesWithoutTransition(t *testing.T) {
	embedder := &stubEmbedder{vectors: [][]float32{{0.1, 0.2, 0.3}}}
	indexer := &stubIndexer{}
	handler := NewEmbeddingHandler(newTestLogger(), embedder, indexer, "voyage-3")

	patch, err := handler.Process(context.Background(), analyzedCall())
	require.NoError(t, err)
	assert.Nil(t, patch)

	docs := indexer.documents()
	require.Len(t, docs, 1)
	assert.Equal(t, "call-1", docs[0].callID)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, docs[0].vector)
	assert.Equal(t, "voyage-3", docs[0].model)
}

func TestEmbeddingHandlerRequiresTranscriptText(t *testing.T) {
	handler := NewEmbeddingHandler(newTestLogger(), &stubEmbedder{}, &stubIndexer{}, "voyage-3")

	record := analyzedCall()
	record.Transcript = nil

	_, err := handler.Process(context.Background(), record)
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))
}

func TestEmbeddingHandlerWrongVectorCountIsTransient(t *testing.T) {
	embedder := &stubEmbedder{vectors: [][]float32{{0.1}, {0.2}}}
	handler := NewEmbeddingHandler(newTestLogger(), embedder, &stubIndexer{}, "voyage-3")

	_, err := handler.Process(context.Background(), analyzedCall())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestEmbeddingHandlerPropagatesIndexError(t *testing.T) {
	embedder := &stubEmbedder{vectors: [][]float32{{0.1, 0.2}}}
	indexer := &stubIndexer{err: errors.Transient("elasticsearch unreachable")}
	handler := NewEmbeddingHandler(newTestLogger(), embedder, indexer, "voyage-3")

	_, err := handler.Process(context.Background(), analyzedCall())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

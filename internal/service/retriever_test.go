package service

import (
	"context"
	"errors"
	"testing"

	"github.com/jchen/finsight/internal/repository"
)

type stubEmbedder struct {
	vector   []float32
	err      error
	failures int // fail this many calls before succeeding
	calls    int
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("embed timeout")
	}
	return s.vector, s.err
}

type stubSearcher struct {
	results []repository.SearchResult
	err     error
	gotTopK int
}

func (s *stubSearcher) Search(_ context.Context, _ []float32, topK int, _ []string) ([]repository.SearchResult, error) {
	s.gotTopK = topK
	return s.results, s.err
}

func TestRetrieveReturnsSegments(t *testing.T) {
	searcher := &stubSearcher{results: []repository.SearchResult{
		{ID: "p1", Score: 0.9, Payload: &repository.SegmentPayload{DocumentID: "doc-1", Filename: "a.pdf", Text: "rent payment"}},
		{ID: "p2", Score: 0.4, Payload: &repository.SegmentPayload{DocumentID: "doc-2", Filename: "b.pdf", Text: "gst filing"}},
	}}
	r := NewContextRetriever(&stubEmbedder{vector: []float32{0.1}}, searcher, 0)

	segments, err := r.Retrieve(context.Background(), "tax deadlines", 5)
	if err != nil {
		t.Fatalf("Retrieve() failed: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(segments))
	}
	if searcher.gotTopK != 5 {
		t.Errorf("topK = %d, want 5", searcher.gotTopK)
	}
	if segments[0].Text != "rent payment" || segments[0].DocumentID != "doc-1" {
		t.Errorf("unexpected first segment: %+v", segments[0])
	}
}

func TestRetrieveAppliesScoreThreshold(t *testing.T) {
	searcher := &stubSearcher{results: []repository.SearchResult{
		{ID: "p1", Score: 0.9, Payload: &repository.SegmentPayload{Text: "keep"}},
		{ID: "p2", Score: 0.2, Payload: &repository.SegmentPayload{Text: "drop"}},
	}}
	r := NewContextRetriever(&stubEmbedder{vector: []float32{0.1}}, searcher, 0.5)

	segments, err := r.Retrieve(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("Retrieve() failed: %v", err)
	}
	if len(segments) != 1 || segments[0].Text != "keep" {
		t.Errorf("threshold filtering wrong: %+v", segments)
	}
}

func TestRetrieveEmptyIndex(t *testing.T) {
	r := NewContextRetriever(&stubEmbedder{vector: []float32{0.1}}, &stubSearcher{}, 0)

	segments, err := r.Retrieve(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("empty index must not error: %v", err)
	}
	if len(segments) != 0 {
		t.Errorf("segments = %d, want 0", len(segments))
	}
}

func TestRetrieveRetriesEmbeddingOnce(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{0.1}, failures: 1}
	searcher := &stubSearcher{results: []repository.SearchResult{
		{ID: "p1", Score: 0.9, Payload: &repository.SegmentPayload{Text: "recovered"}},
	}}
	r := NewContextRetriever(embedder, searcher, 0)

	segments, err := r.Retrieve(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("one embed failure must be retried, got: %v", err)
	}
	if len(segments) != 1 {
		t.Errorf("segments = %d, want 1", len(segments))
	}
	if embedder.calls != 2 {
		t.Errorf("embed calls = %d, want 2", embedder.calls)
	}

	// A second consecutive failure surfaces; there is exactly one retry.
	embedder = &stubEmbedder{vector: []float32{0.1}, failures: 2}
	r = NewContextRetriever(embedder, searcher, 0)
	if _, err := r.Retrieve(context.Background(), "q", 5); err == nil {
		t.Error("repeated embed failure must surface as an error")
	}
	if embedder.calls != 2 {
		t.Errorf("embed calls = %d, want 2", embedder.calls)
	}
}

func TestRetrievePropagatesBackendErrors(t *testing.T) {
	r := NewContextRetriever(&stubEmbedder{err: errors.New("jina down")}, &stubSearcher{}, 0)
	if _, err := r.Retrieve(context.Background(), "q", 5); err == nil {
		t.Error("embedder failure must surface as an error")
	}

	r = NewContextRetriever(&stubEmbedder{vector: []float32{0.1}}, &stubSearcher{err: errors.New("qdrant down")}, 0)
	if _, err := r.Retrieve(context.Background(), "q", 5); err == nil {
		t.Error("search failure must surface as an error")
	}
}

func TestRetrieveZeroTopK(t *testing.T) {
	r := NewContextRetriever(&stubEmbedder{vector: []float32{0.1}}, &stubSearcher{}, 0)
	segments, err := r.Retrieve(context.Background(), "q", 0)
	if err != nil || segments != nil {
		t.Errorf("topK 0 must be a no-op, got %v, %v", segments, err)
	}
}

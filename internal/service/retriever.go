package service

import (
	"context"
	"fmt"

	"github.com/jchen/finsight/internal/analysis"
	"github.com/jchen/finsight/internal/logger"
	"github.com/jchen/finsight/internal/repository"
)

// SegmentSearcher is the slice of the vector repository the retriever needs.
type SegmentSearcher interface {
	Search(ctx context.Context, vector []float32, topK int, documentIDs []string) ([]repository.SearchResult, error)
}

// QueryEmbedder is the slice of the embedding service the retriever needs.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// ContextRetriever answers stage information needs from the vector index.
// Implements analysis.Retriever.
type ContextRetriever struct {
	embedder       QueryEmbedder
	index          SegmentSearcher
	scoreThreshold float32
}

// NewContextRetriever creates a retriever over the segment index.
// Parameters:
//   - embedder: query embedding client.
//   - index: segment search backend.
//   - scoreThreshold: minimum similarity score; 0 disables filtering.
// Returns:
//   - *ContextRetriever: configured retriever.
func NewContextRetriever(embedder QueryEmbedder, index SegmentSearcher, scoreThreshold float32) *ContextRetriever {
	return &ContextRetriever{
		embedder:       embedder,
		index:          index,
		scoreThreshold: scoreThreshold,
	}
}

// Retrieve returns up to topK context segments for the query, best first.
// An empty index is a normal result, not an error.
func (r *ContextRetriever) Retrieve(ctx context.Context, query string, topK int) ([]analysis.Segment, error) {
	if topK <= 0 {
		return nil, nil
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		// Embedding calls are idempotent; one retry covers transient faults.
		logger.CtxWarn(ctx, "Query embedding failed, retrying once: %v", err)
		vector, err = r.embedder.EmbedQuery(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
	}

	results, err := r.index.Search(ctx, vector, topK, nil)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	segments := make([]analysis.Segment, 0, len(results))
	for _, res := range results {
		if res.Payload == nil {
			continue
		}
		if r.scoreThreshold > 0 && res.Score < r.scoreThreshold {
			continue
		}
		segments = append(segments, analysis.Segment{
			DocumentID: res.Payload.DocumentID,
			Filename:   res.Payload.Filename,
			Text:       res.Payload.Text,
			Score:      res.Score,
		})
	}

	logger.With(logger.Fields{
		logger.FieldCount: len(segments),
	}).Debug(ctx, "Context retrieval finished")

	return segments, nil
}

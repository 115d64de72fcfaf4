package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jchen/finsight/internal/domain"
	"github.com/jchen/finsight/internal/logger"
	"github.com/jchen/finsight/internal/repository"
)

const (
	// DefaultChunkWords is the segment size in words.
	DefaultChunkWords = 500
	// DefaultChunkOverlap is the word overlap between consecutive segments.
	DefaultChunkOverlap = 50
)

// SegmentUpserter is the slice of the vector repository the indexer needs.
type SegmentUpserter interface {
	Upsert(ctx context.Context, pointID string, vector []float32, payload *repository.SegmentPayload) error
	DeleteByDocument(ctx context.Context, documentID string) error
}

// BatchEmbedder is the slice of the embedding service the indexer needs.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// IndexerService splits document text into overlapping segments, embeds them,
// and upserts them into the vector index.
type IndexerService struct {
	embedder   BatchEmbedder
	index      SegmentUpserter
	chunkWords int
	overlap    int
}

// NewIndexerService creates an indexer with the default chunking parameters.
func NewIndexerService(embedder BatchEmbedder, index SegmentUpserter) *IndexerService {
	return &IndexerService{
		embedder:   embedder,
		index:      index,
		chunkWords: DefaultChunkWords,
		overlap:    DefaultChunkOverlap,
	}
}

// IndexDocument indexes all text of a document, replacing any segments from a
// previous run. Returns the number of segments written.
func (s *IndexerService) IndexDocument(ctx context.Context, doc *domain.Document) (int, error) {
	ctx = logger.SetDocumentID(ctx, doc.ID)

	text := strings.Join(doc.RawText, "\n")
	chunks := ChunkWords(text, s.chunkWords, s.overlap)
	if len(chunks) == 0 {
		logger.CtxInfo(ctx, "Document has no text to index")
		return 0, nil
	}

	vectors, err := s.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed segments: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vectors), len(chunks))
	}

	// Drop stale segments from a previous indexing run before writing.
	if err := s.index.DeleteByDocument(ctx, doc.ID); err != nil {
		return 0, fmt.Errorf("clear previous segments: %w", err)
	}

	for i, chunk := range chunks {
		payload := &repository.SegmentPayload{
			DocumentID:  doc.ID,
			Filename:    doc.Filename,
			ChunkIndex:  i,
			TotalChunks: len(chunks),
			Text:        chunk,
		}
		if err := s.index.Upsert(ctx, uuid.New().String(), vectors[i], payload); err != nil {
			return i, fmt.Errorf("upsert segment %d: %w", i, err)
		}
	}

	logger.With(logger.Fields{
		logger.FieldCount: len(chunks),
	}).Info(ctx, "Document indexed")

	return len(chunks), nil
}

// ChunkWords splits text into segments of at most size words with the given
// overlap between consecutive segments. Overlap must be smaller than size;
// invalid parameters fall back to the defaults.
func ChunkWords(text string, size, overlap int) []string {
	if size <= 0 || overlap < 0 || overlap >= size {
		size = DefaultChunkWords
		overlap = DefaultChunkOverlap
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	step := size - overlap
	for start := 0; start < len(words); start += step {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

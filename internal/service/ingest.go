package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jchen/finsight/internal/domain"
	"github.com/jchen/finsight/internal/logger"
	"github.com/jchen/finsight/internal/storage"
)

// DocumentRegistry is the slice of the document repository the ingest
// service needs.
type DocumentRegistry interface {
	Upsert(ctx context.Context, doc *domain.Document) error
	MarkProcessed(ctx context.Context, id string) error
}

// IngestService registers extracted documents: persists the registry record,
// archives the original file in object storage, and indexes the text into the
// vector store.
type IngestService struct {
	documents DocumentRegistry
	blobs     storage.ObjectStorage
	indexer   *IndexerService
}

// NewIngestService creates a new ingest service.
func NewIngestService(documents DocumentRegistry, blobs storage.ObjectStorage, indexer *IndexerService) *IngestService {
	return &IngestService{
		documents: documents,
		blobs:     blobs,
		indexer:   indexer,
	}
}

// ExtractedDocument is the on-disk input format produced by the upstream
// parsing layer: one JSON file per source document.
type ExtractedDocument struct {
	Filename     string                   `json:"filename"`
	ContentType  string                   `json:"content_type"`
	DocumentType string                   `json:"document_type"`
	Records      []domain.FinancialRecord `json:"records"`
	RawText      []string                 `json:"raw_text"`
}

// IngestFile registers one extracted-content JSON file.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - path: extracted-content JSON file.
//   - originalPath: optional original document to archive alongside.
// Returns:
//   - *domain.Document: the registered document.
//   - error: non-nil if parsing, persistence, archiving, or indexing fails.
func (s *IngestService) IngestFile(ctx context.Context, path, originalPath string) (*domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read extracted content: %w", err)
	}

	var extracted ExtractedDocument
	if err := json.Unmarshal(data, &extracted); err != nil {
		return nil, fmt.Errorf("parse extracted content: %w", err)
	}
	if extracted.Filename == "" {
		extracted.Filename = filepath.Base(path)
	}
	if len(extracted.Records) == 0 && len(extracted.RawText) == 0 {
		return nil, fmt.Errorf("document %s has no records and no text", extracted.Filename)
	}

	doc := &domain.Document{
		ID:           uuid.New().String(),
		Filename:     extracted.Filename,
		ContentType:  extracted.ContentType,
		DocumentType: extracted.DocumentType,
		Records:      domain.RecordArray(extracted.Records),
		RawText:      domain.StringArray(extracted.RawText),
		UploadedAt:   time.Now().UTC(),
	}

	if originalPath != "" {
		key, size, err := s.archive(ctx, doc.ID, originalPath)
		if err != nil {
			return nil, err
		}
		doc.StorageKey = key
		doc.SizeBytes = size
	}

	ctx = logger.SetDocumentID(ctx, doc.ID)
	if err := s.documents.Upsert(ctx, doc); err != nil {
		return nil, fmt.Errorf("register document: %w", err)
	}

	if _, err := s.indexer.IndexDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("index document: %w", err)
	}
	if err := s.documents.MarkProcessed(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("mark document processed: %w", err)
	}
	doc.Processed = true

	logger.CtxInfo(ctx, "Document %s ingested", doc.Filename)
	return doc, nil
}

// archive uploads the original file under a key derived from the document ID.
func (s *IngestService) archive(ctx context.Context, docID, originalPath string) (string, int64, error) {
	raw, err := os.ReadFile(originalPath)
	if err != nil {
		return "", 0, fmt.Errorf("read original document: %w", err)
	}

	key := fmt.Sprintf("documents/%s/%s", docID, filepath.Base(originalPath))
	if err := s.blobs.Upload(ctx, key, bytes.NewReader(raw), int64(len(raw)), "application/octet-stream"); err != nil {
		return "", 0, fmt.Errorf("archive original document: %w", err)
	}
	return key, int64(len(raw)), nil
}

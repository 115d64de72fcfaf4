package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jchen/finsight/internal/domain"
)

// DocumentRepository handles document registry operations.
// Implements analysis.DocumentStore.
type DocumentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new DocumentRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *DocumentRepository: repository instance bound to db.
func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a new document record.
func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

// Upsert creates or updates a document record keyed by ID.
func (r *DocumentRepository) Upsert(ctx context.Context, doc *domain.Document) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(doc).Error
}

// GetByID retrieves a document by its ID.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	var doc domain.Document
	if err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// List retrieves all registered documents ordered by upload time.
func (r *DocumentRepository) List(ctx context.Context, limit int) ([]*domain.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	var docs []*domain.Document
	err := r.db.WithContext(ctx).
		Order("uploaded_at DESC").
		Limit(limit).
		Find(&docs).Error
	return docs, err
}

// MarkProcessed flags a document as indexed into the vector store.
func (r *DocumentRepository) MarkProcessed(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed":  true,
			"updated_at": time.Now().UTC(),
		}).Error
}

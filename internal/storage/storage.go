// Package storage archives original document uploads in S3-compatible object
// storage. The database keeps only the storage key; the bytes live here.
package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the interface for document blob operations
type ObjectStorage interface {
	// Upload uploads an object to storage
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download downloads an object from storage
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete deletes an object from storage
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns the URL for accessing an object
	GetURL(key string) string
}

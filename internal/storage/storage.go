// Package storage persists the working session and the archiving log.
package storage

import (
	"context"
	"time"

	"github.com/hyperjump/archivext/internal/models"
)

// ArchivedEntry records that a record was written to an archive file.
type ArchivedEntry struct {
	ID         string
	Code       string
	File       string
	ArchivedAt time.Time
}

// Storage defines session persistence operations.
type Storage interface {
	// SaveSession replaces the stored session with records, in order.
	SaveSession(ctx context.Context, records []*models.Record) error
	// LoadSession returns the stored session in position order.
	LoadSession(ctx context.Context) ([]*models.Record, error)
	CountRecords(ctx context.Context) (int64, error)

	LogArchived(ctx context.Context, entries []ArchivedEntry) error
	ListArchived(ctx context.Context, limit int) ([]ArchivedEntry, error)
	CountArchived(ctx context.Context) (int64, error)

	Close() error
}

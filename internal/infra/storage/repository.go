package storage

import (
	"context"
	"errors"

	"github.com/vietddude/writer/internal/core/domain"
)

var (
	// ErrRecordNotFound is returned when a record doesn't exist
	ErrRecordNotFound = errors.New("record not found")
)

// RecordRepository persists records and their delivery status
type RecordRepository interface {
	// Create inserts a new record. It reports false, without error, when a
	// record with the same id already exists; the stored record is kept.
	Create(ctx context.Context, rec domain.Record) (bool, error)

	// UpdateStatus stores status and fail count, inserting the record if
	// it is missing
	UpdateStatus(ctx context.Context, rec domain.Record) error

	// Get retrieves a record by id
	Get(ctx context.Context, id string) (domain.Record, error)

	// GetMany retrieves the records that exist among ids
	GetMany(ctx context.Context, ids []string) ([]domain.Record, error)

	// ListPending returns records in Created with fail_count <= maxFailCount,
	// oldest first. limit <= 0 means no limit.
	ListPending(ctx context.Context, maxFailCount, limit int) ([]domain.Record, error)

	// CountByStatus returns the number of records per status
	CountByStatus(ctx context.Context) (map[domain.RecordStatus]int, error)

	// Requeue moves PermanentlyFailed records back to Created with a zero
	// fail count. An empty ids slice requeues every such record.
	Requeue(ctx context.Context, ids []string) (int, error)
}

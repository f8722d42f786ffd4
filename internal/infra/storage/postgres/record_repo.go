package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/vietddude/writer/internal/core/domain"
	"github.com/vietddude/writer/internal/infra/storage"
)

// RecordRepo implements storage.RecordRepository using PostgreSQL.
type RecordRepo struct {
	db *DB
}

var _ storage.RecordRepository = (*RecordRepo)(nil)

// NewRecordRepo creates a new PostgreSQL record repository.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

type recordRow struct {
	ID        string `db:"id"`
	Data      string `db:"data"`
	FailCount int    `db:"fail_count"`
	Status    string `db:"status"`
}

func (r recordRow) toDomain() domain.Record {
	return domain.Record{
		ID:        r.ID,
		Data:      r.Data,
		FailCount: r.FailCount,
		Status:    domain.RecordStatus(r.Status),
	}
}

func toDomain(rows []recordRow) []domain.Record {
	out := make([]domain.Record, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out
}

// Create inserts a record unless its id is taken.
func (r *RecordRepo) Create(ctx context.Context, rec domain.Record) (bool, error) {
	query := `
		INSERT INTO records (id, data, fail_count, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
	`
	status := rec.Status
	if status == "" {
		status = domain.RecordStatusCreated
	}

	res, err := r.db.ExecContext(ctx, query, rec.ID, rec.Data, rec.FailCount, string(status))
	if err != nil {
		return false, fmt.Errorf("failed to create record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to create record: %w", err)
	}
	return n == 1, nil
}

// UpdateStatus upserts status and fail count.
func (r *RecordRepo) UpdateStatus(ctx context.Context, rec domain.Record) error {
	query := `
		INSERT INTO records (id, data, fail_count, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET fail_count = EXCLUDED.fail_count,
		    status = EXCLUDED.status,
		    updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query, rec.ID, rec.Data, rec.FailCount, string(rec.Status))
	if err != nil {
		return fmt.Errorf("failed to update record status: %w", err)
	}
	return nil
}

// Get retrieves a record by id.
func (r *RecordRepo) Get(ctx context.Context, id string) (domain.Record, error) {
	query := `SELECT id, data, fail_count, status FROM records WHERE id = $1`

	var row recordRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, storage.ErrRecordNotFound
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to get record: %w", err)
	}
	return row.toDomain(), nil
}

// GetMany retrieves the records that exist among ids.
func (r *RecordRepo) GetMany(ctx context.Context, ids []string) ([]domain.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT id, data, fail_count, status FROM records WHERE id = ANY($1)`

	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}
	return toDomain(rows), nil
}

// ListPending returns records awaiting submission, oldest first.
func (r *RecordRepo) ListPending(ctx context.Context, maxFailCount, limit int) ([]domain.Record, error) {
	query := `
		SELECT id, data, fail_count, status
		FROM records
		WHERE status = $1 AND fail_count <= $2
		ORDER BY created_at ASC, id ASC
	`
	args := []any{string(domain.RecordStatusCreated), maxFailCount}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list pending records: %w", err)
	}
	return toDomain(rows), nil
}

// CountByStatus returns the number of records per status.
func (r *RecordRepo) CountByStatus(ctx context.Context) (map[domain.RecordStatus]int, error) {
	query := `SELECT status, COUNT(*) AS count FROM records GROUP BY status`

	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	counts := make(map[domain.RecordStatus]int, len(rows))
	for _, row := range rows {
		counts[domain.RecordStatus(row.Status)] = row.Count
	}
	return counts, nil
}

// Requeue moves PermanentlyFailed records back to Created.
func (r *RecordRepo) Requeue(ctx context.Context, ids []string) (int, error) {
	query := `
		UPDATE records
		SET status = $1, fail_count = 0, updated_at = NOW()
		WHERE status = $2
	`
	args := []any{string(domain.RecordStatusCreated), string(domain.RecordStatusPermanentlyFailed)}
	if len(ids) > 0 {
		query += ` AND id = ANY($3)`
		args = append(args, pq.Array(ids))
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to requeue records: %w", err)
	}
	return int(n), nil
}

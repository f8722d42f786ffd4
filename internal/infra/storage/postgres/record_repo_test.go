package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/writer/internal/core/domain"
	"github.com/vietddude/writer/internal/infra/storage"
)

func newMockRepo(t *testing.T) (*RecordRepo, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return NewRecordRepo(&DB{DB: sqlx.NewDb(mockDB, "pgx")}), mock
}

func TestRecordRepo_Create(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO records")).
		WithArgs("rec_1", "data1", 0, "Created").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO records")).
		WithArgs("rec_1", "data1", 0, "Created").
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.Create(ctx, domain.Record{ID: "rec_1", Data: "data1"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Create(ctx, domain.NewRecord("rec_1", "data1"))
	require.NoError(t, err)
	assert.False(t, created)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_UpdateStatus(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE")).
		WithArgs("rec_1", "data1", 2, "Created").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := domain.NewRecord("rec_1", "data1").Transition(domain.RecordStatusCreated, 2)
	require.NoError(t, repo.UpdateStatus(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_Get(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()
	query := regexp.QuoteMeta("SELECT id, data, fail_count, status FROM records WHERE id = $1")

	mock.ExpectQuery(query).
		WithArgs("rec_2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "data", "fail_count", "status"}).
			AddRow("rec_2", "bad", 0, "Invalid"))
	mock.ExpectQuery(query).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "data", "fail_count", "status"}))

	rec, err := repo.Get(ctx, "rec_2")
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStatusInvalid, rec.Status)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_GetMany(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "data", "fail_count", "status"}).
			AddRow("a", "1", 0, "Processed").
			AddRow("b", "2", 4, "PermanentlyFailed"))

	records, err := repo.GetMany(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 4, records[1].FailCount)

	empty, err := repo.GetMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_ListPending(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 AND fail_count <= $2")).
		WithArgs("Created", 3, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "data", "fail_count", "status"}).
			AddRow("a", "1", 0, "Created").
			AddRow("b", "2", 3, "Created"))

	records, err := repo.ListPending(context.Background(), 3, 50)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "b", records[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_CountByStatusAndRequeue(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("Created", 5).
			AddRow("PermanentlyFailed", 2))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE records")).
		WithArgs("Created", "PermanentlyFailed").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("AND id = ANY($3)")).
		WithArgs("Created", "PermanentlyFailed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.RecordStatusPermanentlyFailed])

	n, err := repo.Requeue(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.Requeue(ctx, []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

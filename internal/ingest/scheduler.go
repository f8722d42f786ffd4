package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vietddude/writer/internal/core/domain"
	"github.com/vietddude/writer/internal/durable"
	"github.com/vietddude/writer/internal/infra/storage"
	"github.com/vietddude/writer/internal/metrics"
	"github.com/vietddude/writer/internal/orchestration"
)

// ErrInvalidRecord is returned for records that cannot be scheduled.
var ErrInvalidRecord = errors.New("invalid record")

// Starter starts durable instances.
type Starter interface {
	StartInstance(ctx context.Context, kind, instanceID string, input any) (*durable.Instance, error)
}

// Scheduler turns incoming records and batch requests into orchestrations.
type Scheduler struct {
	engine  Starter
	records storage.RecordRepository
	logger  *slog.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(engine Starter, records storage.RecordRepository, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{engine: engine, records: records, logger: logger.With("component", "ingest")}
}

// ScheduleRecord stores a new record and starts its orchestration. A record
// that is already known keeps its stored state, and its orchestration id
// dedups the start.
func (s *Scheduler) ScheduleRecord(ctx context.Context, rec domain.Record, source string) (*durable.Instance, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}

	created, err := s.records.Create(ctx, domain.NewRecord(rec.ID, rec.Data))
	if err != nil {
		return nil, err
	}

	input := domain.OrchestrationInput{RecordID: rec.ID, RecordData: rec.Data}
	if !created {
		stored, err := s.records.Get(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		input.RecordData = stored.Data
		input.InitialFailCount = stored.FailCount
	}

	inst, err := s.engine.StartInstance(ctx, orchestration.WorkflowProcessRecord, orchestration.RecordInstanceID(rec.ID), input)
	if err != nil {
		return nil, fmt.Errorf("start orchestration for record %s: %w", rec.ID, err)
	}

	metrics.RecordsIngested.WithLabelValues(source).Inc()
	s.logger.Info("record scheduled",
		"record_id", rec.ID,
		"source", source,
		"instance_id", inst.ID,
		"new", created,
	)
	return inst, nil
}

// StartBatch starts a batch coordinator. An empty batchID gets a random
// one. nil records makes the coordinator list pending records itself.
func (s *Scheduler) StartBatch(ctx context.Context, batchID string, records []domain.Record, limit int) (*durable.Instance, error) {
	if batchID == "" {
		batchID = "batch-" + uuid.NewString()
	}
	for _, rec := range records {
		if rec.ID == "" {
			return nil, fmt.Errorf("%w: missing id in batch", ErrInvalidRecord)
		}
	}

	inst, err := s.engine.StartInstance(ctx, orchestration.WorkflowProcessRecords, batchID, domain.BatchInput{
		Records: records,
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("start batch %s: %w", batchID, err)
	}

	s.logger.Info("batch started", "instance_id", inst.ID, "records", len(records))
	return inst, nil
}

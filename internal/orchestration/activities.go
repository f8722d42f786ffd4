package orchestration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/writer/internal/core/domain"
	"github.com/vietddude/writer/internal/durable"
	"github.com/vietddude/writer/internal/infra/storage"
)

const (
	ActivityPostRecord         = "PostRecordActivity"
	ActivityUpdateRecordStatus = "UpdateRecordStatusActivity"
	ActivityListRecords        = "ListRecordsActivity"
)

// Submitter delivers one record to the downstream API. A nil error with a
// non-success outcome is only expected for permanent rejections; other
// failures come back as errors.
type Submitter interface {
	Submit(ctx context.Context, rec domain.Record) (domain.SubmissionOutcome, error)
}

// ActiveLister lists the instances that have not finished yet.
type ActiveLister interface {
	ListActive(ctx context.Context) ([]*durable.Instance, error)
}

// Activities are the side-effecting steps of the orchestrations.
type Activities struct {
	Submitter Submitter
	Records   storage.RecordRepository
	// Instances, when set, keeps listed batches away from records that
	// another record orchestration still owns.
	Instances ActiveLister
}

// PostRecord submits a record. Transient outcomes are turned into errors so
// the in-place retry policy applies to them.
func (a *Activities) PostRecord(ctx context.Context, rec domain.Record) (domain.SubmissionOutcome, error) {
	outcome, err := a.Submitter.Submit(ctx, rec)
	if err != nil {
		return domain.SubmissionOutcome{}, fmt.Errorf("submit record %s: %w", rec.ID, err)
	}
	if outcome.Classify() == domain.OutcomeTransient {
		return domain.SubmissionOutcome{}, fmt.Errorf("submit record %s: status %d: %s",
			rec.ID, outcome.StatusCode, outcome.ErrorDetail)
	}
	return outcome, nil
}

// UpdateRecordStatus persists status and fail count.
func (a *Activities) UpdateRecordStatus(ctx context.Context, rec domain.Record) (bool, error) {
	if err := a.Records.UpdateStatus(ctx, rec); err != nil {
		return false, fmt.Errorf("update status of record %s: %w", rec.ID, err)
	}
	return true, nil
}

// ListRecords returns the records of a batch: the explicit list when one
// was supplied, otherwise the pending records of the repository.
func (a *Activities) ListRecords(ctx context.Context, in domain.BatchInput) ([]domain.Record, error) {
	if in.Records != nil {
		return in.Records, nil
	}
	records, err := a.Records.ListPending(ctx, MaxFailCount, in.Limit)
	if err != nil {
		return nil, fmt.Errorf("list pending records: %w", err)
	}
	if a.Instances == nil || len(records) == 0 {
		return records, nil
	}

	owned, err := a.ownedRecords(ctx)
	if err != nil {
		return nil, err
	}
	free := records[:0]
	for _, rec := range records {
		if !owned[rec.ID] {
			free = append(free, rec)
		}
	}
	return free, nil
}

// ownedRecords returns the ids of records with a record orchestration that
// is still running, suspended or pending.
func (a *Activities) ownedRecords(ctx context.Context) (map[string]bool, error) {
	active, err := a.Instances.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active orchestrations: %w", err)
	}
	owned := make(map[string]bool)
	for _, inst := range active {
		if inst.Kind != WorkflowProcessRecord {
			continue
		}
		var in domain.OrchestrationInput
		if err := json.Unmarshal(inst.Input, &in); err != nil {
			return nil, fmt.Errorf("decode input of %s: %w", inst.ID, err)
		}
		owned[in.RecordID] = true
	}
	return owned, nil
}

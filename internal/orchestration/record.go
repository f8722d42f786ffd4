package orchestration

import (
	"errors"
	"fmt"

	"github.com/vietddude/writer/internal/core/domain"
	"github.com/vietddude/writer/internal/durable"
	"github.com/vietddude/writer/internal/metrics"
)

const (
	WorkflowProcessRecord  = "ProcessSingleRecordWorkflow"
	WorkflowProcessRecords = "ProcessRecordsWorkflow"
)

// RecordInstanceID is the instance id of a standalone record orchestration.
func RecordInstanceID(recordID string) string {
	return "process-record-workflow-" + recordID
}

// ChildInstanceID is the instance id of a record orchestration started by
// a batch.
func ChildInstanceID(batchInstanceID, recordID string) string {
	return batchInstanceID + "-" + recordID
}

// Workflows holds the tunables of both orchestrations.
type Workflows struct {
	SubmissionPolicy durable.RetryPolicy
	StatusPolicy     durable.RetryPolicy
	Backoff          RetryStrategy
}

// NewWorkflows returns workflows with the production retry settings.
func NewWorkflows() *Workflows {
	return &Workflows{
		SubmissionPolicy: SubmissionRetryPolicy,
		StatusPolicy:     StatusRetryPolicy,
		Backoff:          DefaultBackoff(),
	}
}

// ProcessRecord drives one record to a terminal status. Each submission
// round is retried in place by SubmissionPolicy; a round that exhausts it
// counts as one failure and the record waits on a durable timer before the
// next round. Past MaxFailCount failures the record is PermanentlyFailed.
func (w *Workflows) ProcessRecord(wf *durable.Context, in domain.OrchestrationInput) (domain.OrchestrationOutput, error) {
	log := wf.Logger().With("record_id", in.RecordID)
	rec := domain.Record{
		ID:        in.RecordID,
		Data:      in.RecordData,
		FailCount: in.InitialFailCount,
		Status:    domain.RecordStatusCreated,
	}

	if rec.FailCount > MaxFailCount {
		log.Warn("record exhausted its retries before submission",
			"fail_count", rec.FailCount,
			"max_fail_count", MaxFailCount,
		)
		rec = rec.Transition(domain.RecordStatusPermanentlyFailed, rec.FailCount)
		if err := w.persist(wf, rec); err != nil {
			return domain.OrchestrationOutput{}, err
		}
		w.finalized(wf, rec)
		return output(rec), nil
	}

	for rec.FailCount <= MaxFailCount && rec.Status == domain.RecordStatusCreated {
		log.Info("submitting record", "round", rec.FailCount+1, "fail_count", rec.FailCount)

		outcome, err := durable.CallActivity[domain.SubmissionOutcome](
			wf, ActivityPostRecord, rec, durable.WithRetryPolicy(w.SubmissionPolicy),
		)

		var actErr *durable.ActivityError
		switch {
		case errors.As(err, &actErr):
			outcome = domain.SubmissionOutcome{ErrorDetail: actErr.Message}
		case err != nil:
			return domain.OrchestrationOutput{}, err
		}

		switch outcome.Classify() {
		case domain.OutcomeSuccess:
			log.Info("record accepted downstream", "status_code", outcome.StatusCode)
			rec = rec.Transition(domain.RecordStatusProcessed, 0)
			if err := w.persist(wf, rec); err != nil {
				return domain.OrchestrationOutput{}, err
			}

		case domain.OutcomeRejected:
			log.Warn("record rejected downstream", "error", outcome.ErrorDetail)
			rec = rec.Transition(domain.RecordStatusInvalid, 0)
			if err := w.persist(wf, rec); err != nil {
				return domain.OrchestrationOutput{}, err
			}

		default:
			rec = rec.Transition(domain.RecordStatusCreated, rec.FailCount+1)
			if rec.FailCount > MaxFailCount {
				log.Error("record permanently failed",
					"fail_count", rec.FailCount,
					"error", outcome.ErrorDetail,
				)
				rec = rec.Transition(domain.RecordStatusPermanentlyFailed, rec.FailCount)
				if err := w.persist(wf, rec); err != nil {
					return domain.OrchestrationOutput{}, err
				}
				continue
			}

			delay := w.Backoff.GetDelay(rec.FailCount)
			log.Warn("submission round failed, waiting before next round",
				"fail_count", rec.FailCount,
				"delay", delay,
				"error", outcome.ErrorDetail,
			)
			if err := w.persist(wf, rec); err != nil {
				return domain.OrchestrationOutput{}, err
			}
			if err := wf.CreateTimer(delay); err != nil {
				return domain.OrchestrationOutput{}, err
			}
		}
	}

	if err := w.persist(wf, rec); err != nil {
		return domain.OrchestrationOutput{}, err
	}
	log.Info("record orchestration finished", "status", rec.Status, "fail_count", rec.FailCount)
	w.finalized(wf, rec)
	return output(rec), nil
}

func (w *Workflows) persist(wf *durable.Context, rec domain.Record) error {
	_, err := durable.CallActivity[bool](wf, ActivityUpdateRecordStatus, rec, durable.WithRetryPolicy(w.StatusPolicy))
	if err != nil {
		return fmt.Errorf("persist status %s of record %s: %w", rec.Status, rec.ID, err)
	}
	return nil
}

func (w *Workflows) finalized(wf *durable.Context, rec domain.Record) {
	if wf.IsReplaying() {
		return
	}
	metrics.RecordsFinalized.WithLabelValues(string(rec.Status)).Inc()
}

func output(rec domain.Record) domain.OrchestrationOutput {
	return domain.OrchestrationOutput{RecordID: rec.ID, FinalStatus: rec.Status}
}

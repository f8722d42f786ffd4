package orchestration

import (
	"errors"

	"github.com/vietddude/writer/internal/core/domain"
	"github.com/vietddude/writer/internal/durable"
)

// ProcessRecords fans out one record orchestration per record and waits for
// all of them. The batch succeeds once every child is terminal, whatever
// the children's final statuses. A failed listing fails the batch without
// starting any child.
func (w *Workflows) ProcessRecords(wf *durable.Context, in domain.BatchInput) (domain.BatchOutput, error) {
	log := wf.Logger()
	log.Info("starting batch")

	records, err := durable.CallActivity[[]domain.Record](
		wf, ActivityListRecords, in, durable.WithRetryPolicy(durable.NoRetry),
	)
	var actErr *durable.ActivityError
	if errors.As(err, &actErr) {
		log.Error("failed to list records", "error", actErr.Message)
		return domain.BatchOutput{Succeeded: false}, nil
	}
	if err != nil {
		return domain.BatchOutput{}, err
	}

	if len(records) == 0 {
		log.Info("no records to process")
		return domain.BatchOutput{Succeeded: true}, nil
	}
	log.Info("dispatching record orchestrations", "count", len(records))

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		childID := ChildInstanceID(wf.InstanceID(), rec.ID)
		input := domain.OrchestrationInput{
			RecordID:         rec.ID,
			RecordData:       rec.Data,
			InitialFailCount: rec.FailCount,
		}
		if err := durable.StartChild(wf, WorkflowProcessRecord, childID, input); err != nil {
			return domain.BatchOutput{}, err
		}
		ids = append(ids, childID)
	}

	results, err := durable.AwaitAll[domain.OrchestrationOutput](wf, ids)
	if err != nil {
		return domain.BatchOutput{}, err
	}

	out := domain.BatchOutput{
		Succeeded: true,
		Results:   make([]domain.OrchestrationOutput, 0, len(results)),
	}
	for _, r := range results {
		if r.Err != nil {
			log.Error("record orchestration failed", "instance_id", r.InstanceID, "error", r.Err)
			out.Failed = append(out.Failed, r.InstanceID)
			continue
		}
		log.Info("record orchestration completed",
			"record_id", r.Output.RecordID,
			"final_status", r.Output.FinalStatus,
		)
		out.Results = append(out.Results, r.Output)
	}
	log.Info("batch finished", "completed", len(out.Results), "failed", len(out.Failed))
	return out, nil
}

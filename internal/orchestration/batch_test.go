package orchestration_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/vietddude/writer/internal/core/domain"
	"github.com/vietddude/writer/internal/durable"
	"github.com/vietddude/writer/internal/orchestration"
)

func (e *env) runBatch(t *testing.T, batchID string, in domain.BatchInput) domain.BatchOutput {
	t.Helper()
	if _, err := e.engine.StartInstance(context.Background(), orchestration.WorkflowProcessRecords, batchID, in); err != nil {
		t.Fatalf("start batch failed: %v", err)
	}
	e.drain(t)

	inst, err := e.engine.GetInstance(context.Background(), batchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	out, err := durable.Output[domain.BatchOutput](inst)
	if err != nil {
		t.Fatalf("batch did not complete: %v (state %s)", err, inst.State)
	}
	return out
}

func TestProcessRecords_EmptyBatchSucceeds(t *testing.T) {
	e := newEnv(t)

	out := e.runBatch(t, "batch-empty", domain.BatchInput{Records: []domain.Record{}})

	if !out.Succeeded || len(out.Results) != 0 {
		t.Errorf("expected immediate success, got %+v", out)
	}
}

func TestProcessRecords_FanInCompleteness(t *testing.T) {
	e := newEnv(t)
	rng := rand.New(rand.NewSource(7))

	const n = 12
	records := make([]domain.Record, n)
	expected := make(map[string]domain.RecordStatus, n)
	for i := range records {
		id := fmt.Sprintf("rec-%02d", i)
		// Incoming status is ignored.
		records[i] = domain.Record{ID: id, Data: "d", Status: domain.RecordStatusProcessed}

		switch failures := rng.Intn(orchestration.MaxFailCount + 3); {
		case failures == orchestration.MaxFailCount+2:
			e.submitter.Fallback(id, rejected)
			expected[id] = domain.RecordStatusInvalid
		case failures > orchestration.MaxFailCount:
			e.submitter.Fallback(id, unavailable)
			expected[id] = domain.RecordStatusPermanentlyFailed
		default:
			rounds := make([][]step, 0, failures+1)
			for r := 0; r < failures; r++ {
				rounds = append(rounds, failedRound())
			}
			e.submitter.Script(id, script(append(rounds, []step{accepted})...))
			expected[id] = domain.RecordStatusProcessed
		}
	}

	out := e.runBatch(t, "batch-1", domain.BatchInput{Records: records})

	if !out.Succeeded {
		t.Fatal("expected aggregate success")
	}
	if len(out.Results) != n || len(out.Failed) != 0 {
		t.Fatalf("expected %d results, got %d (failed %v)", n, len(out.Results), out.Failed)
	}
	for i, res := range out.Results {
		if res.RecordID != records[i].ID {
			t.Errorf("result %d: expected %s, got %s", i, records[i].ID, res.RecordID)
		}
		if res.FinalStatus != expected[res.RecordID] {
			t.Errorf("%s: expected %s, got %s", res.RecordID, expected[res.RecordID], res.FinalStatus)
		}
		child, err := e.engine.GetInstance(context.Background(), orchestration.ChildInstanceID("batch-1", res.RecordID))
		if err != nil || child.State != durable.StateCompleted {
			t.Errorf("expected completed child for %s, got %v / %v", res.RecordID, child, err)
		}
	}
}

func TestProcessRecords_RestartWithSameIDIsIdempotent(t *testing.T) {
	e := newEnv(t)
	records := []domain.Record{
		domain.NewRecord("a", "1"),
		domain.NewRecord("b", "2"),
	}
	e.submitter.Script("a", script(failedRound(), []step{accepted}))

	first := e.runBatch(t, "batch-dup", domain.BatchInput{Records: records})
	second := e.runBatch(t, "batch-dup", domain.BatchInput{Records: records})

	if len(first.Results) != 2 || len(second.Results) != 2 {
		t.Fatalf("unexpected results %+v / %+v", first, second)
	}
	if calls := e.submitter.Calls("a"); calls != innerAttempts+1 {
		t.Errorf("expected record a submitted %d times, got %d", innerAttempts+1, calls)
	}
	if calls := e.submitter.Calls("b"); calls != 1 {
		t.Errorf("expected record b submitted once, got %d", calls)
	}

	// Starting a derived child id directly is also a no-op.
	for _, id := range []string{"a", "b"} {
		inst, err := e.engine.StartInstance(context.Background(), orchestration.WorkflowProcessRecord,
			orchestration.ChildInstanceID("batch-dup", id), domain.OrchestrationInput{RecordID: id})
		if err != nil {
			t.Fatalf("restart child %s: %v", id, err)
		}
		if inst.ParentID != "batch-dup" || inst.State != durable.StateCompleted {
			t.Errorf("expected existing child for %s, got %+v", id, inst)
		}
	}
	e.idle(t)
	if e.submitter.Calls("b") != 1 {
		t.Errorf("expected no resubmission, got %d calls for b", e.submitter.Calls("b"))
	}
}

type failingLister struct {
	*recordingRepo
}

func (failingLister) ListPending(ctx context.Context, maxFailCount, limit int) ([]domain.Record, error) {
	return nil, errors.New("database unavailable")
}

func TestProcessRecords_ListingFailureFailsBatch(t *testing.T) {
	e := newEnv(t)
	orchestration.Register(e.engine, orchestration.NewWorkflows(), &orchestration.Activities{
		Submitter: e.submitter,
		Records:   failingLister{e.repo},
	})

	out := e.runBatch(t, "batch-broken", domain.BatchInput{})

	if out.Succeeded {
		t.Error("expected batch failure")
	}
	active, _ := e.store.ListActive(context.Background())
	if len(active) != 0 {
		t.Errorf("expected no child started, found %d active instances", len(active))
	}
}

func TestProcessRecords_ListingSkipsRecordsWithRunningOrchestration(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.repo.Create(ctx, domain.NewRecord("r", "d")); err != nil {
		t.Fatalf("create record: %v", err)
	}
	e.submitter.Script("r", script(failedRound(), []step{accepted}))

	standalone := orchestration.RecordInstanceID("r")
	if _, err := e.engine.StartInstance(ctx, orchestration.WorkflowProcessRecord, standalone,
		domain.OrchestrationInput{RecordID: "r", RecordData: "d"}); err != nil {
		t.Fatalf("start record orchestration: %v", err)
	}
	e.idle(t)
	if inst, _ := e.engine.GetInstance(ctx, standalone); inst.State != durable.StateSuspended {
		t.Fatalf("expected record orchestration waiting on its timer, got %s", inst.State)
	}

	out := e.runBatch(t, "batch-x", domain.BatchInput{})

	if !out.Succeeded || len(out.Results) != 0 {
		t.Errorf("expected batch to leave the owned record alone, got %+v", out)
	}
	if _, err := e.engine.GetInstance(ctx, orchestration.ChildInstanceID("batch-x", "r")); !errors.Is(err, durable.ErrInstanceNotFound) {
		t.Errorf("expected no batch child for r, got %v", err)
	}
	if calls := e.submitter.Calls("r"); calls != innerAttempts+1 {
		t.Errorf("expected one failed round and one accepted submission (%d calls), got %d", innerAttempts+1, calls)
	}

	processed := 0
	for _, rec := range e.repo.History("r") {
		if rec.Status == domain.RecordStatusProcessed {
			processed++
		}
	}
	if got := e.output(t, standalone).FinalStatus; got != domain.RecordStatusProcessed {
		t.Errorf("expected Processed, got %s", got)
	}
	if processed != 2 {
		t.Errorf("expected one orchestration to persist Processed (twice), got %d writes", processed)
	}
}

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/writer/internal/core/domain"
	"github.com/vietddude/writer/internal/durable"
	"github.com/vietddude/writer/internal/infra/storage"
)

type storedRecord struct {
	record domain.Record
	order  int64
}

type timerKey struct {
	instanceID string
	seq        int
}

// MemoryStorage backs both the record repository and the durable store for
// single-process deployments and tests.
type MemoryStorage struct {
	records     map[string]*storedRecord
	nextOrder   int64
	instances   map[string]durable.Instance
	checkpoints map[string]map[int]durable.Checkpoint
	timers      map[timerKey]durable.Timer
	mu          sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records:     make(map[string]*storedRecord),
		instances:   make(map[string]durable.Instance),
		checkpoints: make(map[string]map[int]durable.Checkpoint),
		timers:      make(map[timerKey]durable.Timer),
	}
}

// -----------------------------------------------------------------------------
// Record Repository
// -----------------------------------------------------------------------------

type RecordRepo struct {
	store *MemoryStorage
}

var _ storage.RecordRepository = (*RecordRepo)(nil)

func NewRecordRepo(store *MemoryStorage) *RecordRepo {
	return &RecordRepo{store: store}
}

func (r *RecordRepo) Create(ctx context.Context, rec domain.Record) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.records[rec.ID]; ok {
		return false, nil
	}
	r.put(rec)
	return true, nil
}

func (r *RecordRepo) UpdateStatus(ctx context.Context, rec domain.Record) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if existing, ok := r.store.records[rec.ID]; ok {
		existing.record = rec
		return nil
	}
	r.put(rec)
	return nil
}

// put must be called with the lock held.
func (r *RecordRepo) put(rec domain.Record) {
	r.store.nextOrder++
	r.store.records[rec.ID] = &storedRecord{record: rec, order: r.store.nextOrder}
}

func (r *RecordRepo) Get(ctx context.Context, id string) (domain.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	sr, ok := r.store.records[id]
	if !ok {
		return domain.Record{}, storage.ErrRecordNotFound
	}
	return sr.record, nil
}

func (r *RecordRepo) GetMany(ctx context.Context, ids []string) ([]domain.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		if sr, ok := r.store.records[id]; ok {
			out = append(out, sr.record)
		}
	}
	return out, nil
}

func (r *RecordRepo) ListPending(ctx context.Context, maxFailCount, limit int) ([]domain.Record, error) {
	r.store.mu.RLock()
	matches := make([]*storedRecord, 0)
	for _, sr := range r.store.records {
		if sr.record.Status == domain.RecordStatusCreated && sr.record.FailCount <= maxFailCount {
			matches = append(matches, sr)
		}
	}
	r.store.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].order < matches[j].order })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]domain.Record, len(matches))
	for i, sr := range matches {
		out[i] = sr.record
	}
	return out, nil
}

func (r *RecordRepo) CountByStatus(ctx context.Context) (map[domain.RecordStatus]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	counts := make(map[domain.RecordStatus]int)
	for _, sr := range r.store.records {
		counts[sr.record.Status]++
	}
	return counts, nil
}

func (r *RecordRepo) Requeue(ctx context.Context, ids []string) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	requeue := func(sr *storedRecord) int {
		if sr.record.Status != domain.RecordStatusPermanentlyFailed {
			return 0
		}
		sr.record = sr.record.Transition(domain.RecordStatusCreated, 0)
		return 1
	}

	n := 0
	if len(ids) == 0 {
		for _, sr := range r.store.records {
			n += requeue(sr)
		}
		return n, nil
	}
	for _, id := range ids {
		if sr, ok := r.store.records[id]; ok {
			n += requeue(sr)
		}
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Durable Store
// -----------------------------------------------------------------------------

// DurableStore keeps instances, checkpoints and timers in memory. Values are
// copied in and out so callers never share state with the store.
type DurableStore struct {
	store *MemoryStorage
}

var _ durable.Store = (*DurableStore)(nil)

func NewDurableStore(store *MemoryStorage) *DurableStore {
	return &DurableStore{store: store}
}

func (s *DurableStore) CreateInstance(ctx context.Context, inst *durable.Instance) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if _, ok := s.store.instances[inst.ID]; ok {
		return durable.ErrInstanceExists
	}
	s.store.instances[inst.ID] = *inst
	return nil
}

func (s *DurableStore) GetInstance(ctx context.Context, id string) (*durable.Instance, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	inst, ok := s.store.instances[id]
	if !ok {
		return nil, durable.ErrInstanceNotFound
	}
	return &inst, nil
}

func (s *DurableStore) UpdateInstance(ctx context.Context, inst *durable.Instance) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if _, ok := s.store.instances[inst.ID]; !ok {
		return durable.ErrInstanceNotFound
	}
	s.store.instances[inst.ID] = *inst
	return nil
}

func (s *DurableStore) ListActive(ctx context.Context) ([]*durable.Instance, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	out := make([]*durable.Instance, 0)
	for _, inst := range s.store.instances {
		if !inst.State.Terminal() {
			out = append(out, &inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *DurableStore) PruneTerminal(ctx context.Context, before time.Time) (int, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	n := 0
	for id, inst := range s.store.instances {
		if inst.State.Terminal() && inst.CompletedAt != nil && inst.CompletedAt.Before(before) {
			delete(s.store.instances, id)
			delete(s.store.checkpoints, id)
			n++
		}
	}
	return n, nil
}

func (s *DurableStore) SaveCheckpoint(ctx context.Context, instanceID string, cp durable.Checkpoint) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	cps, ok := s.store.checkpoints[instanceID]
	if !ok {
		cps = make(map[int]durable.Checkpoint)
		s.store.checkpoints[instanceID] = cps
	}
	cps[cp.Seq] = cp
	return nil
}

func (s *DurableStore) LoadCheckpoints(ctx context.Context, instanceID string) (map[int]durable.Checkpoint, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	out := make(map[int]durable.Checkpoint, len(s.store.checkpoints[instanceID]))
	for seq, cp := range s.store.checkpoints[instanceID] {
		out[seq] = cp
	}
	return out, nil
}

func (s *DurableStore) ScheduleTimer(ctx context.Context, t durable.Timer) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	key := timerKey{instanceID: t.InstanceID, seq: t.Seq}
	if _, ok := s.store.timers[key]; ok {
		return nil
	}
	s.store.timers[key] = t
	return nil
}

func (s *DurableStore) DueTimers(ctx context.Context, now time.Time, limit int) ([]durable.Timer, error) {
	s.store.mu.RLock()
	due := make([]durable.Timer, 0)
	for _, t := range s.store.timers {
		if !t.DueAt.After(now) {
			due = append(due, t)
		}
	}
	s.store.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *DurableStore) DeleteTimer(ctx context.Context, instanceID string, seq int) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	delete(s.store.timers, timerKey{instanceID: instanceID, seq: seq})
	return nil
}

// PendingTimers returns every scheduled timer, earliest first.
func (s *DurableStore) PendingTimers() []durable.Timer {
	due, _ := s.DueTimers(context.Background(), time.Unix(1<<40, 0), 0)
	return due
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/writer/internal/durable"
)

// DurableStore implements durable.Store on Redis.
//
// Layout, under the configured prefix:
//
//	instance:<id>        JSON instance, created with SETNX
//	instances:active     set of non-terminal instance ids
//	instances:terminal   sorted set of terminal ids by completion time
//	checkpoints:<id>     hash of seq -> JSON checkpoint
//	timers               sorted set of "<id>|<seq>" by due time (ms)
type DurableStore struct {
	rdb    *redis.Client
	prefix string
}

var _ durable.Store = (*DurableStore)(nil)

// NewDurableStore creates a Redis-backed durable store.
func NewDurableStore(client *Client, prefix string) *DurableStore {
	if prefix == "" {
		prefix = "writer"
	}
	return &DurableStore{rdb: client.rdb, prefix: prefix}
}

// Key helpers
func (s *DurableStore) instanceKey(id string) string {
	return fmt.Sprintf("%s:instance:%s", s.prefix, id)
}

func (s *DurableStore) activeKey() string {
	return fmt.Sprintf("%s:instances:active", s.prefix)
}

func (s *DurableStore) terminalKey() string {
	return fmt.Sprintf("%s:instances:terminal", s.prefix)
}

func (s *DurableStore) checkpointsKey(id string) string {
	return fmt.Sprintf("%s:checkpoints:%s", s.prefix, id)
}

func (s *DurableStore) timersKey() string {
	return fmt.Sprintf("%s:timers", s.prefix)
}

func timerMember(instanceID string, seq int) string {
	return instanceID + "|" + strconv.Itoa(seq)
}

func parseTimerMember(member string) (string, int, error) {
	i := strings.LastIndex(member, "|")
	if i < 0 {
		return "", 0, fmt.Errorf("invalid timer member %q", member)
	}
	seq, err := strconv.Atoi(member[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid timer seq in %q: %w", member, err)
	}
	return member[:i], seq, nil
}

func (s *DurableStore) CreateInstance(ctx context.Context, inst *durable.Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, s.instanceKey(inst.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		return durable.ErrInstanceExists
	}

	if err := s.rdb.SAdd(ctx, s.activeKey(), inst.ID).Err(); err != nil {
		return fmt.Errorf("failed to index instance: %w", err)
	}
	return nil
}

func (s *DurableStore) GetInstance(ctx context.Context, id string) (*durable.Instance, error) {
	data, err := s.rdb.Get(ctx, s.instanceKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, durable.ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}

	var inst durable.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance %s: %w", id, err)
	}
	return &inst, nil
}

func (s *DurableStore) UpdateInstance(ctx context.Context, inst *durable.Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}

	ok, err := s.rdb.SetXX(ctx, s.instanceKey(inst.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("setxx failed: %w", err)
	}
	if !ok {
		return durable.ErrInstanceNotFound
	}

	pipe := s.rdb.TxPipeline()
	if inst.State.Terminal() {
		completed := inst.UpdatedAt
		if inst.CompletedAt != nil {
			completed = *inst.CompletedAt
		}
		pipe.SRem(ctx, s.activeKey(), inst.ID)
		pipe.ZAdd(ctx, s.terminalKey(), redis.Z{Score: float64(completed.Unix()), Member: inst.ID})
	} else {
		pipe.SAdd(ctx, s.activeKey(), inst.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index instance: %w", err)
	}
	return nil
}

func (s *DurableStore) ListActive(ctx context.Context) ([]*durable.Instance, error) {
	ids, err := s.rdb.SMembers(ctx, s.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.instanceKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget failed: %w", err)
	}

	out := make([]*durable.Instance, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without data; drop it.
			s.rdb.SRem(ctx, s.activeKey(), ids[i])
			continue
		}
		var inst durable.Instance
		if err := json.Unmarshal([]byte(raw), &inst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal instance %s: %w", ids[i], err)
		}
		if !inst.State.Terminal() {
			out = append(out, &inst)
		}
	}
	return out, nil
}

func (s *DurableStore) PruneTerminal(ctx context.Context, before time.Time) (int, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.terminalKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore failed: %w", err)
	}

	for _, id := range ids {
		pipe := s.rdb.TxPipeline()
		pipe.Del(ctx, s.instanceKey(id), s.checkpointsKey(id))
		pipe.ZRem(ctx, s.terminalKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("failed to prune instance %s: %w", id, err)
		}
	}
	return len(ids), nil
}

func (s *DurableStore) SaveCheckpoint(ctx context.Context, instanceID string, cp durable.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := s.rdb.HSet(ctx, s.checkpointsKey(instanceID), strconv.Itoa(cp.Seq), data).Err(); err != nil {
		return fmt.Errorf("hset failed: %w", err)
	}
	return nil
}

func (s *DurableStore) LoadCheckpoints(ctx context.Context, instanceID string) (map[int]durable.Checkpoint, error) {
	raw, err := s.rdb.HGetAll(ctx, s.checkpointsKey(instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall failed: %w", err)
	}

	out := make(map[int]durable.Checkpoint, len(raw))
	for field, value := range raw {
		var cp durable.Checkpoint
		if err := json.Unmarshal([]byte(value), &cp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint %s/%s: %w", instanceID, field, err)
		}
		out[cp.Seq] = cp
	}
	return out, nil
}

func (s *DurableStore) ScheduleTimer(ctx context.Context, t durable.Timer) error {
	err := s.rdb.ZAddNX(ctx, s.timersKey(), redis.Z{
		Score:  float64(t.DueAt.UnixMilli()),
		Member: timerMember(t.InstanceID, t.Seq),
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

func (s *DurableStore) DueTimers(ctx context.Context, now time.Time, limit int) ([]durable.Timer, error) {
	by := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}

	results, err := s.rdb.ZRangeByScoreWithScores(ctx, s.timersKey(), by).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore failed: %w", err)
	}

	timers := make([]durable.Timer, 0, len(results))
	for _, z := range results {
		member, _ := z.Member.(string)
		id, seq, err := parseTimerMember(member)
		if err != nil {
			return nil, err
		}
		timers = append(timers, durable.Timer{
			InstanceID: id,
			Seq:        seq,
			DueAt:      time.UnixMilli(int64(z.Score)).UTC(),
		})
	}
	return timers, nil
}

func (s *DurableStore) DeleteTimer(ctx context.Context, instanceID string, seq int) error {
	if err := s.rdb.ZRem(ctx, s.timersKey(), timerMember(instanceID, seq)).Err(); err != nil {
		return fmt.Errorf("zrem failed: %w", err)
	}
	return nil
}

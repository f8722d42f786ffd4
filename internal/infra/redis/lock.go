package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/writer/internal/durable"
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// InstanceLocker implements durable.Locker with SET NX locks. Each lock
// carries a random owner token so only the holder can release it.
type InstanceLocker struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

var _ durable.Locker = (*InstanceLocker)(nil)

// NewInstanceLocker creates a locker. ttl must exceed the longest single
// execution of a workflow, including in-place activity retries.
func NewInstanceLocker(client *Client, prefix string, ttl time.Duration) *InstanceLocker {
	if prefix == "" {
		prefix = "writer"
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &InstanceLocker{rdb: client.rdb, prefix: prefix, ttl: ttl}
}

func (l *InstanceLocker) lockKey(instanceID string) string {
	return fmt.Sprintf("%s:lock:%s", l.prefix, instanceID)
}

func (l *InstanceLocker) TryLock(ctx context.Context, instanceID string) (func(), bool, error) {
	key := l.lockKey(instanceID)
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// The execution context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
	}
	return release, true, nil
}

// Package queue holds pending access grants in a Redis sorted set scored by
// the time each job becomes ready.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultKey = "hotspot:grants"

var ErrTimeout = errors.New("queue timeout")

// Job asks a worker to grant access for a paid session.
type Job struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	TenantID  string    `json:"tenant_id"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

func NewJob(tenantID, sessionID string, now time.Time) *Job {
	return &Job{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		TenantID:  tenantID,
		CreatedAt: now,
	}
}

// claim removes and returns the first member whose score is due.
var claim = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #items == 0 then
	return false
end
redis.call('ZREM', KEYS[1], items[1])
return items[1]
`)

type RedisQueue struct {
	client       redis.UniversalClient
	queueName    string
	pollInterval time.Duration
	clock        quartz.Clock
}

type Option func(*RedisQueue)

func WithClock(clock quartz.Clock) Option {
	return func(q *RedisQueue) { q.clock = clock }
}

func WithPollInterval(d time.Duration) Option {
	return func(q *RedisQueue) { q.pollInterval = d }
}

func NewRedisQueue(client redis.UniversalClient, key string, opts ...Option) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	q := &RedisQueue{
		client:       client,
		queueName:    key,
		pollInterval: 250 * time.Millisecond,
		clock:        quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push schedules job to become ready after delay.
func (q *RedisQueue) Push(ctx context.Context, job *Job, delay time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	score := float64(q.clock.Now().Add(delay).UnixMilli())
	err = q.client.ZAdd(ctx, q.queueName, redis.Z{
		Score:  score,
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}

	return nil
}

// Pop waits up to timeout for a ready job. It returns ErrTimeout when none
// became ready in time.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*Job, error) {
	deadline := q.clock.Now().Add(timeout)

	for {
		now := q.clock.Now()
		raw, err := claim.Run(ctx, q.client, []string{q.queueName}, now.UnixMilli()).Text()
		switch {
		case err == nil:
			var job Job
			if err := json.Unmarshal([]byte(raw), &job); err != nil {
				return nil, fmt.Errorf("failed to unmarshal job: %w", err)
			}
			return &job, nil
		case !errors.Is(err, redis.Nil):
			return nil, fmt.Errorf("failed to pop job: %w", err)
		}

		wait := deadline.Sub(now)
		if wait <= 0 {
			return nil, ErrTimeout
		}
		if wait > q.pollInterval {
			wait = q.pollInterval
		}

		t := q.clock.NewTimer(wait, "queue", "poll")
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.queueName).Result()
}

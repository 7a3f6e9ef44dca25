package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	defaultReadyKey   = "leadflow:jobs"
	defaultDelayedKey = "leadflow:jobs:delayed"
	promoteBatchSize  = 100
)

// promoteScript moves due members of the delayed set onto the ready list
// in one atomic step so two promoters never deliver the same job twice.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

// RedisQueue stores ready jobs in a list and delayed jobs in a sorted set
// scored by due time in unix milliseconds.
type RedisQueue struct {
	client     *redis.Client
	readyKey   string
	delayedKey string
	logger     *logger.Logger
	now        func() time.Time
}

// NewRedisQueue creates a Redis-backed queue. An empty prefix uses "leadflow".
func NewRedisQueue(client *redis.Client, prefix string, log *logger.Logger) *RedisQueue {
	readyKey, delayedKey := defaultReadyKey, defaultDelayedKey
	if prefix != "" {
		readyKey = prefix + ":jobs"
		delayedKey = prefix + ":jobs:delayed"
	}
	return &RedisQueue{
		client:     client,
		readyKey:   readyKey,
		delayedKey: delayedKey,
		logger:     log,
		now:        time.Now,
	}
}

// Enqueue pushes a job onto the ready list
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.readyKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// EnqueueAt adds a job to the delayed set
func (q *RedisQueue) EnqueueAt(ctx context.Context, job Job, at time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	member := redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: data,
	}
	if err := q.client.ZAdd(ctx, q.delayedKey, member).Err(); err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}
	return nil
}

// PromoteDue moves due delayed jobs to the ready list
func (q *RedisQueue) PromoteDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	n, err := promoteScript.Run(ctx, q.client, []string{q.delayedKey, q.readyKey}, now, promoteBatchSize).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to promote delayed jobs: %w", err)
	}
	return n, nil
}

// Dequeue promotes due jobs then blocks on the ready list for up to wait
func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (*Job, error) {
	if _, err := q.PromoteDue(ctx); err != nil {
		q.logger.Warnf("Failed to promote delayed jobs: %v", err)
	}

	res, err := q.client.BRPop(ctx, wait, q.readyKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}

	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		// Drop undecodable payloads rather than wedging the consumer.
		q.logger.Errorf("Discarding malformed job payload: %v", err)
		return nil, nil
	}
	return &job, nil
}

// Depth returns the lengths of the ready list and delayed set
func (q *RedisQueue) Depth(ctx context.Context) (ready, delayed int64, err error) {
	pipe := q.client.Pipeline()
	readyCmd := pipe.LLen(ctx, q.readyKey)
	delayedCmd := pipe.ZCard(ctx, q.delayedKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return readyCmd.Val(), delayedCmd.Val(), nil
}

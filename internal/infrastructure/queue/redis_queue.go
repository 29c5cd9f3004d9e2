package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/compliancesync/backend/internal/application/jobs"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Job ids live in the ready list, the delayed and in-flight sorted sets
// (scored by due time and deadline in unix milliseconds) and the dead list.
// Bodies and delivery counts are stored in hashes keyed by id, so a state
// move is a move of the id only.

var enqueueScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
  return 0
end
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

var dequeueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('LPUSH', KEYS[1], id)
end
while true do
  local id = redis.call('RPOP', KEYS[1])
  if not id then
    return false
  end
  local body = redis.call('HGET', KEYS[4], id)
  if body then
    redis.call('ZADD', KEYS[3], ARGV[2], id)
    local n = redis.call('HINCRBY', KEYS[5], id, 1)
    return {id, body, n}
  end
end
`)

var retryScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[3])
return 1
`)

var deadLetterScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
redis.call('LPUSH', KEYS[5], ARGV[2])
redis.call('LTRIM', KEYS[5], 0, tonumber(ARGV[3]) - 1)
return 1
`)

var reapScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('RPUSH', KEYS[2], id)
end
return #ids
`)

// RedisQueue is the production queue backed by Redis
type RedisQueue struct {
	client redis.UniversalClient
	cfg    Config
	clock  shared.Clock
	logger *zap.Logger

	ready    string
	delayed  string
	inflight string
	bodies   string
	attempts string
	errs     string
	dead     string
}

// Option configures a queue
type Option func(*options)

type options struct {
	clock  shared.Clock
	logger *zap.Logger
}

// WithClock overrides the time source used for deadlines
func WithClock(clock shared.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: shared.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewRedisQueue creates a queue on client
func NewRedisQueue(client redis.UniversalClient, cfg Config, opts ...Option) *RedisQueue {
	o := buildOptions(opts)
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().KeyPrefix
	}
	p := cfg.KeyPrefix
	return &RedisQueue{
		client:   client,
		cfg:      cfg,
		clock:    o.clock,
		logger:   o.logger,
		ready:    p + ":ready",
		delayed:  p + ":delayed",
		inflight: p + ":inflight",
		bodies:   p + ":jobs",
		attempts: p + ":attempts",
		errs:     p + ":errors",
		dead:     p + ":dead",
	}
}

// Enqueue stores the job and makes it ready. A job whose id is still
// pending is dropped silently.
func (q *RedisQueue) Enqueue(ctx context.Context, job *jobs.Job) error {
	if job == nil || job.ID == "" {
		return shared.ErrInvalidInput.WithMessage("Job id is required")
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	added, err := enqueueScript.Run(ctx, q.client, []string{q.bodies, q.ready}, job.ID, body).Int()
	if err != nil {
		return shared.Transient(fmt.Errorf("enqueue job %s: %w", job.ID, err))
	}
	if added == 0 {
		q.logger.Debug("Job already pending, skipped", zap.String("job_id", job.ID))
	}
	return nil
}

// Dequeue promotes due delayed jobs, then hands out the oldest ready job
func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	now := q.clock()
	provisional := now.Add(q.cfg.longestVisibility())
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.ready, q.delayed, q.inflight, q.bodies, q.attempts},
		now.UnixMilli(), provisional.UnixMilli(), q.cfg.batch(),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, shared.Transient(fmt.Errorf("dequeue: %w", err))
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("dequeue: unexpected reply of %d elements", len(res))
	}

	id, _ := res[0].(string)
	body, _ := res[1].(string)
	attempt, _ := res[2].(int64)

	var job jobs.Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		// an undecodable body can never be processed
		d := &Delivery{Job: &jobs.Job{ID: id}, Attempt: int(attempt)}
		if dlErr := q.deadLetter(ctx, d, json.RawMessage(strconv.Quote(body)), "undecodable job body"); dlErr != nil {
			return nil, dlErr
		}
		return nil, nil
	}
	job.Attempt = int(attempt)

	deadline := now.Add(q.cfg.visibility(job.Type))
	if deadline.Before(provisional) {
		err := q.client.ZAddXX(ctx, q.inflight, redis.Z{Score: float64(deadline.UnixMilli()), Member: id}).Err()
		if err != nil {
			q.logger.Warn("Failed to tighten visibility deadline", zap.String("job_id", id), zap.Error(err))
			deadline = provisional
		}
	}
	return &Delivery{Job: &job, Attempt: job.Attempt, Deadline: deadline}, nil
}

// Ack removes the job everywhere
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	id := d.Job.ID
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.inflight, id)
		pipe.HDel(ctx, q.bodies, id)
		pipe.HDel(ctx, q.attempts, id)
		pipe.HDel(ctx, q.errs, id)
		return nil
	})
	if err != nil {
		return shared.Transient(fmt.Errorf("ack job %s: %w", id, err))
	}
	return nil
}

// Retry schedules the job after delay. A job that is no longer in flight
// was reaped and handed to another worker; it is left alone.
func (q *RedisQueue) Retry(ctx context.Context, d *Delivery, delay time.Duration, reason string) error {
	runAt := q.clock().Add(delay)
	moved, err := retryScript.Run(ctx, q.client,
		[]string{q.inflight, q.delayed, q.errs},
		d.Job.ID, runAt.UnixMilli(), reason,
	).Int()
	if err != nil {
		return shared.Transient(fmt.Errorf("retry job %s: %w", d.Job.ID, err))
	}
	if moved == 0 {
		q.logger.Warn("Retried job was no longer in flight", zap.String("job_id", d.Job.ID))
	}
	return nil
}

// DeadLetter parks the job
func (q *RedisQueue) DeadLetter(ctx context.Context, d *Delivery, reason string) error {
	body, err := json.Marshal(d.Job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.deadLetter(ctx, d, body, reason)
}

func (q *RedisQueue) deadLetter(ctx context.Context, d *Delivery, body json.RawMessage, reason string) error {
	entry, err := json.Marshal(DeadLetter{
		Job:      body,
		Reason:   reason,
		Attempts: d.Attempt,
		FailedAt: q.clock(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	err = deadLetterScript.Run(ctx, q.client,
		[]string{q.inflight, q.bodies, q.attempts, q.errs, q.dead},
		d.Job.ID, entry, q.cfg.deadLetterCap(),
	).Err()
	if err != nil {
		return shared.Transient(fmt.Errorf("dead-letter job %s: %w", d.Job.ID, err))
	}
	return nil
}

// Reap re-queues in-flight jobs past their deadline
func (q *RedisQueue) Reap(ctx context.Context) (int, error) {
	n, err := reapScript.Run(ctx, q.client,
		[]string{q.inflight, q.ready},
		q.clock().UnixMilli(), q.cfg.batch(),
	).Int()
	if err != nil {
		return 0, shared.Transient(fmt.Errorf("reap: %w", err))
	}
	return n, nil
}

// Depths counts jobs per state
func (q *RedisQueue) Depths(ctx context.Context) (Depths, error) {
	var ready, delayed, inflight, dead *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		ready = pipe.LLen(ctx, q.ready)
		delayed = pipe.ZCard(ctx, q.delayed)
		inflight = pipe.ZCard(ctx, q.inflight)
		dead = pipe.LLen(ctx, q.dead)
		return nil
	})
	if err != nil {
		return nil, shared.Transient(fmt.Errorf("queue depths: %w", err))
	}
	return Depths{
		StateReady:    ready.Val(),
		StateDelayed:  delayed.Val(),
		StateInFlight: inflight.Val(),
		StateDead:     dead.Val(),
	}, nil
}

// DeadLetters returns up to limit of the most recent dead letters
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error) {
	raw, err := q.client.LRange(ctx, q.dead, 0, limit-1).Result()
	if err != nil {
		return nil, shared.Transient(err)
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, r := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(r), &dl); err != nil {
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}

// Ping checks the Redis connection
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

var _ Queue = (*RedisQueue)(nil)

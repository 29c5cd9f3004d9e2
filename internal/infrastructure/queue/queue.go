// Package queue provides the durable at-least-once job queue between
// producers and the worker pool. A dequeued job stays in an in-flight set
// until it is acknowledged, retried or dead-lettered; jobs whose visibility
// deadline passes are handed out again by Reap.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/compliancesync/backend/internal/application/jobs"
)

// Delivery is one handout of a job to a worker
type Delivery struct {
	Job      *jobs.Job
	Attempt  int
	Deadline time.Time
}

// DeadLetter is a job that will not be retried
type DeadLetter struct {
	Job      json.RawMessage `json:"job"`
	Reason   string          `json:"reason"`
	Attempts int             `json:"attempts"`
	FailedAt time.Time       `json:"failed_at"`
}

// Depths counts jobs per state
type Depths = map[string]int64

// Queue state names reported by Depths
const (
	StateReady    = "ready"
	StateDelayed  = "delayed"
	StateInFlight = "in_flight"
	StateDead     = "dead"
)

// Queue is a durable job queue
type Queue interface {
	jobs.Enqueuer

	// Dequeue hands out the next ready job, or nil when none is ready
	Dequeue(ctx context.Context) (*Delivery, error)

	// Ack removes a successfully processed job
	Ack(ctx context.Context, d *Delivery) error

	// Retry makes the job ready again after delay
	Retry(ctx context.Context, d *Delivery, delay time.Duration, reason string) error

	// DeadLetter parks the job with reason and stops delivering it
	DeadLetter(ctx context.Context, d *Delivery, reason string) error

	// Reap re-queues in-flight jobs whose visibility deadline passed
	Reap(ctx context.Context) (int, error)

	// Depths counts jobs per state
	Depths(ctx context.Context) (Depths, error)
}

// Config tunes visibility and retention
type Config struct {
	// KeyPrefix namespaces the Redis keys
	KeyPrefix string
	// Visibility is the in-flight deadline per job type. Types not listed
	// use DefaultVisibility.
	Visibility        map[jobs.Type]time.Duration
	DefaultVisibility time.Duration
	// DeadLetterCap bounds the retained dead letters
	DeadLetterCap int64
	// Batch bounds how many jobs one promotion or reap moves
	Batch int
}

// DefaultConfig returns the default queue configuration
func DefaultConfig() Config {
	return Config{
		KeyPrefix:         "csync:queue",
		DefaultVisibility: 5 * time.Minute,
		DeadLetterCap:     10000,
		Batch:             100,
	}
}

// NewConfig derives visibility deadlines from per-type job timeouts plus a
// safety margin
func NewConfig(prefix string, timeouts map[string]time.Duration, margin time.Duration) Config {
	cfg := DefaultConfig()
	if prefix != "" {
		cfg.KeyPrefix = prefix + ":queue"
	}
	cfg.Visibility = make(map[jobs.Type]time.Duration, len(timeouts))
	var longest time.Duration
	for name, timeout := range timeouts {
		v := timeout + margin
		cfg.Visibility[jobs.Type(name)] = v
		if v > longest {
			longest = v
		}
	}
	if longest > 0 {
		cfg.DefaultVisibility = longest
	}
	return cfg
}

func (c Config) visibility(t jobs.Type) time.Duration {
	if v, ok := c.Visibility[t]; ok && v > 0 {
		return v
	}
	if c.DefaultVisibility > 0 {
		return c.DefaultVisibility
	}
	return DefaultConfig().DefaultVisibility
}

// longestVisibility is used before the job type is known
func (c Config) longestVisibility() time.Duration {
	longest := c.visibility("")
	for _, v := range c.Visibility {
		if v > longest {
			longest = v
		}
	}
	return longest
}

func (c Config) batch() int {
	if c.Batch <= 0 {
		return 100
	}
	return c.Batch
}

func (c Config) deadLetterCap() int64 {
	if c.DeadLetterCap <= 0 {
		return DefaultConfig().DeadLetterCap
	}
	return c.DeadLetterCap
}

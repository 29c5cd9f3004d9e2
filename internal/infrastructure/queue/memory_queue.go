package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/compliancesync/backend/internal/application/jobs"
	"github.com/compliancesync/backend/internal/domain/shared"
)

// MemoryQueue is an in-process queue with the same delivery semantics as
// RedisQueue. Used in development and tests; nothing survives a restart.
type MemoryQueue struct {
	mu       sync.Mutex
	cfg      Config
	clock    shared.Clock
	bodies   map[string][]byte
	attempts map[string]int
	errs     map[string]string
	ready    []string
	delayed  map[string]time.Time
	inflight map[string]time.Time
	dead     []DeadLetter
}

// NewMemoryQueue creates an empty in-memory queue
func NewMemoryQueue(cfg Config, opts ...Option) *MemoryQueue {
	o := buildOptions(opts)
	return &MemoryQueue{
		cfg:      cfg,
		clock:    o.clock,
		bodies:   make(map[string][]byte),
		attempts: make(map[string]int),
		errs:     make(map[string]string),
		delayed:  make(map[string]time.Time),
		inflight: make(map[string]time.Time),
	}
}

// Enqueue stores the job unless a job with the same id is pending
func (q *MemoryQueue) Enqueue(_ context.Context, job *jobs.Job) error {
	if job == nil || job.ID == "" {
		return shared.ErrInvalidInput.WithMessage("Job id is required")
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.bodies[job.ID]; exists {
		return nil
	}
	q.bodies[job.ID] = body
	q.ready = append(q.ready, job.ID)
	return nil
}

// Dequeue hands out the oldest ready job
func (q *MemoryQueue) Dequeue(_ context.Context) (*Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()
	q.promoteLocked(now)
	for len(q.ready) > 0 {
		id := q.ready[0]
		q.ready = q.ready[1:]
		body, ok := q.bodies[id]
		if !ok {
			continue
		}
		var job jobs.Job
		if err := json.Unmarshal(body, &job); err != nil {
			return nil, err
		}
		q.attempts[id]++
		job.Attempt = q.attempts[id]
		deadline := now.Add(q.cfg.visibility(job.Type))
		q.inflight[id] = deadline
		return &Delivery{Job: &job, Attempt: job.Attempt, Deadline: deadline}, nil
	}
	return nil, nil
}

// promoteLocked moves due delayed jobs to ready in due order
func (q *MemoryQueue) promoteLocked(now time.Time) {
	var due []string
	for id, at := range q.delayed {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return q.delayed[due[i]].Before(q.delayed[due[j]]) })
	for _, id := range due {
		delete(q.delayed, id)
		q.ready = append(q.ready, id)
	}
}

// Ack removes the job
func (q *MemoryQueue) Ack(_ context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.forgetLocked(d.Job.ID)
	return nil
}

// Retry schedules the job after delay
func (q *MemoryQueue) Retry(_ context.Context, d *Delivery, delay time.Duration, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := d.Job.ID
	if _, ok := q.inflight[id]; !ok {
		return nil
	}
	delete(q.inflight, id)
	q.delayed[id] = q.clock().Add(delay)
	q.errs[id] = reason
	return nil
}

// DeadLetter parks the job
func (q *MemoryQueue) DeadLetter(_ context.Context, d *Delivery, reason string) error {
	body, err := json.Marshal(d.Job)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.forgetLocked(d.Job.ID)
	q.dead = append([]DeadLetter{{Job: body, Reason: reason, Attempts: d.Attempt, FailedAt: q.clock()}}, q.dead...)
	if limit := q.cfg.deadLetterCap(); int64(len(q.dead)) > limit {
		q.dead = q.dead[:limit]
	}
	return nil
}

func (q *MemoryQueue) forgetLocked(id string) {
	delete(q.inflight, id)
	delete(q.bodies, id)
	delete(q.attempts, id)
	delete(q.errs, id)
}

// Reap re-queues in-flight jobs past their deadline, ahead of other ready jobs
func (q *MemoryQueue) Reap(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock()
	var expired []string
	for id, deadline := range q.inflight {
		if deadline.Before(now) {
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	for _, id := range expired {
		delete(q.inflight, id)
	}
	q.ready = append(expired, q.ready...)
	return len(expired), nil
}

// Depths counts jobs per state
func (q *MemoryQueue) Depths(_ context.Context) (Depths, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Depths{
		StateReady:    int64(len(q.ready)),
		StateDelayed:  int64(len(q.delayed)),
		StateInFlight: int64(len(q.inflight)),
		StateDead:     int64(len(q.dead)),
	}, nil
}

// DeadLetters returns the dead letters, most recent first
func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

// LastError returns the retry reason recorded for a pending job
func (q *MemoryQueue) LastError(id string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.errs[id]
}

var _ Queue = (*MemoryQueue)(nil)

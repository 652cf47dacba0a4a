// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler serialises access to the scarce, memory-hungry model
// workers behind three logical queues: speech, generate, embed.
//
// # Description
//
// The model backends are treated as thread-hostile: at most one call may
// be active per worker slot, and only the scheduler ever dispatches to
// them. Each queue owns a bounded worker pool, a bounded FIFO waiting
// list, and a monotonic ticket counter. Submissions that find the pool
// busy and the waiting list full fail immediately with inference/busy and
// a retry hint instead of piling up.
//
// # Admission
//
//  1. A free worker slot runs the submission immediately.
//  2. Otherwise, room in the waiting list enqueues it FIFO.
//  3. Otherwise, the submission fails with inference/busy.
//
// # Cancellation
//
// Every submission carries a context. Cancelled while waiting: removed
// from the list and completed with inference/cancelled without touching
// the backend. Cancelled while running: the context aborts the backend
// best-effort; a unary call that finishes anyway has its result
// discarded so a poisoned partial never reaches the caller.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/DentalAssistant/services/backend/apperrors"
	"github.com/AleutianAI/DentalAssistant/services/backend/observability"
)

// =============================================================================
// Public Types
// =============================================================================

// Queue names one of the scheduler's work-streams.
type Queue string

const (
	QueueSpeech   Queue = "speech"
	QueueGenerate Queue = "generate"
	QueueEmbed    Queue = "embed"
)

// Work is a unit of model work. It must honour ctx cancellation as the
// backend permits; streaming work halts token production, unary work may
// run to completion (the result is then discarded).
type Work func(ctx context.Context) (any, error)

// Config sizes the scheduler.
type Config struct {
	// Workers is the pool size per queue. Defaults: speech=1,
	// generate=1 (2 on high_vram hosts), embed=1.
	Workers map[Queue]int

	// WaitingCap bounds each waiting list. 0 rejects whenever all
	// workers are busy; negative falls back to the default of 16.
	WaitingCap int

	// WaitBudget is the longest a submission may sit in a waiting list
	// before it is rejected as busy instead of occupying a slot forever.
	WaitBudget time.Duration
}

// DefaultConfig returns the standard sizing. generateWorkers <= 0 uses 1.
func DefaultConfig(generateWorkers int) Config {
	if generateWorkers <= 0 {
		generateWorkers = 1
	}
	return Config{
		Workers: map[Queue]int{
			QueueSpeech:   1,
			QueueGenerate: generateWorkers,
			QueueEmbed:    1,
		},
		WaitingCap: 16,
		WaitBudget: 90 * time.Second,
	}
}

// QueueStatus is the live snapshot of one queue.
type QueueStatus struct {
	Running  int `json:"running"`
	Waiting  int `json:"waiting"`
	Capacity int `json:"capacity"`
}

// RetryAfterHint is the suggested client backoff attached to busy errors.
const RetryAfterHint = 2 * time.Second

// =============================================================================
// Future
// =============================================================================

type result struct {
	value any
	err   error
}

// Future delivers one submission's outcome.
type Future struct {
	done chan result
}

// Wait blocks until the submission completes. The submission's own
// context governs cancellation; Wait never abandons a running worker.
func (f *Future) Wait() (any, error) {
	res := <-f.done
	return res.value, res.err
}

// =============================================================================
// Scheduler
// =============================================================================

type submission struct {
	ticket    uint64
	ctx       context.Context
	work      Work
	done      chan result
	claimed   bool          // set under queue mutex when a worker takes it
	claimedCh chan struct{} // closed alongside claimed; wakes the waiting watcher
}

// claimLocked marks the submission taken. Callers hold the queue mutex.
func (sub *submission) claimLocked() {
	if !sub.claimed {
		sub.claimed = true
		close(sub.claimedCh)
	}
}

type queue struct {
	name       Queue
	mu         sync.Mutex
	capacity   int
	running    int
	waiting    []*submission
	nextTicket uint64
	closed     bool
	idle       chan struct{} // signalled when running drops to zero
}

// Scheduler owns the three queues. Create with New; share one instance
// per process.
type Scheduler struct {
	queues     map[Queue]*queue
	waitingCap int
	waitBudget time.Duration
}

// New creates a scheduler from cfg. A nil Workers map takes
// DefaultConfig(0), a negative WaitingCap takes 16, a non-positive
// WaitBudget takes 90s, and a worker count below 1 is raised to 1.
func New(cfg Config) *Scheduler {
	if cfg.Workers == nil {
		cfg = DefaultConfig(0)
	}
	// WaitingCap 0 is a valid configuration (reject instead of queue);
	// only a negative value falls back to the default.
	if cfg.WaitingCap < 0 {
		cfg.WaitingCap = 16
	}
	if cfg.WaitBudget <= 0 {
		cfg.WaitBudget = 90 * time.Second
	}

	s := &Scheduler{
		queues:     make(map[Queue]*queue, len(cfg.Workers)),
		waitingCap: cfg.WaitingCap,
		waitBudget: cfg.WaitBudget,
	}
	for name, capacity := range cfg.Workers {
		if capacity < 1 {
			capacity = 1
		}
		s.queues[name] = &queue{
			name:     name,
			capacity: capacity,
			idle:     make(chan struct{}, 1),
		}
	}
	return s
}

// Submit hands work to the named queue.
//
// Returns the Future on admission, or immediately an inference/busy
// error (pool and waiting list full, or shutting down) or input/invalid
// (unknown queue, nil work).
func (s *Scheduler) Submit(ctx context.Context, name Queue, work Work) (*Future, error) {
	if work == nil {
		return nil, apperrors.New(apperrors.KindInputInvalid, "nil work")
	}
	q, ok := s.queues[name]
	if !ok {
		return nil, apperrors.New(apperrors.KindInputInvalid, fmt.Sprintf("unknown queue %q", name))
	}

	sub := &submission{
		ctx:       ctx,
		work:      work,
		done:      make(chan result, 1),
		claimedCh: make(chan struct{}),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, busyError(name)
	}
	q.nextTicket++
	sub.ticket = q.nextTicket

	switch {
	case q.running < q.capacity:
		q.running++
		sub.claimLocked()
		q.mu.Unlock()
		go s.run(q, sub)
	case len(q.waiting) < s.waitingCap:
		q.waiting = append(q.waiting, sub)
		q.mu.Unlock()
		go s.watchWaiting(q, sub)
	default:
		q.mu.Unlock()
		if m := observability.DefaultMetrics; m != nil {
			m.QueueRejectionsTotal.WithLabelValues(string(name)).Inc()
		}
		return nil, busyError(name)
	}

	return &Future{done: sub.done}, nil
}

// Status returns the live snapshot per queue.
func (s *Scheduler) Status() map[Queue]QueueStatus {
	out := make(map[Queue]QueueStatus, len(s.queues))
	for name, q := range s.queues {
		q.mu.Lock()
		out[name] = QueueStatus{
			Running:  q.running,
			Waiting:  len(q.waiting),
			Capacity: q.capacity,
		}
		q.mu.Unlock()
	}
	return out
}

// Overloaded reports whether the named queue would reject a submission
// right now. The HTTP layer uses this to shed load at the edge before a
// request body is even parsed into scheduler work.
func (s *Scheduler) Overloaded(name Queue) bool {
	q, ok := s.queues[name]
	if !ok {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed || (q.running >= q.capacity && len(q.waiting) >= s.waitingCap)
}

// Shutdown stops admissions, cancels every waiting submission with
// inference/cancelled, and waits up to ctx for running work to drain.
func (s *Scheduler) Shutdown(ctx context.Context) {
	for _, q := range s.queues {
		q.mu.Lock()
		q.closed = true
		waiting := q.waiting
		q.waiting = nil
		for _, sub := range waiting {
			sub.claimLocked()
		}
		q.mu.Unlock()

		for _, sub := range waiting {
			sub.done <- result{err: apperrors.New(apperrors.KindInferenceCancelled, "cancelled")}
		}
	}

	for _, q := range s.queues {
		for {
			q.mu.Lock()
			running := q.running
			q.mu.Unlock()
			if running == 0 {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-q.idle:
			case <-time.After(50 * time.Millisecond):
			}
		}
	}
}

// =============================================================================
// Internal
// =============================================================================

// run executes one claimed submission and then drains the waiting list
// while work is available, keeping FIFO start order.
func (s *Scheduler) run(q *queue, sub *submission) {
	for {
		s.execute(sub)

		q.mu.Lock()
		next := q.popWaitingLocked()
		if next == nil {
			q.running--
			if q.running == 0 {
				select {
				case q.idle <- struct{}{}:
				default:
				}
			}
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()
		sub = next
	}
}

// execute performs the backend call for one submission.
func (s *Scheduler) execute(sub *submission) {
	if err := sub.ctx.Err(); err != nil {
		sub.done <- result{err: cancelKind(err)}
		return
	}

	value, err := sub.work(sub.ctx)

	// A cancellation that raced the backend call wins: the result of a
	// cancelled unary inference is discarded, never delivered.
	if ctxErr := sub.ctx.Err(); ctxErr != nil {
		sub.done <- result{err: cancelKind(ctxErr)}
		return
	}

	if err != nil {
		appErr := apperrors.From(err)
		if appErr.Kind == apperrors.KindSystemInternal {
			appErr = apperrors.Wrap(apperrors.KindInferenceRuntime, err)
		}
		sub.done <- result{err: appErr}
		return
	}
	sub.done <- result{value: value}
}

// popWaitingLocked removes and returns the oldest live waiting
// submission. Callers hold q.mu.
func (q *queue) popWaitingLocked() *submission {
	for len(q.waiting) > 0 {
		sub := q.waiting[0]
		q.waiting = q.waiting[1:]
		if sub.ctx.Err() != nil {
			sub.claimLocked()
			sub.done <- result{err: cancelKind(sub.ctx.Err())}
			continue
		}
		sub.claimLocked()
		return sub
	}
	return nil
}

// watchWaiting removes a waiting submission when its context is
// cancelled or its wait budget expires, without contacting the backend.
func (s *Scheduler) watchWaiting(q *queue, sub *submission) {
	timer := time.NewTimer(s.waitBudget)
	defer timer.Stop()

	fail := func(err error) bool {
		q.mu.Lock()
		if sub.claimed {
			q.mu.Unlock()
			return false
		}
		for i, w := range q.waiting {
			if w == sub {
				q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
				break
			}
		}
		sub.claimLocked()
		q.mu.Unlock()
		sub.done <- result{err: err}
		return true
	}

	select {
	case <-sub.claimedCh:
	case <-sub.ctx.Done():
		fail(cancelKind(sub.ctx.Err()))
	case <-timer.C:
		if fail(busyError(q.name)) {
			if m := observability.DefaultMetrics; m != nil {
				m.QueueRejectionsTotal.WithLabelValues(string(q.name)).Inc()
			}
		}
	}
}

func busyError(name Queue) *apperrors.Error {
	return apperrors.New(apperrors.KindInferenceBusy,
		fmt.Sprintf("queue %s full, retry after %s", name, RetryAfterHint))
}

func cancelKind(ctxErr error) error {
	detail := "cancelled"
	if ctxErr == context.DeadlineExceeded {
		detail = "deadline exceeded"
	}
	return apperrors.New(apperrors.KindInferenceCancelled, detail)
}

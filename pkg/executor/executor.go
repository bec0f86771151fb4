// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

// Package executor dispatches check invocations without blocking the caller.
// Synchronous checks run on a fixed pool of workers fed by a pending channel;
// asynchronous checks are tasks started by a single dispatcher goroutine and
// cancelled through their context. Work is deduplicated per key: while an
// invocation for a key is in flight, further submits return its future.
package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"github.com/pitkley/watchpost/pkg/result"
	"github.com/pitkley/watchpost/pkg/util/log"
)

var (
	// ErrShutdown is returned by Submit after Shutdown was called.
	ErrShutdown = errors.New("executor is shut down")
	// ErrSaturated is returned by Submit when the pending queue stayed full
	// beyond the backpressure wait.
	ErrSaturated = errors.New("executor is saturated")
)

// erroredRetention bounds the errored snapshot buffer.
const erroredRetention = 100

// defaultSubmitWait is how long Submit blocks on a full sync queue before
// rejecting with ErrSaturated.
const defaultSubmitWait = 100 * time.Millisecond

// Job is one check invocation. Sync check bodies may ignore the context (the
// deadline is soft for them); async bodies must honor it.
type Job func(ctx context.Context) ([]result.CheckResult, error)

// Future is the handle for one in-flight invocation. It resolves exactly
// once; every submitter of the same key holds the same future.
type Future struct {
	key     string
	done    chan struct{}
	results []result.CheckResult
	err     error
}

// Key returns the deduplication key of the invocation.
func (f *Future) Key() string { return f.key }

// Done is closed when the invocation resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the invocation resolves or ctx is cancelled. On
// cancellation the in-flight work keeps running; only the wait is abandoned.
func (f *Future) Wait(ctx context.Context) ([]result.CheckResult, error) {
	select {
	case <-f.done:
		return f.results, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ErrorRecord is one entry of the bounded errored buffer.
type ErrorRecord struct {
	Key   string    `json:"key"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// Stats are the rolling executor counters.
type Stats struct {
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Errored   int64 `json:"errored"`
}

type invocation struct {
	future   *Future
	job      Job
	deadline time.Duration
}

// Executor is the key-aware dispatcher. One mutex guards the in-flight map
// and the errored buffer; it is taken only at submit and completion, never
// around user code.
type Executor struct {
	mu       sync.Mutex
	inflight map[string]*Future
	errored  []ErrorRecord
	stopped  bool

	// held for reading across every channel send so Shutdown can close the
	// queues without racing a submitter
	sendMu sync.RWMutex

	pending      chan *invocation
	asyncPending chan *invocation

	workersWG sync.WaitGroup
	tasksWG   sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	runningCount   atomic.Int64
	completedCount atomic.Int64
	erroredCount   atomic.Int64

	clock      clock.Clock
	submitWait time.Duration
}

// Option customizes an Executor.
type Option func(*Executor)

// WithClock substitutes the wall clock, used by tests.
func WithClock(c clock.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithSubmitWait adjusts the backpressure wait before Submit rejects.
func WithSubmitWait(d time.Duration) Option {
	return func(e *Executor) { e.submitWait = d }
}

// New starts an executor with the given number of sync workers and pending
// queue capacity.
func New(workers, queueCap int, opts ...Option) *Executor {
	if workers < 1 {
		workers = 1
	}
	if queueCap < 1 {
		queueCap = 1
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	e := &Executor{
		inflight:     make(map[string]*Future),
		pending:      make(chan *invocation, queueCap),
		asyncPending: make(chan *invocation, queueCap),
		rootCtx:      rootCtx,
		rootCancel:   rootCancel,
		clock:        clock.New(),
		submitWait:   defaultSubmitWait,
	}
	for _, opt := range opts {
		opt(e)
	}

	for i := 0; i < workers; i++ {
		e.workersWG.Add(1)
		go e.work(i)
	}
	e.workersWG.Add(1)
	go e.dispatchAsync()

	log.Debugf("Executor started with %d workers", workers)
	return e
}

// Submit schedules the job under key. If a future for the key is already in
// flight it is returned instead of starting new work; otherwise the job is
// queued on the sync pool or handed to the async dispatcher. A deadline of
// zero means none.
func (e *Executor) Submit(key string, job Job, async bool, deadline time.Duration) (*Future, error) {
	e.sendMu.RLock()
	defer e.sendMu.RUnlock()

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, ErrShutdown
	}
	if inflight, ok := e.inflight[key]; ok {
		e.mu.Unlock()
		return inflight, nil
	}

	future := &Future{key: key, done: make(chan struct{})}
	e.inflight[key] = future
	e.mu.Unlock()

	inv := &invocation{future: future, job: job, deadline: deadline}

	if async {
		select {
		case e.asyncPending <- inv:
			return future, nil
		default:
		}
	} else {
		select {
		case e.pending <- inv:
			return future, nil
		default:
		}
	}

	// queue full: brief backpressure wait, then reject
	queue := e.pending
	if async {
		queue = e.asyncPending
	}
	timer := e.clock.Timer(e.submitWait)
	defer timer.Stop()
	select {
	case queue <- inv:
		return future, nil
	case <-timer.C:
		e.abandon(future)
		return nil, ErrSaturated
	}
}

// abandon resolves a future whose invocation never made it onto a queue.
// The future was already published in the in-flight map, so a concurrent
// Submit for the same key may hold it; resolving it with ErrSaturated
// unblocks those holders instead of stranding them.
func (e *Executor) abandon(future *Future) {
	e.mu.Lock()
	delete(e.inflight, future.key)
	e.mu.Unlock()

	future.err = ErrSaturated
	close(future.done)
}

func (e *Executor) work(id int) {
	defer e.workersWG.Done()
	log.Debugf("Worker %d ready to process checks", id)

	for inv := range e.pending {
		e.runInvocation(inv)
	}

	log.Debugf("Worker %d finished processing checks", id)
}

// dispatchAsync is the single goroutine owning the async back-end; each task
// runs in its own goroutine under the root context.
func (e *Executor) dispatchAsync() {
	defer e.workersWG.Done()

	for inv := range e.asyncPending {
		e.tasksWG.Add(1)
		go func(inv *invocation) {
			defer e.tasksWG.Done()
			e.runInvocation(inv)
		}(inv)
	}
}

func (e *Executor) runInvocation(inv *invocation) {
	ctx := e.rootCtx
	if inv.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.deadline)
		defer cancel()
	}

	e.runningCount.Inc()
	results, err := inv.job(ctx)
	e.runningCount.Dec()

	e.complete(inv.future, results, err)
}

func (e *Executor) complete(future *Future, results []result.CheckResult, err error) {
	e.mu.Lock()
	delete(e.inflight, future.key)
	if err != nil {
		e.errored = append(e.errored, ErrorRecord{
			Key:   future.key,
			Error: err.Error(),
			At:    e.clock.Now(),
		})
		if len(e.errored) > erroredRetention {
			e.errored = e.errored[len(e.errored)-erroredRetention:]
		}
	}
	e.mu.Unlock()

	e.completedCount.Inc()
	if err != nil {
		e.erroredCount.Inc()
		log.Debugf("Check %s errored: %v", future.key, err)
	}

	future.results = results
	future.err = err
	close(future.done)
}

// Statistics returns the rolling counters.
func (e *Executor) Statistics() Stats {
	return Stats{
		Running:   e.runningCount.Load(),
		Completed: e.completedCount.Load(),
		Errored:   e.erroredCount.Load(),
	}
}

// ErroredSnapshot returns a copy of the bounded errored buffer, oldest
// first.
func (e *Executor) ErroredSnapshot() []ErrorRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]ErrorRecord, len(e.errored))
	copy(out, e.errored)
	return out
}

// Shutdown stops accepting work. With drain, it waits for queued and
// in-flight invocations to finish; without, in-flight async tasks are
// cancelled through their context and sync workers finish their current
// check.
func (e *Executor) Shutdown(drain bool) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	// wait out in-progress submits, then close the queues
	e.sendMu.Lock()
	close(e.pending)
	close(e.asyncPending)
	e.sendMu.Unlock()

	if !drain {
		e.rootCancel()
	}

	e.workersWG.Wait()
	e.tasksWG.Wait()
	e.rootCancel()

	log.Debugf("Executor shut down (drain=%v)", drain)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/davidshq/forgetfulme-sub002/internal/observe"
)

// errQueueClosed is returned when an operation is submitted after Close.
var errQueueClosed = errors.New("auth operation queue closed")

type opResult struct {
	value any
	err   error
}

type queuedOp struct {
	name string
	ctx  context.Context
	run  func(ctx context.Context) (any, error)
	done chan opResult // buffered, drain never blocks on delivery
}

// opQueue serializes session-mutating operations.
//
// Operations are admitted FIFO and processed by a single drain loop, one
// at a time, each run to completion before the next starts. Callers get
// per-operation results that resolve independently; one operation's
// failure does not abort queued siblings. The drain goroutine exists only
// while work is pending.
type opQueue struct {
	logger  *slog.Logger
	metrics *observe.Metrics

	mu       sync.Mutex
	pending  []*queuedOp
	draining bool
	closed   bool
	wg       sync.WaitGroup
}

func newOpQueue(logger *slog.Logger, metrics *observe.Metrics) *opQueue {
	return &opQueue{logger: logger, metrics: metrics}
}

// Do submits fn and blocks until it has run to completion.
// Session operations are not independently cancellable: a caller whose
// context expires simply stops waiting for a result it no longer needs,
// while the operation itself still runs in queue order on a context
// detached from the caller's cancellation.
func (q *opQueue) Do(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	done, err := q.submit(ctx, name, fn)
	if err != nil {
		return nil, err
	}
	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DoAsync submits fn without waiting for its result. Used for the
// post-restore background refresh, which must never block the caller.
func (q *opQueue) DoAsync(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) {
	if _, err := q.submit(ctx, name, fn); err != nil {
		q.logger.Debug("background operation rejected", "op", name, "error", err)
	}
}

func (q *opQueue) submit(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (chan opResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, errQueueClosed
	}

	op := &queuedOp{
		name: name,
		ctx:  ctx,
		run:  fn,
		done: make(chan opResult, 1),
	}
	q.pending = append(q.pending, op)
	q.metrics.QueueDepth.Set(float64(len(q.pending)))

	if !q.draining {
		q.draining = true
		q.wg.Add(1)
		go q.drain()
	}
	return op.done, nil
}

// drain processes queued operations strictly in arrival order.
func (q *opQueue) drain() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		op := q.pending[0]
		q.pending = q.pending[1:]
		q.metrics.QueueDepth.Set(float64(len(q.pending)))
		q.mu.Unlock()

		value, err := runOp(op)
		op.done <- opResult{value: value, err: err}
	}
}

// runOp executes one operation, converting a panic into an error so a
// broken operation cannot kill the drain loop. The operation runs on a
// context detached from the submitter's cancellation: a caller that gave
// up waiting must not turn an already-admitted operation into a remote
// failure, which for a refresh would tear down a valid session.
func runOp(op *queuedOp) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", op.name, r)
		}
	}()
	return op.run(context.WithoutCancel(op.ctx))
}

// Close rejects further submissions and waits for already-queued
// operations to finish.
func (q *opQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.wg.Wait()
}

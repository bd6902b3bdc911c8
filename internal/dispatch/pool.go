package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/stockline/internal/flow"
	"github.com/roach88/stockline/internal/metrics"
)

// DefaultWorkerIdle is how long an identity's worker waits for another
// turn before it exits.
const DefaultWorkerIdle = time.Minute

// ErrPoolClosed is returned for turns submitted after Close.
var ErrPoolClosed = errors.New("dispatch: pool closed")

// Handler handles one turn. *Dispatcher implements it.
type Handler interface {
	Handle(ctx context.Context, ev flow.Event) ([]flow.Reply, error)
}

var _ Handler = (*Dispatcher)(nil)

// Pool runs turns through a Handler with one worker goroutine per active
// identity. Turns for one identity run in arrival order; identities run in
// parallel. A worker exits after it has been idle for the worker idle
// time and is started again by the identity's next turn.
//
// Thread-safety: Pool is safe for concurrent use.
type Pool struct {
	handler Handler
	idle    time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	queues map[string]*turnQueue
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWorkerIdle sets how long an idle worker lingers.
func WithWorkerIdle(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.idle = d
		}
	}
}

// WithPoolMetrics sets the metrics sink for the queue gauge.
func WithPoolMetrics(m *metrics.Metrics) PoolOption {
	return func(p *Pool) {
		p.metrics = m
	}
}

// WithPoolLogger sets the logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = l
	}
}

// NewPool creates a Pool over h.
func NewPool(h Handler, opts ...PoolOption) *Pool {
	p := &Pool{
		handler: h,
		idle:    DefaultWorkerIdle,
		logger:  slog.Default(),
		queues:  make(map[string]*turnQueue),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit queues ev behind earlier turns of the same identity. The returned
// channel receives exactly one Result.
func (p *Pool) Submit(ctx context.Context, ev flow.Event) <-chan Result {
	done := make(chan Result, 1)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		done <- Result{Err: ErrPoolClosed}
		return done
	}
	q, ok := p.queues[ev.Identity]
	if !ok {
		q = newTurnQueue()
		p.queues[ev.Identity] = q
		p.wg.Add(1)
		go p.work(ev.Identity, q)
	}
	// Queues in the map are never closed: retiring takes p.mu.
	q.Enqueue(turn{ctx: ctx, ev: ev, done: done})
	p.metrics.QueueDelta(1)
	return done
}

// Do submits ev and waits for its result or for ctx to end.
func (p *Pool) Do(ctx context.Context, ev flow.Event) ([]flow.Reply, error) {
	select {
	case r := <-p.Submit(ctx, ev):
		return r.Replies, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Workers returns the number of running identity workers.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queues)
}

// Close stops accepting turns, lets the workers finish what is queued and
// waits for them to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) work(identity string, q *turnQueue) {
	defer p.wg.Done()

	timer := time.NewTimer(p.idle)
	defer timer.Stop()

	for {
		if t, ok := q.TryDequeue(); ok {
			p.metrics.QueueDelta(-1)
			p.run(t)
			continue
		}

		timer.Reset(p.idle)
		select {
		case <-q.Wait():
		case <-timer.C:
			if p.retire(identity, q) {
				return
			}
		case <-p.done:
			if p.retire(identity, q) {
				return
			}
		}
	}
}

// retire removes the worker's queue if it is still empty.
func (p *Pool) retire(identity string, q *turnQueue) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !q.closeIfEmpty() {
		return false
	}
	delete(p.queues, identity)
	return true
}

func (p *Pool) run(t turn) {
	if err := t.ctx.Err(); err != nil {
		// The caller gave up while the turn was queued.
		t.done <- Result{Err: err}
		return
	}
	replies, err := p.handler.Handle(t.ctx, t.ev)
	if err != nil {
		p.logger.Warn("turn not handled", "identity", t.ev.Identity, "error", err)
	}
	t.done <- Result{Replies: replies, Err: err}
}

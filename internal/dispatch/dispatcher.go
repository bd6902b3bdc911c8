// Package dispatch routes inbound events through the flow engine.
//
// For each event the Dispatcher loads the identity's session, resets it
// when it has been idle too long, steps the engine, executes a confirmed
// commit, and persists the next session. Events for one identity are
// handled strictly one at a time; different identities run in parallel.
//
// Store failures never reach the user as errors: the turn is answered with
// a generic apology and the stored session is left as it was. A session
// that breaks the flow invariants is logged and reset to Idle.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/stockline/internal/domain"
	"github.com/roach88/stockline/internal/flow"
	"github.com/roach88/stockline/internal/metrics"
	"github.com/roach88/stockline/internal/session"
	"github.com/roach88/stockline/internal/txn"
)

const (
	// DefaultIdleWindow is how long a session may sit untouched before the
	// next event starts it over.
	DefaultIdleWindow = 30 * time.Minute

	// DefaultTurnTimeout bounds the store and commit work of one turn.
	DefaultTurnTimeout = 10 * time.Second
)

// apologyText answers a turn that failed for reasons the user cannot fix.
const apologyText = "Sorry, something went wrong on our side and nothing was changed. Please try again."

// expiredText prefixes the first reply after a mid-flow session expired.
const expiredText = "Your previous conversation timed out, so I started over."

// ErrNoIdentity is returned for events without an identity.
var ErrNoIdentity = errors.New("dispatch: event has no identity")

// Committer executes confirmed commits. *txn.Executor implements it.
type Committer interface {
	CommitStockChange(ctx context.Context, req txn.StockChange) (domain.StockReceipt, error)
	CommitOrder(ctx context.Context, req txn.OrderRequest) (domain.OrderReceipt, error)
}

var _ Committer = (*txn.Executor)(nil)

// Dispatcher handles inbound events end to end.
//
// Thread-safety: Dispatcher is safe for concurrent use. Handle serializes
// events per identity with an internal lock.
type Dispatcher struct {
	sessions    session.Store
	engine      *flow.Engine
	exec        Committer
	now         func() time.Time
	idleWindow  time.Duration
	turnTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger
	locks       identityLocks
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithIdleWindow sets the session idle window. Zero disables expiry.
func WithIdleWindow(w time.Duration) Option {
	return func(d *Dispatcher) {
		d.idleWindow = w
	}
}

// WithTurnTimeout sets the per-turn deadline. Zero disables it.
func WithTurnTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		d.turnTimeout = t
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// New creates a Dispatcher.
func New(sessions session.Store, engine *flow.Engine, exec Committer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sessions:    sessions,
		engine:      engine,
		exec:        exec,
		now:         time.Now,
		idleWindow:  DefaultIdleWindow,
		turnTimeout: DefaultTurnTimeout,
		logger:      slog.Default(),
		locks:       identityLocks{m: make(map[string]*identityLock)},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle processes one inbound event and returns the replies to send.
//
// The returned error is reserved for events that cannot be handled at all:
// a missing identity or a context that is already done. Every other
// failure is answered with a reply.
func (d *Dispatcher) Handle(ctx context.Context, ev flow.Event) ([]flow.Reply, error) {
	ev.Identity = strings.TrimSpace(ev.Identity)
	if ev.Identity == "" {
		return nil, ErrNoIdentity
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := d.locks.lock(ev.Identity)
	defer unlock()

	if d.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.turnTimeout)
		defer cancel()
	}

	start := d.now()
	replies, flowName, result := d.handle(ctx, ev)
	d.metrics.Turn(flowName, result, d.now().Sub(start))
	return replies, nil
}

// handle runs one turn under the identity lock. It returns the replies, the
// flow the turn started in and the turn result for metrics.
func (d *Dispatcher) handle(ctx context.Context, ev flow.Event) ([]flow.Reply, string, string) {
	logger := d.logger.With("identity", ev.Identity)
	now := d.now()

	sess, created, err := session.Load(ctx, d.sessions, ev.Identity, now)
	if err != nil {
		return d.apologize(logger, domain.NewPersistenceError("load session", err)), "", metrics.ResultError
	}
	if created {
		logger.Debug("session created")
	}

	var note string
	if sess.Expired(now, d.idleWindow) {
		if sess.Flow != session.FlowIdle {
			note = expiredText
		}
		logger.Info("session expired", "flow", sess.Flow, "updated_at", sess.UpdatedAt)
		d.metrics.Expired()
		sess = session.New(ev.Identity, now)
	}
	startFlow := string(sess.Flow)

	out, err := d.engine.Step(ctx, sess, ev)
	if err != nil {
		if !domain.IsCode(err, domain.CodeInvariantViolation) {
			return d.apologize(logger, err), startFlow, metrics.ResultError
		}
		logger.Error("session reset", "flow", sess.Flow, "error", err)
		d.metrics.Error(string(domain.CodeInvariantViolation))
		out = d.engine.Reset(sess)
	}

	committed := false
	if out.Commit != nil {
		out, committed, err = d.commit(ctx, logger, out.Next, *out.Commit)
		if err != nil {
			return d.apologize(logger, err), startFlow, metrics.ResultError
		}
	}

	out.Next.UpdatedAt = d.now()
	if err := d.sessions.Update(ctx, out.Next); err != nil {
		perr := domain.NewPersistenceError("save session", err)
		if !committed {
			return d.apologize(logger, perr), startFlow, metrics.ResultError
		}
		// The commit is durable and keyed by its instance id; a replayed
		// confirmation returns the same receipt.
		logger.Error("session not saved after commit", "error", perr)
		d.metrics.Error(string(domain.CodePersistenceUnavailable))
	}

	logger.Debug("turn handled",
		"flow", startFlow,
		"next", out.Next.Flow,
		"reprompted", out.Reprompted,
	)

	replies := out.Replies
	if note != "" {
		replies = append([]flow.Reply{{Text: note}}, replies...)
	}
	result := metrics.ResultOK
	if out.Reprompted {
		result = metrics.ResultReprompt
	}
	return replies, startFlow, result
}

// commit executes c and lets the engine finish the transition. committed
// reports whether the change was applied.
func (d *Dispatcher) commit(ctx context.Context, logger *slog.Logger, next session.Session, c flow.Commit) (out flow.Outcome, committed bool, err error) {
	var (
		kind    string
		receipt any
	)
	switch {
	case c.Stock != nil:
		kind = "stock"
		receipt, err = d.exec.CommitStockChange(ctx, *c.Stock)
	case c.Order != nil:
		kind = "order"
		receipt, err = d.exec.CommitOrder(ctx, *c.Order)
	default:
		return flow.Outcome{}, false, domain.NewInvariantError(next.Identity, "empty commit")
	}
	d.metrics.Commit(kind, err)

	if err != nil {
		logger.Info("commit failed", "kind", kind, "error", err)
		d.metrics.Error(string(domain.CodeOf(err)))
		out, err = d.engine.CommitFailed(next, c, err)
		return out, false, err
	}
	logger.Info("committed", "kind", kind)
	return d.engine.Committed(next, c, receipt), true, nil
}

func (d *Dispatcher) apologize(logger *slog.Logger, err error) []flow.Reply {
	code := domain.CodeOf(err)
	if code == "" {
		code = domain.CodePersistenceUnavailable
	}
	logger.Error("turn failed", "code", code, "error", err)
	d.metrics.Error(string(code))
	return []flow.Reply{{Text: apologyText}}
}

// Sweep removes sessions that have been idle longer than the idle window,
// at most limit of them, and returns how many were removed. A session
// touched after it was listed is kept.
func (d *Dispatcher) Sweep(ctx context.Context, limit int) (int, error) {
	if d.idleWindow <= 0 {
		return 0, nil
	}
	now := d.now()
	idle, err := d.sessions.ListIdle(ctx, now.Add(-d.idleWindow), limit)
	if err != nil {
		return 0, domain.NewPersistenceError("list idle sessions", err)
	}

	n := 0
	for _, identity := range idle {
		removed, err := d.sweepOne(ctx, identity, now)
		if err != nil {
			return n, err
		}
		if removed {
			n++
		}
	}
	d.metrics.Swept(n)
	d.logger.Info("sessions swept", "removed", n, "listed", len(idle))
	return n, nil
}

func (d *Dispatcher) sweepOne(ctx context.Context, identity string, now time.Time) (bool, error) {
	unlock := d.locks.lock(identity)
	defer unlock()

	sess, err := d.sessions.Get(ctx, identity)
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, domain.NewPersistenceError("load session", err)
	}
	if !sess.Expired(now, d.idleWindow) {
		return false, nil
	}
	if err := d.sessions.Clear(ctx, identity); err != nil {
		return false, domain.NewPersistenceError("clear session", err)
	}
	return true, nil
}

// identityLocks is a set of mutexes keyed by identity. Entries are dropped
// when no goroutine holds or waits for them.
type identityLocks struct {
	mu sync.Mutex
	m  map[string]*identityLock
}

type identityLock struct {
	mu   sync.Mutex
	refs int
}

func (l *identityLocks) lock(identity string) (unlock func()) {
	l.mu.Lock()
	il, ok := l.m[identity]
	if !ok {
		il = &identityLock{}
		l.m[identity] = il
	}
	il.refs++
	l.mu.Unlock()

	il.mu.Lock()
	return func() {
		il.mu.Unlock()
		l.mu.Lock()
		il.refs--
		if il.refs == 0 {
			delete(l.m, identity)
		}
		l.mu.Unlock()
	}
}

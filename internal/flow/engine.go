// Package flow implements the per-identity conversation state machine.
//
// Step is a pure transition: given a session and an inbound event it returns
// the next session, the replies to send and, when the user confirmed a
// stock change or an order, the commit to execute. The engine never writes
// to a store. The caller executes the commit and hands the result back
// through Committed or CommitFailed, which produce the final state.
//
// Recoverable problems (no match, malformed or stale selection, invalid
// field, lost version race) become re-prompts. Every state has its own
// re-prompt; mid-flow text is never silently treated as a new request.
// Only PersistenceUnavailable and InvariantViolation errors are returned.
package flow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/stockline/internal/domain"
	"github.com/roach88/stockline/internal/ids"
	"github.com/roach88/stockline/internal/intent"
	"github.com/roach88/stockline/internal/selection"
	"github.com/roach88/stockline/internal/session"
	"github.com/roach88/stockline/internal/txn"
)

// EventKind distinguishes free text from structured replies.
type EventKind string

const (
	EventText      EventKind = "text"
	EventSelection EventKind = "selection"
)

// Event is one inbound message.
type Event struct {
	Identity       string    `json:"identity" yaml:"identity"`
	Kind           EventKind `json:"kind" yaml:"kind"`
	Text           string    `json:"text,omitempty" yaml:"text,omitempty"`
	SelectionToken string    `json:"selection_token,omitempty" yaml:"selection_token,omitempty"`
}

// Choice is one structured reply button.
type Choice struct {
	Token string `json:"token"`
	Label string `json:"label"`
}

// Reply is one outbound message: text plus at most MaxChoices buttons.
type Reply struct {
	Text    string   `json:"text"`
	Choices []Choice `json:"choices,omitempty"`
}

// MaxChoices is the transport's limit on buttons per message.
const MaxChoices = 3

// Commit is a confirmed side effect. Exactly one field is set.
type Commit struct {
	Stock *txn.StockChange
	Order *txn.OrderRequest
}

// Outcome is the result of one transition.
type Outcome struct {
	Next    session.Session
	Replies []Reply
	Commit  *Commit

	// Reprompted is set when the input was not valid for the state and the
	// state's prompt was repeated.
	Reprompted bool
}

// Resolver is the entity resolution collaborator.
type Resolver interface {
	Resolve(ctx context.Context, query string) ([]domain.Candidate, error)
	Suggest(ctx context.Context, query string, n int) ([]domain.Candidate, error)
	Lookup(ctx context.Context, id string) (domain.Product, error)
}

// Config holds presentation limits and order pricing.
type Config struct {
	// DisplayCap is how many candidates are offered as buttons.
	DisplayCap int
	// MaxRows is the transport's limit on listing rows in one message.
	MaxRows int
	// LabelCap is the transport's limit on button label length, in runes.
	LabelCap int
	// TaxRateBps is the order tax rate in basis points.
	TaxRateBps int
	// Currency prefixes amounts in order summaries.
	Currency string
}

// DefaultConfig returns the limits of the reference messaging transport.
func DefaultConfig() Config {
	return Config{
		DisplayCap: 3,
		MaxRows:    10,
		LabelCap:   24,
		TaxRateBps: txn.DefaultTaxRateBps,
		Currency:   "INR",
	}
}

// Engine is the conversation state machine.
//
// Thread-safety: Engine holds no per-session state and is safe for
// concurrent use. Callers serialize events per identity.
type Engine struct {
	resolver Resolver
	parser   intent.Parser
	ids      ids.Generator
	now      func() time.Time
	cfg      Config
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithParser sets the intent parser (default intent.RuleParser).
func WithParser(p intent.Parser) Option {
	return func(e *Engine) {
		e.parser = p
	}
}

// WithIDGenerator sets the generator for pending instance ids.
func WithIDGenerator(g ids.Generator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithConfig sets presentation limits. Non-positive limits keep their
// defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		def := DefaultConfig()
		if cfg.DisplayCap <= 0 {
			cfg.DisplayCap = def.DisplayCap
		}
		cfg.DisplayCap = min(cfg.DisplayCap, MaxChoices)
		if cfg.MaxRows <= 0 {
			cfg.MaxRows = def.MaxRows
		}
		if cfg.LabelCap <= 1 {
			cfg.LabelCap = def.LabelCap
		}
		if cfg.TaxRateBps < 0 {
			cfg.TaxRateBps = def.TaxRateBps
		}
		if cfg.Currency == "" {
			cfg.Currency = def.Currency
		}
		e.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine.
func New(resolver Resolver, opts ...Option) *Engine {
	e := &Engine{
		resolver: resolver,
		parser:   intent.RuleParser{},
		ids:      ids.UUIDv7Generator{},
		now:      time.Now,
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Step computes the transition for ev. sess is not modified.
func (e *Engine) Step(ctx context.Context, sess session.Session, ev Event) (Outcome, error) {
	if err := sess.Validate(); err != nil {
		return Outcome{}, err
	}
	sess = sess.Clone()

	var (
		out Outcome
		err error
	)
	if ev.Kind == EventSelection || ev.SelectionToken != "" {
		// Any text echoed alongside a token is ignored: the token is the
		// user's answer.
		out, err = e.stepSelection(ctx, sess, ev.SelectionToken)
	} else {
		out, err = e.stepText(ctx, sess, strings.TrimSpace(ev.Text))
	}
	if err != nil {
		return Outcome{}, e.fatal(err)
	}
	if verr := out.Next.Validate(); verr != nil {
		return Outcome{}, verr
	}
	return out, nil
}

func (e *Engine) stepSelection(ctx context.Context, sess session.Session, token string) (Outcome, error) {
	sel, err := selection.Decode(token)
	if err != nil {
		e.logger.Info("selection not understood", "identity", sess.Identity, "error", err)
		return e.reprompt(ctx, sess, "Sorry, I didn't understand that selection.")
	}

	switch sess.Flow {
	case session.FlowIdle, session.FlowCheckingStock:
		return e.idleSelection(ctx, sess, sel)
	case session.FlowAwaitingDisambiguation:
		return e.disambiguationSelection(ctx, sess, sel)
	case session.FlowAwaitingConfirmation:
		return e.confirmationSelection(ctx, sess, sel)
	case session.FlowCollectingOrderItems, session.FlowCollectingCustomerFields,
		session.FlowAwaitingOrderConfirmation:
		return e.orderSelection(ctx, sess, sel)
	}
	return e.stale(ctx, sess)
}

func (e *Engine) stepText(ctx context.Context, sess session.Session, text string) (Outcome, error) {
	if text == "" {
		return e.reprompt(ctx, sess, "I got an empty message.")
	}

	switch sess.Flow {
	case session.FlowIdle:
		return e.idleText(ctx, sess, text)
	case session.FlowCheckingStock:
		return e.checkText(ctx, sess, text)
	case session.FlowAwaitingDisambiguation:
		return e.disambiguationText(ctx, sess, text)
	case session.FlowAwaitingQuantity:
		return e.quantityText(ctx, sess, text)
	case session.FlowAwaitingActorName:
		return e.actorNameText(ctx, sess, text)
	case session.FlowAwaitingConfirmation:
		return e.confirmationText(ctx, sess, text)
	case session.FlowCollectingOrderItems, session.FlowCollectingCustomerFields,
		session.FlowAwaitingOrderConfirmation:
		return e.orderText(ctx, sess, text)
	}
	return Outcome{}, domain.NewInvariantError(sess.Identity, "no handler for flow "+string(sess.Flow))
}

// Committed finishes a transition whose commit succeeded. receipt is the
// executor's domain.StockReceipt or domain.OrderReceipt.
func (e *Engine) Committed(sess session.Session, c Commit, receipt any) Outcome {
	next := sess.ToIdle()
	switch r := receipt.(type) {
	case domain.StockReceipt:
		name := ""
		if sess.PendingStockAction != nil {
			name = sess.PendingStockAction.ProductName
		}
		return Outcome{Next: next, Replies: []Reply{{Text: e.stockSuccessText(name, c.Stock.Delta, r)}}}
	case domain.OrderReceipt:
		return Outcome{Next: next, Replies: []Reply{{Text: e.orderSuccessText(r)}}}
	}
	e.logger.Error("unknown commit receipt", "identity", sess.Identity)
	return Outcome{Next: next, Replies: []Reply{{Text: "Done."}}}
}

// CommitFailed finishes a transition whose commit failed. Recoverable
// failures become replies; anything else is returned for the caller to
// treat as a failed turn.
func (e *Engine) CommitFailed(sess session.Session, c Commit, err error) (Outcome, error) {
	var de *domain.Error
	if !errors.As(err, &de) || !domain.IsRecoverable(err) {
		return Outcome{}, e.fatal(err)
	}
	e.logger.Info("commit rejected", "identity", sess.Identity, "code", de.Code, "error", err)

	switch de.Code {
	case domain.CodeConcurrentModification:
		// Keep the pending instance so that "yes" retries it.
		prompt := "The stock level changed while saving, so nothing was applied. Reply yes to try again or no to cancel."
		return Outcome{Next: sess, Replies: []Reply{{Text: prompt}}, Reprompted: true}, nil
	case domain.CodeNotFound:
		if c.Order != nil && de.Line > 0 && sess.PendingOrder != nil {
			return e.dropOrderLine(sess, de.Line), nil
		}
		return Outcome{
			Next:    sess.ToIdle(),
			Replies: []Reply{{Text: "That product no longer exists, so nothing was changed."}},
		}, nil
	}
	return Outcome{
		Next:    sess.ToIdle(),
		Replies: []Reply{{Text: "That could not be saved: " + de.Message + ". Nothing was changed."}},
	}, nil
}

// Reset abandons whatever sess was doing after an invariant violation and
// returns it to Idle with an apology and the help text. The cached actor
// name survives.
func (e *Engine) Reset(sess session.Session) Outcome {
	return Outcome{
		Next:    sess.ToIdle(),
		Replies: []Reply{{Text: "Sorry, I lost track of this conversation and had to start over.\n" + helpText}},
	}
}

// fatal converts an unexpected error into the propagated taxonomy.
func (e *Engine) fatal(err error) error {
	switch domain.CodeOf(err) {
	case domain.CodePersistenceUnavailable, domain.CodeInvariantViolation:
		return err
	}
	return domain.NewPersistenceError("flow step", err)
}

// reprompt keeps sess unchanged and repeats its state prompt after reason.
func (e *Engine) reprompt(ctx context.Context, sess session.Session, reason string) (Outcome, error) {
	r, err := e.statePrompt(ctx, sess)
	if err != nil {
		return Outcome{}, err
	}
	if reason != "" {
		r.Text = reason + "\n" + r.Text
	}
	return Outcome{Next: sess, Replies: []Reply{r}, Reprompted: true}, nil
}

// stale answers a selection that does not belong to the current state.
func (e *Engine) stale(ctx context.Context, sess session.Session) (Outcome, error) {
	return e.reprompt(ctx, sess, "That choice is no longer active.")
}

// statePrompt is the prompt each state repeats when it gets input it
// cannot use.
func (e *Engine) statePrompt(ctx context.Context, sess session.Session) (Reply, error) {
	switch sess.Flow {
	case session.FlowIdle:
		return Reply{Text: helpText}, nil
	case session.FlowCheckingStock:
		return Reply{Text: "Which product should I look up? Send a name or SKU, or cancel."}, nil
	case session.FlowAwaitingDisambiguation:
		return e.disambiguationPrompt(*sess.AmbiguousSelection)
	case session.FlowAwaitingQuantity:
		return Reply{Text: e.quantityPrompt(*sess.PendingStockAction)}, nil
	case session.FlowAwaitingActorName:
		return Reply{Text: "Who is receiving this stock? Reply with your name, or cancel."}, nil
	case session.FlowAwaitingConfirmation:
		return e.stockConfirmPrompt(sess)
	case session.FlowCollectingOrderItems, session.FlowCollectingCustomerFields,
		session.FlowAwaitingOrderConfirmation:
		return e.orderPrompt(sess)
	}
	return Reply{}, domain.NewInvariantError(sess.Identity, "no prompt for flow "+string(sess.Flow))
}

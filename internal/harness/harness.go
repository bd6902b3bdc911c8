package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/stockline/internal/catalog"
	"github.com/roach88/stockline/internal/dispatch"
	"github.com/roach88/stockline/internal/domain"
	"github.com/roach88/stockline/internal/flow"
	"github.com/roach88/stockline/internal/store"
	"github.com/roach88/stockline/internal/testutil"
	"github.com/roach88/stockline/internal/txn"
)

// Harness runs one scenario against a private store.
type Harness struct {
	store      *store.Store
	clock      *testutil.ManualClock
	dispatcher *dispatch.Dispatcher
	identity   string
}

// Run executes scenario and returns its transcript and failures. The
// error is non-nil only when the harness itself cannot run; failed
// expectations and assertions are reported in the Result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	clock := testutil.NewManualClock()
	st, err := store.Open(":memory:", store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	products := testutil.Catalog()
	if len(scenario.Catalog) > 0 {
		products = products[:0]
		for _, p := range scenario.Catalog {
			products = append(products, p.product())
		}
	}
	if err := Seed(ctx, st, products); err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := flow.New(catalog.NewResolver(st),
		flow.WithIDGenerator(testutil.NewSequenceGenerator("inst")),
		flow.WithClock(clock.Now),
		flow.WithLogger(logger),
	)
	exec := txn.New(txn.StoreLedger(st),
		txn.WithIDGenerator(testutil.NewSequenceGenerator("id")),
		txn.WithClock(clock.Now),
		txn.WithLogger(logger),
	)
	h := &Harness{
		store: st,
		clock: clock,
		dispatcher: dispatch.New(st, engine, exec,
			dispatch.WithClock(clock.Now),
			dispatch.WithLogger(logger),
		),
		identity: scenario.Identity,
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, err
		}
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	if step.Advance != "" {
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("step %d: %w", index, err)
		}
		h.clock.Advance(d)
		result.AddTurn(Turn{Input: "(clock +" + d.String() + ")"})
		return nil
	}

	identity := step.Identity
	if identity == "" {
		identity = h.identity
	}

	ev := flow.Event{Identity: identity}
	var input string
	if step.Say != nil {
		ev.Kind = flow.EventText
		ev.Text = *step.Say
		input = *step.Say
	} else {
		choices := result.lastChoices(identity)
		if step.Choose > len(choices) {
			result.AddError(fmt.Sprintf("step %d: choose %d but only %d buttons were offered", index, step.Choose, len(choices)))
			return nil
		}
		c := choices[step.Choose-1]
		ev.Kind = flow.EventSelection
		ev.SelectionToken = c.Token
		input = fmt.Sprintf("[%s]", c.Label)
	}

	replies, err := h.dispatcher.Handle(ctx, ev)
	if err != nil {
		return fmt.Errorf("step %d: %w", index, err)
	}
	sess, err := h.store.Get(ctx, identity)
	if err != nil {
		return fmt.Errorf("step %d: read session: %w", index, err)
	}

	turn := Turn{Identity: identity, Input: input, Replies: replies, Flow: string(sess.Flow)}
	result.AddTurn(turn)
	if step.Expect != nil {
		for _, msg := range checkExpect(index, *step.Expect, turn) {
			result.AddError(msg)
		}
	}
	return nil
}

// Seed upserts products into st.
func Seed(ctx context.Context, st *store.Store, products []domain.Product) error {
	for _, p := range products {
		if _, err := st.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("seed %s: %w", p.SKU, err)
		}
	}
	return nil
}

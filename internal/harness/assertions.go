package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/stockline/internal/domain"
	"github.com/roach88/stockline/internal/session"
	"github.com/roach88/stockline/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// AssertionContext carries what assertions read from.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions runs every assertion and returns the failure
// messages.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(actx, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(actx *AssertionContext, a Assertion) error {
	ctx, st := actx.Ctx, actx.Store
	switch a.Type {
	case AssertStock:
		p, err := st.Product(ctx, a.Product)
		if err != nil {
			return err
		}
		return compareInt(a.Type+" "+a.Product, *a.Equals, p.Stock)

	case AssertAuditCount:
		records, err := st.ListAudit(ctx, a.Product, 0)
		if err != nil {
			return err
		}
		return compareInt(a.Type+" "+a.Product, *a.Equals, len(records))

	case AssertOrderCount:
		n, err := st.CountOrders(ctx)
		if err != nil {
			return err
		}
		return compareInt(a.Type, *a.Equals, n)

	case AssertPendingApprovals:
		pending, err := st.ListApprovals(ctx, domain.ApprovalPending)
		if err != nil {
			return err
		}
		return compareInt(a.Type, *a.Equals, len(pending))

	case AssertFlow, AssertActor:
		sess, err := st.Get(ctx, a.Identity)
		if errors.Is(err, session.ErrNotFound) {
			return &AssertionError{Type: a.Type, Expected: "a session for " + a.Identity, Actual: "none"}
		}
		if err != nil {
			return err
		}
		got := string(sess.Flow)
		if a.Type == AssertActor {
			got = sess.CachedActorName
		}
		if got != a.Value {
			return &AssertionError{Type: a.Type + " " + a.Identity, Expected: fmt.Sprintf("%q", a.Value), Actual: fmt.Sprintf("%q", got)}
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func compareInt(what string, want, got int) error {
	if want != got {
		return &AssertionError{Type: what, Expected: fmt.Sprint(want), Actual: fmt.Sprint(got)}
	}
	return nil
}

// checkExpect compares one turn against its expectation.
func checkExpect(index int, exp Expect, turn Turn) []string {
	var failures []string
	fail := func(err error) {
		failures = append(failures, fmt.Sprintf("steps[%d]: %v", index, err))
	}

	if exp.Flow != "" && exp.Flow != turn.Flow {
		fail(&AssertionError{Type: "flow", Expected: exp.Flow, Actual: turn.Flow})
	}
	if exp.ReplyContains != "" {
		var texts []string
		for _, r := range turn.Replies {
			texts = append(texts, r.Text)
		}
		joined := strings.Join(texts, "\n")
		if !strings.Contains(joined, exp.ReplyContains) {
			fail(&AssertionError{Type: "reply_contains", Expected: fmt.Sprintf("%q", exp.ReplyContains), Actual: fmt.Sprintf("%q", joined)})
		}
	}
	if exp.Choices != nil {
		n := 0
		if len(turn.Replies) > 0 {
			n = len(turn.Replies[len(turn.Replies)-1].Choices)
		}
		if n != *exp.Choices {
			fail(&AssertionError{Type: "choices", Expected: fmt.Sprint(*exp.Choices), Actual: fmt.Sprint(n)})
		}
	}
	return failures
}

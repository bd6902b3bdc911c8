package flow

import (
	"context"
	"fmt"

	"github.com/roach88/stockline/internal/domain"
	"github.com/roach88/stockline/internal/selection"
	"github.com/roach88/stockline/internal/session"
)

// disambiguationSelection accepts a button from the stored choice list. The
// token must carry the action and quantity the list was built with and a
// candidate that is on it.
func (e *Engine) disambiguationSelection(ctx context.Context, sess session.Session, sel selection.Selection) (Outcome, error) {
	a := sess.AmbiguousSelection
	if sel.Action != tokenAction(a.IntendedAction, a.Quantity) || sel.Quantity != a.Quantity {
		return e.stale(ctx, sess)
	}
	for _, c := range a.Candidates {
		if c.ID == sel.CandidateID {
			return e.choose(ctx, sess, c)
		}
	}
	return e.stale(ctx, sess)
}

// disambiguationText accepts a 1-based ordinal into the stored list. Other
// text is a change of mind and is handled as a new request.
func (e *Engine) disambiguationText(ctx context.Context, sess session.Session, text string) (Outcome, error) {
	a := sess.AmbiguousSelection

	if n, ok := parseOrdinal(text); ok {
		if n < 1 || n > len(a.Candidates) {
			return e.reprompt(ctx, sess, fmt.Sprintf("Please reply with a number from 1 to %d.", len(a.Candidates)))
		}
		return e.choose(ctx, sess, a.Candidates[n-1])
	}

	if isCancel(text) {
		if a.HeldOrder != nil {
			return e.backToOrder(sess, *a.HeldOrder, Reply{Text: "OK, that item was not added."})
		}
		return reply(sess.ToIdle(), Reply{Text: "Cancelled."}), nil
	}

	if a.HeldOrder != nil {
		// A new item for the order being built.
		held := *a.HeldOrder
		return e.orderItemText(ctx, sess.WithOrder(held), held, text)
	}
	return e.idleText(ctx, sess.ToIdle(), text)
}

func (e *Engine) choose(ctx context.Context, sess session.Session, c domain.Candidate) (Outcome, error) {
	a := sess.AmbiguousSelection
	e.logger.Debug("candidate chosen",
		"identity", sess.Identity,
		"query", a.Query,
		"candidate", c.ID,
	)
	return e.chooseCandidate(ctx, sess.ToIdle(), c, a.Quantity, a.IntendedAction, a.HeldOrder)
}

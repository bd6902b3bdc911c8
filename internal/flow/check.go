package flow

import (
	"context"

	"github.com/roach88/stockline/internal/catalog"
	"github.com/roach88/stockline/internal/domain"
	"github.com/roach88/stockline/internal/session"
)

func (e *Engine) checkText(ctx context.Context, sess session.Session, text string) (Outcome, error) {
	if isCancel(text) {
		return reply(sess.ToIdle(), Reply{Text: "OK."}), nil
	}
	return e.checkStock(ctx, sess, text)
}

// checkStock lists stock for query and returns to Idle. A single match, or
// a single exact match, also gets shortcut buttons into the stock and order
// flows, carrying the product so no second search is needed.
func (e *Engine) checkStock(ctx context.Context, sess session.Session, query string) (Outcome, error) {
	cands, err := e.resolver.Resolve(ctx, query)
	if err != nil {
		return Outcome{}, e.fatal(err)
	}
	next := sess.ToIdle()

	if len(cands) == 0 {
		suggestions, err := e.resolver.Suggest(ctx, query, suggestionCount)
		if err != nil {
			return Outcome{}, e.fatal(err)
		}
		return Outcome{Next: next, Replies: []Reply{{Text: notFoundText(query, suggestions)}}, Reprompted: true}, nil
	}

	r := Reply{Text: e.listing(query, cands)}
	if single, ok := shortcutMatch(cands); ok {
		cs, err := e.choices(
			choiceSpec{label: "Add stock", candidateID: single.ID, action: domain.ActionQuickAddStock},
			choiceSpec{label: "Order", candidateID: single.ID, action: domain.ActionQuickOrderItem},
		)
		if err != nil {
			return Outcome{}, err
		}
		r.Choices = cs
	}
	return reply(next, r), nil
}

// shortcutMatch returns the product a stock listing offers shortcut
// buttons for: the only match, or the only full name or SKU match among
// several.
func shortcutMatch(cands []domain.Candidate) (domain.Candidate, bool) {
	if len(cands) == 1 {
		return cands[0], true
	}
	if len(cands) > 1 && catalog.IsExact(cands[0]) && !catalog.IsExact(cands[1]) {
		return cands[0], true
	}
	return domain.Candidate{}, false
}

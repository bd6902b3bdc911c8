package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/stockline/internal/domain"
	"github.com/roach88/stockline/internal/intent"
	"github.com/roach88/stockline/internal/selection"
	"github.com/roach88/stockline/internal/session"
	"github.com/roach88/stockline/internal/store"
)

// suggestionCount bounds "did you mean" names on a not-found reply.
const suggestionCount = 3

func (e *Engine) idleText(ctx context.Context, sess session.Session, text string) (Outcome, error) {
	res, err := e.parser.Parse(ctx, text)
	if err != nil {
		return Outcome{}, domain.NewPersistenceError("parse message", err)
	}

	switch res.Intent {
	case intent.Help:
		return reply(sess, Reply{Text: helpText}), nil
	case intent.Cancel:
		return reply(sess, Reply{Text: "Nothing to cancel. " + helpText}), nil
	case intent.AddStock:
		if res.ProductPhrase == "" {
			return reply(sess, Reply{Text: `What did you receive? For example "50 units of sensor".`}), nil
		}
		return e.resolveForAction(ctx, sess, res.ProductPhrase, res.Quantity, domain.ActionAddStock, nil)
	case intent.CreateOrder:
		o := session.PendingOrder{InstanceID: e.ids.Generate(), Step: session.StepItems}
		if res.ProductPhrase == "" {
			return reply(sess.WithOrder(o), Reply{Text: newOrderText}), nil
		}
		return e.resolveForAction(ctx, sess, res.ProductPhrase, res.Quantity, domain.ActionOrderItem, &o)
	case intent.CheckStock:
		if res.ProductPhrase == "" {
			return reply(sess.ToCheckingStock(), Reply{Text: "Which product should I look up? Send a name or SKU."}), nil
		}
		return e.checkStock(ctx, sess, res.ProductPhrase)
	}
	return e.reprompt(ctx, sess, "Sorry, I didn't get that.")
}

const newOrderText = `New order. Send each item as quantity and product, for example "5 ball valve".`

// idleSelection handles shortcut buttons offered by a stock listing.
func (e *Engine) idleSelection(ctx context.Context, sess session.Session, sel selection.Selection) (Outcome, error) {
	var action domain.Action
	switch sel.Action {
	case domain.ActionQuickAddStock:
		action = domain.ActionAddStock
	case domain.ActionQuickOrderItem:
		action = domain.ActionOrderItem
	default:
		return e.stale(ctx, sess)
	}

	p, err := e.resolver.Lookup(ctx, sel.CandidateID)
	if errors.Is(err, store.ErrNotFound) {
		return reply(sess.ToIdle(), Reply{Text: "That product no longer exists."}), nil
	}
	if err != nil {
		return Outcome{}, domain.NewPersistenceError("lookup product", err)
	}

	var held *session.PendingOrder
	if action == domain.ActionOrderItem {
		held = &session.PendingOrder{InstanceID: e.ids.Generate(), Step: session.StepItems}
	}
	return e.chooseCandidate(ctx, sess.ToIdle(), p.Candidate(1), sel.Quantity, action, held)
}

// resolveForAction resolves phrase and branches on the number of
// candidates. held is the order being built when action is order-item.
func (e *Engine) resolveForAction(ctx context.Context, sess session.Session, phrase string, qty int, action domain.Action, held *session.PendingOrder) (Outcome, error) {
	cands, err := e.resolver.Resolve(ctx, phrase)
	if err != nil {
		return Outcome{}, domain.NewPersistenceError("resolve product", err)
	}

	// Any other match, exact or not, is listed for the user to pick.
	if len(cands) == 1 {
		return e.chooseCandidate(ctx, sess, cands[0], qty, action, held)
	}

	if len(cands) == 0 {
		suggestions, err := e.resolver.Suggest(ctx, phrase, suggestionCount)
		if err != nil {
			return Outcome{}, domain.NewPersistenceError("suggest products", err)
		}
		r := Reply{Text: notFoundText(phrase, suggestions)}
		if held != nil {
			return e.backToOrder(sess, *held, r)
		}
		return Outcome{Next: sess.ToIdle(), Replies: []Reply{r}, Reprompted: true}, nil
	}

	shown := cands[:min(len(cands), e.cfg.MaxRows)]
	a := session.AmbiguousSelection{
		Query:          phrase,
		Candidates:     append([]domain.Candidate(nil), shown...),
		Total:          len(cands),
		Quantity:       qty,
		IntendedAction: action,
		CreatedAt:      e.now(),
		HeldOrder:      held,
	}
	r, err := e.disambiguationPrompt(a)
	if err != nil {
		return Outcome{}, err
	}
	return reply(sess.WithAmbiguousSelection(a), r), nil
}

// chooseCandidate moves on once the product is known: a pending stock
// action for add-stock, or a new line on the held order for order-item.
func (e *Engine) chooseCandidate(ctx context.Context, sess session.Session, c domain.Candidate, qty int, action domain.Action, held *session.PendingOrder) (Outcome, error) {
	if action == domain.ActionOrderItem {
		o := session.PendingOrder{InstanceID: e.ids.Generate(), Step: session.StepItems}
		if held != nil {
			o = *held
		}
		return e.addOrderLine(ctx, sess, o, c, qty)
	}

	p := session.PendingStockAction{
		InstanceID:   e.ids.Generate(),
		ProductID:    c.ID,
		ProductName:  c.DisplayName,
		SKU:          c.SKU,
		Quantity:     qty,
		CurrentStock: c.AvailableQuantity,
	}
	if qty <= 0 {
		p.Quantity = 0
		next := sess.WithStockAction(session.FlowAwaitingQuantity, p)
		return reply(next, Reply{Text: e.quantityPrompt(p)}), nil
	}
	return e.toActorOrConfirm(sess, p)
}

// toActorOrConfirm asks for the actor name unless one is cached.
func (e *Engine) toActorOrConfirm(sess session.Session, p session.PendingStockAction) (Outcome, error) {
	if sess.CachedActorName == "" {
		next := sess.WithStockAction(session.FlowAwaitingActorName, p)
		text := fmt.Sprintf("Adding %d units of %s. Who is receiving this stock? Reply with your name.", p.Quantity, p.ProductName)
		return reply(next, Reply{Text: text}), nil
	}
	next := sess.WithStockAction(session.FlowAwaitingConfirmation, p)
	r, err := e.stockConfirmPrompt(next)
	if err != nil {
		return Outcome{}, err
	}
	return reply(next, r), nil
}

func reply(next session.Session, replies ...Reply) Outcome {
	return Outcome{Next: next, Replies: replies}
}

package flow

import (
	"context"

	"github.com/roach88/stockline/internal/domain"
	"github.com/roach88/stockline/internal/selection"
	"github.com/roach88/stockline/internal/session"
	"github.com/roach88/stockline/internal/txn"
)

func (e *Engine) quantityText(ctx context.Context, sess session.Session, text string) (Outcome, error) {
	if isCancel(text) || isNegative(text) {
		return reply(sess.ToIdle(), Reply{Text: "Cancelled. Nothing was changed."}), nil
	}
	qty, ok := parseQuantity(text)
	if !ok {
		return e.reprompt(ctx, sess, "Please reply with a whole number of units, or cancel.")
	}
	p := *sess.PendingStockAction
	p.Quantity = qty
	return e.toActorOrConfirm(sess, p)
}

func (e *Engine) actorNameText(ctx context.Context, sess session.Session, text string) (Outcome, error) {
	if isCancel(text) {
		return reply(sess.ToIdle(), Reply{Text: "Cancelled. Nothing was changed."}), nil
	}
	p := *sess.PendingStockAction
	if e.isEcho(text, p.ProductName) {
		return e.reprompt(ctx, sess, p.ProductName+" is already selected.")
	}
	name := clip(text)
	if name == "" {
		return e.reprompt(ctx, sess, "")
	}

	sess.CachedActorName = name
	next := sess.WithStockAction(session.FlowAwaitingConfirmation, p)
	r, err := e.stockConfirmPrompt(next)
	if err != nil {
		return Outcome{}, err
	}
	return reply(next, r), nil
}

func (e *Engine) confirmationText(ctx context.Context, sess session.Session, text string) (Outcome, error) {
	switch {
	case isAffirmative(text):
		return e.commitStock(sess), nil
	case isNegative(text):
		return reply(sess.ToIdle(), Reply{Text: "Cancelled. Nothing was changed."}), nil
	}
	return e.reprompt(ctx, sess, "Please reply yes or no.")
}

// confirmationSelection accepts the confirm and cancel buttons of the
// current pending action. The product and quantity tie a button to the
// prompt that showed it.
func (e *Engine) confirmationSelection(ctx context.Context, sess session.Session, sel selection.Selection) (Outcome, error) {
	p := sess.PendingStockAction
	if sel.CandidateID != p.ProductID || sel.Quantity != p.Quantity {
		return e.stale(ctx, sess)
	}
	switch sel.Action {
	case domain.ActionStockConfirm:
		return e.commitStock(sess), nil
	case domain.ActionStockCancel:
		return reply(sess.ToIdle(), Reply{Text: "Cancelled. Nothing was changed."}), nil
	}
	return e.stale(ctx, sess)
}

// commitStock marks the pending action confirmed and asks the caller to
// apply it. The instance id is the commit key, so a replay of the same
// instance cannot apply twice.
func (e *Engine) commitStock(sess session.Session) Outcome {
	p := *sess.PendingStockAction
	p.Confirmed = true
	next := sess.WithStockAction(session.FlowAwaitingConfirmation, p)
	return Outcome{
		Next: next,
		Commit: &Commit{Stock: &txn.StockChange{
			CommitKey: p.InstanceID,
			ProductID: p.ProductID,
			Delta:     p.Quantity,
			ActorName: sess.CachedActorName,
			SessionID: sess.Identity,
		}},
	}
}

package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/stockline/internal/domain"
	"github.com/roach88/stockline/internal/intent"
	"github.com/roach88/stockline/internal/selection"
	"github.com/roach88/stockline/internal/session"
	"github.com/roach88/stockline/internal/store"
	"github.com/roach88/stockline/internal/txn"
)

// minPhoneDigits is the shortest accepted customer phone number.
const minPhoneDigits = 10

func (e *Engine) orderText(ctx context.Context, sess session.Session, text string) (Outcome, error) {
	o := *sess.PendingOrder

	if isCancel(text) && o.Step != session.StepItemQuantity {
		return e.cancelOrder(sess), nil
	}

	switch o.Step {
	case session.StepItems, session.StepReview:
		switch {
		case isProceed(text):
			return e.proceed(ctx, sess, o)
		case isAddMore(text):
			return e.addMore(sess, o)
		}
		return e.orderItemText(ctx, sess, o, text)

	case session.StepItemQuantity:
		if isCancel(text) || isNegative(text) {
			o.Draft = nil
			return e.backToOrder(sess, o, Reply{Text: "OK, that item was not added."})
		}
		qty, ok := parseQuantity(text)
		if !ok {
			return e.reprompt(ctx, sess, "Please reply with a whole number, or cancel.")
		}
		item := *o.Draft
		item.Quantity = qty
		o.Draft = nil
		return e.appendLine(sess, o, item)

	case session.StepConfirm:
		switch {
		case isAffirmative(text):
			return e.commitOrder(sess), nil
		case isNegative(text):
			return e.cancelOrder(sess), nil
		}
		return e.reprompt(ctx, sess, "Please reply yes or no.")
	}

	return e.customerText(ctx, sess, o, text)
}

func (e *Engine) orderSelection(ctx context.Context, sess session.Session, sel selection.Selection) (Outcome, error) {
	o := *sess.PendingOrder

	switch sel.Action {
	case domain.ActionOrderCancel:
		return e.cancelOrder(sess), nil
	case domain.ActionOrderAddMore:
		if o.Step == session.StepItems || o.Step == session.StepReview {
			return e.addMore(sess, o)
		}
	case domain.ActionOrderProceed:
		if o.Step == session.StepItems || o.Step == session.StepReview {
			return e.proceed(ctx, sess, o)
		}
	case domain.ActionSkipEmail:
		if o.Step == session.StepCustomerEmail {
			c := *o.Customer
			c.Email = ""
			c.EmailSkipped = true
			return e.advanceCustomer(sess, o, c)
		}
	case domain.ActionOrderConfirm:
		if o.Step == session.StepConfirm && sel.CandidateID == o.InstanceID && sel.Quantity == len(o.Items) {
			return e.commitOrder(sess), nil
		}
	}
	return e.stale(ctx, sess)
}

// orderItemText resolves "<qty> <product>" as a new line for o.
func (e *Engine) orderItemText(ctx context.Context, sess session.Session, o session.PendingOrder, text string) (Outcome, error) {
	res := intent.ParseItem(text)
	if res.ProductPhrase == "" {
		return e.reprompt(ctx, sess, `Send an item as quantity and product, for example "5 ball valve".`)
	}
	return e.resolveForAction(ctx, sess.ToIdle(), res.ProductPhrase, res.Quantity, domain.ActionOrderItem, &o)
}

// addOrderLine prices the chosen product and appends it to o, or asks for
// its quantity first.
func (e *Engine) addOrderLine(ctx context.Context, sess session.Session, o session.PendingOrder, c domain.Candidate, qty int) (Outcome, error) {
	p, err := e.resolver.Lookup(ctx, c.ID)
	if errors.Is(err, store.ErrNotFound) {
		return e.backToOrder(sess, o, Reply{Text: c.DisplayName + " no longer exists."})
	}
	if err != nil {
		return Outcome{}, domain.NewPersistenceError("lookup product", err)
	}

	item := domain.OrderItem{
		ProductID:   p.ID,
		ProductName: p.Name,
		SKU:         p.SKU,
		Quantity:    qty,
		UnitPrice:   p.UnitPrice,
	}
	if qty <= 0 {
		item.Quantity = 0
		o.Draft = &item
		o.Step = session.StepItemQuantity
		text := fmt.Sprintf("How many %s? %d in stock.", p.Name, p.Stock)
		return reply(sess.WithOrder(o), Reply{Text: text}), nil
	}
	return e.appendLine(sess, o, item)
}

// appendLine adds item to the end of the order and shows the review.
// Lines are only ever appended; earlier lines are never replaced.
func (e *Engine) appendLine(sess session.Session, o session.PendingOrder, item domain.OrderItem) (Outcome, error) {
	o.Items = append(o.Items, item)
	o.Draft = nil
	o.Step = session.StepReview
	r, err := e.reviewPrompt(o)
	if err != nil {
		return Outcome{}, err
	}
	r.Text = fmt.Sprintf("Added %d x %s.\n", item.Quantity, item.ProductName) + r.Text
	return reply(sess.WithOrder(o), r), nil
}

// backToOrder restores o after a detour and shows r followed by the
// order's current prompt.
func (e *Engine) backToOrder(sess session.Session, o session.PendingOrder, r Reply) (Outcome, error) {
	o.Draft = nil
	o.Step = session.StepItems
	if len(o.Items) > 0 {
		o.Step = session.StepReview
	}
	next := sess.WithOrder(o)
	prompt, err := e.orderPrompt(next)
	if err != nil {
		return Outcome{}, err
	}
	prompt.Text = r.Text + "\n" + prompt.Text
	return Outcome{Next: next, Replies: []Reply{prompt}, Reprompted: true}, nil
}

func (e *Engine) addMore(sess session.Session, o session.PendingOrder) (Outcome, error) {
	o.Step = session.StepItems
	return reply(sess.WithOrder(o), Reply{Text: `Send the next item, for example "5 ball valve".`}), nil
}

func (e *Engine) proceed(ctx context.Context, sess session.Session, o session.PendingOrder) (Outcome, error) {
	if len(o.Items) == 0 {
		return e.reprompt(ctx, sess, "The order has no items yet.")
	}
	if o.Customer == nil {
		o.Customer = &domain.OrderCustomer{}
	}
	o.Step = session.StepCustomerName
	next := sess.WithOrder(o)
	r, err := e.orderPrompt(next)
	if err != nil {
		return Outcome{}, err
	}
	return reply(next, r), nil
}

func (e *Engine) cancelOrder(sess session.Session) Outcome {
	return reply(sess.ToIdle(), Reply{Text: "Order cancelled. Nothing was saved."})
}

// customerText validates the answer for the current customer sub-step.
// A failed rule repeats the same sub-step.
func (e *Engine) customerText(ctx context.Context, sess session.Session, o session.PendingOrder, text string) (Outcome, error) {
	c := *o.Customer

	switch o.Step {
	case session.StepCustomerName:
		if !validName(text) {
			return e.invalidField(ctx, sess, domain.NewValidationError("name", "must have at least 2 characters"))
		}
		c.Name = clip(text)

	case session.StepCustomerPhone:
		digits, ok := phoneDigits(text)
		if !ok || len(digits) < minPhoneDigits {
			return e.invalidField(ctx, sess, domain.NewValidationError("phone", fmt.Sprintf("must have at least %d digits", minPhoneDigits)))
		}
		c.Phone = digits

	case session.StepCustomerEmail:
		if isSkip(text) {
			c.Email = ""
			c.EmailSkipped = true
			break
		}
		email := strings.TrimSpace(text)
		if !emailRe.MatchString(email) || len(email) > maxFieldRunes {
			return e.invalidField(ctx, sess, domain.NewValidationError("email", "does not look like an email address"))
		}
		c.Email = strings.ToLower(email)
		c.EmailSkipped = false

	case session.StepContainerNumber:
		c.ContainerNumber = strings.ToUpper(clip(text))

	case session.StepJobReference:
		c.JobReference = clip(text)

	case session.StepActorName:
		sess.CachedActorName = clip(text)

	default:
		return Outcome{}, domain.NewInvariantError(sess.Identity, "unknown order step "+string(o.Step))
	}
	return e.advanceCustomer(sess, o, c)
}

func (e *Engine) invalidField(ctx context.Context, sess session.Session, err *domain.Error) (Outcome, error) {
	e.logger.Debug("field rejected", "identity", sess.Identity, "error", err)
	return e.reprompt(ctx, sess, "That doesn't look right: "+err.Message+".")
}

// advanceCustomer stores c and moves to the next sub-step that still needs
// an answer. The actor name is skipped when the session has one cached.
func (e *Engine) advanceCustomer(sess session.Session, o session.PendingOrder, c domain.OrderCustomer) (Outcome, error) {
	o.Customer = &c
	o.Step = nextCustomerStep(o.Step)
	if o.Step == session.StepActorName && sess.CachedActorName != "" {
		o.Step = session.StepConfirm
	}
	next := sess.WithOrder(o)
	r, err := e.orderPrompt(next)
	if err != nil {
		return Outcome{}, err
	}
	return reply(next, r), nil
}

func nextCustomerStep(step session.OrderStep) session.OrderStep {
	for i, s := range session.CustomerSteps {
		if s == step && i+1 < len(session.CustomerSteps) {
			return session.CustomerSteps[i+1]
		}
	}
	return session.StepConfirm
}

// orderPrompt is the question for the order's current step.
func (e *Engine) orderPrompt(sess session.Session) (Reply, error) {
	o := sess.PendingOrder
	switch o.Step {
	case session.StepItems:
		if len(o.Items) == 0 {
			return Reply{Text: newOrderText}, nil
		}
		return Reply{Text: fmt.Sprintf(`The order has %d items. Send the next item, or reply done to continue.`, len(o.Items))}, nil
	case session.StepItemQuantity:
		return Reply{Text: fmt.Sprintf("How many %s?", o.Draft.ProductName)}, nil
	case session.StepReview:
		return e.reviewPrompt(*o)
	case session.StepCustomerName:
		return Reply{Text: "Customer name?"}, nil
	case session.StepCustomerPhone:
		return Reply{Text: "Customer phone number?"}, nil
	case session.StepCustomerEmail:
		cs, err := e.choices(choiceSpec{label: "Skip email", action: domain.ActionSkipEmail})
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: "Customer email? Reply skip if there is none.", Choices: cs}, nil
	case session.StepContainerNumber:
		return Reply{Text: "Container number?"}, nil
	case session.StepJobReference:
		return Reply{Text: "Job reference?"}, nil
	case session.StepActorName:
		return Reply{Text: "Who is taking this order? Reply with your name."}, nil
	case session.StepConfirm:
		return e.orderConfirmPrompt(sess)
	}
	return Reply{}, domain.NewInvariantError(sess.Identity, "unknown order step "+string(o.Step))
}

func (e *Engine) commitOrder(sess session.Session) Outcome {
	o := *sess.PendingOrder
	return Outcome{
		Next: sess,
		Commit: &Commit{Order: &txn.OrderRequest{
			CommitKey: o.InstanceID,
			Items:     append([]domain.OrderItem(nil), o.Items...),
			Customer:  *o.Customer,
			ActorName: sess.CachedActorName,
			SessionID: sess.Identity,
		}},
	}
}

// dropOrderLine removes a line whose product disappeared before commit and
// returns the order to review.
func (e *Engine) dropOrderLine(sess session.Session, line int) Outcome {
	o := *sess.PendingOrder
	if line < 1 || line > len(o.Items) {
		return reply(sess.ToIdle(), Reply{Text: "A product on this order no longer exists. The order was not saved."})
	}
	gone := o.Items[line-1]
	o.Items = append(append([]domain.OrderItem(nil), o.Items[:line-1]...), o.Items[line:]...)

	msg := fmt.Sprintf("Line %d (%s) no longer exists, so the order was not saved.", line, gone.ProductName)
	if len(o.Items) == 0 {
		return reply(sess.ToIdle(), Reply{Text: msg})
	}
	o.Step = session.StepReview
	next := sess.WithOrder(o)
	r, err := e.reviewPrompt(o)
	if err != nil {
		return reply(next, Reply{Text: msg + " I removed it from the order."})
	}
	r.Text = msg + " I removed it from the order.\n" + r.Text
	return Outcome{Next: next, Replies: []Reply{r}, Reprompted: true}
}

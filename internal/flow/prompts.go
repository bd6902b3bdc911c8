package flow

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/roach88/stockline/internal/domain"
	"github.com/roach88/stockline/internal/selection"
	"github.com/roach88/stockline/internal/session"
)

const ellipsis = "…"

const helpText = `I can help with:
- Add stock: "50 units of sensor"
- New order: "order 5 ball valve"
- Check stock: "check stock sensor"
Reply cancel at any time to stop.`

// TruncateLabel shortens s to at most limit runes, marking the cut with a
// trailing ellipsis.
func TruncateLabel(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return strings.TrimRight(string(r[:limit-1]), " ") + ellipsis
}

// choice builds a button. Encoding only fails on programming errors (an
// action outside the enum, or an id too long for a token), which are
// reported as invariant violations.
func (e *Engine) choice(label, candidateID string, qty int, action domain.Action) (Choice, error) {
	token, err := selection.Encode(candidateID, qty, action)
	if err != nil {
		return Choice{}, &domain.Error{
			Code:    domain.CodeInvariantViolation,
			Message: "cannot build choice " + string(action),
			Err:     err,
		}
	}
	return Choice{Token: token, Label: TruncateLabel(label, e.cfg.LabelCap)}, nil
}

func (e *Engine) choices(specs ...choiceSpec) ([]Choice, error) {
	out := make([]Choice, 0, len(specs))
	for _, s := range specs {
		c, err := e.choice(s.label, s.candidateID, s.qty, s.action)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

type choiceSpec struct {
	label       string
	candidateID string
	qty         int
	action      domain.Action
}

// tokenAction is the action carried by a candidate button. Without a
// quantity the quick variant is used and the quantity is asked next.
func tokenAction(intended domain.Action, qty int) domain.Action {
	if qty > 0 {
		return intended
	}
	switch intended {
	case domain.ActionAddStock:
		return domain.ActionQuickAddStock
	case domain.ActionOrderItem:
		return domain.ActionQuickOrderItem
	}
	return intended
}

func candidateRow(i int, c domain.Candidate) string {
	row := fmt.Sprintf("%d. %s (%s) - %d in stock", i, c.DisplayName, c.SKU, c.AvailableQuantity)
	if c.LowStock {
		row += " (low)"
	}
	return row
}

func moreRow(n int) string {
	return fmt.Sprintf("...and %d more", n)
}

func (e *Engine) disambiguationPrompt(a session.AmbiguousSelection) (Reply, error) {
	var b strings.Builder
	if a.Total > 1 {
		fmt.Fprintf(&b, "I found %d products matching %q. Which one did you mean?\n", a.Total, a.Query)
	} else {
		fmt.Fprintf(&b, "Did you mean this product for %q?\n", a.Query)
	}
	for i, c := range a.Candidates {
		b.WriteString(candidateRow(i+1, c))
		b.WriteByte('\n')
	}
	if more := a.Total - len(a.Candidates); more > 0 {
		b.WriteString(moreRow(more))
		b.WriteByte('\n')
	}
	b.WriteString("Reply with a number, or send a more specific name.")

	action := tokenAction(a.IntendedAction, a.Quantity)
	specs := make([]choiceSpec, 0, e.cfg.DisplayCap)
	for _, c := range a.Candidates[:min(len(a.Candidates), e.cfg.DisplayCap)] {
		specs = append(specs, choiceSpec{label: c.DisplayName, candidateID: c.ID, qty: a.Quantity, action: action})
	}
	cs, err := e.choices(specs...)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: b.String(), Choices: cs}, nil
}

func (e *Engine) quantityPrompt(p session.PendingStockAction) string {
	return fmt.Sprintf("How many units of %s are you adding? Current stock is %d.", p.ProductName, p.CurrentStock)
}

func (e *Engine) stockConfirmPrompt(sess session.Session) (Reply, error) {
	p := sess.PendingStockAction
	text := fmt.Sprintf("Confirm add %d units of %s as %s? yes/no\nStock will go from %d to %d.",
		p.Quantity, p.ProductName, sess.CachedActorName, p.CurrentStock, p.CurrentStock+p.Quantity)
	cs, err := e.choices(
		choiceSpec{label: "Confirm", candidateID: p.ProductID, qty: p.Quantity, action: domain.ActionStockConfirm},
		choiceSpec{label: "Cancel", candidateID: p.ProductID, qty: p.Quantity, action: domain.ActionStockCancel},
	)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: text, Choices: cs}, nil
}

func (e *Engine) stockSuccessText(name string, delta int, r domain.StockReceipt) string {
	text := fmt.Sprintf("Added %d units of %s. Stock went from %d to %d.", delta, name, r.PreviousQuantity, r.NewQuantity)
	if r.LowStock {
		text += "\nStock is still at or below the reorder level."
	}
	return text
}

func (e *Engine) money(m domain.Money) string {
	return e.cfg.Currency + " " + m.String()
}

func (e *Engine) orderItemsText(items []domain.OrderItem) string {
	var b strings.Builder
	shown := min(len(items), e.cfg.MaxRows)
	for i, it := range items[:shown] {
		fmt.Fprintf(&b, "%d. %s x %d @ %s = %s\n",
			i+1, it.ProductName, it.Quantity, e.money(it.UnitPrice), e.money(it.LineTotal()))
	}
	if more := len(items) - shown; more > 0 {
		b.WriteString(moreRow(more))
		b.WriteByte('\n')
	}
	return b.String()
}

func (e *Engine) reviewPrompt(o session.PendingOrder) (Reply, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Order so far (%d items):\n", len(o.Items))
	b.WriteString(e.orderItemsText(o.Items))
	fmt.Fprintf(&b, "Subtotal: %s\n", e.money(domain.ComputeTotals(o.Items, e.cfg.TaxRateBps).Subtotal))
	b.WriteString("Add more items, proceed to customer details, or cancel.")

	cs, err := e.choices(
		choiceSpec{label: "Add more", action: domain.ActionOrderAddMore},
		choiceSpec{label: "Proceed", action: domain.ActionOrderProceed},
		choiceSpec{label: "Cancel order", action: domain.ActionOrderCancel},
	)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: b.String(), Choices: cs}, nil
}

func (e *Engine) orderConfirmPrompt(sess session.Session) (Reply, error) {
	o := sess.PendingOrder
	c := o.Customer
	totals := domain.ComputeTotals(o.Items, e.cfg.TaxRateBps)

	var b strings.Builder
	b.WriteString("Please confirm this order:\n")
	b.WriteString(e.orderItemsText(o.Items))
	fmt.Fprintf(&b, "Subtotal: %s\n", e.money(totals.Subtotal))
	fmt.Fprintf(&b, "Tax (%s%%): %s\n", bpsPercent(e.cfg.TaxRateBps), e.money(totals.Tax))
	fmt.Fprintf(&b, "Total: %s\n", e.money(totals.Total))
	fmt.Fprintf(&b, "Customer: %s, %s\n", c.Name, c.Phone)
	if c.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", c.Email)
	}
	fmt.Fprintf(&b, "Container: %s\n", c.ContainerNumber)
	fmt.Fprintf(&b, "Job: %s\n", c.JobReference)
	fmt.Fprintf(&b, "Taken by: %s\n", sess.CachedActorName)
	b.WriteString("Confirm? yes/no")

	cs, err := e.choices(
		choiceSpec{label: "Confirm order", candidateID: o.InstanceID, qty: len(o.Items), action: domain.ActionOrderConfirm},
		choiceSpec{label: "Cancel order", action: domain.ActionOrderCancel},
	)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: b.String(), Choices: cs}, nil
}

func bpsPercent(bps int) string {
	if bps%100 == 0 {
		return fmt.Sprintf("%d", bps/100)
	}
	return strings.TrimRight(fmt.Sprintf("%d.%02d", bps/100, bps%100), "0")
}

func (e *Engine) orderSuccessText(r domain.OrderReceipt) string {
	text := fmt.Sprintf("Order %s placed. Total %s.", r.OrderID, e.money(r.Totals.Total))
	if r.RequiresApproval {
		text += "\nSome items exceed available stock; the order was sent for approval."
	}
	return text
}

// listing renders stock rows for a search, bounded by MaxRows.
func (e *Engine) listing(query string, cands []domain.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stock for %q:\n", query)
	shown := min(len(cands), e.cfg.MaxRows)
	for i, c := range cands[:shown] {
		b.WriteString(candidateRow(i+1, c))
		b.WriteByte('\n')
	}
	if more := len(cands) - shown; more > 0 {
		b.WriteString(moreRow(more))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func notFoundText(query string, suggestions []domain.Candidate) string {
	text := fmt.Sprintf("No product matches %q.", query)
	if len(suggestions) == 0 {
		return text + " Check the spelling or try the SKU."
	}
	names := make([]string, len(suggestions))
	for i, s := range suggestions {
		names[i] = s.DisplayName
	}
	return text + " Did you mean: " + strings.Join(names, ", ") + "?"
}

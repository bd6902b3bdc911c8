package domain

// Action is the closed set of intended actions a structured choice can carry.
//
// Several names contain '-'. Nothing that encodes an Action may rely on
// splitting on that character.
type Action string

const (
	ActionAddStock       Action = "add-stock"
	ActionOrderItem      Action = "order-item"
	ActionQuickAddStock  Action = "quick-add-stock"
	ActionQuickOrderItem Action = "quick-order-item"
	ActionOrderAddMore   Action = "order-add-more"
	ActionOrderProceed   Action = "order-proceed"
	ActionOrderCancel    Action = "order-cancel"
	ActionOrderConfirm   Action = "order-confirm"
	ActionStockConfirm   Action = "stock-confirm"
	ActionStockCancel    Action = "stock-cancel"
	ActionSkipEmail      Action = "skip-email"
)

// Actions lists every member of the enum in declaration order.
var Actions = []Action{
	ActionAddStock,
	ActionOrderItem,
	ActionQuickAddStock,
	ActionQuickOrderItem,
	ActionOrderAddMore,
	ActionOrderProceed,
	ActionOrderCancel,
	ActionOrderConfirm,
	ActionStockConfirm,
	ActionStockCancel,
	ActionSkipEmail,
}

// Valid reports whether a is a member of the enum.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// TargetsCandidate reports whether a token with this action must carry a
// candidate id. On the stock confirm and cancel buttons the id is the
// pending product; on the order confirm button it is the order instance.
func (a Action) TargetsCandidate() bool {
	switch a {
	case ActionAddStock, ActionOrderItem, ActionQuickAddStock, ActionQuickOrderItem,
		ActionStockConfirm, ActionStockCancel, ActionOrderConfirm:
		return true
	}
	return false
}

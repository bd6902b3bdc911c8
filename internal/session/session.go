// Package session defines the durable per-identity conversation state and
// the store contract it is persisted through.
//
// The Flow field is the single source of truth for dispatch. The pending
// structures are only ever set through the With* transition helpers, which
// populate one structure and clear the others in the same step.
package session

import (
	"fmt"
	"time"

	"github.com/roach88/stockline/internal/domain"
)

// Flow is the state-machine state of a session.
type Flow string

const (
	FlowIdle                      Flow = "idle"
	FlowAwaitingDisambiguation    Flow = "awaiting_disambiguation"
	FlowAwaitingQuantity          Flow = "awaiting_quantity"
	FlowAwaitingActorName         Flow = "awaiting_actor_name"
	FlowAwaitingConfirmation      Flow = "awaiting_confirmation"
	FlowCollectingOrderItems      Flow = "collecting_order_items"
	FlowCollectingCustomerFields  Flow = "collecting_customer_fields"
	FlowAwaitingOrderConfirmation Flow = "awaiting_order_confirmation"
	FlowCheckingStock             Flow = "checking_stock"
)

// Valid reports whether f is one of the defined flows.
func (f Flow) Valid() bool {
	switch f {
	case FlowIdle, FlowAwaitingDisambiguation, FlowAwaitingQuantity, FlowAwaitingActorName,
		FlowAwaitingConfirmation, FlowCollectingOrderItems, FlowCollectingCustomerFields,
		FlowAwaitingOrderConfirmation, FlowCheckingStock:
		return true
	}
	return false
}

// OrderStep is the sub-state of a pending order.
type OrderStep string

const (
	StepItems           OrderStep = "items"
	StepItemQuantity    OrderStep = "item_quantity"
	StepReview          OrderStep = "review"
	StepCustomerName    OrderStep = "customer_name"
	StepCustomerPhone   OrderStep = "customer_phone"
	StepCustomerEmail   OrderStep = "customer_email"
	StepContainerNumber OrderStep = "container_number"
	StepJobReference    OrderStep = "job_reference"
	StepActorName       OrderStep = "actor_name"
	StepConfirm         OrderStep = "confirm"
)

// CustomerSteps is the fixed order in which customer fields are collected.
var CustomerSteps = []OrderStep{
	StepCustomerName,
	StepCustomerPhone,
	StepCustomerEmail,
	StepContainerNumber,
	StepJobReference,
	StepActorName,
}

// Flow returns the top-level flow a pending order at this step belongs to.
func (s OrderStep) Flow() Flow {
	switch s {
	case StepItems, StepItemQuantity, StepReview:
		return FlowCollectingOrderItems
	case StepConfirm:
		return FlowAwaitingOrderConfirmation
	}
	for _, cs := range CustomerSteps {
		if s == cs {
			return FlowCollectingCustomerFields
		}
	}
	return ""
}

// PendingStockAction is a stock change waiting for an actor name and an
// explicit confirmation.
//
// InstanceID is the commit idempotency key: a given instance is applied to
// the inventory at most once.
type PendingStockAction struct {
	InstanceID   string `json:"instance_id"`
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	SKU          string `json:"sku"`
	Quantity     int    `json:"quantity"`
	CurrentStock int    `json:"current_stock"`
	Confirmed    bool   `json:"confirmed"`
}

// PendingOrder is an order being collected.
type PendingOrder struct {
	InstanceID string                `json:"instance_id"`
	Items      []domain.OrderItem    `json:"items"`
	Draft      *domain.OrderItem     `json:"draft,omitempty"`
	Customer   *domain.OrderCustomer `json:"customer,omitempty"`
	Step       OrderStep             `json:"step"`
}

// AmbiguousSelection is the ranked candidate list shown to the user while
// they choose. Numeric replies index into Candidates, so it must be the
// exact list the structured choices were built from.
type AmbiguousSelection struct {
	Query          string             `json:"query"`
	Candidates     []domain.Candidate `json:"candidates"`
	Total          int                `json:"total"`
	Quantity       int                `json:"quantity"`
	IntendedAction domain.Action      `json:"intended_action"`
	CreatedAt      time.Time          `json:"created_at"`

	// HeldOrder parks the items of an order while one of its lines is
	// being disambiguated. It is restored once the user chooses.
	HeldOrder *PendingOrder `json:"held_order,omitempty"`
}

// Session is the conversation state of one external identity.
type Session struct {
	Identity           string              `json:"identity"`
	Flow               Flow                `json:"flow"`
	PendingStockAction *PendingStockAction `json:"pending_stock_action,omitempty"`
	PendingOrder       *PendingOrder       `json:"pending_order,omitempty"`
	AmbiguousSelection *AmbiguousSelection `json:"ambiguous_selection,omitempty"`
	CachedActorName    string              `json:"cached_actor_name,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// New creates an idle session for identity.
func New(identity string, now time.Time) Session {
	return Session{
		Identity:  identity,
		Flow:      FlowIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ToIdle returns s in the Idle flow with every pending structure cleared.
// The cached actor name survives.
func (s Session) ToIdle() Session {
	s.Flow = FlowIdle
	s.PendingStockAction = nil
	s.PendingOrder = nil
	s.AmbiguousSelection = nil
	return s
}

// ToCheckingStock returns s waiting for a stock search term.
func (s Session) ToCheckingStock() Session {
	s = s.ToIdle()
	s.Flow = FlowCheckingStock
	return s
}

// WithStockAction returns s holding p in the given stock flow.
func (s Session) WithStockAction(flow Flow, p PendingStockAction) Session {
	s = s.ToIdle()
	s.Flow = flow
	s.PendingStockAction = &p
	return s
}

// WithOrder returns s holding o; the flow follows o.Step.
func (s Session) WithOrder(o PendingOrder) Session {
	s = s.ToIdle()
	s.Flow = o.Step.Flow()
	s.PendingOrder = &o
	return s
}

// WithAmbiguousSelection returns s waiting for the user to choose from a.
func (s Session) WithAmbiguousSelection(a AmbiguousSelection) Session {
	s = s.ToIdle()
	s.Flow = FlowAwaitingDisambiguation
	s.AmbiguousSelection = &a
	return s
}

// Clone returns a deep copy of s, so a transition can be computed without
// touching the session it started from.
func (s Session) Clone() Session {
	out := s
	if s.PendingStockAction != nil {
		p := *s.PendingStockAction
		out.PendingStockAction = &p
	}
	if s.PendingOrder != nil {
		o := s.PendingOrder.clone()
		out.PendingOrder = &o
	}
	if s.AmbiguousSelection != nil {
		a := *s.AmbiguousSelection
		a.Candidates = append([]domain.Candidate(nil), s.AmbiguousSelection.Candidates...)
		if a.HeldOrder != nil {
			h := a.HeldOrder.clone()
			a.HeldOrder = &h
		}
		out.AmbiguousSelection = &a
	}
	return out
}

func (o PendingOrder) clone() PendingOrder {
	out := o
	out.Items = append([]domain.OrderItem(nil), o.Items...)
	if o.Draft != nil {
		d := *o.Draft
		out.Draft = &d
	}
	if o.Customer != nil {
		c := *o.Customer
		out.Customer = &c
	}
	return out
}

// Expired reports whether s has been inactive longer than window.
// A zero window disables expiry.
func (s Session) Expired(now time.Time, window time.Duration) bool {
	if window <= 0 || s.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(s.UpdatedAt) > window
}

// activeCount returns how many pending structures are populated.
func (s Session) activeCount() int {
	n := 0
	if s.PendingStockAction != nil {
		n++
	}
	if s.PendingOrder != nil {
		n++
	}
	if s.AmbiguousSelection != nil {
		n++
	}
	return n
}

// Validate checks the session invariants: at most one pending structure is
// populated, and Flow agrees with it.
func (s Session) Validate() error {
	if n := s.activeCount(); n > 1 {
		return domain.NewInvariantError(s.Identity, fmt.Sprintf("%d pending structures populated", n))
	}

	mismatch := func(want string) error {
		return domain.NewInvariantError(s.Identity, fmt.Sprintf("flow %s requires %s", s.Flow, want))
	}

	switch s.Flow {
	case FlowIdle, FlowCheckingStock:
		if s.activeCount() != 0 {
			return mismatch("no pending structure")
		}
	case FlowAwaitingDisambiguation:
		if s.AmbiguousSelection == nil || len(s.AmbiguousSelection.Candidates) == 0 {
			return mismatch("an ambiguous selection with candidates")
		}
	case FlowAwaitingQuantity:
		if s.PendingStockAction == nil || s.PendingStockAction.Quantity != 0 {
			return mismatch("a pending stock action without quantity")
		}
	case FlowAwaitingActorName, FlowAwaitingConfirmation:
		if s.PendingStockAction == nil || s.PendingStockAction.Quantity <= 0 {
			return mismatch("a pending stock action with quantity")
		}
	case FlowCollectingOrderItems, FlowCollectingCustomerFields, FlowAwaitingOrderConfirmation:
		o := s.PendingOrder
		if o == nil {
			return mismatch("a pending order")
		}
		if o.Step.Flow() != s.Flow {
			return mismatch(fmt.Sprintf("an order step of that flow, got %s", o.Step))
		}
		if o.Step == StepItemQuantity && o.Draft == nil {
			return mismatch("a draft item")
		}
		if s.Flow != FlowCollectingOrderItems && len(o.Items) == 0 {
			return mismatch("at least one order item")
		}
		if s.Flow == FlowCollectingCustomerFields && o.Customer == nil {
			return mismatch("a customer record")
		}
	default:
		return domain.NewInvariantError(s.Identity, fmt.Sprintf("unknown flow %q", s.Flow))
	}
	return nil
}

package domain

import "time"

// AuditAction names the kind of committed side effect an AuditRecord
// describes.
type AuditAction string

const (
	// AuditStockAdd records stock received through the add-stock flow.
	AuditStockAdd AuditAction = "stock-add"
	// AuditOrderFulfil records stock taken out by a committed order line.
	AuditOrderFulfil AuditAction = "order-fulfil"
)

// AuditRecord is an append-only record of one committed quantity change.
// Records are never mutated or deleted.
type AuditRecord struct {
	ID               string      `json:"id"`
	CommitKey        string      `json:"commit_key"`
	EntityID         string      `json:"entity_id"`
	Action           AuditAction `json:"action"`
	QuantityDelta    int         `json:"quantity_delta"`
	PreviousQuantity int         `json:"previous_quantity"`
	NewQuantity      int         `json:"new_quantity"`
	ActorName        string      `json:"actor_name"`
	SourceSessionID  string      `json:"source_session_id"`
	Timestamp        time.Time   `json:"timestamp"`
}

// ApprovalStatus is the state of a flagged order in the approval queue.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
)

// Approval is a flagged order awaiting downstream review.
type Approval struct {
	OrderID    string         `json:"order_id"`
	Status     ApprovalStatus `json:"status"`
	Reason     string         `json:"reason"`
	CreatedAt  time.Time      `json:"created_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

package domain

import "time"

// OrderItem is one line of a pending or committed order.
type OrderItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	SKU         string `json:"sku"`
	Quantity    int    `json:"quantity"`
	UnitPrice   Money  `json:"unit_price"`
}

// LineTotal is quantity times unit price.
func (i OrderItem) LineTotal() Money {
	return i.UnitPrice.Mul(i.Quantity)
}

// OrderCustomer is the customer block collected during the order flow.
// Fields are filled one sub-step at a time, so any of them may be empty
// while the order is still being collected.
type OrderCustomer struct {
	Name            string `json:"name,omitempty"`
	Phone           string `json:"phone,omitempty"`
	Email           string `json:"email,omitempty"`
	EmailSkipped    bool   `json:"email_skipped,omitempty"`
	ContainerNumber string `json:"container_number,omitempty"`
	JobReference    string `json:"job_reference,omitempty"`
}

// Customer is a persisted customer record, keyed by phone number.
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Totals are the computed amounts of an order.
type Totals struct {
	Subtotal Money `json:"subtotal"`
	Tax      Money `json:"tax"`
	Total    Money `json:"total"`
}

// ComputeTotals sums line totals and applies the tax rate (basis points)
// to the subtotal.
func ComputeTotals(items []OrderItem, taxRateBps int) Totals {
	var subtotal Money
	for _, it := range items {
		subtotal += it.LineTotal()
	}
	tax := subtotal.ApplyRate(taxRateBps)
	return Totals{Subtotal: subtotal, Tax: tax, Total: subtotal + tax}
}

// Order is a committed order header.
type Order struct {
	ID               string      `json:"id"`
	CustomerID       string      `json:"customer_id"`
	ContainerNumber  string      `json:"container_number,omitempty"`
	JobReference     string      `json:"job_reference,omitempty"`
	ActorName        string      `json:"actor_name"`
	Totals           Totals      `json:"totals"`
	RequiresApproval bool        `json:"requires_approval"`
	SessionID        string      `json:"session_id"`
	CommitKey        string      `json:"commit_key"`
	CreatedAt        time.Time   `json:"created_at"`
	Items            []OrderItem `json:"items,omitempty"`
}

// StockReceipt is the result of a committed stock change.
type StockReceipt struct {
	AuditID          string `json:"audit_id"`
	PreviousQuantity int    `json:"previous_quantity"`
	NewQuantity      int    `json:"new_quantity"`
	LowStock         bool   `json:"low_stock,omitempty"`
}

// OrderReceipt is the result of a committed order.
type OrderReceipt struct {
	OrderID          string `json:"order_id"`
	Totals           Totals `json:"totals"`
	RequiresApproval bool   `json:"requires_approval"`
}

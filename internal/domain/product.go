package domain

import "time"

// Product is an inventory entity.
//
// Version is incremented on every stock write and is used for optimistic
// concurrency checks on the product row.
type Product struct {
	ID           string    `json:"id"`
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	Vendor       string    `json:"vendor,omitempty"`
	Units        string    `json:"units,omitempty"`
	UnitPrice    Money     `json:"unit_price"`
	Stock        int       `json:"stock"`
	ReorderLevel int       `json:"reorder_level,omitempty"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LowStock reports whether stock has fallen to the reorder level.
// Products without a reorder level are never low.
func (p Product) LowStock() bool {
	return p.ReorderLevel > 0 && p.Stock <= p.ReorderLevel
}

// Candidate returns the resolution summary of p with the given score.
func (p Product) Candidate(score float64) Candidate {
	return Candidate{
		ID:                p.ID,
		DisplayName:       p.Name,
		SKU:               p.SKU,
		AvailableQuantity: p.Stock,
		LowStock:          p.LowStock(),
		Score:             score,
	}
}

// Candidate is a ranked entity-resolution result.
// Candidates are created fresh per resolution call and are never persisted
// on their own; sessions keep the ranked list shown to the user.
type Candidate struct {
	ID                string  `json:"id"`
	DisplayName       string  `json:"display_name"`
	SKU               string  `json:"sku"`
	AvailableQuantity int     `json:"available_quantity"`
	LowStock          bool    `json:"low_stock,omitempty"`
	Score             float64 `json:"score"`
}

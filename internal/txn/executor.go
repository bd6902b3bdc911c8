// Package txn applies the side effects of confirmed conversations: stock
// changes and orders.
//
// Each commit runs in a single ledger transaction and is keyed by the
// instance id of the pending action or order it came from. The receipt is
// stored under that key in the same transaction, so replaying a commit
// returns the original receipt instead of applying the change again.
//
// Stock rows are written with an optimistic version check. A commit that
// loses the race is retried once from a fresh read; a second loss is
// reported as ConcurrentModification.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/stockline/internal/domain"
	"github.com/roach88/stockline/internal/ids"
	"github.com/roach88/stockline/internal/store"
)

// DefaultTaxRateBps is the tax applied to order subtotals (18%).
const DefaultTaxRateBps = 1800

// maxAttempts bounds commit attempts on version conflicts: the first try
// plus one retry.
const maxAttempts = 2

const (
	kindStock = "stock"
	kindOrder = "order"
)

// StockChange is a confirmed stock mutation.
type StockChange struct {
	// CommitKey identifies the pending action instance. Required.
	CommitKey string
	ProductID string
	Delta     int
	ActorName string
	SessionID string
}

// OrderRequest is a confirmed order.
type OrderRequest struct {
	// CommitKey identifies the pending order instance. Required.
	CommitKey string
	Items     []domain.OrderItem
	Customer  domain.OrderCustomer
	ActorName string
	SessionID string
}

// Executor commits stock changes and orders against a Ledger.
//
// Thread-safety: Executor is safe for concurrent use; serialization of
// writes to the same product is provided by the ledger transaction and the
// version check.
type Executor struct {
	ledger     Ledger
	ids        ids.Generator
	now        func() time.Time
	taxRateBps int
	logger     *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithIDGenerator sets the generator for order, customer and audit ids.
func WithIDGenerator(g ids.Generator) Option {
	return func(e *Executor) {
		e.ids = g
	}
}

// WithClock sets the time source for audit and order timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// WithTaxRate sets the order tax rate in basis points.
func WithTaxRate(bps int) Option {
	return func(e *Executor) {
		e.taxRateBps = bps
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// New creates an Executor over ledger.
func New(ledger Ledger, opts ...Option) *Executor {
	e := &Executor{
		ledger:     ledger,
		ids:        ids.UUIDv7Generator{},
		now:        time.Now,
		taxRateBps: DefaultTaxRateBps,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TaxRateBps returns the tax rate applied to orders.
func (e *Executor) TaxRateBps() int {
	return e.taxRateBps
}

// CommitStockChange applies a stock delta and appends its audit record.
// The reported previous and new quantities are the ones written by this
// commit, or by the original commit when CommitKey was already applied.
func (e *Executor) CommitStockChange(ctx context.Context, req StockChange) (domain.StockReceipt, error) {
	if req.CommitKey == "" {
		return domain.StockReceipt{}, domain.NewValidationError("commit key", "required")
	}
	if req.Delta == 0 {
		return domain.StockReceipt{}, domain.NewValidationError("quantity", "must not be zero")
	}

	var receipt domain.StockReceipt
	err := e.withRetry(ctx, req.ProductID, func(tx Tx) error {
		if found, err := tx.LookupCommit(ctx, req.CommitKey, &receipt); err != nil || found {
			if found {
				e.logger.Info("stock commit replayed", "commit_key", req.CommitKey)
			}
			return err
		}

		p, err := tx.Product(ctx, req.ProductID)
		if err != nil {
			return err
		}
		next := p.Stock + req.Delta
		if next < 0 {
			return domain.NewValidationError("quantity", fmt.Sprintf("would take %s below zero", p.Name))
		}
		if err := tx.SetStock(ctx, p.ID, p.Version, next); err != nil {
			return err
		}

		rec := domain.AuditRecord{
			ID:               e.ids.Generate(),
			CommitKey:        req.CommitKey,
			EntityID:         p.ID,
			Action:           domain.AuditStockAdd,
			QuantityDelta:    req.Delta,
			PreviousQuantity: p.Stock,
			NewQuantity:      next,
			ActorName:        req.ActorName,
			SourceSessionID:  req.SessionID,
			Timestamp:        e.now(),
		}
		if err := tx.AppendAudit(ctx, rec); err != nil {
			return err
		}

		p.Stock = next
		receipt = domain.StockReceipt{
			AuditID:          rec.ID,
			PreviousQuantity: rec.PreviousQuantity,
			NewQuantity:      rec.NewQuantity,
			LowStock:         p.LowStock(),
		}
		return tx.RecordCommit(ctx, req.CommitKey, kindStock, receipt)
	})
	if err != nil {
		return domain.StockReceipt{}, e.mapError(err, req.ProductID)
	}

	e.logger.Info("stock committed",
		"product", req.ProductID,
		"previous", receipt.PreviousQuantity,
		"new", receipt.NewQuantity,
		"session", req.SessionID,
	)
	return receipt, nil
}

// CommitOrder finds or creates the customer, validates every line, inserts
// the order with its lines, takes the ordered quantities out of stock and
// flags the order for approval when a line asks for more than is
// available. Stock never goes below zero.
//
// A line whose product no longer exists aborts the whole commit with an
// error naming that line.
func (e *Executor) CommitOrder(ctx context.Context, req OrderRequest) (domain.OrderReceipt, error) {
	if req.CommitKey == "" {
		return domain.OrderReceipt{}, domain.NewValidationError("commit key", "required")
	}
	if len(req.Items) == 0 {
		return domain.OrderReceipt{}, domain.NewValidationError("items", "order has no items")
	}

	var receipt domain.OrderReceipt
	err := e.withRetry(ctx, "", func(tx Tx) error {
		if found, err := tx.LookupCommit(ctx, req.CommitKey, &receipt); err != nil || found {
			if found {
				e.logger.Info("order commit replayed", "commit_key", req.CommitKey)
			}
			return err
		}

		// Current state per product; lines for the same product draw from
		// the same row.
		current := make(map[string]*domain.Product)
		var order []string
		for i, it := range req.Items {
			if _, ok := current[it.ProductID]; ok {
				continue
			}
			p, err := tx.Product(ctx, it.ProductID)
			if errors.Is(err, store.ErrNotFound) {
				return domain.NewLineItemError(i+1, it)
			}
			if err != nil {
				return err
			}
			current[p.ID] = &p
			order = append(order, p.ID)
		}

		customer, err := tx.ResolveCustomer(ctx, domain.Customer{
			ID:    e.ids.Generate(),
			Name:  req.Customer.Name,
			Phone: req.Customer.Phone,
			Email: req.Customer.Email,
		})
		if err != nil {
			return err
		}

		now := e.now()
		o := domain.Order{
			ID:              e.ids.Generate(),
			CustomerID:      customer.ID,
			ContainerNumber: req.Customer.ContainerNumber,
			JobReference:    req.Customer.JobReference,
			ActorName:       req.ActorName,
			Totals:          domain.ComputeTotals(req.Items, e.taxRateBps),
			SessionID:       req.SessionID,
			CommitKey:       req.CommitKey,
			CreatedAt:       now,
			Items:           req.Items,
		}

		var shortages []string
		taken := make(map[string]int)
		remaining := make(map[string]int, len(current))
		for id, p := range current {
			remaining[id] = p.Stock
		}
		for i, it := range req.Items {
			avail := remaining[it.ProductID]
			if it.Quantity > avail {
				shortages = append(shortages,
					fmt.Sprintf("line %d %s: requested %d, available %d", i+1, it.SKU, it.Quantity, avail))
			}
			take := min(it.Quantity, avail)
			remaining[it.ProductID] = avail - take
			taken[it.ProductID] += take
		}
		o.RequiresApproval = len(shortages) > 0

		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}

		for _, id := range order {
			p := current[id]
			if taken[id] == 0 {
				continue
			}
			next := p.Stock - taken[id]
			if err := tx.SetStock(ctx, id, p.Version, next); err != nil {
				return err
			}
			if err := tx.AppendAudit(ctx, domain.AuditRecord{
				ID:               e.ids.Generate(),
				CommitKey:        req.CommitKey,
				EntityID:         id,
				Action:           domain.AuditOrderFulfil,
				QuantityDelta:    -taken[id],
				PreviousQuantity: p.Stock,
				NewQuantity:      next,
				ActorName:        req.ActorName,
				SourceSessionID:  req.SessionID,
				Timestamp:        now,
			}); err != nil {
				return err
			}
		}

		if o.RequiresApproval {
			if err := tx.RequestApproval(ctx, domain.Approval{
				OrderID:   o.ID,
				Reason:    strings.Join(shortages, "; "),
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}

		receipt = domain.OrderReceipt{
			OrderID:          o.ID,
			Totals:           o.Totals,
			RequiresApproval: o.RequiresApproval,
		}
		return tx.RecordCommit(ctx, req.CommitKey, kindOrder, receipt)
	})
	if err != nil {
		return domain.OrderReceipt{}, e.mapError(err, "")
	}

	e.logger.Info("order committed",
		"order", receipt.OrderID,
		"total", receipt.Totals.Total.String(),
		"requires_approval", receipt.RequiresApproval,
		"session", req.SessionID,
	)
	return receipt, nil
}

// withRetry runs fn in a ledger transaction, retrying once when a version
// check fails.
func (e *Executor) withRetry(ctx context.Context, productID string, fn func(Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = e.ledger.Atomic(ctx, fn)
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		e.logger.Warn("commit lost version race",
			"product", productID,
			"attempt", attempt,
		)
	}
	return err
}

// mapError converts ledger errors into the domain taxonomy.
func (e *Executor) mapError(err error, productID string) error {
	var de *domain.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, store.ErrConflict):
		return domain.NewConcurrentModificationError(productID)
	case errors.Is(err, store.ErrNotFound):
		return &domain.Error{
			Code:      domain.CodeNotFound,
			Message:   "product no longer exists",
			ProductID: productID,
			Err:       err,
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.NewPersistenceError("commit interrupted", err)
	}
	e.logger.Error("commit failed", "error", err)
	return domain.NewPersistenceError("commit", err)
}

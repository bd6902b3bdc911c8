package txn

import (
	"context"

	"github.com/roach88/stockline/internal/domain"
	"github.com/roach88/stockline/internal/store"
)

// Tx is the set of writes a commit performs inside one transaction.
// *store.Tx implements it.
type Tx interface {
	LookupCommit(ctx context.Context, key string, dst any) (bool, error)
	RecordCommit(ctx context.Context, key, kind string, receipt any) error
	Product(ctx context.Context, id string) (domain.Product, error)
	SetStock(ctx context.Context, id string, version int64, stock int) error
	AppendAudit(ctx context.Context, rec domain.AuditRecord) error
	ResolveCustomer(ctx context.Context, c domain.Customer) (domain.Customer, error)
	InsertOrder(ctx context.Context, o domain.Order) error
	RequestApproval(ctx context.Context, a domain.Approval) error
}

// Ledger runs commits atomically: fn's writes are applied together or not
// at all.
type Ledger interface {
	Atomic(ctx context.Context, fn func(Tx) error) error
}

// StoreLedger adapts a SQLite store to Ledger.
func StoreLedger(s *store.Store) Ledger {
	return storeLedger{s: s}
}

type storeLedger struct {
	s *store.Store
}

func (l storeLedger) Atomic(ctx context.Context, fn func(Tx) error) error {
	return l.s.InTx(ctx, func(tx *store.Tx) error {
		return fn(tx)
	})
}

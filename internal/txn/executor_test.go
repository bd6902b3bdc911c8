package txn

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockline/internal/domain"
	"github.com/roach88/stockline/internal/store"
	"github.com/roach88/stockline/internal/testutil"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *store.Store, id, sku, name string, stock, reorder int) {
	t.Helper()
	_, err := s.UpsertProduct(context.Background(), domain.Product{
		ID: id, SKU: sku, Name: name, UnitPrice: 1000, Stock: stock, ReorderLevel: reorder,
	})
	require.NoError(t, err)
}

func newExecutor(ledger Ledger) *Executor {
	return New(ledger,
		WithIDGenerator(testutil.NewSequenceGenerator("id")),
		WithClock(testutil.NewManualClock().Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func stockOf(t *testing.T, s *store.Store, id string) int {
	t.Helper()
	p, err := s.Product(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func TestCommitStockChange_AppliesAndAudits(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "p1", "CP-1001", "Temperature Sensor PT100", 100, 0)
	e := newExecutor(StoreLedger(s))
	ctx := context.Background()

	r, err := e.CommitStockChange(ctx, StockChange{
		CommitKey: "inst-1", ProductID: "p1", Delta: 50, ActorName: "Ravi", SessionID: "+15550001",
	})
	require.NoError(t, err)
	assert.Equal(t, 100, r.PreviousQuantity)
	assert.Equal(t, 150, r.NewQuantity)
	assert.Equal(t, 150, stockOf(t, s, "p1"))

	audit, err := s.ListAudit(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, r.AuditID, audit[0].ID)
	assert.Equal(t, r.PreviousQuantity, audit[0].PreviousQuantity)
	assert.Equal(t, r.NewQuantity, audit[0].NewQuantity)
	assert.Equal(t, 50, audit[0].QuantityDelta)
	assert.Equal(t, "Ravi", audit[0].ActorName)
	assert.Equal(t, "+15550001", audit[0].SourceSessionID)
}

func TestCommitStockChange_ReplayedKeyAppliesOnce(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "p1", "CP-1001", "Sensor", 100, 0)
	e := newExecutor(StoreLedger(s))
	ctx := context.Background()
	req := StockChange{CommitKey: "inst-1", ProductID: "p1", Delta: 10, ActorName: "Ravi"}

	first, err := e.CommitStockChange(ctx, req)
	require.NoError(t, err)
	second, err := e.CommitStockChange(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 110, stockOf(t, s, "p1"))
	audit, err := s.ListAudit(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}

func TestCommitStockChange_ConcurrentCommitsDoNotLoseUpdates(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "p1", "CP-1001", "Sensor", 100, 0)
	e := newExecutor(StoreLedger(s))
	ctx := context.Background()

	var wg sync.WaitGroup
	receipts := make([]domain.StockReceipt, 2)
	errs := make([]error, 2)
	for i, delta := range []int{10, 5} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			receipts[i], errs[i] = e.CommitStockChange(ctx, StockChange{
				CommitKey: fmt.Sprintf("inst-%d", i), ProductID: "p1", Delta: delta, ActorName: "Ravi",
			})
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 115, stockOf(t, s, "p1"))

	// One of the commits saw the other's result as its previous quantity.
	prevs := []int{receipts[0].PreviousQuantity, receipts[1].PreviousQuantity}
	assert.Contains(t, prevs, 100)
	assert.ElementsMatch(t, []int{
		receipts[0].NewQuantity - receipts[0].PreviousQuantity,
		receipts[1].NewQuantity - receipts[1].PreviousQuantity,
	}, []int{10, 5})
}

func TestCommitStockChange_LowStockFlag(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "p1", "CP-1001", "Sensor", 2, 10)
	e := newExecutor(StoreLedger(s))

	r, err := e.CommitStockChange(context.Background(), StockChange{CommitKey: "k", ProductID: "p1", Delta: 3})
	require.NoError(t, err)
	assert.True(t, r.LowStock)
}

func TestCommitStockChange_UnknownProduct(t *testing.T) {
	s := newTestStore(t)
	e := newExecutor(StoreLedger(s))

	_, err := e.CommitStockChange(context.Background(), StockChange{CommitKey: "k", ProductID: "gone", Delta: 3})
	assert.True(t, domain.IsCode(err, domain.CodeNotFound), err)
}

func TestCommitStockChange_RejectsMissingKeyAndZeroDelta(t *testing.T) {
	e := newExecutor(StoreLedger(newTestStore(t)))
	ctx := context.Background()

	_, err := e.CommitStockChange(ctx, StockChange{ProductID: "p1", Delta: 3})
	assert.True(t, domain.IsCode(err, domain.CodeValidationFailed))

	_, err = e.CommitStockChange(ctx, StockChange{CommitKey: "k", ProductID: "p1"})
	assert.True(t, domain.IsCode(err, domain.CodeValidationFailed))
}

// conflictingLedger makes the first n SetStock calls lose the version race.
type conflictingLedger struct {
	inner     Ledger
	mu        sync.Mutex
	conflicts int
	attempts  int
}

func (l *conflictingLedger) Atomic(ctx context.Context, fn func(Tx) error) error {
	l.mu.Lock()
	l.attempts++
	l.mu.Unlock()
	return l.inner.Atomic(ctx, func(tx Tx) error {
		return fn(&conflictingTx{Tx: tx, l: l})
	})
}

type conflictingTx struct {
	Tx
	l *conflictingLedger
}

func (t *conflictingTx) SetStock(ctx context.Context, id string, version int64, stock int) error {
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	if t.l.conflicts > 0 {
		t.l.conflicts--
		return fmt.Errorf("set stock %s: %w", id, store.ErrConflict)
	}
	return t.Tx.SetStock(ctx, id, version, stock)
}

func TestCommitStockChange_RetriesOnceOnConflict(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "p1", "CP-1001", "Sensor", 100, 0)
	ledger := &conflictingLedger{inner: StoreLedger(s), conflicts: 1}
	e := newExecutor(ledger)

	r, err := e.CommitStockChange(context.Background(), StockChange{CommitKey: "k", ProductID: "p1", Delta: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, ledger.attempts)
	assert.Equal(t, 110, r.NewQuantity)
	assert.Equal(t, 110, stockOf(t, s, "p1"))
}

func TestCommitStockChange_SecondConflictSurfaces(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "p1", "CP-1001", "Sensor", 100, 0)
	ledger := &conflictingLedger{inner: StoreLedger(s), conflicts: 2}
	e := newExecutor(ledger)

	_, err := e.CommitStockChange(context.Background(), StockChange{CommitKey: "k", ProductID: "p1", Delta: 10})
	assert.True(t, domain.IsCode(err, domain.CodeConcurrentModification), err)
	assert.True(t, domain.IsRecoverable(err))
	assert.Equal(t, 2, ledger.attempts)
	assert.Equal(t, 100, stockOf(t, s, "p1"))
}

func orderRequest(key string, items ...domain.OrderItem) OrderRequest {
	return OrderRequest{
		CommitKey: key,
		Items:     items,
		Customer: domain.OrderCustomer{
			Name:            "Asha Rao",
			Phone:           "9876543210",
			ContainerNumber: "MSCU1234567",
			JobReference:    "JOB-7",
		},
		ActorName: "Ravi",
		SessionID: "+15550001",
	}
}

func TestCommitOrder_InsertsOrderAndDecrementsStock(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "p1", "CP-1001", "Sensor", 10, 0)
	seed(t, s, "p2", "CP-2001", "Valve", 5, 0)
	e := newExecutor(StoreLedger(s))
	ctx := context.Background()

	r, err := e.CommitOrder(ctx, orderRequest("ord-1",
		domain.OrderItem{ProductID: "p1", ProductName: "Sensor", SKU: "CP-1001", Quantity: 4, UnitPrice: 1000},
		domain.OrderItem{ProductID: "p2", ProductName: "Valve", SKU: "CP-2001", Quantity: 2, UnitPrice: 2550},
	))
	require.NoError(t, err)
	assert.False(t, r.RequiresApproval)
	assert.Equal(t, domain.Money(9100), r.Totals.Subtotal)
	assert.Equal(t, domain.Money(1638), r.Totals.Tax)
	assert.Equal(t, domain.Money(10738), r.Totals.Total)

	assert.Equal(t, 6, stockOf(t, s, "p1"))
	assert.Equal(t, 3, stockOf(t, s, "p2"))

	o, err := s.Order(ctx, r.OrderID)
	require.NoError(t, err)
	assert.Len(t, o.Items, 2)
	assert.Equal(t, "MSCU1234567", o.ContainerNumber)
	assert.Equal(t, r.Totals, o.Totals)

	audit, err := s.ListAudit(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, domain.AuditOrderFulfil, audit[0].Action)
	assert.Equal(t, -4, audit[0].QuantityDelta)
}

func TestCommitOrder_ShortageFlagsApprovalWithoutBlocking(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "p1", "CP-1001", "Sensor", 3, 0)
	e := newExecutor(StoreLedger(s))
	ctx := context.Background()

	r, err := e.CommitOrder(ctx, orderRequest("ord-1",
		domain.OrderItem{ProductID: "p1", ProductName: "Sensor", SKU: "CP-1001", Quantity: 5, UnitPrice: 1000},
	))
	require.NoError(t, err)
	assert.True(t, r.RequiresApproval)
	assert.Equal(t, 0, stockOf(t, s, "p1"))

	approvals, err := s.ListApprovals(ctx, domain.ApprovalPending)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, r.OrderID, approvals[0].OrderID)
	assert.Contains(t, approvals[0].Reason, "line 1 CP-1001: requested 5, available 3")
}

func TestCommitOrder_SameProductOnTwoLines(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "p1", "CP-1001", "Sensor", 5, 0)
	e := newExecutor(StoreLedger(s))
	item := domain.OrderItem{ProductID: "p1", ProductName: "Sensor", SKU: "CP-1001", Quantity: 3, UnitPrice: 1000}

	r, err := e.CommitOrder(context.Background(), orderRequest("ord-1", item, item))
	require.NoError(t, err)
	assert.True(t, r.RequiresApproval, "second line asks for 3 with 2 left")
	assert.Equal(t, 0, stockOf(t, s, "p1"))

	audit, err := s.ListAudit(context.Background(), "p1", 0)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, -5, audit[0].QuantityDelta)
}

func TestCommitOrder_MissingProductAbortsWithLine(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "p1", "CP-1001", "Sensor", 10, 0)
	e := newExecutor(StoreLedger(s))
	ctx := context.Background()

	_, err := e.CommitOrder(ctx, orderRequest("ord-1",
		domain.OrderItem{ProductID: "p1", ProductName: "Sensor", SKU: "CP-1001", Quantity: 4, UnitPrice: 1000},
		domain.OrderItem{ProductID: "gone", ProductName: "Ghost Pump", SKU: "X-1", Quantity: 1, UnitPrice: 1000},
	))
	require.Error(t, err)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.CodeNotFound, de.Code)
	assert.Equal(t, 2, de.Line)
	assert.Equal(t, "gone", de.ProductID)
	assert.Contains(t, err.Error(), "Ghost Pump")

	// Nothing was written.
	assert.Equal(t, 10, stockOf(t, s, "p1"))
	audit, err := s.ListAudit(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, audit)
}

func TestCommitOrder_ReplayedKeyAppliesOnce(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "p1", "CP-1001", "Sensor", 10, 0)
	e := newExecutor(StoreLedger(s))
	req := orderRequest("ord-1",
		domain.OrderItem{ProductID: "p1", ProductName: "Sensor", SKU: "CP-1001", Quantity: 4, UnitPrice: 1000})

	first, err := e.CommitOrder(context.Background(), req)
	require.NoError(t, err)
	second, err := e.CommitOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 6, stockOf(t, s, "p1"))
}

func TestCommitOrder_ReusesCustomerByPhone(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "p1", "CP-1001", "Sensor", 10, 0)
	e := newExecutor(StoreLedger(s))
	ctx := context.Background()
	item := domain.OrderItem{ProductID: "p1", ProductName: "Sensor", SKU: "CP-1001", Quantity: 1, UnitPrice: 1000}

	r1, err := e.CommitOrder(ctx, orderRequest("ord-1", item))
	require.NoError(t, err)
	r2, err := e.CommitOrder(ctx, orderRequest("ord-2", item))
	require.NoError(t, err)

	o1, err := s.Order(ctx, r1.OrderID)
	require.NoError(t, err)
	o2, err := s.Order(ctx, r2.OrderID)
	require.NoError(t, err)
	assert.Equal(t, o1.CustomerID, o2.CustomerID)
}

func TestCommitOrder_RejectsEmptyOrder(t *testing.T) {
	e := newExecutor(StoreLedger(newTestStore(t)))

	_, err := e.CommitOrder(context.Background(), OrderRequest{CommitKey: "k"})
	assert.True(t, domain.IsCode(err, domain.CodeValidationFailed))
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/stockline/internal/domain"
)

// Tx is a write transaction over the inventory, order and audit tables.
// Every commit of a side effect runs inside exactly one Tx.
type Tx struct {
	tx  *sql.Tx
	now string
}

// InTx runs fn in a transaction. The transaction commits when fn returns
// nil and rolls back otherwise; no partial writes survive an error.
//
// fn must not call other Store methods: the store has one connection and
// the transaction holds it.
func (s *Store) InTx(ctx context.Context, fn func(*Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&Tx{tx: sqlTx, now: formatTime(s.now())}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LookupCommit loads the receipt stored under key into dst.
// Reports false when key has not been committed.
func (t *Tx) LookupCommit(ctx context.Context, key string, dst any) (bool, error) {
	var receipt string
	err := t.tx.QueryRowContext(ctx, `
		SELECT receipt FROM commits WHERE commit_key = ?
	`, key).Scan(&receipt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup commit %s: %w", key, err)
	}
	if err := unmarshalReceipt(receipt, dst); err != nil {
		return false, fmt.Errorf("lookup commit %s: %w", key, err)
	}
	return true, nil
}

// RecordCommit stores the receipt for key. Recording a key twice fails,
// which rolls back the second attempt's writes.
func (t *Tx) RecordCommit(ctx context.Context, key, kind string, receipt any) error {
	data, err := marshalReceipt(receipt)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO commits (commit_key, kind, receipt, created_at)
		VALUES (?, ?, ?, ?)
	`, key, kind, data, t.now)
	if err != nil {
		return fmt.Errorf("record commit %s: %w", key, err)
	}
	return nil
}

// Product reads one product inside the transaction.
func (t *Tx) Product(ctx context.Context, id string) (domain.Product, error) {
	p, err := scanProduct(t.tx.QueryRowContext(ctx, `
		SELECT `+productColumns+` FROM products WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("get product %s: %w", id, err)
	}
	return p, nil
}

// SetStock writes a new stock level if the row is still at version.
// Returns an error wrapping ErrConflict when the row moved on.
func (t *Tx) SetStock(ctx context.Context, id string, version int64, stock int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products SET stock = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, stock, t.now, id, version)
	if err != nil {
		return fmt.Errorf("set stock %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set stock %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("set stock %s at version %d: %w", id, version, ErrConflict)
	}
	return nil
}

// AppendAudit appends one audit record.
func (t *Tx) AppendAudit(ctx context.Context, rec domain.AuditRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO audit_records
		(id, commit_key, entity_id, action, quantity_delta, previous_quantity,
		 new_quantity, actor_name, source_session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.CommitKey,
		rec.EntityID,
		string(rec.Action),
		rec.QuantityDelta,
		rec.PreviousQuantity,
		rec.NewQuantity,
		rec.ActorName,
		rec.SourceSessionID,
		formatTime(rec.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("append audit %s: %w", rec.ID, err)
	}
	return nil
}

// ResolveCustomer returns the customer with c.Phone, creating it from c
// when none exists. An existing customer gets c's email when it had none.
func (t *Tx) ResolveCustomer(ctx context.Context, c domain.Customer) (domain.Customer, error) {
	var (
		found     domain.Customer
		createdAt string
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, phone, email, created_at FROM customers WHERE phone = ?
	`, c.Phone).Scan(&found.ID, &found.Name, &found.Phone, &found.Email, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO customers (id, name, phone, email, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, c.ID, c.Name, c.Phone, c.Email, t.now)
		if err != nil {
			return domain.Customer{}, fmt.Errorf("create customer: %w", err)
		}
		c.CreatedAt, _ = parseTime(t.now)
		return c, nil
	case err != nil:
		return domain.Customer{}, fmt.Errorf("find customer: %w", err)
	}

	if found.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Customer{}, err
	}
	if found.Email == "" && c.Email != "" {
		if _, err := t.tx.ExecContext(ctx, `
			UPDATE customers SET email = ? WHERE id = ?
		`, c.Email, found.ID); err != nil {
			return domain.Customer{}, fmt.Errorf("update customer email: %w", err)
		}
		found.Email = c.Email
	}
	return found, nil
}

// InsertOrder inserts the order header and its line items.
func (t *Tx) InsertOrder(ctx context.Context, o domain.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders
		(id, customer_id, container_number, job_reference, actor_name,
		 subtotal, tax, total, requires_approval, session_id, commit_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID,
		o.CustomerID,
		o.ContainerNumber,
		o.JobReference,
		o.ActorName,
		int64(o.Totals.Subtotal),
		int64(o.Totals.Tax),
		int64(o.Totals.Total),
		o.RequiresApproval,
		o.SessionID,
		o.CommitKey,
		formatTime(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}

	for i, it := range o.Items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_items
			(order_id, line, product_id, product_name, sku, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, o.ID, i+1, it.ProductID, it.ProductName, it.SKU, it.Quantity, int64(it.UnitPrice))
		if err != nil {
			return fmt.Errorf("insert order %s line %d: %w", o.ID, i+1, err)
		}
	}
	return nil
}

// RequestApproval enqueues a flagged order for review.
func (t *Tx) RequestApproval(ctx context.Context, a domain.Approval) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO approvals (order_id, status, reason, created_at)
		VALUES (?, ?, ?, ?)
	`, a.OrderID, string(domain.ApprovalPending), a.Reason, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("request approval %s: %w", a.OrderID, err)
	}
	return nil
}

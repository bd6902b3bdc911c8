package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/stockline/internal/domain"
)

// ListAudit returns audit records in append order. An empty productID
// lists every product. A non-positive limit means no limit.
func (s *Store) ListAudit(ctx context.Context, productID string, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, commit_key, entity_id, action, quantity_delta, previous_quantity,
		       new_quantity, actor_name, source_session_id, created_at
		FROM audit_records
		WHERE ? = '' OR entity_id = ?
		ORDER BY seq ASC
		LIMIT ?
	`, productID, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditRecord
	for rows.Next() {
		var (
			rec    domain.AuditRecord
			action string
			ts     string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.CommitKey,
			&rec.EntityID,
			&action,
			&rec.QuantityDelta,
			&rec.PreviousQuantity,
			&rec.NewQuantity,
			&rec.ActorName,
			&rec.SourceSessionID,
			&ts,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Action = domain.AuditAction(action)
		if rec.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return out, nil
}

// Order returns a committed order with its line items.
func (s *Store) Order(ctx context.Context, id string) (domain.Order, error) {
	var (
		o                    domain.Order
		subtotal, tax, total int64
		createdAt            string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, container_number, job_reference, actor_name,
		       subtotal, tax, total, requires_approval, session_id, commit_key, created_at
		FROM orders WHERE id = ?
	`, id).Scan(
		&o.ID,
		&o.CustomerID,
		&o.ContainerNumber,
		&o.JobReference,
		&o.ActorName,
		&subtotal,
		&tax,
		&total,
		&o.RequiresApproval,
		&o.SessionID,
		&o.CommitKey,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	o.Totals = domain.Totals{
		Subtotal: domain.Money(subtotal),
		Tax:      domain.Money(tax),
		Total:    domain.Money(total),
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Order{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, sku, quantity, unit_price
		FROM order_items WHERE order_id = ?
		ORDER BY line ASC
	`, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order %s items: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it    domain.OrderItem
			price int64
		)
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.SKU, &it.Quantity, &price); err != nil {
			return domain.Order{}, fmt.Errorf("scan order item: %w", err)
		}
		it.UnitPrice = domain.Money(price)
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return domain.Order{}, fmt.Errorf("get order %s items: %w", id, err)
	}
	return o, nil
}

// ListApprovals returns approvals with the given status, oldest first.
// An empty status lists all of them.
func (s *Store) ListApprovals(ctx context.Context, status domain.ApprovalStatus) ([]domain.Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, status, reason, created_at, resolved_at
		FROM approvals
		WHERE ? = '' OR status = ?
		ORDER BY created_at ASC, order_id ASC
	`, string(status), string(status))
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var out []domain.Approval
	for rows.Next() {
		var (
			a          domain.Approval
			st         string
			createdAt  string
			resolvedAt sql.NullString
		)
		if err := rows.Scan(&a.OrderID, &st, &a.Reason, &createdAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		a.Status = domain.ApprovalStatus(st)
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if resolvedAt.Valid {
			t, err := parseTime(resolvedAt.String)
			if err != nil {
				return nil, err
			}
			a.ResolvedAt = &t
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return out, nil
}

// ResolveApproval moves a pending approval to approved or denied.
// Resolving an approval that is not pending returns an error wrapping
// ErrConflict; an unknown order returns one wrapping ErrNotFound.
func (s *Store) ResolveApproval(ctx context.Context, orderID string, status domain.ApprovalStatus) error {
	if status != domain.ApprovalApproved && status != domain.ApprovalDenied {
		return fmt.Errorf("resolve approval %s: invalid status %q", orderID, status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET status = ?, resolved_at = ?
		WHERE order_id = ? AND status = ?
	`, string(status), formatTime(s.now()), orderID, string(domain.ApprovalPending))
	if err != nil {
		return fmt.Errorf("resolve approval %s: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve approval %s: %w", orderID, err)
	}
	if n == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM approvals WHERE order_id = ?`, orderID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("approval %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("resolve approval %s: %w", orderID, err)
	}
	return fmt.Errorf("approval %s already %s: %w", orderID, current, ErrConflict)
}

// CountOrders returns the number of placed orders.
func (s *Store) CountOrders(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/stockline/internal/domain"
)

const productColumns = `id, sku, name, vendor, units, unit_price, stock, reorder_level, version, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p         domain.Product
		price     int64
		updatedAt string
	)
	err := row.Scan(
		&p.ID,
		&p.SKU,
		&p.Name,
		&p.Vendor,
		&p.Units,
		&price,
		&p.Stock,
		&p.ReorderLevel,
		&p.Version,
		&updatedAt,
	)
	if err != nil {
		return domain.Product{}, err
	}
	p.UnitPrice = domain.Money(price)
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

// Products returns the whole catalog ordered by name, then id.
func (s *Store) Products(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+` FROM products
		ORDER BY name ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return out, nil
}

// Product returns one product by id, or an error wrapping ErrNotFound.
func (s *Store) Product(ctx context.Context, id string) (domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
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

// ProductBySKU returns one product by SKU, or an error wrapping ErrNotFound.
func (s *Store) ProductBySKU(ctx context.Context, sku string) (domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+` FROM products WHERE sku = ?
	`, sku))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("product sku %s: %w", sku, ErrNotFound)
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("get product sku %s: %w", sku, err)
	}
	return p, nil
}

// UpsertProduct inserts p, or updates the product with the same SKU.
// An existing product keeps its id; every update bumps the version so
// in-flight commits against the old row fail their version check.
// Reports whether a new row was inserted.
func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) (bool, error) {
	if p.SKU == "" {
		return false, fmt.Errorf("upsert product %q: empty sku", p.Name)
	}
	now := formatTime(s.now())

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO products
		(id, sku, name, vendor, units, unit_price, stock, reorder_level, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(sku) DO NOTHING
	`,
		p.ID, p.SKU, p.Name, p.Vendor, p.Units, int64(p.UnitPrice), p.Stock, p.ReorderLevel, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert product %s: %w", p.SKU, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, fmt.Errorf("insert product %s: %w", p.SKU, err)
	} else if n == 1 {
		return true, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE products SET
			name = ?, vendor = ?, units = ?, unit_price = ?, stock = ?,
			reorder_level = ?, version = version + 1, updated_at = ?
		WHERE sku = ?
	`,
		p.Name, p.Vendor, p.Units, int64(p.UnitPrice), p.Stock, p.ReorderLevel, now, p.SKU,
	)
	if err != nil {
		return false, fmt.Errorf("update product %s: %w", p.SKU, err)
	}
	return false, nil
}

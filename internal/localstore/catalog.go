package localstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"dukkanpos/internal/domain"
)

// Catalog rows are center-owned and never locally edited, so applying a
// pulled row is a plain last-pull-wins overwrite of the mutable fields.
// Each upsert maps fields explicitly; unexpected wire fields never reach
// the local schema.

func (s *Store) UpsertCategory(ctx context.Context, c domain.Category) error {
	if c.ID == "" || c.Name == "" {
		return ErrInvalid
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at
	`, c.ID, c.Name, c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	return err
}

// UpsertProduct applies a pulled product and guarantees a stock row exists
// for it. Pulled data never touches the stock quantity itself; stock is
// locally authoritative between sync cycles.
func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	if p.ID == "" || p.Barcode == "" || p.Name == "" {
		return ErrInvalid
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO products (id, barcode, name, category_id, purchase_cents, sale_cents, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				barcode = excluded.barcode,
				name = excluded.name,
				category_id = excluded.category_id,
				purchase_cents = excluded.purchase_cents,
				sale_cents = excluded.sale_cents,
				is_active = excluded.is_active,
				updated_at = excluded.updated_at
		`, p.ID, p.Barcode, p.Name, nullIfEmpty(p.CategoryID), p.PurchaseCents, p.SaleCents, p.Active, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
		if err != nil {
			return err
		}

		_, err = tx.Exec(`
			INSERT INTO stocks (id, product_id, quantity, min_quantity, updated_at)
			VALUES (?, ?, 0, 5, ?)
			ON CONFLICT(product_id) DO NOTHING
		`, uuid.NewString(), p.ID, time.Now().UTC())
		return err
	})
}

func (s *Store) UpsertUser(ctx context.Context, u domain.User) error {
	if u.ID == "" || u.Username == "" {
		return ErrInvalid
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, full_name, role, store_id, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			full_name = excluded.full_name,
			role = excluded.role,
			store_id = excluded.store_id,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`, u.ID, u.Username, u.FullName, u.Role, nullIfEmpty(u.StoreID), u.Active, u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	return err
}

func (s *Store) UpsertStoreInfo(ctx context.Context, st domain.Store) error {
	if st.ID == "" || st.Name == "" {
		return ErrInvalid
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_info (id, name, address, phone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			phone = excluded.phone,
			updated_at = excluded.updated_at
	`, st.ID, st.Name, nullIfEmpty(st.Address), nullIfEmpty(st.Phone), st.CreatedAt.UTC(), st.UpdatedAt.UTC())
	return err
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.scanProduct(s.db.QueryRowContext(ctx, `
		SELECT id, barcode, name, COALESCE(category_id, ''), purchase_cents, sale_cents, is_active, created_at, updated_at
		FROM products WHERE id = ?
	`, id))
}

func (s *Store) FindProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	return s.scanProduct(s.db.QueryRowContext(ctx, `
		SELECT id, barcode, name, COALESCE(category_id, ''), purchase_cents, sale_cents, is_active, created_at, updated_at
		FROM products WHERE barcode = ? AND is_active = 1
	`, barcode))
}

func (s *Store) scanProduct(row *sql.Row) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Barcode, &p.Name, &p.CategoryID, &p.PurchaseCents, &p.SaleCents, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, barcode, name, COALESCE(category_id, ''), purchase_cents, sale_cents, is_active, created_at, updated_at
		FROM products
		WHERE is_active = 1
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Barcode, &p.Name, &p.CategoryID, &p.PurchaseCents, &p.SaleCents, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, COALESCE(full_name, ''), role, COALESCE(store_id, ''), is_active, created_at, updated_at
		FROM users WHERE username = ?
	`, username).Scan(&u.ID, &u.Username, &u.FullName, &u.Role, &u.StoreID, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

// GetStock returns the stock record for a product, creating a zero row on
// first reference.
func (s *Store) GetStock(ctx context.Context, productID string) (*domain.StockRecord, error) {
	if productID == "" {
		return nil, ErrInvalid
	}

	var rec domain.StockRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, product_id, quantity, min_quantity, updated_at
		FROM stocks WHERE product_id = ?
	`, productID).Scan(&rec.ID, &rec.ProductID, &rec.Quantity, &rec.MinQuantity, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		rec = domain.StockRecord{
			ID:          uuid.NewString(),
			ProductID:   productID,
			MinQuantity: 5,
			UpdatedAt:   time.Now().UTC(),
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO stocks (id, product_id, quantity, min_quantity, updated_at)
			VALUES (?, ?, 0, ?, ?)
			ON CONFLICT(product_id) DO NOTHING
		`, rec.ID, rec.ProductID, rec.MinQuantity, rec.UpdatedAt)
		if err != nil {
			return nil, err
		}
		return &rec, nil
	}
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

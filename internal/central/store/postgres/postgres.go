// Package postgres is the central Repository backed by PostgreSQL. Ingest
// writes go through INSERT ... ON CONFLICT DO NOTHING on the edge-assigned
// primary key, so a replayed push is detected by the database itself even
// if two deliveries race.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dukkanpos/internal/central/store"
	"dukkanpos/internal/domain"
	"dukkanpos/internal/reconcile"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CategoriesModifiedSince(ctx context.Context, since *time.Time) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at, updated_at
		FROM categories
		WHERE $1::timestamptz IS NULL OR updated_at > $1
		ORDER BY id
	`, nullTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 32)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *Store) ProductsModifiedSince(ctx context.Context, since *time.Time) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, barcode, name, COALESCE(category_id, ''), purchase_cents, sale_cents, active, created_at, updated_at
		FROM products
		WHERE $1::timestamptz IS NULL OR updated_at > $1
		ORDER BY id
	`, nullTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Barcode, &p.Name, &p.CategoryID, &p.PurchaseCents, &p.SaleCents, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) UsersModifiedSince(ctx context.Context, storeID string, since *time.Time) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, COALESCE(full_name, ''), role, COALESCE(store_id, ''), active, created_at, updated_at
		FROM users
		WHERE (store_id IS NULL OR store_id = $1)
		  AND ($2::timestamptz IS NULL OR updated_at > $2)
		ORDER BY id
	`, storeID, nullTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.FullName, &u.Role, &u.StoreID, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) StoreModifiedSince(ctx context.Context, storeID string, since *time.Time) (*domain.Store, error) {
	var st domain.Store
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(address, ''), COALESCE(phone, ''), created_at, updated_at
		FROM stores WHERE id = $1
	`, storeID).Scan(&st.ID, &st.Name, &st.Address, &st.Phone, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if since != nil && !st.UpdatedAt.After(*since) {
		return nil, nil
	}
	return &st, nil
}

func (s *Store) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	return s.scanDevice(s.db.QueryRowContext(ctx, `
		SELECT id, store_id, COALESCE(name, ''), activation_code, activated, activated_at, last_sync_at
		FROM devices WHERE id = $1
	`, deviceID), store.ErrNotFound)
}

func (s *Store) FindDeviceByActivationCode(ctx context.Context, code string) (*domain.Device, error) {
	return s.scanDevice(s.db.QueryRowContext(ctx, `
		SELECT id, store_id, COALESCE(name, ''), activation_code, activated, activated_at, last_sync_at
		FROM devices WHERE activation_code = $1
	`, code), store.ErrInvalidCode)
}

func (s *Store) scanDevice(row *sql.Row, notFound error) (*domain.Device, error) {
	var d domain.Device
	var activatedAt, lastSyncAt sql.NullTime
	err := row.Scan(&d.ID, &d.StoreID, &d.Name, &d.ActivationCode, &d.Activated, &activatedAt, &lastSyncAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound
		}
		return nil, err
	}
	if activatedAt.Valid {
		t := activatedAt.Time.UTC()
		d.ActivatedAt = &t
	}
	if lastSyncAt.Valid {
		t := lastSyncAt.Time.UTC()
		d.LastSyncAt = &t
	}
	return &d, nil
}

// ActivateDevice marks the device activated. Activating an already
// activated device is a no-op returning the existing record, which keeps
// activation retry-safe for the terminal.
func (s *Store) ActivateDevice(ctx context.Context, deviceID string, at time.Time) (*domain.Device, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE devices SET activated = true, activated_at = $2
		WHERE id = $1 AND activated = false
	`, deviceID, at.UTC())
	if err != nil {
		return nil, err
	}
	return s.GetDevice(ctx, deviceID)
}

func (s *Store) TouchDeviceSync(ctx context.Context, deviceID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE devices SET last_sync_at = $2 WHERE id = $1
	`, deviceID, at.UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// IngestSale inserts the sale with its items and payments in one
// transaction. A conflicting id means an earlier delivery already applied
// the sale; nothing is written and applied=false. Central stock is never
// touched: the device applied the decrement locally and the center does not
// re-derive stock from pushed operations.
func (s *Store) IngestSale(ctx context.Context, sale domain.Sale) (bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sales (id, receipt_number, store_id, device_id, user_id, shift_id,
			total_cents, discount_cents, final_cents, refund_status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING
	`, sale.ID, sale.ReceiptNumber, sale.StoreID, sale.DeviceID, sale.UserID, nullIfEmpty(sale.ShiftID),
		sale.TotalCents, sale.DiscountCents, sale.FinalCents, domain.RefundStatusNone, sale.CreatedAt.UTC())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	for _, item := range sale.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, product_id, product_name, barcode,
				quantity, unit_cents, purchase_cents, total_cents, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (id) DO NOTHING
		`, item.ID, sale.ID, item.ProductID, item.ProductName, nullIfEmpty(item.Barcode),
			item.Quantity, item.UnitCents, item.PurchaseCents, item.TotalCents, item.CreatedAt.UTC())
		if err != nil {
			return false, err
		}
	}
	for _, payment := range sale.Payments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO payments (id, sale_id, method, amount_cents, created_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (id) DO NOTHING
		`, payment.ID, sale.ID, payment.Method, payment.AmountCents, payment.CreatedAt.UTC())
		if err != nil {
			return false, err
		}
	}

	return true, tx.Commit()
}

func (s *Store) IngestRefund(ctx context.Context, refund domain.Refund) (bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO refunds (id, sale_id, sale_item_id, product_id, product_name,
			quantity, amount_cents, reason, store_id, user_id, device_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO NOTHING
	`, refund.ID, refund.SaleID, nullIfEmpty(refund.SaleItemID), nullIfEmpty(refund.ProductID),
		nullIfEmpty(refund.ProductName), refund.Quantity, refund.AmountCents, nullIfEmpty(refund.Reason),
		refund.StoreID, refund.UserID, refund.DeviceID, refund.CreatedAt.UTC())
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, fmt.Errorf("%w: sale %s", store.ErrNotFound, refund.SaleID)
		}
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	if err := s.recomputeRefundStatusTx(ctx, tx, refund.SaleID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *Store) IngestStockAdjustment(ctx context.Context, adj domain.StockAdjustment) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_adjustments (id, product_id, adjustment_type, quantity, reason,
			store_id, user_id, device_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING
	`, adj.ID, adj.ProductID, adj.Type, adj.Quantity, nullIfEmpty(adj.Reason),
		adj.StoreID, adj.UserID, adj.DeviceID, adj.CreatedAt.UTC())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) IngestShiftOpen(ctx context.Context, shift domain.Shift) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (id, store_id, device_id, user_id, opening_cash_cents, is_open, opened_at)
		VALUES ($1,$2,$3,$4,$5,true,$6)
		ON CONFLICT (id) DO NOTHING
	`, shift.ID, shift.StoreID, shift.DeviceID, shift.UserID, shift.OpeningCashCents, shift.OpenedAt.UTC())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// IngestShiftClose recomputes the expected cash from the center's own
// payment rows for the shift, then closes it. A close for an already
// closed shift is a replay: applied=false, no update.
func (s *Store) IngestShiftClose(ctx context.Context, closeReq domain.ShiftClosePayload) (bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var openingCents int64
	var isOpen bool
	err = tx.QueryRowContext(ctx, `
		SELECT opening_cash_cents, is_open FROM shifts WHERE id = $1
	`, closeReq.ID).Scan(&openingCents, &isOpen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("%w: shift %s", store.ErrNotFound, closeReq.ID)
		}
		return false, err
	}
	if !isOpen {
		return false, nil
	}

	var cashCents int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(p.amount_cents), 0)
		FROM payments p
		JOIN sales s ON s.id = p.sale_id
		WHERE s.shift_id = $1 AND p.method = $2
	`, closeReq.ID, domain.PaymentCash).Scan(&cashCents)
	if err != nil {
		return false, err
	}

	expected := openingCents + cashCents
	difference := reconcile.CashDifferenceCents(closeReq.ClosingCashCents, expected)

	_, err = tx.ExecContext(ctx, `
		UPDATE shifts
		SET closing_cash_cents = $2, total_sales_cents = $3, expected_cash_cents = $4,
			cash_difference_cents = $5, is_open = false, closed_at = $6
		WHERE id = $1
	`, closeReq.ID, closeReq.ClosingCashCents, closeReq.TotalSalesCents, expected, difference, closeReq.ClosedAt.UTC())
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *Store) UserAccountByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, COALESCE(full_name, ''), role, COALESCE(store_id, ''), password_hash, active, created_at, updated_at
		FROM users WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.FullName, &u.Role, &u.StoreID, &u.PasswordHash, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// recomputeRefundStatusTx rebuilds the sale's rollup from its items and
// every refund recorded so far.
func (s *Store) recomputeRefundStatusTx(ctx context.Context, tx *sql.Tx, saleID string) error {
	itemRows, err := tx.QueryContext(ctx, `
		SELECT id, product_id, quantity FROM sale_items WHERE sale_id = $1
	`, saleID)
	if err != nil {
		return err
	}
	defer itemRows.Close()

	var items []domain.SaleItem
	for itemRows.Next() {
		var item domain.SaleItem
		if err := itemRows.Scan(&item.ID, &item.ProductID, &item.Quantity); err != nil {
			return err
		}
		items = append(items, item)
	}
	if err := itemRows.Err(); err != nil {
		return err
	}

	refundRows, err := tx.QueryContext(ctx, `
		SELECT COALESCE(sale_item_id, ''), COALESCE(product_id, ''), quantity
		FROM refunds WHERE sale_id = $1
	`, saleID)
	if err != nil {
		return err
	}
	defer refundRows.Close()

	var refunds []domain.Refund
	for refundRows.Next() {
		var r domain.Refund
		if err := refundRows.Scan(&r.SaleItemID, &r.ProductID, &r.Quantity); err != nil {
			return err
		}
		refunds = append(refunds, r)
	}
	if err := refundRows.Err(); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sales SET refund_status = $2 WHERE id = $1
	`, saleID, reconcile.RefundStatus(items, refunds))
	return err
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

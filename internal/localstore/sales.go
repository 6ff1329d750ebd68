package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dukkanpos/internal/domain"
	"dukkanpos/internal/reconcile"
)

// CreateSale records a sale, its item snapshots and payments, decrements
// stock, and enqueues the sale for push, all in one transaction. The sale
// id is assigned here (at the edge) if the caller did not set one.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 || sale.StoreID == "" || sale.DeviceID == "" || sale.UserID == "" {
		return nil, ErrInvalid
	}
	for _, item := range sale.Items {
		if item.ProductID == "" || item.Quantity < 1 || item.UnitCents < 0 {
			return nil, ErrInvalid
		}
	}

	now := time.Now().UTC()
	if sale.ID == "" {
		sale.ID = uuid.NewString()
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.RefundStatus = domain.RefundStatusNone

	for i := range sale.Items {
		item := &sale.Items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.SaleID = sale.ID
		if item.TotalCents == 0 {
			item.TotalCents = int64(item.Quantity) * item.UnitCents
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
	}
	for i := range sale.Payments {
		p := &sale.Payments[i]
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		p.SaleID = sale.ID
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
	}

	if sale.TotalCents == 0 {
		for _, item := range sale.Items {
			sale.TotalCents += item.TotalCents
		}
	}
	if sale.DiscountCents < 0 || sale.DiscountCents > sale.TotalCents {
		return nil, ErrInvalid
	}
	sale.FinalCents = sale.TotalCents - sale.DiscountCents

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if sale.ReceiptNumber == "" {
			receipt, err := nextReceiptNumber(tx, sale.CreatedAt)
			if err != nil {
				return err
			}
			sale.ReceiptNumber = receipt
		}

		_, err := tx.Exec(`
			INSERT INTO sales (id, receipt_number, store_id, device_id, user_id, shift_id,
				total_cents, discount_cents, final_cents, refund_status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sale.ID, sale.ReceiptNumber, sale.StoreID, sale.DeviceID, sale.UserID, nullIfEmpty(sale.ShiftID),
			sale.TotalCents, sale.DiscountCents, sale.FinalCents, sale.RefundStatus, sale.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}

		for _, item := range sale.Items {
			_, err := tx.Exec(`
				INSERT INTO sale_items (id, sale_id, product_id, product_name, barcode,
					quantity, unit_cents, purchase_cents, total_cents, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, item.ID, item.SaleID, item.ProductID, item.ProductName, nullIfEmpty(item.Barcode),
				item.Quantity, item.UnitCents, item.PurchaseCents, item.TotalCents, item.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert sale item: %w", err)
			}

			if err := setStockTx(tx, item.ProductID, func(current int) int {
				return reconcile.SaleStockLevel(current, item.Quantity)
			}); err != nil {
				return err
			}
		}

		for _, payment := range sale.Payments {
			_, err := tx.Exec(`
				INSERT INTO payments (id, sale_id, method, amount_cents, created_at)
				VALUES (?, ?, ?, ?, ?)
			`, payment.ID, payment.SaleID, payment.Method, payment.AmountCents, payment.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert payment: %w", err)
			}
		}

		return enqueueTx(tx, domain.EntitySale, sale.ID, domain.OpCreate, sale)
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// CreateRefund records a refund against a sale, returns the stock when a
// product is referenced, recomputes the sale's refund-status rollup, and
// enqueues the refund in one transaction. Refunding more units than remain
// refundable is rejected.
func (s *Store) CreateRefund(ctx context.Context, refund domain.Refund) (*domain.Refund, error) {
	if refund.SaleID == "" || refund.Quantity < 1 || refund.AmountCents < 0 {
		return nil, ErrInvalid
	}
	if refund.StoreID == "" || refund.UserID == "" || refund.DeviceID == "" {
		return nil, ErrInvalid
	}

	if refund.ID == "" {
		refund.ID = uuid.NewString()
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		items, err := saleItemsTx(tx, refund.SaleID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return fmt.Errorf("%w: sale %s", ErrNotFound, refund.SaleID)
		}

		existing, err := refundsTx(tx, refund.SaleID)
		if err != nil {
			return err
		}

		item, ok := matchSaleItem(items, refund)
		if !ok {
			return fmt.Errorf("%w: sale item for refund %s", ErrNotFound, refund.ID)
		}
		if refund.Quantity > reconcile.RefundableQuantity(item, existing) {
			return ErrRefundExceeded
		}
		if refund.SaleItemID == "" {
			refund.SaleItemID = item.ID
		}
		if refund.ProductName == "" {
			refund.ProductName = item.ProductName
		}
		if refund.AmountCents == 0 {
			refund.AmountCents = int64(refund.Quantity) * item.UnitCents
		}

		_, err = tx.Exec(`
			INSERT INTO refunds (id, sale_id, sale_item_id, product_id, product_name,
				quantity, amount_cents, reason, store_id, user_id, device_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, refund.ID, refund.SaleID, nullIfEmpty(refund.SaleItemID), nullIfEmpty(refund.ProductID),
			nullIfEmpty(refund.ProductName), refund.Quantity, refund.AmountCents, nullIfEmpty(refund.Reason),
			refund.StoreID, refund.UserID, refund.DeviceID, refund.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert refund: %w", err)
		}

		if refund.ProductID != "" {
			if err := setStockTx(tx, refund.ProductID, func(current int) int {
				return reconcile.RefundStockLevel(current, refund.Quantity)
			}); err != nil {
				return err
			}
		}

		status := reconcile.RefundStatus(items, append(existing, refund))
		if _, err := tx.Exec(`UPDATE sales SET refund_status = ? WHERE id = ?`, status, refund.SaleID); err != nil {
			return fmt.Errorf("update refund status: %w", err)
		}

		return enqueueTx(tx, domain.EntityRefund, refund.ID, domain.OpCreate, refund)
	})
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// AdjustStock applies a manual stock adjustment and enqueues it for push.
// The center records the adjustment but never re-derives stock from it;
// the local quantity stays authoritative.
func (s *Store) AdjustStock(ctx context.Context, adj domain.StockAdjustment) (*domain.StockRecord, error) {
	if adj.ProductID == "" || adj.Quantity < 0 {
		return nil, ErrInvalid
	}
	switch adj.Type {
	case domain.AdjustmentAdd, domain.AdjustmentRemove, domain.AdjustmentSet:
	default:
		return nil, fmt.Errorf("%w: adjustment type %q", ErrInvalid, adj.Type)
	}
	if adj.StoreID == "" || adj.UserID == "" || adj.DeviceID == "" {
		return nil, ErrInvalid
	}

	if adj.ID == "" {
		adj.ID = uuid.NewString()
	}
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = time.Now().UTC()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := setStockTx(tx, adj.ProductID, func(current int) int {
			return reconcile.AdjustedStockLevel(current, adj.Type, adj.Quantity)
		}); err != nil {
			return err
		}
		return enqueueTx(tx, domain.EntityStockAdjustment, adj.ID, domain.OpCreate, adj)
	})
	if err != nil {
		return nil, err
	}
	return s.GetStock(ctx, adj.ProductID)
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	var shiftID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, receipt_number, store_id, device_id, user_id, shift_id,
			total_cents, discount_cents, final_cents, refund_status, created_at
		FROM sales WHERE id = ?
	`, id).Scan(&sale.ID, &sale.ReceiptNumber, &sale.StoreID, &sale.DeviceID, &sale.UserID, &shiftID,
		&sale.TotalCents, &sale.DiscountCents, &sale.FinalCents, &sale.RefundStatus, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sale.ShiftID = shiftID.String
	sale.CreatedAt = sale.CreatedAt.UTC()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if sale.Items, err = saleItemsTx(tx, sale.ID); err != nil {
		return nil, err
	}
	if sale.Payments, err = paymentsTx(tx, sale.ID); err != nil {
		return nil, err
	}
	return &sale, nil
}

func matchSaleItem(items []domain.SaleItem, refund domain.Refund) (domain.SaleItem, bool) {
	for _, item := range items {
		if refund.SaleItemID != "" && item.ID == refund.SaleItemID {
			return item, true
		}
		if refund.ProductID != "" && item.ProductID == refund.ProductID {
			return item, true
		}
	}
	return domain.SaleItem{}, false
}

// setStockTx rewrites a product's stock quantity through next, creating the
// row at zero when missing.
func setStockTx(tx *sql.Tx, productID string, next func(current int) int) error {
	var current int
	err := tx.QueryRow(`SELECT quantity FROM stocks WHERE product_id = ?`, productID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		current = 0
		_, err = tx.Exec(`
			INSERT INTO stocks (id, product_id, quantity, min_quantity, updated_at)
			VALUES (?, ?, 0, 5, ?)
		`, uuid.NewString(), productID, time.Now().UTC())
	}
	if err != nil {
		return fmt.Errorf("read stock for %s: %w", productID, err)
	}

	_, err = tx.Exec(`UPDATE stocks SET quantity = ?, updated_at = ? WHERE product_id = ?`,
		next(current), time.Now().UTC(), productID)
	if err != nil {
		return fmt.Errorf("update stock for %s: %w", productID, err)
	}
	return nil
}

func saleItemsTx(tx *sql.Tx, saleID string) ([]domain.SaleItem, error) {
	rows, err := tx.Query(`
		SELECT id, sale_id, product_id, product_name, COALESCE(barcode, ''),
			quantity, unit_cents, purchase_cents, total_cents, created_at
		FROM sale_items WHERE sale_id = ? ORDER BY rowid
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &item.Barcode,
			&item.Quantity, &item.UnitCents, &item.PurchaseCents, &item.TotalCents, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}

func paymentsTx(tx *sql.Tx, saleID string) ([]domain.Payment, error) {
	rows, err := tx.Query(`
		SELECT id, sale_id, method, amount_cents, created_at
		FROM payments WHERE sale_id = ? ORDER BY rowid
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 2)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.SaleID, &p.Method, &p.AmountCents, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func refundsTx(tx *sql.Tx, saleID string) ([]domain.Refund, error) {
	rows, err := tx.Query(`
		SELECT id, sale_id, COALESCE(sale_item_id, ''), COALESCE(product_id, ''), COALESCE(product_name, ''),
			quantity, amount_cents, COALESCE(reason, ''), store_id, user_id, device_id, created_at
		FROM refunds WHERE sale_id = ? ORDER BY rowid
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refunds := make([]domain.Refund, 0, 4)
	for rows.Next() {
		var r domain.Refund
		if err := rows.Scan(&r.ID, &r.SaleID, &r.SaleItemID, &r.ProductID, &r.ProductName,
			&r.Quantity, &r.AmountCents, &r.Reason, &r.StoreID, &r.UserID, &r.DeviceID, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		refunds = append(refunds, r)
	}
	return refunds, rows.Err()
}

// nextReceiptNumber builds a per-device receipt number from the sale date
// and a daily sequence. Uniqueness is enforced by the schema.
func nextReceiptNumber(tx *sql.Tx, at time.Time) (string, error) {
	day := at.UTC().Format("20060102")
	var count int
	err := tx.QueryRow(`SELECT COUNT(*) FROM sales WHERE receipt_number LIKE ?`, "RCP-"+day+"-%").Scan(&count)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("RCP-%s-%04d", day, count+1), nil
}

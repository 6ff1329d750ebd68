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

// OpenShift starts a cash session for a user on this device. At most one
// shift may be open per device; a second open is rejected with ErrShiftOpen.
func (s *Store) OpenShift(ctx context.Context, storeID, deviceID, userID string, openingCashCents int64) (*domain.Shift, error) {
	if storeID == "" || deviceID == "" || userID == "" || openingCashCents < 0 {
		return nil, ErrInvalid
	}

	shift := domain.Shift{
		ID:               uuid.NewString(),
		StoreID:          storeID,
		DeviceID:         deviceID,
		UserID:           userID,
		OpeningCashCents: openingCashCents,
		IsOpen:           true,
		OpenedAt:         time.Now().UTC(),
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var openID string
		err := tx.QueryRow(`SELECT id FROM shifts WHERE device_id = ? AND is_open = 1`, deviceID).Scan(&openID)
		if err == nil {
			return fmt.Errorf("%w: shift %s", ErrShiftOpen, openID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		_, err = tx.Exec(`
			INSERT INTO shifts (id, store_id, device_id, user_id, opening_cash_cents, is_open, opened_at)
			VALUES (?, ?, ?, ?, ?, 1, ?)
		`, shift.ID, shift.StoreID, shift.DeviceID, shift.UserID, shift.OpeningCashCents, shift.OpenedAt)
		if err != nil {
			return fmt.Errorf("insert shift: %w", err)
		}

		return enqueueTx(tx, domain.EntityShift, shift.ID, domain.OpCreate, shift)
	})
	if err != nil {
		return nil, err
	}
	return &shift, nil
}

// CloseShift counts the drawer against the shift's sales. Total sales and
// expected cash come from the sales recorded under the shift, never from a
// caller-supplied figure; the counted closing cash yields the difference.
// Closing an already closed shift is rejected with ErrShiftClosed.
func (s *Store) CloseShift(ctx context.Context, shiftID string, closingCashCents int64) (*domain.Shift, error) {
	if shiftID == "" || closingCashCents < 0 {
		return nil, ErrInvalid
	}

	var shift *domain.Shift
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := shiftTx(tx, shiftID)
		if err != nil {
			return err
		}
		if !current.IsOpen {
			return ErrShiftClosed
		}

		sales, payments, err := shiftSalesTx(tx, shiftID)
		if err != nil {
			return err
		}

		closedAt := time.Now().UTC()
		total := reconcile.TotalSalesCents(sales)
		expected := reconcile.ExpectedCashCents(current.OpeningCashCents, payments)
		difference := reconcile.CashDifferenceCents(closingCashCents, expected)

		_, err = tx.Exec(`
			UPDATE shifts
			SET closing_cash_cents = ?, total_sales_cents = ?, expected_cash_cents = ?,
				cash_difference_cents = ?, is_open = 0, closed_at = ?
			WHERE id = ?
		`, closingCashCents, total, expected, difference, closedAt, shiftID)
		if err != nil {
			return fmt.Errorf("close shift: %w", err)
		}

		current.ClosingCashCents = &closingCashCents
		current.TotalSalesCents = total
		current.ExpectedCashCents = &expected
		current.CashDifferenceCents = &difference
		current.IsOpen = false
		current.ClosedAt = &closedAt
		shift = current

		return enqueueTx(tx, domain.EntityShift, shiftID, domain.OpUpdate, domain.ShiftClosePayload{
			ID:               shiftID,
			ClosingCashCents: closingCashCents,
			TotalSalesCents:  total,
			ClosedAt:         closedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	return shift, nil
}

// CurrentShift returns the device's open shift, or ErrNotFound when none.
func (s *Store) CurrentShift(ctx context.Context, deviceID string) (*domain.Shift, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRow(`SELECT id FROM shifts WHERE device_id = ? AND is_open = 1`, deviceID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return shiftTx(tx, id)
}

func (s *Store) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	return shiftTx(tx, id)
}

func shiftTx(tx *sql.Tx, id string) (*domain.Shift, error) {
	var shift domain.Shift
	var closing, expected, difference sql.NullInt64
	var closedAt sql.NullTime
	err := tx.QueryRow(`
		SELECT id, store_id, device_id, user_id, opening_cash_cents, closing_cash_cents,
			total_sales_cents, expected_cash_cents, cash_difference_cents, is_open, opened_at, closed_at
		FROM shifts WHERE id = ?
	`, id).Scan(&shift.ID, &shift.StoreID, &shift.DeviceID, &shift.UserID, &shift.OpeningCashCents,
		&closing, &shift.TotalSalesCents, &expected, &difference, &shift.IsOpen, &shift.OpenedAt, &closedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	shift.ClosingCashCents = scanInt64Ptr(closing)
	shift.ExpectedCashCents = scanInt64Ptr(expected)
	shift.CashDifferenceCents = scanInt64Ptr(difference)
	shift.OpenedAt = shift.OpenedAt.UTC()
	shift.ClosedAt = scanTimePtr(closedAt)
	return &shift, nil
}

// shiftSalesTx loads the sales and payments recorded under a shift, for the
// close-time reconciliation.
func shiftSalesTx(tx *sql.Tx, shiftID string) ([]domain.Sale, []domain.Payment, error) {
	rows, err := tx.Query(`SELECT id, final_cents FROM sales WHERE shift_id = ?`, shiftID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.FinalCents); err != nil {
			return nil, nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	payRows, err := tx.Query(`
		SELECT p.id, p.sale_id, p.method, p.amount_cents, p.created_at
		FROM payments p
		JOIN sales s ON s.id = p.sale_id
		WHERE s.shift_id = ?
	`, shiftID)
	if err != nil {
		return nil, nil, err
	}
	defer payRows.Close()

	payments := make([]domain.Payment, 0, 32)
	for payRows.Next() {
		var p domain.Payment
		if err := payRows.Scan(&p.ID, &p.SaleID, &p.Method, &p.AmountCents, &p.CreatedAt); err != nil {
			return nil, nil, err
		}
		payments = append(payments, p)
	}
	if err := payRows.Err(); err != nil {
		return nil, nil, err
	}
	return sales, payments, nil
}

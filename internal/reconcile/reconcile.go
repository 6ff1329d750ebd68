// Package reconcile holds the stock, cash and refund-status arithmetic shared
// by the device-local store and the central ingest path. Keeping it in one
// place means both sides agree on the numbers even when they reconcile at
// different times from different copies of the data.
package reconcile

import "dukkanpos/internal/domain"

// SaleStockLevel returns the stock quantity after selling soldQty units.
// The level floors at zero: overselling beyond recorded stock is permitted
// and recorded as zero rather than rejected.
func SaleStockLevel(current int, soldQty int) int {
	next := current - soldQty
	if next < 0 {
		return 0
	}
	return next
}

// RefundStockLevel returns the stock quantity after returning refundQty
// units. The increment is uncapped.
func RefundStockLevel(current int, refundQty int) int {
	return current + refundQty
}

// AdjustedStockLevel applies a manual adjustment. Remove floors at zero the
// same way a sale does; set takes the quantity verbatim (negative set values
// clamp to zero).
func AdjustedStockLevel(current int, adjType string, qty int) int {
	switch adjType {
	case domain.AdjustmentAdd:
		return current + qty
	case domain.AdjustmentRemove:
		return SaleStockLevel(current, qty)
	case domain.AdjustmentSet:
		if qty < 0 {
			return 0
		}
		return qty
	default:
		return current
	}
}

// ExpectedCashCents computes the cash a drawer should hold at shift close:
// the opening float plus every cash payment taken on sales in the shift,
// over the shift's full lifetime.
func ExpectedCashCents(openingCents int64, payments []domain.Payment) int64 {
	expected := openingCents
	for _, p := range payments {
		if p.Method == domain.PaymentCash {
			expected += p.AmountCents
		}
	}
	return expected
}

// CashDifferenceCents is the counted drawer minus the expectation. Negative
// means the drawer is short.
func CashDifferenceCents(closingCents, expectedCents int64) int64 {
	return closingCents - expectedCents
}

// TotalSalesCents sums the final amount of the given sales.
func TotalSalesCents(sales []domain.Sale) int64 {
	var total int64
	for _, s := range sales {
		total += s.FinalCents
	}
	return total
}

// refundedForItem sums the quantity already refunded against a sale item,
// matching by product id or, for refunds without a product reference, by
// the sale item id.
func refundedForItem(item domain.SaleItem, refunds []domain.Refund) int {
	var refunded int
	for _, r := range refunds {
		if (r.ProductID != "" && r.ProductID == item.ProductID) ||
			(r.ProductID == "" && r.SaleItemID == item.ID) {
			refunded += r.Quantity
		}
	}
	return refunded
}

// RefundStatus recomputes a sale's rollup status from its items and every
// refund recorded against it: none, partial, or full.
func RefundStatus(items []domain.SaleItem, refunds []domain.Refund) string {
	if len(items) == 0 {
		return domain.RefundStatusNone
	}

	anyRefunded := false
	allFullyRefunded := true
	for _, item := range items {
		refunded := refundedForItem(item, refunds)
		if refunded > 0 {
			anyRefunded = true
		}
		if refunded < item.Quantity {
			allFullyRefunded = false
		}
	}

	switch {
	case anyRefunded && allFullyRefunded:
		return domain.RefundStatusFull
	case anyRefunded:
		return domain.RefundStatusPartial
	default:
		return domain.RefundStatusNone
	}
}

// RefundableQuantity returns how many units of the item may still be
// refunded given the refunds already recorded for the sale. Cumulative
// refunded quantity per item never exceeds the quantity originally sold.
func RefundableQuantity(item domain.SaleItem, refunds []domain.Refund) int {
	remaining := item.Quantity - refundedForItem(item, refunds)
	if remaining < 0 {
		return 0
	}
	return remaining
}

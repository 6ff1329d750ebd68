package reconcile

import (
	"testing"

	"dukkanpos/internal/domain"
)

func TestSaleStockLevelFloorsAtZero(t *testing.T) {
	// Selling 5 against stock of 3 leaves 0, never -2. Oversell is
	// permitted as a matter of policy.
	if got := SaleStockLevel(3, 5); got != 0 {
		t.Fatalf("expected stock floor at 0, got %d", got)
	}
	if got := SaleStockLevel(10, 4); got != 6 {
		t.Fatalf("expected 6, got %d", got)
	}
}

func TestRefundStockLevelUncapped(t *testing.T) {
	if got := RefundStockLevel(0, 3); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestAdjustedStockLevel(t *testing.T) {
	cases := []struct {
		name    string
		current int
		adjType string
		qty     int
		want    int
	}{
		{"add", 5, domain.AdjustmentAdd, 3, 8},
		{"remove", 5, domain.AdjustmentRemove, 3, 2},
		{"remove floors", 2, domain.AdjustmentRemove, 5, 0},
		{"set", 5, domain.AdjustmentSet, 12, 12},
		{"set negative clamps", 5, domain.AdjustmentSet, -1, 0},
		{"unknown type keeps current", 5, "bogus", 3, 5},
	}
	for _, tc := range cases {
		if got := AdjustedStockLevel(tc.current, tc.adjType, tc.qty); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestExpectedCashAndDifference(t *testing.T) {
	// Opening float 100, cash payments of 50 and 30, a card payment that
	// must not count: expected 180. Counting 175 leaves the drawer 5 short.
	payments := []domain.Payment{
		{Method: domain.PaymentCash, AmountCents: 5000},
		{Method: domain.PaymentCard, AmountCents: 9900},
		{Method: domain.PaymentCash, AmountCents: 3000},
	}

	expected := ExpectedCashCents(10000, payments)
	if expected != 18000 {
		t.Fatalf("expected 18000, got %d", expected)
	}
	if diff := CashDifferenceCents(17500, expected); diff != -500 {
		t.Fatalf("expected difference -500, got %d", diff)
	}
}

func TestTotalSalesCents(t *testing.T) {
	sales := []domain.Sale{{FinalCents: 1200}, {FinalCents: 800}}
	if got := TotalSalesCents(sales); got != 2000 {
		t.Fatalf("expected 2000, got %d", got)
	}
}

func TestRefundStatusProgression(t *testing.T) {
	items := []domain.SaleItem{
		{ProductID: "prod-1", Quantity: 3},
	}

	if got := RefundStatus(items, nil); got != domain.RefundStatusNone {
		t.Fatalf("expected none, got %s", got)
	}

	refunds := []domain.Refund{{ProductID: "prod-1", Quantity: 2}}
	if got := RefundStatus(items, refunds); got != domain.RefundStatusPartial {
		t.Fatalf("expected partial, got %s", got)
	}

	refunds = append(refunds, domain.Refund{ProductID: "prod-1", Quantity: 1})
	if got := RefundStatus(items, refunds); got != domain.RefundStatusFull {
		t.Fatalf("expected full, got %s", got)
	}
}

func TestRefundStatusMixedItems(t *testing.T) {
	items := []domain.SaleItem{
		{ProductID: "prod-1", Quantity: 2},
		{ProductID: "prod-2", Quantity: 1},
	}
	refunds := []domain.Refund{{ProductID: "prod-1", Quantity: 2}}
	if got := RefundStatus(items, refunds); got != domain.RefundStatusPartial {
		t.Fatalf("expected partial while prod-2 is unrefunded, got %s", got)
	}
}

func TestRefundableQuantity(t *testing.T) {
	item := domain.SaleItem{ProductID: "prod-1", Quantity: 3}

	if got := RefundableQuantity(item, nil); got != 3 {
		t.Fatalf("expected 3 refundable, got %d", got)
	}

	refunds := []domain.Refund{
		{ProductID: "prod-1", Quantity: 2},
		{ProductID: "prod-1", Quantity: 1},
	}
	if got := RefundableQuantity(item, refunds); got != 0 {
		t.Fatalf("expected 0 refundable after full refund, got %d", got)
	}
}

func TestRefundStatusFallsBackToSaleItemID(t *testing.T) {
	// Refunds without a product reference still count against the item they
	// were recorded for.
	items := []domain.SaleItem{{ID: "item-1", ProductID: "prod-1", Quantity: 1}}
	refunds := []domain.Refund{{SaleItemID: "item-1", Quantity: 1}}
	if got := RefundStatus(items, refunds); got != domain.RefundStatusFull {
		t.Fatalf("expected full via sale item fallback, got %s", got)
	}
	if got := RefundableQuantity(items[0], refunds); got != 0 {
		t.Fatalf("expected 0 refundable, got %d", got)
	}
}

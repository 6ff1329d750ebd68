package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"dukkanpos/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "pos.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedProduct(t *testing.T, s *Store, id, barcode string, quantity int) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	err := s.UpsertProduct(ctx, domain.Product{
		ID: id, Barcode: barcode, Name: "Product " + id,
		SaleCents: 2500, Active: true, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}
	if quantity > 0 {
		_, err = s.AdjustStock(ctx, domain.StockAdjustment{
			ProductID: id, Type: domain.AdjustmentSet, Quantity: quantity,
			StoreID: "store-1", UserID: "user-1", DeviceID: "dev-1",
		})
		if err != nil {
			t.Fatalf("AdjustStock: %v", err)
		}
	}
}

func testSale(productID string, qty int) domain.Sale {
	return domain.Sale{
		StoreID:  "store-1",
		DeviceID: "dev-1",
		UserID:   "user-1",
		Items: []domain.SaleItem{{
			ProductID:   productID,
			ProductName: "Product " + productID,
			Quantity:    qty,
			UnitCents:   2500,
		}},
		Payments: []domain.Payment{{
			Method:      domain.PaymentCash,
			AmountCents: int64(qty) * 2500,
		}},
	}
}

func TestCreateSaleWritesSaleAndQueueTogether(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "prod-1", "111", 10)

	before, err := s.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}

	sale, err := s.CreateSale(ctx, testSale("prod-1", 3))
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if sale.ID == "" || sale.ReceiptNumber == "" {
		t.Fatalf("sale missing id or receipt number: %+v", sale)
	}
	if sale.FinalCents != 7500 {
		t.Fatalf("FinalCents = %d, want 7500", sale.FinalCents)
	}

	after, err := s.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if after != before+1 {
		t.Fatalf("pending count = %d, want %d", after, before+1)
	}

	ops, err := s.PendingOperations(ctx)
	if err != nil {
		t.Fatalf("PendingOperations: %v", err)
	}
	last := ops[len(ops)-1]
	if last.EntityType != domain.EntitySale || last.EntityID != sale.ID {
		t.Fatalf("queue tail = %s/%s, want sale/%s", last.EntityType, last.EntityID, sale.ID)
	}

	payload, err := domain.DecodePayload(last)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.Sale == nil || payload.Sale.ID != sale.ID {
		t.Fatalf("decoded payload does not carry the sale")
	}

	stock, err := s.GetStock(ctx, "prod-1")
	if err != nil {
		t.Fatalf("GetStock: %v", err)
	}
	if stock.Quantity != 7 {
		t.Fatalf("stock = %d, want 7", stock.Quantity)
	}
}

func TestCreateSaleRejectsInvalidInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "prod-1", "111", 10)

	if _, err := s.CreateSale(ctx, domain.Sale{StoreID: "store-1", DeviceID: "dev-1", UserID: "user-1"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("empty items: err = %v, want ErrInvalid", err)
	}

	bad := testSale("prod-1", 1)
	bad.Items[0].Quantity = 0
	if _, err := s.CreateSale(ctx, bad); !errors.Is(err, ErrInvalid) {
		t.Fatalf("zero quantity: err = %v, want ErrInvalid", err)
	}

	over := testSale("prod-1", 1)
	over.TotalCents = 2500
	over.DiscountCents = 5000
	if _, err := s.CreateSale(ctx, over); !errors.Is(err, ErrInvalid) {
		t.Fatalf("discount over total: err = %v, want ErrInvalid", err)
	}

	if count, _ := s.PendingCount(ctx); count != 1 { // only the seed adjustment
		t.Fatalf("rejected sales leaked %d queue rows", count-1)
	}
}

func TestCreateSaleOversellFloorsStockAtZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "prod-1", "111", 3)

	if _, err := s.CreateSale(ctx, testSale("prod-1", 5)); err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	stock, err := s.GetStock(ctx, "prod-1")
	if err != nil {
		t.Fatalf("GetStock: %v", err)
	}
	if stock.Quantity != 0 {
		t.Fatalf("stock = %d, want 0 after oversell", stock.Quantity)
	}
}

func TestPendingOperationsKeepCreationOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "prod-1", "111", 100)

	var want []string
	for i := 0; i < 5; i++ {
		sale, err := s.CreateSale(ctx, testSale("prod-1", 1))
		if err != nil {
			t.Fatalf("CreateSale #%d: %v", i, err)
		}
		want = append(want, sale.ID)
	}

	ops, err := s.PendingOperations(ctx)
	if err != nil {
		t.Fatalf("PendingOperations: %v", err)
	}

	var got []string
	for _, op := range ops {
		if op.EntityType == domain.EntitySale {
			got = append(got, op.EntityID)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("got %d sale ops, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("op %d = %s, want %s (order lost)", i, got[i], want[i])
		}
	}
}

func TestMarkAcknowledgedIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "prod-1", "111", 10)

	sale, err := s.CreateSale(ctx, testSale("prod-1", 1))
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	ops, err := s.PendingOperations(ctx)
	if err != nil {
		t.Fatalf("PendingOperations: %v", err)
	}
	var saleOpID string
	for _, op := range ops {
		if op.EntityID == sale.ID {
			saleOpID = op.ID
		}
	}

	ids := []string{saleOpID, "no-such-id"}
	if err := s.MarkAcknowledged(ctx, ids); err != nil {
		t.Fatalf("MarkAcknowledged: %v", err)
	}
	if err := s.MarkAcknowledged(ctx, ids); err != nil {
		t.Fatalf("MarkAcknowledged again: %v", err)
	}

	count, err := s.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if count != 1 { // the seed adjustment stays pending
		t.Fatalf("pending = %d, want 1", count)
	}

	if err := s.PurgeAcknowledged(ctx); err != nil {
		t.Fatalf("PurgeAcknowledged: %v", err)
	}
	count, _ = s.PendingCount(ctx)
	if count != 1 {
		t.Fatalf("purge touched pending rows, pending = %d", count)
	}
}

func TestCreateRefundGuardsAndRollup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "prod-1", "111", 10)

	sale, err := s.CreateSale(ctx, testSale("prod-1", 3))
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	refund := domain.Refund{
		SaleID: sale.ID, ProductID: "prod-1", Quantity: 2,
		StoreID: "store-1", UserID: "user-1", DeviceID: "dev-1",
	}
	if _, err := s.CreateRefund(ctx, refund); err != nil {
		t.Fatalf("CreateRefund: %v", err)
	}

	got, err := s.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("GetSale: %v", err)
	}
	if got.RefundStatus != domain.RefundStatusPartial {
		t.Fatalf("refund status = %s, want partial", got.RefundStatus)
	}

	stock, _ := s.GetStock(ctx, "prod-1")
	if stock.Quantity != 9 { // 10 - 3 sold + 2 returned
		t.Fatalf("stock = %d, want 9", stock.Quantity)
	}

	// One unit remains refundable; two is too many.
	refund.ID = ""
	refund.Quantity = 2
	if _, err := s.CreateRefund(ctx, refund); !errors.Is(err, ErrRefundExceeded) {
		t.Fatalf("over-refund: err = %v, want ErrRefundExceeded", err)
	}

	refund.Quantity = 1
	if _, err := s.CreateRefund(ctx, refund); err != nil {
		t.Fatalf("final refund: %v", err)
	}
	got, _ = s.GetSale(ctx, sale.ID)
	if got.RefundStatus != domain.RefundStatusFull {
		t.Fatalf("refund status = %s, want full", got.RefundStatus)
	}
}

func TestCreateRefundUnknownSale(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateRefund(context.Background(), domain.Refund{
		SaleID: "missing", ProductID: "prod-1", Quantity: 1,
		StoreID: "store-1", UserID: "user-1", DeviceID: "dev-1",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestShiftLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "prod-1", "111", 50)

	shift, err := s.OpenShift(ctx, "store-1", "dev-1", "user-1", 10000)
	if err != nil {
		t.Fatalf("OpenShift: %v", err)
	}

	if _, err := s.OpenShift(ctx, "store-1", "dev-1", "user-2", 0); !errors.Is(err, ErrShiftOpen) {
		t.Fatalf("second open: err = %v, want ErrShiftOpen", err)
	}

	// One cash sale and one card sale during the shift. Only cash counts
	// toward the drawer expectation.
	cash := testSale("prod-1", 2) // 5000 cash
	cash.ShiftID = shift.ID
	if _, err := s.CreateSale(ctx, cash); err != nil {
		t.Fatalf("cash sale: %v", err)
	}
	card := testSale("prod-1", 1) // 2500 card
	card.ShiftID = shift.ID
	card.Payments[0].Method = domain.PaymentCard
	if _, err := s.CreateSale(ctx, card); err != nil {
		t.Fatalf("card sale: %v", err)
	}

	closed, err := s.CloseShift(ctx, shift.ID, 14500)
	if err != nil {
		t.Fatalf("CloseShift: %v", err)
	}
	if closed.TotalSalesCents != 7500 {
		t.Fatalf("total sales = %d, want 7500", closed.TotalSalesCents)
	}
	if closed.ExpectedCashCents == nil || *closed.ExpectedCashCents != 15000 {
		t.Fatalf("expected cash = %v, want 15000", closed.ExpectedCashCents)
	}
	if closed.CashDifferenceCents == nil || *closed.CashDifferenceCents != -500 {
		t.Fatalf("cash difference = %v, want -500", closed.CashDifferenceCents)
	}
	if closed.IsOpen || closed.ClosedAt == nil {
		t.Fatalf("shift not marked closed: %+v", closed)
	}

	if _, err := s.CloseShift(ctx, shift.ID, 14500); !errors.Is(err, ErrShiftClosed) {
		t.Fatalf("re-close: err = %v, want ErrShiftClosed", err)
	}

	if _, err := s.CurrentShift(ctx, "dev-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("CurrentShift after close: err = %v, want ErrNotFound", err)
	}

	// The queue holds the open and the close as separate operations.
	ops, err := s.PendingOperations(ctx)
	if err != nil {
		t.Fatalf("PendingOperations: %v", err)
	}
	var openOps, closeOps int
	for _, op := range ops {
		if op.EntityType != domain.EntityShift {
			continue
		}
		switch op.Operation {
		case domain.OpCreate:
			openOps++
		case domain.OpUpdate:
			closeOps++
			payload, err := domain.DecodePayload(op)
			if err != nil {
				t.Fatalf("DecodePayload: %v", err)
			}
			if payload.ShiftClose == nil || payload.ShiftClose.TotalSalesCents != 7500 {
				t.Fatalf("close payload = %+v", payload.ShiftClose)
			}
		}
	}
	if openOps != 1 || closeOps != 1 {
		t.Fatalf("shift queue ops = %d open, %d close; want 1 and 1", openOps, closeOps)
	}
}

func TestPullApplyNeverTouchesStockQuantity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "prod-1", "111", 8)

	now := time.Now().UTC()
	err := s.UpsertProduct(ctx, domain.Product{
		ID: "prod-1", Barcode: "111", Name: "Renamed",
		SaleCents: 2600, Active: true, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}

	p, err := s.GetProduct(ctx, "prod-1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if p.Name != "Renamed" || p.SaleCents != 2600 {
		t.Fatalf("product not updated: %+v", p)
	}

	stock, err := s.GetStock(ctx, "prod-1")
	if err != nil {
		t.Fatalf("GetStock: %v", err)
	}
	if stock.Quantity != 8 {
		t.Fatalf("pull apply changed stock to %d, want 8", stock.Quantity)
	}
}

func TestReceiptNumbersAreSequentialPerDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "prod-1", "111", 10)

	first, err := s.CreateSale(ctx, testSale("prod-1", 1))
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	second, err := s.CreateSale(ctx, testSale("prod-1", 1))
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if first.ReceiptNumber == second.ReceiptNumber {
		t.Fatalf("duplicate receipt number %s", first.ReceiptNumber)
	}

	day := time.Now().UTC().Format("20060102")
	want := "RCP-" + day + "-0001"
	if first.ReceiptNumber != want {
		t.Fatalf("first receipt = %s, want %s", first.ReceiptNumber, want)
	}
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"dukkanpos/internal/central/store"
	"dukkanpos/internal/central/store/memory"
	"dukkanpos/internal/domain"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	return New(repo, nil, 0), repo
}

func activate(t *testing.T, svc *Service) *domain.ActivateResponse {
	t.Helper()
	resp, err := svc.ActivateDevice(context.Background(), domain.ActivateRequest{ActivationCode: "POS-DEV-0001"})
	if err != nil {
		t.Fatalf("ActivateDevice: %v", err)
	}
	return resp
}

func saleOp(t *testing.T, opID string, sale domain.Sale) domain.PendingOperation {
	t.Helper()
	data, err := json.Marshal(sale)
	if err != nil {
		t.Fatalf("marshal sale: %v", err)
	}
	return domain.PendingOperation{
		ID: opID, EntityType: domain.EntitySale, EntityID: sale.ID,
		Operation: domain.OpCreate, Payload: data, CreatedAt: time.Now().UTC(),
	}
}

func testSale(id string) domain.Sale {
	now := time.Now().UTC()
	return domain.Sale{
		ID: id, ReceiptNumber: "RCP-20260501-0001", StoreID: "store-main",
		DeviceID: "dev-0001", UserID: "user-cashier",
		TotalCents: 7000, FinalCents: 7000, CreatedAt: now,
		Items: []domain.SaleItem{{
			ID: id + "-item-1", SaleID: id, ProductID: "prod-noodles",
			ProductName: "Instant Noodles", Quantity: 2, UnitCents: 3500,
			TotalCents: 7000, CreatedAt: now,
		}},
		Payments: []domain.Payment{{
			ID: id + "-pay-1", SaleID: id, Method: domain.PaymentCash,
			AmountCents: 7000, CreatedAt: now,
		}},
	}
}

func TestActivateDeviceIsIdempotent(t *testing.T) {
	svc, _ := newService(t)

	first := activate(t, svc)
	second := activate(t, svc)
	if first.DeviceID != second.DeviceID || first.StoreID != second.StoreID {
		t.Fatalf("repeat activation changed identity: %+v vs %+v", first, second)
	}
	if first.StoreName != "Main Street Store" {
		t.Fatalf("store name = %s", first.StoreName)
	}
}

func TestActivateDeviceBadCode(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.ActivateDevice(context.Background(), domain.ActivateRequest{ActivationCode: "WRONG"})
	if !errors.Is(err, store.ErrInvalidCode) {
		t.Fatalf("err = %v, want ErrInvalidCode", err)
	}
}

func TestPushRequiresActivatedDevice(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.PushSync(context.Background(), domain.PushRequest{DeviceID: "dev-0001"})
	if !errors.Is(err, ErrNotActivated) {
		t.Fatalf("err = %v, want ErrNotActivated", err)
	}

	_, err = svc.PushSync(context.Background(), domain.PushRequest{DeviceID: "ghost"})
	if !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("err = %v, want ErrUnknownDevice", err)
	}
}

func TestPushDuplicateReportsAlreadyExists(t *testing.T) {
	svc, repo := newService(t)
	activate(t, svc)

	op := saleOp(t, "op-1", testSale("sale-1"))
	req := domain.PushRequest{DeviceID: "dev-0001", Operations: []domain.PendingOperation{op}}

	first, err := svc.PushSync(context.Background(), req)
	if err != nil {
		t.Fatalf("first push: %v", err)
	}
	if got := first.Sales[0].Status; got != domain.StatusSynced {
		t.Fatalf("first status = %s, want synced", got)
	}

	second, err := svc.PushSync(context.Background(), req)
	if err != nil {
		t.Fatalf("second push: %v", err)
	}
	if got := second.Sales[0].Status; got != domain.StatusAlreadyExists {
		t.Fatalf("replay status = %s, want already_exists", got)
	}

	if _, ok := repo.GetSale("sale-1"); !ok {
		t.Fatal("sale not recorded")
	}
}

func TestPushMalformedOperationDoesNotAbortBatch(t *testing.T) {
	svc, _ := newService(t)
	activate(t, svc)

	bad := domain.PendingOperation{
		ID: "op-bad", EntityType: "coupon", EntityID: "x",
		Operation: domain.OpCreate, Payload: json.RawMessage(`{}`), CreatedAt: time.Now().UTC(),
	}
	good := saleOp(t, "op-good", testSale("sale-2"))

	resp, err := svc.PushSync(context.Background(), domain.PushRequest{
		DeviceID: "dev-0001", Operations: []domain.PendingOperation{bad, good},
	})
	if err != nil {
		t.Fatalf("PushSync: %v", err)
	}

	statuses := map[string]domain.OperationStatus{}
	for _, st := range resp.All() {
		statuses[st.ID] = st
	}
	if statuses["op-bad"].Status != domain.StatusError || statuses["op-bad"].Error == "" {
		t.Fatalf("bad op status = %+v", statuses["op-bad"])
	}
	if statuses["op-good"].Status != domain.StatusSynced {
		t.Fatalf("good op status = %+v", statuses["op-good"])
	}
}

func TestPushShiftLifecycleAndReplayedClose(t *testing.T) {
	svc, repo := newService(t)
	activate(t, svc)
	now := time.Now().UTC()

	shift := domain.Shift{
		ID: "shift-1", StoreID: "store-main", DeviceID: "dev-0001",
		UserID: "user-cashier", OpeningCashCents: 10000, IsOpen: true, OpenedAt: now,
	}
	openData, _ := json.Marshal(shift)

	sale := testSale("sale-3")
	sale.ShiftID = "shift-1"

	closeData, _ := json.Marshal(domain.ShiftClosePayload{
		ID: "shift-1", ClosingCashCents: 16500, TotalSalesCents: 7000, ClosedAt: now.Add(8 * time.Hour),
	})

	ops := []domain.PendingOperation{
		{ID: "op-open", EntityType: domain.EntityShift, EntityID: "shift-1", Operation: domain.OpCreate, Payload: openData, CreatedAt: now},
		saleOp(t, "op-sale", sale),
		{ID: "op-close", EntityType: domain.EntityShift, EntityID: "shift-1", Operation: domain.OpUpdate, Payload: closeData, CreatedAt: now},
	}

	resp, err := svc.PushSync(context.Background(), domain.PushRequest{DeviceID: "dev-0001", Operations: ops})
	if err != nil {
		t.Fatalf("PushSync: %v", err)
	}
	for _, st := range resp.All() {
		if st.Status != domain.StatusSynced {
			t.Fatalf("operation %s status = %s (%s)", st.ID, st.Status, st.Error)
		}
	}

	closed, ok := repo.GetShift("shift-1")
	if !ok || closed.IsOpen {
		t.Fatalf("shift not closed: %+v", closed)
	}
	// Expected cash recomputed centrally: 10000 opening + 7000 cash.
	if closed.ExpectedCashCents == nil || *closed.ExpectedCashCents != 17000 {
		t.Fatalf("expected cash = %v, want 17000", closed.ExpectedCashCents)
	}
	if closed.CashDifferenceCents == nil || *closed.CashDifferenceCents != -500 {
		t.Fatalf("difference = %v, want -500", closed.CashDifferenceCents)
	}

	// A replayed close is a duplicate delivery, not an error.
	replay, err := svc.PushSync(context.Background(), domain.PushRequest{
		DeviceID: "dev-0001",
		Operations: []domain.PendingOperation{
			{ID: "op-close", EntityType: domain.EntityShift, EntityID: "shift-1", Operation: domain.OpUpdate, Payload: closeData, CreatedAt: now},
		},
	})
	if err != nil {
		t.Fatalf("replay push: %v", err)
	}
	if got := replay.Shifts[0].Status; got != domain.StatusAlreadyExists {
		t.Fatalf("replayed close status = %s, want already_exists", got)
	}
}

func TestPushRefundUpdatesRollup(t *testing.T) {
	svc, repo := newService(t)
	activate(t, svc)
	now := time.Now().UTC()

	sale := testSale("sale-4")
	refund := domain.Refund{
		ID: "refund-1", SaleID: "sale-4", ProductID: "prod-noodles",
		Quantity: 2, AmountCents: 7000, StoreID: "store-main",
		UserID: "user-cashier", DeviceID: "dev-0001", CreatedAt: now,
	}
	refundData, _ := json.Marshal(refund)

	resp, err := svc.PushSync(context.Background(), domain.PushRequest{
		DeviceID: "dev-0001",
		Operations: []domain.PendingOperation{
			saleOp(t, "op-sale", sale),
			{ID: "op-refund", EntityType: domain.EntityRefund, EntityID: "refund-1", Operation: domain.OpCreate, Payload: refundData, CreatedAt: now},
		},
	})
	if err != nil {
		t.Fatalf("PushSync: %v", err)
	}
	for _, st := range resp.All() {
		if st.Status != domain.StatusSynced {
			t.Fatalf("operation %s status = %s (%s)", st.ID, st.Status, st.Error)
		}
	}

	got, ok := repo.GetSale("sale-4")
	if !ok || got.RefundStatus != domain.RefundStatusFull {
		t.Fatalf("sale rollup = %+v", got)
	}
}

func TestPullEpochThenIncremental(t *testing.T) {
	svc, _ := newService(t)
	activate(t, svc)

	epoch, err := svc.PullSync(context.Background(), domain.PullRequest{DeviceID: "dev-0001"})
	if err != nil {
		t.Fatalf("epoch pull: %v", err)
	}
	if len(epoch.Products) == 0 || len(epoch.Categories) == 0 || len(epoch.Users) == 0 || epoch.Store == nil {
		t.Fatalf("epoch pull incomplete: %d products, %d categories, %d users", len(epoch.Products), len(epoch.Categories), len(epoch.Users))
	}
	if epoch.SyncTimestamp.IsZero() {
		t.Fatal("missing sync timestamp")
	}

	since := epoch.SyncTimestamp
	incremental, err := svc.PullSync(context.Background(), domain.PullRequest{DeviceID: "dev-0001", LastSyncAt: &since})
	if err != nil {
		t.Fatalf("incremental pull: %v", err)
	}
	if len(incremental.Products) != 0 || len(incremental.Categories) != 0 || len(incremental.Users) != 0 || incremental.Store != nil {
		t.Fatalf("incremental pull returned unchanged rows: %+v", incremental)
	}
}

func TestConcurrentPushesFromTwoHandlers(t *testing.T) {
	svc, repo := newService(t)
	activate(t, svc)

	requests := []domain.PushRequest{
		{DeviceID: "dev-0001", Operations: []domain.PendingOperation{saleOp(t, "op-c0", testSale("sale-c0"))}},
		{DeviceID: "dev-0001", Operations: []domain.PendingOperation{saleOp(t, "op-c1", testSale("sale-c1"))}},
	}

	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(n int, req domain.PushRequest) {
			defer wg.Done()
			if _, err := svc.PushSync(context.Background(), req); err != nil {
				t.Errorf("push %d: %v", n, err)
			}
		}(i, req)
	}
	wg.Wait()

	for _, id := range []string{"sale-c0", "sale-c1"} {
		if _, ok := repo.GetSale(id); !ok {
			t.Fatalf("sale %s not recorded", id)
		}
	}
}

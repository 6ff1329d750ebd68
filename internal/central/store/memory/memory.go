// Package memory is the in-memory Repository used for dev mode and tests.
// It mirrors the idempotency semantics of the postgres implementation:
// ingest keyed by entity id, first write wins, replays report applied=false.
package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"dukkanpos/internal/central/store"
	"dukkanpos/internal/domain"
	"dukkanpos/internal/reconcile"
)

type Store struct {
	mu         sync.RWMutex
	stores     map[string]domain.Store
	categories map[string]domain.Category
	products   map[string]domain.Product
	users      map[string]domain.UserAccount
	devices    map[string]domain.Device

	sales       map[string]domain.Sale
	refunds     map[string]domain.Refund
	adjustments map[string]domain.StockAdjustment
	shifts      map[string]domain.Shift
}

// seedUsers builds the initial user accounts for dev/demo mode. Credentials
// come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; hardcoded dev
// defaults are used with a warning when unset.
func seedUsers(storeID string, now time.Time) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		id       string
		username string
		fullName string
		password string
		role     string
	}{
		{"user-admin", "admin", "Store Admin", adminPwd, "admin"},
		{"user-cashier", "cashier", "Front Cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.id] = domain.UserAccount{
			User: domain.User{
				ID: u.id, Username: u.username, FullName: u.fullName, Role: u.role,
				StoreID: storeID, Active: true, CreatedAt: now, UpdatedAt: now,
			},
			PasswordHash: string(hash),
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded builds a store with one shop, a small catalog and an
// unactivated device whose activation code is POS-DEV-0001.
func NewSeeded() *Store {
	now := time.Now().UTC()
	storeID := "store-main"

	categories := []domain.Category{
		{ID: "cat-grocery", Name: "Grocery", CreatedAt: now, UpdatedAt: now},
		{ID: "cat-beverage", Name: "Beverage", CreatedAt: now, UpdatedAt: now},
		{ID: "cat-household", Name: "Household", CreatedAt: now, UpdatedAt: now},
	}
	products := []domain.Product{
		{ID: "prod-noodles", Barcode: "8990001", Name: "Instant Noodles", CategoryID: "cat-grocery", PurchaseCents: 2700, SaleCents: 3500, Active: true, CreatedAt: now, UpdatedAt: now},
		{ID: "prod-eggs", Barcode: "8990002", Name: "Eggs 10pk", CategoryID: "cat-grocery", PurchaseCents: 23000, SaleCents: 26500, Active: true, CreatedAt: now, UpdatedAt: now},
		{ID: "prod-milk", Barcode: "8990003", Name: "UHT Milk 1L", CategoryID: "cat-beverage", PurchaseCents: 13600, SaleCents: 18900, Active: true, CreatedAt: now, UpdatedAt: now},
		{ID: "prod-coffee", Barcode: "8990004", Name: "Coffee Sachet", CategoryID: "cat-beverage", PurchaseCents: 1700, SaleCents: 2600, Active: true, CreatedAt: now, UpdatedAt: now},
		{ID: "prod-water", Barcode: "8990005", Name: "Mineral Water 600ml", CategoryID: "cat-beverage", PurchaseCents: 3200, SaleCents: 3900, Active: true, CreatedAt: now, UpdatedAt: now},
		{ID: "prod-soap", Barcode: "8990006", Name: "Bath Soap", CategoryID: "cat-household", PurchaseCents: 5000, SaleCents: 7400, Active: true, CreatedAt: now, UpdatedAt: now},
	}

	categoryMap := make(map[string]domain.Category, len(categories))
	for _, c := range categories {
		categoryMap[c.ID] = c
	}
	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}

	return &Store{
		stores: map[string]domain.Store{
			storeID: {ID: storeID, Name: "Main Street Store", Address: "1 Main St", CreatedAt: now, UpdatedAt: now},
		},
		categories: categoryMap,
		products:   productMap,
		users:      seedUsers(storeID, now),
		devices: map[string]domain.Device{
			"dev-0001": {ID: "dev-0001", StoreID: storeID, Name: "Register 1", ActivationCode: "POS-DEV-0001"},
		},
		sales:       make(map[string]domain.Sale),
		refunds:     make(map[string]domain.Refund),
		adjustments: make(map[string]domain.StockAdjustment),
		shifts:      make(map[string]domain.Shift),
	}
}

func (s *Store) CategoriesModifiedSince(_ context.Context, since *time.Time) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		if since == nil || c.UpdatedAt.After(*since) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b domain.Category) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) ProductsModifiedSince(_ context.Context, since *time.Time) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if since == nil || p.UpdatedAt.After(*since) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Product) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) UsersModifiedSince(_ context.Context, storeID string, since *time.Time) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		if u.StoreID != "" && u.StoreID != storeID {
			continue
		}
		if since == nil || u.UpdatedAt.After(*since) {
			out = append(out, u.User)
		}
	}
	slices.SortFunc(out, func(a, b domain.User) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) StoreModifiedSince(_ context.Context, storeID string, since *time.Time) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stores[storeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if since != nil && !st.UpdatedAt.After(*since) {
		return nil, nil
	}
	return &st, nil
}

func (s *Store) GetDevice(_ context.Context, deviceID string) (*domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (s *Store) FindDeviceByActivationCode(_ context.Context, code string) (*domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.devices {
		if d.ActivationCode == code {
			return &d, nil
		}
	}
	return nil, store.ErrInvalidCode
}

func (s *Store) ActivateDevice(_ context.Context, deviceID string, at time.Time) (*domain.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !d.Activated {
		at = at.UTC()
		d.Activated = true
		d.ActivatedAt = &at
		s.devices[deviceID] = d
	}
	return &d, nil
}

func (s *Store) TouchDeviceSync(_ context.Context, deviceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return store.ErrNotFound
	}
	at = at.UTC()
	d.LastSyncAt = &at
	s.devices[deviceID] = d
	return nil
}

// IngestSale records the sale. Central stock is never touched: the device
// already applied the decrement locally and the center does not re-derive
// stock from pushed operations.
func (s *Store) IngestSale(_ context.Context, sale domain.Sale) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sales[sale.ID]; exists {
		return false, nil
	}
	s.sales[sale.ID] = sale
	return true, nil
}

func (s *Store) IngestRefund(_ context.Context, refund domain.Refund) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refunds[refund.ID]; exists {
		return false, nil
	}
	sale, ok := s.sales[refund.SaleID]
	if !ok {
		return false, store.ErrNotFound
	}

	s.refunds[refund.ID] = refund

	var saleRefunds []domain.Refund
	for _, r := range s.refunds {
		if r.SaleID == refund.SaleID {
			saleRefunds = append(saleRefunds, r)
		}
	}
	sale.RefundStatus = reconcile.RefundStatus(sale.Items, saleRefunds)
	s.sales[sale.ID] = sale
	return true, nil
}

// IngestStockAdjustment records the adjustment for audit. Like sales and
// refunds, it never moves central stock.
func (s *Store) IngestStockAdjustment(_ context.Context, adj domain.StockAdjustment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.adjustments[adj.ID]; exists {
		return false, nil
	}
	s.adjustments[adj.ID] = adj
	return true, nil
}

func (s *Store) IngestShiftOpen(_ context.Context, shift domain.Shift) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.shifts[shift.ID]; exists {
		return false, nil
	}
	s.shifts[shift.ID] = shift
	return true, nil
}

// IngestShiftClose recomputes expected cash from the center's own copy of
// the shift's payments rather than trusting a device-supplied figure.
func (s *Store) IngestShiftClose(_ context.Context, closeReq domain.ShiftClosePayload) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, ok := s.shifts[closeReq.ID]
	if !ok {
		return false, store.ErrNotFound
	}
	if !shift.IsOpen {
		return false, nil
	}

	var payments []domain.Payment
	for _, sale := range s.sales {
		if sale.ShiftID == closeReq.ID {
			payments = append(payments, sale.Payments...)
		}
	}

	expected := reconcile.ExpectedCashCents(shift.OpeningCashCents, payments)
	difference := reconcile.CashDifferenceCents(closeReq.ClosingCashCents, expected)
	closedAt := closeReq.ClosedAt.UTC()

	shift.ClosingCashCents = &closeReq.ClosingCashCents
	shift.TotalSalesCents = closeReq.TotalSalesCents
	shift.ExpectedCashCents = &expected
	shift.CashDifferenceCents = &difference
	shift.IsOpen = false
	shift.ClosedAt = &closedAt
	s.shifts[closeReq.ID] = shift
	return true, nil
}

func (s *Store) UserAccountByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

// GetSale is a test helper.
func (s *Store) GetSale(id string) (domain.Sale, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.sales[id]
	return sale, ok
}

// GetShift is a test helper.
func (s *Store) GetShift(id string) (domain.Shift, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shift, ok := s.shifts[id]
	return shift, ok
}

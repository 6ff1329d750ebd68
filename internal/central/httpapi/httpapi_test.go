package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"dukkanpos/internal/central/service"
	"dukkanpos/internal/central/store/memory"
	"dukkanpos/internal/domain"
)

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	os.Setenv("SEED_ADMIN_PASSWORD", "admin-secret")
	os.Setenv("SEED_CASHIER_PASSWORD", "cashier-secret")
	t.Cleanup(func() {
		os.Unsetenv("SEED_ADMIN_PASSWORD")
		os.Unsetenv("SEED_CASHIER_PASSWORD")
	})

	svc := service.New(memory.NewSeeded(), nil, 0)
	auth := NewAuthManager("test-secret", time.Hour, svc)
	return New(svc, auth, "*").Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: username, Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func activateDevice(t *testing.T, handler http.Handler) domain.ActivateResponse {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/devices/activate", "", domain.ActivateRequest{
		ActivationCode: "POS-DEV-0001",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("activate status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.ActivateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode activate response: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	handler := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	handler := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "cashier", Password: "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestActivateWithBadCode(t *testing.T) {
	handler := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/devices/activate", "", domain.ActivateRequest{
		ActivationCode: "NOPE",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSyncEndpointsRequireAuth(t *testing.T) {
	handler := newTestAPI(t)

	for _, path := range []string{"/api/v1/sync/push", "/api/v1/sync/pull"} {
		rec := doJSON(t, handler, http.MethodPost, path, "", map[string]any{"device_id": "dev-0001"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s status = %d, want 401", path, rec.Code)
		}
	}
}

func TestPushAndPullRoundTrip(t *testing.T) {
	handler := newTestAPI(t)
	activateDevice(t, handler)
	token := login(t, handler, "cashier", "cashier-secret")

	now := time.Now().UTC()
	sale := domain.Sale{
		ID: "sale-http-1", ReceiptNumber: "RCP-20260501-0001", StoreID: "store-main",
		DeviceID: "dev-0001", UserID: "user-cashier",
		TotalCents: 3500, FinalCents: 3500, CreatedAt: now,
		Items: []domain.SaleItem{{
			ID: "item-1", SaleID: "sale-http-1", ProductID: "prod-noodles",
			ProductName: "Instant Noodles", Quantity: 1, UnitCents: 3500, TotalCents: 3500, CreatedAt: now,
		}},
		Payments: []domain.Payment{{
			ID: "pay-1", SaleID: "sale-http-1", Method: domain.PaymentCash, AmountCents: 3500, CreatedAt: now,
		}},
	}
	saleData, _ := json.Marshal(sale)

	pushReq := domain.PushRequest{
		DeviceID: "dev-0001",
		Operations: []domain.PendingOperation{{
			ID: "op-1", EntityType: domain.EntitySale, EntityID: sale.ID,
			Operation: domain.OpCreate, Payload: saleData, CreatedAt: now,
		}},
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sync/push", token, pushReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("push status = %d: %s", rec.Code, rec.Body.String())
	}
	var pushResp domain.PushResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pushResp); err != nil {
		t.Fatalf("decode push response: %v", err)
	}
	if len(pushResp.Sales) != 1 || pushResp.Sales[0].Status != domain.StatusSynced {
		t.Fatalf("push response = %+v", pushResp)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sync/pull", token, domain.PullRequest{DeviceID: "dev-0001"})
	if rec.Code != http.StatusOK {
		t.Fatalf("pull status = %d: %s", rec.Code, rec.Body.String())
	}
	var pullResp domain.PullResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pullResp); err != nil {
		t.Fatalf("decode pull response: %v", err)
	}
	if len(pullResp.Products) == 0 || pullResp.SyncTimestamp.IsZero() {
		t.Fatalf("pull response incomplete: %d products", len(pullResp.Products))
	}
}

func TestPushUnknownDeviceIsBadRequest(t *testing.T) {
	handler := newTestAPI(t)
	token := login(t, handler, "admin", "admin-secret")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sync/push", token, domain.PushRequest{DeviceID: "ghost"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/auth/login", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

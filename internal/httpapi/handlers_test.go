package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stocky/backend/internal/cache"
	"stocky/backend/internal/domain"
	"stocky/backend/internal/events"
	"stocky/backend/internal/feed"
	"stocky/backend/internal/insights"
	"stocky/backend/internal/service"
	"stocky/backend/internal/store/memory"
)

const demoBase = "/api/v1/tenants/" + memory.DemoTenantID

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	api, _ := newTestAPIWithHub(t)
	return api
}

func newTestAPIWithHub(t *testing.T) (*API, *feed.Hub) {
	t.Helper()

	repo := memory.NewSeeded()
	hub := feed.NewHub(16, nil)
	reports := insights.NewEngine(cache.Noop{}, 0, time.UTC)
	svc := service.New(repo, cache.Noop{}, reports, hub, nil)
	auth := NewAuthManager("test-secret-key", time.Hour, repo, nil)

	return New(svc, auth, hub, "*", nil), hub
}

func doJSON(t *testing.T, api *API, method string, path string, body any, token string, csrf string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/healthz", nil, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, demoBase+"/auth/login", domain.LoginRequest{Email: "admin@demo.local", Password: "wrongpassword"}, "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestPublicCatalogHidesUnavailable(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, demoBase+"/catalog", nil, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Entries []domain.CatalogEntry `json:"entries"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Entries) != 4 {
		t.Fatalf("expected 4 visible entries, got %d", len(body.Entries))
	}
	for _, entry := range body.Entries {
		if entry.ID == "verdura" {
			t.Fatalf("unavailable entry exposed publicly")
		}
	}
}

func TestCheckoutPublicAndValidation(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, demoBase+"/checkout", domain.CheckoutRequest{
		CustomerName:  "Ana",
		CustomerPhone: "1155550000",
		Lines:         []domain.OrderLineInput{{EntryID: "jyq", Quantity: 1.5}},
	}, "", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Order domain.Order `json:"order"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Order.Total != 13000 || body.Order.Status != domain.StatusPending {
		t.Fatalf("unexpected order %+v", body.Order)
	}

	rec = doJSON(t, api, http.MethodPost, demoBase+"/checkout", domain.CheckoutRequest{
		CustomerName: "Ana",
		Lines:        []domain.OrderLineInput{{EntryID: "jyq", Quantity: 1}},
	}, "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing phone, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/tenants/nope/checkout", domain.CheckoutRequest{
		CustomerName: "Ana", CustomerPhone: "11",
		Lines: []domain.OrderLineInput{{EntryID: "jyq", Quantity: 1}},
	}, "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown tenant, got %d", rec.Code)
	}
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, demoBase+"/admin/orders", nil, "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminTokenScopedToTenant(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/tenants/other/admin/orders", nil, token, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for other tenant, got %d", rec.Code)
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, demoBase+"/checkout", domain.CheckoutRequest{
		CustomerName: "Ana", CustomerPhone: "11",
		Lines: []domain.OrderLineInput{{EntryID: "carne", Quantity: 2}},
	}, "", "")
	var placed struct {
		Order domain.Order `json:"order"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&placed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	orderPath := demoBase + "/admin/orders/" + placed.Order.ID

	rec = doJSON(t, api, http.MethodPost, orderPath+"/status", domain.OrderStatusRequest{Status: domain.StatusCancelled}, token, csrf)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for cancel without note, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, orderPath+"/status", domain.OrderStatusRequest{Status: domain.StatusPaidCash}, token, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, orderPath+"/status", domain.OrderStatusRequest{Status: domain.StatusPaidCash}, token, csrf)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	manual := int64(17000)
	rec = doJSON(t, api, http.MethodPatch, orderPath, domain.OrderEditRequest{ManualTotal: &manual, Reason: "promo"}, token, csrf)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on edit, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var edited struct {
		Order domain.Order `json:"order"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&edited); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if edited.Order.Total != 17000 || edited.Order.AuditNote != "edited: promo" {
		t.Fatalf("unexpected edited order %+v", edited.Order)
	}

	rec = doJSON(t, api, http.MethodGet, demoBase+"/admin/reports/paid-orders.csv?period=today", nil, token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on csv, got %d", rec.Code)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 || lines[0] != "date,code,customer,phone,method,total,detail" {
		t.Fatalf("unexpected csv %q", rec.Body.String())
	}
	if !strings.Contains(lines[1], ",cash,17000,2 x Carne Suave") {
		t.Fatalf("unexpected csv row %q", lines[1])
	}
}

func TestAdjustStockOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, demoBase+"/admin/catalog/pollo/stock", domain.StockAdjustRequest{Delta: -5}, token, csrf)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reason, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, demoBase+"/admin/catalog/pollo/stock", domain.StockAdjustRequest{Delta: -5, Reason: "burnt batch"}, token, csrf)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Adjustment domain.StockAdjustment `json:"adjustment"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Adjustment.Stock != 0 || body.Adjustment.Previous != 2 {
		t.Fatalf("expected 2 -> 0, got %+v", body.Adjustment)
	}

	rec = doJSON(t, api, http.MethodPost, demoBase+"/admin/catalog/missing/stock", domain.StockAdjustRequest{Delta: 1}, token, csrf)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown entry, got %d", rec.Code)
	}
}

func TestFeedStreamsSnapshotThenEvents(t *testing.T) {
	api, hub := newTestAPIWithHub(t)
	token := loginAsAdmin(t, api)

	server := httptest.NewServer(api.Handler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+demoBase+"/admin/feed", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open feed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	reader := bufio.NewReader(res.Body)
	if name := readEventName(t, reader); name != "snapshot" {
		t.Fatalf("expected snapshot first, got %q", name)
	}

	for hub.Subscribers(memory.DemoTenantID) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	event, err := events.New(events.TypeStockAdjusted, memory.DemoTenantID, domain.StockAdjustment{
		EntryID: "jyq", Previous: 10, Delta: -1, Stock: 9, Reason: "quick adjustment", At: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if err := hub.Publish(ctx, event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if name := readEventName(t, reader); name != events.TypeStockAdjusted {
		t.Fatalf("expected %s, got %q", events.TypeStockAdjusted, name)
	}
}

func readEventName(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read feed: %v", err)
		}
		if name, ok := strings.CutPrefix(strings.TrimSpace(line), "event: "); ok {
			return name
		}
	}
}

func loginAsAdmin(t *testing.T, api *API) string {
	t.Helper()

	rec := doJSON(t, api, http.MethodPost, demoBase+"/auth/login", domain.LoginRequest{Email: "admin@demo.local", Password: "admin123"}, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("admin login failed, status %d", rec.Code)
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	rec := doJSON(t, api, http.MethodGet, "/api/v1/auth/csrf-token", nil, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", rec.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response failed: %v", err)
	}
	tok := payload["csrf_token"]
	if strings.TrimSpace(tok) == "" {
		t.Fatalf("expected non-empty csrf_token in response")
	}
	return tok
}

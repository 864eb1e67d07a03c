package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clothpos/backend/internal/domain"
	"clothpos/backend/internal/service"
	"clothpos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, nil, domain.StockPolicyReject, 0)
	auth := NewAuthManager("test-secret-key", time.Hour, svc)

	return New(svc, auth, "*")
}

// doJSON runs a request with the given bearer and CSRF tokens and returns
// the recorder.
func doJSON(t *testing.T, api *API, method, path, token, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
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

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

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

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if payload.AccessToken == "" || payload.Role != domain.RoleAdmin || payload.UserID == 0 {
		t.Fatalf("unexpected login response: %+v", payload)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		Username: "admin",
		Password: "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestProductsRequireBearerToken(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestCashierCannotReachAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPut, "/api/v1/products/1", token, csrf, domain.ProductUpdateRequest{
		Name: "Nope", CostCents: 1, PriceCents: 2,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier on admin route, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/profit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier on reports, got %d", res.Code)
	}
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, csrf, domain.SaleRequest{
		PaymentMethod: domain.PaymentMethodCash,
		Items: []domain.SaleItemInput{
			{ProductID: 1, VariantID: 1, Qty: 2},
			{ProductID: 4, VariantID: 9, Qty: 1},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var sale domain.SaleResponse
	if err := json.NewDecoder(rec.Body).Decode(&sale); err != nil {
		t.Fatalf("decode sale response: %v", err)
	}
	if sale.TotalCents != 2*1299+999 || !strings.HasPrefix(sale.ReceiptNumber, "INV-") {
		t.Fatalf("unexpected sale response: %+v", sale)
	}

	// Line items round-trip through the details endpoint.
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/sales/%d/items", sale.SaleID), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for sale items, got %d (body: %s)", res.Code, res.Body.String())
	}
	var details struct {
		Sale  domain.Sale             `json:"sale"`
		Items []domain.SaleDetailItem `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&details); err != nil {
		t.Fatalf("decode details: %v", err)
	}
	if details.Sale.TotalCents != sale.TotalCents || len(details.Items) != 2 {
		t.Fatalf("unexpected details: %+v", details)
	}

	// Receipt rendering for the same sale.
	rec = doJSON(t, api, http.MethodPost, fmt.Sprintf("/api/v1/sales/%d/receipt", sale.SaleID), token, csrf, domain.ReceiptRequest{})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for receipt, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var receiptResp domain.ReceiptResponse
	if err := json.NewDecoder(rec.Body).Decode(&receiptResp); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if !strings.Contains(receiptResp.PreviewText, sale.ReceiptNumber) || receiptResp.EscposBase64 == "" {
		t.Fatalf("unexpected receipt response: %+v", receiptResp)
	}
}

func TestSaleInsufficientStockReturns409(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, csrf, domain.SaleRequest{
		PaymentMethod: domain.PaymentMethodCash,
		Items:         []domain.SaleItemInput{{ProductID: 4, VariantID: 9, Qty: 9999}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestProductAdminFlow(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/products", token, csrf, domain.ProductCreateRequest{
		Name:       "Denim Jacket",
		CostCents:  2500,
		PriceCents: 6999,
		Category:   "Outerwear",
		Variants:   []domain.VariantInput{{Size: "M", Color: "Blue", StockQty: 7}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Product domain.ProductWithVariants `json:"product"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode created product: %v", err)
	}
	if created.Product.ID == 0 || len(created.Product.Variants) != 1 {
		t.Fatalf("unexpected created product: %+v", created.Product)
	}

	variantID := created.Product.Variants[0].ID
	rec = doJSON(t, api, http.MethodPost, fmt.Sprintf("/api/v1/variants/%d/stock", variantID), token, csrf, domain.StockAdjustRequest{Delta: -2})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var adjusted struct {
		Variant domain.Variant `json:"variant"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&adjusted); err != nil {
		t.Fatalf("decode variant: %v", err)
	}
	if adjusted.Variant.StockQty != 5 {
		t.Fatalf("expected stock 5, got %d", adjusted.Variant.StockQty)
	}

	rec = doJSON(t, api, http.MethodDelete, fmt.Sprintf("/api/v1/products/%d", created.Product.ID), token, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for delete, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSettingsPutEnforcesAdmin(t *testing.T) {
	api := newTestAPI(t)
	csrf := fetchCSRFToken(t, api)

	cashier := loginAs(t, api, "cashier", "cashier123")
	rec := doJSON(t, api, http.MethodPut, "/api/v1/settings", cashier, csrf, map[string]string{"store_name": "Nope"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier settings write, got %d", rec.Code)
	}

	admin := loginAs(t, api, "admin", "admin123")
	rec = doJSON(t, api, http.MethodPut, "/api/v1/settings", admin, csrf, map[string]string{"store_name": "Hemline"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin settings write, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestUserManagementOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/users", token, csrf, domain.UserCreateRequest{
		Username: "trainee",
		Password: "pw123456",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		User domain.User `json:"user"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode created user: %v", err)
	}

	// Duplicate username conflicts, case-insensitively.
	rec = doJSON(t, api, http.MethodPost, "/api/v1/users", token, csrf, domain.UserCreateRequest{
		Username: "TRAINEE",
		Password: "pw123456",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate username, got %d", rec.Code)
	}

	// Promote, then delete.
	rec = doJSON(t, api, http.MethodPatch, fmt.Sprintf("/api/v1/users/%d", created.User.ID), token, csrf, domain.UserUpdateRequest{
		Username: "trainee",
		Role:     domain.RoleAdmin,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for update, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, api, http.MethodDelete, fmt.Sprintf("/api/v1/users/%d", created.User.ID), token, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for delete, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestDeleteLastAdminReturns409(t *testing.T) {
	api := newTestAPI(t)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{Username: "admin", Password: "admin123"})
	var login domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&login); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	rec = doJSON(t, api, http.MethodDelete, fmt.Sprintf("/api/v1/users/%d", login.UserID), login.AccessToken, csrf, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for last admin delete, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestPasswordChangeSelfService(t *testing.T) {
	api := newTestAPI(t)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{Username: "cashier", Password: "cashier123"})
	var login domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&login); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	rec = doJSON(t, api, http.MethodPost, fmt.Sprintf("/api/v1/users/%d/password", login.UserID), login.AccessToken, csrf, domain.PasswordChangeRequest{Password: "rotated1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for own password change, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	if tok := loginAs(t, api, "cashier", "rotated1"); tok == "" {
		t.Fatal("expected login with new password to succeed")
	}
}

func TestProfitReportOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	csrf := fetchCSRFToken(t, api)

	cashier := loginAs(t, api, "cashier", "cashier123")
	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier, csrf, domain.SaleRequest{
		PaymentMethod: domain.PaymentMethodCash,
		Items:         []domain.SaleItemInput{{ProductID: 1, VariantID: 1, Qty: 1}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	admin := loginAs(t, api, "admin", "admin123")
	today := time.Now().UTC().Format("2006-01-02")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/profit?start="+today+"&end="+today, nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var payload struct {
		Report []domain.CategoryProfit `json:"report"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(payload.Report) != 1 || payload.Report[0].Category != "Tops" {
		t.Fatalf("unexpected report: %+v", payload.Report)
	}
}

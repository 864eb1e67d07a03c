package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"clothpos/backend/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	// No CSRF header on a POST: rejected before reaching the handler.
	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, "", domain.SaleRequest{
		PaymentMethod: domain.PaymentMethodCash,
		Items:         []domain.SaleItemInput{{ProductID: 1, VariantID: 1, Qty: 1}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", rec.Code)
	}

	// DELETE is covered too.
	admin := loginAs(t, api, "admin", "admin123")
	rec = doJSON(t, api, http.MethodDelete, "/api/v1/products/1", admin, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for DELETE without CSRF token, got %d", rec.Code)
	}

	// A fetched token passes.
	csrf := fetchCSRFToken(t, api)
	rec = doJSON(t, api, http.MethodPost, "/api/v1/sales", token, csrf, domain.SaleRequest{
		PaymentMethod: domain.PaymentMethodCash,
		Items:         []domain.SaleItemInput{{ProductID: 1, VariantID: 1, Qty: 1}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 with CSRF token, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCSRFTokenValidationWindow(t *testing.T) {
	api := newTestAPI(t)

	current := api.generateCSRFToken()
	if !api.validateCSRFToken(current) {
		t.Fatal("current-hour token should validate")
	}
	if api.validateCSRFToken("") {
		t.Fatal("empty token should not validate")
	}
	if api.validateCSRFToken("deadbeef") {
		t.Fatal("garbage token should not validate")
	}

	// Tokens from another API instance use a different secret.
	other := newTestAPI(t)
	if api.validateCSRFToken(other.generateCSRFToken()) {
		t.Fatal("foreign token should not validate")
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}

func TestPathID(t *testing.T) {
	id, rest, err := pathID("/api/v1/variants/7/stock", "/api/v1/variants/")
	if err != nil || id != 7 || rest != "stock" {
		t.Fatalf("unexpected parse: id=%d rest=%q err=%v", id, rest, err)
	}
	id, rest, err = pathID("/api/v1/products/12", "/api/v1/products/")
	if err != nil || id != 12 || rest != "" {
		t.Fatalf("unexpected parse: id=%d rest=%q err=%v", id, rest, err)
	}
	if _, _, err := pathID("/api/v1/products/abc", "/api/v1/products/"); err == nil {
		t.Fatal("expected error for non-numeric id")
	}
	if _, _, err := pathID("/api/v1/products/0", "/api/v1/products/"); err == nil {
		t.Fatal("expected error for id 0")
	}
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response failed: %v", err)
	}
	tok := payload["csrf_token"]
	if strings.TrimSpace(tok) == "" {
		t.Fatalf("expected non-empty csrf_token in response")
	}
	return tok
}

func loginAs(t *testing.T, api *API, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("login as %s failed, status %d", username, res.Code)
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

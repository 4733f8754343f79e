package httpserver

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cuehall/backend/libs/license"
	"cuehall/backend/services/license-service/internal/clients"
	"cuehall/backend/services/license-service/internal/http/handlers"
	"cuehall/backend/services/license-service/internal/http/middleware"
	"cuehall/backend/services/license-service/internal/models"
	"cuehall/backend/services/license-service/internal/repository/memory"
	"cuehall/backend/services/license-service/internal/service"
)

type stubProvider struct {
	status models.OrderStatus
}

func (p *stubProvider) CreateInvoice(_ context.Context, req clients.InvoiceRequest) (models.Invoice, error) {
	return models.Invoice{ID: "inv-" + req.Reference, CheckoutURL: "https://pay.example/" + req.Reference}, nil
}

func (p *stubProvider) InvoiceStatus(_ context.Context, invoiceID string) (models.InvoiceStatus, error) {
	return models.InvoiceStatus{InvoiceID: invoiceID, Status: p.status}, nil
}

func (p *stubProvider) ParseStatus([]byte) (models.InvoiceStatus, error) {
	return models.InvoiceStatus{}, errors.New("unused")
}

type rejectAll struct{}

func (rejectAll) Verify(context.Context, []byte, string) error { return service.ErrInvalidSignature }

func newTestRouter(t *testing.T, provider *stubProvider) http.Handler {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	plans, err := service.ParsePlans([]string{"pro:30:500"})
	if err != nil {
		t.Fatalf("plans: %v", err)
	}
	orders := service.NewOrderService(service.OrderDeps{
		Orders:   memory.NewOrderRepository(),
		Provider: provider,
		Verifier: rejectAll{},
		Signer:   license.NewSignerFromKey(priv),
		Plans:    plans,
	})
	return NewRouter(RouterDeps{
		Orders:         handlers.NewOrdersHandlers(orders, nil),
		CreateLimiter:  middleware.NewRateLimiter(60, 2),
		AllowedOrigins: []string{"https://venue.example"},
	}, nil)
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:4000"
	if token != "" {
		req.Header.Set("x-order-token", token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestOrderFlow(t *testing.T) {
	provider := &stubProvider{status: models.OrderProcessing}
	h := newTestRouter(t, provider)

	rec := do(t, h, http.MethodPost, "/api/orders", "", `{"mid":"machine-1","tier":"pro","days":30}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	var created service.CreatedOrder
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil || created.OrderToken == "" {
		t.Fatalf("decode created: %v %s", err, rec.Body.String())
	}
	path := "/api/orders/" + created.OrderID

	if rec := do(t, h, http.MethodGet, path, "wrong", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/orders/missing", created.OrderToken, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, path+"/refresh", created.OrderToken, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"processing"`) {
		t.Fatalf("refresh processing: %d %s", rec.Code, rec.Body.String())
	}

	provider.status = models.OrderSuccess
	rec = do(t, h, http.MethodPost, path+"/refresh", created.OrderToken, "")
	var resp struct {
		Status  string  `json:"status"`
		License *string `json:"license"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode refresh: %v", err)
	}
	if resp.Status != "success" || resp.License == nil || *resp.License == "" {
		t.Fatalf("expected license after success, got %s", rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, path+"/qr?token="+created.OrderToken, "", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" || !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("unexpected qr response %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestCreateOrderErrors(t *testing.T) {
	h := newTestRouter(t, &stubProvider{})

	if rec := do(t, h, http.MethodPost, "/api/orders", "", `{`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad JSON, got %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/orders", "", `{"tier":"pro","days":30}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), `"field":"mid"`) {
		t.Fatalf("expected 400 on mid, got %d %s", rec.Code, rec.Body.String())
	}
	// the limiter allows a burst of two per IP
	if rec := do(t, h, http.MethodPost, "/api/orders", "", `{"mid":"m","tier":"pro","days":30}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	h := newTestRouter(t, &stubProvider{})
	req := httptest.NewRequest(http.MethodPost, "/api/mono/webhook", strings.NewReader(`{"invoiceId":"x","status":"success"}`))
	req.Header.Set("X-Sign", "forged")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook must return 200, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter(t, &stubProvider{})
	req := httptest.NewRequest(http.MethodOptions, "/api/orders/abc", nil)
	req.Header.Set("Origin", "https://venue.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "x-order-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://venue.example" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

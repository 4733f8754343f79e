package clients

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cuehall/backend/libs/httpclient"
	"cuehall/backend/services/license-service/internal/models"
)

const (
	defaultMonobankURL = "https://api.monobank.ua"
	// ISO 4217 code for hryvnia.
	defaultCurrency = 980
)

// ErrUnknownInvoiceStatus is returned for provider statuses we do not map.
var ErrUnknownInvoiceStatus = errors.New("monobank: unknown invoice status")

// MonobankConfig configures the acquiring API client.
type MonobankConfig struct {
	BaseURL  string
	Token    string
	Currency int
	Timeout  time.Duration
}

// InvoiceRequest describes a payment to create.
type InvoiceRequest struct {
	Amount      decimal.Decimal
	Reference   string
	Destination string
	RedirectURL string
	WebhookURL  string
	Validity    time.Duration
}

// MonobankClient talks to the Monobank acquiring API and translates its
// payloads into order vocabulary.
type MonobankClient struct {
	base     *httpclient.Client
	currency int
	logger   *zap.Logger
}

// NewMonobankClient returns client wrapper. doer may be nil.
func NewMonobankClient(cfg MonobankConfig, doer httpclient.Doer, logger *zap.Logger) *MonobankClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultMonobankURL
	}
	if cfg.Currency == 0 {
		cfg.Currency = defaultCurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &MonobankClient{
		base:     httpclient.New(cfg.BaseURL, doer, cfg.Timeout).WithHeader("X-Token", cfg.Token),
		currency: cfg.Currency,
		logger:   logger,
	}
}

type merchantPaymInfo struct {
	Reference   string `json:"reference"`
	Destination string `json:"destination,omitempty"`
}

type createInvoiceRequest struct {
	Amount           int64            `json:"amount"`
	Ccy              int              `json:"ccy"`
	MerchantPaymInfo merchantPaymInfo `json:"merchantPaymInfo"`
	RedirectURL      string           `json:"redirectUrl,omitempty"`
	WebHookURL       string           `json:"webHookUrl,omitempty"`
	Validity         int64            `json:"validity,omitempty"`
}

type createInvoiceResponse struct {
	InvoiceID string `json:"invoiceId"`
	PageURL   string `json:"pageUrl"`
}

// invoiceStatusPayload is both the status response and the webhook body.
type invoiceStatusPayload struct {
	InvoiceID     string `json:"invoiceId"`
	Status        string `json:"status"`
	FailureReason string `json:"failureReason"`
	Reference     string `json:"reference"`
	ModifiedDate  string `json:"modifiedDate"`
}

type pubKeyResponse struct {
	Key string `json:"key"`
}

type apiError struct {
	ErrCode string `json:"errCode"`
	ErrText string `json:"errText"`
}

// CreateInvoice registers a payment and returns its checkout page.
func (c *MonobankClient) CreateInvoice(ctx context.Context, req InvoiceRequest) (models.Invoice, error) {
	payload := createInvoiceRequest{
		// amount goes over the wire in minor units
		Amount:           req.Amount.Shift(2).Round(0).IntPart(),
		Ccy:              c.currency,
		MerchantPaymInfo: merchantPaymInfo{Reference: req.Reference, Destination: req.Destination},
		RedirectURL:      req.RedirectURL,
		WebHookURL:       req.WebhookURL,
		Validity:         int64(req.Validity / time.Second),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return models.Invoice{}, err
	}

	status, respBody, err := c.base.Do(ctx, http.MethodPost, "/api/merchant/invoice/create", body)
	if err != nil {
		return models.Invoice{}, fmt.Errorf("monobank: create invoice: %w", err)
	}
	if status < 200 || status >= 300 {
		return models.Invoice{}, responseError("create invoice", status, respBody)
	}

	var resp createInvoiceResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return models.Invoice{}, fmt.Errorf("monobank: decode invoice: %w", err)
	}
	if resp.InvoiceID == "" || resp.PageURL == "" {
		return models.Invoice{}, errors.New("monobank: invoice response without id or page url")
	}
	return models.Invoice{ID: resp.InvoiceID, CheckoutURL: resp.PageURL}, nil
}

// InvoiceStatus polls the provider for the current invoice state.
func (c *MonobankClient) InvoiceStatus(ctx context.Context, invoiceID string) (models.InvoiceStatus, error) {
	path := "/api/merchant/invoice/status?invoiceId=" + url.QueryEscape(invoiceID)
	status, respBody, err := c.base.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return models.InvoiceStatus{}, fmt.Errorf("monobank: invoice status: %w", err)
	}
	if status < 200 || status >= 300 {
		return models.InvoiceStatus{}, responseError("invoice status", status, respBody)
	}
	return c.ParseStatus(respBody)
}

// ParseStatus decodes a status response or webhook body.
func (c *MonobankClient) ParseStatus(body []byte) (models.InvoiceStatus, error) {
	var payload invoiceStatusPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.InvoiceStatus{}, fmt.Errorf("monobank: decode status: %w", err)
	}
	if payload.InvoiceID == "" && payload.Reference == "" {
		return models.InvoiceStatus{}, errors.New("monobank: status without invoice id or reference")
	}
	normalized, err := NormalizeStatus(payload.Status)
	if err != nil {
		return models.InvoiceStatus{}, err
	}
	out := models.InvoiceStatus{
		InvoiceID:     payload.InvoiceID,
		Reference:     payload.Reference,
		Status:        normalized,
		FailureReason: payload.FailureReason,
	}
	if payload.ModifiedDate != "" {
		if ts, err := time.Parse(time.RFC3339, payload.ModifiedDate); err == nil {
			out.ModifiedAt = ts
		}
	}
	return out, nil
}

// PublicKey fetches the PEM key the provider signs webhooks with.
func (c *MonobankClient) PublicKey(ctx context.Context) ([]byte, error) {
	status, respBody, err := c.base.Do(ctx, http.MethodGet, "/api/merchant/pubkey", nil)
	if err != nil {
		return nil, fmt.Errorf("monobank: pubkey: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, responseError("pubkey", status, respBody)
	}
	var resp pubKeyResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("monobank: decode pubkey: %w", err)
	}
	pem, err := base64.StdEncoding.DecodeString(resp.Key)
	if err != nil {
		return nil, fmt.Errorf("monobank: decode pubkey: %w", err)
	}
	c.logger.Info("monobank public key fetched")
	return pem, nil
}

// NormalizeStatus maps provider invoice states onto order states.
func NormalizeStatus(status string) (models.OrderStatus, error) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "created":
		return models.OrderNew, nil
	case "processing", "hold":
		return models.OrderProcessing, nil
	case "success":
		return models.OrderSuccess, nil
	case "failure":
		return models.OrderFailed, nil
	case "expired":
		return models.OrderExpired, nil
	case "reversed":
		return models.OrderReversed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownInvoiceStatus, status)
	}
}

func responseError(op string, status int, body []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.ErrText != "" {
		return fmt.Errorf("monobank: %s: status %d: %s %s", op, status, apiErr.ErrCode, apiErr.ErrText)
	}
	return fmt.Errorf("monobank: %s: status %d", op, status)
}

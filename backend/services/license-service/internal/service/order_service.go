package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"cuehall/backend/libs/license"
	"cuehall/backend/services/license-service/internal/clients"
	"cuehall/backend/services/license-service/internal/models"
	"cuehall/backend/services/license-service/internal/repository"
)

const (
	maxMachineIDLength = 128
	qrSize             = 256
)

// OrderRepository defines storage contract used by the order service.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)
	GetByInvoiceID(ctx context.Context, invoiceID string) (*models.Order, error)
	AttachInvoice(ctx context.Context, id string, invoice models.Invoice, at time.Time) error
	UpdateStatus(ctx context.Context, id string, status models.OrderStatus, at time.Time) error
	SetLicenseIfEmpty(ctx context.Context, id, license string, at time.Time) (bool, error)
}

// PaymentProvider is the acquiring API boundary. Implementations return
// statuses already normalized to order vocabulary.
type PaymentProvider interface {
	CreateInvoice(ctx context.Context, req clients.InvoiceRequest) (models.Invoice, error)
	InvoiceStatus(ctx context.Context, invoiceID string) (models.InvoiceStatus, error)
	ParseStatus(body []byte) (models.InvoiceStatus, error)
}

// SignatureVerifier authenticates webhook bodies.
type SignatureVerifier interface {
	Verify(ctx context.Context, body []byte, signature string) error
}

// LicenseIssuer signs license tokens.
type LicenseIssuer interface {
	Issue(machineID, tier, subject string, days int, now time.Time) (string, license.Payload, error)
}

// Observer is told about order milestones.
type Observer interface {
	OrderCreated(order models.Order)
	LicenseIssued(order models.Order)
}

// OrderConfig carries provider-facing URLs.
type OrderConfig struct {
	RedirectURL     string
	WebhookURL      string
	InvoiceValidity time.Duration
}

// OrderDeps collects OrderService collaborators.
type OrderDeps struct {
	Orders   OrderRepository
	Provider PaymentProvider
	Verifier SignatureVerifier
	Signer   LicenseIssuer
	Plans    *PlanCatalog
	Observer Observer
	Clock    Clock
	Config   OrderConfig
	Logger   *zap.Logger
}

// OrderService runs the order state machine and issues each license once.
type OrderService struct {
	orders   OrderRepository
	provider PaymentProvider
	verifier SignatureVerifier
	signer   LicenseIssuer
	plans    *PlanCatalog
	observer Observer
	clock    Clock
	cfg      OrderConfig
	logger   *zap.Logger
}

func NewOrderService(deps OrderDeps) *OrderService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	return &OrderService{
		orders:   deps.Orders,
		provider: deps.Provider,
		verifier: deps.Verifier,
		signer:   deps.Signer,
		plans:    deps.Plans,
		observer: deps.Observer,
		clock:    deps.Clock,
		cfg:      deps.Config,
		logger:   deps.Logger,
	}
}

// CreateOrderRequest is a purchase request from the licensing UI.
type CreateOrderRequest struct {
	MachineID string
	Tier      string
	Days      int
}

// CreatedOrder is what the buyer needs to pay and later poll.
type CreatedOrder struct {
	OrderID     string `json:"orderId"`
	OrderToken  string `json:"orderToken"`
	CheckoutURL string `json:"checkoutUrl"`
}

// Plans lists purchasable licenses.
func (s *OrderService) Plans() []models.Plan {
	return s.plans.All()
}

// Create stores a new order and opens a provider invoice for it.
func (s *OrderService) Create(ctx context.Context, req CreateOrderRequest) (CreatedOrder, error) {
	mid := strings.TrimSpace(req.MachineID)
	switch {
	case mid == "":
		return CreatedOrder{}, invalid("mid", "required")
	case len(mid) > maxMachineIDLength:
		return CreatedOrder{}, invalid("mid", "longer than %d characters", maxMachineIDLength)
	case strings.TrimSpace(req.Tier) == "":
		return CreatedOrder{}, invalid("tier", "required")
	case req.Days <= 0:
		return CreatedOrder{}, invalid("days", "must be positive")
	}
	plan, ok := s.plans.Find(req.Tier, req.Days)
	if !ok {
		return CreatedOrder{}, invalid("tier", "no plan for %s over %d days", req.Tier, req.Days)
	}

	token, err := newOrderToken()
	if err != nil {
		return CreatedOrder{}, err
	}
	now := s.clock.Now()
	order := &models.Order{
		ID:        uuid.NewString(),
		MachineID: mid,
		Tier:      plan.Tier,
		Days:      plan.Days,
		Amount:    plan.Amount,
		Status:    models.OrderNew,
		Token:     token,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return CreatedOrder{}, &PersistenceError{Op: "create order", Err: err}
	}

	invoice, err := s.provider.CreateInvoice(ctx, clients.InvoiceRequest{
		Amount:      plan.Amount,
		Reference:   order.ID,
		Destination: fmt.Sprintf("cuehall %s license, %d days", plan.Tier, plan.Days),
		RedirectURL: s.cfg.RedirectURL,
		WebhookURL:  s.cfg.WebhookURL,
		Validity:    s.cfg.InvoiceValidity,
	})
	if err != nil {
		if uerr := s.orders.UpdateStatus(ctx, order.ID, models.OrderFailed, s.clock.Now()); uerr != nil {
			s.logger.Warn("failed to mark order failed", zap.String("order_id", order.ID), zap.Error(uerr))
		}
		s.logger.Error("invoice creation failed", zap.String("order_id", order.ID), zap.Error(err))
		return CreatedOrder{}, &ReconciliationError{Op: "create invoice", Err: err}
	}
	if err := s.orders.AttachInvoice(ctx, order.ID, invoice, s.clock.Now()); err != nil {
		return CreatedOrder{}, &PersistenceError{Op: "attach invoice", Err: err}
	}
	order.InvoiceID = invoice.ID
	order.CheckoutURL = invoice.CheckoutURL

	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("invoice_id", invoice.ID),
		zap.String("tier", order.Tier),
		zap.Int("days", order.Days),
	)
	if s.observer != nil {
		s.observer.OrderCreated(*order)
	}
	return CreatedOrder{OrderID: order.ID, OrderToken: token, CheckoutURL: invoice.CheckoutURL}, nil
}

// Get returns the order when token matches.
func (s *OrderService) Get(ctx context.Context, id, token string) (*models.Order, error) {
	return s.authorize(ctx, id, token)
}

// Refresh polls the provider and issues the license once payment succeeded.
func (s *OrderService) Refresh(ctx context.Context, id, token string) (*models.Order, error) {
	order, err := s.authorize(ctx, id, token)
	if err != nil {
		return nil, err
	}
	if order.Licensed() || order.InvoiceID == "" {
		return order, nil
	}
	status, err := s.provider.InvoiceStatus(ctx, order.InvoiceID)
	if err != nil {
		return nil, &ReconciliationError{Op: "poll invoice", Err: err}
	}
	return s.apply(ctx, order, status)
}

// HandleWebhook verifies and applies a provider status push. Callers should
// acknowledge the provider regardless of the returned error.
func (s *OrderService) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if err := s.verifier.Verify(ctx, body, signature); err != nil {
		return &ReconciliationError{Op: "verify webhook", Err: err}
	}
	status, err := s.provider.ParseStatus(body)
	if err != nil {
		return &ReconciliationError{Op: "parse webhook", Err: err}
	}
	order, err := s.findOrder(ctx, status)
	if err != nil {
		return err
	}
	_, err = s.apply(ctx, order, status)
	return err
}

// CheckoutQR renders the checkout URL as a PNG QR code.
func (s *OrderService) CheckoutQR(ctx context.Context, id, token string) ([]byte, error) {
	order, err := s.authorize(ctx, id, token)
	if err != nil {
		return nil, err
	}
	if order.CheckoutURL == "" {
		return nil, ErrNoCheckout
	}
	return qrcode.Encode(order.CheckoutURL, qrcode.Medium, qrSize)
}

// findOrder resolves a status report by reference first, then by invoice id.
func (s *OrderService) findOrder(ctx context.Context, status models.InvoiceStatus) (*models.Order, error) {
	if status.Reference != "" {
		order, err := s.orders.Get(ctx, status.Reference)
		if err == nil {
			if status.InvoiceID != "" && order.InvoiceID != "" && order.InvoiceID != status.InvoiceID {
				return nil, &ReconciliationError{
					Op:  "match webhook",
					Err: fmt.Errorf("invoice %s does not belong to order %s", status.InvoiceID, order.ID),
				}
			}
			return order, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	if status.InvoiceID != "" {
		order, err := s.orders.GetByInvoiceID(ctx, status.InvoiceID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrOrderNotFound
}

// apply moves the order to the reported status and issues the license on success.
func (s *OrderService) apply(ctx context.Context, order *models.Order, status models.InvoiceStatus) (*models.Order, error) {
	if status.Status == models.OrderSuccess && !order.Licensed() &&
		(order.Status == models.OrderSuccess || !order.Status.Terminal()) {
		return s.issue(ctx, order)
	}

	next, changed := nextStatus(order.Status, status.Status)
	if !changed {
		return order, nil
	}
	if err := s.orders.UpdateStatus(ctx, order.ID, next, s.clock.Now()); err != nil {
		return nil, &PersistenceError{Op: "update order status", Err: err}
	}
	s.logger.Info("order status changed",
		zap.String("order_id", order.ID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(next)),
		zap.String("failure_reason", status.FailureReason),
	)
	order.Status = next
	return order, nil
}

func (s *OrderService) issue(ctx context.Context, order *models.Order) (*models.Order, error) {
	now := s.clock.Now()
	token, payload, err := s.signer.Issue(order.MachineID, order.Tier, order.ID, order.Days, now)
	if err != nil {
		return nil, fmt.Errorf("issue license: %w", err)
	}
	stored, err := s.orders.SetLicenseIfEmpty(ctx, order.ID, token, now)
	if err != nil {
		return nil, &PersistenceError{Op: "store license", Err: err}
	}
	if !stored {
		// another delivery won the race; return what it stored
		return s.orders.Get(ctx, order.ID)
	}

	order.License = &token
	order.Status = models.OrderSuccess
	order.UpdatedAt = now
	s.logger.Info("license issued",
		zap.String("order_id", order.ID),
		zap.String("tier", order.Tier),
		zap.Time("expires_at", payload.Expiry()),
	)
	if s.observer != nil {
		s.observer.LicenseIssued(*order)
	}
	return order, nil
}

func (s *OrderService) authorize(ctx context.Context, id, token string) (*models.Order, error) {
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(order.Token)) != 1 {
		return nil, ErrForbidden
	}
	return order, nil
}

// nextStatus decides whether a reported status may replace the current one.
// Failed, expired and reversed are final; success may only become reversed;
// a late "new" never overrides progress.
func nextStatus(current, reported models.OrderStatus) (models.OrderStatus, bool) {
	switch {
	case reported == "" || reported == current:
		return current, false
	case current.Terminal():
		return current, false
	case current == models.OrderSuccess:
		return models.OrderReversed, reported == models.OrderReversed
	case reported == models.OrderNew:
		return current, false
	case reported == models.OrderSuccess:
		// success is only reachable through license issuance
		return current, false
	}
	return reported, true
}

func newOrderToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

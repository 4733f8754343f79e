// Package memory keeps orders in process memory for local runs and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"cuehall/backend/services/license-service/internal/models"
	"cuehall/backend/services/license-service/internal/repository"
)

// OrderRepository is an in-memory order store.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]*models.Order)}
}

func (r *OrderRepository) Create(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; exists {
		return repository.ErrConflict
	}
	cp := *order
	cp.UpdatedAt = cp.CreatedAt
	r.orders[order.ID] = &cp
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(order), nil
}

func (r *OrderRepository) GetByInvoiceID(_ context.Context, invoiceID string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, order := range r.orders {
		if invoiceID != "" && order.InvoiceID == invoiceID {
			return clone(order), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *OrderRepository) AttachInvoice(_ context.Context, id string, invoice models.Invoice, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	for otherID, other := range r.orders {
		if otherID != id && other.InvoiceID == invoice.ID {
			return repository.ErrConflict
		}
	}
	order.InvoiceID = invoice.ID
	order.CheckoutURL = invoice.CheckoutURL
	order.UpdatedAt = at
	return nil
}

func (r *OrderRepository) UpdateStatus(_ context.Context, id string, status models.OrderStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	order.Status = status
	order.UpdatedAt = at
	return nil
}

func (r *OrderRepository) SetLicenseIfEmpty(_ context.Context, id, license string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if order.License != nil {
		return false, nil
	}
	order.License = &license
	order.Status = models.OrderSuccess
	order.UpdatedAt = at
	return true, nil
}

func clone(order *models.Order) *models.Order {
	cp := *order
	if order.License != nil {
		license := *order.License
		cp.License = &license
	}
	return &cp
}

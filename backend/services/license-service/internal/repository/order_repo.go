package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cuehall/backend/services/license-service/internal/models"
)

// OrderRepository stores license orders.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository returns repository.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, machine_id, tier, days, amount, status, invoice_id, checkout_url, token, license, created_at, updated_at`

func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	const query = `
		INSERT INTO orders (id, machine_id, tier, days, amount, status, token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		order.ID, order.MachineID, order.Tier, order.Days, order.Amount, string(order.Status), order.Token, order.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (r *OrderRepository) GetByInvoiceID(ctx context.Context, invoiceID string) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE invoice_id = $1`, invoiceID)
	return scanOrder(row)
}

func (r *OrderRepository) AttachInvoice(ctx context.Context, id string, invoice models.Invoice, at time.Time) error {
	const query = `UPDATE orders SET invoice_id = $2, checkout_url = $3, updated_at = $4 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, invoice.ID, invoice.CheckoutURL, at)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return expectOne(result, err)
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status models.OrderStatus, at time.Time) error {
	const query = `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, string(status), at)
	return expectOne(result, err)
}

// SetLicenseIfEmpty stores the license and marks the order paid unless a
// license is already present. It reports whether this call stored it.
func (r *OrderRepository) SetLicenseIfEmpty(ctx context.Context, id, license string, at time.Time) (bool, error) {
	const query = `
		UPDATE orders
		SET license = $2, status = 'success', updated_at = $3
		WHERE id = $1 AND license IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, id, license, at)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func expectOne(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOrder(row *sql.Row) (*models.Order, error) {
	var (
		order     models.Order
		status    string
		invoiceID sql.NullString
		license   sql.NullString
	)
	err := row.Scan(
		&order.ID, &order.MachineID, &order.Tier, &order.Days, &order.Amount, &status,
		&invoiceID, &order.CheckoutURL, &order.Token, &license, &order.CreatedAt, &order.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	order.Status = models.OrderStatus(status)
	order.InvoiceID = invoiceID.String
	if license.Valid {
		order.License = &license.String
	}
	return &order, nil
}

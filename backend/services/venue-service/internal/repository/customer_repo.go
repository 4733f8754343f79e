package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	libdb "cuehall/backend/libs/db"
	"cuehall/backend/services/venue-service/internal/models"
)

const customerColumns = `id, name, phone, bonus_balance, bonus_earned, bonus_spent, visits, total_spent, created_at, updated_at`

// CustomerRepository handles loyalty accounts.
type CustomerRepository struct {
	db *sql.DB
}

// NewCustomerRepository returns repository.
func NewCustomerRepository(db *sql.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// Create inserts a new customer.
func (r *CustomerRepository) Create(ctx context.Context, c *models.Customer) error {
	const query = `
		INSERT INTO customers (id, name, phone, bonus_balance, bonus_earned, bonus_spent, visits, total_spent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		c.ID, c.Name, c.Phone, c.BonusBalance, c.BonusEarned, c.BonusSpent, c.Visits, c.TotalSpent,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// Get fetches one customer.
func (r *CustomerRepository) Get(ctx context.Context, id string) (*models.Customer, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
	c, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// GetMany returns the known customers among ids in the order given.
func (r *CustomerRepository) GetMany(ctx context.Context, ids []string) ([]models.Customer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]models.Customer, len(ids))
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		byID[c.ID] = *c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.Customer, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// List searches by name or phone.
func (r *CustomerRepository) List(ctx context.Context, query string, limit int) ([]models.Customer, error) {
	if limit <= 0 {
		limit = 100
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE lower(name) LIKE $1 OR phone LIKE $1
		ORDER BY name
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []models.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}
	return customers, rows.Err()
}

// ApplyBonus applies all changes in one transaction. A change that would drive
// a balance negative rolls back the whole batch.
func (r *CustomerRepository) ApplyBonus(ctx context.Context, changes []models.BonusChange) error {
	const query = `
		UPDATE customers
		SET bonus_balance = bonus_balance + $2,
		    bonus_earned = bonus_earned + $3,
		    bonus_spent = bonus_spent + $4,
		    visits = visits + $5,
		    total_spent = total_spent + $6,
		    updated_at = NOW()
		WHERE id = $1
	`
	return libdb.InTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, ch := range changes {
			result, err := tx.ExecContext(ctx, query,
				ch.CustomerID, ch.Balance, ch.Earned, ch.Spent, ch.Visits, ch.TotalSpent,
			)
			if isCheckViolation(err) {
				return ErrInsufficientBalance
			}
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
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (*models.Customer, error) {
	var c models.Customer
	if err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Phone,
		&c.BonusBalance,
		&c.BonusEarned,
		&c.BonusSpent,
		&c.Visits,
		&c.TotalSpent,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

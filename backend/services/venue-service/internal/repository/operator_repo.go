package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"cuehall/backend/services/venue-service/internal/models"
)

// OperatorRepository handles staff accounts.
type OperatorRepository struct {
	db *sql.DB
}

// NewOperatorRepository returns repository instance.
func NewOperatorRepository(db *sql.DB) *OperatorRepository {
	return &OperatorRepository{db: db}
}

// Create inserts a new operator.
func (r *OperatorRepository) Create(ctx context.Context, op *models.Operator) error {
	op.Username = strings.ToLower(strings.TrimSpace(op.Username))
	const query = `
		INSERT INTO operators (id, username, name, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query, op.ID, op.Username, op.Name, op.PasswordHash).Scan(&op.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetByUsername fetches an operator by username.
func (r *OperatorRepository) GetByUsername(ctx context.Context, username string) (*models.Operator, error) {
	const query = `
		SELECT id, username, name, password_hash, created_at
		FROM operators
		WHERE username = $1
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(username)))
	var op models.Operator
	if err := row.Scan(&op.ID, &op.Username, &op.Name, &op.PasswordHash, &op.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &op, nil
}

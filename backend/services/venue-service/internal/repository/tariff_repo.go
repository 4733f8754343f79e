package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"cuehall/backend/services/venue-service/internal/models"
)

// TariffRepository keeps every saved tariff; the newest is active.
type TariffRepository struct {
	db *sql.DB
}

// NewTariffRepository returns repository.
func NewTariffRepository(db *sql.DB) *TariffRepository {
	return &TariffRepository{db: db}
}

// GetActive returns the latest tariff version.
func (r *TariffRepository) GetActive(ctx context.Context) (*models.Tariff, error) {
	const query = `
		SELECT base_rate, rules, updated_at
		FROM tariffs
		ORDER BY id DESC
		LIMIT 1
	`
	var (
		t     models.Tariff
		rules []byte
	)
	if err := r.db.QueryRowContext(ctx, query).Scan(&t.BaseRate, &rules, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(rules, &t.Rules); err != nil {
		return nil, err
	}
	return &t, nil
}

// Save stores a new version.
func (r *TariffRepository) Save(ctx context.Context, tariff *models.Tariff) error {
	rules, err := json.Marshal(nonNil(tariff.Rules))
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO tariffs (base_rate, rules)
		VALUES ($1, $2)
		RETURNING updated_at
	`
	return r.db.QueryRowContext(ctx, query, tariff.BaseRate, rules).Scan(&tariff.UpdatedAt)
}

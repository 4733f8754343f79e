package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	libdb "cuehall/backend/libs/db"
	"cuehall/backend/services/venue-service/internal/models"
)

// TableRepository persists table state as JSONB snapshots.
type TableRepository struct {
	db *sql.DB
}

// NewTableRepository returns repository.
func NewTableRepository(db *sql.DB) *TableRepository {
	return &TableRepository{db: db}
}

// List returns all tables in creation order.
func (r *TableRepository) List(ctx context.Context) ([]models.Table, error) {
	const query = `SELECT state FROM pool_tables ORDER BY seq`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []models.Table
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var t models.Table
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// Save upserts every table in one transaction.
func (r *TableRepository) Save(ctx context.Context, tables ...*models.Table) error {
	const query = `
		INSERT INTO pool_tables (id, name, relay_channel, state, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			relay_channel = EXCLUDED.relay_channel,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`
	return libdb.InTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, t := range tables {
			state, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, t.ID, t.Name, t.RelayChannel, state, t.UpdatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes a table.
func (r *TableRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pool_tables WHERE id = $1`, id)
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

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"cuehall/backend/services/venue-service/internal/models"
)

// ShiftRepository stores shifts. A partial unique index keeps at most one open.
type ShiftRepository struct {
	db *sql.DB
}

// NewShiftRepository returns repository.
func NewShiftRepository(db *sql.DB) *ShiftRepository {
	return &ShiftRepository{db: db}
}

const shiftColumns = `id, opened_at, opened_by, closed_at, totals`

func (r *ShiftRepository) GetOpen(ctx context.Context) (*models.Shift, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE closed_at IS NULL LIMIT 1`)
	return scanShiftRow(row)
}

func (r *ShiftRepository) Get(ctx context.Context, id string) (*models.Shift, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1`, id)
	return scanShiftRow(row)
}

func (r *ShiftRepository) Create(ctx context.Context, shift *models.Shift) error {
	const query = `INSERT INTO shifts (id, opened_at, opened_by) VALUES ($1, $2, $3)`
	_, err := r.db.ExecContext(ctx, query, shift.ID, shift.OpenedAt, shift.OpenedBy)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// Close writes closedAt and totals only while the shift is still open.
func (r *ShiftRepository) Close(ctx context.Context, shift *models.Shift) error {
	totals, err := json.Marshal(shift.Totals)
	if err != nil {
		return err
	}
	const query = `
		UPDATE shifts
		SET closed_at = $2, totals = $3
		WHERE id = $1 AND closed_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, shift.ID, shift.ClosedAt, totals)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.Get(ctx, shift.ID); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// List returns shifts newest first.
func (r *ShiftRepository) List(ctx context.Context, limit int) ([]models.Shift, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+shiftColumns+` FROM shifts ORDER BY opened_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shifts []models.Shift
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, *s)
	}
	return shifts, rows.Err()
}

func scanShiftRow(row *sql.Row) (*models.Shift, error) {
	s, err := scanShift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func scanShift(row rowScanner) (*models.Shift, error) {
	var (
		s      models.Shift
		totals []byte
	)
	if err := row.Scan(&s.ID, &s.OpenedAt, &s.OpenedBy, &s.ClosedAt, &totals); err != nil {
		return nil, err
	}
	if len(totals) > 0 {
		s.Totals = &models.ShiftTotals{}
		if err := json.Unmarshal(totals, s.Totals); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

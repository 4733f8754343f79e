package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"cuehall/backend/services/venue-service/internal/models"
)

const recordColumns = `id, table_id, table_name, shift_id, payment_method, operator,
	gross_amount, bonus_used, bonus_earned, game_amount, rentals_amount, amount,
	started_at, finished_at, duration_ms, intervals, rentals, players`

// RecordRepository is the append-only log of finalized sessions.
type RecordRepository struct {
	db *sql.DB
}

// NewRecordRepository returns repository.
func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Append inserts rec; a repeated id is ignored so retries are safe.
func (r *RecordRepository) Append(ctx context.Context, rec *models.SessionRecord) error {
	intervals, err := json.Marshal(nonNil(rec.Intervals))
	if err != nil {
		return err
	}
	rentals, err := json.Marshal(nonNil(rec.Rentals))
	if err != nil {
		return err
	}
	players, err := json.Marshal(nonNil(rec.Players))
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO session_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID,
		rec.TableID,
		rec.TableName,
		rec.ShiftID,
		rec.PaymentMethod,
		rec.Operator,
		rec.GrossAmount,
		rec.BonusUsed,
		rec.BonusEarned,
		rec.GameAmount,
		rec.RentalsAmount,
		rec.Amount,
		rec.StartedAt,
		rec.FinishedAt,
		rec.DurationMs,
		intervals,
		rentals,
		players,
	)
	return err
}

// ListByShift returns the records of a shift in finish order.
func (r *RecordRepository) ListByShift(ctx context.Context, shiftID string) ([]models.SessionRecord, error) {
	const query = `SELECT ` + recordColumns + ` FROM session_records WHERE shift_id = $1 ORDER BY finished_at`
	return r.query(ctx, query, shiftID)
}

// ListBetween returns records finished in [from, to).
func (r *RecordRepository) ListBetween(ctx context.Context, from, to time.Time) ([]models.SessionRecord, error) {
	const query = `
		SELECT ` + recordColumns + `
		FROM session_records
		WHERE finished_at >= $1 AND finished_at < $2
		ORDER BY finished_at
	`
	return r.query(ctx, query, from, to)
}

func (r *RecordRepository) query(ctx context.Context, query string, args ...any) ([]models.SessionRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.SessionRecord
	for rows.Next() {
		var (
			rec                         models.SessionRecord
			intervals, rentals, players []byte
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.TableID,
			&rec.TableName,
			&rec.ShiftID,
			&rec.PaymentMethod,
			&rec.Operator,
			&rec.GrossAmount,
			&rec.BonusUsed,
			&rec.BonusEarned,
			&rec.GameAmount,
			&rec.RentalsAmount,
			&rec.Amount,
			&rec.StartedAt,
			&rec.FinishedAt,
			&rec.DurationMs,
			&intervals,
			&rentals,
			&players,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(intervals, &rec.Intervals); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rentals, &rec.Rentals); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(players, &rec.Players); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"courtslot/internal/clock"
	"courtslot/internal/domain"
	"courtslot/internal/models"
)

// RecoveryDB persists recovery records in sqlite.
type RecoveryDB struct {
	db    *DB
	clock clock.Clock
}

var _ domain.RecoveryStore = (*RecoveryDB)(nil)

func NewRecoveryDB(db *DB, clk clock.Clock) *RecoveryDB {
	if clk == nil {
		clk = clock.System{}
	}
	return &RecoveryDB{db: db, clock: clk}
}

func (r *RecoveryDB) Save(ctx context.Context, rec models.RecoveryRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal recovery record: %w", err)
	}

	query := `
        INSERT INTO booking_recovery (booking_id, payload, hold_until, created_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(booking_id) DO UPDATE SET
            payload = excluded.payload,
            hold_until = excluded.hold_until,
            created_at = excluded.created_at
    `
	_, err = r.db.db.ExecContext(ctx, query, rec.BookingID, string(payload), rec.HoldUntil.UnixNano(), rec.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save recovery record: %w", err)
	}
	return nil
}

// Load returns nil without error when the record is missing or its hold has passed.
func (r *RecoveryDB) Load(ctx context.Context, bookingID string) (*models.RecoveryRecord, error) {
	query := `SELECT payload FROM booking_recovery WHERE booking_id = ? AND hold_until > ?`

	var payload string
	err := r.db.db.QueryRowContext(ctx, query, bookingID, r.clock.Now().UnixNano()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recovery record: %w", err)
	}

	var rec models.RecoveryRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recovery record: %w", err)
	}
	return &rec, nil
}

func (r *RecoveryDB) Delete(ctx context.Context, bookingID string) error {
	_, err := r.db.db.ExecContext(ctx, `DELETE FROM booking_recovery WHERE booking_id = ?`, bookingID)
	return err
}

// PurgeExpired removes records whose hold ended at or before now.
func (r *RecoveryDB) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.db.ExecContext(ctx, `DELETE FROM booking_recovery WHERE hold_until <= ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge recovery records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.db.logger.Debug().Int64("removed", n).Msg("purged expired recovery records")
	}
	return n, nil
}

// Count returns the number of stored records.
func (r *RecoveryDB) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM booking_recovery`).Scan(&n)
	return n, err
}

package repository

import (
	"context"
	"sync"
	"time"

	"courtslot/internal/clock"
	"courtslot/internal/domain"
	"courtslot/internal/models"
)

type MemoryRecoveryStore struct {
	records sync.Map
	clock   clock.Clock
}

var _ domain.RecoveryStore = (*MemoryRecoveryStore)(nil)

func NewMemoryRecoveryStore(clk clock.Clock) *MemoryRecoveryStore {
	if clk == nil {
		clk = clock.System{}
	}
	return &MemoryRecoveryStore{clock: clk}
}

func (r *MemoryRecoveryStore) Save(ctx context.Context, rec models.RecoveryRecord) error {
	if !rec.ValidAt(r.clock.Now()) {
		r.records.Delete(rec.BookingID)
		return nil
	}
	r.records.Store(rec.BookingID, rec)
	return nil
}

// Load drops the record lazily once its hold has passed.
func (r *MemoryRecoveryStore) Load(ctx context.Context, bookingID string) (*models.RecoveryRecord, error) {
	val, ok := r.records.Load(bookingID)
	if !ok {
		return nil, nil
	}
	rec := val.(models.RecoveryRecord)
	if !rec.ValidAt(r.clock.Now()) {
		r.records.Delete(bookingID)
		return nil, nil
	}
	return &rec, nil
}

func (r *MemoryRecoveryStore) Delete(ctx context.Context, bookingID string) error {
	r.records.Delete(bookingID)
	return nil
}

// PurgeExpired removes every record whose hold has passed at now.
func (r *MemoryRecoveryStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	r.records.Range(func(key, val any) bool {
		if !val.(models.RecoveryRecord).ValidAt(now) {
			r.records.Delete(key)
			removed++
		}
		return true
	})
	return removed, nil
}

package repository

import (
	"context"
	"sync"
	"time"

	"courtslot/internal/clock"
	"courtslot/internal/domain"
	"courtslot/internal/models"

	"github.com/rs/zerolog"
)

const primaryRetryInterval = time.Minute

// FailoverRecoveryStore writes to the primary store and switches to the
// fallback when the primary fails. The primary is retried after a minute.
type FailoverRecoveryStore struct {
	primary  domain.RecoveryStore
	fallback domain.RecoveryStore
	clock    clock.Clock
	logger   *zerolog.Logger

	mu        sync.Mutex
	isDown    bool
	lastCheck time.Time
}

var _ domain.RecoveryStore = (*FailoverRecoveryStore)(nil)

func NewFailoverRecoveryStore(primary, fallback domain.RecoveryStore, clk clock.Clock, logger *zerolog.Logger) *FailoverRecoveryStore {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverRecoveryStore{
		primary:  primary,
		fallback: fallback,
		clock:    clk,
		logger:   logger,
	}
}

// usePrimary reports whether the next call should go to the primary.
func (r *FailoverRecoveryStore) usePrimary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isDown {
		return true
	}
	return r.clock.Now().Sub(r.lastCheck) > primaryRetryInterval
}

func (r *FailoverRecoveryStore) markDown(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isDown {
		r.logger.Error().Err(err).Msg("primary recovery store failed, falling back")
	}
	r.isDown = true
	r.lastCheck = r.clock.Now()
}

func (r *FailoverRecoveryStore) markUp() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isDown {
		r.logger.Info().Msg("primary recovery store recovered")
	}
	r.isDown = false
}

// Down reports whether calls are currently served by the fallback.
func (r *FailoverRecoveryStore) Down() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isDown
}

func (r *FailoverRecoveryStore) Save(ctx context.Context, rec models.RecoveryRecord) error {
	if r.usePrimary() {
		err := r.primary.Save(ctx, rec)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.Save(ctx, rec)
}

// Load checks the primary first and falls back to the secondary when the
// primary is down or does not have the record, since it may have been saved
// during an outage.
func (r *FailoverRecoveryStore) Load(ctx context.Context, bookingID string) (*models.RecoveryRecord, error) {
	if r.usePrimary() {
		rec, err := r.primary.Load(ctx, bookingID)
		if err == nil {
			r.markUp()
			if rec != nil {
				return rec, nil
			}
		} else {
			r.markDown(err)
		}
	}
	return r.fallback.Load(ctx, bookingID)
}

func (r *FailoverRecoveryStore) Delete(ctx context.Context, bookingID string) error {
	if r.usePrimary() {
		if err := r.primary.Delete(ctx, bookingID); err != nil {
			r.markDown(err)
		} else {
			r.markUp()
		}
	}
	return r.fallback.Delete(ctx, bookingID)
}

package worker

import (
	"context"
	"errors"
	"time"

	"courtslot/internal/clock"
	"courtslot/internal/logging"
	"courtslot/internal/models"

	"github.com/rs/zerolog"
)

// Purger drops recovery records whose hold has passed.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Expirer drops idle in-memory state.
type Expirer interface {
	Expire() int
}

// Sweeper periodically purges expired recovery records and idle sessions.
// After a failed run it backs off following its retry policy.
type Sweeper struct {
	purgers  []Purger
	expirers []Expirer
	interval time.Duration
	retry    RetryPolicy
	clock    clock.Clock
	logger   *zerolog.Logger
}

func NewSweeper(interval time.Duration, retry RetryPolicy, clk clock.Clock, logger *zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = models.DefaultRecoverySweep
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Sweeper{
		interval: interval,
		retry:    retry,
		clock:    clk,
		logger:   logging.Component(logger, "sweeper"),
	}
}

func (s *Sweeper) AddPurger(p Purger) {
	s.purgers = append(s.purgers, p)
}

func (s *Sweeper) AddExpirer(e Expirer) {
	s.expirers = append(s.expirers, e)
}

// Start blocks until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("sweeper started")
	defer s.logger.Info().Msg("sweeper stopped")

	failures := 0
	for {
		wait := s.interval
		if failures > 0 {
			wait = s.retry.NextDelay(failures)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := s.RunOnce(ctx); err != nil {
			failures++
			if s.retry.MaxRetries > 0 && failures > s.retry.MaxRetries {
				failures = 0
			}
			s.logger.Warn().Err(err).Int("failures", failures).Msg("sweep failed")
			continue
		}
		failures = 0
	}
}

// RunOnce runs a single sweep and returns the number of purged records.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	now := s.clock.Now()

	var total int64
	var errs []error
	for _, p := range s.purgers {
		n, err := p.PurgeExpired(ctx, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		total += n
	}
	for _, e := range s.expirers {
		e.Expire()
	}

	if total > 0 {
		s.logger.Debug().Int64("purged", total).Msg("expired recovery records removed")
	}
	return total, errors.Join(errs...)
}

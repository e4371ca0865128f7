package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"courtslot/internal/availability"
	"courtslot/internal/clock"
	"courtslot/internal/domain"
	"courtslot/internal/logging"
	"courtslot/internal/models"
	"courtslot/internal/pricing"
	"courtslot/internal/reservation"
	"courtslot/internal/resolver"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrRecordNotFound  = errors.New("recovery record not found")
	ErrRecordExpired   = errors.New("recovery record expired")
)

// BackendFactory returns a backend client acting for the caller's token.
type BackendFactory func(token string) domain.Backend

// VenueLookup resolves display data of a venue by id.
type VenueLookup func(id string) (models.Venue, bool)

type Config struct {
	Prices       pricing.Resolver
	Clock        clock.Clock
	Location     *time.Location
	TTL          time.Duration
	Availability availability.Options
	Reservation  reservation.Options
	Venues       VenueLookup
}

// OpenRequest starts a booking dialog from a seed court.
type OpenRequest struct {
	Token string
	Seed  models.Court
	Date  string
}

// Manager owns the live booking sessions.
type Manager struct {
	backends BackendFactory
	cfg      Config
	logger   *zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(backends BackendFactory, cfg Config, logger *zerolog.Logger) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.TTL <= 0 {
		cfg.TTL = models.DefaultSessionTTL
	}
	cfg.Availability.Location = cfg.Location
	return &Manager{
		backends: backends,
		cfg:      cfg,
		logger:   logging.Component(logger, "session"),
		sessions: make(map[string]*Session),
	}
}

// Open creates a session, resolves its candidate courts and, when a date is
// given, computes the first grid.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Session, Snapshot, error) {
	b := m.backends(req.Token)
	id := uuid.NewString()

	s := &Session{
		id:         id,
		resolver:   resolver.New(b, m.logger),
		aggregator: availability.New(b, m.cfg.Prices, m.cfg.Clock, m.logger, m.cfg.Availability),
		initiator:  reservation.NewInitiator(b, m.cfg.Prices, m.cfg.Clock, m.logger, m.cfg.Reservation),
		clock:      m.cfg.Clock,
		location:   m.cfg.Location,
		logger:     m.logger.With().Str("session_id", id).Logger(),
		lastUsed:   m.cfg.Clock.Now(),
	}

	if err := s.open(ctx, req.Seed, m.venueOf(req.Seed)); err != nil {
		return nil, Snapshot{}, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Info().Str("session_id", id).Str("seed_court", req.Seed.ID).Msg("booking session opened")

	if req.Date == "" {
		return s, s.Snapshot(), nil
	}
	snap, err := s.SelectDate(ctx, req.Date)
	return s, snap, err
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close drops a session.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.background.Wait()
	}
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Expire drops sessions idle for longer than the configured TTL and returns
// how many were removed.
func (m *Manager) Expire() int {
	now := m.cfg.Clock.Now()

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := now.Sub(s.lastUsed)
		busy := s.st.submitting
		s.mu.Unlock()
		if idle > m.cfg.TTL && !busy {
			delete(m.sessions, id)
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.background.Wait()
	}
	removed := len(expired)
	if removed > 0 {
		m.logger.Debug().Int("removed", removed).Msg("expired idle sessions")
	}
	return removed
}

// Recover returns the recovery record of a granted hold while the hold is
// still valid.
func (m *Manager) Recover(ctx context.Context, bookingID string) (*models.RecoveryRecord, error) {
	store := m.cfg.Reservation.Store
	if store == nil {
		return nil, ErrRecordNotFound
	}
	rec, err := store.Load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	if !rec.ValidAt(m.cfg.Clock.Now()) {
		if err := store.Delete(ctx, bookingID); err != nil {
			m.logger.Warn().Err(err).Str("booking_id", bookingID).Msg("failed to delete expired recovery record")
		}
		return nil, ErrRecordExpired
	}
	return rec, nil
}

func (m *Manager) venueOf(seed models.Court) models.Venue {
	venue := models.Venue{ID: seed.Venue.ID()}
	if embedded, ok := seed.Venue.Embedded(); ok {
		venue.Name = embedded.Name
		venue.Address = embedded.Address
	}
	if m.cfg.Venues != nil {
		if known, ok := m.cfg.Venues(venue.ID); ok {
			if venue.Name == "" {
				venue.Name = known.Name
			}
			if venue.Address == "" {
				venue.Address = known.Address
			}
		}
	}
	return venue
}

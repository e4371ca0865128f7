package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"courtslot/internal/availability"
	"courtslot/internal/clock"
	"courtslot/internal/metrics"
	"courtslot/internal/models"
	"courtslot/internal/reconcile"
	"courtslot/internal/reservation"
	"courtslot/internal/resolver"

	"github.com/rs/zerolog"
)

const backgroundRefreshTimeout = 15 * time.Second

var ErrSlotUnavailable = errors.New("slot is not available")

// Snapshot is an immutable view of a session.
type Snapshot struct {
	ID             string                `json:"id"`
	Seed           string                `json:"seedCourtId"`
	Venue          models.Venue          `json:"venue"`
	Candidates     []models.LabeledCourt `json:"candidates"`
	SelectedCourts []string              `json:"selectedCourtIds"`
	Date           string                `json:"date,omitempty"`
	Selection      []models.SlotKey      `json:"selection"`
	TotalPrice     float64               `json:"totalPrice"`
	Grid           *models.Grid          `json:"grid,omitempty"`
	Token          models.GridToken      `json:"token"`
	Phase          reservation.Phase     `json:"phase"`
	Submitting     bool                  `json:"submitting"`
	Conflict       *reconcile.View       `json:"conflict,omitempty"`
	HandOff        *models.HandOff       `json:"handOff,omitempty"`
	Warning        string                `json:"warning,omitempty"`
	LastError      string                `json:"lastError,omitempty"`
}

type state struct {
	seed       models.Court
	venue      models.Venue
	candidates []models.LabeledCourt
	courtIDs   []string
	date       string
	selection  []models.SlotKey
	grid       *models.Grid
	token      models.GridToken
	generation uint64
	phase      reservation.Phase
	submitting bool
	conflict   *reconcile.View
	handOff    *models.HandOff
	warning    string
	lastError  string
}

// Session is one booking dialog. Every mutation goes through the session
// lock; network calls run outside of it and their results are applied only
// if the grid token they were started with is still current.
type Session struct {
	id         string
	resolver   *resolver.Resolver
	aggregator *availability.Aggregator
	initiator  *reservation.Initiator
	clock      clock.Clock
	location   *time.Location
	logger     zerolog.Logger

	mu       sync.Mutex
	st       state
	lastUsed time.Time

	background sync.WaitGroup
}

func (s *Session) ID() string {
	return s.id
}

// open resolves the candidate courts and selects the seed.
func (s *Session) open(ctx context.Context, seed models.Court, venue models.Venue) error {
	res, err := s.resolver.Resolve(ctx, seed)
	if err != nil {
		return &reservation.ValidationError{Field: "court", Message: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = state{
		seed:       seed,
		venue:      venue,
		candidates: res.Courts,
		warning:    res.Warning,
		phase:      reservation.PhaseIdle,
	}
	for _, c := range res.Courts {
		if c.ID == seed.ID {
			s.st.courtIDs = []string{seed.ID}
			break
		}
	}
	if len(s.st.courtIDs) == 0 && len(res.Courts) > 0 {
		s.st.courtIDs = []string{res.Courts[0].ID}
	}
	return nil
}

// SelectCourts replaces the selected court set. The slot selection is reset
// and the grid recomputed.
func (s *Session) SelectCourts(ctx context.Context, courtIDs []string) (Snapshot, error) {
	s.mu.Lock()
	if s.st.submitting {
		s.mu.Unlock()
		return s.Snapshot(), reservation.ErrInFlight
	}
	ids, err := s.validCourtIDs(courtIDs)
	if err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}
	s.st.courtIDs = ids
	s.resetLocked()
	s.mu.Unlock()

	return s.Refresh(ctx)
}

// SelectDate changes the booking date (YYYY-MM-DD). The slot selection is
// reset and the grid recomputed.
func (s *Session) SelectDate(ctx context.Context, date string) (Snapshot, error) {
	day, err := time.ParseInLocation(models.DateLayout, date, s.location)
	if err != nil {
		return Snapshot{}, &reservation.ValidationError{Field: "date", Message: "date must be YYYY-MM-DD"}
	}
	now := s.clock.Now().In(s.location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	if day.Before(today) {
		return Snapshot{}, &reservation.ValidationError{Field: "date", Message: "date is in the past"}
	}

	s.mu.Lock()
	if s.st.submitting {
		s.mu.Unlock()
		return s.Snapshot(), reservation.ErrInFlight
	}
	s.st.date = date
	s.resetLocked()
	s.mu.Unlock()

	return s.Refresh(ctx)
}

// ToggleSlot adds a selectable slot to the selection or removes a selected one.
func (s *Session) ToggleSlot(key models.SlotKey) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	if s.st.submitting {
		return s.snapshotLocked(), reservation.ErrInFlight
	}

	for i, k := range s.st.selection {
		if k == key {
			s.st.selection = append(append([]models.SlotKey(nil), s.st.selection[:i]...), s.st.selection[i+1:]...)
			return s.snapshotLocked(), nil
		}
	}

	slot, ok := s.st.grid.Slot(key)
	if !ok || slot.Past || !slot.Selectable() {
		return s.snapshotLocked(), ErrSlotUnavailable
	}
	for _, h := range slot.Holds {
		if h.ActiveAt(s.clock.Now()) {
			return s.snapshotLocked(), ErrSlotUnavailable
		}
	}
	s.st.selection = append(s.st.selection, key)
	return s.snapshotLocked(), nil
}

// Refresh recomputes the grid for the current date and courts. A result that
// arrives after the date, courts or a newer refresh changed the token is
// discarded.
func (s *Session) Refresh(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	s.touchLocked()
	s.st.generation++
	courts := s.selectedCourtsLocked()
	s.st.token = models.NewGridToken(s.st.date, availability.SortedIDs(courts), s.st.generation)
	req := availability.Request{Date: s.st.date, Courts: courts, Token: s.st.token}
	s.mu.Unlock()

	if req.Date == "" || len(req.Courts) == 0 {
		return s.Snapshot(), nil
	}

	grid, err := s.aggregator.Compute(ctx, req)
	if err != nil {
		s.logger.Warn().Err(err).Str("date", req.Date).Msg("grid computation failed")
		return s.Snapshot(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(grid)
	return s.snapshotLocked(), nil
}

// Submit runs a reservation attempt for the current selection. Selection,
// court and date changes are rejected with ErrInFlight until it returns. On conflict
// the selection is pruned and the grid refreshed in the background; on a
// denied hold only the refresh happens.
func (s *Session) Submit(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	s.touchLocked()
	if s.st.submitting {
		s.mu.Unlock()
		return s.Snapshot(), reservation.ErrInFlight
	}
	at := reservation.Attempt{
		Owner:     s.id,
		Venue:     s.st.venue,
		Courts:    s.selectedCourtsLocked(),
		Date:      s.st.date,
		Selection: append([]models.SlotKey(nil), s.st.selection...),
	}
	startToken := s.st.token
	s.st.submitting = true
	s.st.phase = reservation.PhaseChecking
	s.st.conflict = nil
	s.st.lastError = ""
	s.mu.Unlock()

	out, err := s.initiator.Reserve(ctx, at)

	s.mu.Lock()
	s.st.submitting = false
	s.st.phase = out.Phase
	sameContext := s.st.token.Date == startToken.Date && s.st.token.Courts == startToken.Courts
	if err != nil {
		s.st.lastError = err.Error()
	}

	refresh := false
	switch out.Phase {
	case reservation.PhaseConflict:
		s.st.conflict = out.View
		if sameContext {
			s.st.selection = reconcile.Prune(s.st.selection, out.View.Conflicts)
		}
		refresh = true
	case reservation.PhaseHoldDenied:
		refresh = true
	case reservation.PhaseHandedOff:
		if sameContext {
			s.st.handOff = out.HandOff
		} else {
			s.st.phase = reservation.PhaseIdle
		}
	}
	// conflicts and denials are kept in the view and lastError
	if s.st.phase == reservation.PhaseConflict || s.st.phase == reservation.PhaseHoldDenied {
		s.st.phase = reservation.PhaseIdle
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if refresh {
		s.refreshInBackground()
	}
	return snap, err
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Courts returns the selected courts with their labels.
func (s *Session) Courts() []models.LabeledCourt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LabeledCourt
	for _, id := range s.st.courtIDs {
		for _, c := range s.st.candidates {
			if c.ID == id {
				out = append(out, c)
			}
		}
	}
	return out
}

func (s *Session) refreshInBackground() {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundRefreshTimeout)
		defer cancel()
		if _, err := s.Refresh(ctx); err != nil {
			s.logger.Debug().Err(err).Msg("background refresh failed")
		}
	}()
}

// applyLocked installs a grid if its token is still current, then prunes the
// selection against it without blocking the user.
func (s *Session) applyLocked(grid *models.Grid) {
	if grid.Token != s.st.token {
		metrics.IncGrid("stale")
		s.logger.Debug().Uint64("generation", grid.Token.Generation).Msg("discarding stale grid")
		return
	}
	s.st.grid = grid

	res := reconcile.Partition(s.st.selection, grid, s.clock.Now())
	if res.HasConflicts() {
		s.logger.Info().Int("pruned", len(res.Conflicts)).Msg("selection pruned after refresh")
		s.st.selection = reconcile.Prune(s.st.selection, res.Conflicts)
	}
}

func (s *Session) resetLocked() {
	s.touchLocked()
	s.st.selection = nil
	s.st.grid = nil
	s.st.conflict = nil
	s.st.handOff = nil
	s.st.lastError = ""
	s.st.phase = reservation.PhaseIdle
}

func (s *Session) touchLocked() {
	s.lastUsed = s.clock.Now()
}

func (s *Session) validCourtIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, &reservation.ValidationError{Field: "courts", Message: "no court selected"}
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		found := false
		for _, c := range s.st.candidates {
			if c.ID == id {
				found = true
				break
			}
		}
		if !found {
			return nil, &reservation.ValidationError{Field: "courts", Message: "court " + id + " is not a candidate"}
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

func (s *Session) selectedCourtsLocked() []models.Court {
	courts := make([]models.Court, 0, len(s.st.courtIDs))
	for _, id := range s.st.courtIDs {
		for _, c := range s.st.candidates {
			if c.ID == id {
				courts = append(courts, c.Court)
				break
			}
		}
	}
	return courts
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:             s.id,
		Seed:           s.st.seed.ID,
		Venue:          s.st.venue,
		Candidates:     append([]models.LabeledCourt(nil), s.st.candidates...),
		SelectedCourts: append([]string(nil), s.st.courtIDs...),
		Date:           s.st.date,
		Selection:      append([]models.SlotKey{}, s.st.selection...),
		Grid:           s.st.grid,
		Token:          s.st.token,
		Phase:          s.st.phase,
		Submitting:     s.st.submitting,
		Conflict:       s.st.conflict,
		HandOff:        s.st.handOff,
		Warning:        s.st.warning,
		LastError:      s.st.lastError,
	}
	for _, key := range snap.Selection {
		if slot, ok := s.st.grid.Slot(key); ok {
			snap.TotalPrice += slot.Price
		}
	}
	sort.Strings(snap.SelectedCourts)
	return snap
}

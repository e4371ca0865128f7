package reservation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"courtslot/internal/availability"
	"courtslot/internal/clock"
	"courtslot/internal/domain"
	"courtslot/internal/events"
	"courtslot/internal/logging"
	"courtslot/internal/metrics"
	"courtslot/internal/models"
	"courtslot/internal/pricing"
	"courtslot/internal/reconcile"

	"github.com/rs/zerolog"
)

// Phase is the state of one reservation attempt.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseChecking    Phase = "checking"
	PhaseConflict    Phase = "conflict"
	PhaseHolding     Phase = "holding"
	PhaseHoldGranted Phase = "hold_granted"
	PhaseHoldDenied  Phase = "hold_denied"
	PhaseHandedOff   Phase = "handed_off"
)

// Attempt is everything needed to reserve the current selection.
type Attempt struct {
	// Owner scopes the in-flight guard, usually the session id.
	Owner     string
	Venue     models.Venue
	Courts    []models.Court
	Date      string
	Selection []models.SlotKey
}

func (a Attempt) courtIDs() []string {
	ids := make([]string, len(a.Courts))
	for i, c := range a.Courts {
		ids[i] = c.ID
	}
	return ids
}

// Outcome reports where the attempt ended. Selection is the selection the
// caller should keep: pruned after a conflict, unchanged otherwise.
type Outcome struct {
	Phase     Phase
	Selection []models.SlotKey
	View      *reconcile.View
	HandOff   *models.HandOff
}

type Options struct {
	HoldDuration time.Duration
	Store        domain.RecoveryStore
	Events       domain.EventPublisher
}

// Initiator runs the last-mile check and requests the hold.
type Initiator struct {
	backend      domain.Backend
	prices       pricing.Resolver
	clock        clock.Clock
	holdDuration time.Duration
	store        domain.RecoveryStore
	events       domain.EventPublisher
	logger       *zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewInitiator(backend domain.Backend, prices pricing.Resolver, clk clock.Clock, logger *zerolog.Logger, opts Options) *Initiator {
	if clk == nil {
		clk = clock.System{}
	}
	if opts.HoldDuration <= 0 {
		opts.HoldDuration = models.HoldDuration
	}
	return &Initiator{
		backend:      backend,
		prices:       prices,
		clock:        clk,
		holdDuration: opts.HoldDuration,
		store:        opts.Store,
		events:       opts.Events,
		logger:       logging.Component(logger, "reservation"),
		inFlight:     make(map[string]bool),
	}
}

// Reserve walks one attempt through
// Idle -> Checking -> {Conflict | Holding -> {HoldGranted -> HandedOff | HoldDenied}}.
// There is no retry inside; the caller re-invokes after the user adjusts.
func (i *Initiator) Reserve(ctx context.Context, at Attempt) (*Outcome, error) {
	date, err := validate(at)
	if err != nil {
		metrics.IncReservation("invalid")
		return &Outcome{Phase: PhaseIdle, Selection: at.Selection}, err
	}

	if !i.acquire(at.Owner) {
		metrics.IncReservation("in_flight")
		return &Outcome{Phase: PhaseIdle, Selection: at.Selection}, ErrInFlight
	}
	defer i.release(at.Owner)

	log := i.logger.With().Str("owner", at.Owner).Str("venue_id", at.Venue.ID).Str("date", at.Date).Logger()
	courtIDs := at.courtIDs()

	// Checking: never trust the cached grid.
	fresh, err := availability.FetchAll(ctx, i.backend, courtIDs, at.Date)
	if err != nil {
		metrics.IncReservation("check_failed")
		log.Warn().Err(err).Msg("last-mile availability check failed")
		return &Outcome{Phase: PhaseIdle, Selection: at.Selection}, fmt.Errorf("%w: %w", ErrCheckFailed, err)
	}

	check := reconcile.CheckFresh(at.Selection, courtIDs, fresh, i.clock.Now())
	if check.HasConflicts() {
		view := reconcile.View{
			Conflicts: check.Conflicts,
			Remaining: reconcile.Prune(at.Selection, check.Conflicts),
		}
		metrics.IncReservation("conflict")
		metrics.AddConflicts(len(check.Conflicts))
		log.Info().Int("conflicts", len(check.Conflicts)).Msg("selection conflicts with server state")
		i.publish(events.EventReservationConflict, at, courtIDs, events.ReservationPayload{Conflicts: view.Keys()})
		return &Outcome{Phase: PhaseConflict, Selection: view.Remaining, View: &view}, &ConflictError{View: view}
	}

	draft := i.Draft(at, date)
	req := domain.HoldRequest{
		VenueID:   at.Venue.ID,
		CourtIDs:  courtIDs,
		Date:      at.Date,
		TimeSlots: draft.TimeSlots,
	}

	res, err := i.backend.HoldBooking(ctx, req)
	if err == nil && !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "backend refused the hold"
		}
		err = fmt.Errorf("%w: %s", ErrHoldDenied, msg)
	} else if err != nil {
		err = fmt.Errorf("%w: %w", ErrHoldDenied, err)
	}
	if err != nil {
		metrics.IncReservation("denied")
		log.Warn().Err(err).Msg("hold denied")
		i.publish(events.EventHoldDenied, at, courtIDs, events.ReservationPayload{Error: err.Error()})
		return &Outcome{Phase: PhaseHoldDenied, Selection: at.Selection}, err
	}

	now := i.clock.Now()
	holdUntil := now.Add(i.holdDuration)
	draft.BookingID = res.BookingID
	draft.HoldUntil = holdUntil

	handOff := &models.HandOff{BookingData: draft, BookingID: res.BookingID, HoldUntil: holdUntil}
	i.saveRecovery(ctx, log, models.RecoveryRecord{
		BookingData: draft,
		BookingID:   res.BookingID,
		HoldUntil:   holdUntil,
		Timestamp:   now,
	})

	metrics.IncReservation("granted")
	log.Info().Str("booking_id", res.BookingID).Time("hold_until", holdUntil).Msg("hold granted")
	i.publish(events.EventHoldGranted, at, courtIDs, events.ReservationPayload{BookingID: res.BookingID, HoldUntil: &holdUntil})

	return &Outcome{Phase: PhaseHandedOff, Selection: at.Selection, HandOff: handOff}, nil
}

// Draft builds the booking draft for the attempt with per-slot prices from
// the courts' pricing rules. Slots are ordered by start time.
func (i *Initiator) Draft(at Attempt, date time.Time) models.BookingDraft {
	dayType := models.DayTypeOf(date)

	keys := append([]models.SlotKey(nil), at.Selection...)
	sort.SliceStable(keys, func(a, b int) bool {
		sa, _, _ := keys[a].Bounds()
		sb, _, _ := keys[b].Bounds()
		ha, _ := models.ParseHour(sa)
		hb, _ := models.ParseHour(sb)
		return ha < hb
	})

	draft := models.BookingDraft{
		VenueID:       at.Venue.ID,
		CourtIDs:      at.courtIDs(),
		Date:          at.Date,
		CourtQuantity: len(at.Courts),
		Venue:         at.Venue,
	}
	for _, c := range at.Courts {
		name := c.Name
		if name == "" {
			name = c.ID
		}
		draft.CourtNames = append(draft.CourtNames, name)
	}
	for _, key := range keys {
		start, end, _ := key.Bounds()
		hour, _ := models.ParseHour(start)
		price, _ := i.prices.SlotPrice(at.Courts, hour, dayType)
		draft.TimeSlots = append(draft.TimeSlots, models.DraftSlot{Start: start, End: end, Price: price})
		draft.TotalPrice += price
	}
	return draft
}

func (i *Initiator) saveRecovery(ctx context.Context, log zerolog.Logger, rec models.RecoveryRecord) {
	if i.store == nil || rec.BookingID == "" {
		return
	}
	if err := i.store.Save(ctx, rec); err != nil {
		log.Error().Err(err).Str("booking_id", rec.BookingID).Msg("failed to persist recovery record")
	}
}

func (i *Initiator) publish(eventType string, at Attempt, courtIDs []string, payload events.ReservationPayload) {
	if i.events == nil {
		return
	}
	payload.SessionID = at.Owner
	payload.VenueID = at.Venue.ID
	payload.CourtIDs = courtIDs
	payload.Date = at.Date
	payload.Slots = at.Selection
	if err := i.events.PublishJSON(eventType, payload); err != nil {
		i.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

func (i *Initiator) acquire(owner string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.inFlight[owner] {
		return false
	}
	i.inFlight[owner] = true
	return true
}

func (i *Initiator) release(owner string) {
	i.mu.Lock()
	delete(i.inFlight, owner)
	i.mu.Unlock()
}

func validate(at Attempt) (time.Time, error) {
	if strings.TrimSpace(at.Date) == "" {
		return time.Time{}, &ValidationError{Field: "date", Message: "no date selected"}
	}
	date, err := time.Parse(models.DateLayout, at.Date)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Message: "date must be YYYY-MM-DD"}
	}
	if len(at.Courts) == 0 {
		return time.Time{}, &ValidationError{Field: "courts", Message: "no court selected"}
	}
	if len(at.Selection) == 0 {
		return time.Time{}, &ValidationError{Field: "slots", Message: "no time slot selected"}
	}
	for _, key := range at.Selection {
		if _, _, err := key.Bounds(); err != nil {
			return time.Time{}, &ValidationError{Field: "slots", Message: err.Error()}
		}
	}
	if at.Venue.ID == "" {
		return time.Time{}, &ValidationError{Field: "venue", Message: "venue is unknown"}
	}
	return date, nil
}

package availability

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"courtslot/internal/clock"
	"courtslot/internal/config"
	"courtslot/internal/domain"
	"courtslot/internal/events"
	"courtslot/internal/logging"
	"courtslot/internal/metrics"
	"courtslot/internal/models"
	"courtslot/internal/pricing"

	"github.com/rs/zerolog"
)

const (
	simulateWeekdayRatio = 0.7
	simulateWeekendRatio = 0.4
)

var ErrNoCourts = errors.New("no courts selected")

// Options tune how the aggregator behaves when live data is missing.
type Options struct {
	// DegradedMode is config.DegradedUnknown or config.DegradedSimulate.
	DegradedMode string
	SimulateSeed int64
	Location     *time.Location
	Events       domain.EventPublisher
}

// Request asks for the grid of Courts on Date (YYYY-MM-DD).
type Request struct {
	Date   string
	Courts []models.Court
	Token  models.GridToken
}

// Aggregator computes unified slot grids across the selected courts.
type Aggregator struct {
	source   domain.AvailabilitySource
	prices   pricing.Resolver
	clock    clock.Clock
	location *time.Location
	mode     string
	events   domain.EventPublisher
	logger   *zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(source domain.AvailabilitySource, prices pricing.Resolver, clk clock.Clock, logger *zerolog.Logger, opts Options) *Aggregator {
	if clk == nil {
		clk = clock.System{}
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	mode := opts.DegradedMode
	if mode == "" {
		mode = config.DegradedUnknown
	}
	return &Aggregator{
		source:   source,
		prices:   prices,
		clock:    clk,
		location: loc,
		mode:     mode,
		events:   opts.Events,
		logger:   logging.Component(logger, "availability"),
		rng:      rand.New(rand.NewSource(opts.SimulateSeed)),
	}
}

// Compute re-derives the grid from scratch. Backend failures never surface
// here: they produce a degraded grid instead. An error is returned only for
// an invalid request or a cancelled context.
func (a *Aggregator) Compute(ctx context.Context, req Request) (*models.Grid, error) {
	if len(req.Courts) == 0 {
		return nil, ErrNoCourts
	}
	date, err := time.ParseInLocation(models.DateLayout, req.Date, a.location)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", req.Date, err)
	}

	now := a.clock.Now()
	grid := &models.Grid{
		Date:       req.Date,
		CourtIDs:   SortedIDs(req.Courts),
		Token:      req.Token,
		Slots:      []models.TimeSlot{},
		ComputedAt: now,
	}

	start, end, ok := OperatingRange(req.Courts, int(date.Weekday()))
	if !ok {
		grid.Closed = true
		metrics.IncGrid("closed")
		return grid, nil
	}
	if start >= end {
		metrics.IncGrid("empty")
		return grid, nil
	}

	courtIDs := make([]string, len(req.Courts))
	for i, c := range req.Courts {
		courtIDs[i] = c.ID
	}
	live, fetchErr := fetchAll(ctx, a.source, courtIDs, req.Date)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if fetchErr != nil {
		grid.Degraded = true
		a.logger.Warn().Err(fetchErr).Str("date", req.Date).Strs("courts", grid.CourtIDs).
			Str("mode", a.mode).Msg("live availability unavailable, building degraded grid")
		if a.events != nil {
			_ = a.events.PublishJSON(events.EventGridDegraded, events.GridPayload{
				Date:     req.Date,
				CourtIDs: grid.CourtIDs,
				Reason:   fetchErr.Error(),
			})
		}
	}

	dayType := models.DayTypeOf(date)
	today := now.In(a.location).Format(models.DateLayout) == req.Date
	currentHour := now.In(a.location).Hour()

	for hour := start; hour < end; hour++ {
		slot := models.TimeSlot{
			Start: models.FormatHour(hour),
			End:   models.FormatHour(hour + 1),
		}
		slot.Key = models.NewSlotKey(slot.Start, slot.End)
		slot.Price, slot.CourtPrices = a.prices.SlotPrice(req.Courts, hour, dayType)
		if len(req.Courts) == 1 {
			slot.CourtPrices = nil
		}

		blocked := false
		for i, c := range req.Courts {
			avail := live[i]
			if avail == nil {
				continue
			}
			if s, found := avail.Slot(slot.Start, slot.End); found && !s.IsAvailable {
				blocked = true
			}
			holds := avail.ActiveHolds(c.ID, slot.Start, slot.End, now)
			if len(holds) > 0 {
				blocked = true
				slot.Holds = append(slot.Holds, holds...)
			}
		}

		switch {
		case today && hour <= currentHour:
			slot.Past = true
			slot.State = models.SlotUnavailable
		case blocked:
			slot.State = models.SlotUnavailable
		case grid.Degraded:
			slot.State = a.degradedState(dayType)
		default:
			slot.State = models.SlotAvailable
		}
		grid.Slots = append(grid.Slots, slot)
	}

	if grid.Degraded {
		metrics.IncGrid("degraded")
	} else {
		metrics.IncGrid("ok")
	}
	return grid, nil
}

// FetchAll loads live availability of every court concurrently and waits for
// all of them. Successful results are keyed by court id; the error joins every
// failed call.
func FetchAll(ctx context.Context, source domain.AvailabilitySource, courtIDs []string, date string) (map[string]*models.CourtAvailability, error) {
	results, err := fetchAll(ctx, source, courtIDs, date)
	out := make(map[string]*models.CourtAvailability, len(courtIDs))
	for i, id := range courtIDs {
		if results[i] != nil {
			out[id] = results[i]
		}
	}
	return out, err
}

func fetchAll(ctx context.Context, source domain.AvailabilitySource, courtIDs []string, date string) ([]*models.CourtAvailability, error) {
	results := make([]*models.CourtAvailability, len(courtIDs))
	errs := make([]error, len(courtIDs))

	var wg sync.WaitGroup
	for i, id := range courtIDs {
		wg.Add(1)
		go func(i int, courtID string) {
			defer wg.Done()
			avail, err := source.GetCourtAvailability(ctx, courtID, date)
			if err != nil {
				errs[i] = fmt.Errorf("court %s: %w", courtID, err)
				return
			}
			if avail == nil {
				avail = &models.CourtAvailability{}
			}
			results[i] = avail
		}(i, id)
	}
	wg.Wait()

	return results, errors.Join(errs...)
}

func (a *Aggregator) degradedState(dayType models.DayType) models.SlotState {
	if a.mode != config.DegradedSimulate {
		return models.SlotUnknown
	}
	ratio := simulateWeekdayRatio
	if dayType == models.DayTypeWeekend {
		ratio = simulateWeekendRatio
	}

	a.rngMu.Lock()
	roll := a.rng.Float64()
	a.rngMu.Unlock()

	if roll < ratio {
		return models.SlotAvailable
	}
	return models.SlotUnavailable
}

// OperatingRange applies the all-or-nothing rule: ok is false when any court
// is closed on the weekday. Otherwise it returns the intersection of the
// courts' operating windows, which may be empty (start >= end).
func OperatingRange(courts []models.Court, dayOfWeek int) (start, end int, ok bool) {
	if len(courts) == 0 {
		return 0, 0, false
	}
	for i, c := range courts {
		s, e, open := c.OpenWindow(dayOfWeek)
		if !open {
			return 0, 0, false
		}
		if i == 0 || s > start {
			start = s
		}
		if i == 0 || e < end {
			end = e
		}
	}
	return start, end, true
}

// SortedIDs returns the court ids in ascending order.
func SortedIDs(courts []models.Court) []string {
	ids := make([]string, len(courts))
	for i, c := range courts {
		ids[i] = c.ID
	}
	sort.Strings(ids)
	return ids
}

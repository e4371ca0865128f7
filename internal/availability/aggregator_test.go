package availability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"courtslot/internal/clock"
	"courtslot/internal/config"
	"courtslot/internal/events"
	"courtslot/internal/models"
	"courtslot/internal/pricing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	monday   = "2026-10-19"
	saturday = "2026-10-17"
)

type fakeSource struct {
	data  map[string]*models.CourtAvailability
	fail  map[string]error
	calls int32
}

func (f *fakeSource) GetCourtAvailability(_ context.Context, courtID, _ string) (*models.CourtAvailability, error) {
	atomic.AddInt32(&f.calls, 1)
	if err := f.fail[courtID]; err != nil {
		return nil, err
	}
	return f.data[courtID], nil
}

func openCourt(id string, start, end string, days ...int) models.Court {
	c := models.Court{ID: id, Name: "Court " + id, Venue: models.VenueID("v1"), SportType: "football", IsActive: true}
	for _, d := range days {
		c.DefaultAvailability = append(c.DefaultAvailability, models.DayAvailability{
			DayOfWeek: d,
			TimeSlots: []models.Window{{Start: start, End: end, IsAvailable: true}},
		})
	}
	return c
}

func newAggregator(src *fakeSource, now time.Time, opts Options) *Aggregator {
	opts.Location = time.UTC
	return New(src, pricing.NewResolver(0, 0), clock.NewFixed(now), nil, opts)
}

var notToday = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func TestComputeClosedCourtEmptiesGrid(t *testing.T) {
	a := openCourt("a", "06:00", "22:00", 1)
	b := openCourt("b", "06:00", "22:00", 2)
	src := &fakeSource{}

	grid, err := newAggregator(src, notToday, Options{}).Compute(context.Background(), Request{Date: monday, Courts: []models.Court{a, b}})
	require.NoError(t, err)
	assert.True(t, grid.Closed)
	assert.Empty(t, grid.Slots)
	assert.Equal(t, int32(0), atomic.LoadInt32(&src.calls))
}

func TestComputeClosedWindowCountsAsClosed(t *testing.T) {
	a := openCourt("a", "06:00", "22:00", 1)
	b := openCourt("b", "06:00", "22:00", 1)
	b.DefaultAvailability[0].TimeSlots[0].IsAvailable = false

	grid, err := newAggregator(&fakeSource{}, notToday, Options{}).Compute(context.Background(), Request{Date: monday, Courts: []models.Court{a, b}})
	require.NoError(t, err)
	assert.True(t, grid.Closed)
	assert.Empty(t, grid.Slots)
}

func TestComputeIntersection(t *testing.T) {
	a := openCourt("a", "06:00", "22:00", 1)
	b := openCourt("b", "08:00", "20:00", 1)

	grid, err := newAggregator(&fakeSource{}, notToday, Options{}).Compute(context.Background(), Request{Date: monday, Courts: []models.Court{a, b}})
	require.NoError(t, err)
	require.Len(t, grid.Slots, 12)
	assert.Equal(t, models.SlotKey("08:00-09:00"), grid.Slots[0].Key)
	assert.Equal(t, models.SlotKey("19:00-20:00"), grid.Slots[11].Key)
	assert.False(t, grid.Closed)
}

func TestComputeDisjointWindowsEmpty(t *testing.T) {
	a := openCourt("a", "06:00", "10:00", 1)
	b := openCourt("b", "12:00", "20:00", 1)

	grid, err := newAggregator(&fakeSource{}, notToday, Options{}).Compute(context.Background(), Request{Date: monday, Courts: []models.Court{a, b}})
	require.NoError(t, err)
	assert.Empty(t, grid.Slots)
	assert.False(t, grid.Closed)
}

func TestComputeSummedPrices(t *testing.T) {
	x := openCourt("x", "06:00", "22:00", 1)
	x.Pricing = []models.PricingRule{{
		TimeSlot:     models.PricingWindow{Start: "06:00", End: "22:00"},
		DayType:      models.DayTypeWeekday,
		PricePerHour: 150000,
		IsActive:     true,
	}}
	y := openCourt("y", "06:00", "22:00", 1)

	grid, err := newAggregator(&fakeSource{}, notToday, Options{}).Compute(context.Background(), Request{Date: monday, Courts: []models.Court{x, y}})
	require.NoError(t, err)
	require.Len(t, grid.Slots, 16)
	for _, s := range grid.Slots {
		assert.Equal(t, float64(250000), s.Price)
		assert.Equal(t, float64(150000), s.CourtPrices["x"])
		assert.Equal(t, float64(100000), s.CourtPrices["y"])
		assert.Equal(t, models.SlotAvailable, s.State)
	}
	assert.Equal(t, []string{"x", "y"}, grid.CourtIDs)
}

func TestComputeFallbackPrices(t *testing.T) {
	weekday := openCourt("a", "06:00", "08:00", 1)
	weekend := openCourt("a", "06:00", "08:00", 6)
	agg := newAggregator(&fakeSource{}, notToday, Options{})

	grid, err := agg.Compute(context.Background(), Request{Date: monday, Courts: []models.Court{weekday}})
	require.NoError(t, err)
	require.Len(t, grid.Slots, 2)
	for _, s := range grid.Slots {
		assert.Equal(t, float64(100000), s.Price)
		assert.Nil(t, s.CourtPrices)
	}

	grid, err = agg.Compute(context.Background(), Request{Date: saturday, Courts: []models.Court{weekend}})
	require.NoError(t, err)
	require.Len(t, grid.Slots, 2)
	for _, s := range grid.Slots {
		assert.Equal(t, float64(400000), s.Price)
	}
}

func TestComputePastSlotsToday(t *testing.T) {
	now := time.Date(2026, 10, 19, 14, 30, 0, 0, time.UTC)
	a := openCourt("a", "06:00", "22:00", 1)
	src := &fakeSource{data: map[string]*models.CourtAvailability{
		"a": {TimeSlots: []models.AvailableSlot{{Start: "14:00", End: "15:00", IsAvailable: true}}},
	}}

	grid, err := newAggregator(src, now, Options{}).Compute(context.Background(), Request{Date: monday, Courts: []models.Court{a}})
	require.NoError(t, err)
	for _, s := range grid.Slots {
		hour, _ := models.ParseHour(s.Start)
		if hour <= 14 {
			assert.Equal(t, models.SlotUnavailable, s.State, s.Key)
			assert.True(t, s.Past, s.Key)
		} else {
			assert.Equal(t, models.SlotAvailable, s.State, s.Key)
			assert.False(t, s.Past, s.Key)
		}
	}
}

func TestComputeHolds(t *testing.T) {
	a := openCourt("a", "17:00", "21:00", 1)
	b := openCourt("b", "17:00", "21:00", 1)
	src := &fakeSource{data: map[string]*models.CourtAvailability{
		"a": {
			TimeSlots: []models.AvailableSlot{{Start: "18:00", End: "19:00", IsAvailable: true}},
			HeldSlots: []models.HeldSlot{{Start: "19:00", End: "20:00", HoldUntil: notToday.Add(-time.Minute), BookingID: "old"}},
		},
		"b": {
			TimeSlots: []models.AvailableSlot{
				{Start: "18:00", End: "19:00", IsAvailable: true},
				{Start: "20:00", End: "21:00", IsAvailable: false},
			},
			HeldSlots: []models.HeldSlot{{Start: "18:00", End: "19:00", HoldUntil: notToday.Add(3 * time.Minute), BookingID: "b123"}},
		},
	}}

	grid, err := newAggregator(src, notToday, Options{}).Compute(context.Background(), Request{Date: monday, Courts: []models.Court{a, b}})
	require.NoError(t, err)
	require.Len(t, grid.Slots, 4)

	held, _ := grid.Slot("18:00-19:00")
	assert.Equal(t, models.SlotUnavailable, held.State)
	require.Len(t, held.Holds, 1)
	assert.Equal(t, "b", held.Holds[0].CourtID)
	assert.Equal(t, "b123", held.Holds[0].BookingID)

	expired, _ := grid.Slot("19:00-20:00")
	assert.Equal(t, models.SlotAvailable, expired.State)
	assert.Empty(t, expired.Holds)

	booked, _ := grid.Slot("20:00-21:00")
	assert.Equal(t, models.SlotUnavailable, booked.State)

	free, _ := grid.Slot("17:00-18:00")
	assert.Equal(t, models.SlotAvailable, free.State)
}

func TestComputeDegradedUnknown(t *testing.T) {
	a := openCourt("a", "17:00", "20:00", 1)
	b := openCourt("b", "17:00", "20:00", 1)
	src := &fakeSource{
		data: map[string]*models.CourtAvailability{
			"a": {HeldSlots: []models.HeldSlot{{Start: "17:00", End: "18:00", HoldUntil: notToday.Add(time.Minute)}}},
		},
		fail: map[string]error{"b": errors.New("timeout")},
	}

	bus := events.NewEventBus()
	var degraded int32
	bus.Subscribe(events.EventGridDegraded, func(*events.Event) error {
		atomic.AddInt32(&degraded, 1)
		return nil
	})

	grid, err := newAggregator(src, notToday, Options{Events: bus}).Compute(context.Background(), Request{Date: monday, Courts: []models.Court{a, b}})
	require.NoError(t, err)
	assert.True(t, grid.Degraded)
	require.Len(t, grid.Slots, 3)
	assert.Equal(t, models.SlotUnavailable, grid.Slots[0].State)
	assert.Equal(t, models.SlotUnknown, grid.Slots[1].State)
	assert.Equal(t, models.SlotUnknown, grid.Slots[2].State)
	assert.True(t, grid.Slots[1].Selectable())
	assert.Equal(t, int32(1), atomic.LoadInt32(&degraded))
}

func TestComputeDegradedSimulateIsSeeded(t *testing.T) {
	a := openCourt("a", "00:00", "24:00", 1)
	src := &fakeSource{fail: map[string]error{"a": errors.New("down")}}
	opts := Options{DegradedMode: config.DegradedSimulate, SimulateSeed: 42}

	first, err := newAggregator(src, notToday, opts).Compute(context.Background(), Request{Date: monday, Courts: []models.Court{a}})
	require.NoError(t, err)
	second, err := newAggregator(src, notToday, opts).Compute(context.Background(), Request{Date: monday, Courts: []models.Court{a}})
	require.NoError(t, err)

	require.Len(t, first.Slots, 24)
	for i := range first.Slots {
		assert.NotEqual(t, models.SlotUnknown, first.Slots[i].State)
		assert.Equal(t, first.Slots[i].State, second.Slots[i].State)
	}
}

func TestComputeDegradedNeverOpensClosedCourt(t *testing.T) {
	a := openCourt("a", "06:00", "22:00", 2)
	src := &fakeSource{fail: map[string]error{"a": errors.New("down")}}

	grid, err := newAggregator(src, notToday, Options{DegradedMode: config.DegradedSimulate}).Compute(context.Background(), Request{Date: monday, Courts: []models.Court{a}})
	require.NoError(t, err)
	assert.True(t, grid.Closed)
	assert.Empty(t, grid.Slots)
}

func TestComputeInvalidRequest(t *testing.T) {
	agg := newAggregator(&fakeSource{}, notToday, Options{})

	_, err := agg.Compute(context.Background(), Request{Date: monday})
	assert.ErrorIs(t, err, ErrNoCourts)

	_, err = agg.Compute(context.Background(), Request{Date: "19/10/2026", Courts: []models.Court{openCourt("a", "06:00", "22:00", 1)}})
	assert.Error(t, err)
}

func TestComputeKeepsToken(t *testing.T) {
	token := models.NewGridToken(monday, []string{"a"}, 7)
	grid, err := newAggregator(&fakeSource{}, notToday, Options{}).Compute(context.Background(), Request{
		Date:   monday,
		Courts: []models.Court{openCourt("a", "06:00", "08:00", 1)},
		Token:  token,
	})
	require.NoError(t, err)
	assert.Equal(t, token, grid.Token)
}

func TestFetchKeyedByCourt(t *testing.T) {
	src := &fakeSource{
		data: map[string]*models.CourtAvailability{"a": {}},
		fail: map[string]error{"b": errors.New("down")},
	}
	live, err := FetchAll(context.Background(), src, []string{"a", "b"}, monday)
	assert.Error(t, err)
	assert.Contains(t, live, "a")
	assert.NotContains(t, live, "b")
}

func TestOperatingRange(t *testing.T) {
	start, end, ok := OperatingRange([]models.Court{openCourt("a", "06:00", "22:00", 1)}, 1)
	assert.True(t, ok)
	assert.Equal(t, 6, start)
	assert.Equal(t, 22, end)

	_, _, ok = OperatingRange(nil, 1)
	assert.False(t, ok)
}

package reservation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"courtslot/internal/backend"
	"courtslot/internal/clock"
	"courtslot/internal/domain"
	"courtslot/internal/events"
	"courtslot/internal/models"
	"courtslot/internal/pricing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) GetCourtsByVenue(ctx context.Context, venueID string) ([]models.Court, error) {
	args := m.Called(ctx, venueID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Court), args.Error(1)
}

func (m *mockBackend) GetCourtsBySport(ctx context.Context, sportType, venueID string) ([]models.Court, error) {
	args := m.Called(ctx, sportType, venueID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Court), args.Error(1)
}

func (m *mockBackend) GetCourtAvailability(ctx context.Context, courtID, date string) (*models.CourtAvailability, error) {
	args := m.Called(ctx, courtID, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CourtAvailability), args.Error(1)
}

func (m *mockBackend) HoldBooking(ctx context.Context, req domain.HoldRequest) (*domain.HoldResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.HoldResult), args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Save(ctx context.Context, rec models.RecoveryRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockStore) Load(ctx context.Context, bookingID string) (*models.RecoveryRecord, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RecoveryRecord), args.Error(1)
}

func (m *mockStore) Delete(ctx context.Context, bookingID string) error {
	return m.Called(ctx, bookingID).Error(0)
}

const monday = "2026-10-19"

var now = time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC)

func footballCourt(id string, price float64) models.Court {
	c := models.Court{ID: id, Name: "Court " + id, Venue: models.VenueID("v1"), SportType: "football", IsActive: true}
	if price > 0 {
		c.Pricing = []models.PricingRule{{
			TimeSlot:     models.PricingWindow{Start: "06:00", End: "22:00"},
			DayType:      models.DayTypeWeekday,
			PricePerHour: price,
			IsActive:     true,
		}}
	}
	return c
}

func scenarioAttempt() Attempt {
	return Attempt{
		Owner:     "s1",
		Venue:     models.Venue{ID: "v1", Name: "Venue One"},
		Courts:    []models.Court{footballCourt("x", 150000), footballCourt("y", 0)},
		Date:      monday,
		Selection: []models.SlotKey{"19:00-20:00", "18:00-19:00"},
	}
}

func newInitiator(b domain.Backend, store domain.RecoveryStore, bus *events.EventBus) *Initiator {
	return NewInitiator(b, pricing.NewResolver(0, 0), clock.NewFixed(now), nil, Options{Store: store, Events: bus})
}

func TestReserveGrantsHold(t *testing.T) {
	b := new(mockBackend)
	b.On("GetCourtAvailability", mock.Anything, "x", monday).Return(&models.CourtAvailability{}, nil)
	b.On("GetCourtAvailability", mock.Anything, "y", monday).Return(&models.CourtAvailability{}, nil)

	var sent domain.HoldRequest
	b.On("HoldBooking", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(1).(domain.HoldRequest)
	}).Return(&domain.HoldResult{Success: true, BookingID: "bk1"}, nil)

	store := new(mockStore)
	store.On("Save", mock.Anything, mock.MatchedBy(func(rec models.RecoveryRecord) bool {
		return rec.BookingID == "bk1" && rec.HoldUntil.Equal(now.Add(5*time.Minute)) && rec.Timestamp.Equal(now)
	})).Return(nil)

	bus := events.NewEventBus()
	var granted int
	bus.Subscribe(events.EventHoldGranted, func(*events.Event) error {
		granted++
		return nil
	})

	out, err := newInitiator(b, store, bus).Reserve(context.Background(), scenarioAttempt())
	require.NoError(t, err)
	assert.Equal(t, PhaseHandedOff, out.Phase)

	assert.Equal(t, "v1", sent.VenueID)
	assert.Equal(t, []string{"x", "y"}, sent.CourtIDs)
	assert.Equal(t, monday, sent.Date)
	assert.Equal(t, []models.DraftSlot{
		{Start: "18:00", End: "19:00", Price: 250000},
		{Start: "19:00", End: "20:00", Price: 250000},
	}, sent.TimeSlots)

	require.NotNil(t, out.HandOff)
	assert.Equal(t, "bk1", out.HandOff.BookingID)
	assert.True(t, out.HandOff.HoldUntil.Equal(now.Add(5*time.Minute)))
	assert.Equal(t, float64(500000), out.HandOff.BookingData.TotalPrice)
	assert.Equal(t, 2, out.HandOff.BookingData.CourtQuantity)
	assert.Equal(t, []string{"Court x", "Court y"}, out.HandOff.BookingData.CourtNames)
	assert.Equal(t, "Venue One", out.HandOff.BookingData.Venue.Name)
	assert.Equal(t, 1, granted)

	store.AssertExpectations(t)
}

func TestReserveConflictPrunesSelection(t *testing.T) {
	b := new(mockBackend)
	b.On("GetCourtAvailability", mock.Anything, "x", monday).Return(&models.CourtAvailability{}, nil)
	b.On("GetCourtAvailability", mock.Anything, "y", monday).Return(&models.CourtAvailability{
		HeldSlots: []models.HeldSlot{{Start: "18:00", End: "19:00", HoldUntil: now.Add(3 * time.Minute), BookingID: "b123"}},
	}, nil)

	bus := events.NewEventBus()
	var conflicts int
	bus.Subscribe(events.EventReservationConflict, func(*events.Event) error {
		conflicts++
		return nil
	})

	at := scenarioAttempt()
	at.Selection = []models.SlotKey{"18:00-19:00", "19:00-20:00"}
	out, err := newInitiator(b, nil, bus).Reserve(context.Background(), at)

	var conflictErr *ConflictError
	require.True(t, errors.As(err, &conflictErr))
	assert.True(t, IsConflict(err))
	assert.Equal(t, PhaseConflict, out.Phase)
	assert.Equal(t, []models.SlotKey{"19:00-20:00"}, out.Selection)

	require.Len(t, conflictErr.View.Conflicts, 1)
	c := conflictErr.View.Conflicts[0]
	assert.Equal(t, models.SlotKey("18:00-19:00"), c.Key)
	assert.Equal(t, []string{"y"}, c.CourtIDs())
	require.Len(t, c.Holds, 1)
	assert.Equal(t, "b123", c.Holds[0].BookingID)
	assert.True(t, c.Holds[0].HoldUntil.Equal(now.Add(3*time.Minute)))
	assert.Equal(t, []models.SlotKey{"19:00-20:00"}, conflictErr.View.Remaining)
	assert.Equal(t, 1, conflicts)

	b.AssertNotCalled(t, "HoldBooking", mock.Anything, mock.Anything)
}

func TestReserveHoldDenied(t *testing.T) {
	b := new(mockBackend)
	b.On("GetCourtAvailability", mock.Anything, mock.Anything, monday).Return(&models.CourtAvailability{}, nil)
	b.On("HoldBooking", mock.Anything, mock.Anything).Return(&domain.HoldResult{Success: false, Message: "taken"}, nil)
	store := new(mockStore)

	out, err := newInitiator(b, store, nil).Reserve(context.Background(), scenarioAttempt())
	assert.ErrorIs(t, err, ErrHoldDenied)
	assert.Contains(t, err.Error(), "taken")
	assert.Equal(t, PhaseHoldDenied, out.Phase)
	assert.Nil(t, out.HandOff)
	assert.Len(t, out.Selection, 2)
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestReserveHoldTransportError(t *testing.T) {
	transport := &backend.StatusError{Code: http.StatusServiceUnavailable}
	b := new(mockBackend)
	b.On("GetCourtAvailability", mock.Anything, mock.Anything, monday).Return(&models.CourtAvailability{}, nil)
	b.On("HoldBooking", mock.Anything, mock.Anything).Return(nil, transport)

	_, err := newInitiator(b, nil, nil).Reserve(context.Background(), scenarioAttempt())
	assert.ErrorIs(t, err, ErrHoldDenied)
	var statusErr *backend.StatusError
	assert.True(t, errors.As(err, &statusErr))
}

func TestReserveCheckFailureAborts(t *testing.T) {
	b := new(mockBackend)
	b.On("GetCourtAvailability", mock.Anything, "x", monday).Return(&models.CourtAvailability{}, nil)
	b.On("GetCourtAvailability", mock.Anything, "y", monday).Return(nil, errors.New("timeout"))

	out, err := newInitiator(b, nil, nil).Reserve(context.Background(), scenarioAttempt())
	assert.ErrorIs(t, err, ErrCheckFailed)
	assert.Equal(t, PhaseIdle, out.Phase)
	b.AssertNotCalled(t, "HoldBooking", mock.Anything, mock.Anything)
}

func TestReserveValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *Attempt)
		field  string
	}{
		{name: "no date", mutate: func(a *Attempt) { a.Date = "" }, field: "date"},
		{name: "bad date", mutate: func(a *Attempt) { a.Date = "19-10-2026" }, field: "date"},
		{name: "no courts", mutate: func(a *Attempt) { a.Courts = nil }, field: "courts"},
		{name: "no slots", mutate: func(a *Attempt) { a.Selection = nil }, field: "slots"},
		{name: "bad slot", mutate: func(a *Attempt) { a.Selection = []models.SlotKey{"18:00"} }, field: "slots"},
		{name: "no venue", mutate: func(a *Attempt) { a.Venue = models.Venue{} }, field: "venue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := new(mockBackend)
			at := scenarioAttempt()
			tt.mutate(&at)

			_, err := newInitiator(b, nil, nil).Reserve(context.Background(), at)
			var v *ValidationError
			require.True(t, errors.As(err, &v))
			assert.Equal(t, tt.field, v.Field)
			b.AssertNotCalled(t, "GetCourtAvailability", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestReserveRejectsConcurrentSubmit(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	b := new(mockBackend)
	b.On("GetCourtAvailability", mock.Anything, mock.Anything, monday).Return(&models.CourtAvailability{}, nil)
	b.On("HoldBooking", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(&domain.HoldResult{Success: true, BookingID: "bk1"}, nil).Once()

	initiator := newInitiator(b, nil, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = initiator.Reserve(context.Background(), scenarioAttempt())
	}()

	<-started
	_, err := initiator.Reserve(context.Background(), scenarioAttempt())
	assert.ErrorIs(t, err, ErrInFlight)

	close(release)
	wg.Wait()
	assert.NoError(t, firstErr)
	b.AssertNumberOfCalls(t, "HoldBooking", 1)
}

func TestReserveEmptyHoldResponseIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"timeSlots":[],"heldSlots":[]}`))
	}))
	defer srv.Close()

	client := backend.NewClient(srv.URL, "", "", time.Second, nil)
	out, err := newInitiator(client, nil, nil).Reserve(context.Background(), scenarioAttempt())
	require.NoError(t, err)
	assert.Equal(t, PhaseHandedOff, out.Phase)
	assert.True(t, out.HandOff.HoldUntil.Equal(now.Add(5*time.Minute)))
}

package reconcile

import (
	"testing"
	"time"

	"courtslot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

func slot(key models.SlotKey, state models.SlotState, holds ...models.Hold) models.TimeSlot {
	start, end, _ := key.Bounds()
	return models.TimeSlot{Start: start, End: end, Key: key, State: state, Holds: holds}
}

func TestPartition(t *testing.T) {
	grid := &models.Grid{Slots: []models.TimeSlot{
		slot("17:00-18:00", models.SlotAvailable),
		slot("18:00-19:00", models.SlotUnavailable,
			models.Hold{CourtID: "x", HoldUntil: now.Add(time.Minute), BookingID: "b1"},
			models.Hold{CourtID: "y", HoldUntil: now.Add(2 * time.Minute), BookingID: "b2"},
		),
		slot("19:00-20:00", models.SlotAvailable, models.Hold{CourtID: "x", HoldUntil: now.Add(-time.Minute)}),
		slot("20:00-21:00", models.SlotUnavailable),
		slot("21:00-22:00", models.SlotUnknown),
	}}

	res := Partition([]models.SlotKey{"17:00-18:00", "18:00-19:00", "19:00-20:00", "20:00-21:00", "21:00-22:00", "22:00-23:00"}, grid, now)

	assert.Equal(t, []models.SlotKey{"17:00-18:00", "19:00-20:00", "21:00-22:00"}, res.Valid)
	require.Len(t, res.Conflicts, 3)

	assert.Equal(t, ReasonHeld, res.Conflicts[0].Reason)
	assert.Len(t, res.Conflicts[0].Holds, 2)
	assert.Equal(t, []string{"x", "y"}, res.Conflicts[0].CourtIDs())

	assert.Equal(t, models.SlotKey("20:00-21:00"), res.Conflicts[1].Key)
	assert.Equal(t, ReasonUnavailable, res.Conflicts[1].Reason)

	assert.Equal(t, ReasonMissing, res.Conflicts[2].Reason)
	assert.Equal(t, "22:00", res.Conflicts[2].Start)
}

func TestPartitionPastSlot(t *testing.T) {
	s := slot("09:00-10:00", models.SlotUnavailable)
	s.Past = true
	res := Partition([]models.SlotKey{"09:00-10:00"}, &models.Grid{Slots: []models.TimeSlot{s}}, now)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, ReasonPast, res.Conflicts[0].Reason)
}

func TestCheckFreshPrunesExactlyOne(t *testing.T) {
	selection := []models.SlotKey{"17:00-18:00", "18:00-19:00", "19:00-20:00"}
	fresh := map[string]*models.CourtAvailability{
		"x": {TimeSlots: []models.AvailableSlot{{Start: "18:00", End: "19:00", IsAvailable: true}}},
		"y": {HeldSlots: []models.HeldSlot{{Start: "18:00", End: "19:00", HoldUntil: now.Add(3 * time.Minute), BookingID: "b123"}}},
	}

	res := CheckFresh(selection, []string{"x", "y"}, fresh, now)
	require.True(t, res.HasConflicts())
	require.Len(t, res.Conflicts, 1)

	c := res.Conflicts[0]
	assert.Equal(t, models.SlotKey("18:00-19:00"), c.Key)
	assert.Equal(t, ReasonHeld, c.Reason)
	require.Len(t, c.Holds, 1)
	assert.Equal(t, "y", c.Holds[0].CourtID)
	assert.Equal(t, "b123", c.Holds[0].BookingID)
	assert.True(t, c.Holds[0].HoldUntil.Equal(now.Add(3*time.Minute)))

	pruned := Prune(selection, res.Conflicts)
	assert.Equal(t, []models.SlotKey{"17:00-18:00", "19:00-20:00"}, pruned)
	assert.Equal(t, pruned, res.Valid)
}

func TestCheckFreshUnavailableBecomesSyntheticHold(t *testing.T) {
	fresh := map[string]*models.CourtAvailability{
		"x": {TimeSlots: []models.AvailableSlot{{Start: "18:00", End: "19:00", IsAvailable: false}}},
	}

	res := CheckFresh([]models.SlotKey{"18:00-19:00"}, []string{"x"}, fresh, now)
	require.Len(t, res.Conflicts, 1)
	c := res.Conflicts[0]
	assert.Equal(t, ReasonUnavailable, c.Reason)
	require.Len(t, c.Holds, 1)
	assert.Equal(t, models.HoldReasonUnavailable, c.Holds[0].Reason)
	assert.True(t, c.Holds[0].HoldUntil.Equal(now.Add(time.Hour)))
}

func TestCheckFreshIgnoresExpiredHolds(t *testing.T) {
	fresh := map[string]*models.CourtAvailability{
		"x": {HeldSlots: []models.HeldSlot{{Start: "18:00", End: "19:00", HoldUntil: now}}},
	}
	res := CheckFresh([]models.SlotKey{"18:00-19:00"}, []string{"x"}, fresh, now)
	assert.False(t, res.HasConflicts())
	assert.Equal(t, []models.SlotKey{"18:00-19:00"}, res.Valid)
}

func TestPruneKeepsOrder(t *testing.T) {
	selection := []models.SlotKey{"c", "a", "b"}
	assert.Equal(t, []models.SlotKey{"c", "b"}, Prune(selection, []Conflict{{Key: "a"}}))
	assert.Equal(t, selection, Prune(selection, nil))
}

package models

import (
	"fmt"
	"strings"
	"time"
)

type DayType string

const (
	DayTypeWeekday DayType = "weekday"
	DayTypeWeekend DayType = "weekend"
)

// DayTypeOf classifies a date for pricing.
func DayTypeOf(date time.Time) DayType {
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return DayTypeWeekend
	default:
		return DayTypeWeekday
	}
}

// SlotKey identifies a slot inside a day, "{start}-{end}".
type SlotKey string

func NewSlotKey(start, end string) SlotKey {
	return SlotKey(start + "-" + end)
}

// Bounds splits the key back into start and end.
func (k SlotKey) Bounds() (start, end string, err error) {
	parts := strings.SplitN(string(k), "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid slot key %q", string(k))
	}
	return parts[0], parts[1], nil
}

// Hold is a transient backend lock on (court, date, start, end).
type Hold struct {
	CourtID   string    `json:"courtId"`
	Start     string    `json:"start"`
	End       string    `json:"end"`
	HoldUntil time.Time `json:"holdUntil"`
	BookingID string    `json:"bookingId,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// ActiveAt reports whether the hold still blocks the slot. Expired holds are
// treated as absent.
func (h Hold) ActiveAt(now time.Time) bool {
	return h.HoldUntil.After(now)
}

type AvailableSlot struct {
	Start       string   `json:"start"`
	End         string   `json:"end"`
	IsAvailable bool     `json:"isAvailable"`
	Price       *float64 `json:"price,omitempty"`
}

type HeldSlot struct {
	Start     string    `json:"start"`
	End       string    `json:"end"`
	HoldUntil time.Time `json:"holdUntil"`
	BookingID string    `json:"bookingId,omitempty"`
}

// Overlaps reports whether the held interval intersects [start, end).
func (h HeldSlot) Overlaps(start, end string) bool {
	hs, okS := ParseHour(h.Start)
	he, okE := ParseHour(h.End)
	s, okA := ParseHour(start)
	e, okB := ParseHour(end)
	if !okS || !okE || !okA || !okB {
		return h.Start == start && h.End == end
	}
	return hs < e && s < he
}

// CourtAvailability is the live availability of one court on one date.
type CourtAvailability struct {
	TimeSlots []AvailableSlot `json:"timeSlots"`
	HeldSlots []HeldSlot      `json:"heldSlots"`
}

// Slot looks up the availability entry for [start, end).
func (a *CourtAvailability) Slot(start, end string) (AvailableSlot, bool) {
	if a == nil {
		return AvailableSlot{}, false
	}
	for _, s := range a.TimeSlots {
		if s.Start == start && s.End == end {
			return s, true
		}
	}
	return AvailableSlot{}, false
}

// ActiveHolds returns the holds of courtID overlapping [start, end) at now.
func (a *CourtAvailability) ActiveHolds(courtID, start, end string, now time.Time) []Hold {
	if a == nil {
		return nil
	}
	var holds []Hold
	for _, h := range a.HeldSlots {
		if !h.Overlaps(start, end) {
			continue
		}
		hold := Hold{CourtID: courtID, Start: start, End: end, HoldUntil: h.HoldUntil, BookingID: h.BookingID}
		if hold.ActiveAt(now) {
			holds = append(holds, hold)
		}
	}
	return holds
}

type SlotState string

const (
	SlotAvailable   SlotState = "available"
	SlotUnavailable SlotState = "unavailable"
	// SlotUnknown marks slots of a degraded grid built without live data.
	SlotUnknown SlotState = "unknown"
)

// TimeSlot is one computed hour of the grid.
type TimeSlot struct {
	Start       string             `json:"start"`
	End         string             `json:"end"`
	Key         SlotKey            `json:"key"`
	State       SlotState          `json:"state"`
	Price       float64            `json:"price"`
	CourtPrices map[string]float64 `json:"courtPrices,omitempty"`
	Holds       []Hold             `json:"holds,omitempty"`
	Past        bool               `json:"past,omitempty"`
}

func (s TimeSlot) Available() bool {
	return s.State == SlotAvailable
}

// Selectable is true for slots a user may add to the selection.
func (s TimeSlot) Selectable() bool {
	return s.State == SlotAvailable || s.State == SlotUnknown
}

// GridToken identifies the (date, courts, generation) a grid was computed for.
type GridToken struct {
	Date       string `json:"date"`
	Courts     string `json:"courts"`
	Generation uint64 `json:"generation"`
}

func NewGridToken(date string, sortedCourtIDs []string, generation uint64) GridToken {
	return GridToken{Date: date, Courts: strings.Join(sortedCourtIDs, ","), Generation: generation}
}

// Grid is the unified slot grid for a date and a set of courts.
type Grid struct {
	Date       string     `json:"date"`
	CourtIDs   []string   `json:"courtIds"`
	Token      GridToken  `json:"token"`
	Slots      []TimeSlot `json:"slots"`
	Closed     bool       `json:"closed"`
	Degraded   bool       `json:"degraded"`
	ComputedAt time.Time  `json:"computedAt"`
}

// Slot finds a slot by key.
func (g *Grid) Slot(key SlotKey) (TimeSlot, bool) {
	if g == nil {
		return TimeSlot{}, false
	}
	for _, s := range g.Slots {
		if s.Key == key {
			return s, true
		}
	}
	return TimeSlot{}, false
}

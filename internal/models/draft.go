package models

import "time"

type DraftSlot struct {
	Start string  `json:"startTime"`
	End   string  `json:"endTime"`
	Price float64 `json:"price"`
}

// BookingDraft is produced per reservation attempt and handed to the
// booking/payment flow once the hold is granted.
type BookingDraft struct {
	VenueID       string      `json:"venueId"`
	CourtIDs      []string    `json:"courtIds"`
	CourtNames    []string    `json:"courtNames"`
	Date          string      `json:"date"`
	TimeSlots     []DraftSlot `json:"timeSlots"`
	CourtQuantity int         `json:"courtQuantity"`
	TotalPrice    float64     `json:"totalPrice"`
	Venue         Venue       `json:"venue"`
	BookingID     string      `json:"bookingId,omitempty"`
	HoldUntil     time.Time   `json:"holdUntil,omitzero"`
}

// HandOff is the navigation payload for the booking/payment collaborator.
type HandOff struct {
	BookingData BookingDraft `json:"bookingData"`
	BookingID   string       `json:"bookingId"`
	HoldUntil   time.Time    `json:"holdUntil"`
}

// RecoveryRecord lets a client resume a granted hold after a reload.
type RecoveryRecord struct {
	BookingData BookingDraft `json:"bookingData"`
	BookingID   string       `json:"bookingId"`
	HoldUntil   time.Time    `json:"holdUntil"`
	Timestamp   time.Time    `json:"timestamp"`
}

// ValidAt reports whether the hold behind the record has not passed yet.
func (r RecoveryRecord) ValidAt(now time.Time) bool {
	return r.HoldUntil.After(now)
}

// TTL is how long the record stays useful after now.
func (r RecoveryRecord) TTL(now time.Time) time.Duration {
	return r.HoldUntil.Sub(now)
}

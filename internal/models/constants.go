package models

import "time"

const (
	// DateLayout is the wire format of booking dates.
	DateLayout = "2006-01-02"

	// FallbackWeekdayPrice is the hourly price used when a court has no usable pricing rule on a weekday.
	FallbackWeekdayPrice = 100000
	// FallbackWeekendPrice is the same for Saturday and Sunday.
	FallbackWeekendPrice = 400000

	// HoldDuration mirrors the backend's own lock lifetime.
	HoldDuration = 5 * time.Minute

	// SyntheticHoldLifetime is the expiry given to slots the backend reports as unavailable,
	// so they render like real holds.
	SyntheticHoldLifetime = time.Hour

	// HoldReasonUnavailable marks a synthetic hold built from an unavailable slot.
	HoldReasonUnavailable = "unavailable"

	// RecoveryKeyPrefix prefixes stored recovery records.
	RecoveryKeyPrefix = "booking_recovery:"

	// DefaultSessionTTL is how long an idle booking session is kept.
	DefaultSessionTTL = 30 * time.Minute

	// DefaultRecoverySweep is the interval of the expired recovery record sweep.
	DefaultRecoverySweep = time.Minute

	// CourtLabelPrefix prefixes court display labels.
	CourtLabelPrefix = "Sân "
)

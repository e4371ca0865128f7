package domain

import (
	"context"

	"courtslot/internal/models"
)

// CourtDirectory looks up courts on the backend.
type CourtDirectory interface {
	GetCourtsByVenue(ctx context.Context, venueID string) ([]models.Court, error)
	GetCourtsBySport(ctx context.Context, sportType, venueID string) ([]models.Court, error)
}

// AvailabilitySource returns live availability for one court and date (YYYY-MM-DD).
type AvailabilitySource interface {
	GetCourtAvailability(ctx context.Context, courtID, date string) (*models.CourtAvailability, error)
}

// HoldRequest asks the backend to lock slots for a short time.
type HoldRequest struct {
	VenueID   string             `json:"venueId"`
	CourtIDs  []string           `json:"courtIds"`
	Date      string             `json:"date"`
	TimeSlots []models.DraftSlot `json:"timeSlots"`
}

// HoldResult is the decoded HoldBooking response.
type HoldResult struct {
	Success   bool
	BookingID string
	Message   string
}

type HoldRequester interface {
	HoldBooking(ctx context.Context, req HoldRequest) (*HoldResult, error)
}

// Backend bundles every collaborator endpoint the coordinator uses.
type Backend interface {
	CourtDirectory
	AvailabilitySource
	HoldRequester
}

// RecoveryStore persists granted holds so a client can resume after a reload.
type RecoveryStore interface {
	Save(ctx context.Context, rec models.RecoveryRecord) error
	Load(ctx context.Context, bookingID string) (*models.RecoveryRecord, error)
	Delete(ctx context.Context, bookingID string) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

package events

import (
	"encoding/json"
	"sync"
	"time"

	"courtslot/internal/models"
)

const (
	EventGridDegraded        = "grid.degraded"
	EventReservationConflict = "reservation.conflict"
	EventHoldGranted         = "reservation.hold_granted"
	EventHoldDenied          = "reservation.hold_denied"
)

// ReservationPayload is the snapshot of a reservation attempt seen by subscribers.
type ReservationPayload struct {
	SessionID string           `json:"session_id,omitempty"`
	VenueID   string           `json:"venue_id"`
	CourtIDs  []string         `json:"court_ids"`
	Date      string           `json:"date"`
	Slots     []models.SlotKey `json:"slots"`
	BookingID string           `json:"booking_id,omitempty"`
	HoldUntil *time.Time       `json:"hold_until,omitempty"`
	Conflicts []models.SlotKey `json:"conflicts,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// GridPayload describes a degraded grid computation.
type GridPayload struct {
	Date     string   `json:"date"`
	CourtIDs []string `json:"court_ids"`
	Reason   string   `json:"reason"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers the handler for every reservation and grid event.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	for _, t := range []string{EventGridDegraded, EventReservationConflict, EventHoldGranted, EventHoldDenied} {
		b.Subscribe(t, handler)
	}
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event. A nil bus drops it.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// VenueRef is how a court points at its venue. Backends return either the
// bare venue id or an embedded venue document carrying `_id` or `id`.
type VenueRef struct {
	id       string
	embedded *Venue
}

// VenueID builds a reference from a raw id.
func VenueID(id string) VenueRef {
	return VenueRef{id: id}
}

// EmbeddedVenue builds a reference from an embedded venue document.
func EmbeddedVenue(v Venue) VenueRef {
	return VenueRef{id: v.ID, embedded: &v}
}

// ID is the normalized venue identity. Every venue comparison goes through it.
func (r VenueRef) ID() string {
	return strings.TrimSpace(r.id)
}

// Embedded returns the embedded venue document, if the backend sent one.
func (r VenueRef) Embedded() (Venue, bool) {
	if r.embedded == nil {
		return Venue{}, false
	}
	return *r.embedded, true
}

// Same reports whether both references point at the same venue.
func (r VenueRef) Same(other VenueRef) bool {
	return r.ID() != "" && r.ID() == other.ID()
}

func (r *VenueRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = VenueRef{}
		return nil
	}

	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("venue ref: %w", err)
		}
		*r = VenueID(id)
		return nil
	}

	var v Venue
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("venue ref: %w", err)
	}
	*r = EmbeddedVenue(v)
	return nil
}

func (r VenueRef) MarshalJSON() ([]byte, error) {
	if r.embedded != nil {
		return json.Marshal(r.embedded)
	}
	return json.Marshal(r.id)
}

// Venue owns one or more courts.
type Venue struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address,omitempty" yaml:"address"`
}

func (v *Venue) UnmarshalJSON(data []byte) error {
	var raw struct {
		MongoID string `json:"_id"`
		ID      string `json:"id"`
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.ID = raw.MongoID
	if v.ID == "" {
		v.ID = raw.ID
	}
	v.Name = raw.Name
	v.Address = raw.Address
	return nil
}

// Window is an "HH:MM"-bounded interval within a day.
type Window struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	IsAvailable bool   `json:"isAvailable"`
}

// Hours converts the window to whole hours. ok is false for empty or
// malformed windows.
func (w Window) Hours() (start, end int, ok bool) {
	s, okS := ParseHour(w.Start)
	e, okE := ParseHour(w.End)
	if !okS || !okE || e <= s {
		return 0, 0, false
	}
	return s, e, true
}

// DayAvailability is the default opening configuration for one weekday.
type DayAvailability struct {
	DayOfWeek int      `json:"dayOfWeek"` // 0 = Sunday
	TimeSlots []Window `json:"timeSlots"`
}

type PricingWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// PricingRule prices an hour of play inside a window for one day type.
// Rules coming from the backend may be incomplete.
type PricingRule struct {
	TimeSlot     PricingWindow `json:"timeSlot"`
	DayType      DayType       `json:"dayType"`
	PricePerHour float64       `json:"pricePerHour"`
	IsActive     bool          `json:"isActive"`
}

// Contains reports whether the rule window covers [hour, hour+1).
func (p PricingRule) Contains(hour int) bool {
	s, okS := ParseHour(p.TimeSlot.Start)
	e, okE := ParseHour(p.TimeSlot.End)
	if !okS || !okE || e <= s {
		return false
	}
	return hour >= s && hour+1 <= e
}

type Court struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	Venue               VenueRef          `json:"venue"`
	SportType           string            `json:"sportType"`
	Capacity            int               `json:"capacity"`
	IsActive            bool              `json:"isActive"`
	DefaultAvailability []DayAvailability `json:"defaultAvailability"`
	Pricing             []PricingRule     `json:"pricing"`
}

func (c *Court) UnmarshalJSON(data []byte) error {
	type plain Court
	var raw struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Court(raw.plain)
	if c.ID == "" {
		c.ID = raw.MongoID
	}
	return nil
}

// Day returns the default availability configured for a weekday.
func (c Court) Day(dayOfWeek int) (DayAvailability, bool) {
	for _, d := range c.DefaultAvailability {
		if d.DayOfWeek == dayOfWeek {
			return d, true
		}
	}
	return DayAvailability{}, false
}

// OpenWindow returns the operating range of the court on a weekday: from the
// earliest open window start to the latest open window end. ok is false when
// no configured window is open.
func (c Court) OpenWindow(dayOfWeek int) (start, end int, ok bool) {
	day, found := c.Day(dayOfWeek)
	if !found {
		return 0, 0, false
	}
	for _, w := range day.TimeSlots {
		if !w.IsAvailable {
			continue
		}
		s, e, valid := w.Hours()
		if !valid {
			continue
		}
		if !ok || s < start {
			start = s
		}
		if !ok || e > end {
			end = e
		}
		ok = true
	}
	return start, end, ok
}

// LabeledCourt is a court candidate with its display label.
type LabeledCourt struct {
	Court
	Label string `json:"label"`
}

// ParseHour parses "HH:MM" (or "HH") and returns the hour. Minutes are ignored.
func ParseHour(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	h, err := strconv.Atoi(s)
	if err != nil || h < 0 || h > 24 {
		return 0, false
	}
	return h, true
}

// FormatHour renders an hour as "HH:00".
func FormatHour(h int) string {
	return fmt.Sprintf("%02d:00", h)
}

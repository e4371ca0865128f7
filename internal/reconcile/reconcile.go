package reconcile

import (
	"time"

	"courtslot/internal/models"
)

// Conflict reasons.
const (
	ReasonHeld        = "held"
	ReasonUnavailable = models.HoldReasonUnavailable
	ReasonPast        = "past"
	ReasonMissing     = "missing"
)

// Conflict is a selected slot that can no longer be booked. Holds lists every
// active hold found for it, one per contributing court.
type Conflict struct {
	Key    models.SlotKey `json:"key"`
	Start  string         `json:"start"`
	End    string         `json:"end"`
	Reason string         `json:"reason"`
	Holds  []models.Hold  `json:"holds,omitempty"`
}

// CourtIDs lists the courts involved in the conflict, in hold order.
func (c Conflict) CourtIDs() []string {
	seen := make(map[string]bool, len(c.Holds))
	var ids []string
	for _, h := range c.Holds {
		if h.CourtID == "" || seen[h.CourtID] {
			continue
		}
		seen[h.CourtID] = true
		ids = append(ids, h.CourtID)
	}
	return ids
}

// View is what the user is shown after a conflict: the conflicted slots and
// the selection that survived pruning.
type View struct {
	Conflicts []Conflict       `json:"conflicts"`
	Remaining []models.SlotKey `json:"remaining"`
}

func (v View) Keys() []models.SlotKey {
	return Keys(v.Conflicts)
}

// Result partitions a selection.
type Result struct {
	Valid     []models.SlotKey
	Conflicts []Conflict
}

func (r Result) HasConflicts() bool {
	return len(r.Conflicts) > 0
}

// Partition checks the selection against a freshly computed grid. A slot
// conflicts when it carries an active hold, is unavailable or is no longer
// part of the grid. Unknown slots of a degraded grid stay valid.
func Partition(selection []models.SlotKey, grid *models.Grid, now time.Time) Result {
	var res Result
	for _, key := range selection {
		slot, ok := grid.Slot(key)
		if !ok {
			start, end, _ := key.Bounds()
			res.Conflicts = append(res.Conflicts, Conflict{Key: key, Start: start, End: end, Reason: ReasonMissing})
			continue
		}

		var active []models.Hold
		for _, h := range slot.Holds {
			if h.ActiveAt(now) {
				active = append(active, h)
			}
		}

		switch {
		case len(active) > 0:
			res.Conflicts = append(res.Conflicts, Conflict{Key: key, Start: slot.Start, End: slot.End, Reason: ReasonHeld, Holds: active})
		case slot.Past:
			res.Conflicts = append(res.Conflicts, Conflict{Key: key, Start: slot.Start, End: slot.End, Reason: ReasonPast})
		case slot.State == models.SlotUnavailable:
			res.Conflicts = append(res.Conflicts, Conflict{Key: key, Start: slot.Start, End: slot.End, Reason: ReasonUnavailable})
		default:
			res.Valid = append(res.Valid, key)
		}
	}
	return res
}

// CheckFresh is the last-mile check against availability fetched right
// before a hold request. For every selected slot and court, an active hold
// overlapping the slot is a conflict, and a slot the backend marks
// unavailable becomes a synthetic hold expiring one hour from now.
func CheckFresh(selection []models.SlotKey, courtIDs []string, fresh map[string]*models.CourtAvailability, now time.Time) Result {
	var res Result
	for _, key := range selection {
		start, end, err := key.Bounds()
		if err != nil {
			res.Conflicts = append(res.Conflicts, Conflict{Key: key, Reason: ReasonMissing})
			continue
		}

		var holds []models.Hold
		unavailable := false
		for _, courtID := range courtIDs {
			avail := fresh[courtID]
			active := avail.ActiveHolds(courtID, start, end, now)
			if len(active) > 0 {
				holds = append(holds, active...)
				continue
			}
			if slot, ok := avail.Slot(start, end); ok && !slot.IsAvailable {
				unavailable = true
				holds = append(holds, SyntheticHold(courtID, start, end, now))
			}
		}

		if len(holds) == 0 {
			res.Valid = append(res.Valid, key)
			continue
		}
		reason := ReasonHeld
		if unavailable && !hasRealHold(holds) {
			reason = ReasonUnavailable
		}
		res.Conflicts = append(res.Conflicts, Conflict{Key: key, Start: start, End: end, Reason: reason, Holds: holds})
	}
	return res
}

// SyntheticHold represents an already booked slot as a hold so it renders
// like a real one.
func SyntheticHold(courtID, start, end string, now time.Time) models.Hold {
	return models.Hold{
		CourtID:   courtID,
		Start:     start,
		End:       end,
		HoldUntil: now.Add(models.SyntheticHoldLifetime),
		Reason:    models.HoldReasonUnavailable,
	}
}

// Prune removes the conflicted keys, keeping the order of the rest.
func Prune(selection []models.SlotKey, conflicts []Conflict) []models.SlotKey {
	drop := make(map[models.SlotKey]bool, len(conflicts))
	for _, c := range conflicts {
		drop[c.Key] = true
	}
	out := make([]models.SlotKey, 0, len(selection))
	for _, key := range selection {
		if !drop[key] {
			out = append(out, key)
		}
	}
	return out
}

// Keys returns the slot keys of the conflicts.
func Keys(conflicts []Conflict) []models.SlotKey {
	keys := make([]models.SlotKey, len(conflicts))
	for i, c := range conflicts {
		keys[i] = c.Key
	}
	return keys
}

func hasRealHold(holds []models.Hold) bool {
	for _, h := range holds {
		if h.Reason == "" {
			return true
		}
	}
	return false
}

package pricing

import "courtslot/internal/models"

// Resolver prices one hour of one court.
type Resolver struct {
	WeekdayFallback float64
	WeekendFallback float64
}

// NewResolver falls back to the package defaults for non-positive values.
func NewResolver(weekday, weekend float64) Resolver {
	if weekday <= 0 {
		weekday = models.FallbackWeekdayPrice
	}
	if weekend <= 0 {
		weekend = models.FallbackWeekendPrice
	}
	return Resolver{WeekdayFallback: weekday, WeekendFallback: weekend}
}

// Fallback is the hard-coded price for a day type.
func (r Resolver) Fallback(dayType models.DayType) float64 {
	if dayType == models.DayTypeWeekend {
		return r.WeekendFallback
	}
	return r.WeekdayFallback
}

// Price resolves the hourly price of [hour, hour+1) in order:
// exact window rule for the day type, any priced rule for the day type,
// any priced active rule, the first rule, then the fallback.
func (r Resolver) Price(court models.Court, hour int, dayType models.DayType) float64 {
	rules := court.Pricing

	for _, rule := range rules {
		if rule.IsActive && rule.DayType == dayType && rule.Contains(hour) {
			return rule.PricePerHour
		}
	}

	for _, rule := range rules {
		if rule.IsActive && rule.DayType == dayType && rule.PricePerHour > 0 {
			return rule.PricePerHour
		}
	}

	for _, rule := range rules {
		if rule.IsActive && rule.PricePerHour > 0 {
			return rule.PricePerHour
		}
	}

	// the first rule is used even if inactive or malformed, as long as it carries a price
	if len(rules) > 0 && rules[0].PricePerHour > 0 {
		return rules[0].PricePerHour
	}

	return r.Fallback(dayType)
}

// SlotPrice sums the per-court prices of an hour. With a single court the
// slot price is that court's price.
func (r Resolver) SlotPrice(courts []models.Court, hour int, dayType models.DayType) (float64, map[string]float64) {
	perCourt := make(map[string]float64, len(courts))
	var total float64
	for _, c := range courts {
		p := r.Price(c, hour, dayType)
		perCourt[c.ID] = p
		total += p
	}
	return total, perCourt
}

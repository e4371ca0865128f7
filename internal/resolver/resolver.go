package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"courtslot/internal/domain"
	"courtslot/internal/logging"
	"courtslot/internal/metrics"
	"courtslot/internal/models"

	"github.com/rs/zerolog"
)

// Source tells which lookup produced the candidate list.
type Source string

const (
	SourceVenue Source = "venue"
	SourceSport Source = "sport"
	SourceSeed  Source = "seed"
)

var ErrInvalidSeed = errors.New("seed court is missing id, venue or sport type")

// Result is the candidate list for joint selection.
type Result struct {
	Courts  []models.LabeledCourt
	Source  Source
	Warning string
}

// Resolver discovers sibling courts of a seed court.
type Resolver struct {
	directory domain.CourtDirectory
	logger    *zerolog.Logger
}

func New(directory domain.CourtDirectory, logger *zerolog.Logger) *Resolver {
	return &Resolver{
		directory: directory,
		logger:    logging.Component(logger, "resolver"),
	}
}

// Resolve returns the courts at the seed's venue offering the same sport.
// Lookup failures fall back to the sport lookup and then to the seed alone;
// they are never returned to the caller. An error is returned only when the
// seed itself cannot be used.
func (r *Resolver) Resolve(ctx context.Context, seed models.Court) (Result, error) {
	if seed.ID == "" || seed.Venue.ID() == "" || seed.SportType == "" {
		return Result{}, ErrInvalidSeed
	}

	venueID := seed.Venue.ID()
	log := r.logger.With().Str("seed_court", seed.ID).Str("venue_id", venueID).Logger()

	courts, err := r.directory.GetCourtsByVenue(ctx, venueID)
	if err == nil {
		if eligible := Eligible(seed, courts); len(eligible) > 0 {
			metrics.IncResolver(string(SourceVenue))
			return Result{Courts: Label(eligible), Source: SourceVenue}, nil
		}
		log.Warn().Msg("venue lookup returned no eligible courts")
	} else {
		log.Warn().Err(err).Msg("venue lookup failed, trying sport lookup")
	}

	courts, err = r.directory.GetCourtsBySport(ctx, seed.SportType, venueID)
	if err == nil {
		if eligible := Eligible(seed, courts); len(eligible) > 0 {
			metrics.IncResolver(string(SourceSport))
			return Result{Courts: Label(eligible), Source: SourceSport}, nil
		}
		log.Warn().Msg("sport lookup returned no eligible courts")
	} else {
		log.Warn().Err(err).Msg("sport lookup failed, using seed court only")
	}

	metrics.IncResolver(string(SourceSeed))
	return Result{
		Courts:  Label([]models.Court{seed}),
		Source:  SourceSeed,
		Warning: fmt.Sprintf("could not load other courts of this venue, only %s is available", displayName(seed)),
	}, nil
}

// Eligible keeps active courts of the seed's venue and sport. The seed is
// always part of the result when it is active itself, and courts are
// deduplicated by id.
func Eligible(seed models.Court, courts []models.Court) []models.Court {
	seen := make(map[string]bool, len(courts)+1)
	out := make([]models.Court, 0, len(courts)+1)

	for _, c := range courts {
		if c.ID == "" || seen[c.ID] {
			continue
		}
		if !c.IsActive || c.SportType != seed.SportType || !c.Venue.Same(seed.Venue) {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}

	if len(out) > 0 && seed.IsActive && !seen[seed.ID] {
		out = append(out, seed)
	}
	return out
}

// Label sorts courts by name (ties by id) and assigns "Sân A".."Sân Z",
// continuing with numbers from the 27th court on.
func Label(courts []models.Court) []models.LabeledCourt {
	sorted := append([]models.Court(nil), courts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := strings.ToLower(sorted[i].Name), strings.ToLower(sorted[j].Name)
		if a == b {
			return sorted[i].ID < sorted[j].ID
		}
		return a < b
	})

	out := make([]models.LabeledCourt, len(sorted))
	for i, c := range sorted {
		out[i] = models.LabeledCourt{Court: c, Label: LabelFor(i)}
	}
	return out
}

// LabelFor returns the display label of the court at zero-based position i.
func LabelFor(i int) string {
	if i < 26 {
		return models.CourtLabelPrefix + string(rune('A'+i))
	}
	return fmt.Sprintf("%s%d", models.CourtLabelPrefix, i+1)
}

func displayName(c models.Court) string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

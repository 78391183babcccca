// Package fixture reads, writes, and synthesizes YAML seed files holding a
// zone catalog, weight tables, and presence sightings.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/orca-absence-etl/internal/domain"
)

// Sighting is a reported presence as written in a fixture file.
type Sighting struct {
	Zone      domain.ZoneID `yaml:"zone"`
	Time      time.Time     `yaml:"time"`
	Count     int           `yaml:"count"`
	Direction string        `yaml:"direction,omitempty"`
}

// Fixture is the on-disk seed format.
type Fixture struct {
	Zones       []domain.Zone              `yaml:"zones"`
	Effort      []domain.EffortWeight      `yaml:"effort,omitempty"`
	Seasonality []domain.SeasonalityWeight `yaml:"seasonality,omitempty"`
	Sightings   []Sighting                 `yaml:"sightings"`
}

// Load reads and validates a fixture file.
func Load(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()

	fx, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return fx, nil
}

// Decode parses and validates a fixture. Unknown keys are rejected.
func Decode(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var fx Fixture
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := fx.Validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

// Write encodes the fixture as YAML.
func (f *Fixture) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// Validate checks referential integrity and value ranges.
func (f *Fixture) Validate() error {
	var errs []error
	known := make(map[domain.ZoneID]bool, len(f.Zones))
	for _, z := range f.Zones {
		if known[z.ID] {
			errs = append(errs, fmt.Errorf("zone %d listed twice", z.ID))
		}
		known[z.ID] = true
	}
	for _, z := range f.Zones {
		for _, a := range z.Adjacent {
			if !known[a] {
				errs = append(errs, fmt.Errorf("zone %d: adjacent zone %d is not defined", z.ID, a))
			}
			if a == z.ID {
				errs = append(errs, fmt.Errorf("zone %d lists itself as adjacent", z.ID))
			}
		}
	}
	for _, w := range f.Effort {
		if !known[w.Zone] || w.Hour < 0 || w.Hour > 23 {
			errs = append(errs, fmt.Errorf("effort entry zone %d hour %d out of range", w.Zone, w.Hour))
		}
	}
	for _, w := range f.Seasonality {
		if !known[w.Zone] || w.Month < 1 || w.Month > 12 {
			errs = append(errs, fmt.Errorf("seasonality entry zone %d month %d out of range", w.Zone, w.Month))
		}
	}
	for i, s := range f.Sightings {
		if !known[s.Zone] {
			errs = append(errs, fmt.Errorf("sighting %d: unknown zone %d", i, s.Zone))
		}
		if s.Time.IsZero() {
			errs = append(errs, fmt.Errorf("sighting %d: missing time", i))
		}
		if s.Count < 1 {
			errs = append(errs, fmt.Errorf("sighting %d: count must be positive", i))
		}
	}
	return errors.Join(errs...)
}

// Loader is the store surface needed to apply a fixture.
type Loader interface {
	SaveZones(ctx context.Context, zones []domain.Zone) error
	SaveEffort(ctx context.Context, weights []domain.EffortWeight) error
	SaveSeasonality(ctx context.Context, weights []domain.SeasonalityWeight) error
	InsertPresence(ctx context.Context, records []domain.Sighting) (int, error)
}

// Apply writes the fixture into store. Presence calendar fields are derived
// in loc; sightings are inserted batchSize at a time. It returns the number
// of presence rows written.
func (f *Fixture) Apply(ctx context.Context, store Loader, loc *time.Location, batchSize int) (int, error) {
	if batchSize < 1 {
		batchSize = 500
	}
	if err := store.SaveZones(ctx, f.Zones); err != nil {
		return 0, fmt.Errorf("save zones: %w", err)
	}
	if err := store.SaveEffort(ctx, f.Effort); err != nil {
		return 0, fmt.Errorf("save effort: %w", err)
	}
	if err := store.SaveSeasonality(ctx, f.Seasonality); err != nil {
		return 0, fmt.Errorf("save seasonality: %w", err)
	}

	written := 0
	for chunk := range slices.Chunk(f.Sightings, batchSize) {
		records := make([]domain.Sighting, len(chunk))
		for i, s := range chunk {
			records[i] = domain.NewPresence(s.Zone, s.Time, s.Count, s.Direction, loc)
		}
		n, err := store.InsertPresence(ctx, records)
		written += n
		if err != nil {
			return written, fmt.Errorf("insert presence: %w", err)
		}
	}
	return written, nil
}

// GenerateOptions shape a synthetic fixture.
type GenerateOptions struct {
	Zones     int
	Days      int
	Sightings int
	Start     time.Time
	Seed      uint64
}

var directions = []string{"north", "south", "east", "west", "milling"}

// Generate builds a deterministic synthetic fixture: zones on a ring, each
// adjacent to its two neighbours, with a midday effort peak, a summer
// seasonality peak, and sightings scattered over the day range.
func Generate(opts GenerateOptions) *Fixture {
	if opts.Zones < 1 {
		opts.Zones = 8
	}
	if opts.Days < 1 {
		opts.Days = 30
	}
	if opts.Start.IsZero() {
		opts.Start = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed+1))

	fx := &Fixture{}
	for i := 1; i <= opts.Zones; i++ {
		z := domain.Zone{ID: domain.ZoneID(i), Name: fmt.Sprintf("Zone %d", i)}
		if opts.Zones > 1 {
			prev := (i+opts.Zones-2)%opts.Zones + 1
			next := i%opts.Zones + 1
			z.Adjacent = append(z.Adjacent, domain.ZoneID(prev))
			if next != prev {
				z.Adjacent = append(z.Adjacent, domain.ZoneID(next))
			}
			slices.Sort(z.Adjacent)
		}
		fx.Zones = append(fx.Zones, z)

		scale := 0.5 + rng.Float64()
		for h := range 24 {
			fx.Effort = append(fx.Effort, domain.EffortWeight{
				Zone:   z.ID,
				Hour:   h,
				Weight: round3(scale * (0.2 + 4*bell(float64(h), 13, 3))),
			})
		}
		for m := 1; m <= 12; m++ {
			fx.Seasonality = append(fx.Seasonality, domain.SeasonalityWeight{
				Zone:   z.ID,
				Month:  m,
				Weight: round3(scale * (0.3 + 3*bell(float64(m), 7, 1.5))),
			})
		}
	}

	minutes := opts.Days * 24 * 60
	for range opts.Sightings {
		fx.Sightings = append(fx.Sightings, Sighting{
			Zone:      domain.ZoneID(rng.IntN(opts.Zones) + 1),
			Time:      opts.Start.Add(time.Duration(rng.IntN(minutes)) * time.Minute).UTC(),
			Count:     rng.IntN(8) + 1,
			Direction: directions[rng.IntN(len(directions))],
		})
	}
	slices.SortStableFunc(fx.Sightings, func(a, b Sighting) int { return a.Time.Compare(b.Time) })
	return fx
}

func bell(x, mu, sigma float64) float64 {
	d := (x - mu) / sigma
	return math.Exp(-d * d / 2)
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

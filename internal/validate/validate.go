// Package validate checks a populated sightings table against the
// guarantees of absence generation: per-zone hourly uniqueness, exclusion
// windows around presences, spacing between absences, calendar fields, and
// the absence-to-presence ratio bound.
package validate

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/couchcryptid/orca-absence-etl/internal/absence"
	"github.com/couchcryptid/orca-absence-etl/internal/domain"
)

// maxDetails caps the messages kept per phase; Failures still counts all.
const maxDetails = 20

// Phase tracks pass/fail for one group of checks.
type Phase struct {
	Name     string
	Failures int
	Details  []string
}

func (p *Phase) errorf(format string, args ...any) {
	p.Failures++
	if len(p.Details) < maxDetails {
		p.Details = append(p.Details, fmt.Sprintf(format, args...))
	}
}

// Passed reports whether the phase found no violations.
func (p *Phase) Passed() bool { return p.Failures == 0 }

// Report is the outcome of a validation pass.
type Report struct {
	Presences int
	Absences  int
	Phases    []*Phase
}

// Passed reports whether every phase passed.
func (r Report) Passed() bool {
	for _, p := range r.Phases {
		if !p.Passed() {
			return false
		}
	}
	return true
}

// Options control the checks.
type Options struct {
	Ratio    int
	Location *time.Location
}

// Source is the read surface needed for validation.
type Source interface {
	Zones(ctx context.Context) ([]domain.Zone, error)
	ScanSightings(ctx context.Context, fn func(domain.Sighting) error) error
}

// Run loads every sighting from src and checks it.
func Run(ctx context.Context, src Source, opts Options) (Report, error) {
	zones, err := src.Zones(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load zones: %w", err)
	}
	var sightings []domain.Sighting
	err = src.ScanSightings(ctx, func(s domain.Sighting) error {
		sightings = append(sightings, s)
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("load sightings: %w", err)
	}
	return Check(zones, sightings, opts), nil
}

// Check runs all phases over an in-memory snapshot.
func Check(zones []domain.Zone, sightings []domain.Sighting, opts Options) Report {
	if opts.Ratio < 1 {
		opts.Ratio = absence.DefaultRatio
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	var presences, absences []domain.Sighting
	byZone := make(map[domain.ZoneID][]time.Time)
	for _, s := range sightings {
		if s.Present {
			presences = append(presences, s)
			byZone[s.Zone] = append(byZone[s.Zone], s.Time)
		} else {
			absences = append(absences, s)
		}
	}
	for _, ts := range byZone {
		slices.SortFunc(ts, func(a, b time.Time) int { return a.Compare(b) })
	}
	slices.SortFunc(absences, func(a, b domain.Sighting) int {
		return cmp.Or(cmp.Compare(a.Zone, b.Zone), a.Time.Compare(b.Time), cmp.Compare(a.ID, b.ID))
	})

	return Report{
		Presences: len(presences),
		Absences:  len(absences),
		Phases: []*Phase{
			checkShape(absences, opts.Location),
			checkUniqueness(absences),
			checkExclusion(absences, absence.NewAdjacencyIndex(zones), byZone),
			checkRatio(len(presences), len(absences), opts.Ratio),
		},
	}
}

func checkShape(absences []domain.Sighting, loc *time.Location) *Phase {
	p := &Phase{Name: "Absence record shape"}
	for _, a := range absences {
		if !domain.HourBucket(a.Time).Equal(a.Time) {
			p.errorf("absence %d: time %s not hour-aligned", a.ID, a.Time.Format(time.RFC3339))
		}
		if want := domain.CalendarAt(a.Time, loc); a.Calendar != want {
			p.errorf("absence %d: calendar %+v, want %+v", a.ID, a.Calendar, want)
		}
		if a.ReportsIn5h != nil || a.ReportsIn24h != nil || a.ReportsInAdjacentZonesIn5h != nil ||
			a.TimeSinceLastSighting != nil || a.SunUp != nil {
			p.errorf("absence %d: recency or daylight fields set", a.ID)
		}
	}
	return p
}

// checkUniqueness expects absences sorted by zone then time.
func checkUniqueness(absences []domain.Sighting) *Phase {
	p := &Phase{Name: "One absence per zone per hour"}
	for i := 1; i < len(absences); i++ {
		prev, cur := absences[i-1], absences[i]
		if prev.Zone == cur.Zone && domain.HourBucket(prev.Time).Equal(domain.HourBucket(cur.Time)) {
			p.errorf("zone %d hour %s: absences %d and %d", cur.Zone, domain.HourBucket(cur.Time).Format(time.RFC3339), prev.ID, cur.ID)
		}
	}
	return p
}

func checkExclusion(absences []domain.Sighting, adj absence.AdjacencyIndex, presences map[domain.ZoneID][]time.Time) *Phase {
	p := &Phase{Name: "Exclusion windows and spacing"}
	for i, a := range absences {
		if hit, ok := latestIn(presences[a.Zone], a.Time.Add(-absence.SameZoneWindow), a.Time); ok {
			p.errorf("absence %d zone %d at %s: presence at %s", a.ID, a.Zone, a.Time.Format(time.RFC3339), hit.Format(time.RFC3339))
		}
		for _, nb := range adj.Adjacent(a.Zone) {
			if hit, ok := latestIn(presences[nb], a.Time.Add(-absence.AdjacentWindow), a.Time); ok {
				p.errorf("absence %d zone %d at %s: adjacent zone %d presence at %s",
					a.ID, a.Zone, a.Time.Format(time.RFC3339), nb, hit.Format(time.RFC3339))
			}
		}
		if i > 0 {
			prev := absences[i-1]
			gap := a.Time.Sub(prev.Time)
			if prev.Zone == a.Zone && gap > 0 && gap < absence.AbsenceSpacing {
				p.errorf("zone %d: absences %d and %d only %s apart", a.Zone, prev.ID, a.ID, gap)
			}
		}
	}
	return p
}

// latestIn returns the latest time in sorted ts that falls in (from, to].
func latestIn(ts []time.Time, from, to time.Time) (time.Time, bool) {
	i, _ := slices.BinarySearchFunc(ts, to, func(e, target time.Time) int {
		if e.After(target) {
			return 1
		}
		return -1
	})
	if i == 0 || !ts[i-1].After(from) {
		return time.Time{}, false
	}
	return ts[i-1], true
}

func checkRatio(presences, absences, ratio int) *Phase {
	p := &Phase{Name: fmt.Sprintf("Ratio bound (≤ %d:1)", ratio)}
	if limit := ratio * presences; absences > limit {
		p.errorf("%d absences exceed %d × %d presences = %d", absences, ratio, presences, limit)
	}
	return p
}

package absence

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/orca-absence-etl/internal/domain"
)

// Exclusion windows. Adjacent-zone sightings block longer than same-zone
// ones because the animals may still be moving into the zone.
const (
	SameZoneWindow = 2 * time.Hour
	AdjacentWindow = 3 * time.Hour
	AbsenceSpacing = 3 * time.Hour
)

// Evaluator decides which zones may receive an absence at a given hour.
type Evaluator struct {
	history   HistoryReader
	adjacency AdjacencyIndex
}

// NewEvaluator creates an Evaluator over the given history and zone graph.
func NewEvaluator(history HistoryReader, adjacency AdjacencyIndex) *Evaluator {
	return &Evaluator{history: history, adjacency: adjacency}
}

// EligibleZones returns, in ascending order, the zones at which an absence
// may be recorded at time at. A zone is eligible when:
//
//   - it has no presence in (at-2h, at]
//   - no adjacent zone has a presence in (at-3h, at]
//   - it has no absence in (at-3h, at]
func (e *Evaluator) EligibleZones(ctx context.Context, at time.Time) ([]domain.ZoneID, error) {
	present2h, err := zoneSet(ctx, e.history.PresenceZones, at.Add(-SameZoneWindow), at)
	if err != nil {
		return nil, fmt.Errorf("same-zone presence at %s: %w", at.Format(time.RFC3339), err)
	}
	present3h, err := zoneSet(ctx, e.history.PresenceZones, at.Add(-AdjacentWindow), at)
	if err != nil {
		return nil, fmt.Errorf("adjacent presence at %s: %w", at.Format(time.RFC3339), err)
	}
	absent3h, err := zoneSet(ctx, e.history.AbsenceZones, at.Add(-AbsenceSpacing), at)
	if err != nil {
		return nil, fmt.Errorf("recent absences at %s: %w", at.Format(time.RFC3339), err)
	}

	var eligible []domain.ZoneID
	for _, z := range e.adjacency.Zones() {
		if _, ok := present2h[z]; ok {
			continue
		}
		if _, ok := absent3h[z]; ok {
			continue
		}
		if anyIn(e.adjacency.Adjacent(z), present3h) {
			continue
		}
		eligible = append(eligible, z)
	}
	return eligible, nil
}

type zoneQuery func(ctx context.Context, from, to time.Time) ([]domain.ZoneID, error)

func zoneSet(ctx context.Context, q zoneQuery, from, to time.Time) (map[domain.ZoneID]struct{}, error) {
	zones, err := q(ctx, from, to)
	if err != nil {
		return nil, err
	}
	set := make(map[domain.ZoneID]struct{}, len(zones))
	for _, z := range zones {
		set[z] = struct{}{}
	}
	return set, nil
}

func anyIn(zones []domain.ZoneID, set map[domain.ZoneID]struct{}) bool {
	for _, z := range zones {
		if _, ok := set[z]; ok {
			return true
		}
	}
	return false
}

// Package memstore is an in-memory implementation of the absence store used
// by tests and dry runs. It enforces the same (zone, hour) absence uniqueness
// as the SQLite schema.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/couchcryptid/orca-absence-etl/internal/domain"
)

// Operation names accepted by FailOn.
const (
	OpZones          = "zones"
	OpEffort         = "effort"
	OpSeasonality    = "seasonality"
	OpPresenceBounds = "presence_bounds"
	OpCountPresence  = "count_presence"
	OpCountAbsence   = "count_absence"
	OpPresenceZones  = "presence_zones"
	OpAbsenceZones   = "absence_zones"
	OpInsert         = "insert"
	OpScan           = "scan"
	OpDelete         = "delete"
)

type absenceKey struct {
	zone domain.ZoneID
	hour int64
}

// Store keeps zones, weights, and sightings in memory.
type Store struct {
	mu        sync.Mutex
	zones     []domain.Zone
	effort    []domain.EffortWeight
	season    []domain.SeasonalityWeight
	rows      map[int64]domain.Sighting
	absences  map[absenceKey]int64
	nextID    int64
	failures  map[string]failure
	callCount map[string]int
}

type failure struct {
	err   error
	after int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		rows:      make(map[int64]domain.Sighting),
		absences:  make(map[absenceKey]int64),
		failures:  make(map[string]failure),
		callCount: make(map[string]int),
	}
}

// FailOn makes op return err once it has succeeded after times.
func (s *Store) FailOn(op string, after int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = failure{err: err, after: after}
}

// Calls returns how many times op has been invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount[op]
}

func (s *Store) check(op string) error {
	s.callCount[op]++
	f, ok := s.failures[op]
	if !ok || s.callCount[op] <= f.after {
		return nil
	}
	return f.err
}

// PutZones replaces the zone graph.
func (s *Store) PutZones(zones ...domain.Zone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones = slices.Clone(zones)
}

// PutEffort replaces the effort table.
func (s *Store) PutEffort(w ...domain.EffortWeight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.effort = slices.Clone(w)
}

// PutSeasonality replaces the seasonality table.
func (s *Store) PutSeasonality(w ...domain.SeasonalityWeight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.season = slices.Clone(w)
}

// AddPresence stores presence records and returns their IDs.
func (s *Store) AddPresence(records ...domain.Sighting) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		r.Present = true
		ids = append(ids, s.put(r))
	}
	return ids
}

func (s *Store) put(r domain.Sighting) int64 {
	s.nextID++
	r.ID = s.nextID
	s.rows[r.ID] = r
	return r.ID
}

// Absences returns every stored absence ordered by ID.
func (s *Store) Absences() []domain.Sighting { return s.filter(false) }

// Presences returns every stored presence ordered by ID.
func (s *Store) Presences() []domain.Sighting { return s.filter(true) }

func (s *Store) filter(present bool) []domain.Sighting {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Sighting
	for _, r := range s.rows {
		if r.Present == present {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b domain.Sighting) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *Store) Zones(_ context.Context) ([]domain.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpZones); err != nil {
		return nil, err
	}
	return slices.Clone(s.zones), nil
}

func (s *Store) EffortWeights(_ context.Context) ([]domain.EffortWeight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpEffort); err != nil {
		return nil, err
	}
	return slices.Clone(s.effort), nil
}

func (s *Store) SeasonalityWeights(_ context.Context) ([]domain.SeasonalityWeight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpSeasonality); err != nil {
		return nil, err
	}
	return slices.Clone(s.season), nil
}

func (s *Store) PresenceBounds(_ context.Context) (minTime, maxTime time.Time, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpPresenceBounds); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	for _, r := range s.rows {
		if !r.Present {
			continue
		}
		if !ok || r.Time.Before(minTime) {
			minTime = r.Time
		}
		if !ok || r.Time.After(maxTime) {
			maxTime = r.Time
		}
		ok = true
	}
	return minTime, maxTime, ok, nil
}

func (s *Store) CountPresence(_ context.Context) (int, error) { return s.count(OpCountPresence, true) }

func (s *Store) CountAbsence(_ context.Context) (int, error) { return s.count(OpCountAbsence, false) }

func (s *Store) count(op string, present bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(op); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range s.rows {
		if r.Present == present {
			n++
		}
	}
	return n, nil
}

func (s *Store) PresenceZones(_ context.Context, from, to time.Time) ([]domain.ZoneID, error) {
	return s.zonesBetween(OpPresenceZones, true, from, to)
}

func (s *Store) AbsenceZones(_ context.Context, from, to time.Time) ([]domain.ZoneID, error) {
	return s.zonesBetween(OpAbsenceZones, false, from, to)
}

func (s *Store) zonesBetween(op string, present bool, from, to time.Time) ([]domain.ZoneID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(op); err != nil {
		return nil, err
	}
	seen := make(map[domain.ZoneID]struct{})
	var out []domain.ZoneID
	for _, r := range s.rows {
		if r.Present != present || !r.Time.After(from) || r.Time.After(to) {
			continue
		}
		if _, dup := seen[r.Zone]; dup {
			continue
		}
		seen[r.Zone] = struct{}{}
		out = append(out, r.Zone)
	}
	slices.Sort(out)
	return out, nil
}

// InsertAbsences stores records, skipping any whose (zone, hour) absence
// already exists. A failure injected for OpInsert aborts the whole batch.
func (s *Store) InsertAbsences(_ context.Context, records []domain.Sighting) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpInsert); err != nil {
		return 0, err
	}
	inserted := 0
	for _, r := range records {
		r.Present = false
		key := absenceKey{zone: r.Zone, hour: domain.HourBucket(r.Time).Unix()}
		if _, dup := s.absences[key]; dup {
			continue
		}
		s.absences[key] = s.put(r)
		inserted++
	}
	return inserted, nil
}

func (s *Store) ScanAbsences(ctx context.Context, fn func(domain.AbsenceRef) error) error {
	s.mu.Lock()
	if err := s.check(OpScan); err != nil {
		s.mu.Unlock()
		return err
	}
	refs := make([]domain.AbsenceRef, 0, len(s.absences))
	for _, r := range s.rows {
		if !r.Present {
			refs = append(refs, domain.AbsenceRef{ID: r.ID, Zone: r.Zone, Time: r.Time, Hour: r.Hour, Month: r.Month})
		}
	}
	s.mu.Unlock()

	slices.SortFunc(refs, func(a, b domain.AbsenceRef) int { return cmp.Compare(a.ID, b.ID) })
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ref); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteAbsences(_ context.Context, ids []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpDelete); err != nil {
		return 0, err
	}
	deleted := 0
	for _, id := range ids {
		r, ok := s.rows[id]
		if !ok || r.Present {
			continue
		}
		delete(s.rows, id)
		delete(s.absences, absenceKey{zone: r.Zone, hour: domain.HourBucket(r.Time).Unix()})
		deleted++
	}
	return deleted, nil
}

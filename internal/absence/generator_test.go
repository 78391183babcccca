package absence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/orca-absence-etl/internal/absence"
	"github.com/couchcryptid/orca-absence-etl/internal/adapter/memstore"
	"github.com/couchcryptid/orca-absence-etl/internal/domain"
)

func TestEvaluator_WindowBoundaries(t *testing.T) {
	store := twoZoneStore()
	snap, err := absence.LoadSnapshot(context.Background(), store)
	require.NoError(t, err)
	ev := absence.NewEvaluator(store, snap.Adjacency)

	tests := []struct {
		hour int
		want []domain.ZoneID
	}{
		{9, []domain.ZoneID{1, 2}},
		{10, nil},              // zone 1 own sighting; zone 2 adjacent
		{11, nil},              // (9,11] still holds 10:00
		{12, []domain.ZoneID{1}}, // zone 1 same-zone window (10,12] excludes 10:00
		{13, nil},
		{15, []domain.ZoneID{2}}, // zone 2's own window (13,15] excludes 13:00
		{16, []domain.ZoneID{1, 2}},
	}
	for _, tt := range tests {
		got, err := ev.EligibleZones(context.Background(), at(tt.hour))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "hour %02d:00", tt.hour)
	}
}

func TestEvaluator_RecentAbsenceBlocksZone(t *testing.T) {
	store := twoZoneStore()
	_, err := store.InsertAbsences(context.Background(), []domain.Sighting{domain.NewAbsence(2, at(14), nil)})
	require.NoError(t, err)

	snap, err := absence.LoadSnapshot(context.Background(), store)
	require.NoError(t, err)
	ev := absence.NewEvaluator(store, snap.Adjacency)

	got, err := ev.EligibleZones(context.Background(), at(16))
	require.NoError(t, err)
	assert.Equal(t, []domain.ZoneID{1}, got)

	got, err = ev.EligibleZones(context.Background(), at(17))
	require.NoError(t, err)
	assert.Equal(t, []domain.ZoneID{1, 2}, got, "(14,17] excludes the 14:00 absence")
}

func TestEvaluator_StoreFailurePropagates(t *testing.T) {
	boom := errors.New("connection reset")
	store := twoZoneStore()
	store.FailOn(memstore.OpAbsenceZones, 0, boom)
	snap, err := absence.LoadSnapshot(context.Background(), store)
	require.NoError(t, err)

	_, err = absence.NewEvaluator(store, snap.Adjacency).EligibleZones(context.Background(), at(9))
	require.ErrorIs(t, err, boom)
}

func TestGenerator_TwoZoneScenario(t *testing.T) {
	for _, batch := range []int{1, 3, 500} {
		store := twoZoneStore()
		gen := newGenerator(t, store, batch)

		stats, err := gen.Generate(context.Background(), at(8), at(16), time.Hour, nil)
		require.NoError(t, err)

		want := []zoneHour{{1, 8}, {2, 8}, {1, 12}, {2, 15}, {1, 16}}
		if diff := cmp.Diff(want, absencesByZoneHour(t, store)); diff != "" {
			t.Fatalf("batch %d: candidate set mismatch (-want +got):\n%s", batch, diff)
		}
		assert.Equal(t, 9, stats.Buckets)
		assert.Equal(t, 5, stats.Generated)
		assert.Zero(t, stats.Skipped)
	}
}

func TestGenerator_CalendarFields(t *testing.T) {
	store := twoZoneStore()
	gen := newGenerator(t, store, 10)

	_, err := gen.Generate(context.Background(), at(8).Add(25*time.Minute), at(8).Add(50*time.Minute), time.Hour, nil)
	require.NoError(t, err)

	abs := store.Absences()
	require.Len(t, abs, 2)
	for _, a := range abs {
		assert.Equal(t, at(8), a.Time)
		assert.Equal(t, 7, a.Month)
		assert.Equal(t, 3, a.DayOfWeek) // 2024-07-10 is a Wednesday
		assert.Equal(t, 8, a.Hour)
		assert.False(t, a.IsWeekend)
		assert.False(t, a.Present)
		assert.Nil(t, a.ReportsIn5h)
		assert.Nil(t, a.SunUp)
	}
}

func TestGenerator_RerunIsIdempotent(t *testing.T) {
	store := twoZoneStore()
	gen := newGenerator(t, store, 2)

	first, err := gen.Generate(context.Background(), at(0), at(23), time.Hour, nil)
	require.NoError(t, err)
	before := absencesByZoneHour(t, store)

	second, err := gen.Generate(context.Background(), at(0), at(23), time.Hour, nil)
	require.NoError(t, err)

	assert.Positive(t, first.Generated)
	assert.Zero(t, second.Generated)
	assert.Equal(t, before, absencesByZoneHour(t, store))
	assertUnique(t, store)
}

// blindStore hides existing absences from the evaluator, as a concurrent
// run racing on the same range would see them.
type blindStore struct {
	*memstore.Store
}

func (blindStore) AbsenceZones(context.Context, time.Time, time.Time) ([]domain.ZoneID, error) {
	return nil, nil
}

func TestGenerator_ConflictsAreSkippedNotRaised(t *testing.T) {
	inner := twoZoneStore()
	store := blindStore{inner}
	snap, err := absence.LoadSnapshot(context.Background(), inner)
	require.NoError(t, err)

	gen := absence.NewGenerator(store, snap, time.UTC, 500, discardLogger(), newTestMetrics())
	first, err := gen.Generate(context.Background(), at(8), at(9), time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Generated)

	second, err := gen.Generate(context.Background(), at(8), at(9), time.Hour, nil)
	require.NoError(t, err)
	assert.Zero(t, second.Generated)
	assert.Equal(t, 2, second.Skipped)
	assert.Len(t, inner.Absences(), 2)
}

func TestGenerator_StepHours(t *testing.T) {
	store := memstore.New()
	store.PutZones(domain.Zone{ID: 5})
	gen := newGenerator(t, store, 100)

	stats, err := gen.Generate(context.Background(), at(0), at(23), 4*time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Buckets)
	assert.Equal(t, 6, stats.Generated, "4h step never falls inside the 3h spacing window")
	assert.Equal(t, 6, absence.BucketCount(at(0), at(23), 4*time.Hour))
}

func TestGenerator_InsertFailureIsFatal(t *testing.T) {
	boom := errors.New("disk full")
	store := twoZoneStore()
	store.FailOn(memstore.OpInsert, 1, boom)
	gen := newGenerator(t, store, 1)

	stats, err := gen.Generate(context.Background(), at(8), at(16), time.Hour, nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, stats.Generated, "first batch stays committed")
	assert.Len(t, store.Absences(), 1)
}

func TestGenerator_OnBucketCallback(t *testing.T) {
	store := twoZoneStore()
	gen := newGenerator(t, store, 500)

	var seen []int
	_, err := gen.Generate(context.Background(), at(8), at(12), time.Hour, func(s absence.GenerateStats) {
		seen = append(seen, s.Buckets)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, seen)
}

func TestBucketCount(t *testing.T) {
	assert.Equal(t, 1, absence.BucketCount(at(3), at(3), time.Hour))
	assert.Equal(t, 24, absence.BucketCount(at(0), at(23).Add(59*time.Minute), time.Hour))
	assert.Zero(t, absence.BucketCount(at(5), at(4), time.Hour))
	assert.Equal(t, 2, absence.BucketCount(at(0), at(5), 3*time.Hour))
}

func assertUnique(t *testing.T, store *memstore.Store) {
	t.Helper()
	seen := make(map[zoneHour]bool)
	for _, zh := range absencesByZoneHour(t, store) {
		require.False(t, seen[zh], "duplicate absence %+v", zh)
		seen[zh] = true
	}
}

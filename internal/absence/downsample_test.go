package absence_test

import (
	"context"
	"errors"
	"math"
	"slices"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/orca-absence-etl/internal/absence"
	"github.com/couchcryptid/orca-absence-etl/internal/adapter/memstore"
	"github.com/couchcryptid/orca-absence-etl/internal/domain"
)

// seedAbsences stores n absences per zone, one every three hours.
func seedAbsences(t *testing.T, store *memstore.Store, n int, zones ...domain.ZoneID) {
	t.Helper()
	var recs []domain.Sighting
	for _, z := range zones {
		for i := range n {
			recs = append(recs, domain.NewAbsence(z, day.Add(time.Duration(3*i)*time.Hour), nil))
		}
	}
	inserted, err := store.InsertAbsences(context.Background(), recs)
	require.NoError(t, err)
	require.Equal(t, len(recs), inserted)
}

func newDownsampler(t *testing.T, store *memstore.Store, rng absence.RandSource, batch int) *absence.Downsampler {
	t.Helper()
	snap, err := absence.LoadSnapshot(context.Background(), store)
	require.NoError(t, err)
	return absence.NewDownsampler(store, snap.Weights, rng, batch, discardLogger(), newTestMetrics())
}

func TestDownsample_TrimsToTarget(t *testing.T) {
	store := memstore.New()
	store.PutZones(domain.Zone{ID: 1}, domain.Zone{ID: 2})
	seedAbsences(t, store, 25, 1, 2)

	ds := newDownsampler(t, store, absence.NewSeededRand(7), 500)
	stats, err := ds.Downsample(context.Background(), 30)
	require.NoError(t, err)

	assert.Equal(t, 50, stats.Before)
	assert.Equal(t, 30, stats.Kept)
	assert.Equal(t, 20, stats.Deleted)
	assert.Len(t, store.Absences(), 30)
}

func TestDownsample_NoOpWhenWithinTarget(t *testing.T) {
	store := memstore.New()
	store.PutZones(domain.Zone{ID: 1})
	seedAbsences(t, store, 10, 1)

	ds := newDownsampler(t, store, absence.NewSeededRand(1), 500)
	stats, err := ds.Downsample(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 10, stats.Kept)
	assert.Zero(t, stats.Deleted)
	assert.Zero(t, store.Calls(memstore.OpScan), "no scan needed")
	assert.Zero(t, store.Calls(memstore.OpDelete))
}

func TestDownsample_ZeroTargetDeletesAll(t *testing.T) {
	store := memstore.New()
	store.PutZones(domain.Zone{ID: 1})
	seedAbsences(t, store, 12, 1)

	ds := newDownsampler(t, store, absence.NewSeededRand(1), 5)
	stats, err := ds.Downsample(context.Background(), 0)
	require.NoError(t, err)

	assert.Zero(t, stats.Kept)
	assert.Equal(t, 12, stats.Deleted)
	assert.Empty(t, store.Absences())
	assert.Equal(t, 3, store.Calls(memstore.OpDelete), "12 ids in batches of 5")
}

func TestDownsample_BatchFailureLeavesCommittedBatches(t *testing.T) {
	boom := errors.New("lock timeout")
	store := memstore.New()
	store.PutZones(domain.Zone{ID: 1})
	seedAbsences(t, store, 50, 1)
	store.FailOn(memstore.OpDelete, 1, boom)

	ds := newDownsampler(t, store, absence.NewSeededRand(3), 7)
	stats, err := ds.Downsample(context.Background(), 30)
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 7, stats.Deleted)
	assert.Equal(t, 43, stats.Kept)
	assert.Len(t, store.Absences(), 43)
}

func TestDownsample_DanglingZonesUseFloorWeight(t *testing.T) {
	store := memstore.New()
	store.PutZones(domain.Zone{ID: 1})
	seedAbsences(t, store, 20, 1, 99)

	snap, err := absence.LoadSnapshot(context.Background(), store)
	require.NoError(t, err)
	metrics := newTestMetrics()
	ds := absence.NewDownsampler(store, snap.Weights, absence.NewSeededRand(11), 500, discardLogger(), metrics)

	stats, err := ds.Downsample(context.Background(), 20)
	require.NoError(t, err)
	assert.Equal(t, 20, stats.Dangling)
	assert.InDelta(t, 20, testutil.ToFloat64(metrics.DanglingZones), 0)

	// Floor weight pushes almost every zone-99 key to the bottom.
	kept99 := 0
	for _, a := range store.Absences() {
		if a.Zone == 99 {
			kept99++
		}
	}
	assert.LessOrEqual(t, kept99, 2)
}

func TestDownsample_MatchesFullSortSelection(t *testing.T) {
	store := memstore.New()
	store.PutZones(domain.Zone{ID: 1}, domain.Zone{ID: 2}, domain.Zone{ID: 3})
	store.PutEffort(
		domain.EffortWeight{Zone: 1, Hour: 0, Weight: 0.5},
		domain.EffortWeight{Zone: 2, Hour: 0, Weight: 2},
		domain.EffortWeight{Zone: 3, Hour: 0, Weight: 3},
	)
	// One absence per zone per day at midnight so every row shares hour 0.
	var recs []domain.Sighting
	for d := range 20 {
		for _, z := range []domain.ZoneID{1, 2, 3} {
			recs = append(recs, domain.NewAbsence(z, day.AddDate(0, 0, d), nil))
		}
	}
	_, err := store.InsertAbsences(context.Background(), recs)
	require.NoError(t, err)

	draws := make([]float64, len(recs))
	src := absence.NewSeededRand(99)
	for i := range draws {
		draws[i] = src.Float64()
	}

	// Reference: u^(1/w) for every row in scan order, sort, take top K.
	weights := map[domain.ZoneID]float64{1: 0.5, 2: 2, 3: 3}
	type keyed struct {
		id  int64
		key float64
	}
	all := store.Absences()
	ref := make([]keyed, len(all))
	for i, a := range all {
		ref[i] = keyed{id: a.ID, key: math.Pow(draws[i], 1/weights[a.Zone])}
	}
	sort.SliceStable(ref, func(i, j int) bool { return ref[i].key > ref[j].key })
	const k = 25
	var want []int64
	for _, r := range ref[:k] {
		want = append(want, r.id)
	}
	slices.Sort(want)

	ds := newDownsampler(t, store, &seqRand{vals: draws}, 500)
	_, err = ds.Downsample(context.Background(), k)
	require.NoError(t, err)

	var got []int64
	for _, a := range store.Absences() {
		got = append(got, a.ID)
	}
	assert.Equal(t, want, got)
}

func TestDownsample_SeededRunsAreReproducible(t *testing.T) {
	run := func() []int64 {
		store := memstore.New()
		store.PutZones(domain.Zone{ID: 1}, domain.Zone{ID: 2})
		store.PutSeasonality(domain.SeasonalityWeight{Zone: 2, Month: 7, Weight: 4})
		seedAbsences(t, store, 40, 1, 2)
		ds := newDownsampler(t, store, absence.NewSeededRand(2024), 500)
		_, err := ds.Downsample(context.Background(), 33)
		require.NoError(t, err)
		var ids []int64
		for _, a := range store.Absences() {
			ids = append(ids, a.ID)
		}
		return ids
	}
	assert.Equal(t, run(), run())
}

func TestDownsample_HigherWeightRetainedMoreOften(t *testing.T) {
	const seeds = 200
	kept := map[domain.ZoneID]int{}
	for seed := range uint64(seeds) {
		store := memstore.New()
		store.PutZones(domain.Zone{ID: 1}, domain.Zone{ID: 2})
		store.PutSeasonality(domain.SeasonalityWeight{Zone: 1, Month: 7, Weight: 5})
		seedAbsences(t, store, 50, 1, 2)

		ds := newDownsampler(t, store, absence.NewSeededRand(seed), 500)
		_, err := ds.Downsample(context.Background(), 50)
		require.NoError(t, err)
		for _, a := range store.Absences() {
			kept[a.Zone]++
		}
	}

	heavy := float64(kept[1]) / seeds
	light := float64(kept[2]) / seeds
	t.Logf("mean kept: weight 5 = %.1f, weight 1 = %.1f", heavy, light)
	assert.InDelta(t, 50, heavy+light, 1e-9)
	assert.Greater(t, heavy, 2*light)
}

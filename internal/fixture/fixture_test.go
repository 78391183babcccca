package fixture_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/orca-absence-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/orca-absence-etl/internal/domain"
	"github.com/couchcryptid/orca-absence-etl/internal/fixture"
)

const sample = `
zones:
  - zone: 1
    name: Haro Strait
    adjacent: [2]
  - zone: 2
    name: Boundary Pass
    adjacent: [1]
effort:
  - {zone: 1, hour: 10, weight: 2.5}
seasonality:
  - {zone: 2, month: 7, weight: 4}
sightings:
  - zone: 1
    time: 2024-07-10T10:00:00Z
    count: 3
    direction: north
  - zone: 2
    time: 2024-07-10T13:00:00Z
    count: 2
`

func TestDecode(t *testing.T) {
	fx, err := fixture.Decode(strings.NewReader(sample))
	require.NoError(t, err)

	require.Len(t, fx.Zones, 2)
	assert.Equal(t, domain.Zone{ID: 1, Name: "Haro Strait", Adjacent: []domain.ZoneID{2}}, fx.Zones[0])
	assert.Equal(t, []domain.EffortWeight{{Zone: 1, Hour: 10, Weight: 2.5}}, fx.Effort)
	require.Len(t, fx.Sightings, 2)
	assert.Equal(t, time.Date(2024, 7, 10, 13, 0, 0, 0, time.UTC), fx.Sightings[1].Time)
	assert.Empty(t, fx.Sightings[1].Direction)
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	_, err := fixture.Decode(strings.NewReader("zones: []\nsightings: []\npods: [J, K, L]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pods")
}

func TestValidate(t *testing.T) {
	fx := &fixture.Fixture{
		Zones: []domain.Zone{
			{ID: 1, Adjacent: []domain.ZoneID{1, 9}},
			{ID: 1},
		},
		Effort:      []domain.EffortWeight{{Zone: 1, Hour: 24, Weight: 1}},
		Seasonality: []domain.SeasonalityWeight{{Zone: 5, Month: 3, Weight: 1}},
		Sightings:   []fixture.Sighting{{Zone: 3, Count: 0}},
	}

	err := fx.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"zone 1 listed twice",
		"adjacent zone 9 is not defined",
		"zone 1 lists itself",
		"hour 24",
		"zone 5 month 3",
		"unknown zone 3",
		"missing time",
		"count must be positive",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	opts := fixture.GenerateOptions{Zones: 5, Days: 10, Sightings: 40, Seed: 7}
	a, b := fixture.Generate(opts), fixture.Generate(opts)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same seed produced different fixtures (-a +b):\n%s", diff)
	}

	opts.Seed = 8
	assert.NotEqual(t, a.Sightings, fixture.Generate(opts).Sightings)
}

func TestGenerate_Shape(t *testing.T) {
	fx := fixture.Generate(fixture.GenerateOptions{Zones: 4, Days: 3, Sightings: 25, Seed: 1})
	require.NoError(t, fx.Validate())

	assert.Len(t, fx.Zones, 4)
	assert.Equal(t, []domain.ZoneID{2, 4}, fx.Zones[0].Adjacent, "ring wraps around")
	assert.Equal(t, []domain.ZoneID{1, 3}, fx.Zones[1].Adjacent)
	assert.Len(t, fx.Effort, 4*24)
	assert.Len(t, fx.Seasonality, 4*12)
	require.Len(t, fx.Sightings, 25)

	start := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	for i, s := range fx.Sightings {
		assert.False(t, s.Time.Before(start))
		assert.True(t, s.Time.Before(start.AddDate(0, 0, 3)))
		if i > 0 {
			assert.False(t, s.Time.Before(fx.Sightings[i-1].Time), "sorted by time")
		}
	}
	for _, w := range fx.Effort {
		assert.Positive(t, w.Weight)
	}
}

func TestGenerate_TwoZoneRing(t *testing.T) {
	fx := fixture.Generate(fixture.GenerateOptions{Zones: 2, Seed: 3})
	assert.Equal(t, []domain.ZoneID{2}, fx.Zones[0].Adjacent)
	assert.Equal(t, []domain.ZoneID{1}, fx.Zones[1].Adjacent)
}

func TestWriteThenLoad(t *testing.T) {
	fx := fixture.Generate(fixture.GenerateOptions{Zones: 3, Days: 2, Sightings: 12, Seed: 42})

	var buf bytes.Buffer
	require.NoError(t, fx.Write(&buf))
	path := filepath.Join(t.TempDir(), "fixture.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	loaded, err := fixture.Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(fx, loaded); diff != "" {
		t.Fatalf("fixture changed on disk (-want +got):\n%s", diff)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := fixture.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "orca.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fx, err := fixture.Decode(strings.NewReader(sample))
	require.NoError(t, err)

	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	n, err := fx.Apply(ctx, store, la, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	zones, err := store.Zones(ctx)
	require.NoError(t, err)
	assert.Equal(t, fx.Zones, zones)

	var presences []domain.Sighting
	require.NoError(t, store.ScanSightings(ctx, func(s domain.Sighting) error {
		presences = append(presences, s)
		return nil
	}))
	require.Len(t, presences, 2)
	assert.True(t, presences[0].Present)
	assert.Equal(t, 3, presences[0].Hour, "10:00Z is 03:00 in Los Angeles")
	assert.Equal(t, "north", presences[0].Direction)
}

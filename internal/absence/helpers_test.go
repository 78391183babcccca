package absence_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/orca-absence-etl/internal/absence"
	"github.com/couchcryptid/orca-absence-etl/internal/adapter/memstore"
	"github.com/couchcryptid/orca-absence-etl/internal/domain"
	"github.com/couchcryptid/orca-absence-etl/internal/observability"
)

var day = time.Date(2024, time.July, 10, 0, 0, 0, 0, time.UTC)

func at(hour int) time.Time { return day.Add(time.Duration(hour) * time.Hour) }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestMetrics() *observability.Metrics { return observability.NewMetricsForTesting() }

type zoneHour struct {
	Zone domain.ZoneID
	Hour int
}

func absencesByZoneHour(t *testing.T, store *memstore.Store) []zoneHour {
	t.Helper()
	var out []zoneHour
	for _, a := range store.Absences() {
		require.Equal(t, domain.HourBucket(a.Time), a.Time, "absence not hour-truncated")
		out = append(out, zoneHour{Zone: a.Zone, Hour: int(a.Time.Sub(day) / time.Hour)})
	}
	return out
}

// twoZoneStore is the two mutually adjacent zones with presences at zone 1
// 10:00 and zone 2 13:00.
func twoZoneStore() *memstore.Store {
	store := memstore.New()
	store.PutZones(
		domain.Zone{ID: 1, Name: "Haro Strait", Adjacent: []domain.ZoneID{2}},
		domain.Zone{ID: 2, Name: "Boundary Pass", Adjacent: []domain.ZoneID{1}},
	)
	store.AddPresence(
		domain.NewPresence(1, at(10), 3, "north", nil),
		domain.NewPresence(2, at(13), 2, "south", nil),
	)
	return store
}

func newGenerator(t *testing.T, store *memstore.Store, batchSize int) *absence.Generator {
	t.Helper()
	snap, err := absence.LoadSnapshot(context.Background(), store)
	require.NoError(t, err)
	return absence.NewGenerator(store, snap, time.UTC, batchSize, discardLogger(), newTestMetrics())
}

// seqRand replays a fixed sequence of draws.
type seqRand struct {
	vals []float64
	i    int
}

func (s *seqRand) Float64() float64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

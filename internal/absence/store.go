package absence

import (
	"context"
	"time"

	"github.com/couchcryptid/orca-absence-etl/internal/domain"
)

// CatalogReader loads the zone graph and weight tables.
type CatalogReader interface {
	Zones(ctx context.Context) ([]domain.Zone, error)
	EffortWeights(ctx context.Context) ([]domain.EffortWeight, error)
	SeasonalityWeights(ctx context.Context) ([]domain.SeasonalityWeight, error)
}

// HistoryReader answers the presence and absence queries the engine runs.
// Range arguments are half-open: (from, to].
type HistoryReader interface {
	// PresenceBounds returns the earliest and latest presence timestamps.
	// ok is false when no presence exists.
	PresenceBounds(ctx context.Context) (minTime, maxTime time.Time, ok bool, err error)
	CountPresence(ctx context.Context) (int, error)
	CountAbsence(ctx context.Context) (int, error)
	PresenceZones(ctx context.Context, from, to time.Time) ([]domain.ZoneID, error)
	AbsenceZones(ctx context.Context, from, to time.Time) ([]domain.ZoneID, error)
}

// AbsenceWriter persists and removes absence rows.
type AbsenceWriter interface {
	// InsertAbsences writes records in one transaction, silently skipping
	// any that collide with an existing (zone, hour) absence. It returns the
	// number of rows actually inserted.
	InsertAbsences(ctx context.Context, records []domain.Sighting) (int, error)
	// ScanAbsences calls fn for every persisted absence. fn must not write
	// to the store.
	ScanAbsences(ctx context.Context, fn func(domain.AbsenceRef) error) error
	// DeleteAbsences removes the absences with the given IDs in one
	// transaction and returns the number removed.
	DeleteAbsences(ctx context.Context, ids []int64) (int, error)
}

// Store is everything a run needs from persistence.
type Store interface {
	CatalogReader
	HistoryReader
	AbsenceWriter
}

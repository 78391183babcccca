package absence

import (
	"context"
	"fmt"
	"slices"

	"github.com/couchcryptid/orca-absence-etl/internal/domain"
)

// AdjacencyIndex maps each zone to the zones adjacent to it.
type AdjacencyIndex struct {
	adjacent map[domain.ZoneID][]domain.ZoneID
	zones    []domain.ZoneID
}

// NewAdjacencyIndex builds the index from the zone graph. Adjacency lists
// are copied and kept in the order given.
func NewAdjacencyIndex(zones []domain.Zone) AdjacencyIndex {
	idx := AdjacencyIndex{
		adjacent: make(map[domain.ZoneID][]domain.ZoneID, len(zones)),
		zones:    make([]domain.ZoneID, 0, len(zones)),
	}
	for _, z := range zones {
		if _, dup := idx.adjacent[z.ID]; !dup {
			idx.zones = append(idx.zones, z.ID)
		}
		idx.adjacent[z.ID] = slices.Clone(z.Adjacent)
	}
	slices.Sort(idx.zones)
	return idx
}

// Zones returns every indexed zone in ascending order.
func (a AdjacencyIndex) Zones() []domain.ZoneID { return a.zones }

// Adjacent returns the zones adjacent to z; empty for unknown zones.
func (a AdjacencyIndex) Adjacent(z domain.ZoneID) []domain.ZoneID { return a.adjacent[z] }

// Has reports whether z is part of the zone graph.
func (a AdjacencyIndex) Has(z domain.ZoneID) bool {
	_, ok := a.adjacent[z]
	return ok
}

type hourKey struct {
	zone domain.ZoneID
	hour int
}

type monthKey struct {
	zone  domain.ZoneID
	month int
}

// WeightCache holds effort and seasonality lookups for one run.
type WeightCache struct {
	known  map[domain.ZoneID]struct{}
	effort map[hourKey]float64
	season map[monthKey]float64
}

// NewWeightCache builds lookups from the effort and seasonality tables.
// Non-positive stored weights fall back to the default.
func NewWeightCache(zones []domain.ZoneID, effort []domain.EffortWeight, season []domain.SeasonalityWeight) WeightCache {
	wc := WeightCache{
		known:  make(map[domain.ZoneID]struct{}, len(zones)),
		effort: make(map[hourKey]float64, len(effort)),
		season: make(map[monthKey]float64, len(season)),
	}
	for _, z := range zones {
		wc.known[z] = struct{}{}
	}
	for _, e := range effort {
		if e.Weight > 0 {
			wc.effort[hourKey{e.Zone, e.Hour}] = e.Weight
		}
	}
	for _, s := range season {
		if s.Weight > 0 {
			wc.season[monthKey{s.Zone, s.Month}] = s.Weight
		}
	}
	return wc
}

// Known reports whether z was present in the zone graph when the cache was built.
func (w WeightCache) Known(z domain.ZoneID) bool {
	_, ok := w.known[z]
	return ok
}

// Effort returns the effort weight for z at hour, or the default.
func (w WeightCache) Effort(z domain.ZoneID, hour int) float64 {
	if v, ok := w.effort[hourKey{z, hour}]; ok {
		return v
	}
	return domain.DefaultWeight
}

// Seasonality returns the seasonality weight for z in month, or the default.
func (w WeightCache) Seasonality(z domain.ZoneID, month int) float64 {
	if v, ok := w.season[monthKey{z, month}]; ok {
		return v
	}
	return domain.DefaultWeight
}

// Combined returns the sampling weight for z at hour and month. Zones
// outside the graph get the floor weight.
func (w WeightCache) Combined(z domain.ZoneID, hour, month int) float64 {
	if !w.Known(z) {
		return domain.WeightFloor
	}
	return domain.CombineWeights(w.Effort(z, hour), w.Seasonality(z, month))
}

// Snapshot is the read-only zone graph and weight tables for one run.
// Changes to the underlying tables during a run are not observed.
type Snapshot struct {
	Adjacency AdjacencyIndex
	Weights   WeightCache
}

// LoadSnapshot reads the catalog once. Any store error is fatal to the run.
func LoadSnapshot(ctx context.Context, r CatalogReader) (Snapshot, error) {
	zones, err := r.Zones(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load zones: %w", err)
	}
	effort, err := r.EffortWeights(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load effort weights: %w", err)
	}
	season, err := r.SeasonalityWeights(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load seasonality weights: %w", err)
	}
	adj := NewAdjacencyIndex(zones)
	return Snapshot{
		Adjacency: adj,
		Weights:   NewWeightCache(adj.Zones(), effort, season),
	}, nil
}

package absence

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/couchcryptid/orca-absence-etl/internal/domain"
	"github.com/couchcryptid/orca-absence-etl/internal/observability"
)

// RandSource supplies uniform draws in [0, 1). *rand.Rand from math/rand/v2
// satisfies it.
type RandSource interface {
	Float64() float64
}

// DownsampleStats reports the outcome of one downsampling pass.
type DownsampleStats struct {
	Before   int
	Kept     int
	Deleted  int
	Dangling int
}

// Downsampler trims the absence population to a target size using weighted
// sampling without replacement (Efraimidis–Spirakis): each row draws
// u ~ U(0,1) and gets key u^(1/w); the target highest keys survive.
type Downsampler struct {
	store     HistoryWriter
	weights   WeightCache
	rng       RandSource
	batchSize int
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewDownsampler creates a Downsampler. batchSize bounds the IDs per delete
// transaction.
func NewDownsampler(store HistoryWriter, weights WeightCache, rng RandSource, batchSize int, logger *slog.Logger, metrics *observability.Metrics) *Downsampler {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Downsampler{
		store:     store,
		weights:   weights,
		rng:       rng,
		batchSize: batchSize,
		logger:    logger,
		metrics:   metrics,
	}
}

// Downsample reduces the persisted absences to at most target rows. It does
// nothing when the population already fits and removes every absence when
// target <= 0.
func (d *Downsampler) Downsample(ctx context.Context, target int) (DownsampleStats, error) {
	current, err := d.store.CountAbsence(ctx)
	if err != nil {
		return DownsampleStats{}, fmt.Errorf("count absences: %w", err)
	}
	stats := DownsampleStats{Before: current, Kept: current}
	if current == 0 || (target > 0 && current <= target) {
		d.metrics.AbsencesKept.Set(float64(current))
		return stats, nil
	}

	scanned, doomed, dangling, err := d.selectVictims(ctx, max(target, 0))
	if err != nil {
		return stats, err
	}
	stats.Before = scanned
	stats.Kept = scanned
	stats.Dangling = dangling
	if dangling > 0 {
		d.metrics.DanglingZones.Add(float64(dangling))
		d.logger.Warn("absences reference zones missing from the catalog; scored with floor weight",
			"rows", dangling, "floor", domain.WeightFloor)
	}

	deleted, err := d.deleteInBatches(ctx, doomed)
	stats.Deleted = deleted
	stats.Kept = scanned - deleted
	d.metrics.AbsencesDeleted.Add(float64(deleted))
	d.metrics.AbsencesKept.Set(float64(stats.Kept))
	return stats, err
}

// selectVictims streams every absence through a min-heap of size target and
// returns the IDs that fall out of it, sorted ascending.
func (d *Downsampler) selectVictims(ctx context.Context, target int) (scanned int, doomed []int64, dangling int, err error) {
	keep := make(priorityHeap, 0, target)
	err = d.store.ScanAbsences(ctx, func(ref domain.AbsenceRef) error {
		scanned++
		if !d.weights.Known(ref.Zone) {
			dangling++
		}
		if target == 0 {
			doomed = append(doomed, ref.ID)
			return nil
		}
		it := prioritized{id: ref.ID, key: logKey(d.rng.Float64(), d.weights.Combined(ref.Zone, ref.Hour, ref.Month))}
		switch {
		case keep.Len() < target:
			heap.Push(&keep, it)
		case keep[0].less(it):
			doomed = append(doomed, keep[0].id)
			keep[0] = it
			heap.Fix(&keep, 0)
		default:
			doomed = append(doomed, it.id)
		}
		return nil
	})
	if err != nil {
		return scanned, nil, dangling, fmt.Errorf("scan absences: %w", err)
	}
	slices.Sort(doomed)
	return scanned, doomed, dangling, nil
}

// deleteInBatches removes ids in independent transactions. A failure leaves
// earlier batches committed.
func (d *Downsampler) deleteInBatches(ctx context.Context, ids []int64) (int, error) {
	deleted := 0
	for batch := range slices.Chunk(ids, d.batchSize) {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		n, err := d.store.DeleteAbsences(ctx, batch)
		deleted += n
		if err != nil {
			return deleted, fmt.Errorf("delete absence batch of %d: %w", len(batch), err)
		}
	}
	return deleted, nil
}

// logKey returns ln(u^(1/w)) = ln(u)/w. Ranking by the log preserves the
// order of u^(1/w) without underflowing to zero for small weights.
func logKey(u, w float64) float64 {
	if w < domain.WeightFloor {
		w = domain.WeightFloor
	}
	return math.Log(u) / w
}

type prioritized struct {
	id  int64
	key float64
}

// less orders by key, then prefers the lower ID on ties.
func (p prioritized) less(o prioritized) bool {
	if p.key != o.key {
		return p.key < o.key
	}
	return p.id > o.id
}

// priorityHeap is a min-heap: the root is the weakest survivor.
type priorityHeap []prioritized

func (h priorityHeap) Len() int           { return len(h) }
func (h priorityHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h priorityHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)        { *h = append(*h, x.(prioritized)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

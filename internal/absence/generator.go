package absence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/orca-absence-etl/internal/domain"
	"github.com/couchcryptid/orca-absence-etl/internal/observability"
)

// GenerateStats counts the work done by one generation pass.
type GenerateStats struct {
	Buckets   int
	Generated int // rows inserted
	Skipped   int // rows that already existed
}

// Generator walks hour buckets and persists one absence candidate per
// eligible zone. Over-generation is expected; the Downsampler trims later.
type Generator struct {
	store     HistoryWriter
	evaluator *Evaluator
	loc       *time.Location
	batchSize int
	logger    *slog.Logger
	metrics   *observability.Metrics

	// lastQueued holds the latest bucket queued per zone this pass. Rows
	// still sitting in the batch buffer are invisible to the store, so
	// spacing is also checked here.
	lastQueued map[domain.ZoneID]time.Time
	buf        []domain.Sighting
	stats      GenerateStats
}

// HistoryWriter is the store surface used by Phase 1.
type HistoryWriter interface {
	HistoryReader
	AbsenceWriter
}

// NewGenerator creates a Generator. batchSize bounds the rows per insert
// transaction; loc is the timezone for calendar fields.
func NewGenerator(store HistoryWriter, snap Snapshot, loc *time.Location, batchSize int, logger *slog.Logger, metrics *observability.Metrics) *Generator {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Generator{
		store:     store,
		evaluator: NewEvaluator(store, snap.Adjacency),
		loc:       loc,
		batchSize: batchSize,
		logger:    logger,
		metrics:   metrics,
	}
}

// BucketCount returns how many buckets Generate visits for the range.
func BucketCount(start, end time.Time, step time.Duration) int {
	start, end = domain.HourBucket(start), domain.HourBucket(end)
	if end.Before(start) || step <= 0 {
		return 0
	}
	return int(end.Sub(start)/step) + 1
}

// Generate evaluates every bucket from start to end inclusive, stepping by
// step, and writes absence candidates in bounded batches. onBucket, if set,
// is called after each bucket with the running totals.
func (g *Generator) Generate(ctx context.Context, start, end time.Time, step time.Duration, onBucket func(GenerateStats)) (GenerateStats, error) {
	g.lastQueued = make(map[domain.ZoneID]time.Time)
	g.buf = make([]domain.Sighting, 0, g.batchSize)
	g.stats = GenerateStats{}

	start, end = domain.HourBucket(start), domain.HourBucket(end)
	for ts := start; !ts.After(end); ts = ts.Add(step) {
		if err := ctx.Err(); err != nil {
			return g.stats, err
		}
		if err := g.processBucket(ctx, ts); err != nil {
			return g.stats, err
		}
		if onBucket != nil {
			onBucket(g.stats)
		}
	}
	if err := g.flush(ctx); err != nil {
		return g.stats, err
	}
	return g.stats, nil
}

func (g *Generator) processBucket(ctx context.Context, ts time.Time) error {
	zones, err := g.evaluator.EligibleZones(ctx, ts)
	if err != nil {
		return err
	}
	g.stats.Buckets++
	g.metrics.BucketsProcessed.Inc()

	queued := 0
	for _, z := range zones {
		if last, ok := g.lastQueued[z]; ok && ts.Sub(last) < AbsenceSpacing {
			continue
		}
		g.lastQueued[z] = ts
		g.buf = append(g.buf, domain.NewAbsence(z, ts, g.loc))
		queued++
		if len(g.buf) >= g.batchSize {
			if err := g.flush(ctx); err != nil {
				return err
			}
		}
	}
	g.metrics.EligibleZones.Observe(float64(queued))
	return nil
}

func (g *Generator) flush(ctx context.Context) error {
	if len(g.buf) == 0 {
		return nil
	}
	inserted, err := g.store.InsertAbsences(ctx, g.buf)
	if err != nil {
		return fmt.Errorf("insert absence batch of %d: %w", len(g.buf), err)
	}
	skipped := len(g.buf) - inserted
	g.stats.Generated += inserted
	g.stats.Skipped += skipped
	g.metrics.AbsencesGenerated.Add(float64(inserted))
	g.metrics.ConflictsSkipped.Add(float64(skipped))
	g.metrics.InsertBatchSize.Observe(float64(len(g.buf)))
	if skipped > 0 {
		g.logger.Debug("absence conflicts skipped", "batch", len(g.buf), "skipped", skipped)
	}
	g.buf = g.buf[:0]
	return nil
}

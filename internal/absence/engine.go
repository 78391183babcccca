package absence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/orca-absence-etl/internal/domain"
	"github.com/couchcryptid/orca-absence-etl/internal/observability"
)

const (
	// DefaultRatio is the target number of absences per presence.
	DefaultRatio = 3
	// DefaultBatchSize bounds rows per insert or delete transaction.
	DefaultBatchSize = 500
	// DefaultProgressEvery is how many buckets pass between progress reports.
	DefaultProgressEvery = 168
)

var (
	// ErrInvalidStep is returned when the bucket step is negative.
	ErrInvalidStep = errors.New("step hours must be positive")
	// ErrInvalidRange is returned when the requested end precedes the start.
	ErrInvalidRange = errors.New("end precedes start")
)

// Phase names a stage of a run in progress reports.
type Phase string

const (
	PhaseGenerate   Phase = "generate"
	PhaseDownsample Phase = "downsample"
	PhaseDone       Phase = "done"
)

// Progress is a point-in-time view of a run, for observability only.
type Progress struct {
	Phase        Phase `json:"phase"`
	BucketsDone  int   `json:"buckets_done"`
	BucketsTotal int   `json:"buckets_total"`
	Generated    int   `json:"generated"`
	Deleted      int   `json:"deleted"`
}

// ProgressFunc receives progress reports.
type ProgressFunc func(Progress)

// Options tune an Engine. Zero values select defaults.
type Options struct {
	Ratio           int
	InsertBatchSize int
	DeleteBatchSize int
	ProgressEvery   int
	Location        *time.Location
	Rand            RandSource
	Clock           clockwork.Clock
}

// RunRequest parameterizes one run. Nil bounds default to the earliest and
// latest presence timestamps; StepHours 0 means hourly.
type RunRequest struct {
	Start     *time.Time
	End       *time.Time
	StepHours int
	Progress  ProgressFunc
}

// Result holds the counters of a finished run.
type Result struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	RangeStart time.Time
	RangeEnd   time.Time
	StepHours  int

	PresenceCount int
	Target        int

	Buckets   int
	Generated int
	Skipped   int
	Kept      int
	Deleted   int
}

// Summary converts the result into the published run summary.
func (r Result) Summary() domain.RunSummary {
	return domain.RunSummary{
		RunID:         r.RunID,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		RangeStart:    r.RangeStart,
		RangeEnd:      r.RangeEnd,
		StepHours:     r.StepHours,
		PresenceCount: r.PresenceCount,
		Target:        r.Target,
		Buckets:       r.Buckets,
		Generated:     r.Generated,
		Skipped:       r.Skipped,
		Kept:          r.Kept,
		Deleted:       r.Deleted,
	}
}

// Engine runs the two-phase generate-then-downsample job. A single Engine
// must not run overlapping ranges concurrently.
type Engine struct {
	store   Store
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates an Engine over store.
func New(store Store, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Engine {
	if opts.Ratio < 1 {
		opts.Ratio = DefaultRatio
	}
	if opts.InsertBatchSize < 1 {
		opts.InsertBatchSize = DefaultBatchSize
	}
	if opts.DeleteBatchSize < 1 {
		opts.DeleteBatchSize = DefaultBatchSize
	}
	if opts.ProgressEvery < 1 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Rand == nil {
		opts.Rand = globalRand{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Engine{store: store, opts: opts, logger: logger, metrics: metrics}
}

// Run generates absence candidates across the range, then downsamples the
// whole absence population to Ratio × presence count.
func (e *Engine) Run(ctx context.Context, req RunRequest) (res Result, err error) {
	res = Result{RunID: uuid.NewString(), StartedAt: e.opts.Clock.Now()}
	logger := e.logger.With("run_id", res.RunID)

	e.metrics.RunRunning.Set(1)
	defer func() {
		e.metrics.RunRunning.Set(0)
		res.FinishedAt = e.opts.Clock.Now()
		outcome := "success"
		switch {
		case err != nil:
			outcome = "error"
		case res.PresenceCount == 0:
			outcome = "empty"
		}
		e.metrics.RunsTotal.WithLabelValues(outcome).Inc()
		e.metrics.RunDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	}()

	step := req.StepHours
	if step == 0 {
		step = 1
	}
	if step < 0 {
		return res, fmt.Errorf("%w: %d", ErrInvalidStep, step)
	}
	res.StepHours = step

	minTime, maxTime, ok, err := e.store.PresenceBounds(ctx)
	if err != nil {
		return res, fmt.Errorf("presence bounds: %w", err)
	}
	if !ok {
		logger.Info("no presence records; nothing to do")
		return res, nil
	}

	start, end := minTime, maxTime
	if req.Start != nil {
		start = *req.Start
	}
	if req.End != nil {
		end = *req.End
	}
	if end.Before(start) {
		return res, fmt.Errorf("%w: %s > %s", ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	res.RangeStart, res.RangeEnd = domain.HourBucket(start), domain.HourBucket(end)

	presence, err := e.store.CountPresence(ctx)
	if err != nil {
		return res, fmt.Errorf("count presence: %w", err)
	}
	existing, err := e.store.CountAbsence(ctx)
	if err != nil {
		return res, fmt.Errorf("count absences: %w", err)
	}
	res.PresenceCount = presence
	res.Target = e.opts.Ratio * presence
	if existing >= res.Target {
		logger.Info("absence target already met; generating anyway, downsampling will trim",
			"existing", existing, "target", res.Target)
	}

	snap, err := LoadSnapshot(ctx, e.store)
	if err != nil {
		return res, err
	}

	stepDur := time.Duration(step) * time.Hour
	total := BucketCount(start, end, stepDur)
	logger.Info("generation started",
		"range_start", res.RangeStart, "range_end", res.RangeEnd,
		"step_hours", step, "buckets", total, "zones", len(snap.Adjacency.Zones()),
		"presence", presence, "existing_absences", existing, "target", res.Target)

	report := func(p Progress) {
		if req.Progress != nil {
			req.Progress(p)
		}
	}

	gen := NewGenerator(e.store, snap, e.opts.Location, e.opts.InsertBatchSize, logger, e.metrics)
	genStats, err := gen.Generate(ctx, start, end, stepDur, func(s GenerateStats) {
		if s.Buckets%e.opts.ProgressEvery == 0 || s.Buckets == total {
			report(Progress{Phase: PhaseGenerate, BucketsDone: s.Buckets, BucketsTotal: total, Generated: s.Generated})
		}
	})
	res.Buckets, res.Generated, res.Skipped = genStats.Buckets, genStats.Generated, genStats.Skipped
	if err != nil {
		return res, fmt.Errorf("generate: %w", err)
	}
	logger.Info("generation finished", "buckets", res.Buckets, "generated", res.Generated, "skipped", res.Skipped)

	// Presence may have grown while Phase 1 ran; size the target from the
	// final count.
	presence, err = e.store.CountPresence(ctx)
	if err != nil {
		return res, fmt.Errorf("count presence: %w", err)
	}
	res.PresenceCount = presence
	res.Target = e.opts.Ratio * presence
	report(Progress{Phase: PhaseDownsample, BucketsDone: res.Buckets, BucketsTotal: total, Generated: res.Generated})

	ds := NewDownsampler(e.store, snap.Weights, e.opts.Rand, e.opts.DeleteBatchSize, logger, e.metrics)
	dsStats, err := ds.Downsample(ctx, res.Target)
	res.Kept, res.Deleted = dsStats.Kept, dsStats.Deleted
	if err != nil {
		return res, fmt.Errorf("downsample: %w", err)
	}
	logger.Info("downsampling finished", "before", dsStats.Before, "kept", res.Kept, "deleted", res.Deleted, "target", res.Target)

	report(Progress{Phase: PhaseDone, BucketsDone: res.Buckets, BucketsTotal: total, Generated: res.Generated, Deleted: res.Deleted})
	return res, nil
}

// NewSeededRand returns a deterministic RandSource.
func NewSeededRand(seed uint64) RandSource {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// globalRand draws from the runtime-seeded math/rand/v2 source.
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

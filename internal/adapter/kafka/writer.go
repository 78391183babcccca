package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/retry"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/orca-absence-etl/internal/config"
	"github.com/couchcryptid/orca-absence-etl/internal/domain"
	"github.com/couchcryptid/orca-absence-etl/internal/observability"
)

const (
	defaultAttempts = 5
	defaultDelay    = time.Second
	maxDelay        = 30 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes run summaries to the summary topic.
type Writer struct {
	writer   messageWriter
	logger   *slog.Logger
	metrics  *observability.Metrics
	attempts uint
	delay    time.Duration
}

// NewWriter creates a Kafka producer for the configured summary topic.
func NewWriter(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaSummaryTopic,
		Balancer:               &kafkago.LeastBytes{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newWriter(w, logger, metrics)
}

func newWriter(w messageWriter, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	return &Writer{
		writer:   w,
		logger:   logger,
		metrics:  metrics,
		attempts: defaultAttempts,
		delay:    defaultDelay,
	}
}

// Publish writes one run summary, retrying transient broker failures with
// jittered backoff until ctx is done or attempts run out.
func (w *Writer) Publish(ctx context.Context, summary domain.RunSummary) error {
	msg, err := serializeToMessage(summary)
	if err != nil {
		w.metrics.SummariesPublished.WithLabelValues("error").Inc()
		return err
	}

	err = retry.Do(
		func() error {
			return w.writer.WriteMessages(ctx, msg)
		},
		retry.Context(ctx),
		retry.Attempts(w.attempts),
		retry.Delay(w.delay),
		retry.MaxDelay(maxDelay),
		retry.DelayType(retry.FullJitterBackoffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			w.logger.Warn("retrying run summary publish", "attempt", n+1, "run_id", summary.RunID, "error", err)
		}),
	)
	if err != nil {
		w.metrics.SummariesPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("publish run summary %s: %w", summary.RunID, err)
	}
	w.metrics.SummariesPublished.WithLabelValues("success").Inc()
	w.logger.Info("run summary published", "run_id", summary.RunID, "kept", summary.Kept)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a RunSummary into a Kafka message keyed by run ID.
func serializeToMessage(summary domain.RunSummary) (kafkago.Message, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize run summary: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(summary.RunID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte("absence_run_completed")},
			{Key: "finished_at", Value: []byte(summary.FinishedAt.Format(time.RFC3339))},
			{Key: "kept", Value: []byte(strconv.Itoa(summary.Kept))},
		},
	}, nil
}

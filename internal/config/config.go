package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // ZONE_TIMEZONE must resolve on hosts without zoneinfo

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Batch size bounds for INSERT_BATCH_SIZE and DELETE_BATCH_SIZE.
const (
	minBatchSize = 1
	maxBatchSize = 5000
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DBPath          string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	InsertBatchSize int
	DeleteBatchSize int
	Ratio           int
	ProgressEvery   int
	Location        *time.Location
	// SampleSeed makes downsampling deterministic when set.
	SampleSeed *uint64

	// Run summary publishing.
	KafkaEnabled      bool
	KafkaBrokers      []string
	KafkaSummaryTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	insertBatch, err := parseBoundedInt("INSERT_BATCH_SIZE", 500, minBatchSize, maxBatchSize)
	if err != nil {
		return nil, err
	}
	deleteBatch, err := parseBoundedInt("DELETE_BATCH_SIZE", 500, minBatchSize, maxBatchSize)
	if err != nil {
		return nil, err
	}
	ratio, err := parseBoundedInt("ABSENCE_RATIO", 3, 1, 1000)
	if err != nil {
		return nil, err
	}
	progressEvery, err := parseBoundedInt("PROGRESS_EVERY", 168, 1, 1<<20)
	if err != nil {
		return nil, err
	}

	tz := sharedcfg.EnvOrDefault("ZONE_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid ZONE_TIMEZONE %q: %w", tz, err)
	}

	seed, err := parseSeed()
	if err != nil {
		return nil, err
	}

	// An explicitly empty HTTP_ADDR disables the health server.
	httpAddr, set := os.LookupEnv("HTTP_ADDR")
	if !set {
		httpAddr = ":8080"
	}

	cfg := &Config{
		DBPath:          sharedcfg.EnvOrDefault("DB_PATH", "orca.db"),
		HTTPAddr:        httpAddr,
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		InsertBatchSize: insertBatch,
		DeleteBatchSize: deleteBatch,
		Ratio:           ratio,
		ProgressEvery:   progressEvery,
		Location:        loc,
		SampleSeed:      seed,

		KafkaEnabled:      os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:      sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSummaryTopic: sharedcfg.EnvOrDefault("KAFKA_SUMMARY_TOPIC", "absence-runs"),
	}
	if cfg.DBPath == "" {
		return nil, errors.New("DB_PATH is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	if cfg.KafkaEnabled && cfg.KafkaSummaryTopic == "" {
		return nil, errors.New("KAFKA_SUMMARY_TOPIC is required when KAFKA_ENABLED is true")
	}

	return cfg, nil
}

func parseBoundedInt(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be %d-%d", key, lo, hi)
	}
	return n, nil
}

func parseSeed() (*uint64, error) {
	s := os.Getenv("SAMPLE_SEED")
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, errors.New("invalid SAMPLE_SEED: must be an unsigned integer")
	}
	return &n, nil
}

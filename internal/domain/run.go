package domain

import "time"

// RunSummary describes one completed absence generation run. It is published
// to the summary topic so the training pipeline knows when a fresh negative
// set is available.
type RunSummary struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	RangeStart    time.Time `json:"range_start"`
	RangeEnd      time.Time `json:"range_end"`
	StepHours     int       `json:"step_hours"`
	PresenceCount int       `json:"presence_count"`
	Target        int       `json:"target"`
	Buckets       int       `json:"buckets"`
	Generated     int       `json:"generated"`
	Skipped       int       `json:"skipped"`
	Kept          int       `json:"kept"`
	Deleted       int       `json:"deleted"`
}

// Ratio returns kept absences per presence, or 0 when there are no presences.
func (s RunSummary) Ratio() float64 {
	if s.PresenceCount == 0 {
		return 0
	}
	return float64(s.Kept) / float64(s.PresenceCount)
}

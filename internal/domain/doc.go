// Package domain models orca sighting reports and the synthesized absence
// records derived from them.
//
// # Zones
//
// The monitored waters are partitioned into numbered zones. Each zone lists
// the zones adjacent to it. Adjacency is directed: zone 3 listing zone 4 does
// not imply zone 4 lists zone 3. Zone numbers come from the reporting network
// and are stable across runs.
//
// # Sightings
//
// Every row in the sightings table is either a presence (a confirmed report
// that orcas were seen in a zone at a time) or an absence (a synthesized
// hour in which no orca was reported in that zone). Both share calendar
// fields used as model features:
//
//	Month      1–12
//	DayOfWeek  ISO weekday, Monday=1 … Sunday=7
//	Hour       0–23
//	IsWeekend  Saturday or Sunday
//
// Calendar fields are derived in the configured zone timezone (UTC by
// default). Absence timestamps are truncated to the hour; at most one
// absence exists per (zone, hour).
//
// Recency counters (reports in the last 5h/24h, reports in adjacent zones),
// time since the previous sighting, and the daylight flag are only meaningful
// for real reports. Absences leave them nil.
//
// # Weights
//
// Effort is the historical mean sighting count for a (zone, hour-of-day)
// pair and stands in for how many observers are usually watching. Seasonality
// is the mean for a (zone, month) pair. Their product biases which absences
// survive downsampling: an absence where people usually look, in a month
// when orcas usually appear, is a more credible negative label.
//
//	combined = max(effort × seasonality, 1e-6)
//
// Missing entries default to 1.0.
package domain

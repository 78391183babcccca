package domain

import "time"

// Calendar holds the calendar-derived model features of a sighting.
type Calendar struct {
	Month     int  `json:"month"`
	DayOfWeek int  `json:"day_of_week"` // ISO: Monday=1 … Sunday=7
	Hour      int  `json:"hour"`
	IsWeekend bool `json:"is_weekend"`
}

// CalendarAt derives calendar fields for t as observed in loc.
// A nil loc means UTC.
func CalendarAt(t time.Time, loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	dow := isoWeekday(local.Weekday())
	return Calendar{
		Month:     int(local.Month()),
		DayOfWeek: dow,
		Hour:      local.Hour(),
		IsWeekend: dow >= 6,
	}
}

func isoWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

// HourBucket truncates t to the start of its hour.
func HourBucket(t time.Time) time.Time {
	return t.Truncate(time.Hour)
}

// Sighting is one row of the sightings table: a reported presence or a
// synthesized absence.
type Sighting struct {
	ID      int64     `json:"id,omitempty"`
	Time    time.Time `json:"time"`
	Zone    ZoneID    `json:"zone"`
	Present bool      `json:"present"`
	Count   int       `json:"count"`

	Direction string `json:"direction"`

	Calendar

	// Recency features. Nil for absences.
	ReportsIn5h                *int           `json:"reports_in_5h,omitempty"`
	ReportsIn24h               *int           `json:"reports_in_24h,omitempty"`
	ReportsInAdjacentZonesIn5h *int           `json:"reports_in_adjacent_zones_in_5h,omitempty"`
	TimeSinceLastSighting      *time.Duration `json:"time_since_last_sighting,omitempty"`
	SunUp                      *bool          `json:"sun_up,omitempty"`
}

// NewPresence builds a presence record with calendar fields derived in loc.
func NewPresence(zone ZoneID, at time.Time, count int, direction string, loc *time.Location) Sighting {
	return Sighting{
		Time:      at.UTC(),
		Zone:      zone,
		Present:   true,
		Count:     count,
		Direction: direction,
		Calendar:  CalendarAt(at, loc),
	}
}

// NewAbsence builds an absence record for zone at the hour containing at.
// Recency and daylight fields stay nil.
func NewAbsence(zone ZoneID, at time.Time, loc *time.Location) Sighting {
	bucket := HourBucket(at).UTC()
	return Sighting{
		Time:      bucket,
		Zone:      zone,
		Present:   false,
		Direction: "none",
		Calendar:  CalendarAt(bucket, loc),
	}
}

// AbsenceRef is the slice of an absence row needed to re-score it during
// downsampling.
type AbsenceRef struct {
	ID    int64
	Zone  ZoneID
	Time  time.Time
	Hour  int
	Month int
}

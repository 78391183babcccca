// Package sqlite is the SQLite-backed sightings store. Timestamps are kept as
// unix seconds in UTC; absence uniqueness per (zone, hour) is enforced by a
// partial unique index.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/orca-absence-etl/internal/domain"
)

// dsnPragmas apply to every pooled connection.
const dsnPragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

// Store implements absence.Store over a SQLite database file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if err := migrate(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("database ready", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Zones(ctx context.Context) ([]domain.Zone, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT zone_number, name FROM zones ORDER BY zone_number")
	if err != nil {
		return nil, fmt.Errorf("query zones: %w", err)
	}
	defer rows.Close()

	var zones []domain.Zone
	index := make(map[domain.ZoneID]int)
	for rows.Next() {
		var z domain.Zone
		if err := rows.Scan(&z.ID, &z.Name); err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		index[z.ID] = len(zones)
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate zones: %w", err)
	}

	adj, err := s.db.QueryContext(ctx, "SELECT zone_number, adjacent_number FROM zone_adjacency ORDER BY zone_number, adjacent_number")
	if err != nil {
		return nil, fmt.Errorf("query adjacency: %w", err)
	}
	defer adj.Close()
	for adj.Next() {
		var from, to domain.ZoneID
		if err := adj.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("scan adjacency: %w", err)
		}
		if i, ok := index[from]; ok {
			zones[i].Adjacent = append(zones[i].Adjacent, to)
		}
	}
	if err := adj.Err(); err != nil {
		return nil, fmt.Errorf("iterate adjacency: %w", err)
	}
	return zones, nil
}

func (s *Store) EffortWeights(ctx context.Context) ([]domain.EffortWeight, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT zone_number, hour, avg_sightings FROM zone_effort")
	if err != nil {
		return nil, fmt.Errorf("query effort: %w", err)
	}
	defer rows.Close()

	var out []domain.EffortWeight
	for rows.Next() {
		var w domain.EffortWeight
		if err := rows.Scan(&w.Zone, &w.Hour, &w.Weight); err != nil {
			return nil, fmt.Errorf("scan effort: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) SeasonalityWeights(ctx context.Context) ([]domain.SeasonalityWeight, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT zone_number, month, avg_sightings FROM zone_seasonality")
	if err != nil {
		return nil, fmt.Errorf("query seasonality: %w", err)
	}
	defer rows.Close()

	var out []domain.SeasonalityWeight
	for rows.Next() {
		var w domain.SeasonalityWeight
		if err := rows.Scan(&w.Zone, &w.Month, &w.Weight); err != nil {
			return nil, fmt.Errorf("scan seasonality: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) PresenceBounds(ctx context.Context) (minTime, maxTime time.Time, ok bool, err error) {
	lo, hi, err := s.bounds(ctx, true)
	if err != nil || !lo.Valid {
		return time.Time{}, time.Time{}, false, err
	}
	return fromUnix(lo.Int64), fromUnix(hi.Int64), true, nil
}

func (s *Store) bounds(ctx context.Context, present bool) (lo, hi sql.NullInt64, err error) {
	err = s.db.QueryRowContext(ctx, "SELECT MIN(ts), MAX(ts) FROM sightings WHERE present = ?", present).Scan(&lo, &hi)
	if err != nil {
		return lo, hi, fmt.Errorf("query sighting bounds: %w", err)
	}
	return lo, hi, nil
}

func (s *Store) CountPresence(ctx context.Context) (int, error) { return s.count(ctx, true) }

func (s *Store) CountAbsence(ctx context.Context) (int, error) { return s.count(ctx, false) }

func (s *Store) count(ctx context.Context, present bool) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sightings WHERE present = ?", present).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sightings: %w", err)
	}
	return n, nil
}

func (s *Store) PresenceZones(ctx context.Context, from, to time.Time) ([]domain.ZoneID, error) {
	return s.zonesBetween(ctx, true, from, to)
}

func (s *Store) AbsenceZones(ctx context.Context, from, to time.Time) ([]domain.ZoneID, error) {
	return s.zonesBetween(ctx, false, from, to)
}

func (s *Store) zonesBetween(ctx context.Context, present bool, from, to time.Time) ([]domain.ZoneID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT zone_number FROM sightings
		 WHERE present = ? AND ts > ? AND ts <= ?
		 ORDER BY zone_number`,
		present, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("query zones in window: %w", err)
	}
	defer rows.Close()

	var out []domain.ZoneID
	for rows.Next() {
		var z domain.ZoneID
		if err := rows.Scan(&z); err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

const insertSighting = `
	INSERT INTO sightings (
		ts, hour_bucket, zone_number, present, count, direction,
		month, day_of_week, hour, is_weekend,
		reports_in_5h, reports_in_24h, reports_in_adjacent_zones_5h,
		time_since_last_sighting_s, sun_up
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertAbsences writes records in one transaction. Rows that collide with
// an existing (zone, hour) absence are skipped.
func (s *Store) InsertAbsences(ctx context.Context, records []domain.Sighting) (int, error) {
	return s.insert(ctx, records, false, insertSighting+" ON CONFLICT DO NOTHING")
}

// InsertPresence writes presence records in one transaction.
func (s *Store) InsertPresence(ctx context.Context, records []domain.Sighting) (int, error) {
	return s.insert(ctx, records, true, insertSighting)
}

func (s *Store) insert(ctx context.Context, records []domain.Sighting, present bool, query string) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	inserted := 0
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			res, err := stmt.ExecContext(ctx, sightingArgs(r, present)...)
			if err != nil {
				return fmt.Errorf("insert sighting zone %d at %s: %w", r.Zone, r.Time.Format(time.RFC3339), err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func sightingArgs(r domain.Sighting, present bool) []any {
	var sinceLast *int64
	if r.TimeSinceLastSighting != nil {
		v := int64(r.TimeSinceLastSighting.Seconds())
		sinceLast = &v
	}
	return []any{
		r.Time.Unix(), domain.HourBucket(r.Time).Unix(), r.Zone, present, r.Count, r.Direction,
		r.Month, r.DayOfWeek, r.Hour, r.IsWeekend,
		r.ReportsIn5h, r.ReportsIn24h, r.ReportsInAdjacentZonesIn5h,
		sinceLast, r.SunUp,
	}
}

func (s *Store) ScanAbsences(ctx context.Context, fn func(domain.AbsenceRef) error) error {
	rows, err := s.db.QueryContext(ctx, "SELECT id, zone_number, ts, hour, month FROM sightings WHERE present = 0 ORDER BY id")
	if err != nil {
		return fmt.Errorf("query absences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ref domain.AbsenceRef
			ts  int64
		)
		if err := rows.Scan(&ref.ID, &ref.Zone, &ts, &ref.Hour, &ref.Month); err != nil {
			return fmt.Errorf("scan absence: %w", err)
		}
		ref.Time = fromUnix(ts)
		if err := fn(ref); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DeleteAbsences removes the given absence IDs in one transaction. IDs of
// presence rows are ignored.
func (s *Store) DeleteAbsences(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := "DELETE FROM sightings WHERE present = 0 AND id IN (?" + strings.Repeat(",?", len(ids)-1) + ")"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	deleted := 0
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("delete %d absences: %w", len(ids), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		deleted = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// ScanSightings calls fn for every sighting, presence and absence, in ID
// order.
func (s *Store) ScanSightings(ctx context.Context, fn func(domain.Sighting) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, zone_number, present, count, direction,
		       month, day_of_week, hour, is_weekend,
		       reports_in_5h, reports_in_24h, reports_in_adjacent_zones_5h,
		       time_since_last_sighting_s, sun_up
		FROM sightings ORDER BY id`)
	if err != nil {
		return fmt.Errorf("query sightings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r                  domain.Sighting
			ts                 int64
			in5h, in24h, adj5h sql.NullInt64
			sinceLast          sql.NullInt64
			sunUp              sql.NullBool
		)
		if err := rows.Scan(&r.ID, &ts, &r.Zone, &r.Present, &r.Count, &r.Direction,
			&r.Month, &r.DayOfWeek, &r.Hour, &r.IsWeekend,
			&in5h, &in24h, &adj5h, &sinceLast, &sunUp); err != nil {
			return fmt.Errorf("scan sighting: %w", err)
		}
		r.Time = fromUnix(ts)
		r.ReportsIn5h = nullInt(in5h)
		r.ReportsIn24h = nullInt(in24h)
		r.ReportsInAdjacentZonesIn5h = nullInt(adj5h)
		if sinceLast.Valid {
			d := time.Duration(sinceLast.Int64) * time.Second
			r.TimeSinceLastSighting = &d
		}
		if sunUp.Valid {
			r.SunUp = &sunUp.Bool
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SaveZones upserts zones and replaces their adjacency lists.
func (s *Store) SaveZones(ctx context.Context, zones []domain.Zone) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, z := range zones {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO zones (zone_number, name) VALUES (?, ?) ON CONFLICT (zone_number) DO UPDATE SET name = excluded.name",
				z.ID, z.Name); err != nil {
				return fmt.Errorf("upsert zone %d: %w", z.ID, err)
			}
		}
		for _, z := range zones {
			if _, err := tx.ExecContext(ctx, "DELETE FROM zone_adjacency WHERE zone_number = ?", z.ID); err != nil {
				return fmt.Errorf("clear adjacency of zone %d: %w", z.ID, err)
			}
			for _, a := range z.Adjacent {
				if _, err := tx.ExecContext(ctx,
					"INSERT INTO zone_adjacency (zone_number, adjacent_number) VALUES (?, ?) ON CONFLICT DO NOTHING",
					z.ID, a); err != nil {
					return fmt.Errorf("zone %d adjacent %d: %w", z.ID, a, err)
				}
			}
		}
		return nil
	})
}

// SaveEffort upserts hourly effort weights.
func (s *Store) SaveEffort(ctx context.Context, weights []domain.EffortWeight) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, w := range weights {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO zone_effort (zone_number, hour, avg_sightings) VALUES (?, ?, ?)
				 ON CONFLICT (zone_number, hour) DO UPDATE SET avg_sightings = excluded.avg_sightings`,
				w.Zone, w.Hour, w.Weight); err != nil {
				return fmt.Errorf("effort zone %d hour %d: %w", w.Zone, w.Hour, err)
			}
		}
		return nil
	})
}

// SaveSeasonality upserts monthly seasonality weights.
func (s *Store) SaveSeasonality(ctx context.Context, weights []domain.SeasonalityWeight) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, w := range weights {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO zone_seasonality (zone_number, month, avg_sightings) VALUES (?, ?, ?)
				 ON CONFLICT (zone_number, month) DO UPDATE SET avg_sightings = excluded.avg_sightings`,
				w.Zone, w.Month, w.Weight); err != nil {
				return fmt.Errorf("seasonality zone %d month %d: %w", w.Zone, w.Month, err)
			}
		}
		return nil
	})
}

// Stats summarizes the sightings table.
type Stats struct {
	Presence      int
	Absence       int
	PresenceFirst time.Time
	PresenceLast  time.Time
	AbsenceFirst  time.Time
	AbsenceLast   time.Time
}

// Stats returns counts and timestamp ranges for presences and absences.
// Range fields are zero when the corresponding set is empty.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error
	if st.Presence, err = s.count(ctx, true); err != nil {
		return st, err
	}
	if st.Absence, err = s.count(ctx, false); err != nil {
		return st, err
	}
	for _, side := range []struct {
		present     bool
		first, last *time.Time
	}{
		{true, &st.PresenceFirst, &st.PresenceLast},
		{false, &st.AbsenceFirst, &st.AbsenceLast},
	} {
		lo, hi, err := s.bounds(ctx, side.present)
		if err != nil {
			return st, err
		}
		if lo.Valid {
			*side.first, *side.last = fromUnix(lo.Int64), fromUnix(hi.Int64)
		}
	}
	return st, nil
}

func fromUnix(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

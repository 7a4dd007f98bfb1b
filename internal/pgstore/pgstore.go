// Package pgstore reads GTFS schedule tables from Postgres, in the layout
// produced by postgis-gtfs-importer (dates as date, times as interval,
// locations as PostGIS geography, enums as text).
package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gotransit/internal/planner"
)

// Store is a read-only planner.ScheduleSource backed by Postgres.
type Store struct {
	db *sql.DB
}

// Open connects through the pgx database/sql driver and pings the server.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// HasData reports whether any routes are loaded.
func (s *Store) HasData(ctx context.Context) bool {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM routes`).Scan(&n)
	return err == nil && n > 0
}

const stopColumns = `stop_id, stop_name,
	COALESCE(ST_Y(stop_loc::geometry), 0), COALESCE(ST_X(stop_loc::geometry), 0)`

const boardingStop = `COALESCE(location_type::text, '0') IN ('0', 'stop')`

func (s *Store) StopsByName(ctx context.Context, name string) ([]planner.Stop, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stopColumns+`
		FROM stops
		WHERE stop_name = $1 AND `+boardingStop+`
		ORDER BY stop_id`, name)
	if err != nil {
		return nil, fmt.Errorf("stops by name query: %w", err)
	}
	return scanStops(rows)
}

// SearchStops matches every whitespace-separated word of query, case-insensitively.
func (s *Store) SearchStops(ctx context.Context, query string, limit int) ([]planner.Stop, error) {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return []planner.Stop{}, nil
	}
	patterns := make([]string, len(words))
	for i, w := range words {
		patterns[i] = "%" + escapeLike(w) + "%"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stopColumns+`
		FROM stops
		WHERE LOWER(stop_name) LIKE ALL($1) AND `+boardingStop+`
		ORDER BY stop_name, stop_id
		LIMIT $2`, patterns, limit)
	if err != nil {
		return nil, fmt.Errorf("search stops: %w", err)
	}
	return scanStops(rows)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

func scanStops(rows *sql.Rows) ([]planner.Stop, error) {
	defer rows.Close()
	stops := []planner.Stop{}
	for rows.Next() {
		var st planner.Stop
		if err := rows.Scan(&st.StopID, &st.Name, &st.Lat, &st.Lng); err != nil {
			return nil, fmt.Errorf("scan stop: %w", err)
		}
		stops = append(stops, st)
	}
	return stops, rows.Err()
}

func (s *Store) StopTimesForStop(ctx context.Context, stopID string, limit int) ([]planner.StopTime, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trip_id, stop_id,
		       COALESCE(arrival_time::text, ''), COALESCE(departure_time::text, ''),
		       stop_sequence
		FROM stop_times
		WHERE stop_id = $1
		ORDER BY departure_time, trip_id
		LIMIT $2`, stopID, limit)
	if err != nil {
		return nil, fmt.Errorf("stop times query: %w", err)
	}
	return scanStopTimes(rows)
}

func (s *Store) StopTimesForServices(ctx context.Context, stopID string, serviceIDs []string, limit int) ([]planner.StopTime, error) {
	if len(serviceIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.trip_id, st.stop_id,
		       COALESCE(st.arrival_time::text, ''), COALESCE(st.departure_time::text, ''),
		       st.stop_sequence
		FROM stop_times st
		JOIN trips t ON t.trip_id = st.trip_id
		WHERE st.stop_id = $1 AND t.service_id = ANY($2)
		ORDER BY st.departure_time, st.trip_id
		LIMIT $3`, stopID, serviceIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("active stop times query: %w", err)
	}
	return scanStopTimes(rows)
}

func scanStopTimes(rows *sql.Rows) ([]planner.StopTime, error) {
	defer rows.Close()

	var sts []planner.StopTime
	for rows.Next() {
		var st planner.StopTime
		if err := rows.Scan(&st.TripID, &st.StopID, &st.ArrivalTime, &st.DepartureTime, &st.StopSequence); err != nil {
			return nil, fmt.Errorf("scan stop time: %w", err)
		}
		st.ArrivalTime = intervalClock(st.ArrivalTime)
		st.DepartureTime = intervalClock(st.DepartureTime)
		sts = append(sts, st)
	}
	return sts, rows.Err()
}

func (s *Store) TripsForServices(ctx context.Context, serviceIDs []string) ([]planner.Trip, error) {
	if len(serviceIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT trip_id, route_id, service_id, COALESCE(trip_headsign, '')
		FROM trips
		WHERE service_id = ANY($1)
		ORDER BY trip_id`, serviceIDs)
	if err != nil {
		return nil, fmt.Errorf("trips query: %w", err)
	}
	defer rows.Close()

	var trips []planner.Trip
	for rows.Next() {
		var t planner.Trip
		if err := rows.Scan(&t.TripID, &t.RouteID, &t.ServiceID, &t.TripHeadsign); err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

func (s *Store) CalendarForDate(ctx context.Context, date time.Time) ([]planner.CalendarRule, []planner.CalendarException, error) {
	day := date.Format("2006-01-02")

	rows, err := s.db.QueryContext(ctx, `
		SELECT service_id,
		       sunday::text, monday::text, tuesday::text, wednesday::text,
		       thursday::text, friday::text, saturday::text,
		       to_char(start_date, 'YYYYMMDD'), to_char(end_date, 'YYYYMMDD')
		FROM calendar
		WHERE start_date <= $1::date AND end_date >= $1::date`, day)
	if err != nil {
		return nil, nil, fmt.Errorf("calendar query: %w", err)
	}
	defer rows.Close()

	var rules []planner.CalendarRule
	for rows.Next() {
		var r planner.CalendarRule
		var days [7]string
		if err := rows.Scan(&r.ServiceID, &days[0], &days[1], &days[2], &days[3], &days[4], &days[5], &days[6],
			&r.StartDate, &r.EndDate); err != nil {
			return nil, nil, fmt.Errorf("scan calendar: %w", err)
		}
		for i, d := range days {
			r.Days[i] = available(d)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	exRows, err := s.db.QueryContext(ctx, `
		SELECT service_id, to_char(date, 'YYYYMMDD'), exception_type::text
		FROM calendar_dates
		WHERE date = $1::date`, day)
	if err != nil {
		return nil, nil, fmt.Errorf("calendar dates query: %w", err)
	}
	defer exRows.Close()

	var exceptions []planner.CalendarException
	for exRows.Next() {
		var e planner.CalendarException
		var kind string
		if err := exRows.Scan(&e.ServiceID, &e.Date, &kind); err != nil {
			return nil, nil, fmt.Errorf("scan calendar date: %w", err)
		}
		t, ok := exceptionType(kind)
		if !ok {
			continue
		}
		e.ExceptionType = t
		exceptions = append(exceptions, e)
	}
	return rules, exceptions, exRows.Err()
}

// available reads a calendar day column rendered as text.
func available(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "available":
		return true
	}
	return false
}

func exceptionType(s string) (planner.ExceptionType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "added":
		return planner.ServiceAdded, true
	case "2", "removed":
		return planner.ServiceRemoved, true
	}
	return 0, false
}

// intervalClock turns an interval rendered as text into HH:MM:SS with
// extended hours ("1 day 02:10:00" becomes "26:10:00").
func intervalClock(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var days int
	if i := strings.Index(s, " day"); i > 0 {
		if _, err := fmt.Sscanf(s[:i], "%d", &days); err != nil {
			return s
		}
		rest := strings.TrimSpace(s[i+len(" day"):])
		s = strings.TrimSpace(strings.TrimPrefix(rest, "s"))
	}
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return s
	}
	return fmt.Sprintf("%02d:%02d:%02d", days*24+h, m, sec)
}

// ShapeForTrip returns the shape ID and ordered [lat, lon] points of a trip.
// An unknown trip yields sql.ErrNoRows.
func (s *Store) ShapeForTrip(ctx context.Context, tripID string) (string, [][]float64, error) {
	var shapeID sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT shape_id FROM trips WHERE trip_id = $1`, tripID).Scan(&shapeID)
	if err != nil {
		return "", nil, err
	}
	if !shapeID.Valid || shapeID.String == "" {
		return "", nil, planner.ErrNoShape
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ST_Y(shape_pt_loc::geometry), ST_X(shape_pt_loc::geometry)
		FROM shapes
		WHERE shape_id = $1
		ORDER BY shape_pt_sequence`, shapeID.String)
	if err != nil {
		return "", nil, fmt.Errorf("shape query: %w", err)
	}
	defer rows.Close()

	var points [][]float64
	for rows.Next() {
		var lat, lon float64
		if err := rows.Scan(&lat, &lon); err != nil {
			return "", nil, fmt.Errorf("scan shape point: %w", err)
		}
		points = append(points, []float64{lat, lon})
	}
	if err := rows.Err(); err != nil {
		return "", nil, err
	}
	if len(points) == 0 {
		return "", nil, planner.ErrNoShape
	}
	return shapeID.String, points, nil
}

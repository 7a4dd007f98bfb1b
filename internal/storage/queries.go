package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gotransit/internal/planner"
)

// maxQueryParams bounds the placeholders in one IN (...) list.
const maxQueryParams = 500

// GetMetadata retrieves a value from the feed_metadata table.
func (db *DB) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM feed_metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetMetadata stores a key-value pair in the feed_metadata table.
func (db *DB) SetMetadata(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO feed_metadata (key, value) VALUES (?, ?)`,
		key, value)
	return err
}

// HasData returns true if the database has GTFS data imported.
func (db *DB) HasData(ctx context.Context) bool {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM routes`).Scan(&count)
	return err == nil && count > 0
}

// StopsByName returns every boarding stop whose name matches exactly.
func (db *DB) StopsByName(ctx context.Context, name string) ([]planner.Stop, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT stop_id, stop_name, stop_lat, stop_lon
		FROM stops
		WHERE stop_name = ?
		  AND COALESCE(location_type, 0) = 0
		ORDER BY stop_id`, name)
	if err != nil {
		return nil, fmt.Errorf("stops by name query: %w", err)
	}
	return scanStops(rows)
}

// SearchStops finds stops whose name loosely matches query. A cross-street
// query ("Main & 5th", "Main at 5th") matches stops containing both parts.
func (db *DB) SearchStops(ctx context.Context, query string, limit int) ([]planner.Stop, error) {
	parts := splitCrossStreet(query)
	if len(parts) == 0 {
		return []planner.Stop{}, nil
	}

	var rows *sql.Rows
	var err error
	if len(parts) == 2 {
		rows, err = db.QueryContext(ctx, `
			SELECT stop_id, stop_name, stop_lat, stop_lon
			FROM stops
			WHERE LOWER(stop_name) LIKE '%' || ? || '%'
			  AND LOWER(stop_name) LIKE '%' || ? || '%'
			  AND COALESCE(location_type, 0) = 0
			ORDER BY stop_name, stop_id
			LIMIT ?`, parts[0], parts[1], limit)
	} else {
		rows, err = db.QueryContext(ctx, `
			SELECT stop_id, stop_name, stop_lat, stop_lon
			FROM stops
			WHERE LOWER(stop_name) LIKE '%' || ? || '%'
			  AND COALESCE(location_type, 0) = 0
			ORDER BY stop_name, stop_id
			LIMIT ?`, parts[0], limit)
	}
	if err != nil {
		return nil, fmt.Errorf("search stops: %w", err)
	}
	return scanStops(rows)
}

// splitCrossStreet lowercases a query and splits it on the first
// intersection separator. It returns one part when there is none.
func splitCrossStreet(query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	for _, sep := range []string{" and ", " & ", " at ", "/", " n ", " near "} {
		if i := strings.Index(q, sep); i > 0 {
			a := strings.TrimSpace(q[:i])
			b := strings.TrimSpace(q[i+len(sep):])
			if a != "" && b != "" {
				return []string{a, b}
			}
			break
		}
	}
	return []string{q}
}

func scanStops(rows *sql.Rows) ([]planner.Stop, error) {
	defer rows.Close()

	stops := []planner.Stop{}
	for rows.Next() {
		var s planner.Stop
		if err := rows.Scan(&s.StopID, &s.Name, &s.Lat, &s.Lng); err != nil {
			return nil, fmt.Errorf("scan stop: %w", err)
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

// StopTimesForStop returns up to limit stop times at a stop, earliest first.
func (db *DB) StopTimesForStop(ctx context.Context, stopID string, limit int) ([]planner.StopTime, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT trip_id, stop_id, arrival_time, departure_time, stop_sequence
		FROM stop_times
		WHERE stop_id = ?
		ORDER BY departure_time, trip_id
		LIMIT ?`, stopID, limit)
	if err != nil {
		return nil, fmt.Errorf("stop times query: %w", err)
	}
	return scanStopTimes(rows)
}

// StopTimesForServices returns up to limit stop times at a stop whose trips
// run on one of serviceIDs, earliest first.
func (db *DB) StopTimesForServices(ctx context.Context, stopID string, serviceIDs []string, limit int) ([]planner.StopTime, error) {
	if len(serviceIDs) == 0 {
		return nil, nil
	}
	ids, err := json.Marshal(serviceIDs)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT st.trip_id, st.stop_id, st.arrival_time, st.departure_time, st.stop_sequence
		FROM stop_times st
		JOIN trips t ON t.trip_id = st.trip_id
		WHERE st.stop_id = ?
		  AND t.service_id IN (SELECT value FROM json_each(?))
		ORDER BY st.departure_time, st.trip_id
		LIMIT ?`, stopID, string(ids), limit)
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
		sts = append(sts, st)
	}
	return sts, rows.Err()
}

// TripsForServices returns every trip run by one of serviceIDs.
func (db *DB) TripsForServices(ctx context.Context, serviceIDs []string) ([]planner.Trip, error) {
	var trips []planner.Trip
	for start := 0; start < len(serviceIDs); start += maxQueryParams {
		end := min(start+maxQueryParams, len(serviceIDs))
		chunk := serviceIDs[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		rows, err := db.QueryContext(ctx, `
			SELECT trip_id, route_id, service_id, COALESCE(trip_headsign, '')
			FROM trips
			WHERE service_id IN (`+placeholders+`)
			ORDER BY trip_id`, args...)
		if err != nil {
			return nil, fmt.Errorf("trips query: %w", err)
		}
		for rows.Next() {
			var t planner.Trip
			if err := rows.Scan(&t.TripID, &t.RouteID, &t.ServiceID, &t.TripHeadsign); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan trip: %w", err)
			}
			trips = append(trips, t)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return trips, nil
}

// CalendarForDate returns the weekly rules whose range covers date and the
// exceptions dated on it.
func (db *DB) CalendarForDate(ctx context.Context, date time.Time) ([]planner.CalendarRule, []planner.CalendarException, error) {
	dateStr := date.Format("20060102")

	rows, err := db.QueryContext(ctx, `
		SELECT service_id, sunday, monday, tuesday, wednesday, thursday, friday, saturday,
		       start_date, end_date
		FROM calendar
		WHERE start_date <= ? AND end_date >= ?`, dateStr, dateStr)
	if err != nil {
		return nil, nil, fmt.Errorf("calendar query: %w", err)
	}
	defer rows.Close()

	var rules []planner.CalendarRule
	for rows.Next() {
		var r planner.CalendarRule
		var days [7]int
		if err := rows.Scan(&r.ServiceID, &days[0], &days[1], &days[2], &days[3], &days[4], &days[5], &days[6],
			&r.StartDate, &r.EndDate); err != nil {
			return nil, nil, fmt.Errorf("scan calendar: %w", err)
		}
		for i, d := range days {
			r.Days[i] = d == 1
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	exRows, err := db.QueryContext(ctx, `
		SELECT service_id, date, exception_type
		FROM calendar_dates
		WHERE date = ?`, dateStr)
	if err != nil {
		return nil, nil, fmt.Errorf("calendar dates query: %w", err)
	}
	defer exRows.Close()

	var exceptions []planner.CalendarException
	for exRows.Next() {
		var e planner.CalendarException
		if err := exRows.Scan(&e.ServiceID, &e.Date, &e.ExceptionType); err != nil {
			return nil, nil, fmt.Errorf("scan calendar date: %w", err)
		}
		exceptions = append(exceptions, e)
	}
	return rules, exceptions, exRows.Err()
}

// ErrNoShape is returned for a trip without geometry.
var ErrNoShape = planner.ErrNoShape

// ShapeForTrip returns the shape ID and ordered [lat, lon] points of a trip.
// An unknown trip yields sql.ErrNoRows.
func (db *DB) ShapeForTrip(ctx context.Context, tripID string) (string, [][]float64, error) {
	var shapeID sql.NullString
	err := db.QueryRowContext(ctx, `SELECT shape_id FROM trips WHERE trip_id = ?`, tripID).Scan(&shapeID)
	if err != nil {
		return "", nil, err
	}
	if !shapeID.Valid || shapeID.String == "" {
		return "", nil, ErrNoShape
	}

	rows, err := db.QueryContext(ctx, `
		SELECT shape_pt_lat, shape_pt_lon
		FROM shapes
		WHERE shape_id = ?
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
		return "", nil, ErrNoShape
	}
	return shapeID.String, points, nil
}

package gtfs

import (
	"archive/zip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gotransit/internal/storage"
)

// Importer loads a GTFS zip into SQLite.
type Importer struct {
	db     *storage.DB
	logger *slog.Logger
}

// NewImporter creates an Importer.
func NewImporter(db *storage.DB, logger *slog.Logger) *Importer {
	return &Importer{db: db, logger: logger}
}

// table describes how one GTFS file maps onto its SQLite table.
type table[T any] struct {
	file     string
	required bool
	insert   string
	args     func(T) []any
}

var (
	agencyTable = table[Agency]{
		file:   "agency.txt",
		insert: `INSERT INTO agency (agency_id, agency_name, agency_url, agency_timezone) VALUES (?, ?, ?, ?)`,
		args: func(a Agency) []any {
			return []any{a.AgencyID, a.AgencyName, a.AgencyURL, a.AgencyTimezone}
		},
	}
	routesTable = table[Route]{
		file:     "routes.txt",
		required: true,
		insert: `INSERT INTO routes (route_id, agency_id, route_short_name, route_long_name,
			route_type, route_color, route_text_color, route_sort_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		args: func(r Route) []any {
			return []any{r.RouteID, nullable(r.AgencyID), r.RouteShortName, r.RouteLongName,
				orDefault(r.RouteType, "3"), r.RouteColor, r.RouteTextColor, nullable(r.RouteSortOrder)}
		},
	}
	stopsTable = table[Stop]{
		file:     "stops.txt",
		required: true,
		insert: `INSERT INTO stops (stop_id, stop_code, stop_name, stop_desc, stop_lat, stop_lon,
			zone_id, stop_url, location_type, parent_station, wheelchair_boarding)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args: func(s Stop) []any {
			return []any{s.StopID, s.StopCode, s.StopName, s.StopDesc,
				orDefault(s.StopLat, "0"), orDefault(s.StopLon, "0"), s.ZoneID, s.StopURL,
				orDefault(s.LocationType, "0"), s.ParentStation, orDefault(s.WheelchairBoarding, "0")}
		},
	}
	calendarTable = table[CalendarEntry]{
		file: "calendar.txt",
		insert: `INSERT INTO calendar (service_id, monday, tuesday, wednesday, thursday,
			friday, saturday, sunday, start_date, end_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args: func(c CalendarEntry) []any {
			return []any{c.ServiceID, c.Monday, c.Tuesday, c.Wednesday,
				c.Thursday, c.Friday, c.Saturday, c.Sunday, c.StartDate, c.EndDate}
		},
	}
	calendarDatesTable = table[CalendarDate]{
		file:   "calendar_dates.txt",
		insert: `INSERT OR REPLACE INTO calendar_dates (service_id, date, exception_type) VALUES (?, ?, ?)`,
		args: func(d CalendarDate) []any {
			return []any{d.ServiceID, d.Date, d.ExceptionType}
		},
	}
	tripsTable = table[Trip]{
		file:     "trips.txt",
		required: true,
		insert: `INSERT INTO trips (trip_id, route_id, service_id, trip_headsign,
			direction_id, block_id, shape_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		args: func(t Trip) []any {
			return []any{t.TripID, t.RouteID, t.ServiceID, t.TripHeadsign,
				nullable(t.DirectionID), t.BlockID, nullable(t.ShapeID)}
		},
	}
	stopTimesTable = table[StopTime]{
		file:     "stop_times.txt",
		required: true,
		insert: `INSERT INTO stop_times (trip_id, arrival_time, departure_time, stop_id,
			stop_sequence, pickup_type, drop_off_type, timepoint)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		args: func(st StopTime) []any {
			return []any{st.TripID, NormalizeTime(st.ArrivalTime), NormalizeTime(st.DepartureTime),
				st.StopID, st.StopSequence, orDefault(st.PickupType, "0"),
				orDefault(st.DropOffType, "0"), orDefault(st.Timepoint, "0")}
		},
	}
	shapesTable = table[ShapePoint]{
		file: "shapes.txt",
		insert: `INSERT INTO shapes (shape_id, shape_pt_lat, shape_pt_lon, shape_pt_sequence, shape_dist_traveled)
			VALUES (?, ?, ?, ?, ?)`,
		args: func(sp ShapePoint) []any {
			return []any{sp.ShapeID, sp.ShapePtLat, sp.ShapePtLon, sp.ShapePtSequence, nullable(sp.ShapeDistTraveled)}
		},
	}
)

// Import replaces the schedule tables with the contents of the zip at
// zipPath. Every file is streamed and the whole import is one transaction,
// so a failure leaves the previous schedule in place.
func (imp *Importer) Import(ctx context.Context, zipPath string, version FeedVersion) error {
	start := time.Now()

	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	tx, err := imp.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := imp.clearTables(ctx, tx); err != nil {
		return err
	}

	// Parents before children so foreign keys hold.
	counts := make(map[string]int)
	steps := []func() error{
		func() error { return importTable(ctx, imp, tx, &zr.Reader, agencyTable, counts) },
		func() error { return importTable(ctx, imp, tx, &zr.Reader, routesTable, counts) },
		func() error { return importTable(ctx, imp, tx, &zr.Reader, stopsTable, counts) },
		func() error { return importTable(ctx, imp, tx, &zr.Reader, calendarTable, counts) },
		func() error { return importTable(ctx, imp, tx, &zr.Reader, calendarDatesTable, counts) },
		func() error { return importTable(ctx, imp, tx, &zr.Reader, tripsTable, counts) },
		func() error { return importTable(ctx, imp, tx, &zr.Reader, stopTimesTable, counts) },
		func() error { return importTable(ctx, imp, tx, &zr.Reader, shapesTable, counts) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	if counts[calendarTable.file] == 0 && counts[calendarDatesTable.file] == 0 {
		return errors.New("feed has neither calendar.txt nor calendar_dates.txt")
	}

	meta := map[string]string{
		"imported_at":   time.Now().UTC().Format(time.RFC3339),
		"last_modified": version.LastModified,
		"etag":          version.ETag,
		"feed_source":   version.Source,
	}
	for k, v := range meta {
		if v == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO feed_metadata (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	imp.logger.Info("GTFS import complete",
		"duration", time.Since(start).Round(time.Millisecond),
		"routes", counts[routesTable.file],
		"stops", counts[stopsTable.file],
		"trips", counts[tripsTable.file],
		"stop_times", counts[stopTimesTable.file],
	)
	return nil
}

func (imp *Importer) clearTables(ctx context.Context, tx *sql.Tx) error {
	tables := []string{
		"stop_times", "shapes", "trips", "calendar_dates", "calendar",
		"stops", "routes", "agency", "feed_metadata",
	}
	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("clear %s: %w", t, err)
		}
	}
	return nil
}

// importTable streams one GTFS file into its table.
func importTable[T any](ctx context.Context, imp *Importer, tx *sql.Tx, zr *zip.Reader, t table[T], counts map[string]int) error {
	f := findFile(zr, t.file)
	if f == nil {
		if t.required {
			return fmt.Errorf("%s not found in zip", t.file)
		}
		imp.logger.Info("optional GTFS file missing, skipping", "file", t.file)
		return nil
	}

	stream, err := OpenStream[T](f)
	if err != nil {
		if errors.Is(err, io.EOF) && !t.required {
			return nil
		}
		return fmt.Errorf("open %s: %w", t.file, err)
	}
	defer stream.Close()

	stmt, err := tx.PrepareContext(ctx, t.insert)
	if err != nil {
		return fmt.Errorf("prepare %s: %w", t.file, err)
	}
	defer stmt.Close()

	count := 0
	for {
		row, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s row %d: %w", t.file, count+1, err)
		}
		if _, err := stmt.ExecContext(ctx, t.args(row)...); err != nil {
			return fmt.Errorf("insert %s row %d: %w", t.file, count+1, err)
		}
		count++

		if count%500000 == 0 {
			imp.logger.Info("importing", "file", t.file, "rows", count)
		}
	}

	counts[t.file] = count
	imp.logger.Info("imported", "file", t.file, "count", count)
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"gotransit/internal/handler"
	"gotransit/internal/planner"
)

var _ planner.ScheduleSource = (*Store)(nil)

func TestIntervalClock(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"08:05:00", "08:05:00"},
		{"8:05:00", "08:05:00"},
		{"25:10:00", "25:10:00"},
		{"1 day 02:10:00", "26:10:00"},
		{"2 days 00:00:30", "48:00:30"},
		{"", ""},
		{"garbage", "garbage"},
	}
	for _, tt := range tests {
		if got := intervalClock(tt.in); got != tt.want {
			t.Errorf("intervalClock(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAvailable(t *testing.T) {
	for _, s := range []string{"1", "t", "true", "available", " TRUE "} {
		if !available(s) {
			t.Errorf("available(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"0", "f", "false", "not_available", ""} {
		if available(s) {
			t.Errorf("available(%q) = true, want false", s)
		}
	}
}

func TestExceptionType(t *testing.T) {
	tests := []struct {
		in     string
		want   planner.ExceptionType
		wantOK bool
	}{
		{"1", planner.ServiceAdded, true},
		{"added", planner.ServiceAdded, true},
		{"2", planner.ServiceRemoved, true},
		{"removed", planner.ServiceRemoved, true},
		{"3", 0, false},
	}
	for _, tt := range tests {
		got, ok := exceptionType(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("exceptionType(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestEscapeLike(t *testing.T) {
	if got, want := escapeLike(`50%_off\`), `50\%\_off\\`; got != want {
		t.Errorf("escapeLike = %q, want %q", got, want)
	}
}

// TestStore runs against a live database loaded by postgis-gtfs-importer.
func TestStore(t *testing.T) {
	dsn := os.Getenv("GOTRANSIT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GOTRANSIT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if !s.HasData(ctx) {
		t.Skip("database has no routes")
	}
	stops, err := s.SearchStops(ctx, "st", 5)
	if err != nil {
		t.Fatalf("SearchStops: %v", err)
	}
	if len(stops) == 0 {
		t.Skip("no stops match")
	}
	if _, err := s.StopTimesForStop(ctx, stops[0].StopID, 10); err != nil {
		t.Errorf("StopTimesForStop: %v", err)
	}
	rules, _, err := s.CalendarForDate(ctx, time.Now())
	if err != nil {
		t.Fatalf("CalendarForDate: %v", err)
	}
	ids := planner.ActiveServices(time.Now(), rules, nil).IDs()
	if _, err := s.TripsForServices(ctx, ids); err != nil {
		t.Errorf("TripsForServices: %v", err)
	}
	if _, err := s.StopTimesForServices(ctx, stops[0].StopID, ids, 10); err != nil {
		t.Errorf("StopTimesForServices: %v", err)
	}
}

var _ handler.ShapeSource = (*Store)(nil)

// TestStore_ShapeForTrip needs a live database with shapes loaded.
func TestStore_ShapeForTrip(t *testing.T) {
	dsn := os.Getenv("GOTRANSIT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GOTRANSIT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, _, err := s.ShapeForTrip(ctx, "no-such-trip"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("unknown trip: err = %v, want sql.ErrNoRows", err)
	}

	var tripID string
	err = s.db.QueryRowContext(ctx, `
		SELECT t.trip_id FROM trips t
		WHERE EXISTS (SELECT 1 FROM shapes sh WHERE sh.shape_id = t.shape_id)
		LIMIT 1`).Scan(&tripID)
	if errors.Is(err, sql.ErrNoRows) {
		t.Skip("no trips with shapes")
	}
	if err != nil {
		t.Fatalf("find shaped trip: %v", err)
	}

	shapeID, points, err := s.ShapeForTrip(ctx, tripID)
	if err != nil {
		t.Fatalf("ShapeForTrip(%s): %v", tripID, err)
	}
	if shapeID == "" || len(points) == 0 {
		t.Fatalf("ShapeForTrip(%s) = %q, %d points", tripID, shapeID, len(points))
	}
	for i, p := range points {
		if len(p) != 2 || p[0] < -90 || p[0] > 90 || p[1] < -180 || p[1] > 180 {
			t.Fatalf("point %d = %v, want [lat, lon]", i, p)
		}
	}
}

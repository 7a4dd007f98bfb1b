package display

import (
	"testing"
	"time"

	"gotransit/internal/planner"
)

func TestClock(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"00:05:00", "12:05 AM"},
		{"08:30:00", "8:30 AM"},
		{"12:00:00", "12:00 PM"},
		{"18:45:00", "6:45 PM"},
		{"24:00:00", "12:00 AM"},
		{"25:30:00", "1:30 AM"},
		{"garbage", "garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Clock(tt.input); got != tt.want {
				t.Errorf("Clock(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDayBadge(t *testing.T) {
	tests := []struct {
		offset  int
		isToday bool
		want    string
	}{
		{0, true, "Today"},
		{1, true, "Tomorrow"},
		{2, true, "+2 days"},
		{0, false, ""},
		{1, false, "Next day"},
		{3, false, "+3 days"},
	}
	for _, tt := range tests {
		if got := DayBadge(tt.offset, tt.isToday); got != tt.want {
			t.Errorf("DayBadge(%d, %v) = %q, want %q", tt.offset, tt.isToday, got, tt.want)
		}
	}
}

func TestArrivalNote(t *testing.T) {
	tests := []struct {
		dep, arr int
		want     string
	}{
		{0, 0, ""},
		{0, 1, "(next day)"},
		{1, 1, ""},
		{0, 2, "(+2 days)"},
	}
	for _, tt := range tests {
		if got := ArrivalNote(tt.dep, tt.arr); got != tt.want {
			t.Errorf("ArrivalNote(%d, %d) = %q, want %q", tt.dep, tt.arr, got, tt.want)
		}
	}
}

func TestWaitDuration(t *testing.T) {
	if got := Wait(5); got != "in 5m" {
		t.Errorf("Wait(5) = %q", got)
	}
	if got := Wait(125); got != "in 2h 5m" {
		t.Errorf("Wait(125) = %q", got)
	}
	if got := Duration(45); got != "45 min" {
		t.Errorf("Duration(45) = %q", got)
	}
	if got := Duration(60); got != "1h 0m" {
		t.Errorf("Duration(60) = %q", got)
	}
}

func TestDateLabel(t *testing.T) {
	today := time.Date(2025, 6, 18, 15, 0, 0, 0, time.UTC)
	tests := []struct {
		date time.Time
		want string
	}{
		{time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC), "Today"},
		{time.Date(2025, 6, 19, 0, 0, 0, 0, time.UTC), "Tomorrow"},
		{time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC), "Friday, June 20"},
	}
	for _, tt := range tests {
		if got := DateLabel(tt.date, today); got != tt.want {
			t.Errorf("DateLabel(%s) = %q, want %q", tt.date.Format("2006-01-02"), got, tt.want)
		}
	}
}

func TestInRange(t *testing.T) {
	today := time.Date(2025, 6, 18, 23, 0, 0, 0, time.UTC)
	tests := []struct {
		date time.Time
		want bool
	}{
		{time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC), false},
		{time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC), true},
		{time.Date(2025, 12, 18, 0, 0, 0, 0, time.UTC), true},
		{time.Date(2025, 12, 19, 0, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		if got := InRange(tt.date, today); got != tt.want {
			t.Errorf("InRange(%s) = %v, want %v", tt.date.Format("2006-01-02"), got, tt.want)
		}
	}
}

func TestTrips(t *testing.T) {
	res := planner.Result{Routes: []planner.RouteResult{
		{TripID: "T1", RouteName: "R1", TripName: "Downtown", DepartureTime: "09:00:00", ArrivalTime: "09:30:00"},
		{TripID: "T2", RouteName: "R1", TripName: "Owl", DepartureTime: "23:50:00", ArrivalTime: "25:10:00", ArrivalDayOffset: 1},
		{TripID: "T3", RouteName: "R2", TripName: "Late", DepartureTime: "24:20:00", ArrivalTime: "24:40:00", DepartureDayOffset: 1, ArrivalDayOffset: 1},
	}}
	today := time.Date(2025, 6, 18, 8, 0, 0, 0, time.UTC)

	got := Trips(res, "08:00:00", today, today)
	if len(got) != 3 {
		t.Fatalf("Trips returned %d rows, want 3", len(got))
	}

	want := []Trip{
		{Departure: "9:00 AM", Arrival: "9:30 AM", DayBadge: "Today", Wait: "in 1h 0m", Duration: "30 min"},
		{Departure: "11:50 PM", Arrival: "1:10 AM", DayBadge: "Today", ArrivalNote: "(next day)", Wait: "in 15h 50m", Duration: "1h 20m"},
		{Departure: "12:20 AM", Arrival: "12:40 AM", DayBadge: "Tomorrow", Wait: "in 16h 20m", Duration: "20 min"},
	}
	for i, w := range want {
		g := got[i]
		if g.Departure != w.Departure || g.Arrival != w.Arrival || g.DayBadge != w.DayBadge ||
			g.ArrivalNote != w.ArrivalNote || g.Wait != w.Wait || g.Duration != w.Duration {
			t.Errorf("row %d = %+v, want %+v", i, g, w)
		}
	}

	other := Trips(res, "08:00:00", today.AddDate(0, 0, 2), today)
	if other[0].Wait != "" || other[0].DayBadge != "" || other[2].DayBadge != "Next day" {
		t.Errorf("future date rows = %+v", other)
	}
}

// Package display turns route results into strings for the results page.
package display

import (
	"fmt"
	"time"

	"gotransit/internal/planner"
)

// MsgDateOutOfRange is shown when a search date is outside the selectable window.
const MsgDateOutOfRange = "Please choose a date within the next 6 months."

// SearchMonths is how far ahead a search date may be.
const SearchMonths = 6

// Trip is one result row, ready for rendering.
type Trip struct {
	TripID       string
	RouteName    string
	TripName     string
	FromStopID   string
	FromStopName string
	ToStopName   string
	Departure    string // "3:04 PM"
	Arrival      string
	DayBadge     string // "Today", "Tomorrow", "Next day", "+2 days" or ""
	ArrivalNote  string // "(next day)", "(+2 days)" or ""
	Wait         string // "in 1h 5m"; empty unless searching today
	Duration     string // "1h 5m" or "25 min"
}

// Trips formats every route in res. refTime is the HH:MM:SS the search was
// made from; today is the current date in the agency timezone.
func Trips(res planner.Result, refTime string, refDate, today time.Time) []Trip {
	isToday := SameDay(refDate, today)
	now, nowErr := planner.TimeToMinutes(refTime)

	out := make([]Trip, 0, len(res.Routes))
	for _, r := range res.Routes {
		t := Trip{
			TripID:       r.TripID,
			RouteName:    r.RouteName,
			TripName:     r.TripName,
			FromStopID:   r.FromStopID,
			FromStopName: r.FromStopName,
			ToStopName:   r.ToStopName,
			Departure:    Clock(r.DepartureTime),
			Arrival:      Clock(r.ArrivalTime),
			DayBadge:     DayBadge(r.DepartureDayOffset, isToday),
			ArrivalNote:  ArrivalNote(r.DepartureDayOffset, r.ArrivalDayOffset),
		}

		dep, depErr := planner.TimeToMinutes(r.DepartureTime)
		arr, arrErr := planner.TimeToMinutes(r.ArrivalTime)
		if depErr == nil && arrErr == nil {
			t.Duration = Duration(planner.DurationMinutes(dep, arr))
		}
		if isToday && depErr == nil && nowErr == nil {
			t.Wait = Wait(planner.WaitMinutes(now, dep))
		}
		out = append(out, t)
	}
	return out
}

// Clock formats a GTFS time as a 12-hour clock, folding hours past 24.
func Clock(gtfsTime string) string {
	var h, m, s int
	if _, err := fmt.Sscanf(gtfsTime, "%d:%d:%d", &h, &m, &s); err != nil {
		return gtfsTime
	}

	displayHour := h % 24
	period := "AM"
	if displayHour >= 12 {
		period = "PM"
	}
	if displayHour == 0 {
		displayHour = 12
	} else if displayHour > 12 {
		displayHour -= 12
	}

	return fmt.Sprintf("%d:%02d %s", displayHour, m, period)
}

// DayBadge labels a departure's service day. Searches for today say
// Today/Tomorrow; searches for another date only flag the overflow.
func DayBadge(offset int, queryIsToday bool) string {
	switch {
	case offset <= 0 && queryIsToday:
		return "Today"
	case offset <= 0:
		return ""
	case offset == 1 && queryIsToday:
		return "Tomorrow"
	case offset == 1:
		return "Next day"
	default:
		return fmt.Sprintf("+%d days", offset)
	}
}

// ArrivalNote flags an arrival that lands on a later day than the departure.
func ArrivalNote(depOffset, arrOffset int) string {
	switch d := arrOffset - depOffset; {
	case d <= 0:
		return ""
	case d == 1:
		return "(next day)"
	default:
		return fmt.Sprintf("(+%d days)", d)
	}
}

// Wait formats minutes until departure.
func Wait(minutes int) string {
	if minutes >= 60 {
		return fmt.Sprintf("in %dh %dm", minutes/60, minutes%60)
	}
	return fmt.Sprintf("in %dm", minutes)
}

// Duration formats a trip length.
func Duration(minutes int) string {
	if minutes >= 60 {
		return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
	}
	return fmt.Sprintf("%d min", minutes)
}

// DateLabel names a date relative to today.
func DateLabel(date, today time.Time) string {
	switch {
	case SameDay(date, today):
		return "Today"
	case SameDay(date, today.AddDate(0, 0, 1)):
		return "Tomorrow"
	default:
		return date.Format("Monday, January 2")
	}
}

// DateRange returns the first and last selectable search dates.
func DateRange(today time.Time) (first, last time.Time) {
	first = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	return first, first.AddDate(0, SearchMonths, 0)
}

// InRange reports whether date can be searched.
func InRange(date, today time.Time) bool {
	first, last := DateRange(today)
	d := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, today.Location())
	return !d.Before(first) && !d.After(last)
}

// SameDay compares calendar dates, ignoring time and location.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

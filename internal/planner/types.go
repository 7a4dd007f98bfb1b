package planner

import (
	"sort"
	"time"
)

// Stop is a physical stop. Several stops may share a name.
type Stop struct {
	StopID string  `json:"stop_id"`
	Name   string  `json:"name"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

// StopTime is one visit of a trip to a stop. Times are raw GTFS strings and
// may carry hours >= 24 for service past midnight.
type StopTime struct {
	TripID        string `json:"trip_id"`
	StopID        string `json:"stop_id"`
	ArrivalTime   string `json:"arrival_time"`
	DepartureTime string `json:"departure_time"`
	StopSequence  int    `json:"stop_sequence"`
}

// Trip links a trip to its route and service calendar.
type Trip struct {
	TripID       string `json:"trip_id"`
	RouteID      string `json:"route_id"`
	ServiceID    string `json:"service_id"`
	TripHeadsign string `json:"trip_headsign,omitempty"`
}

// CalendarRule is a weekly recurring service pattern. Days is indexed by
// time.Weekday (Sunday = 0). Dates are GTFS YYYYMMDD strings.
type CalendarRule struct {
	ServiceID string
	Days      [7]bool
	StartDate string
	EndDate   string
}

// ExceptionType is the calendar_dates exception_type value.
type ExceptionType int

const (
	ServiceAdded   ExceptionType = 1
	ServiceRemoved ExceptionType = 2
)

// CalendarException overrides the weekly rule for one date.
type CalendarException struct {
	ServiceID     string
	Date          string
	ExceptionType ExceptionType
}

// ServiceSet is the set of service IDs running on one calendar date.
type ServiceSet map[string]struct{}

// Has reports whether id is active.
func (s ServiceSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the service IDs in sorted order.
func (s ServiceSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RouteResult is one direct connection between an origin and a destination stop.
type RouteResult struct {
	TripID             string `json:"tripId"`
	TripName           string `json:"tripName"`
	RouteName          string `json:"routeName"`
	FromStopID         string `json:"fromStopId"`
	FromStopName       string `json:"fromStopName"`
	ToStopID           string `json:"toStopId"`
	ToStopName         string `json:"toStopName"`
	DepartureTime      string `json:"departureTime"`
	ArrivalTime        string `json:"arrivalTime"`
	DepartureDayOffset int    `json:"departureDayOffset"`
	ArrivalDayOffset   int    `json:"arrivalDayOffset"`
	ServiceID          string `json:"serviceId"`
	SearchDate         string `json:"searchDate"`
}

// Result is the envelope handed back to callers. Error carries a displayable
// message; it is never a Go error.
type Result struct {
	Routes []RouteResult `json:"routes"`
	Error  string        `json:"error"`
	Date   string        `json:"date"`
}

// DateLayout is the format of Result.Date and RouteResult.SearchDate.
const DateLayout = "2006-01-02"

// gtfsDate formats a date as a GTFS YYYYMMDD string.
func gtfsDate(d time.Time) string {
	return d.Format("20060102")
}

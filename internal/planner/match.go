package planner

import (
	"fmt"
	"sort"
	"time"
)

// User-facing messages carried in Result.Error.
const (
	MsgOriginNotFound      = "Origin stop not found"
	MsgDestinationNotFound = "Destination stop not found"
	MsgNoDirectRoutes      = "No direct routes found in the next 24 hours"
	MsgMissingLocation     = "Please enter both a from and to location."
	MsgUnavailable         = "Schedule data is unavailable right now. Please try again later."
	MsgInvalidTime         = "Please enter a valid time."
)

// MsgNoDepartures is reported when the origin stops have no stop times.
func MsgNoDepartures(stop string) string {
	return fmt.Sprintf("No scheduled departures found for stop %q", stop)
}

// MsgNoArrivals is reported when the destination stops have no stop times.
func MsgNoArrivals(stop string) string {
	return fmt.Sprintf("No scheduled arrivals found for stop %q", stop)
}

// MsgNoService is reported when no service runs on the date.
func MsgNoService(date string) string {
	return "No transit service available for " + date
}

const (
	unknownTrip  = "Unknown"
	unknownRoute = "Unknown Route"
	unknownStop  = "Unknown Stop"
)

// MatchInput carries everything one query needs. The engine reads nothing else.
type MatchInput struct {
	FromStops     []Stop
	ToStops       []Stop
	FromStopTimes []StopTime
	ToStopTimes   []StopTime
	Trips         []Trip
	Active        ServiceSet
	ReferenceTime string // HH:MM:SS
	ReferenceDate time.Time

	// FromLabel and ToLabel name the query ends in messages.
	FromLabel string
	ToLabel   string
}

// Match runs FindDirectTrips and wraps the outcome in a Result envelope.
// Empty inputs produce a message instead of a match. The returned error is
// only set for malformed schedule data.
func Match(in MatchInput) (Result, error) {
	res := Result{Routes: []RouteResult{}, Date: in.ReferenceDate.Format(DateLayout)}

	switch {
	case len(in.FromStops) == 0:
		res.Error = MsgOriginNotFound
	case len(in.ToStops) == 0:
		res.Error = MsgDestinationNotFound
	case len(in.FromStopTimes) == 0:
		res.Error = MsgNoDepartures(in.FromLabel)
	case len(in.ToStopTimes) == 0:
		res.Error = MsgNoArrivals(in.ToLabel)
	case len(in.Active) == 0:
		res.Error = MsgNoService(res.Date)
	}
	if res.Error != "" {
		return res, nil
	}

	routes, err := FindDirectTrips(in)
	if err != nil {
		return res, err
	}
	if len(routes) == 0 {
		res.Error = MsgNoDirectRoutes
		return res, nil
	}
	res.Routes = routes
	return res, nil
}

// FindDirectTrips returns every (origin, destination) stop-time pair on the
// same active trip where the origin comes first and the departure lies within
// 24 hours of the reference time. Results are ordered upcoming-first.
func FindDirectTrips(in MatchInput) ([]RouteResult, error) {
	now, err := TimeToMinutes(in.ReferenceTime)
	if err != nil {
		return nil, fmt.Errorf("reference time: %w", err)
	}
	searchDate := in.ReferenceDate.Format(DateLayout)

	fromNames := stopNames(in.FromStops)
	toNames := stopNames(in.ToStops)

	// Trips touching the origin set, in first-seen order so output is stable.
	var tripOrder []string
	fromTrips := make(map[string]bool)
	for _, st := range in.FromStopTimes {
		if _, ok := fromNames[st.StopID]; !ok {
			continue
		}
		if !fromTrips[st.TripID] {
			fromTrips[st.TripID] = true
			tripOrder = append(tripOrder, st.TripID)
		}
	}
	toTrips := make(map[string]bool)
	for _, st := range in.ToStopTimes {
		if _, ok := toNames[st.StopID]; ok {
			toTrips[st.TripID] = true
		}
	}

	tripsInfo := make(map[string]Trip)
	for _, t := range in.Trips {
		if in.Active.Has(t.ServiceID) {
			tripsInfo[t.TripID] = t
		}
	}

	valid := make(map[string]bool)
	var validOrder []string
	for _, id := range tripOrder {
		if !toTrips[id] {
			continue
		}
		if _, ok := tripsInfo[id]; !ok {
			continue
		}
		valid[id] = true
		validOrder = append(validOrder, id)
	}
	if len(validOrder) == 0 {
		return []RouteResult{}, nil
	}

	fromByTrip := groupByTrip(in.FromStopTimes, valid, fromNames)
	toByTrip := groupByTrip(in.ToStopTimes, valid, toNames)

	var found []positioned
	for _, tripID := range validOrder {
		trip := tripsInfo[tripID]
		for _, from := range fromByTrip[tripID] {
			for _, to := range toByTrip[tripID] {
				if from.StopSequence >= to.StopSequence {
					continue
				}
				p, ok, err := buildResult(trip, from, to, now, searchDate, fromNames, toNames)
				if err != nil {
					return nil, fmt.Errorf("trip %s: %w", tripID, err)
				}
				if ok {
					found = append(found, p)
				}
			}
		}
	}

	sortUpcomingFirst(found, now)

	routes := make([]RouteResult, len(found))
	for i, p := range found {
		routes[i] = p.RouteResult
	}
	return routes, nil
}

// positioned is a result with its absolute minute on the reference date's timeline.
type positioned struct {
	RouteResult
	position int
}

func buildResult(trip Trip, from, to StopTime, now int, searchDate string, fromNames, toNames map[string]string) (positioned, bool, error) {
	departure := firstNonEmpty(from.DepartureTime, from.ArrivalTime)
	arrival := firstNonEmpty(to.ArrivalTime, to.DepartureTime)
	if departure == "" || arrival == "" {
		// Untimed stop; nothing to schedule against.
		return positioned{}, false, nil
	}

	depMinutes, err := NormalizedTimeToMinutes(departure)
	if err != nil {
		return positioned{}, false, err
	}
	if !withinDay(depMinutes, now) && !withinDay(depMinutes+MinutesPerDay, now) {
		return positioned{}, false, nil
	}

	depOffset, err := DayOffsetOf(departure)
	if err != nil {
		return positioned{}, false, err
	}
	arrOffset, err := DayOffsetOf(arrival)
	if err != nil {
		return positioned{}, false, err
	}

	tripName := trip.TripHeadsign
	if tripName == "" {
		tripName = unknownTrip
	}
	routeName := trip.RouteID
	if routeName == "" {
		routeName = unknownRoute
	}

	return positioned{
		RouteResult: RouteResult{
			TripID:             trip.TripID,
			TripName:           tripName,
			RouteName:          routeName,
			FromStopID:         from.StopID,
			FromStopName:       fromNames[from.StopID],
			ToStopID:           to.StopID,
			ToStopName:         toNames[to.StopID],
			DepartureTime:      departure,
			ArrivalTime:        arrival,
			DepartureDayOffset: depOffset,
			ArrivalDayOffset:   arrOffset,
			ServiceID:          trip.ServiceID,
			SearchDate:         searchDate,
		},
		position: depMinutes + depOffset*MinutesPerDay,
	}, true, nil
}

// withinDay reports whether minute m falls in [now, now+1440).
func withinDay(m, now int) bool {
	return m >= now && m < now+MinutesPerDay
}

// sortUpcomingFirst orders results at or after now by ascending position,
// followed by results behind now, closest to now first.
func sortUpcomingFirst(found []positioned, now int) {
	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i].position, found[j].position
		aUp, bUp := a >= now, b >= now
		switch {
		case aUp && bUp:
			return a < b
		case aUp != bUp:
			return aUp
		default:
			return a > b
		}
	})
}

func groupByTrip(stopTimes []StopTime, valid map[string]bool, stops map[string]string) map[string][]StopTime {
	byTrip := make(map[string][]StopTime)
	for _, st := range stopTimes {
		if !valid[st.TripID] {
			continue
		}
		if _, ok := stops[st.StopID]; !ok {
			continue
		}
		byTrip[st.TripID] = append(byTrip[st.TripID], st)
	}
	return byTrip
}

// stopNames maps stop ID to display name for a resolved stop list.
func stopNames(stops []Stop) map[string]string {
	m := make(map[string]string, len(stops))
	for _, s := range stops {
		name := s.Name
		if name == "" {
			name = unknownStop
		}
		if _, seen := m[s.StopID]; !seen {
			m[s.StopID] = name
		}
	}
	return m
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

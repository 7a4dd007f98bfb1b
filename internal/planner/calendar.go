package planner

import "time"

// ActiveServices resolves the services running on date:
// (weekly rules matching the weekday within their date range) minus REMOVED
// exceptions, plus ADDED exceptions. Exceptions for other dates are ignored.
func ActiveServices(date time.Time, rules []CalendarRule, exceptions []CalendarException) ServiceSet {
	day := gtfsDate(date)
	weekday := date.Weekday()

	active := make(ServiceSet)
	for _, r := range rules {
		if !r.Days[weekday] {
			continue
		}
		if r.StartDate <= day && day <= r.EndDate {
			active[r.ServiceID] = struct{}{}
		}
	}

	added := make(map[string]bool)
	for _, e := range exceptions {
		if e.Date != day {
			continue
		}
		switch e.ExceptionType {
		case ServiceRemoved:
			delete(active, e.ServiceID)
		case ServiceAdded:
			added[e.ServiceID] = true
		}
	}
	// Additions win over removals for the same service and date.
	for id := range added {
		active[id] = struct{}{}
	}
	return active
}

package realtime

import (
	"slices"
	"sync"
	"time"
)

// Period is a window during which an alert applies. Zero bounds are open.
type Period struct {
	Start time.Time
	End   time.Time
}

// Alert is a parsed service alert.
type Alert struct {
	ID       string
	Header   string
	Desc     string
	RouteIDs []string
	StopIDs  []string
	Effect   string // "NO_SERVICE", "DETOUR", ...
	Cause    string
	Periods  []Period
}

// ActiveAt reports whether the alert applies at t. An alert without
// periods is always active.
func (a Alert) ActiveAt(t time.Time) bool {
	if len(a.Periods) == 0 {
		return true
	}
	for _, p := range a.Periods {
		if !p.Start.IsZero() && t.Before(p.Start) {
			continue
		}
		if !p.End.IsZero() && !t.Before(p.End) {
			continue
		}
		return true
	}
	return false
}

// Store holds the latest alerts snapshot.
type Store struct {
	mu      sync.RWMutex
	alerts  []Alert
	updated time.Time
}

func NewStore() *Store {
	return &Store{}
}

// SetAlerts replaces the snapshot.
func (s *Store) SetAlerts(alerts []Alert, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = alerts
	s.updated = at
}

// Updated returns when the snapshot was last replaced.
func (s *Store) Updated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

// ForRoutes returns the alerts active at t that name any of routeIDs,
// each alert once, in feed order.
func (s *Store) ForRoutes(routeIDs []string, at time.Time) []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Alert
	for _, a := range s.alerts {
		if !a.ActiveAt(at) {
			continue
		}
		if slices.ContainsFunc(a.RouteIDs, func(r string) bool { return slices.Contains(routeIDs, r) }) {
			out = append(out, a)
		}
	}
	return out
}

// All returns a copy of every alert in the snapshot.
func (s *Store) All() []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.alerts)
}

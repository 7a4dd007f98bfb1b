package planner

import (
	"context"
	"errors"
	"time"
)

// ErrNoShape is returned by shape lookups for a trip without geometry.
var ErrNoShape = errors.New("trip has no shape")

// ScheduleSource is the schedule data the query service reads.
type ScheduleSource interface {
	StopFinder
	// StopTimesForStop returns at most limit stop times at one stop.
	StopTimesForStop(ctx context.Context, stopID string, limit int) ([]StopTime, error)
	// StopTimesForServices is StopTimesForStop restricted to trips run by
	// one of serviceIDs.
	StopTimesForServices(ctx context.Context, stopID string, serviceIDs []string, limit int) ([]StopTime, error)
	// TripsForServices returns every trip run by one of the given services.
	TripsForServices(ctx context.Context, serviceIDs []string) ([]Trip, error)
	// CalendarForDate returns the weekly rules and the exceptions that may
	// apply on date.
	CalendarForDate(ctx context.Context, date time.Time) ([]CalendarRule, []CalendarException, error)
}

// RecentRouteStore keeps a short per-user history of searched routes.
type RecentRouteStore interface {
	PushRecentRoute(ctx context.Context, userID int64, route string, max int) error
	RecentRoutes(ctx context.Context, userID int64) ([]string, error)
}

// SearchEvent describes one completed search.
type SearchEvent struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Date   string    `json:"date"`
	Time   string    `json:"time"`
	Routes int       `json:"routes"`
	Error  string    `json:"error,omitempty"`
	Cached bool      `json:"cached"`
	At     time.Time `json:"at"`
}

// EventPublisher receives search events. Publishing must not block the query.
type EventPublisher interface {
	PublishSearch(ctx context.Context, ev SearchEvent) error
}

// Metrics observes query service activity.
type Metrics interface {
	ObserveQuery(outcome string, d time.Duration)
	CacheHit(name string)
	CacheMiss(name string)
	FetchRetry(op string)
	StopTimesTruncated()
}

// Query outcomes reported to Metrics.
const (
	OutcomeFound   = "found"
	OutcomeEmpty   = "empty"
	OutcomeInvalid = "invalid"
	OutcomeFailed  = "failed"
)

type nopMetrics struct{}

func (nopMetrics) ObserveQuery(string, time.Duration) {}
func (nopMetrics) CacheHit(string)                    {}
func (nopMetrics) CacheMiss(string)                   {}
func (nopMetrics) FetchRetry(string)                  {}
func (nopMetrics) StopTimesTruncated()                {}

package planner

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bluele/gcache"

	"gotransit/internal/cache"
)

const (
	stopTimesCacheSize = 2000
	stopTimesTTL       = 24 * time.Hour
)

// CachedSource serves repeated schedule reads from memory. Lookup results go
// to the shared TTL cache; per-stop stop times go to a bounded LRU since they
// are the bulk of the data.
type CachedSource struct {
	src       ScheduleSource
	cache     *cache.Cache
	stopTimes gcache.Cache
	metrics   Metrics
}

// NewCachedSource wraps src with c.
func NewCachedSource(src ScheduleSource, c *cache.Cache, m Metrics) *CachedSource {
	if m == nil {
		m = nopMetrics{}
	}
	return &CachedSource{
		src:       src,
		cache:     c,
		stopTimes: gcache.New(stopTimesCacheSize).LRU().Expiration(stopTimesTTL).Build(),
		metrics:   m,
	}
}

// Clear drops everything cached, typically after a feed import.
func (s *CachedSource) Clear() {
	s.cache.Clear()
	s.stopTimes.Purge()
}

func (s *CachedSource) StopsByName(ctx context.Context, name string) ([]Stop, error) {
	key := "stops:name:" + name
	if v, ok := s.cache.Get(key); ok {
		s.metrics.CacheHit("stops")
		return v.([]Stop), nil
	}
	s.metrics.CacheMiss("stops")

	stops, err := s.src.StopsByName(ctx, name)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, stops, cache.Static)
	return stops, nil
}

func (s *CachedSource) SearchStops(ctx context.Context, query string, limit int) ([]Stop, error) {
	key := "stops:search:" + strings.ToLower(query) + ":" + strconv.Itoa(limit)
	if v, ok := s.cache.Get(key); ok {
		s.metrics.CacheHit("search")
		return v.([]Stop), nil
	}
	s.metrics.CacheMiss("search")

	stops, err := s.src.SearchStops(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, stops, cache.Dynamic)
	return stops, nil
}

func (s *CachedSource) StopTimesForStop(ctx context.Context, stopID string, limit int) ([]StopTime, error) {
	key := stopID + ":" + strconv.Itoa(limit)
	if v, err := s.stopTimes.Get(key); err == nil {
		s.metrics.CacheHit("stop_times")
		return v.([]StopTime), nil
	}
	s.metrics.CacheMiss("stop_times")

	sts, err := s.src.StopTimesForStop(ctx, stopID, limit)
	if err != nil {
		return nil, err
	}
	_ = s.stopTimes.Set(key, sts)
	return sts, nil
}

func (s *CachedSource) StopTimesForServices(ctx context.Context, stopID string, serviceIDs []string, limit int) ([]StopTime, error) {
	key := stopID + ":" + strconv.Itoa(limit) + ":" + serviceKey(serviceIDs)
	if v, err := s.stopTimes.Get(key); err == nil {
		s.metrics.CacheHit("stop_times")
		return v.([]StopTime), nil
	}
	s.metrics.CacheMiss("stop_times")

	sts, err := s.src.StopTimesForServices(ctx, stopID, serviceIDs, limit)
	if err != nil {
		return nil, err
	}
	_ = s.stopTimes.Set(key, sts)
	return sts, nil
}

func (s *CachedSource) TripsForServices(ctx context.Context, serviceIDs []string) ([]Trip, error) {
	key := "trips:" + serviceKey(serviceIDs)
	if v, ok := s.cache.Get(key); ok {
		s.metrics.CacheHit("trips")
		return v.([]Trip), nil
	}
	s.metrics.CacheMiss("trips")

	trips, err := s.src.TripsForServices(ctx, serviceIDs)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, trips, cache.Static)
	return trips, nil
}

func (s *CachedSource) CalendarForDate(ctx context.Context, date time.Time) ([]CalendarRule, []CalendarException, error) {
	key := "calendar:" + gtfsDate(date)
	if v, ok := s.cache.Get(key); ok {
		s.metrics.CacheHit("calendar")
		c := v.(calendar)
		return c.rules, c.exceptions, nil
	}
	s.metrics.CacheMiss("calendar")

	rules, exc, err := s.src.CalendarForDate(ctx, date)
	if err != nil {
		return nil, nil, err
	}
	s.cache.SetForDay(key, calendar{rules, exc}, date)
	return rules, exc, nil
}

// serviceKey is an order-independent cache key for a set of service IDs.
func serviceKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

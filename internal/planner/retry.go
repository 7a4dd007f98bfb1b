package planner

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetrySource retries failed schedule reads with a fixed delay between attempts.
type RetrySource struct {
	src      ScheduleSource
	attempts int
	delay    time.Duration
	logger   *slog.Logger
	metrics  Metrics
}

// WithRetry wraps src so each call is tried up to attempts times.
// A cancelled context ends the retries early.
func WithRetry(src ScheduleSource, attempts int, delay time.Duration, logger *slog.Logger, m Metrics) *RetrySource {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = nopMetrics{}
	}
	return &RetrySource{src: src, attempts: attempts, delay: delay, logger: logger, metrics: m}
}

func retry[T any](ctx context.Context, r *RetrySource, op string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if attempt == r.attempts {
			break
		}
		r.logger.Warn("schedule fetch failed, retrying", "op", op, "attempt", attempt, "error", err)
		r.metrics.FetchRetry(op)

		t := time.NewTimer(r.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
	return zero, lastErr
}

func (r *RetrySource) StopsByName(ctx context.Context, name string) ([]Stop, error) {
	return retry(ctx, r, "stops_by_name", func() ([]Stop, error) {
		return r.src.StopsByName(ctx, name)
	})
}

func (r *RetrySource) SearchStops(ctx context.Context, query string, limit int) ([]Stop, error) {
	return retry(ctx, r, "search_stops", func() ([]Stop, error) {
		return r.src.SearchStops(ctx, query, limit)
	})
}

func (r *RetrySource) StopTimesForStop(ctx context.Context, stopID string, limit int) ([]StopTime, error) {
	return retry(ctx, r, "stop_times", func() ([]StopTime, error) {
		return r.src.StopTimesForStop(ctx, stopID, limit)
	})
}

func (r *RetrySource) StopTimesForServices(ctx context.Context, stopID string, serviceIDs []string, limit int) ([]StopTime, error) {
	return retry(ctx, r, "stop_times", func() ([]StopTime, error) {
		return r.src.StopTimesForServices(ctx, stopID, serviceIDs, limit)
	})
}

func (r *RetrySource) TripsForServices(ctx context.Context, serviceIDs []string) ([]Trip, error) {
	return retry(ctx, r, "trips", func() ([]Trip, error) {
		return r.src.TripsForServices(ctx, serviceIDs)
	})
}

type calendar struct {
	rules      []CalendarRule
	exceptions []CalendarException
}

func (r *RetrySource) CalendarForDate(ctx context.Context, date time.Time) ([]CalendarRule, []CalendarException, error) {
	c, err := retry(ctx, r, "calendar", func() (calendar, error) {
		rules, exc, err := r.src.CalendarForDate(ctx, date)
		return calendar{rules, exc}, err
	})
	return c.rules, c.exceptions, err
}

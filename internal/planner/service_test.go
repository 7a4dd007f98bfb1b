package planner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gotransit/internal/cache"
)

type fakeSource struct {
	mu         sync.Mutex
	stops      map[string][]Stop
	stopTimes  map[string][]StopTime
	trips      []Trip
	rules      []CalendarRule
	exceptions []CalendarException

	calendarErr error
	tripsErr    error
	failTimes   int // StopTimesForStop fails this many times first
	calls       map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		stops: map[string][]Stop{
			"Alpha": {{StopID: "A", Name: "Alpha"}},
			"Bravo": {{StopID: "B", Name: "Bravo"}},
		},
		stopTimes: map[string][]StopTime{
			"A": {{TripID: "T1", StopID: "A", DepartureTime: "09:00:00", StopSequence: 1}},
			"B": {{TripID: "T1", StopID: "B", ArrivalTime: "09:30:00", StopSequence: 2}},
		},
		trips: []Trip{{TripID: "T1", RouteID: "R1", ServiceID: "WK", TripHeadsign: "Downtown"}},
		rules: []CalendarRule{{ServiceID: "WK", Days: weekdays(), StartDate: "20250101", EndDate: "20251231"}},
		calls: map[string]int{},
	}
}

func (f *fakeSource) count(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeSource) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeSource) StopsByName(_ context.Context, name string) ([]Stop, error) {
	f.count("stops")
	return f.stops[name], nil
}

func (f *fakeSource) SearchStops(_ context.Context, query string, limit int) ([]Stop, error) {
	f.count("search")
	var out []Stop
	for _, list := range f.stops {
		for _, s := range list {
			if len(out) < limit && len(query) > 0 && s.Name[0] == query[0] {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (f *fakeSource) StopTimesForStop(_ context.Context, stopID string, limit int) ([]StopTime, error) {
	f.count("stop_times")
	f.mu.Lock()
	if f.failTimes > 0 {
		f.failTimes--
		f.mu.Unlock()
		return nil, errors.New("connection reset")
	}
	f.mu.Unlock()
	sts := f.stopTimes[stopID]
	if len(sts) > limit {
		sts = sts[:limit]
	}
	return sts, nil
}

func (f *fakeSource) StopTimesForServices(_ context.Context, stopID string, ids []string, limit int) ([]StopTime, error) {
	f.count("active_stop_times")
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	running := make(map[string]bool)
	for _, t := range f.trips {
		if want[t.ServiceID] {
			running[t.TripID] = true
		}
	}
	var out []StopTime
	for _, st := range f.stopTimes[stopID] {
		if running[st.TripID] && len(out) < limit {
			out = append(out, st)
		}
	}
	return out, nil
}

func (f *fakeSource) TripsForServices(_ context.Context, ids []string) ([]Trip, error) {
	f.count("trips")
	if f.tripsErr != nil {
		return nil, f.tripsErr
	}
	return f.trips, nil
}

func (f *fakeSource) CalendarForDate(_ context.Context, _ time.Time) ([]CalendarRule, []CalendarException, error) {
	f.count("calendar")
	if f.calendarErr != nil {
		return nil, nil, f.calendarErr
	}
	return f.rules, f.exceptions, nil
}

type fakeRecent struct {
	mu     sync.Mutex
	routes map[int64][]string
}

func (r *fakeRecent) PushRecentRoute(_ context.Context, userID int64, route string, max int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.routes == nil {
		r.routes = map[int64][]string{}
	}
	r.routes[userID] = PushRecent(r.routes[userID], route, max)
	return nil
}

func (r *fakeRecent) RecentRoutes(_ context.Context, userID int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.routes[userID], nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []SearchEvent
}

func (e *fakeEvents) PublishSearch(_ context.Context, ev SearchEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

type countingMetrics struct {
	nopMetrics
	mu        sync.Mutex
	outcomes  map[string]int
	truncated int
	retries   int
}

func (m *countingMetrics) ObserveQuery(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[outcome]++
}

func (m *countingMetrics) StopTimesTruncated() {
	m.mu.Lock()
	m.truncated++
	m.mu.Unlock()
}

func (m *countingMetrics) FetchRetry(string) {
	m.mu.Lock()
	m.retries++
	m.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Wednesday.
var serviceDate = time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC)

func query() Query {
	return Query{
		From:          StopRef{Name: "Alpha"},
		To:            StopRef{Name: "Bravo"},
		ReferenceTime: "08:00:00",
		ReferenceDate: serviceDate,
	}
}

func newTestCache(t *testing.T) *cache.Cache {
	c := cache.New(time.UTC)
	t.Cleanup(c.Close)
	return c
}

func TestService_FindRoutes(t *testing.T) {
	src := newFakeSource()
	m := &countingMetrics{}
	svc := NewService(src, Config{Logger: quietLogger(), Metrics: m})

	res := svc.FindRoutes(context.Background(), query())
	assert.Empty(t, res.Error)
	require.Len(t, res.Routes, 1)
	assert.Equal(t, "Downtown", res.Routes[0].TripName)
	assert.Equal(t, "2025-06-18", res.Date)
	assert.Equal(t, 1, m.outcomes[OutcomeFound])
}

func TestService_Messages(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*fakeSource, *Query)
		want   string
		metric string
	}{
		{"missing from", func(_ *fakeSource, q *Query) { q.From = StopRef{} }, MsgMissingLocation, OutcomeInvalid},
		{"bad time", func(_ *fakeSource, q *Query) { q.ReferenceTime = "25:99" }, MsgInvalidTime, OutcomeInvalid},
		{"unknown origin", func(_ *fakeSource, q *Query) { q.From.Name = "Nowhere" }, MsgOriginNotFound, OutcomeEmpty},
		{"unknown destination", func(_ *fakeSource, q *Query) { q.To.Name = "Nowhere" }, MsgDestinationNotFound, OutcomeEmpty},
		{"weekend", func(_ *fakeSource, q *Query) { q.ReferenceDate = serviceDate.AddDate(0, 0, 3) }, "No transit service available for 2025-06-21", OutcomeEmpty},
		{"calendar failure", func(f *fakeSource, _ *Query) { f.calendarErr = errors.New("boom") }, "No transit service available for 2025-06-18", OutcomeEmpty},
		{"trips failure", func(f *fakeSource, _ *Query) { f.tripsErr = errors.New("boom") }, MsgUnavailable, OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource()
			q := query()
			tt.setup(src, &q)
			m := &countingMetrics{}
			svc := NewService(src, Config{Logger: quietLogger(), Metrics: m})

			res := svc.FindRoutes(context.Background(), q)
			assert.Equal(t, tt.want, res.Error)
			assert.NotNil(t, res.Routes)
			assert.Empty(t, res.Routes)
			assert.Equal(t, 1, m.outcomes[tt.metric])
		})
	}
}

func TestService_ExplicitStopIDs(t *testing.T) {
	src := newFakeSource()
	svc := NewService(src, Config{Logger: quietLogger()})

	q := query()
	q.From = StopRef{ID: "A"}
	q.To = StopRef{ID: "B", Name: "Bravo"}
	res := svc.FindRoutes(context.Background(), q)
	require.Len(t, res.Routes, 1)
	assert.Equal(t, 0, src.callCount("stops"))
}

func TestService_FuzzyFallback(t *testing.T) {
	src := newFakeSource()
	svc := NewService(src, Config{Logger: quietLogger(), FuzzyStops: true})

	q := query()
	q.From.Name = "Al"
	res := svc.FindRoutes(context.Background(), q)
	require.Len(t, res.Routes, 1)
	assert.Equal(t, "A", res.Routes[0].FromStopID)
}

// everyDay runs every day, so cached entries for tomorrow outlive the test.
func everyDay(src *fakeSource) Query {
	src.rules = []CalendarRule{{ServiceID: "WK", Days: [7]bool{true, true, true, true, true, true, true}, StartDate: "20000101", EndDate: "29991231"}}
	q := query()
	q.ReferenceDate = time.Now().UTC().AddDate(0, 0, 1)
	return q
}

func TestService_RouteCache(t *testing.T) {
	src := newFakeSource()
	ev := &fakeEvents{}
	svc := NewService(src, Config{Logger: quietLogger(), Cache: newTestCache(t), Events: ev})
	q := everyDay(src)

	first := svc.FindRoutes(context.Background(), q)
	second := svc.FindRoutes(context.Background(), q)
	require.Len(t, first.Routes, 1)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, src.callCount("calendar"))

	require.Len(t, ev.events, 2)
	assert.False(t, ev.events[0].Cached)
	assert.True(t, ev.events[1].Cached)
	assert.Equal(t, 1, ev.events[1].Routes)

	// A different minute is a different search.
	q.ReferenceTime = "08:01:00"
	svc.FindRoutes(context.Background(), q)
	assert.Equal(t, 2, src.callCount("calendar"))
}

func TestService_ErrorsNotCached(t *testing.T) {
	src := newFakeSource()
	svc := NewService(src, Config{Logger: quietLogger(), Cache: newTestCache(t)})
	q := everyDay(src)
	src.rules = nil

	svc.FindRoutes(context.Background(), q)
	res := svc.FindRoutes(context.Background(), q)
	assert.Contains(t, res.Error, "No transit service available")
	assert.Equal(t, 2, src.callCount("calendar"))
}

// withReturnTrip adds trip T2 running from Bravo back to Alpha.
func withReturnTrip(src *fakeSource) {
	src.stopTimes["B"] = append(src.stopTimes["B"], StopTime{TripID: "T2", StopID: "B", DepartureTime: "10:00:00", StopSequence: 1})
	src.stopTimes["A"] = append(src.stopTimes["A"], StopTime{TripID: "T2", StopID: "A", ArrivalTime: "10:30:00", StopSequence: 2})
	src.trips = append(src.trips, Trip{TripID: "T2", RouteID: "R1", ServiceID: "WK", TripHeadsign: "Uptown"})
}

func TestService_RecentRoutes(t *testing.T) {
	src := newFakeSource()
	withReturnTrip(src)
	recent := &fakeRecent{}
	svc := NewService(src, Config{Logger: quietLogger(), Recent: recent})
	ctx := context.Background()

	q := query()
	svc.FindRoutes(ctx, q)
	q.UserID = 7
	svc.FindRoutes(ctx, q)
	q.From, q.To = q.To, q.From
	svc.FindRoutes(ctx, q)
	q.From, q.To = q.To, q.From
	svc.FindRoutes(ctx, q)
	svc.Wait()

	got, err := svc.RecentRoutes(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha → Bravo", "Bravo → Alpha"}, got)

	anon, err := svc.RecentRoutes(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, anon)
}

func TestService_RecentRoutesOnlyWithResults(t *testing.T) {
	src := newFakeSource()
	recent := &fakeRecent{}
	svc := NewService(src, Config{Logger: quietLogger(), Recent: recent})
	ctx := context.Background()

	// No trip runs from Bravo to Alpha.
	q := query()
	q.UserID = 7
	q.From, q.To = q.To, q.From
	res := svc.FindRoutes(ctx, q)
	assert.Equal(t, MsgNoDirectRoutes, res.Error)

	q = query()
	q.UserID = 7
	q.To.Name = "Nowhere"
	res = svc.FindRoutes(ctx, q)
	assert.Equal(t, MsgDestinationNotFound, res.Error)

	src.failTimes = 1
	q = query()
	q.UserID = 7
	res = svc.FindRoutes(ctx, q)
	assert.Equal(t, MsgUnavailable, res.Error)
	svc.Wait()

	got, err := svc.RecentRoutes(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestService_RecentRoutesCachedHit(t *testing.T) {
	src := newFakeSource()
	recent := &fakeRecent{}
	svc := NewService(src, Config{Logger: quietLogger(), Recent: recent, Cache: newTestCache(t)})
	ctx := context.Background()

	q := everyDay(src)
	svc.FindRoutes(ctx, q)
	q.UserID = 7
	res := svc.FindRoutes(ctx, q)
	require.Len(t, res.Routes, 1)
	svc.Wait()

	assert.Equal(t, 1, src.callCount("calendar"))
	got, err := svc.RecentRoutes(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha → Bravo"}, got)
}

// orderedRecent logs every write and the peak number running at once.
type orderedRecent struct {
	fakeRecent
	mu          sync.Mutex
	log         []string
	inFlight    int
	maxInFlight int
}

func (r *orderedRecent) PushRecentRoute(ctx context.Context, userID int64, route string, max int) error {
	r.mu.Lock()
	r.inFlight++
	r.maxInFlight = maxInt(r.maxInFlight, r.inFlight)
	r.log = append(r.log, route)
	r.mu.Unlock()

	time.Sleep(100 * time.Microsecond)
	err := r.fakeRecent.PushRecentRoute(ctx, userID, route, max)

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
	return err
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func TestService_RecentRoutesWrittenInOrder(t *testing.T) {
	src := newFakeSource()
	withReturnTrip(src)
	recent := &orderedRecent{}
	svc := NewService(src, Config{Logger: quietLogger(), Recent: recent})
	ctx := context.Background()

	var want []string
	q := query()
	q.UserID = 7
	for i := 0; i < 50; i++ {
		svc.FindRoutes(ctx, q)
		want = append(want, RecentRouteLabel(q.From.Name, q.To.Name))
		q.From, q.To = q.To, q.From
	}
	svc.Wait()

	assert.Equal(t, want, recent.log)
	assert.Equal(t, 1, recent.maxInFlight)

	got, err := svc.RecentRoutes(ctx, 7)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, want[len(want)-1], got[0])
}

func TestService_Truncation(t *testing.T) {
	src := newFakeSource()
	src.stopTimes["A"] = append(src.stopTimes["A"], StopTime{TripID: "T9", StopID: "A", DepartureTime: "10:00:00", StopSequence: 1})
	src.trips = append(src.trips, Trip{TripID: "T9", RouteID: "R9", ServiceID: "WK"})
	m := &countingMetrics{}
	svc := NewService(src, Config{Logger: quietLogger(), Metrics: m, StopTimesLimit: 2})

	res := svc.FindRoutes(context.Background(), query())
	require.Len(t, res.Routes, 1)
	assert.Equal(t, 1, m.truncated)
}

func TestService_TruncationNarrowedToActiveServices(t *testing.T) {
	src := newFakeSource()
	// Weekend trips fill the cap ahead of the weekday trip.
	src.stopTimes["A"] = []StopTime{
		{TripID: "W1", StopID: "A", DepartureTime: "07:00:00", StopSequence: 1},
		{TripID: "W2", StopID: "A", DepartureTime: "07:30:00", StopSequence: 1},
		{TripID: "T1", StopID: "A", DepartureTime: "09:00:00", StopSequence: 1},
	}
	src.trips = append(src.trips,
		Trip{TripID: "W1", RouteID: "R1", ServiceID: "WE"},
		Trip{TripID: "W2", RouteID: "R1", ServiceID: "WE"},
	)
	m := &countingMetrics{}
	svc := NewService(src, Config{Logger: quietLogger(), Metrics: m, StopTimesLimit: 2})

	res := svc.FindRoutes(context.Background(), query())
	assert.Empty(t, res.Error)
	require.Len(t, res.Routes, 1)
	assert.Equal(t, "T1", res.Routes[0].TripID)
	assert.Equal(t, 0, m.truncated)
	assert.Equal(t, 1, src.callCount("active_stop_times"))
}

func TestService_TruncationKeepsListWhenNothingActive(t *testing.T) {
	src := newFakeSource()
	src.stopTimes["A"] = []StopTime{
		{TripID: "W1", StopID: "A", DepartureTime: "07:00:00", StopSequence: 1},
	}
	src.trips = append(src.trips, Trip{TripID: "W1", RouteID: "R1", ServiceID: "WE"})
	svc := NewService(src, Config{Logger: quietLogger(), StopTimesLimit: 1})

	res := svc.FindRoutes(context.Background(), query())
	assert.Equal(t, MsgNoDirectRoutes, res.Error)
}

func TestService_Retry(t *testing.T) {
	src := newFakeSource()
	src.failTimes = 2
	m := &countingMetrics{}
	retrying := WithRetry(src, 3, time.Millisecond, quietLogger(), m)
	svc := NewService(retrying, Config{Logger: quietLogger()})

	res := svc.FindRoutes(context.Background(), query())
	assert.Empty(t, res.Error)
	assert.Equal(t, 2, m.retries)
}

func TestWithRetry_GivesUp(t *testing.T) {
	src := newFakeSource()
	src.failTimes = 10
	r := WithRetry(src, 3, time.Millisecond, quietLogger(), nil)

	_, err := r.StopTimesForStop(context.Background(), "A", 10)
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, 3, src.callCount("stop_times"))
}

func TestWithRetry_Cancelled(t *testing.T) {
	src := newFakeSource()
	src.failTimes = 10
	r := WithRetry(src, 5, time.Hour, quietLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := r.StopTimesForStop(ctx, "A", 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, src.callCount("stop_times"))
}

func TestCachedSource(t *testing.T) {
	src := newFakeSource()
	cs := NewCachedSource(src, newTestCache(t), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cs.StopsByName(ctx, "Alpha")
		require.NoError(t, err)
		_, err = cs.StopTimesForStop(ctx, "A", 500)
		require.NoError(t, err)
		_, err = cs.TripsForServices(ctx, []string{"WK"})
		require.NoError(t, err)
		_, _, err = cs.CalendarForDate(ctx, time.Now().AddDate(0, 0, 1))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, src.callCount("stops"))
	assert.Equal(t, 1, src.callCount("stop_times"))
	assert.Equal(t, 1, src.callCount("trips"))
	assert.Equal(t, 1, src.callCount("calendar"))

	cs.Clear()
	_, err := cs.StopTimesForStop(ctx, "A", 500)
	require.NoError(t, err)
	assert.Equal(t, 2, src.callCount("stop_times"))
}

func TestCachedSource_StopNamesAreCaseSensitive(t *testing.T) {
	src := newFakeSource()
	cs := NewCachedSource(src, newTestCache(t), nil)
	svc := NewService(cs, Config{Logger: quietLogger()})
	ctx := context.Background()

	q := everyDay(src)
	q.From.Name = "alpha"
	res := svc.FindRoutes(ctx, q)
	assert.Equal(t, MsgOriginNotFound, res.Error)

	q.From.Name = "Alpha"
	res = svc.FindRoutes(ctx, q)
	assert.Empty(t, res.Error)
	require.Len(t, res.Routes, 1)
}

func TestService_RouteCacheKeepsNameCase(t *testing.T) {
	src := newFakeSource()
	svc := NewService(src, Config{Logger: quietLogger(), Cache: newTestCache(t)})
	ctx := context.Background()

	q := everyDay(src)
	res := svc.FindRoutes(ctx, q)
	require.Len(t, res.Routes, 1)

	q.From.Name = "alpha"
	res = svc.FindRoutes(ctx, q)
	assert.Equal(t, MsgOriginNotFound, res.Error)
	assert.Empty(t, res.Routes)
}

func TestSuggestStops(t *testing.T) {
	src := newFakeSource()
	src.stops["Alpha"] = append(src.stops["Alpha"], Stop{StopID: "A2", Name: "Alpha"})
	svc := NewService(src, Config{Logger: quietLogger()})

	got, err := svc.SuggestStops(context.Background(), "A", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Alpha", got[0].Name)

	got, err = svc.SuggestStops(context.Background(), "  ", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPushRecent(t *testing.T) {
	var list []string
	for _, r := range []string{"a", "b", "c", "a"} {
		list = PushRecent(list, r, 3)
	}
	assert.Equal(t, []string{"a", "c", "b"}, list)

	for _, r := range []string{"d", "e"} {
		list = PushRecent(list, r, 3)
	}
	assert.Equal(t, []string{"e", "d", "a"}, list)
}

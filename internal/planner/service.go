package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gotransit/internal/cache"
)

const (
	// DefaultStopTimesLimit caps the stop times read per stop.
	DefaultStopTimesLimit = 500

	recentRouteTimeout = 5 * time.Second
)

// Config wires optional collaborators into a Service. Nil fields are skipped.
type Config struct {
	StopTimesLimit int
	FuzzyStops     bool
	Cache          *cache.Cache
	Recent         RecentRouteStore
	Events         EventPublisher
	Metrics        Metrics
	Logger         *slog.Logger
}

// Service answers route queries: it resolves stops, gathers schedule data
// and hands it to the matcher.
type Service struct {
	src     ScheduleSource
	cfg     Config
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time

	recentMu sync.Mutex
	pending  []recentWrite
	draining bool
	wg       sync.WaitGroup
}

// NewService creates a query service reading from src.
func NewService(src ScheduleSource, cfg Config) *Service {
	if cfg.StopTimesLimit <= 0 {
		cfg.StopTimesLimit = DefaultStopTimesLimit
	}
	s := &Service{src: src, cfg: cfg, logger: cfg.Logger, metrics: cfg.Metrics, now: time.Now}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	return s
}

// Query is one route search.
type Query struct {
	From          StopRef
	To            StopRef
	ReferenceTime string    // HH:MM:SS
	ReferenceDate time.Time // service date to search
	UserID        int64     // 0 when anonymous
}

// FindRoutes runs a search. Problems are reported in Result.Error; the
// details of data-layer failures are logged and replaced by MsgUnavailable.
func (s *Service) FindRoutes(ctx context.Context, q Query) Result {
	start := s.now()
	if q.ReferenceDate.IsZero() {
		q.ReferenceDate = start
	}
	date := q.ReferenceDate.Format(DateLayout)

	if q.From.Empty() || q.To.Empty() {
		s.metrics.ObserveQuery(OutcomeInvalid, s.now().Sub(start))
		return Result{Routes: []RouteResult{}, Error: MsgMissingLocation, Date: date}
	}
	if q.ReferenceTime == "" {
		q.ReferenceTime = "00:00:00"
	}
	if _, err := TimeToMinutes(q.ReferenceTime); err != nil {
		s.metrics.ObserveQuery(OutcomeInvalid, s.now().Sub(start))
		return Result{Routes: []RouteResult{}, Error: MsgInvalidTime, Date: date}
	}

	key := routeCacheKey(q)
	if s.cfg.Cache != nil {
		if v, ok := s.cfg.Cache.Get(key); ok {
			s.metrics.CacheHit("routes")
			res := v.(Result)
			s.finish(ctx, q, res, true, start)
			return res
		}
		s.metrics.CacheMiss("routes")
	}

	res, err := s.search(ctx, q)
	if err != nil {
		s.logger.Error("route search failed",
			"from", q.From.Label(), "to", q.To.Label(), "date", date, "error", err)
		res = Result{Routes: []RouteResult{}, Error: MsgUnavailable, Date: date}
		s.metrics.ObserveQuery(OutcomeFailed, s.now().Sub(start))
		s.publish(ctx, q, res, false)
		return res
	}

	if s.cfg.Cache != nil && res.Error == "" {
		s.cfg.Cache.SetForDay(key, res, q.ReferenceDate)
	}
	s.finish(ctx, q, res, false, start)
	return res
}

func (s *Service) finish(ctx context.Context, q Query, res Result, cached bool, start time.Time) {
	outcome := OutcomeFound
	if len(res.Routes) == 0 {
		outcome = OutcomeEmpty
	}
	s.metrics.ObserveQuery(outcome, s.now().Sub(start))
	if len(res.Routes) > 0 {
		s.recordRecent(ctx, q)
	}
	s.publish(ctx, q, res, cached)
}

func (s *Service) search(ctx context.Context, q Query) (Result, error) {
	in := MatchInput{
		ReferenceTime: q.ReferenceTime,
		ReferenceDate: q.ReferenceDate,
		FromLabel:     q.From.Label(),
		ToLabel:       q.To.Label(),
	}

	var err error
	in.FromStops, err = ResolveStops(ctx, s.src, q.From, s.cfg.FuzzyStops)
	if err != nil {
		return Result{}, fmt.Errorf("resolve origin: %w", err)
	}
	if len(in.FromStops) == 0 {
		return Match(in)
	}
	in.ToStops, err = ResolveStops(ctx, s.src, q.To, s.cfg.FuzzyStops)
	if err != nil {
		return Result{}, fmt.Errorf("resolve destination: %w", err)
	}
	if len(in.ToStops) == 0 {
		return Match(in)
	}

	fromTimes := make([][]StopTime, len(in.FromStops))
	toTimes := make([][]StopTime, len(in.ToStops))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rules, exceptions, err := s.src.CalendarForDate(gctx, q.ReferenceDate)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			// Treated as no service for the day.
			s.logger.Warn("calendar fetch failed", "date", gtfsDate(q.ReferenceDate), "error", err)
			in.Active = ServiceSet{}
			return nil
		}
		in.Active = ActiveServices(q.ReferenceDate, rules, exceptions)
		if len(in.Active) == 0 {
			return nil
		}
		trips, err := s.src.TripsForServices(gctx, in.Active.IDs())
		if err != nil {
			return fmt.Errorf("trips: %w", err)
		}
		in.Trips = trips
		return nil
	})
	for i, stop := range in.FromStops {
		g.Go(func() error {
			sts, err := s.stopTimes(gctx, stop.StopID)
			fromTimes[i] = sts
			return err
		})
	}
	for i, stop := range in.ToStops {
		g.Go(func() error {
			sts, err := s.stopTimes(gctx, stop.StopID)
			toTimes[i] = sts
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	if err := s.narrowTruncated(ctx, in.Active, in.FromStops, fromTimes); err != nil {
		return Result{}, err
	}
	if err := s.narrowTruncated(ctx, in.Active, in.ToStops, toTimes); err != nil {
		return Result{}, err
	}

	in.FromStopTimes = flatten(fromTimes)
	in.ToStopTimes = flatten(toTimes)
	return Match(in)
}

func (s *Service) stopTimes(ctx context.Context, stopID string) ([]StopTime, error) {
	limit := s.cfg.StopTimesLimit
	sts, err := s.src.StopTimesForStop(ctx, stopID, limit)
	if err != nil {
		return nil, fmt.Errorf("stop times for %s: %w", stopID, err)
	}
	return sts, nil
}

// narrowTruncated refetches stop-time lists that hit the cap, keeping only
// trips of the active services. A list still at the cap is reported as
// truncated. An empty narrowed list leaves the original in place, so the
// "no departures" messages keep describing the stop itself.
func (s *Service) narrowTruncated(ctx context.Context, active ServiceSet, stops []Stop, times [][]StopTime) error {
	limit := s.cfg.StopTimesLimit
	g, gctx := errgroup.WithContext(ctx)
	for i, stop := range stops {
		if len(times[i]) < limit {
			continue
		}
		if len(active) == 0 {
			s.truncated(stop.StopID)
			continue
		}
		g.Go(func() error {
			sts, err := s.src.StopTimesForServices(gctx, stop.StopID, active.IDs(), limit)
			if err != nil {
				return fmt.Errorf("active stop times for %s: %w", stop.StopID, err)
			}
			if len(sts) >= limit {
				s.truncated(stop.StopID)
			}
			if len(sts) > 0 {
				times[i] = sts
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) truncated(stopID string) {
	s.logger.Warn("stop times truncated", "stop_id", stopID, "limit", s.cfg.StopTimesLimit)
	s.metrics.StopTimesTruncated()
}

type recentWrite struct {
	ctx    context.Context
	userID int64
	route  string
}

// recordRecent queues the route for the user's history without holding up
// the query. Writes run one at a time in the order they were queued.
func (s *Service) recordRecent(ctx context.Context, q Query) {
	if s.cfg.Recent == nil || q.UserID == 0 {
		return
	}
	w := recentWrite{
		ctx:    context.WithoutCancel(ctx),
		userID: q.UserID,
		route:  RecentRouteLabel(q.From.Label(), q.To.Label()),
	}

	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	s.pending = append(s.pending, w)
	if !s.draining {
		s.draining = true
		s.wg.Add(1)
		go s.drainRecent()
	}
}

func (s *Service) drainRecent() {
	defer s.wg.Done()
	for {
		s.recentMu.Lock()
		if len(s.pending) == 0 {
			s.draining = false
			s.recentMu.Unlock()
			return
		}
		w := s.pending[0]
		s.pending = s.pending[1:]
		s.recentMu.Unlock()

		ctx, cancel := context.WithTimeout(w.ctx, recentRouteTimeout)
		if err := s.cfg.Recent.PushRecentRoute(ctx, w.userID, w.route, MaxRecentRoutes); err != nil {
			s.logger.Warn("saving recent route failed", "user_id", w.userID, "error", err)
		}
		cancel()
	}
}

func (s *Service) publish(ctx context.Context, q Query, res Result, cached bool) {
	if s.cfg.Events == nil {
		return
	}
	ev := SearchEvent{
		From:   q.From.Label(),
		To:     q.To.Label(),
		Date:   res.Date,
		Time:   q.ReferenceTime,
		Routes: len(res.Routes),
		Error:  res.Error,
		Cached: cached,
		At:     s.now().UTC(),
	}
	if err := s.cfg.Events.PublishSearch(ctx, ev); err != nil {
		s.logger.Warn("publishing search event failed", "error", err)
	}
}

// Wait blocks until queued recent-route writes have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// RecentRoutes returns a user's recent searches, newest first.
func (s *Service) RecentRoutes(ctx context.Context, userID int64) ([]string, error) {
	if s.cfg.Recent == nil || userID == 0 {
		return nil, nil
	}
	return s.cfg.Recent.RecentRoutes(ctx, userID)
}

// SuggestStops returns stops loosely matching query, one per distinct name.
func (s *Service) SuggestStops(ctx context.Context, query string, limit int) ([]Stop, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Stop{}, nil
	}
	stops, err := s.src.SearchStops(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(stops))
	out := make([]Stop, 0, len(stops))
	for _, st := range stops {
		if seen[st.Name] {
			continue
		}
		seen[st.Name] = true
		out = append(out, st)
	}
	return out, nil
}

func routeCacheKey(q Query) string {
	return fmt.Sprintf("route:%s:%s:%s:%s",
		refKey(q.From), refKey(q.To), clockKey(q.ReferenceTime), q.ReferenceDate.Format(DateLayout))
}

func refKey(r StopRef) string {
	if id := strings.TrimSpace(r.ID); id != "" {
		return "#" + id
	}
	return strings.TrimSpace(r.Name)
}

// clockKey trims seconds so queries within the same minute share an entry.
func clockKey(t string) string {
	h, m, err := parseClock(t)
	if err != nil {
		return t
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

func flatten(parts [][]StopTime) []StopTime {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]StopTime, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

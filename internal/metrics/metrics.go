package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry with the application's metrics.
type Collector struct {
	reg *prometheus.Registry

	Queries       *prometheus.CounterVec // outcome label
	QueryDuration prometheus.Histogram
	CacheLookups  *prometheus.CounterVec // cache, result labels
	FetchRetries  *prometheus.CounterVec // op label
	Truncations   prometheus.Counter

	FeedImports *prometheus.CounterVec // result label: ok|rejected|failed
	FeedAge     prometheus.Gauge

	EventsPublished prometheus.Counter
	EventErrors     prometheus.Counter
	NATSConnected   prometheus.Gauge

	HTTPRequests *prometheus.CounterVec // code label
	RateLimited  prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gotransit_route_queries_total",
			Help: "Route queries by outcome.",
		}, []string{"outcome"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gotransit_route_query_duration_seconds",
			Help:    "Time to answer a route query.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gotransit_cache_lookups_total",
			Help: "Cache lookups by cache name and result.",
		}, []string{"cache", "result"}),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gotransit_fetch_retries_total",
			Help: "Schedule fetches retried after an error.",
		}, []string{"op"}),
		Truncations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gotransit_stop_times_truncated_total",
			Help: "Stop-time fetches that hit the row cap.",
		}),
		FeedImports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gotransit_feed_imports_total",
			Help: "GTFS feed import attempts by result.",
		}, []string{"result"}),
		FeedAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gotransit_feed_imported_timestamp_seconds",
			Help: "Unix time of the last successful feed import.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gotransit_events_published_total",
			Help: "Search events published to NATS.",
		}),
		EventErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gotransit_event_publish_errors_total",
			Help: "Search events that failed to publish.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gotransit_nats_connected",
			Help: "1 if the NATS connection is established, 0 otherwise.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gotransit_http_requests_total",
			Help: "HTTP requests by status code.",
		}, []string{"code"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gotransit_http_rate_limited_total",
			Help: "API requests rejected by the rate limiter.",
		}),
	}

	reg.MustRegister(
		c.Queries, c.QueryDuration, c.CacheLookups, c.FetchRetries, c.Truncations,
		c.FeedImports, c.FeedAge,
		c.EventsPublished, c.EventErrors, c.NATSConnected,
		c.HTTPRequests, c.RateLimited,
	)
	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

func (c *Collector) ObserveQuery(outcome string, d time.Duration) {
	c.Queries.WithLabelValues(outcome).Inc()
	c.QueryDuration.Observe(d.Seconds())
}

func (c *Collector) CacheHit(name string)  { c.CacheLookups.WithLabelValues(name, "hit").Inc() }
func (c *Collector) CacheMiss(name string) { c.CacheLookups.WithLabelValues(name, "miss").Inc() }
func (c *Collector) FetchRetry(op string)  { c.FetchRetries.WithLabelValues(op).Inc() }
func (c *Collector) StopTimesTruncated()   { c.Truncations.Inc() }

// FeedImported records one import attempt. at is ignored unless result is "ok".
func (c *Collector) FeedImported(result string, at time.Time) {
	c.FeedImports.WithLabelValues(result).Inc()
	if result == "ok" {
		c.FeedAge.Set(float64(at.Unix()))
	}
}

func (c *Collector) EventPublished()     { c.EventsPublished.Inc() }
func (c *Collector) EventPublishFailed() { c.EventErrors.Inc() }

func (c *Collector) SetNATSConnected(ok bool) {
	if ok {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) Request(code string) { c.HTTPRequests.WithLabelValues(code).Inc() }
func (c *Collector) Limited()            { c.RateLimited.Inc() }

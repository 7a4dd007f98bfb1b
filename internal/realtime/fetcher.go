package realtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// maxFeedSize caps the alerts payload.
const maxFeedSize = 16 << 20

// Fetcher polls a GTFS-Realtime alerts feed into a Store.
type Fetcher struct {
	url    string
	store  *Store
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewFetcher(url string, store *Store, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		url:    url,
		store:  store,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
		now:    time.Now,
	}
}

// Run fetches immediately and then every interval until ctx is done.
// A failed fetch keeps the previous snapshot.
func (f *Fetcher) Run(ctx context.Context, interval time.Duration) {
	f.poll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.poll(ctx)
		case <-ctx.Done():
			f.logger.Info("alerts fetcher stopped")
			return
		}
	}
}

func (f *Fetcher) poll(ctx context.Context) {
	n, err := f.Fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			f.logger.Warn("alerts feed unavailable", "error", err)
		}
		return
	}
	f.logger.Debug("alerts updated", "count", n)
}

// Fetch downloads and parses the feed once and returns the alert count.
func (f *Fetcher) Fetch(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("alerts feed returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return 0, fmt.Errorf("read alerts: %w", err)
	}

	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return 0, fmt.Errorf("parse alerts: %w", err)
	}
	alerts := parseAlerts(feed)
	f.store.SetAlerts(alerts, f.now())
	return len(alerts), nil
}

func parseAlerts(feed *gtfs.FeedMessage) []Alert {
	var alerts []Alert
	for _, entity := range feed.GetEntity() {
		a := entity.GetAlert()
		if a == nil || entity.GetIsDeleted() {
			continue
		}
		alert := Alert{
			ID:     entity.GetId(),
			Header: translation(a.GetHeaderText()),
			Desc:   translation(a.GetDescriptionText()),
			Effect: a.GetEffect().String(),
			Cause:  a.GetCause().String(),
		}
		for _, p := range a.GetActivePeriod() {
			var period Period
			if p.Start != nil {
				period.Start = time.Unix(int64(p.GetStart()), 0)
			}
			if p.End != nil {
				period.End = time.Unix(int64(p.GetEnd()), 0)
			}
			alert.Periods = append(alert.Periods, period)
		}

		routes := make(map[string]bool)
		stops := make(map[string]bool)
		for _, ie := range a.GetInformedEntity() {
			rid := ie.GetRouteId()
			if rid == "" {
				rid = ie.GetTrip().GetRouteId()
			}
			if rid != "" && !routes[rid] {
				alert.RouteIDs = append(alert.RouteIDs, rid)
				routes[rid] = true
			}
			if sid := ie.GetStopId(); sid != "" && !stops[sid] {
				alert.StopIDs = append(alert.StopIDs, sid)
				stops[sid] = true
			}
		}
		alerts = append(alerts, alert)
	}
	return alerts
}

// translation prefers English and falls back to the first non-empty text.
func translation(ts *gtfs.TranslatedString) string {
	var first string
	for _, t := range ts.GetTranslation() {
		text := t.GetText()
		if text == "" {
			continue
		}
		if lang := t.GetLanguage(); lang == "en" || lang == "en-US" {
			return text
		}
		if first == "" {
			first = text
		}
	}
	return first
}

// EffectLabel returns a human-readable effect.
func EffectLabel(effect string) string {
	switch effect {
	case "NO_SERVICE":
		return "No Service"
	case "REDUCED_SERVICE":
		return "Reduced Service"
	case "SIGNIFICANT_DELAYS":
		return "Significant Delays"
	case "DETOUR":
		return "Detour"
	case "ADDITIONAL_SERVICE":
		return "Additional Service"
	case "MODIFIED_SERVICE":
		return "Modified Service"
	case "STOP_MOVED":
		return "Stop Moved"
	default:
		return "Alert"
	}
}

package gtfs

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"gotransit/internal/storage"
)

// Scheduler keeps the imported schedule in step with the published feed.
type Scheduler struct {
	downloader *Downloader
	importer   *Importer
	db         *storage.DB
	loc        *time.Location
	logger     *slog.Logger
	onUpdate   func()
	metrics    ImportMetrics
	now        func() time.Time

	mu            sync.Mutex
	updating      sync.Mutex
	lastCheckDate string // YYYY-MM-DD of last check, prevents multiple checks per day
}

// NewScheduler creates a Scheduler. Day boundaries and the nightly check
// use loc. onUpdate, if set, runs after every successful import.
func NewScheduler(downloader *Downloader, db *storage.DB, loc *time.Location, onUpdate func(), logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		downloader: downloader,
		importer:   NewImporter(db, logger),
		db:         db,
		loc:        loc,
		logger:     logger,
		onUpdate:   onUpdate,
		now:        time.Now,
	}
}

// ImportMetrics observes import attempts. result is "ok", "rejected" or "failed".
type ImportMetrics interface {
	FeedImported(result string, at time.Time)
}

// SetMetrics attaches an import observer. Call before starting the scheduler.
func (s *Scheduler) SetMetrics(m ImportMetrics) {
	s.metrics = m
}

// EnsureData downloads and imports GTFS data if the database is empty.
// Called on startup.
func (s *Scheduler) EnsureData(ctx context.Context) error {
	if s.db.HasData(ctx) {
		s.logger.Info("GTFS data already present")
		return nil
	}
	s.logger.Info("no GTFS data found, performing initial import")
	return s.Update(ctx)
}

// CheckAndUpdate checks if the feed has been updated and imports it if so.
// Only checks once per calendar day.
func (s *Scheduler) CheckAndUpdate(ctx context.Context) error {
	s.mu.Lock()
	today := s.now().In(s.loc).Format("2006-01-02")
	if s.lastCheckDate == today {
		s.mu.Unlock()
		return nil
	}
	s.lastCheckDate = today
	s.mu.Unlock()

	lastModified, _ := s.db.GetMetadata(ctx, "last_modified")
	etag, _ := s.db.GetMetadata(ctx, "etag")

	result, err := s.downloader.Check(ctx, lastModified, etag)
	if err != nil {
		return err
	}
	if !result.NeedsUpdate {
		return nil
	}

	return s.Update(ctx)
}

// StartBackground runs the 3 AM daily check until the context is cancelled.
func (s *Scheduler) StartBackground(ctx context.Context) {
	s.logger.Info("GTFS background scheduler started")

	for {
		next := nextCheck(s.now(), s.loc)
		s.logger.Info("next GTFS check scheduled", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			if err := s.CheckAndUpdate(ctx); err != nil {
				s.logger.Error("background GTFS update failed", "error", err)
			}
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("GTFS background scheduler stopped")
			return
		}
	}
}

// Update performs a full download, validate and import cycle. A feed that
// fails validation is discarded and the current schedule stays.
func (s *Scheduler) Update(ctx context.Context) (err error) {
	s.updating.Lock()
	defer s.updating.Unlock()
	defer func() { s.observe(err) }()

	zipPath, version, err := s.downloader.Download(ctx)
	if err != nil {
		return err
	}
	defer os.Remove(zipPath)

	summary, err := Validate(zipPath, s.logger)
	if err != nil {
		return err
	}
	if summary.Timezone != "" && summary.Timezone != s.loc.String() {
		s.logger.Warn("feed timezone differs from configured timezone",
			"feed", summary.Timezone, "configured", s.loc.String())
	}

	if err := s.importer.Import(ctx, zipPath, version); err != nil {
		return err
	}
	if s.onUpdate != nil {
		s.onUpdate()
	}
	return nil
}

func (s *Scheduler) observe(err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case err == nil:
		s.metrics.FeedImported("ok", s.now())
	case errors.Is(err, ErrInvalidFeed):
		s.metrics.FeedImported("rejected", s.now())
	default:
		s.metrics.FeedImported("failed", s.now())
	}
}

// nextCheck returns the next 3:00 AM in loc after now.
func nextCheck(now time.Time, loc *time.Location) time.Time {
	now = now.In(loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

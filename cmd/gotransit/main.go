package main

import (
	"context"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gotransit/internal/cache"
	"gotransit/internal/config"
	"gotransit/internal/events"
	"gotransit/internal/gtfs"
	"gotransit/internal/handler"
	"gotransit/internal/metrics"
	"gotransit/internal/pgstore"
	"gotransit/internal/planner"
	"gotransit/internal/realtime"
	"gotransit/internal/server"
	"gotransit/internal/storage"
	"gotransit/web"
)

const alertsInterval = 60 * time.Second

// scheduleStore is a database the planner and the shape endpoint can read.
type scheduleStore interface {
	planner.ScheduleSource
	handler.ShapeSource
	HasData(ctx context.Context) bool
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// CLI flags
	importOnly := flag.Bool("import-gtfs", false, "Download and import GTFS data, then exit")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.GTFSDir, "gtfs-dir", cfg.GTFSDir, "Directory for GTFS data files")
	flag.Parse()
	cfg.ImportGTFS = *importOnly

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	m := metrics.NewCollector()
	loc := cfg.Location()

	var scheduler *gtfs.Scheduler
	var onUpdate func()
	if cfg.GTFSURL != "" {
		downloader := gtfs.NewDownloader(cfg.GTFSURL, cfg.GTFSDir, logger)
		scheduler = gtfs.NewScheduler(downloader, db, loc, func() {
			if onUpdate != nil {
				onUpdate()
			}
		}, logger)
		scheduler.SetMetrics(m)
	}

	if cfg.ImportGTFS {
		if scheduler == nil {
			logger.Info("no GTFS feed configured, nothing to import")
			return nil
		}
		logger.Info("force importing GTFS data")
		if err := scheduler.Update(ctx); err != nil {
			return err
		}
		logger.Info("GTFS import complete")
		return nil
	}

	// Schedule and shapes: the local SQLite import, or a shared PostGIS database.
	var src scheduleStore = db
	if cfg.PostgresDSN != "" {
		pg, err := pgstore.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		logger.Info("reading schedule from postgres")
		src = pg
	}

	c := cache.New(loc)
	defer c.Close()
	schedule := planner.NewCachedSource(
		planner.WithRetry(src, cfg.FetchRetries, cfg.FetchRetryDelay, logger, m), c, m)

	var publisher planner.EventPublisher
	if cfg.NATSURL != "" {
		p, err := events.Connect(cfg.NATSURL, cfg.NATSSubject, m, logger)
		if err != nil {
			// Search events are optional; keep serving without them.
			logger.Warn("nats unavailable, search events disabled", "error", err)
		} else {
			defer p.Close()
			publisher = p
		}
	}

	svc := planner.NewService(schedule, planner.Config{
		StopTimesLimit: cfg.StopTimesLimit,
		FuzzyStops:     cfg.FuzzyStops,
		Cache:          c,
		Recent:         db,
		Events:         publisher,
		Metrics:        m,
		Logger:         logger,
	})
	defer svc.Wait()

	alerts := realtime.NewStore()
	if cfg.AlertsURL != "" {
		go realtime.NewFetcher(cfg.AlertsURL, alerts, logger).Run(ctx, alertsInterval)
	}

	static, err := fs.Sub(web.StaticFiles, "static")
	if err != nil {
		return err
	}

	h, err := handler.New(handler.Deps{
		Service:  svc,
		Users:    db,
		Shapes:   src,
		Cache:    c,
		Schedule: schedule,
		Alerts:   alerts,
		Static:   static,
	}, cfg, logger)
	if err != nil {
		return err
	}

	opts := server.Options{
		Static:  static,
		Metrics: m,
		Ready:   src.HasData(ctx),
	}
	if scheduler != nil {
		opts.OnVisit = func() {
			if err := scheduler.CheckAndUpdate(ctx); err != nil {
				logger.Error("daily GTFS check failed", "error", err)
			}
		}
	}
	srv, err := server.New(cfg, h, opts, logger)
	if err != nil {
		return err
	}

	onUpdate = func() {
		schedule.Clear()
		if src.HasData(ctx) {
			srv.SetReady()
		}
	}

	if scheduler != nil {
		// First import runs in the background; the server answers with a
		// loading page until it finishes.
		go func() {
			if err := scheduler.EnsureData(ctx); err != nil {
				logger.Error("failed to ensure GTFS data", "error", err)
			}
		}()
		go scheduler.StartBackground(ctx)
	}

	return srv.Run(ctx)
}

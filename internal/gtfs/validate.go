package gtfs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	jgtfs "github.com/jamespfennell/gtfs"
)

// ErrInvalidFeed wraps every reason a feed is rejected before import.
var ErrInvalidFeed = errors.New("invalid GTFS feed")

// FeedSummary describes a feed that passed validation.
type FeedSummary struct {
	Agencies int
	Routes   int
	Stops    int
	Trips    int
	Services int
	Warnings int
	Timezone string // first agency's timezone
}

// Validate fully parses the zip at path and rejects feeds that are
// unreadable or carry no schedule. Parse warnings are logged, not fatal.
func Validate(path string, logger *slog.Logger) (FeedSummary, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return FeedSummary{}, fmt.Errorf("read feed: %w", err)
	}

	static, err := jgtfs.ParseStatic(b, jgtfs.ParseStaticOptions{})
	if err != nil {
		return FeedSummary{}, fmt.Errorf("%w: %v", ErrInvalidFeed, err)
	}

	sum := FeedSummary{
		Agencies: len(static.Agencies),
		Routes:   len(static.Routes),
		Stops:    len(static.Stops),
		Trips:    len(static.Trips),
		Services: len(static.Services),
		Warnings: len(static.Warnings),
	}
	if len(static.Agencies) > 0 {
		sum.Timezone = static.Agencies[0].Timezone
	}

	switch {
	case sum.Stops == 0:
		return sum, fmt.Errorf("%w: no stops", ErrInvalidFeed)
	case sum.Trips == 0:
		return sum, fmt.Errorf("%w: no trips", ErrInvalidFeed)
	case sum.Services == 0:
		return sum, fmt.Errorf("%w: no service calendar", ErrInvalidFeed)
	}

	logger.Info("GTFS feed validated",
		"agencies", sum.Agencies,
		"routes", sum.Routes,
		"stops", sum.Stops,
		"trips", sum.Trips,
		"warnings", sum.Warnings,
	)
	return sum, nil
}

package planner

import (
	"context"
	"fmt"
	"strings"
)

// StopFinder looks stops up by name.
type StopFinder interface {
	// StopsByName returns every stop whose name matches exactly.
	StopsByName(ctx context.Context, name string) ([]Stop, error)
	// SearchStops returns stops whose name loosely matches query.
	SearchStops(ctx context.Context, query string, limit int) ([]Stop, error)
}

// StopRef identifies one end of a query, by explicit stop ID or by name.
type StopRef struct {
	ID   string
	Name string
}

// Label is the name shown to users for this end of the query.
func (r StopRef) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// Empty reports whether neither an ID nor a name was given.
func (r StopRef) Empty() bool {
	return strings.TrimSpace(r.ID) == "" && strings.TrimSpace(r.Name) == ""
}

const fuzzyStopLimit = 20

// ResolveStops expands a reference to concrete stops. An explicit ID is
// trusted without a lookup. A name resolves to all exact matches; when there
// are none and fuzzy is set, the loose matches are used instead.
// An empty result is not an error.
func ResolveStops(ctx context.Context, f StopFinder, ref StopRef, fuzzy bool) ([]Stop, error) {
	if id := strings.TrimSpace(ref.ID); id != "" {
		return []Stop{{StopID: id, Name: strings.TrimSpace(ref.Name)}}, nil
	}

	name := strings.TrimSpace(ref.Name)
	if name == "" {
		return nil, nil
	}
	stops, err := f.StopsByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("stops named %q: %w", name, err)
	}
	if len(stops) > 0 || !fuzzy {
		return stops, nil
	}

	stops, err = f.SearchStops(ctx, name, fuzzyStopLimit)
	if err != nil {
		return nil, fmt.Errorf("search stops %q: %w", name, err)
	}
	return stops, nil
}

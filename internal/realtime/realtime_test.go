package realtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func text(s, lang string) *gtfs.TranslatedString {
	return &gtfs.TranslatedString{Translation: []*gtfs.TranslatedString_Translation{
		{Text: proto.String(s), Language: proto.String(lang)},
	}}
}

func testFeed() *gtfs.FeedMessage {
	effect := gtfs.Alert_DETOUR
	return &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfs.FeedEntity{
			{
				Id: proto.String("a1"),
				Alert: &gtfs.Alert{
					HeaderText: &gtfs.TranslatedString{Translation: []*gtfs.TranslatedString_Translation{
						{Text: proto.String("Desvío"), Language: proto.String("es")},
						{Text: proto.String("Detour on Main"), Language: proto.String("en")},
					}},
					Effect: &effect,
					InformedEntity: []*gtfs.EntitySelector{
						{RouteId: proto.String("R1")},
						{RouteId: proto.String("R1"), StopId: proto.String("S1")},
						{Trip: &gtfs.TripDescriptor{RouteId: proto.String("R2")}},
					},
					ActivePeriod: []*gtfs.TimeRange{{Start: proto.Uint64(1000), End: proto.Uint64(2000)}},
				},
			},
			{Id: proto.String("vp"), Vehicle: &gtfs.VehiclePosition{}},
			{
				Id:        proto.String("gone"),
				IsDeleted: proto.Bool(true),
				Alert:     &gtfs.Alert{HeaderText: text("old", "en")},
			},
		},
	}
}

func TestParseAlerts(t *testing.T) {
	alerts := parseAlerts(testFeed())
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Header != "Detour on Main" {
		t.Errorf("Header = %q, want English translation", a.Header)
	}
	if a.Effect != "DETOUR" {
		t.Errorf("Effect = %q, want DETOUR", a.Effect)
	}
	if len(a.RouteIDs) != 2 || a.RouteIDs[0] != "R1" || a.RouteIDs[1] != "R2" {
		t.Errorf("RouteIDs = %v, want [R1 R2]", a.RouteIDs)
	}
	if len(a.StopIDs) != 1 || a.StopIDs[0] != "S1" {
		t.Errorf("StopIDs = %v, want [S1]", a.StopIDs)
	}
	if len(a.Periods) != 1 || a.Periods[0].Start.Unix() != 1000 {
		t.Errorf("Periods = %v", a.Periods)
	}
}

func TestActiveAt(t *testing.T) {
	a := Alert{Periods: []Period{{Start: time.Unix(1000, 0), End: time.Unix(2000, 0)}}}
	tests := []struct {
		at   int64
		want bool
	}{
		{999, false},
		{1000, true},
		{1999, true},
		{2000, false},
	}
	for _, tt := range tests {
		if got := a.ActiveAt(time.Unix(tt.at, 0)); got != tt.want {
			t.Errorf("ActiveAt(%d) = %v, want %v", tt.at, got, tt.want)
		}
	}
	if !(Alert{}).ActiveAt(time.Now()) {
		t.Error("alert without periods should always be active")
	}
	open := Alert{Periods: []Period{{Start: time.Unix(1000, 0)}}}
	if !open.ActiveAt(time.Unix(1<<40, 0)) {
		t.Error("open-ended period should stay active")
	}
}

func TestStoreForRoutes(t *testing.T) {
	s := NewStore()
	s.SetAlerts([]Alert{
		{ID: "a", RouteIDs: []string{"R1", "R2"}},
		{ID: "b", RouteIDs: []string{"R3"}},
		{ID: "c", RouteIDs: []string{"R2"}, Periods: []Period{{End: time.Unix(10, 0)}}},
	}, time.Unix(5, 0))

	got := s.ForRoutes([]string{"R2", "R1"}, time.Unix(100, 0))
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("ForRoutes = %v, want only a (once)", got)
	}
	if got := s.ForRoutes([]string{"R9"}, time.Unix(100, 0)); len(got) != 0 {
		t.Errorf("ForRoutes(R9) = %v, want none", got)
	}
	if got := s.Updated(); got.Unix() != 5 {
		t.Errorf("Updated = %v", got)
	}
	all := s.All()
	all[0].ID = "changed"
	if s.All()[0].ID != "a" {
		t.Error("All should return a copy")
	}
}

func TestFetch(t *testing.T) {
	body, err := proto.Marshal(testFeed())
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	store := NewStore()
	f := NewFetcher(srv.URL, store, quietLogger())
	n, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if n != 1 || len(store.All()) != 1 {
		t.Errorf("got %d alerts, store has %d; want 1", n, len(store.All()))
	}
}

func TestFetch_KeepsSnapshotOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	store := NewStore()
	store.SetAlerts([]Alert{{ID: "keep"}}, time.Now())
	f := NewFetcher(srv.URL, store, quietLogger())
	if _, err := f.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for 502")
	}
	if got := store.All(); len(got) != 1 || got[0].ID != "keep" {
		t.Errorf("store = %v, want previous snapshot", got)
	}
}

func TestEffectLabel(t *testing.T) {
	tests := map[string]string{
		"DETOUR":         "Detour",
		"NO_SERVICE":     "No Service",
		"UNKNOWN_EFFECT": "Alert",
	}
	for in, want := range tests {
		if got := EffectLabel(in); got != want {
			t.Errorf("EffectLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

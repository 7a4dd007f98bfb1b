package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"gotransit/internal/planner"
)

var _ planner.EventPublisher = (*Publisher)(nil)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []published
	err  error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject, data})
	return nil
}

type countingMetrics struct {
	ok, failed int
	connected  bool
}

func (m *countingMetrics) EventPublished()         { m.ok++ }
func (m *countingMetrics) EventPublishFailed()     { m.failed++ }
func (m *countingMetrics) SetNATSConnected(c bool) { m.connected = c }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubjectToken(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Main St & 1st Ave", "main_st___1st_ave"},
		{"  Downtown  ", "downtown"},
		{"a.b>c*d", "a_b_c_d"},
		{"", "_"},
		{"#A1", "#a1"},
	}
	for _, tt := range tests {
		if got := subjectToken(tt.in); got != tt.want {
			t.Errorf("subjectToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPublishSearch(t *testing.T) {
	nc := &fakeConn{}
	m := &countingMetrics{}
	p := newPublisher(nc, "gotransit", m, quietLogger())

	ev := planner.SearchEvent{
		From:   "Central Station",
		To:     "Airport",
		Date:   "2025-06-18",
		Time:   "08:00",
		Routes: 3,
		At:     time.Date(2025, 6, 18, 8, 0, 0, 0, time.UTC),
	}
	if err := p.PublishSearch(context.Background(), ev); err != nil {
		t.Fatalf("PublishSearch: %v", err)
	}
	if len(nc.msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(nc.msgs))
	}
	if got, want := nc.msgs[0].subject, "gotransit.search.central_station.airport"; got != want {
		t.Errorf("subject = %q, want %q", got, want)
	}
	var got planner.SearchEvent
	if err := json.Unmarshal(nc.msgs[0].data, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.Routes != 3 || got.From != "Central Station" {
		t.Errorf("payload = %+v", got)
	}
	if m.ok != 1 || m.failed != 0 {
		t.Errorf("metrics ok=%d failed=%d, want 1/0", m.ok, m.failed)
	}
}

func TestPublishSearch_Error(t *testing.T) {
	nc := &fakeConn{err: errors.New("connection closed")}
	m := &countingMetrics{}
	p := newPublisher(nc, "gotransit", m, quietLogger())

	if err := p.PublishSearch(context.Background(), planner.SearchEvent{From: "a", To: "b"}); err == nil {
		t.Fatal("expected error")
	}
	if m.failed != 1 {
		t.Errorf("failed = %d, want 1", m.failed)
	}
}

func TestPublishSearch_Cancelled(t *testing.T) {
	nc := &fakeConn{}
	p := newPublisher(nc, "gotransit", nil, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.PublishSearch(ctx, planner.SearchEvent{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(nc.msgs) != 0 {
		t.Errorf("published %d messages after cancel", len(nc.msgs))
	}
}

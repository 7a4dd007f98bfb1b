package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"gotransit/internal/planner"
)

// Metrics observes publisher activity.
type Metrics interface {
	EventPublished()
	EventPublishFailed()
	SetNATSConnected(connected bool)
}

type conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends search events to NATS on <prefix>.search.<from>.<to>.
type Publisher struct {
	nc      conn
	closer  func()
	prefix  string
	metrics Metrics
	logger  *slog.Logger
}

// Connect dials url and returns a publisher for subjects under prefix.
// The connection reconnects on its own; state changes are logged.
func Connect(url, prefix string, m Metrics, logger *slog.Logger) (*Publisher, error) {
	setConnected := func(ok bool) {
		if m != nil {
			m.SetNATSConnected(ok)
		}
	}
	nc, err := nats.Connect(url,
		nats.Name("gotransit"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			setConnected(false)
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			setConnected(true)
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			setConnected(false)
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	setConnected(true)

	p := newPublisher(nc, prefix, m, logger)
	p.closer = func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
	return p, nil
}

func newPublisher(nc conn, prefix string, m Metrics, logger *slog.Logger) *Publisher {
	return &Publisher{nc: nc, prefix: prefix, metrics: m, logger: logger}
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() {
	if p.closer != nil {
		p.closer()
	}
}

// PublishSearch implements planner.EventPublisher.
func (p *Publisher) PublishSearch(ctx context.Context, ev planner.SearchEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	subject := p.Subject(ev)
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		if err != nil {
			p.metrics.EventPublishFailed()
		} else {
			p.metrics.EventPublished()
		}
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("search event published", "subject", subject)
	return nil
}

// Subject returns the subject an event is published on.
func (p *Publisher) Subject(ev planner.SearchEvent) string {
	return fmt.Sprintf("%s.search.%s.%s", p.prefix, subjectToken(ev.From), subjectToken(ev.To))
}

// subjectToken makes s safe as one NATS subject token.
func subjectToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	// Tokens cannot contain whitespace, '.', '>' or '*'.
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_", "&", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

// Package notify forwards recorded events to subscribers. Delivery is best
// effort: the event log stays the source of truth and a failed publish
// never fails the append.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wotideas/ideas-engine/internal/metrics"
	"github.com/wotideas/ideas-engine/internal/model"
	"github.com/wotideas/ideas-engine/internal/store"
)

// Publisher receives events after they are recorded.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, e *model.Event) error
}

// Events decorates an event log so every successful append is published.
type Events struct {
	store.Events
	publishers []Publisher
	logger     *slog.Logger
}

// NewEvents wraps inner. Nil publishers are skipped.
func NewEvents(inner store.Events, logger *slog.Logger, publishers ...Publisher) *Events {
	if logger == nil {
		logger = slog.Default()
	}
	var ps []Publisher
	for _, p := range publishers {
		if p != nil {
			ps = append(ps, p)
		}
	}
	return &Events{Events: inner, publishers: ps, logger: logger}
}

// AppendEvent records e and then hands it to each publisher.
func (n *Events) AppendEvent(ctx context.Context, e *model.Event) error {
	if err := n.Events.AppendEvent(ctx, e); err != nil {
		return err
	}
	for _, p := range n.publishers {
		if err := p.Publish(ctx, e); err != nil {
			metrics.PublishFailures.WithLabelValues(p.Name()).Inc()
			n.logger.Warn("event publish failed",
				"publisher", p.Name(),
				"seq", e.Seq,
				"type", e.Type.String(),
				"error", err,
			)
		}
	}
	return nil
}

// Subject returns the NATS subject for an event type.
func Subject(t model.EventType) string {
	return "ideas.events." + t.String()
}

// NATSPublisher mirrors events onto NATS subjects.
type NATSPublisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// ConnectNATS dials the NATS servers with reconnect handling.
func ConnectNATS(servers string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name("ideas-engine"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected with error", "error", err)
			} else {
				logger.Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(servers, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("connected to NATS", "servers", servers)
	return &NATSPublisher{nc: nc, logger: logger}, nil
}

func (p *NATSPublisher) Name() string { return "nats" }

// Publish sends the event as JSON on its type's subject.
func (p *NATSPublisher) Publish(_ context.Context, e *model.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %d: %w", e.Seq, err)
	}
	if err := p.nc.Publish(Subject(e.Type), data); err != nil {
		return fmt.Errorf("publish to %s: %w", Subject(e.Type), err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}

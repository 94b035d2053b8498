// Package events delivers committed license events to the realtime hub and
// the NATS event bus.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mbd888/licensehub/internal/circuitbreaker"
	"github.com/mbd888/licensehub/internal/licensing"
	"github.com/mbd888/licensehub/internal/logging"
	"github.com/mbd888/licensehub/internal/metrics"
	"github.com/mbd888/licensehub/internal/realtime"
	"github.com/nats-io/nats.go"
)

// Multi fans an event out to every emitter in order. Nil entries are skipped.
type Multi []licensing.EventEmitter

func (m Multi) EmitLicenseEvent(ctx context.Context, e licensing.Event) {
	for _, em := range m {
		if em != nil {
			em.EmitLicenseEvent(ctx, e)
		}
	}
}

// HubEmitter forwards events to the realtime hub.
type HubEmitter struct {
	Hub *realtime.Hub
}

func (h HubEmitter) EmitLicenseEvent(_ context.Context, e licensing.Event) {
	h.Hub.Broadcast(&realtime.Event{
		Type:      string(e.Type),
		BrandID:   e.BrandID,
		Timestamp: e.OccurredAt,
		Data:      e.Data,
	})
}

// Publisher is the subset of *nats.Conn used for publishing.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// natsSink names the NATS sink in metrics and the breaker.
const natsSink = "nats"

// NATSEmitter publishes each event as JSON on "<prefix>.<event type>".
type NATSEmitter struct {
	pub     Publisher
	prefix  string
	breaker *circuitbreaker.Breaker
}

// NATSOption configures a NATSEmitter.
type NATSOption func(*NATSEmitter)

// WithBreaker skips publishing while b holds the NATS circuit open.
func WithBreaker(b *circuitbreaker.Breaker) NATSOption {
	return func(n *NATSEmitter) { n.breaker = b }
}

// NewNATSEmitter creates an emitter publishing under prefix.
func NewNATSEmitter(pub Publisher, prefix string, opts ...NATSOption) *NATSEmitter {
	n := &NATSEmitter{pub: pub, prefix: prefix}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subject returns the subject an event of type t is published on.
func (n *NATSEmitter) Subject(t licensing.EventType) string {
	return n.prefix + "." + string(t)
}

// EmitLicenseEvent publishes e. Failures are logged and counted; the
// operation that produced the event has already committed.
func (n *NATSEmitter) EmitLicenseEvent(ctx context.Context, e licensing.Event) {
	if n.breaker != nil && !n.breaker.Allow(natsSink) {
		metrics.EventsPublishedTotal.WithLabelValues(natsSink, "skipped").Inc()
		return
	}

	data, err := json.Marshal(e)
	if err == nil {
		err = n.pub.Publish(n.Subject(e.Type), data)
	}
	if err != nil {
		if n.breaker != nil {
			n.breaker.RecordFailure(natsSink)
		}
		metrics.EventsPublishedTotal.WithLabelValues(natsSink, "error").Inc()
		logging.L(ctx).Warn("license event publish failed", "type", e.Type, "brand_id", e.BrandID, "error", err)
		return
	}
	if n.breaker != nil {
		n.breaker.RecordSuccess(natsSink)
	}
	metrics.EventsPublishedTotal.WithLabelValues(natsSink, "ok").Inc()
}

// Connect dials NATS with reconnect handling suited to a long-running server.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("licensehub"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
}

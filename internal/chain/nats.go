package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"feedsweep/internal/ingest"
)

// natsHeaderCarrier adapts nats.Msg headers for the OTel propagator.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// NATS hands off by publishing the cursor to a subject.
type NATS struct {
	nc      *nats.Conn
	subject string
}

// NewNATS creates a NATS chainer.
func NewNATS(nc *nats.Conn, subject string) *NATS {
	return &NATS{nc: nc, subject: subject}
}

// Handoff publishes the cursor with the trace context in the headers.
func (n *NATS) Handoff(ctx context.Context, c ingest.Cursor) error {
	data, err := json.Marshal(message{RunID: c.RunID, Cursor: c.Index})
	if err != nil {
		return err
	}
	msg := &nats.Msg{Subject: n.subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", n.subject, err)
	}
	return nil
}

// Subscribe consumes handoffs in a queue group so each one runs on exactly
// one instance. Messages of one subscription are handled one at a time.
// Malformed messages are dropped.
func Subscribe(nc *nats.Conn, subject, queue string, inv Invoker, timeout time.Duration, logger *slog.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "chain", "mode", "nats")
	return nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		var m message
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			log.Warn("dropping malformed handoff", "error", err)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		res, err := inv.Invoke(ctx, m.toCursor())
		if err != nil {
			log.Error("chained invocation failed", "run_id", m.RunID, "cursor", m.Cursor, "error", err)
			return
		}
		log.Debug("chained invocation finished", "run_id", m.RunID, "cursor", m.Cursor, "state", res.State)
	})
}

package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATSBridge fans change events out to other instances over NATS and relays
// their events into the local publisher. Events carry the publishing
// instance's origin so a bridge never re-delivers its own events.
type NATSBridge struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	origin  string
	local   Publisher
}

func NewNATSBridge(natsURL, subject string, local Publisher) (*NATSBridge, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("emergency-alerts"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	b := &NATSBridge{
		nc:      nc,
		subject: subject,
		origin:  uuid.NewString(),
		local:   local,
	}

	b.sub, err = nc.Subscribe(subject, b.handle)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	slog.Info("nats change feed bridge started", "subject", subject, "origin", b.origin)
	return b, nil
}

func (b *NATSBridge) Publish(ev ChangeEvent) {
	ev.Origin = b.origin
	b.local.Publish(ev)

	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal change event", "error", err)
		return
	}
	if err := b.nc.Publish(b.subject, payload); err != nil {
		slog.Warn("publish change event to nats", "table", ev.Table, "error", err)
	}
}

func (b *NATSBridge) handle(m *nats.Msg) {
	var ev ChangeEvent
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		slog.Warn("discarding malformed change event", "subject", m.Subject, "error", err)
		return
	}
	if ev.Origin == b.origin {
		return
	}
	b.local.Publish(ev)
}

func (b *NATSBridge) Ping() error {
	if !b.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (b *NATSBridge) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	b.nc.Close()
}

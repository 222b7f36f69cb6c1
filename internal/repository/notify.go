package repository

import (
	"context"
	"time"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/observability"
	"github.com/mr1hm/go-emergency-alerts/internal/realtime"
)

// Notifier decorates a Backend so every successful write publishes a row
// change event, the way a hosted database with a realtime channel would.
type Notifier struct {
	Backend
	pub realtime.Publisher
}

func NewNotifier(b Backend, pub realtime.Publisher) *Notifier {
	return &Notifier{Backend: b, pub: pub}
}

func (n *Notifier) notify(table realtime.Table, op realtime.Op, id string) {
	observability.ChangeEvents.WithLabelValues(string(table), string(op)).Inc()
	n.pub.Publish(realtime.ChangeEvent{
		Table: table,
		Op:    op,
		RowID: id,
		At:    time.Now().UTC(),
	})
}

func (n *Notifier) AddClient(ctx context.Context, c *models.Client) error {
	if err := n.Backend.AddClient(ctx, c); err != nil {
		return err
	}
	n.notify(realtime.TableClients, realtime.OpInsert, c.ID)
	return nil
}

func (n *Notifier) UpdateClientLocation(ctx context.Context, id string, loc models.Location, at time.Time) error {
	if err := n.Backend.UpdateClientLocation(ctx, id, loc, at); err != nil {
		return err
	}
	n.notify(realtime.TableClients, realtime.OpUpdate, id)
	return nil
}

func (n *Notifier) AddAlert(ctx context.Context, a *models.Alert) error {
	if err := n.Backend.AddAlert(ctx, a); err != nil {
		return err
	}
	n.notify(realtime.TableAlerts, realtime.OpInsert, a.ID)
	return nil
}

func (n *Notifier) TransitionAlert(ctx context.Context, id string, to models.AlertStatus, at time.Time) error {
	if err := n.Backend.TransitionAlert(ctx, id, to, at); err != nil {
		return err
	}
	n.notify(realtime.TableAlerts, realtime.OpUpdate, id)
	return nil
}

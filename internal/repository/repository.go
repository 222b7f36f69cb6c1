package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

var ErrNotFound = errors.New("not found")

type AlertFilter struct {
	ClientID string              // only alerts owned by this client
	Status   *models.AlertStatus // only alerts currently in this status
	Limit    int
}

// ClientRepository lists are ordered newest-first by creation time.
type ClientRepository interface {
	AddClient(ctx context.Context, c *models.Client) error
	GetClient(ctx context.Context, id string) (*models.Client, error)
	ListClients(ctx context.Context) ([]models.Client, error)
	UpdateClientLocation(ctx context.Context, id string, loc models.Location, at time.Time) error
}

// AlertRepository lists are ordered newest-first by creation time.
type AlertRepository interface {
	AddAlert(ctx context.Context, a *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ListAlerts(ctx context.Context, opts AlertFilter) ([]models.Alert, error)
	// TransitionAlert moves an alert to status `to` only if its current
	// status may legally precede it, otherwise models.ErrInvalidTransition.
	TransitionAlert(ctx context.Context, id string, to models.AlertStatus, at time.Time) error
}

type Backend interface {
	ClientRepository
	AlertRepository
	Ping(ctx context.Context) error
	Close() error
}

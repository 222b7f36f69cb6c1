package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidAlertType  = errors.New("invalid alert type")
	ErrInvalidTransition = errors.New("invalid alert status transition")
)

type AlertType string

const (
	AlertTypePanic      AlertType = "panic"
	AlertTypeAccident   AlertType = "accident"
	AlertTypeAssistance AlertType = "assistance"
)

// AlertTypes lists the alert types in the order the client portal offers them.
var AlertTypes = []AlertType{AlertTypePanic, AlertTypeAccident, AlertTypeAssistance}

func ParseAlertType(s string) (AlertType, error) {
	switch t := AlertType(strings.ToLower(strings.TrimSpace(s))); t {
	case AlertTypePanic, AlertTypeAccident, AlertTypeAssistance:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAlertType, s)
	}
}

type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

func (s AlertStatus) rank() int {
	switch s {
	case AlertStatusActive:
		return 1
	case AlertStatusAcknowledged:
		return 2
	case AlertStatusResolved:
		return 3
	default:
		return 0
	}
}

func (s AlertStatus) Valid() bool {
	return s.rank() > 0
}

// CanTransitionTo reports whether an alert in status s may move to next.
// Status only moves forward: active < acknowledged < resolved.
func (s AlertStatus) CanTransitionTo(next AlertStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next.rank() > s.rank()
}

// Predecessors returns every status from which s is reachable.
func (s AlertStatus) Predecessors() []AlertStatus {
	var out []AlertStatus
	for _, p := range []AlertStatus{AlertStatusActive, AlertStatusAcknowledged, AlertStatusResolved} {
		if p.CanTransitionTo(s) {
			out = append(out, p)
		}
	}
	return out
}

type Alert struct {
	ID        string
	ClientID  string
	Type      AlertType
	Status    AlertStatus
	Message   string // optional
	Location  Location
	CreatedAt time.Time
	UpdatedAt time.Time
}

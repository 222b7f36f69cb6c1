package api

import (
	"time"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/store"
)

type locationJSON struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Label     string  `json:"label"`
}

func toLocationJSON(l *models.Location) *locationJSON {
	if !l.Valid() {
		return nil
	}
	return &locationJSON{Latitude: l.Latitude, Longitude: l.Longitude, Label: l.String()}
}

type clientJSON struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Phone            string        `json:"phone"`
	PhoneURI         string        `json:"phone_uri,omitempty"`
	Email            string        `json:"email"`
	Address          string        `json:"address"`
	EmergencyContact string        `json:"emergency_contact"`
	Status           string        `json:"status"`
	Location         *locationJSON `json:"location"`
	ActiveAlerts     int           `json:"active_alerts"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

func toClientJSON(c models.Client, activeAlerts int) clientJSON {
	return clientJSON{
		ID:               c.ID,
		Name:             c.Name,
		Phone:            c.Phone,
		PhoneURI:         store.TelURI(c.Phone),
		Email:            c.Email,
		Address:          c.Address,
		EmergencyContact: c.EmergencyContact,
		Status:           string(c.Status),
		Location:         toLocationJSON(c.Location),
		ActiveAlerts:     activeAlerts,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

type alertJSON struct {
	ID          string        `json:"id"`
	ClientID    string        `json:"client_id"`
	ClientName  string        `json:"client_name,omitempty"`
	ClientPhone string        `json:"client_phone,omitempty"`
	PhoneURI    string        `json:"phone_uri,omitempty"`
	Type        string        `json:"type"`
	Status      string        `json:"status"`
	Message     string        `json:"message,omitempty"`
	Location    *locationJSON `json:"location"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func toAlertJSON(v store.AlertView) alertJSON {
	return alertJSON{
		ID:          v.ID,
		ClientID:    v.ClientID,
		ClientName:  v.ClientName,
		ClientPhone: v.ClientPhone,
		PhoneURI:    v.PhoneURI,
		Type:        string(v.Type),
		Status:      string(v.Status),
		Message:     v.Message,
		Location:    toLocationJSON(&v.Location),
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
	}
}

func toAlertsJSON(views []store.AlertView) []alertJSON {
	out := make([]alertJSON, 0, len(views))
	for _, v := range views {
		out = append(out, toAlertJSON(v))
	}
	return out
}

type statsJSON struct {
	ActiveAlerts       int `json:"active_alerts"`
	AcknowledgedAlerts int `json:"acknowledged_alerts"`
	ResolvedAlerts     int `json:"resolved_alerts"`
	TotalClients       int `json:"total_clients"`
	ActiveClients      int `json:"active_clients"`
	LocatedClients     int `json:"located_clients"`
}

func toStatsJSON(s store.Stats) statsJSON {
	return statsJSON(s)
}

type emergencyJSON struct {
	Number string `json:"number"`
	URI    string `json:"uri"`
}

func (h *Handler) emergency() emergencyJSON {
	return emergencyJSON{Number: h.emergencyNumber, URI: store.TelURI(h.emergencyNumber)}
}

// snapshotJSON is what websocket subscribers receive on every change.
type snapshotJSON struct {
	Type    string       `json:"type"`
	Version uint64       `json:"version"`
	Loading bool         `json:"loading"`
	Stats   statsJSON    `json:"stats"`
	Clients []clientJSON `json:"clients"`
	Alerts  []alertJSON  `json:"alerts"`
}

func toSnapshotJSON(snap store.Snapshot) snapshotJSON {
	counts := snap.ActiveAlertCounts()
	clients := make([]clientJSON, 0, len(snap.Clients))
	for _, c := range snap.Clients {
		clients = append(clients, toClientJSON(c, counts[c.ID]))
	}
	alerts := make([]alertJSON, 0, len(snap.Alerts))
	for _, a := range snap.Alerts {
		alerts = append(alerts, toAlertJSON(snap.AlertView(a)))
	}
	return snapshotJSON{
		Type:    "snapshot",
		Version: snap.Version,
		Loading: snap.Loading,
		Stats:   toStatsJSON(snap.Stats()),
		Clients: clients,
		Alerts:  alerts,
	}
}

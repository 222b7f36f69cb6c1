package store

import (
	"fmt"
	"strings"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

const UnknownClientName = "Unknown Client"

type Stats struct {
	ActiveAlerts       int
	AcknowledgedAlerts int
	ResolvedAlerts     int
	TotalClients       int
	ActiveClients      int
	LocatedClients     int
}

func (s Snapshot) Stats() Stats {
	var st Stats
	for _, a := range s.Alerts {
		switch a.Status {
		case models.AlertStatusActive:
			st.ActiveAlerts++
		case models.AlertStatusAcknowledged:
			st.AcknowledgedAlerts++
		case models.AlertStatusResolved:
			st.ResolvedAlerts++
		}
	}
	st.TotalClients = len(s.Clients)
	for i := range s.Clients {
		if s.Clients[i].Status == models.ClientStatusActive {
			st.ActiveClients++
		}
		if s.Clients[i].HasLocation() {
			st.LocatedClients++
		}
	}
	return st
}

func (s Snapshot) Client(id string) (*models.Client, bool) {
	for i := range s.Clients {
		if s.Clients[i].ID == id {
			return &s.Clients[i], true
		}
	}
	return nil, false
}

func (s Snapshot) ClientName(id string) string {
	if c, ok := s.Client(id); ok && c.Name != "" {
		return c.Name
	}
	return UnknownClientName
}

// ActiveAlertCounts maps client id to the number of its active alerts.
func (s Snapshot) ActiveAlertCounts() map[string]int {
	counts := make(map[string]int)
	for _, a := range s.Alerts {
		if a.Status == models.AlertStatusActive {
			counts[a.ClientID]++
		}
	}
	return counts
}

type AlertView struct {
	models.Alert
	ClientName  string
	ClientPhone string
	PhoneURI    string
}

// AlertView annotates a with its owner's name and phone.
func (s Snapshot) AlertView(a models.Alert) AlertView {
	v := AlertView{Alert: a, ClientName: s.ClientName(a.ClientID)}
	if c, ok := s.Client(a.ClientID); ok {
		v.ClientPhone = c.Phone
		v.PhoneURI = TelURI(c.Phone)
	}
	return v
}

// Buckets groups alerts by status for the dashboard, each newest-first.
type Buckets struct {
	Active       []AlertView
	Acknowledged []AlertView
	Resolved     []AlertView
}

func (s Snapshot) Buckets() Buckets {
	b := Buckets{
		Active:       []AlertView{},
		Acknowledged: []AlertView{},
		Resolved:     []AlertView{},
	}
	for _, a := range s.Alerts {
		v := s.AlertView(a)
		switch a.Status {
		case models.AlertStatusActive:
			b.Active = append(b.Active, v)
		case models.AlertStatusAcknowledged:
			b.Acknowledged = append(b.Acknowledged, v)
		case models.AlertStatusResolved:
			b.Resolved = append(b.Resolved, v)
		}
	}
	return b
}

type ClientView struct {
	models.Client
	ActiveAlerts int
	PhoneURI     string
}

func (s Snapshot) ClientViews() []ClientView {
	counts := s.ActiveAlertCounts()
	out := make([]ClientView, 0, len(s.Clients))
	for _, c := range s.Clients {
		out = append(out, ClientView{
			Client:       c,
			ActiveAlerts: counts[c.ID],
			PhoneURI:     TelURI(c.Phone),
		})
	}
	return out
}

// TelURI builds a tel: link. Visual separators are dropped.
func TelURI(number string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(number))
	if cleaned == "" {
		return ""
	}
	return "tel:" + cleaned
}

func ConfirmationMessage(t models.AlertType) string {
	return fmt.Sprintf("%s alert sent to security control center! Your location has been shared and help is on the way.",
		strings.ToUpper(string(t)))
}

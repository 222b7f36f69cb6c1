package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrIncompleteClient = errors.New("incomplete client record")

type ClientStatus string

const (
	ClientStatusActive   ClientStatus = "active"
	ClientStatusInactive ClientStatus = "inactive"
)

type Client struct {
	ID               string
	Name             string
	Phone            string
	Email            string
	Address          string
	EmergencyContact string
	Status           ClientStatus
	Location         *Location // nil when the client has no known position
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasLocation reports whether the client carries a real position.
func (c *Client) HasLocation() bool {
	return c != nil && c.Location.Valid()
}

// Validate checks the fields an administrator must supply for a new client.
func (c *Client) Validate() error {
	required := []struct {
		name, value string
	}{
		{"name", c.Name},
		{"phone", c.Phone},
		{"email", c.Email},
		{"address", c.Address},
		{"emergency contact", c.EmergencyContact},
	}
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteClient, strings.Join(missing, ", "))
	}
	return nil
}

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mr1hm/go-emergency-alerts/internal/auth"
	"github.com/mr1hm/go-emergency-alerts/internal/config"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
)

func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{}
	cfg.Auth.Secret = "test-secret-0123456789"
	cfg.Auth.Issuer = "emergency-alerts"
	cfg.Auth.TokenTTL = time.Hour
	cfg.DB.Driver = "sqlite"
	cfg.DB.Path = filepath.Join(t.TempDir(), "alerts.db")
	return cfg
}

func TestTokenCommand(t *testing.T) {
	cfg := testConfig(t)
	cmd := tokenCMD(func() *config.Config { return cfg })

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--subject", "ops-1", "--admin"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("token failed: %v", err)
	}

	issuer, _ := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	id, err := issuer.Verify(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if id.Subject != "ops-1" || id.Role != auth.RoleAdmin {
		t.Errorf("unexpected identity %+v", id)
	}
}

func TestClientAddCommand(t *testing.T) {
	cfg := testConfig(t)
	cmd := clientAddCMD(func() *config.Config { return cfg })

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--name", "Ann", "--phone", "555 0199", "--email", "ann@example.com",
		"--address", "2 High St", "--emergency-contact", "Bob",
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("client add failed: %v", err)
	}
	id := strings.TrimSpace(out.String())

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	c, err := db.GetClient(context.Background(), id)
	if err != nil {
		t.Fatalf("GetClient(%q) failed: %v", id, err)
	}
	if c.Name != "Ann" || c.Status != "active" {
		t.Errorf("unexpected client %+v", c)
	}
}

func TestClientAddCommand_Incomplete(t *testing.T) {
	cfg := testConfig(t)
	cmd := clientAddCMD(func() *config.Config { return cfg })
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--name", "Half"})

	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "phone") {
		t.Errorf("expected missing-field error, got %v", err)
	}
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS clients (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			phone TEXT NOT NULL,
			email TEXT NOT NULL,
			address TEXT NOT NULL,
			emergency_contact TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			location_lat REAL,
			location_lng REAL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			message TEXT,
			location_lat REAL NOT NULL,
			location_lng REAL NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (client_id) REFERENCES clients(id)
		);

		CREATE INDEX IF NOT EXISTS idx_clients_created_at ON clients(created_at);
		CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
		CREATE INDEX IF NOT EXISTS idx_alerts_client_id ON alerts(client_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// --- Clients ---

const clientColumns = `id, name, phone, email, address, emergency_contact, status, location_lat, location_lng, created_at, updated_at`

func (s *SQLiteDB) AddClient(ctx context.Context, c *models.Client) error {
	prepareClient(c, time.Now())

	var lat, lng sql.NullFloat64
	if c.Location.Valid() {
		lat = sql.NullFloat64{Float64: c.Location.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: c.Location.Longitude, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clients (`+clientColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Phone, c.Email, c.Address, c.EmergencyContact, string(c.Status),
		lat, lng, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetClient(ctx context.Context, id string) (*models.Client, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("client %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	return c, nil
}

func (s *SQLiteDB) ListClients(ctx context.Context) ([]models.Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	clients := []models.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, *c)
	}
	return clients, rows.Err()
}

func (s *SQLiteDB) UpdateClientLocation(ctx context.Context, id string, loc models.Location, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE clients SET location_lat = ?, location_lng = ?, updated_at = ? WHERE id = ?`,
		loc.Latitude, loc.Longitude, at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update client location: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("client %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Alerts ---

const alertColumns = `id, client_id, type, status, message, location_lat, location_lng, created_at, updated_at`

func (s *SQLiteDB) AddAlert(ctx context.Context, a *models.Alert) error {
	prepareAlert(a, time.Now())

	var message sql.NullString
	if a.Message != "" {
		message = sql.NullString{String: a.Message, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ClientID, string(a.Type), string(a.Status), message,
		a.Location.Latitude, a.Location.Longitude, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

func (s *SQLiteDB) ListAlerts(ctx context.Context, opts AlertFilter) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	var args []any

	if opts.ClientID != "" {
		query += ` AND client_id = ?`
		args = append(args, opts.ClientID)
	}
	if opts.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*opts.Status))
	}

	query += ` ORDER BY created_at DESC, rowid DESC`

	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	alerts := []models.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func (s *SQLiteDB) TransitionAlert(ctx context.Context, id string, to models.AlertStatus, at time.Time) error {
	preds := to.Predecessors()
	if len(preds) == 0 {
		return fmt.Errorf("%w: nothing transitions to %q", models.ErrInvalidTransition, to)
	}

	args := []any{string(to), at.UTC(), id}
	for _, p := range preds {
		args = append(args, string(p))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(preds)), ",")

	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update alert status: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	current, err := s.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: alert %s is %s, cannot become %s", models.ErrInvalidTransition, id, current.Status, to)
}

// --- helpers shared by the SQL backends ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*models.Client, error) {
	var (
		c        models.Client
		status   string
		lat, lng sql.NullFloat64
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.EmergencyContact,
		&status, &lat, &lng, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = models.ClientStatus(status)
	c.Location = models.LocationFromColumns(nullFloat(lat), nullFloat(lng))
	return &c, nil
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a             models.Alert
		typ, status   string
		message       sql.NullString
		latitude, lng float64
	)
	if err := row.Scan(&a.ID, &a.ClientID, &typ, &status, &message,
		&latitude, &lng, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Type = models.AlertType(typ)
	a.Status = models.AlertStatus(status)
	a.Message = message.String
	a.Location = models.Location{Latitude: latitude, Longitude: lng}
	return &a, nil
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	return &f.Float64
}

func prepareClient(c *models.Client, now time.Time) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = models.ClientStatusActive
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
}

func prepareAlert(a *models.Alert, now time.Time) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = models.AlertStatusActive
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
}

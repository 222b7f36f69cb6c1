package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

// PostgresDB is the hosted relational backend.
type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, dsn string, maxConns int) (*PostgresDB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &PostgresDB{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return p, nil
}

func (p *PostgresDB) migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS clients (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			phone TEXT NOT NULL,
			email TEXT NOT NULL,
			address TEXT NOT NULL,
			emergency_contact TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			location_lat DOUBLE PRECISION,
			location_lng DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL REFERENCES clients(id),
			type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			message TEXT,
			location_lat DOUBLE PRECISION NOT NULL,
			location_lng DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_clients_created_at ON clients(created_at);
		CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
		CREATE INDEX IF NOT EXISTS idx_alerts_client_id ON alerts(client_id);
	`)
	return err
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresDB) Close() error {
	p.pool.Close()
	return nil
}

// --- Clients ---

func (p *PostgresDB) AddClient(ctx context.Context, c *models.Client) error {
	prepareClient(c, time.Now())

	var lat, lng *float64
	if c.Location.Valid() {
		lat, lng = &c.Location.Latitude, &c.Location.Longitude
	}

	_, err := p.pool.Exec(ctx,
		`INSERT INTO clients (`+clientColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.Name, c.Phone, c.Email, c.Address, c.EmergencyContact, string(c.Status),
		lat, lng, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (p *PostgresDB) GetClient(ctx context.Context, id string) (*models.Client, error) {
	c, err := scanPgClient(p.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("client %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	return c, nil
}

func (p *PostgresDB) ListClients(ctx context.Context) ([]models.Client, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	clients := []models.Client{}
	for rows.Next() {
		c, err := scanPgClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, *c)
	}
	return clients, rows.Err()
}

func (p *PostgresDB) UpdateClientLocation(ctx context.Context, id string, loc models.Location, at time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE clients SET location_lat = $1, location_lng = $2, updated_at = $3 WHERE id = $4`,
		loc.Latitude, loc.Longitude, at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update client location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("client %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Alerts ---

func (p *PostgresDB) AddAlert(ctx context.Context, a *models.Alert) error {
	prepareAlert(a, time.Now())

	var message *string
	if a.Message != "" {
		message = &a.Message
	}

	_, err := p.pool.Exec(ctx,
		`INSERT INTO alerts (`+alertColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.ClientID, string(a.Type), string(a.Status), message,
		a.Location.Latitude, a.Location.Longitude, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (p *PostgresDB) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	a, err := scanPgAlert(p.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

func (p *PostgresDB) ListAlerts(ctx context.Context, opts AlertFilter) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	var args []any

	if opts.ClientID != "" {
		args = append(args, opts.ClientID)
		query += fmt.Sprintf(` AND client_id = $%d`, len(args))
	}
	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}

	query += ` ORDER BY created_at DESC`

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	alerts := []models.Alert{}
	for rows.Next() {
		a, err := scanPgAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func (p *PostgresDB) TransitionAlert(ctx context.Context, id string, to models.AlertStatus, at time.Time) error {
	preds := to.Predecessors()
	if len(preds) == 0 {
		return fmt.Errorf("%w: nothing transitions to %q", models.ErrInvalidTransition, to)
	}
	from := make([]string, len(preds))
	for i, s := range preds {
		from[i] = string(s)
	}

	tag, err := p.pool.Exec(ctx,
		`UPDATE alerts SET status = $1, updated_at = $2 WHERE id = $3 AND status = ANY($4)`,
		string(to), at.UTC(), id, from,
	)
	if err != nil {
		return fmt.Errorf("update alert status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	current, err := p.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: alert %s is %s, cannot become %s", models.ErrInvalidTransition, id, current.Status, to)
}

func scanPgClient(row pgx.Row) (*models.Client, error) {
	var (
		c        models.Client
		status   string
		lat, lng *float64
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.EmergencyContact,
		&status, &lat, &lng, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = models.ClientStatus(status)
	c.Location = models.LocationFromColumns(lat, lng)
	return &c, nil
}

func scanPgAlert(row pgx.Row) (*models.Alert, error) {
	var (
		a           models.Alert
		typ, status string
		message     *string
	)
	if err := row.Scan(&a.ID, &a.ClientID, &typ, &status, &message,
		&a.Location.Latitude, &a.Location.Longitude, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Type = models.AlertType(typ)
	a.Status = models.AlertStatus(status)
	if message != nil {
		a.Message = *message
	}
	return &a, nil
}

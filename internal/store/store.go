// Package store holds one identity's view of clients and alerts and keeps it
// in sync with the backend. Every change event triggers a full reload of the
// affected collection, scoped to the identity's role.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mr1hm/go-emergency-alerts/internal/auth"
	"github.com/mr1hm/go-emergency-alerts/internal/geo"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/observability"
	"github.com/mr1hm/go-emergency-alerts/internal/realtime"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
	"github.com/mr1hm/go-emergency-alerts/internal/worker"
)

var (
	ErrNotAuthenticated = errors.New("no authenticated client")
	ErrForbidden        = errors.New("operation not permitted for this role")
)

type Backend interface {
	repository.ClientRepository
	repository.AlertRepository
}

// Snapshot is a point-in-time copy of the store state. Slices are shared
// with the store and must be treated as read-only.
type Snapshot struct {
	Identity auth.Identity
	Clients  []models.Client // all clients for admins, the caller's own record otherwise
	Current  *models.Client  // nil for admins
	Alerts   []models.Alert
	Loading  bool
	Version  uint64
}

type Listener func(Snapshot)

type lifecycle int

const (
	idle lifecycle = iota
	running
	closed
)

type Store struct {
	id       auth.Identity
	backend  Backend
	feed     realtime.Feed
	resolver *geo.Resolver

	mu           sync.Mutex
	clients      []models.Client
	current      *models.Client
	alerts       []models.Alert
	inflight     int
	version      uint64
	issued       map[realtime.Table]uint64
	applied      map[realtime.Table]uint64
	pending      map[realtime.Table]bool
	listeners    map[int]Listener
	nextListener int

	lifeMu       sync.Mutex
	state        lifecycle
	subID        uint64
	reloads      *worker.Pool[realtime.Table]
	reloadBuffer int
	cancel       context.CancelFunc
	done         chan struct{} // listen exited
	stopped      chan struct{}
}

func New(id auth.Identity, backend Backend, feed realtime.Feed, resolver *geo.Resolver, reloadBuffer int) *Store {
	if resolver == nil {
		resolver = geo.NewResolver(geo.DefaultOptions(), geo.DefaultLocation)
	}
	if reloadBuffer < 2 {
		reloadBuffer = 2
	}
	return &Store{
		id:           id,
		backend:      backend,
		feed:         feed,
		resolver:     resolver,
		issued:       make(map[realtime.Table]uint64),
		applied:      make(map[realtime.Table]uint64),
		pending:      make(map[realtime.Table]bool),
		listeners:    make(map[int]Listener),
		reloadBuffer: reloadBuffer,
		stopped:      make(chan struct{}),
	}
}

func (s *Store) Identity() auth.Identity {
	return s.id
}

// subscribedTables: admins follow both tables, clients only alerts.
func (s *Store) subscribedTables() []realtime.Table {
	if s.id.IsAdmin() {
		return []realtime.Table{realtime.TableClients, realtime.TableAlerts}
	}
	return []realtime.Table{realtime.TableAlerts}
}

// Start subscribes to the change feed and performs the initial load. The
// store stays subscribed when the load fails, so later events can repair it.
func (s *Store) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	if s.state != idle {
		s.lifeMu.Unlock()
		return fmt.Errorf("store for %s already started", s.id.Key())
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.reloads = worker.NewPool("reload:"+s.id.Key(), 1, s.reloadBuffer, s.processReload)
	s.reloads.Start(runCtx)

	subID, events := s.feed.Subscribe(s.subscribedTables()...)
	s.subID = subID
	s.done = make(chan struct{})
	go s.listen(events)

	s.state = running
	s.lifeMu.Unlock()

	slog.Info("store started", "subject", s.id.Subject, "role", s.id.Role)
	return s.Load(ctx)
}

// Close unsubscribes and waits for queued reloads to stop. It is safe to
// call more than once.
func (s *Store) Close() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	switch s.state {
	case closed:
		return
	case idle:
		s.state = closed
		close(s.stopped)
		return
	}
	s.state = closed
	defer close(s.stopped)

	s.feed.Unsubscribe(s.subID)
	<-s.done
	s.cancel()
	s.reloads.Stop()

	s.mu.Lock()
	clear(s.listeners)
	s.mu.Unlock()

	slog.Info("store closed", "subject", s.id.Subject, "role", s.id.Role)
}

// Done is closed once the store has been closed. Watchers stop receiving
// snapshots at that point.
func (s *Store) Done() <-chan struct{} {
	return s.stopped
}

func (s *Store) listen(events <-chan realtime.ChangeEvent) {
	defer close(s.done)
	for ev := range events {
		s.scheduleReload(ev.Table)
	}
}

// scheduleReload queues a reload unless one for the same table is already
// waiting; the waiting reload will see this change too.
func (s *Store) scheduleReload(t realtime.Table) {
	s.mu.Lock()
	if s.pending[t] {
		s.mu.Unlock()
		return
	}
	s.pending[t] = true
	s.mu.Unlock()

	s.reloads.Submit(t)
}

func (s *Store) processReload(ctx context.Context, t realtime.Table) error {
	s.mu.Lock()
	delete(s.pending, t)
	s.mu.Unlock()

	return s.load(ctx, t)
}

// Load fetches both collections scoped to the caller's role. On failure the
// previous state is kept and the error returned.
func (s *Store) Load(ctx context.Context) error {
	return s.load(ctx, realtime.TableClients, realtime.TableAlerts)
}

func (s *Store) Refresh(ctx context.Context) error {
	return s.Load(ctx)
}

func (s *Store) load(ctx context.Context, tables ...realtime.Table) error {
	tokens := s.beginLoad(tables)
	defer s.endLoad()

	var (
		clients []models.Client
		current *models.Client
		alerts  []models.Alert
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tables {
		switch t {
		case realtime.TableClients:
			g.Go(func() error {
				var err error
				if s.id.IsAdmin() {
					clients, err = s.backend.ListClients(gctx)
				} else {
					current, err = s.backend.GetClient(gctx, s.id.Subject)
				}
				if err != nil {
					return fmt.Errorf("load clients: %w", err)
				}
				return nil
			})
		case realtime.TableAlerts:
			g.Go(func() error {
				var filter repository.AlertFilter
				if !s.id.IsAdmin() {
					filter.ClientID = s.id.Subject
				}
				var err error
				alerts, err = s.backend.ListAlerts(gctx, filter)
				if err != nil {
					return fmt.Errorf("load alerts: %w", err)
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		for _, t := range tables {
			observability.StoreReloads.WithLabelValues(string(t), "error").Inc()
		}
		if ctx.Err() != nil {
			slog.Debug("load cancelled", "subject", s.id.Subject, "error", err)
			return err
		}
		slog.Error("failed to load emergency data", "subject", s.id.Subject, "role", s.id.Role, "error", err)
		return err
	}

	s.mu.Lock()
	for _, t := range tables {
		if tokens[t] <= s.applied[t] {
			// A newer load of this collection already landed.
			observability.StoreReloads.WithLabelValues(string(t), "stale").Inc()
			continue
		}
		s.applied[t] = tokens[t]
		switch t {
		case realtime.TableClients:
			if s.id.IsAdmin() {
				s.clients = clients
			} else {
				s.current = current
			}
		case realtime.TableAlerts:
			s.alerts = alerts
		}
		observability.StoreReloads.WithLabelValues(string(t), "ok").Inc()
	}
	s.version++
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *Store) beginLoad(tables []realtime.Table) map[realtime.Table]uint64 {
	tokens := make(map[realtime.Table]uint64, len(tables))

	s.mu.Lock()
	for _, t := range tables {
		s.issued[t]++
		tokens[t] = s.issued[t]
	}
	s.inflight++
	s.version++
	s.mu.Unlock()

	s.notify()
	return tokens
}

func (s *Store) endLoad() {
	s.mu.Lock()
	s.inflight--
	s.version++
	s.mu.Unlock()

	s.notify()
}

// CreateAlert raises an alert for the current client at a best-effort
// location, records that location on the client, and reloads alerts.
func (s *Store) CreateAlert(ctx context.Context, t models.AlertType, message string, locator geo.Locator) (*models.Alert, error) {
	if s.id.IsAdmin() {
		return nil, fmt.Errorf("%w: administrators cannot raise alerts", ErrForbidden)
	}
	cur := s.currentClient()
	if cur == nil {
		return nil, ErrNotAuthenticated
	}
	if _, err := models.ParseAlertType(string(t)); err != nil {
		return nil, err
	}

	loc, ok := s.resolver.BestEffort(ctx, locator)
	if !ok {
		observability.LocationFallbacks.Inc()
	}

	now := time.Now().UTC()
	alert := &models.Alert{
		ClientID:  cur.ID,
		Type:      t,
		Status:    models.AlertStatusActive,
		Message:   strings.TrimSpace(message),
		Location:  loc,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.backend.AddAlert(ctx, alert); err != nil {
		slog.Error("failed to create alert", "client_id", cur.ID, "type", t, "error", err)
		return nil, fmt.Errorf("create alert: %w", err)
	}
	observability.AlertsCreated.WithLabelValues(string(t)).Inc()
	slog.Info("alert created", "alert_id", alert.ID, "client_id", cur.ID, "type", t, "location", loc.String())

	if err := s.backend.UpdateClientLocation(ctx, cur.ID, loc, now); err != nil {
		slog.Error("failed to record alert location on client", "client_id", cur.ID, "alert_id", alert.ID, "error", err)
		return alert, fmt.Errorf("update client location: %w", err)
	}
	s.setCurrentLocation(cur.ID, loc, now)

	// Reload failures are logged by load; the alert itself was created.
	_ = s.load(ctx, realtime.TableAlerts)
	return alert, nil
}

func (s *Store) AcknowledgeAlert(ctx context.Context, id string) error {
	return s.transition(ctx, id, models.AlertStatusAcknowledged)
}

func (s *Store) ResolveAlert(ctx context.Context, id string) error {
	return s.transition(ctx, id, models.AlertStatusResolved)
}

func (s *Store) transition(ctx context.Context, id string, to models.AlertStatus) error {
	if !s.id.IsAdmin() {
		return fmt.Errorf("%w: only administrators can update alerts", ErrForbidden)
	}

	// The cache can lag behind the backend but never runs ahead of it, so a
	// transition it rules out is invalid on the backend too.
	if a, ok := s.cachedAlert(id); ok && !a.Status.CanTransitionTo(to) {
		observability.AlertTransitions.WithLabelValues(string(to), "rejected").Inc()
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, a.Status, to)
	}

	if err := s.backend.TransitionAlert(ctx, id, to, time.Now().UTC()); err != nil {
		outcome := "error"
		if errors.Is(err, models.ErrInvalidTransition) {
			outcome = "rejected"
		}
		observability.AlertTransitions.WithLabelValues(string(to), outcome).Inc()
		slog.Error("failed to update alert status", "alert_id", id, "status", to, "error", err)
		return fmt.Errorf("set alert %s to %s: %w", id, to, err)
	}
	observability.AlertTransitions.WithLabelValues(string(to), "ok").Inc()
	slog.Info("alert status updated", "alert_id", id, "status", to, "by", s.id.Subject)

	_ = s.load(ctx, realtime.TableAlerts)
	return nil
}

// UpdateLocation applies the new position to the current client right away
// and rolls it back if the backend write fails.
func (s *Store) UpdateLocation(ctx context.Context, loc models.Location) error {
	if !loc.InRange() {
		return fmt.Errorf("coordinates out of range: %s", loc)
	}

	now := time.Now().UTC()
	s.mu.Lock()
	prev := s.current
	if prev == nil {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	next := withLocation(*prev, loc, now)
	s.current = &next
	s.version++
	s.mu.Unlock()
	s.notify()

	if err := s.backend.UpdateClientLocation(ctx, prev.ID, loc, now); err != nil {
		s.mu.Lock()
		if s.current == &next {
			s.current = prev
			s.version++
		}
		s.mu.Unlock()
		s.notify()

		slog.Error("failed to update location", "client_id", prev.ID, "error", err)
		return fmt.Errorf("update location: %w", err)
	}

	if s.id.IsAdmin() {
		_ = s.load(ctx, realtime.TableClients)
	}
	return nil
}

// RefreshLocation is the manual refresh path: unlike alert creation it
// reports a failed lookup instead of substituting the default location.
func (s *Store) RefreshLocation(ctx context.Context, locator geo.Locator) (models.Location, error) {
	if s.currentClient() == nil {
		return models.Location{}, ErrNotAuthenticated
	}
	loc, err := s.resolver.Current(ctx, locator)
	if err != nil {
		slog.Warn("manual location refresh failed", "subject", s.id.Subject, "error", err)
		return models.Location{}, err
	}
	if err := s.UpdateLocation(ctx, loc); err != nil {
		return models.Location{}, err
	}
	return loc, nil
}

// AddClient registers a new active client. Administrators only.
func (s *Store) AddClient(ctx context.Context, c *models.Client) error {
	if !s.id.IsAdmin() {
		return fmt.Errorf("%w: only administrators can add clients", ErrForbidden)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	c.Status = models.ClientStatusActive

	if err := s.backend.AddClient(ctx, c); err != nil {
		slog.Error("failed to add client", "name", c.Name, "error", err)
		return fmt.Errorf("add client: %w", err)
	}
	slog.Info("client added", "client_id", c.ID, "by", s.id.Subject)

	_ = s.load(ctx, realtime.TableClients)
	return nil
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Identity: s.id,
		Alerts:   s.alerts,
		Loading:  s.inflight > 0,
		Version:  s.version,
	}
	if s.id.IsAdmin() {
		snap.Clients = s.clients
	} else if s.current != nil {
		cur := cloneClient(*s.current)
		snap.Current = &cur
		snap.Clients = []models.Client{cur}
	}
	return snap
}

// Watch registers fn to receive a snapshot after every state change,
// including loading flag flips. The returned func unregisters it.
func (s *Store) Watch(fn Listener) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	if len(s.listeners) == 0 {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Store) currentClient() *models.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	c := cloneClient(*s.current)
	return &c
}

func (s *Store) cachedAlert(id string) (models.Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id {
			return a, true
		}
	}
	return models.Alert{}, false
}

func (s *Store) setCurrentLocation(clientID string, loc models.Location, at time.Time) {
	s.mu.Lock()
	if s.current == nil || s.current.ID != clientID {
		s.mu.Unlock()
		return
	}
	next := withLocation(*s.current, loc, at)
	s.current = &next
	s.version++
	s.mu.Unlock()

	s.notify()
}

func withLocation(c models.Client, loc models.Location, at time.Time) models.Client {
	c.Location = nil
	if loc.Valid() {
		l := loc
		c.Location = &l
	}
	c.UpdatedAt = at
	return c
}

func cloneClient(c models.Client) models.Client {
	if c.Location != nil {
		l := *c.Location
		c.Location = &l
	}
	return c
}

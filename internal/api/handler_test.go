package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mr1hm/go-emergency-alerts/internal/auth"
	"github.com/mr1hm/go-emergency-alerts/internal/geo"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/realtime"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
	"github.com/mr1hm/go-emergency-alerts/internal/session"
	"github.com/mr1hm/go-emergency-alerts/internal/store"
)

type testServer struct {
	router   *gin.Engine
	db       *repository.SQLiteDB
	issuer   *auth.Issuer
	hub      *Hub
	registry *session.Registry
	handler  *Handler
}

func setupTestServer(t *testing.T, checks map[string]ReadyCheck) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	ctx := context.Background()
	now := time.Now()
	for i, id := range []string{"C1", "C2", "C3"} {
		c := &models.Client{
			ID: id, Name: "Client " + id, Phone: "555-010" + id[1:], Email: id + "@example.com",
			Address: "1 Main St", EmergencyContact: "Jane", CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}
		if err := db.AddClient(ctx, c); err != nil {
			t.Fatalf("AddClient failed: %v", err)
		}
	}
	db.UpdateClientLocation(ctx, "C1", models.Location{Latitude: 40.7, Longitude: -74.0}, now)
	db.UpdateClientLocation(ctx, "C3", models.Location{}, now)

	b := realtime.NewBroadcaster(10)
	backend := repository.NewNotifier(db, b)

	issuer, err := auth.NewIssuer("test-secret-0123456789", "emergency-alerts", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}

	opts := geo.DefaultOptions()
	opts.Timeout = 100 * time.Millisecond
	resolver := geo.NewResolver(opts, geo.DefaultLocation)

	registry, err := session.NewRegistry(16, func(id auth.Identity) *store.Store {
		return store.New(id, backend, b, resolver, 4)
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	hub := NewHub()
	handler := NewHandler(Options{
		Registry:        registry,
		Issuer:          issuer,
		Hub:             hub,
		EmergencyNumber: "911",
		ReadyChecks:     checks,
	})

	router := gin.New()
	handler.RegisterRoutes(router)

	t.Cleanup(func() {
		hub.Close()
		registry.Close()
		b.Close()
		db.Close()
	})

	return &testServer{router: router, db: db, issuer: issuer, hub: hub, registry: registry, handler: handler}
}

func (ts *testServer) token(t *testing.T, subject string, role auth.Role) string {
	t.Helper()
	tok, err := ts.issuer.Issue(subject, role, 0)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return tok
}

func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t, nil)

	w := ts.do("GET", "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	resp := decode[map[string]string](t, w)
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestReadyz(t *testing.T) {
	var ts *testServer
	ts = setupTestServer(t, map[string]ReadyCheck{
		"database": func(ctx context.Context) error { return ts.db.Ping(ctx) },
		"nats":     func(ctx context.Context) error { return errors.New("nats: connection closed") },
	})

	w := ts.do("GET", "/readyz", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	resp := decode[struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}](t, w)
	if resp.Status != "not ready" || resp.Checks["database"] != "ok" || resp.Checks["nats"] == "ok" {
		t.Errorf("unexpected readiness %+v", resp)
	}
}

func TestAuthAndRoleRedirects(t *testing.T) {
	ts := setupTestServer(t, nil)
	admin := ts.token(t, "ops-1", auth.RoleAdmin)
	client := ts.token(t, "C1", auth.RoleClient)

	tests := []struct {
		name     string
		path     string
		token    string
		wantCode int
		wantLoc  string
	}{
		{"no token", "/admin", "", http.StatusUnauthorized, ""},
		{"admin portal", "/admin", admin, http.StatusOK, ""},
		{"client portal", "/client", client, http.StatusOK, ""},
		{"admin barred from client routes", "/client/map", admin, http.StatusFound, "/admin"},
		{"client barred from admin routes", "/admin/alerts", client, http.StatusFound, "/client"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do("GET", tt.path, tt.token, nil)
			if w.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, w.Code)
			}
			if tt.wantLoc != "" && w.Header().Get("Location") != tt.wantLoc {
				t.Errorf("expected redirect to %s, got %s", tt.wantLoc, w.Header().Get("Location"))
			}
		})
	}
}

type alertResponse struct {
	Alert   alertJSON `json:"alert"`
	Message string    `json:"message"`
}

type bucketsResponse struct {
	Active       []alertJSON `json:"active"`
	Acknowledged []alertJSON `json:"acknowledged"`
	Resolved     []alertJSON `json:"resolved"`
}

func TestAlertLifecycle(t *testing.T) {
	ts := setupTestServer(t, nil)
	admin := ts.token(t, "ops-1", auth.RoleAdmin)
	client := ts.token(t, "C1", auth.RoleClient)

	w := ts.do("POST", "/client/alerts", client, gin.H{
		"type":   "panic",
		"device": gin.H{"latitude": 40.0, "longitude": -73.0},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[alertResponse](t, w)
	if !strings.HasPrefix(created.Message, "PANIC alert sent to security control center!") {
		t.Errorf("unexpected confirmation %q", created.Message)
	}
	if created.Alert.Status != "active" || created.Alert.Location == nil || created.Alert.Location.Latitude != 40.0 {
		t.Errorf("unexpected alert %+v", created.Alert)
	}

	c1, _ := ts.db.GetClient(context.Background(), "C1")
	if c1.Location == nil || c1.Location.Latitude != 40.0 || c1.Location.Longitude != -73.0 {
		t.Errorf("expected client location updated to the alert location, got %v", c1.Location)
	}

	buckets := decode[bucketsResponse](t, ts.do("GET", "/admin/alerts", admin, nil))
	if len(buckets.Active) != 1 || buckets.Active[0].ClientName != "Client C1" {
		t.Fatalf("expected one active alert from Client C1, got %+v", buckets.Active)
	}
	id := created.Alert.ID

	if w := ts.do("POST", "/admin/alerts/"+id+"/acknowledge", admin, nil); w.Code != http.StatusOK {
		t.Errorf("acknowledge: expected 200, got %d", w.Code)
	}
	if w := ts.do("POST", "/admin/alerts/"+id+"/acknowledge", admin, nil); w.Code != http.StatusConflict {
		t.Errorf("second acknowledge: expected 409, got %d", w.Code)
	}
	if w := ts.do("POST", "/admin/alerts/"+id+"/resolve", admin, nil); w.Code != http.StatusOK {
		t.Errorf("resolve: expected 200, got %d", w.Code)
	}
	if w := ts.do("POST", "/admin/alerts/"+id+"/acknowledge", admin, nil); w.Code != http.StatusConflict {
		t.Errorf("acknowledge after resolve: expected 409, got %d", w.Code)
	}
	if w := ts.do("POST", "/admin/alerts/missing/resolve", admin, nil); w.Code != http.StatusNotFound {
		t.Errorf("resolve missing: expected 404, got %d", w.Code)
	}

	buckets = decode[bucketsResponse](t, ts.do("GET", "/admin/alerts", admin, nil))
	if len(buckets.Active) != 0 || len(buckets.Resolved) != 1 {
		t.Errorf("expected the alert resolved, got %d active %d resolved", len(buckets.Active), len(buckets.Resolved))
	}
}

func TestCreateAlert_Validation(t *testing.T) {
	ts := setupTestServer(t, nil)
	client := ts.token(t, "C1", auth.RoleClient)

	if w := ts.do("POST", "/client/alerts", client, gin.H{"type": "fire"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown type, got %d", w.Code)
	}

	req, _ := http.NewRequest("POST", "/client/alerts", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+client)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", w.Code)
	}
}

func TestCreateAlert_WithoutLocationUsesDefault(t *testing.T) {
	ts := setupTestServer(t, nil)
	client := ts.token(t, "C2", auth.RoleClient)

	w := ts.do("POST", "/client/alerts", client, gin.H{"type": "assistance", "message": "flat tyre"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[alertResponse](t, w)
	loc := created.Alert.Location
	if loc == nil || loc.Latitude != geo.DefaultLocation.Latitude || loc.Longitude != geo.DefaultLocation.Longitude {
		t.Errorf("expected default location, got %+v", loc)
	}
	if created.Alert.Message != "flat tyre" {
		t.Errorf("expected message kept, got %q", created.Alert.Message)
	}
}

func TestRefreshLocation(t *testing.T) {
	ts := setupTestServer(t, nil)
	client := ts.token(t, "C2", auth.RoleClient)

	w := ts.do("POST", "/client/location", client, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without a fix, got %d", w.Code)
	}
	resp := decode[map[string]string](t, w)
	if resp["error"] != "Unable to get location. Please check your browser settings." {
		t.Errorf("unexpected error message %q", resp["error"])
	}

	w = ts.do("POST", "/client/location", client, gin.H{"device": gin.H{"latitude": 51.5, "longitude": -0.12}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	c2, _ := ts.db.GetClient(context.Background(), "C2")
	if !c2.HasLocation() || c2.Location.Latitude != 51.5 {
		t.Errorf("expected stored location, got %v", c2.Location)
	}

	// The fix is remembered for later lookups within the max age
	if w := ts.do("POST", "/client/location", client, nil); w.Code != http.StatusOK {
		t.Errorf("expected cached fix to be used, got %d", w.Code)
	}
}

type fixedIPLocator struct {
	loc models.Location
}

func (f fixedIPLocator) For(ip string) geo.Locator {
	return geo.LocatorFunc(func(ctx context.Context, opts geo.Options) (geo.Fix, error) {
		return geo.Fix{Location: f.loc, Timestamp: time.Now(), Accuracy: 50000}, nil
	})
}

func TestIPLocationUsedOnlyForAlerts(t *testing.T) {
	ts := setupTestServer(t, nil)
	london := models.Location{Latitude: 51.5, Longitude: -0.12}
	ts.handler.ipLocator = fixedIPLocator{loc: london}
	client := ts.token(t, "C2", auth.RoleClient)

	// A manual refresh must not pass off an IP estimate as the device position
	if w := ts.do("POST", "/client/location", client, nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for refresh without a device fix, got %d", w.Code)
	}

	w := ts.do("POST", "/client/alerts", client, gin.H{"type": "panic"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	loc := decode[alertResponse](t, w).Alert.Location
	if loc == nil || loc.Latitude != london.Latitude || loc.Longitude != london.Longitude {
		t.Errorf("expected alert placed by IP, got %+v", loc)
	}
}

func TestAddClient(t *testing.T) {
	ts := setupTestServer(t, nil)
	admin := ts.token(t, "ops-1", auth.RoleAdmin)

	w := ts.do("POST", "/admin/clients", admin, gin.H{
		"name": "Ann", "phone": "555 0199", "email": "ann@example.com",
		"address": "2 High St", "emergency_contact": "Bob - 555 0200",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	resp := decode[struct {
		Clients []clientJSON `json:"clients"`
		Stats   statsJSON    `json:"stats"`
	}](t, ts.do("GET", "/admin/clients", admin, nil))
	if len(resp.Clients) != 4 || resp.Stats.ActiveClients != 4 || resp.Stats.LocatedClients != 1 {
		t.Errorf("unexpected client list: %d clients, stats %+v", len(resp.Clients), resp.Stats)
	}

	if w := ts.do("POST", "/admin/clients", admin, gin.H{"name": "Half"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for incomplete client, got %d", w.Code)
	}
}

func TestAdminMap_SkipsClientsWithoutLocation(t *testing.T) {
	ts := setupTestServer(t, nil)
	admin := ts.token(t, "ops-1", auth.RoleAdmin)

	w := ts.do("GET", "/admin/map", admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("expected content-type application/geo+json, got %s", ct)
	}

	fc := decode[FeatureCollection](t, w)
	if fc.Type != "FeatureCollection" {
		t.Errorf("expected type FeatureCollection, got %s", fc.Type)
	}
	// C2 has no location and C3 sits on the (0,0) sentinel
	if len(fc.Features) != 1 || fc.Features[0].Properties["id"] != "C1" {
		t.Fatalf("expected only C1 on the map, got %+v", fc.Features)
	}
	if coords := fc.Features[0].Geometry.Coordinates; coords[0] != -74.0 || coords[1] != 40.7 {
		t.Errorf("expected [lng, lat] coordinates, got %v", coords)
	}
}

func TestClientPortal(t *testing.T) {
	ts := setupTestServer(t, nil)
	client := ts.token(t, "C3", auth.RoleClient)

	resp := decode[struct {
		Client     *clientJSON   `json:"client"`
		AlertTypes []string      `json:"alert_types"`
		Emergency  emergencyJSON `json:"emergency"`
	}](t, ts.do("GET", "/client", client, nil))

	if resp.Client == nil || resp.Client.ID != "C3" {
		t.Fatalf("expected own client record, got %+v", resp.Client)
	}
	if resp.Client.Location != nil {
		t.Errorf("(0,0) must not be presented as a location, got %+v", resp.Client.Location)
	}
	if len(resp.AlertTypes) != 3 || resp.Emergency.URI != "tel:911" {
		t.Errorf("unexpected portal data %+v", resp)
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts := setupTestServer(t, nil)
	client := ts.token(t, "C1", auth.RoleClient)

	if w := ts.do("POST", "/session/refresh", client, nil); w.Code != http.StatusOK {
		t.Errorf("expected 200 on refresh, got %d", w.Code)
	}
	if ts.registry.Len() != 1 {
		t.Errorf("expected one live session, got %d", ts.registry.Len())
	}
	if w := ts.do("DELETE", "/session", client, nil); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if ts.registry.Len() != 0 {
		t.Errorf("expected session torn down, got %d", ts.registry.Len())
	}
}

func TestWebSocketSnapshots(t *testing.T) {
	ts := setupTestServer(t, nil)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	admin := ts.token(t, "ops-1", auth.RoleAdmin)
	client := ts.token(t, "C1", auth.RoleClient)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?access_token=" + admin
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	var first snapshotJSON
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if first.Type != "snapshot" || len(first.Clients) != 3 {
		t.Errorf("unexpected first snapshot: %s with %d clients", first.Type, len(first.Clients))
	}

	if w := ts.do("POST", "/client/alerts", client, gin.H{"type": "accident"}); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	// The admin store reloads on the change event and pushes the new state
	for {
		var snap snapshotJSON
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("expected a snapshot with the new alert: %v", err)
		}
		if snap.Stats.ActiveAlerts == 1 && !snap.Loading {
			break
		}
	}
}

func TestWebSocketClosedWhenSessionEnds(t *testing.T) {
	ts := setupTestServer(t, nil)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	admin := ts.token(t, "ops-1", auth.RoleAdmin)
	client := ts.token(t, "C1", auth.RoleClient)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?access_token=" + admin

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first snapshotJSON
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read failed: %v", err)
	}

	if w := ts.do("DELETE", "/session", admin, nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	// Drain anything queued before sign-out; the server must then hang up
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
			t.Fatalf("expected going-away close after sign-out, got %v", err)
		}
		break
	}

	// A reconnect is served by a fresh store that sees new alerts
	again, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("redial failed: %v", err)
	}
	defer again.Close()
	again.SetReadDeadline(time.Now().Add(2 * time.Second))

	if w := ts.do("POST", "/client/alerts", client, gin.H{"type": "panic"}); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	for {
		var snap snapshotJSON
		if err := again.ReadJSON(&snap); err != nil {
			t.Fatalf("expected a snapshot with the new alert: %v", err)
		}
		if snap.Stats.ActiveAlerts == 1 && !snap.Loading {
			break
		}
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(1))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 2)
	for i := range codes {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/ping", nil)
		router.ServeHTTP(w, req)
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("expected 200 then 429, got %v", codes)
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/iotgateway-core/internal/alerting"
	"github.com/nerrad567/iotgateway-core/internal/automation"
	"github.com/nerrad567/iotgateway-core/internal/broker"
	"github.com/nerrad567/iotgateway-core/internal/device"
	"github.com/nerrad567/iotgateway-core/internal/gateway"
	"github.com/nerrad567/iotgateway-core/internal/history"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/config"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/database"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/logging"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/iotgateway-core/internal/settings"
	"github.com/nerrad567/iotgateway-core/internal/topic"
	"github.com/nerrad567/iotgateway-core/migrations"
)

// ─── Mock Dependencies ─────────────────────────────────────────────

type published struct {
	Topic   string
	Payload string
}

// fakeTransport is an in-memory broker connection that connects on Start.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	onConnect func()
	handlers  map[string]mqtt.MessageHandler
	order     []string
	messages  []published
}

func (f *fakeTransport) Start() error {
	f.mu.Lock()
	f.connected = true
	callback := f.onConnect
	f.mu.Unlock()
	if callback != nil {
		callback()
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Subscribe(filter string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.handlers[filter]; !ok {
		f.order = append(f.order, filter)
	}
	f.handlers[filter] = handler
	return nil
}

func (f *fakeTransport) Unsubscribe(filter string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, filter)
	return nil
}

func (f *fakeTransport) Publish(msgTopic string, payload []byte, _ byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return mqtt.ErrNotConnected
	}
	f.messages = append(f.messages, published{Topic: msgTopic, Payload: string(payload)})
	return nil
}

func (f *fakeTransport) SetOnConnect(callback func()) {
	f.mu.Lock()
	f.onConnect = callback
	f.mu.Unlock()
}

func (f *fakeTransport) SetOnDisconnect(func(error)) {}

// deliver hands an inbound message to every matching handler.
func (f *fakeTransport) deliver(t *testing.T, msgTopic, payload string) {
	t.Helper()
	f.mu.Lock()
	var matched []mqtt.MessageHandler
	for _, filter := range f.order {
		if h, ok := f.handlers[filter]; ok && topic.Matches(msgTopic, filter) {
			matched = append(matched, h)
		}
	}
	f.mu.Unlock()
	for _, h := range matched {
		if err := h(msgTopic, []byte(payload)); err != nil {
			t.Fatalf("handler(%s) error = %v", msgTopic, err)
		}
	}
}

func (f *fakeTransport) sentTo(msgTopic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, m := range f.messages {
		if m.Topic == msgTopic {
			out = append(out, m)
		}
	}
	return out
}

// ─── Helper ────────────────────────────────────────────────────────

var testWSConfig = config.WebSocketConfig{
	MaxMessageSize: 8192,
	PingInterval:   30,
	PongTimeout:    10,
}

type apiFixture struct {
	srv     *Server
	handler http.Handler
	session *gateway.Session
	hub     *Hub

	mu         sync.Mutex
	transports []*fakeTransport
}

// transport returns the most recently dialed broker connection.
func (f *apiFixture) transport(t *testing.T) *fakeTransport {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transports) == 0 {
		t.Fatal("no transport dialed")
	}
	return f.transports[len(f.transports)-1]
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// setupTestDB opens an in-memory database with migrations and the default
// server profiles.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	if _, err := broker.NewSQLiteRepository(db.DB).SeedDefaults(ctx); err != nil {
		t.Fatalf("seeding servers: %v", err)
	}
	return db
}

// setupServer wires the API over a real session, engines and database.
// The broker is an in-memory fake.
func setupServer(t *testing.T) *apiFixture {
	t.Helper()
	db := setupTestDB(t)
	log := testLogger()
	f := &apiFixture{hub: NewHub(testWSConfig, log)}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.hub.Run(ctx)

	dialer := func(config.MQTTConfig) gateway.Transport {
		tr := &fakeTransport{handlers: make(map[string]mqtt.MessageHandler)}
		f.mu.Lock()
		f.transports = append(f.transports, tr)
		f.mu.Unlock()
		return tr
	}

	store := settings.NewStore(settings.NewSQLiteRepository(db.DB))
	servers := broker.NewSQLiteRepository(db.DB)
	devices := device.NewSQLiteRepository(db.DB)
	presence := device.NewSQLiteEventRepository(db.DB)

	s := gateway.NewSession(gateway.Options{ClientIDPrefix: "test", Dialer: dialer},
		servers, gateway.NewSQLiteSubscriptionRepository(db.DB), store, history.New(history.DefaultCapacity), f.hub)

	tracker := device.NewTracker(devices, presence, s, f.hub, store)
	gate := device.NewGate(devices, presence, tracker)
	alerts := alerting.NewEngine(alerting.NewSQLiteRepository(db.DB), f.hub)
	tracker.SetAlertChecker(alerts)
	triggers := automation.NewTriggerEngine(automation.NewSQLiteTriggerRepository(db.DB), s, f.hub, s, store)
	tasks := automation.NewTaskEngine(automation.NewSQLiteTaskRepository(db.DB), s, f.hub, s, store)
	correlator := automation.NewCorrelator(s, s, f.hub, s)
	correlator.SetTaskCounter(tasks)
	tasks.SetResponder(correlator)

	s.Attach(gateway.Components{
		Devices:    devices,
		Tracker:    tracker,
		Gate:       gate,
		Alerts:     alerts,
		Triggers:   triggers,
		Tasks:      tasks,
		Correlator: correlator,
	})
	t.Cleanup(func() { s.Close() })

	srv, err := New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1"},
		WS:       testWSConfig,
		Logger:   log,
		DB:       db,
		Session:  s,
		Servers:  servers,
		Settings: store,
		Devices:  devices,
		Tracker:  tracker,
		Gate:     gate,
		Tasks:    tasks,
		Triggers: triggers,
		Alerts:   alerts,
		Hub:      f.hub,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	f.srv = srv
	f.session = s
	f.handler = srv.Handler()
	return f
}

// connect selects a server profile through the API and waits for the
// session to report connected.
func (f *apiFixture) connect(t *testing.T, server string) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/session/connect", map[string]string{"server": server})
	if w.Code != http.StatusAccepted {
		t.Fatalf("connect status = %d, body = %s", w.Code, w.Body.String())
	}
	if !f.session.IsConnected() {
		t.Fatal("session not connected after connect")
	}
}

// do sends a request with an optional JSON body through the router.
func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return v
}

// expectError asserts the status and the envelope code of an error response.
func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	env := decodeBody[errorEnvelope](t, w)
	if env.Error.Code != code {
		t.Errorf("error code = %q, want %q", env.Error.Code, code)
	}
	if env.Error.Message == "" {
		t.Error("error message is empty")
	}
}

// ─── Health & Middleware Tests ─────────────────────────────────────

func TestHealth(t *testing.T) {
	f := setupServer(t)

	w := f.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	resp := decodeBody[map[string]any](t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestRequestID_Generated(t *testing.T) {
	f := setupServer(t)

	w := f.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	f := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-id-1")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-id-1" {
		t.Errorf("X-Request-ID = %q, want client-id-1", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	f := setupServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/servers", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestNotFound(t *testing.T) {
	f := setupServer(t)

	w := f.do(t, http.MethodGet, "/api/v1/nonexistent", nil)
	expectError(t, w, http.StatusNotFound, ErrCodeNotFound)
}

func TestInvalidJSON(t *testing.T) {
	f := setupServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/servers", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	expectError(t, w, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestMetrics(t *testing.T) {
	f := setupServer(t)
	f.connect(t, "Localhost")

	w := f.do(t, http.MethodGet, "/api/v1/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}

	m := decodeBody[SystemMetrics](t, w)
	if m.Version != "test" {
		t.Errorf("version = %q", m.Version)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("goroutines = 0")
	}
	if !m.MQTT.Connected || m.MQTT.Server != "Localhost" {
		t.Errorf("mqtt = %+v, want connected to Localhost", m.MQTT)
	}
	if m.Database.OpenConnections == 0 {
		t.Error("database open connections = 0")
	}
}

func TestWriteServiceError_Mapping(t *testing.T) {
	f := setupServer(t)

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", fmt.Errorf("%w: bad", topic.ErrInvalidTopic), http.StatusBadRequest, ErrCodeValidation},
		{"not found", fmt.Errorf("loading: %w", broker.ErrServerNotFound), http.StatusNotFound, ErrCodeNotFound},
		{"duplicate server", broker.ErrServerExists, http.StatusConflict, ErrCodeConflict},
		{"already whitelisted", device.ErrAlreadyWhitelisted, http.StatusConflict, ErrCodeConflict},
		{"already subscribed", gateway.ErrAlreadySubscribed, http.StatusConflict, ErrCodeConflict},
		{"not connected", gateway.ErrNotConnected, http.StatusServiceUnavailable, ErrCodeNotConnected},
		{"broker unreachable", fmt.Errorf("connecting: %w", mqtt.ErrConnectionFailed), http.StatusBadGateway, ErrCodeBrokerFailed},
		{"unmapped", fmt.Errorf("disk on fire"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			f.srv.writeServiceError(w, tt.err, "operation failed")
			expectError(t, w, tt.status, tt.code)
		})
	}
}

// ─── Lifecycle Tests ───────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() with no session should fail")
	}
}

func TestServer_StartAndClose(t *testing.T) {
	f := setupServer(t)
	port := 19180
	f.srv.cfg.Port = port
	f.srv.cfg.Timeouts = config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}

	if err := f.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := f.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	addr := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	resp, err := http.Get(addr)
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
	if err := f.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := f.srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if _, err := http.Get(addr); err == nil {
		t.Error("server still responding after Close()")
	}
}

package device

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/iotgateway-core/internal/events"
	"github.com/nerrad567/iotgateway-core/internal/settings"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

type published struct {
	Topic   string
	Payload string
}

// mockPublisher captures published messages.
type mockPublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []published
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, published{Topic: topic, Payload: string(payload)})
	return nil
}

func (m *mockPublisher) setConnected(c bool) {
	m.mu.Lock()
	m.connected = c
	m.mu.Unlock()
}

func (m *mockPublisher) getMessages() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]published, len(m.messages))
	copy(cpy, m.messages)
	return cpy
}

// mockHub captures broadcasts by event name.
type mockHub struct {
	mu     sync.Mutex
	events map[string][]any
}

func (m *mockHub) Broadcast(event string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil {
		m.events = make(map[string][]any)
	}
	m.events[event] = append(m.events[event], payload)
}

func (m *mockHub) count(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events[event])
}

func (m *mockHub) last(event string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.events[event]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

type alertCall struct {
	Key     string
	Reading map[string]any
}

// mockAlerts captures alert checks.
type mockAlerts struct {
	mu    sync.Mutex
	calls []alertCall
}

func (m *mockAlerts) Check(deviceID, location string, reading map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, alertCall{Key: Key(deviceID, location), Reading: reading})
}

// mockSink captures time-series writes.
type mockSink struct {
	mu       sync.Mutex
	readings []map[string]*float64
	presence []bool
}

func (m *mockSink) WriteSensorReading(_, _ string, values map[string]*float64, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = append(m.readings, values)
}

func (m *mockSink) WritePresence(_, _ string, online bool, _ float64, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presence = append(m.presence, online)
}

// mockSettings serves integer settings from a map.
type mockSettings map[string]int

func (m mockSettings) Int(key string, def int) int {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

// ─── Helper ─────────────────────────────────────────────────────────────────

var testNow = time.Date(2026, 3, 1, 9, 30, 15, 250_000_000, time.UTC)

type trackerFixture struct {
	tracker *Tracker
	repo    *SQLiteRepository
	events  *SQLiteEventRepository
	pub     *mockPublisher
	hub     *mockHub
	alerts  *mockAlerts
	sink    *mockSink
}

func setupTracker(t *testing.T) *trackerFixture {
	t.Helper()
	db := setupTestDB(t)

	f := &trackerFixture{
		repo:   NewSQLiteRepository(db.DB),
		events: NewSQLiteEventRepository(db.DB),
		pub:    &mockPublisher{connected: true},
		hub:    &mockHub{},
		alerts: &mockAlerts{},
		sink:   &mockSink{},
	}
	f.tracker = NewTracker(f.repo, f.events, f.pub, f.hub, mockSettings{settings.KeyMaxMissedPings: 2})
	f.tracker.SetAlertChecker(f.alerts)
	f.tracker.SetSensorSink(f.sink)
	f.tracker.now = func() time.Time { return testNow }
	f.tracker.startDelay = 0
	f.tracker.rebroadcastDelay = time.Hour
	f.tracker.Reset("Localhost", nil)
	return f
}

func (f *trackerFixture) listEvents(t *testing.T, id, loc string) []Event {
	t.Helper()
	evts, err := f.events.ListEvents(context.Background(), id, loc, 10)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	return evts
}

func pong(t float64) []byte {
	b, _ := json.Marshal(map[string]any{"cmd": "PONG", "time": t}) //nolint:errcheck // fixed map
	return b
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestTracker_PresenceGoesOfflineAfterThreshold(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	if err := f.tracker.HandlePong(ctx, "sensor01", "kitchen", pong(float64(testNow.Unix()))); err != nil {
		t.Fatalf("HandlePong() error = %v", err)
	}

	wantStatus := []Status{StatusOnline, StatusOnline, StatusOffline, StatusOffline}
	for i, want := range wantStatus {
		if err := f.tracker.PingCycle(ctx); err != nil {
			t.Fatalf("PingCycle() error = %v", err)
		}
		d, _ := f.tracker.Get("sensor01", "kitchen")
		if d.Status != want || d.MissedPings != i+1 {
			t.Errorf("cycle %d: status %s missed %d, want %s missed %d", i+1, d.Status, d.MissedPings, want, i+1)
		}
	}

	evts := f.listEvents(t, "sensor01", "kitchen")
	if len(evts) != 1 {
		t.Fatalf("events = %+v, want exactly one disconnected", evts)
	}
	if evts[0].Type != EventDisconnected || evts[0].Details != "no response after 2 attempts" {
		t.Errorf("event = %+v", evts[0])
	}
}

func TestTracker_PingCyclePublishesProbe(t *testing.T) {
	f := setupTracker(t)

	if err := f.tracker.PingCycle(context.Background()); err != nil {
		t.Fatalf("PingCycle() error = %v", err)
	}
	if n := f.hub.count(events.DevicesUpdate); n != 0 {
		t.Errorf("empty map broadcast %d times, want 0", n)
	}

	msgs := f.pub.getMessages()
	if len(msgs) != 1 || msgs[0].Topic != "iot/ping/all" {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Payload != `{"cmd":"PING","time":1772357415}` {
		t.Errorf("payload = %s", msgs[0].Payload)
	}
}

func TestTracker_HandlePong(t *testing.T) {
	t.Run("latency and reconnect event", func(t *testing.T) {
		f := setupTracker(t)
		f.tracker.Reset("Localhost", []WhitelistEntry{{DeviceID: "sensor01", Location: "kitchen"}})

		if err := f.tracker.HandlePong(context.Background(), "sensor01", "kitchen", pong(float64(testNow.Unix()))); err != nil {
			t.Fatalf("HandlePong() error = %v", err)
		}
		d, ok := f.tracker.Get("sensor01", "kitchen")
		if !ok || d.Status != StatusOnline || d.Latency == nil || *d.Latency != 250 {
			t.Fatalf("device = %+v", d)
		}

		evts := f.listEvents(t, "sensor01", "kitchen")
		if len(evts) != 1 || evts[0].Type != EventConnected || evts[0].Details != "Latency: 250.00 ms" {
			t.Errorf("events = %+v", evts)
		}
		if len(f.sink.presence) != 1 || !f.sink.presence[0] {
			t.Errorf("presence writes = %v", f.sink.presence)
		}
	})

	t.Run("no time gives -1", func(t *testing.T) {
		f := setupTracker(t)
		f.tracker.HandlePong(context.Background(), "sensor01", "kitchen", pong(0)) //nolint:errcheck // checked via state
		d, _ := f.tracker.Get("sensor01", "kitchen")
		if d.Latency == nil || *d.Latency != -1 {
			t.Errorf("latency = %v, want -1", d.Latency)
		}
		if len(f.listEvents(t, "sensor01", "kitchen")) != 0 {
			t.Error("first sighting should not record a connected event")
		}
	})

	t.Run("other commands ignored", func(t *testing.T) {
		f := setupTracker(t)
		if err := f.tracker.HandlePong(context.Background(), "sensor01", "kitchen", []byte(`{"cmd":"PING"}`)); err != nil {
			t.Fatalf("HandlePong() error = %v", err)
		}
		if _, ok := f.tracker.Get("sensor01", "kitchen"); ok {
			t.Error("non-PONG reply should not create a device")
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		f := setupTracker(t)
		if err := f.tracker.HandlePong(context.Background(), "sensor01", "kitchen", []byte("pong")); err == nil {
			t.Error("HandlePong() expected error for invalid JSON")
		}
	})
}

func TestTracker_RegistersOnce(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	for range 3 {
		f.tracker.HandlePong(ctx, "sensor01", "kitchen", pong(0)) //nolint:errcheck // checked via broadcasts
	}
	if n := f.hub.count(events.KnownDevicesUpdate); n != 1 {
		t.Errorf("known_devices_update broadcast %d times, want 1", n)
	}

	known, ok := f.hub.last(events.KnownDevicesUpdate).([]KnownDevice)
	if !ok || len(known) != 1 || known[0].ID != "sensor01" {
		t.Errorf("known devices payload = %#v", f.hub.last(events.KnownDevicesUpdate))
	}
}

func TestTracker_HandleStatus(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	payload := []byte(`{"ip":"192.168.1.20","uptime":3600,"firmware":"1.4.2","heap":21000,"temp_c":21.5,"temp_h":40}`)
	if err := f.tracker.HandleStatus(ctx, "sensor01", "kitchen", payload); err != nil {
		t.Fatalf("HandleStatus() error = %v", err)
	}

	d, _ := f.tracker.Get("sensor01", "kitchen")
	if d.Status != StatusOnline || d.IP != "192.168.1.20" || d.Firmware != "1.4.2" || d.MAC != UnknownMAC {
		t.Errorf("device = %+v", d)
	}
	if d.TempC == nil || *d.TempC != 21.5 || d.TempST != nil {
		t.Errorf("temperatures = %v %v %v", d.TempC, d.TempH, d.TempST)
	}

	readings, err := f.repo.ListSensorReadings(ctx, "sensor01", "kitchen", 10)
	if err != nil || len(readings) != 1 {
		t.Fatalf("stored readings = %v, %v", readings, err)
	}
	if len(f.sink.readings) != 1 || len(f.sink.readings[0]) != 2 {
		t.Errorf("sink readings = %v", f.sink.readings)
	}

	if len(f.alerts.calls) != 1 || f.alerts.calls[0].Reading["temp_c"] != 21.5 {
		t.Errorf("alert checks = %+v", f.alerts.calls)
	}
}

func TestTracker_HandleStatusWithoutSensorData(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	if err := f.tracker.HandleStatus(ctx, "relay02", "garage", []byte(`{"ip":"10.0.0.2"}`)); err != nil {
		t.Fatalf("HandleStatus() error = %v", err)
	}
	readings, _ := f.repo.ListSensorReadings(ctx, "relay02", "garage", 10)
	if len(readings) != 0 || len(f.sink.readings) != 0 {
		t.Errorf("readings stored without sensor data: %v / %v", readings, f.sink.readings)
	}
}

func TestTracker_ExplicitOffline(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	f.tracker.HandlePong(ctx, "sensor01", "kitchen", pong(0)) //nolint:errcheck // setup
	f.tracker.PingCycle(ctx)                                  //nolint:errcheck // bump missed count

	if err := f.tracker.HandleStatus(ctx, "sensor01", "kitchen", []byte(`{"status":"offline"}`)); err != nil {
		t.Fatalf("HandleStatus() error = %v", err)
	}

	d, _ := f.tracker.Get("sensor01", "kitchen")
	if d.Status != StatusOffline || d.MissedPings != 0 {
		t.Errorf("device = %+v, want offline with missed 0", d)
	}

	evts := f.listEvents(t, "sensor01", "kitchen")
	if len(evts) != 1 || evts[0].Type != EventDisconnected {
		t.Errorf("events = %+v", evts)
	}

	if len(f.alerts.calls) != 1 {
		t.Fatalf("alert checks = %d, want 1", len(f.alerts.calls))
	}
	if got := f.alerts.calls[0].Reading; len(got) != 1 || got["status"] != "offline" {
		t.Errorf("offline reading = %v", got)
	}
}

func TestTracker_HandleConfig(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	f.tracker.HandleStatus(ctx, "sensor01", "kitchen", []byte(`{"ip":"10.0.0.5","firmware":"1.0"}`)) //nolint:errcheck // setup

	payload := []byte(`{"firmware":"1.1","chip_id":"A1B2","sensor":"DHT22"}`)
	if err := f.tracker.HandleConfig(ctx, "sensor01", "kitchen", payload); err != nil {
		t.Fatalf("HandleConfig() error = %v", err)
	}

	d, _ := f.tracker.Get("sensor01", "kitchen")
	if d.Firmware != "1.1" || d.ChipID != "A1B2" || d.SensorType != "DHT22" {
		t.Errorf("device = %+v", d)
	}
	if d.IP != "10.0.0.5" {
		t.Errorf("IP = %q, keys absent from the report must be kept", d.IP)
	}

	update, ok := f.hub.last(events.DeviceConfigUpdate).(ConfigUpdate)
	if !ok {
		t.Fatalf("device_config_update payload = %#v", f.hub.last(events.DeviceConfigUpdate))
	}
	if update.Config.MAC != UnknownMAC || update.Config.Firmware != "1.1" {
		t.Errorf("config = %+v", update.Config)
	}
	if sensor, _ := update.Config.Sensor.(map[string]any); sensor["type"] != "DHT22" {
		t.Errorf("sensor = %#v", update.Config.Sensor)
	}

	if err := f.tracker.HandleConfig(ctx, "sensor01", "kitchen", []byte(`{"sensor":{"temp_c":19}}`)); err != nil {
		t.Fatalf("HandleConfig() error = %v", err)
	}
	d, _ = f.tracker.Get("sensor01", "kitchen")
	if d.TempC == nil || *d.TempC != 19 {
		t.Errorf("temp_c = %v, want 19", d.TempC)
	}

	if err := f.tracker.HandleConfig(ctx, "sensor01", "kitchen", []byte("{")); err == nil {
		t.Error("HandleConfig() expected error for invalid JSON")
	}
}

func TestTracker_ResetAndMarkAllOffline(t *testing.T) {
	f := setupTracker(t)
	f.tracker.Reset("Localhost", []WhitelistEntry{
		{DeviceID: "sensor01", Location: "kitchen", Name: "Fridge"},
		{DeviceID: "relay02", Location: "garage"},
	})

	snap := f.tracker.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() = %d devices, want 2", len(snap))
	}
	if d := snap["sensor01@kitchen"]; d.Status != StatusOffline || d.Name != "Fridge" {
		t.Errorf("preloaded device = %+v", d)
	}

	f.tracker.HandlePong(context.Background(), "relay02", "garage", pong(0)) //nolint:errcheck // setup
	f.tracker.MarkAllOffline()
	for key, d := range f.tracker.Snapshot() {
		if d.Status != StatusOffline || d.MissedPings != 0 {
			t.Errorf("%s = %+v, want offline", key, d)
		}
	}
}

func TestTracker_SendCommand(t *testing.T) {
	f := setupTracker(t)

	if err := f.tracker.SendCommand("sensor01", "kitchen", "reboot"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	msgs := f.pub.getMessages()
	if len(msgs) != 1 || msgs[0].Topic != "iot/cmd/sensor01/kitchen" || msgs[0].Payload != `{"cmd":"REBOOT"}` {
		t.Errorf("messages = %+v", msgs)
	}

	if err := f.tracker.SendCommand("sensor01", "kitchen", "SELF_DESTRUCT"); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("SendCommand() error = %v, want ErrInvalidCommand", err)
	}
	if err := f.tracker.SendCommand("sensor/01", "kitchen", "STATUS"); err == nil {
		t.Error("SendCommand() expected error for invalid device id")
	}

	f.pub.setConnected(false)
	if err := f.tracker.SendCommand("sensor01", "kitchen", "STATUS"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendCommand() disconnected error = %v, want ErrNotConnected", err)
	}
}

func TestTracker_PingAll(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()
	f.tracker.HandlePong(ctx, "sensor01", "kitchen", pong(0)) //nolint:errcheck // setup

	if err := f.tracker.PingAll(ctx); err != nil {
		t.Fatalf("PingAll() error = %v", err)
	}
	if d, _ := f.tracker.Get("sensor01", "kitchen"); d.Status != StatusOffline {
		t.Errorf("status = %s, want offline until the device replies", d.Status)
	}

	msgs := f.pub.getMessages()
	if len(msgs) != 2 || msgs[0].Topic != "iot/ping/all" || msgs[1].Topic != "iot/cmd/all/all" {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[1].Payload != `{"cmd":"STATUS"}` {
		t.Errorf("command payload = %s", msgs[1].Payload)
	}

	f.pub.setConnected(false)
	if err := f.tracker.PingAll(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PingAll() disconnected error = %v, want ErrNotConnected", err)
	}
}

func TestTracker_PingAllRebroadcastOutlivesRequest(t *testing.T) {
	f := setupTracker(t)
	f.tracker.rebroadcastDelay = 50 * time.Millisecond

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := f.tracker.PingAll(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(ts.Close)

	resp, err := http.Post(ts.URL, "application/json", nil)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	afterCall := f.hub.count(events.DevicesUpdate)

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.count(events.DevicesUpdate) == afterCall {
		if time.Now().After(deadline) {
			t.Fatal("device map was not broadcast again after the request finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTracker_PingAllRebroadcastSkippedAfterDisconnect(t *testing.T) {
	f := setupTracker(t)
	f.tracker.rebroadcastDelay = 20 * time.Millisecond

	if err := f.tracker.PingAll(context.Background()); err != nil {
		t.Fatalf("PingAll() error = %v", err)
	}
	afterCall := f.hub.count(events.DevicesUpdate)
	f.pub.setConnected(false)

	time.Sleep(150 * time.Millisecond)
	if n := f.hub.count(events.DevicesUpdate); n != afterCall {
		t.Errorf("devices_update count = %d, want %d once disconnected", n, afterCall)
	}
}

func TestTracker_RunPingLoop(t *testing.T) {
	t.Run("stops when disconnected", func(t *testing.T) {
		f := setupTracker(t)
		f.pub.setConnected(false)

		done := make(chan struct{})
		go func() {
			f.tracker.RunPingLoop(context.Background())
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("RunPingLoop() did not exit while disconnected")
		}
		if len(f.pub.getMessages()) != 0 {
			t.Error("no probe should be published while disconnected")
		}
	})

	t.Run("stops on cancel", func(t *testing.T) {
		f := setupTracker(t)
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan struct{})
		go func() {
			f.tracker.RunPingLoop(ctx)
			close(done)
		}()

		deadline := time.Now().Add(2 * time.Second)
		for len(f.pub.getMessages()) == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("RunPingLoop() did not exit after cancel")
		}
		if len(f.pub.getMessages()) != 1 {
			t.Errorf("probes = %d, want 1 before the interval elapsed", len(f.pub.getMessages()))
		}
	})
}

func TestTracker_SetAlias(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()
	f.tracker.HandlePong(ctx, "sensor01", "kitchen", pong(0)) //nolint:errcheck // setup

	if err := f.tracker.SetAlias(ctx, "sensor01", "kitchen", "Fridge"); err != nil {
		t.Fatalf("SetAlias() error = %v", err)
	}
	if d, _ := f.tracker.Get("sensor01", "kitchen"); d.Name != "Fridge" {
		t.Errorf("name = %q, want Fridge", d.Name)
	}

	// Later reports keep the alias
	f.tracker.HandleStatus(ctx, "sensor01", "kitchen", []byte(`{"ip":"10.0.0.5"}`)) //nolint:errcheck // setup
	if d, _ := f.tracker.Get("sensor01", "kitchen"); d.Name != "Fridge" {
		t.Errorf("name after status = %q, want Fridge", d.Name)
	}

	if err := f.tracker.SetAlias(ctx, "sensor01", "kitchen", strings.Repeat("x", 101)); !errors.Is(err, ErrInvalidAlias) {
		t.Errorf("SetAlias() long alias error = %v, want ErrInvalidAlias", err)
	}
	if err := f.tracker.SetAlias(ctx, "ghost", "kitchen", "x"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetAlias() unknown device error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSplitKey(t *testing.T) {
	tests := []struct {
		key    string
		wantID string
		wantOK bool
	}{
		{"sensor01@kitchen", "sensor01", true},
		{"a@b@c", "a@b", true},
		{"nokey", "", false},
		{"@kitchen", "", false},
		{"sensor01@", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			id, _, ok := SplitKey(tt.key)
			if ok != tt.wantOK || id != tt.wantID {
				t.Errorf("SplitKey(%q) = %q, %v", tt.key, id, ok)
			}
		})
	}
}

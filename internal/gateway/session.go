package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/iotgateway-core/internal/alerting"
	"github.com/nerrad567/iotgateway-core/internal/automation"
	"github.com/nerrad567/iotgateway-core/internal/broker"
	"github.com/nerrad567/iotgateway-core/internal/device"
	"github.com/nerrad567/iotgateway-core/internal/events"
	"github.com/nerrad567/iotgateway-core/internal/history"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/config"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/iotgateway-core/internal/settings"
	"github.com/nerrad567/iotgateway-core/internal/topic"
)

// Session timing constants.
const (
	// loadTimeout bounds the database work done when a connection comes up.
	loadTimeout = 15 * time.Second

	// handlerTimeout bounds the work done for one inbound message.
	handlerTimeout = 10 * time.Second

	// defaultClientIDPrefix is used when no prefix is configured.
	defaultClientIDPrefix = "iotgateway"
)

// State is the connection state of a session.
type State string

// Session states.
const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Options configure a session.
type Options struct {
	// MQTT is the connection template. Broker address and credentials are
	// replaced by the selected server profile.
	MQTT config.MQTTConfig

	// ClientIDPrefix is prepended to a random UUID to form the client id.
	ClientIDPrefix string

	// Dialer builds the transport. Nil uses mqtt.NewClient.
	Dialer Dialer
}

// Components are the engines the session drives. They are built after the
// session because most of them publish through it.
type Components struct {
	Devices    device.Repository
	Tracker    *device.Tracker
	Gate       *device.Gate
	Alerts     *alerting.Engine
	Triggers   *automation.TriggerEngine
	Tasks      *automation.TaskEngine
	Correlator *automation.Correlator
}

// Session owns the broker connection and routes every inbound message to
// the engines. At most one connection exists at a time.
//
// Lifecycle:
//
//	disconnected → connecting → connected → disconnected
//
// Transport auto-reconnect re-enters connected without user action.
//
// Thread Safety: All methods are safe for concurrent use.
type Session struct {
	opts     Options
	servers  broker.Repository
	subs     SubscriptionRepository
	settings Settings
	history  *history.Ring
	hub      events.Broadcaster
	c        Components
	topics   topicSet

	// Connection state
	mu         sync.RWMutex
	state      State
	server     string
	transport  Transport
	loopCancel context.CancelFunc

	// Session-level context, cancelled on Close
	ctx    context.Context
	cancel context.CancelFunc

	logger Logger
}

// NewSession creates a disconnected session. Call Attach before Connect.
func NewSession(opts Options, servers broker.Repository, subs SubscriptionRepository,
	store Settings, ring *history.Ring, hub events.Broadcaster) *Session {
	if hub == nil {
		hub = events.Discard{}
	}
	if ring == nil {
		ring = history.New(history.DefaultCapacity)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		opts:     opts,
		servers:  servers,
		subs:     subs,
		settings: store,
		history:  ring,
		hub:      hub,
		state:    StateDisconnected,
		ctx:      ctx,
		cancel:   cancel,
		logger:   noopLogger{},
	}
}

// Attach installs the engines. It must be called once, before Connect.
func (s *Session) Attach(c Components) {
	s.c = c
}

// SetLogger sets the logger for session operations.
func (s *Session) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// ─── Connection lifecycle ───────────────────────────────────────────────────

// Connect opens a connection to the named server profile, replacing any
// existing one. It returns once the broker has accepted the connection;
// the connected-state work runs from the transport's connect callback.
func (s *Session) Connect(ctx context.Context, serverName string) error {
	if serverName == "" {
		return ErrServerRequired
	}
	profile, err := s.servers.Get(ctx, serverName)
	if err != nil {
		return fmt.Errorf("loading server profile: %w", err)
	}

	if err := s.disconnect(false); err != nil {
		s.logger.Warn("closing previous connection failed", "error", err)
	}

	whitelist, err := s.c.Gate.List(ctx, profile.Name)
	if err != nil {
		s.logger.Warn("loading allow-list failed", "server", profile.Name, "error", err)
	}
	s.c.Tracker.Reset(profile.Name, whitelist)

	if err := s.settings.Set(ctx, settings.KeyLastSelectedServer, profile.Name); err != nil {
		s.logger.Warn("persisting last selected server failed", "error", err)
	}

	cfg := s.mqttConfig(profile)
	t := s.dial(cfg)
	t.SetOnConnect(func() { s.onConnect(t) })
	t.SetOnDisconnect(func(err error) { s.onConnectionLost(t, err) })

	s.mu.Lock()
	s.state = StateConnecting
	s.server = profile.Name
	s.transport = t
	s.mu.Unlock()
	s.broadcastStatus()

	s.logger.Info("connecting to broker",
		"server", profile.Name,
		"broker", fmt.Sprintf("%s:%d", profile.Broker, profile.Port),
		"client_id", cfg.Broker.ClientID,
	)

	if err := t.Start(); err != nil {
		s.mu.Lock()
		if s.transport == t {
			s.transport = nil
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		_ = t.Close() //nolint:errcheck // transport never connected

		s.logger.Error("broker connection failed", "server", profile.Name, "error", err)
		s.addHistory(topic.Error, fmt.Sprintf("Connection to %s failed: %v", profile.Name, err), history.In, true)
		s.broadcastStatus()
		return fmt.Errorf("connecting to %s: %w", profile.Name, err)
	}
	return nil
}

// Disconnect closes the connection at the user's request.
// Returns ErrNotConnected if there is no connection.
func (s *Session) Disconnect() error {
	s.mu.RLock()
	active := s.transport != nil
	s.mu.RUnlock()
	if !active {
		return ErrNotConnected
	}
	return s.disconnect(true)
}

// Close disconnects and releases the session. The session cannot be
// reused afterwards.
func (s *Session) Close() error {
	err := s.disconnect(true)
	s.cancel()
	return err
}

// disconnect closes the current transport, if any, and runs the
// disconnected-state work.
func (s *Session) disconnect(announce bool) error {
	s.mu.Lock()
	t := s.transport
	server := s.server
	s.transport = nil
	s.mu.Unlock()
	if t == nil {
		return nil
	}

	err := t.Close()
	s.teardown()
	if announce {
		s.addHistory(topic.System, "Disconnected from "+server, history.In, true)
	}
	s.logger.Info("disconnected from broker", "server", server)
	return err
}

// onConnect runs on the initial connect and on every reconnect.
func (s *Session) onConnect(t Transport) {
	s.mu.Lock()
	if s.transport != t {
		s.mu.Unlock()
		return
	}
	s.state = StateConnected
	server := s.server
	if s.loopCancel != nil {
		s.loopCancel()
	}
	loopCtx, loopCancel := context.WithCancel(s.ctx)
	s.loopCancel = loopCancel
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, loadTimeout)
	defer cancel()

	qos := s.qos()
	for _, filter := range deviceFilters {
		if err := t.Subscribe(filter, qos, s.handlerFor(filter)); err != nil {
			s.logger.Error("subscribing to device channel failed", "filter", filter, "error", err)
		}
	}

	stored, err := s.subs.List(ctx, server)
	if err != nil {
		s.logger.Error("loading subscriptions failed", "server", server, "error", err)
	}
	s.topics.Reset(stored)
	for _, filter := range s.topics.List() {
		if err := t.Subscribe(filter, qos, s.handlerFor(filter)); err != nil {
			s.logger.Error("subscribing failed", "filter", filter, "error", err)
		}
	}
	s.broadcastTopics()

	if err := s.c.Tasks.Load(ctx, server); err != nil {
		s.logger.Error("loading scheduled tasks failed", "server", server, "error", err)
	}
	if err := s.c.Triggers.Load(ctx, server); err != nil {
		s.logger.Error("loading message triggers failed", "server", server, "error", err)
	}
	if err := s.c.Alerts.Load(ctx, server); err != nil {
		s.logger.Error("loading alert rules failed", "server", server, "error", err)
	}

	topics := mqtt.Topics{}
	probes := []struct {
		topic   string
		payload []byte
	}{
		{topics.PingAll(), mqtt.PingPayload(time.Now())},
		{topics.CommandAll(), mqtt.CommandPayload(mqtt.CmdStatus)},
		{topics.CommandAll(), mqtt.CommandPayload(mqtt.CmdGetConfig)},
	}
	for _, p := range probes {
		if err := t.Publish(p.topic, p.payload, 0, false); err != nil {
			s.logger.Warn("initial device probe failed", "topic", p.topic, "error", err)
		}
	}

	go s.c.Tracker.RunPingLoop(loopCtx)
	s.c.Tasks.Start()

	s.logger.Info("connected to broker", "server", server, "subscriptions", len(stored))
	s.addHistory(topic.System, "Connected to "+server, history.In, true)
	s.broadcastStatus()
}

// onConnectionLost runs when the broker drops a connection the user did
// not close. The transport keeps reconnecting on its own.
func (s *Session) onConnectionLost(t Transport, err error) {
	s.mu.RLock()
	current := s.transport == t
	server := s.server
	s.mu.RUnlock()
	if !current {
		return
	}

	s.logger.Warn("broker connection lost", "server", server, "error", err)
	s.addHistory(topic.System, "Reconnecting to "+server+"...", history.In, true)
	s.teardown()
}

// teardown is the disconnected-state work shared by user disconnects and
// lost connections.
func (s *Session) teardown() {
	s.mu.Lock()
	s.state = StateDisconnected
	cancel := s.loopCancel
	s.loopCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.c.Tasks.Stop()
	s.c.Tasks.Clear()
	s.c.Triggers.Clear()
	s.topics.Clear()
	s.broadcastTopics()
	s.c.Alerts.Clear()
	s.c.Correlator.Clear()
	s.c.Tracker.MarkAllOffline()
	s.broadcastStatus()
}

// ─── State ──────────────────────────────────────────────────────────────────

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Server returns the name of the selected server profile, or "" before
// the first Connect.
func (s *Session) Server() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.server
}

// Status returns the payload of an mqtt_status event.
func (s *Session) Status() events.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return events.Status{
		Connected: s.state == StateConnected,
		State:     string(s.state),
		Server:    s.server,
	}
}

// IsConnected reports whether the session holds a live connection.
func (s *Session) IsConnected() bool {
	t := s.live()
	return t != nil && t.IsConnected()
}

// Topics returns the subscription set in insertion order.
func (s *Session) Topics() []string {
	return s.topics.List()
}

// live returns the transport when the session is connected.
func (s *Session) live() Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateConnected {
		return nil
	}
	return s.transport
}

func (s *Session) broadcastStatus() {
	s.hub.Broadcast(events.MQTTStatus, s.Status())
}

func (s *Session) broadcastTopics() {
	s.hub.Broadcast(events.TopicsUpdate, s.topics.List())
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// mqttConfig builds the connection config for a server profile.
func (s *Session) mqttConfig(profile *broker.Server) config.MQTTConfig {
	cfg := s.opts.MQTT
	cfg.Broker.Host = profile.Broker
	cfg.Broker.Port = profile.Port
	cfg.Broker.ClientID = s.clientID()
	cfg.Auth = config.MQTTAuthConfig{
		Username: profile.Username,
		Password: profile.Password,
	}
	cfg.KeepAlive = s.settings.Int(settings.KeyKeepAlive, cfg.KeepAlive)
	cfg.Reconnect.InitialDelay = s.settings.Int(settings.KeyReconnectDelay, cfg.Reconnect.InitialDelay)
	return cfg
}

func (s *Session) clientID() string {
	prefix := s.opts.ClientIDPrefix
	if prefix == "" {
		prefix = defaultClientIDPrefix
	}
	return prefix + "-" + uuid.NewString()
}

func (s *Session) dial(cfg config.MQTTConfig) Transport {
	if s.opts.Dialer != nil {
		return s.opts.Dialer(cfg)
	}
	client := mqtt.NewClient(cfg)
	client.SetLogger(s.logger)
	return client
}

func (s *Session) qos() byte {
	return byte(s.settings.Int(settings.KeyDefaultQoS, 1))
}

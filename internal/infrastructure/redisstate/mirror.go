package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/iotgateway-core/internal/events"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/config"
)

const (
	defaultKeyPrefix = "iotgw"
	defaultTTL       = 24 * time.Hour
	queueSize        = 64
	connectTimeout   = 5 * time.Second
	writeTimeout     = 2 * time.Second
)

// mirroredEvents are the snapshot events worth persisting. Everything else
// is a one-shot notification.
var mirroredEvents = map[string]bool{
	events.DevicesUpdate:         true,
	events.KnownDevicesUpdate:    true,
	events.TopicsUpdate:          true,
	events.TaskUpdate:            true,
	events.MessageTriggersUpdate: true,
	events.AlertsUpdate:          true,
	events.MQTTStatus:            true,
}

// Logger is the logging interface used by the mirror.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// store is the subset of *redis.Client the mirror writes through.
type store interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

type snapshot struct {
	event string
	data  []byte
}

// Mirror writes broadcast snapshots to Redis.
//
// Thread Safety: Broadcast is safe for concurrent use. Run must be called
// from exactly one goroutine.
type Mirror struct {
	store   store
	prefix  string
	ttl     time.Duration
	queue   chan snapshot
	dropped atomic.Uint64
	logger  Logger
}

// Connect creates a Redis client from cfg and verifies it with a ping.
//
// Returns ErrDisabled if the mirror is not enabled.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Mirror, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return newMirror(rdb, cfg.KeyPrefix, time.Duration(cfg.TTL)*time.Second), nil
}

func newMirror(s store, prefix string, ttl time.Duration) *Mirror {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Mirror{
		store:  s,
		prefix: prefix,
		ttl:    ttl,
		queue:  make(chan snapshot, queueSize),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for write failures.
func (m *Mirror) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Key returns the Redis key a snapshot event is stored under.
func (m *Mirror) Key(event string) string {
	return m.prefix + ":" + event
}

// Broadcast queues a snapshot for writing. Non-snapshot events and
// payloads that cannot be encoded are ignored.
func (m *Mirror) Broadcast(event string, payload any) {
	if !mirroredEvents[event] {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.Warn("redis mirror: encoding snapshot", "event", event, "error", err)
		return
	}

	select {
	case m.queue <- snapshot{event: event, data: data}:
	default:
		m.dropped.Add(1)
	}
}

// Dropped returns how many snapshots were discarded because the queue was full.
func (m *Mirror) Dropped() uint64 {
	return m.dropped.Load()
}

// Run writes queued snapshots until ctx is cancelled. It always returns nil
// so it can sit in an errgroup without taking the gateway down; Redis
// failures are logged per write.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-m.queue:
			m.write(ctx, s)
		}
	}
}

func (m *Mirror) write(ctx context.Context, s snapshot) {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := m.store.Set(writeCtx, m.Key(s.event), s.data, m.ttl).Err(); err != nil {
		m.logger.Warn("redis mirror: write failed", "key", m.Key(s.event), "error", err)
		return
	}
	m.logger.Debug("redis mirror: snapshot written", "key", m.Key(s.event), "bytes", len(s.data))
}

// Close closes the Redis client. Safe to call on a nil Mirror.
func (m *Mirror) Close() error {
	if m == nil || m.store == nil {
		return nil
	}
	return m.store.Close()
}

package gateway

import (
	"context"

	"github.com/nerrad567/iotgateway-core/internal/infrastructure/config"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/mqtt"
)

// Logger defines the logging interface used by the session.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Transport is the broker connection a session drives. *mqtt.Client
// satisfies it.
type Transport interface {
	Start() error
	Close() error
	IsConnected() bool
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
}

// Dialer builds an unconnected transport for a broker configuration.
type Dialer func(cfg config.MQTTConfig) Transport

// Settings is the part of the settings store the session reads and writes.
type Settings interface {
	Get(key string) string
	Int(key string, def int) int
	All() map[string]string
	Set(ctx context.Context, key, value string) error
}

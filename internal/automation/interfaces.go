package automation

import (
	"github.com/nerrad567/iotgateway-core/internal/history"
)

// Logger defines the logging interface used by the engines.
// This allows different logging implementations to be used.
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

// Publisher is the broker handle the engines publish through.
type Publisher interface {
	IsConnected() bool
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// HistoryRecorder appends a message history entry that bypasses the
// subscription filter.
type HistoryRecorder interface {
	Record(title, payload string, dir history.Direction)
}

// Settings provides integer runtime settings.
type Settings interface {
	Int(key string, def int) int
}

// Subscriber adds a filter to the session's subscription set if it is not
// already there.
type Subscriber interface {
	EnsureSubscribed(filter string) error
}

// Package history keeps the bounded, newest-first log of messages the
// gateway shows to UI subscribers.
package history

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of entries kept when no size is configured.
const DefaultCapacity = 100

// timestampLayout is the wall-clock format shown next to each entry.
const timestampLayout = "15:04:05"

// Direction tells whether a message was received or sent.
type Direction string

// Message directions.
const (
	In  Direction = "in"
	Out Direction = "out"
)

// Entry is one line of message history.
type Entry struct {
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload"`
	Timestamp string    `json:"timestamp"`
	Direction Direction `json:"direction"`
}

// Ring is a fixed-capacity history buffer. When full, adding an entry
// evicts the oldest one.
//
// Thread Safety: All methods are safe for concurrent use.
type Ring struct {
	mu    sync.RWMutex
	buf   []Entry
	head  int // index of the next write
	count int
	now   func() time.Time
}

// New creates a ring holding at most capacity entries. A capacity below 1
// falls back to DefaultCapacity.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Ring{
		buf: make([]Entry, capacity),
		now: time.Now,
	}
}

// Add records an entry stamped with the current local time and returns it.
func (r *Ring) Add(topic, payload string, dir Direction) Entry {
	e := Entry{
		Topic:     topic,
		Payload:   payload,
		Timestamp: r.now().Format(timestampLayout),
		Direction: dir,
	}

	r.mu.Lock()
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	r.mu.Unlock()

	return e
}

// Snapshot returns a copy of the entries, newest first.
func (r *Ring) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, r.count)
	for i := 1; i <= r.count; i++ {
		idx := (r.head - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// Clear removes every entry.
func (r *Ring) Clear() {
	r.mu.Lock()
	clear(r.buf)
	r.head = 0
	r.count = 0
	r.mu.Unlock()
}

// Len returns the number of stored entries.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

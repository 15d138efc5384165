package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/iotgateway-core/internal/events"
	"github.com/nerrad567/iotgateway-core/internal/history"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

type mockSubscriber struct {
	mu      sync.Mutex
	filters []string
	err     error
}

func (m *mockSubscriber) EnsureSubscribed(filter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, filter)
	return m.err
}

type mockCounter struct {
	ids []string
}

func (m *mockCounter) RecordResponse(_ context.Context, taskID string) {
	m.ids = append(m.ids, taskID)
}

// ─── Helper ─────────────────────────────────────────────────────────────────

type correlatorFixture struct {
	c       *Correlator
	pub     *mockPublisher
	subs    *mockSubscriber
	hub     *mockHub
	hist    *mockHistory
	counter *mockCounter
	clock   time.Time
}

func setupCorrelator(t *testing.T) *correlatorFixture {
	t.Helper()
	f := &correlatorFixture{
		pub:     newMockPublisher(),
		subs:    &mockSubscriber{},
		hub:     &mockHub{},
		hist:    &mockHistory{},
		counter: &mockCounter{},
		clock:   testNow,
	}
	f.c = NewCorrelator(f.pub, f.subs, f.hub, f.hist)
	f.c.SetTaskCounter(f.counter)
	f.c.now = func() time.Time { return f.clock }
	return f
}

func responseTask(action ResponseAction, condition string) Task {
	task := testTask("task-1", "Probe")
	task.ResponseSpec = ResponseSpec{
		Enabled:   true,
		Topic:     "dev/1/reply",
		Timeout:   10,
		Condition: condition,
		Action:    action,
	}
	return task
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestCorrelator_ArmSubscribesAndRecords(t *testing.T) {
	f := setupCorrelator(t)
	f.c.Arm(responseTask(ResponseNotify, ""))

	if len(f.subs.filters) != 1 || f.subs.filters[0] != "dev/1/reply" {
		t.Errorf("subscribed = %v", f.subs.filters)
	}
	p, ok := f.c.Pending("dev/1/reply")
	if !ok {
		t.Fatal("no pending entry after Arm")
	}
	if p.TaskID != "task-1" || !p.Expires.Equal(testNow.Add(10*time.Second)) {
		t.Errorf("pending = %+v", p)
	}
}

func TestCorrelator_ArmWhileDisconnected(t *testing.T) {
	f := setupCorrelator(t)
	f.pub.setConnected(false)
	f.c.Arm(responseTask(ResponseLog, ""))

	if len(f.subs.filters) != 0 {
		t.Error("disconnected Arm should not subscribe")
	}
	if f.c.Len() != 1 {
		t.Error("pending entry should be recorded while disconnected")
	}
}

func TestCorrelator_ArmSubscribeFailureStillRecords(t *testing.T) {
	f := setupCorrelator(t)
	f.subs.err = errors.New("refused")
	f.c.Arm(responseTask(ResponseLog, ""))

	if f.c.Len() != 1 {
		t.Error("pending entry should survive a subscribe failure")
	}
}

func TestCorrelator_ResolveNotify(t *testing.T) {
	f := setupCorrelator(t)
	f.c.Arm(responseTask(ResponseNotify, "$.state == 'on'"))
	ctx := context.Background()

	if f.c.Resolve(ctx, "dev/2/reply", []byte(`{"state":"on"}`)) {
		t.Error("unrelated topic resolved")
	}
	if !f.c.Resolve(ctx, "dev/1/reply", []byte(`{"state":"on"}`)) {
		t.Fatal("Resolve() = false, want true")
	}
	if f.c.Len() != 0 {
		t.Error("entry should be removed on first message")
	}

	entries := f.hist.getEntries()
	if len(entries) != 1 || entries[0].Title != "Response OK: Probe" || entries[0].Dir != history.In {
		t.Errorf("history = %+v", entries)
	}
	if entries[0].Payload != `{"state":"on"}` {
		t.Errorf("history body = %q", entries[0].Payload)
	}

	notes := f.hub.byEvent(events.NewNotification)
	if len(notes) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notes))
	}
	n := notes[0].(events.Notification)
	if n.Title != "Response: Probe" || n.Type != events.TypeSuccess || n.Tag != "task_response_Probe" {
		t.Errorf("notification = %+v", n)
	}
	if len(f.counter.ids) != 1 || f.counter.ids[0] != "task-1" {
		t.Errorf("counter bumps = %v", f.counter.ids)
	}

	// A second message finds nothing pending.
	if f.c.Resolve(ctx, "dev/1/reply", []byte(`{"state":"on"}`)) {
		t.Error("second Resolve() should find no entry")
	}
}

func TestCorrelator_ResolveError(t *testing.T) {
	f := setupCorrelator(t)
	f.c.Arm(responseTask(ResponseError, "code >= 500"))

	f.c.Resolve(context.Background(), "dev/1/reply", []byte(`{"code":503}`))

	n := f.hub.byEvent(events.NewNotification)[0].(events.Notification)
	if n.Title != "Error: Probe" || n.Type != events.TypeError || n.Tag != "task_error_Probe" {
		t.Errorf("notification = %+v", n)
	}
	if got := f.hist.getEntries()[0].Title; got != "Response error: Probe" {
		t.Errorf("history title = %q", got)
	}
}

func TestCorrelator_ResolveLogOnly(t *testing.T) {
	f := setupCorrelator(t)
	f.c.Arm(responseTask(ResponseLog, ""))

	f.c.Resolve(context.Background(), "dev/1/reply", []byte("pong"))

	if len(f.hub.byEvent(events.NewNotification)) != 0 {
		t.Error("log action should not notify")
	}
	entries := f.hist.getEntries()
	if len(entries) != 1 || entries[0].Title != "Response: Probe" || entries[0].Payload != "pong" {
		t.Errorf("history = %+v", entries)
	}
}

func TestCorrelator_ConditionNotMet(t *testing.T) {
	f := setupCorrelator(t)
	f.c.Arm(responseTask(ResponseNotify, "$.state == 'on'"))

	if !f.c.Resolve(context.Background(), "dev/1/reply", []byte(`{"state":"off"}`)) {
		t.Error("entry should still be consumed")
	}
	if len(f.hist.getEntries()) != 0 || len(f.counter.ids) != 0 {
		t.Error("unmet condition should not act or count")
	}
	if f.c.Len() != 0 {
		t.Error("entry should be removed even when the condition fails")
	}
}

func TestCorrelator_Expiry(t *testing.T) {
	f := setupCorrelator(t)
	f.c.Arm(responseTask(ResponseNotify, ""))

	f.clock = testNow.Add(11 * time.Second)

	if f.c.Resolve(context.Background(), "dev/1/reply", []byte("late")) {
		t.Error("expired entry resolved")
	}
	if len(f.hist.getEntries()) != 0 {
		t.Error("expired entry should be discarded silently")
	}
	if f.c.Len() != 0 {
		t.Error("expired entry should be pruned")
	}
}

func TestCorrelator_LaterArmWins(t *testing.T) {
	f := setupCorrelator(t)
	first := responseTask(ResponseLog, "")
	second := responseTask(ResponseLog, "")
	second.ID = "task-2"
	second.Name = "Second"

	f.c.Arm(first)
	f.c.Arm(second)

	if p, _ := f.c.Pending("dev/1/reply"); p.TaskID != "task-2" {
		t.Errorf("pending task = %q, want task-2", p.TaskID)
	}
	if f.c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", f.c.Len())
	}
}

func TestCorrelator_DefaultsAndClear(t *testing.T) {
	f := setupCorrelator(t)
	task := responseTask("", "")
	task.ResponseSpec.Timeout = 0
	f.c.Arm(task)

	p, _ := f.c.Pending("dev/1/reply")
	if p.Action != ResponseLog || !p.Expires.Equal(testNow.Add(DefaultResponseTimeout*time.Second)) {
		t.Errorf("defaults = %+v", p)
	}

	f.c.Clear()
	if f.c.Len() != 0 {
		t.Error("Clear() left entries")
	}
}

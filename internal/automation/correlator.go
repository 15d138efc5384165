package automation

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/iotgateway-core/internal/events"
	"github.com/nerrad567/iotgateway-core/internal/history"
)

// TaskCounter is bumped after a correlated response satisfies its
// condition.
type TaskCounter interface {
	RecordResponse(ctx context.Context, taskID string)
}

// Pending is an armed response expectation.
type Pending struct {
	TaskID    string         `json:"task_id"`
	TaskName  string         `json:"task_name"`
	Condition string         `json:"condition"`
	Action    ResponseAction `json:"action"`
	Expires   time.Time      `json:"expires"`
}

// Correlator matches the first message on a response topic to the task
// that armed it.
//
// Only one expectation is held per response topic: arming a topic that is
// already pending replaces the earlier entry, so two tasks sharing a
// response topic race and the later one wins.
type Correlator struct {
	pub     Publisher
	subs    Subscriber
	hub     events.Broadcaster
	history HistoryRecorder
	counter TaskCounter
	logger  Logger
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]Pending
}

// NewCorrelator creates a correlator. subs may be nil, in which case Arm
// never subscribes.
func NewCorrelator(pub Publisher, subs Subscriber, hub events.Broadcaster, rec HistoryRecorder) *Correlator {
	return &Correlator{
		pub:     pub,
		subs:    subs,
		hub:     hub,
		history: rec,
		logger:  noopLogger{},
		now:     time.Now,
		pending: make(map[string]Pending),
	}
}

// SetLogger sets the logger for the correlator.
func (c *Correlator) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetTaskCounter sets the component bumped on a satisfied response.
func (c *Correlator) SetTaskCounter(counter TaskCounter) {
	c.counter = counter
}

// Arm records a response expectation for task, subscribing to the response
// topic first when the broker is connected. The expectation is recorded
// even when the subscription cannot be made.
func (c *Correlator) Arm(task Task) {
	spec := task.ResponseSpec
	if spec.Topic == "" {
		return
	}

	if c.subs != nil && c.pub != nil && c.pub.IsConnected() {
		if err := c.subs.EnsureSubscribed(spec.Topic); err != nil {
			c.logger.Warn("subscribing to response topic failed", "topic", spec.Topic, "error", err)
		}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}
	action := spec.Action
	if action == "" {
		action = ResponseLog
	}

	c.mu.Lock()
	c.pending[spec.Topic] = Pending{
		TaskID:    task.ID,
		TaskName:  task.Name,
		Condition: spec.Condition,
		Action:    action,
		Expires:   c.now().Add(time.Duration(timeout) * time.Second),
	}
	c.mu.Unlock()

	c.logger.Debug("response armed", "task", task.Name, "topic", spec.Topic, "timeout_s", timeout)
}

// Resolve consumes the expectation pending on topic, if any, and runs its
// action when payload satisfies the condition. It reports whether an
// unexpired expectation was consumed.
func (c *Correlator) Resolve(ctx context.Context, topic string, payload []byte) bool {
	c.mu.Lock()
	now := c.now()
	c.pruneLocked(now)
	p, ok := c.pending[topic]
	if ok {
		delete(c.pending, topic)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	data := ParsePayload(payload)
	if !EvaluateResponseCondition(p.Condition, data) {
		c.logger.Debug("response condition not met", "task", p.TaskName, "topic", topic)
		return true
	}

	c.act(p, data)
	if c.counter != nil {
		c.counter.RecordResponse(ctx, p.TaskID)
	}
	c.logger.Info("response condition met", "task", p.TaskName, "topic", topic)
	return true
}

func (c *Correlator) act(p Pending, data any) {
	body := preview(data)

	switch p.Action {
	case ResponseNotify:
		c.record("Response OK: "+p.TaskName, body)
		c.notify(events.Notification{
			Title: "Response: " + p.TaskName,
			Body:  body,
			Type:  events.TypeSuccess,
			Tag:   "task_response_" + p.TaskName,
		})
	case ResponseError:
		c.record("Response error: "+p.TaskName, body)
		c.notify(events.Notification{
			Title: "Error: " + p.TaskName,
			Body:  body,
			Type:  events.TypeError,
			Tag:   "task_error_" + p.TaskName,
		})
	default:
		c.record("Response: "+p.TaskName, body)
	}
}

func (c *Correlator) record(title, body string) {
	if c.history != nil {
		c.history.Record(title, body, history.In)
	}
}

func (c *Correlator) notify(n events.Notification) {
	if c.hub != nil {
		c.hub.Broadcast(events.NewNotification, n)
	}
}

// pruneLocked drops expired expectations. Caller holds c.mu.
func (c *Correlator) pruneLocked(now time.Time) {
	for topic, p := range c.pending {
		if now.After(p.Expires) {
			delete(c.pending, topic)
		}
	}
}

// Pending returns the unexpired expectation on topic.
func (c *Correlator) Pending(topic string) (Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(c.now())
	p, ok := c.pending[topic]
	return p, ok
}

// Len returns the number of unexpired expectations.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(c.now())
	return len(c.pending)
}

// Clear drops every expectation.
func (c *Correlator) Clear() {
	c.mu.Lock()
	c.pending = make(map[string]Pending)
	c.mu.Unlock()
}

package automation

import "time"

// ScheduleType selects how a task's schedule data is interpreted.
type ScheduleType string

// Schedule types.
const (
	ScheduleInterval ScheduleType = "interval" // {"minutes": N}
	ScheduleDaily    ScheduleType = "daily"    // {"hour": H, "minute": M}
	ScheduleCron     ScheduleType = "cron"     // {"cron": "m h dom mon dow"}
)

// ResponseAction is what happens when a correlated response satisfies its
// condition.
type ResponseAction string

// Response actions.
const (
	ResponseNotify ResponseAction = "notify"
	ResponseError  ResponseAction = "error"
	ResponseLog    ResponseAction = "log"
)

// DefaultResponseTimeout applies when a task enables response analysis
// without a timeout.
const DefaultResponseTimeout = 10 // seconds

// ResponseSpec is a task's optional response-analysis block.
type ResponseSpec struct {
	Enabled   bool           `json:"response_enabled"`
	Topic     string         `json:"response_topic"`
	Timeout   int            `json:"response_timeout"` // seconds
	Condition string         `json:"response_condition"`
	Action    ResponseAction `json:"response_action"`
}

// Task is a scheduled publication.
type Task struct {
	ID              string         `json:"id"`
	ServerName      string         `json:"server_name"`
	Name            string         `json:"name"`
	Topic           string         `json:"topic"`
	Payload         string         `json:"payload"`
	ScheduleType    ScheduleType   `json:"schedule_type"`
	ScheduleData    map[string]any `json:"schedule_data"`
	Enabled         bool           `json:"enabled"`
	UsePlaceholders bool           `json:"use_placeholders"`
	Executions      int            `json:"executions"`
	LastRun         *time.Time     `json:"last_run,omitempty"`

	ResponseSpec
}

// TaskInfo is a task as listed to UI subscribers, with its schedule
// description and next fire time.
type TaskInfo struct {
	Task
	Schedule string `json:"schedule"`
	NextRun  string `json:"next_run"`
}

// ActionType selects what a message trigger does when it fires.
type ActionType string

// Trigger actions.
const (
	ActionPublish ActionType = "publish"
	ActionNotify  ActionType = "notify"
)

// Trigger reacts to inbound messages whose topic matches a pattern and
// whose payload satisfies an optional condition.
type Trigger struct {
	ID            int64      `json:"id"`
	ServerName    string     `json:"server_name"`
	Name          string     `json:"name"`
	TopicPattern  string     `json:"topic_pattern"`
	Condition     string     `json:"trigger_condition"`
	ActionType    ActionType `json:"action_type"`
	ActionTopic   string     `json:"action_topic"`
	ActionPayload string     `json:"action_payload"`
	Enabled       bool       `json:"enabled"`
	TriggerCount  int        `json:"trigger_count"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
}

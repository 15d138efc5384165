package automation

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/iotgateway-core/internal/topic"
)

// Validation constants.
const (
	maxNameLength      = 100
	maxConditionLength = 500
	maxResponseTimeout = 3600 // seconds
)

// GenerateID returns a new task identifier.
func GenerateID() string {
	return uuid.NewString()
}

// ValidateName checks a task or trigger name.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateTask checks a task and fills in response defaults.
// Returns an error describing the first validation failure found.
func ValidateTask(t *Task) error {
	if t == nil {
		return ErrInvalidTask
	}
	if err := ValidateName(t.Name); err != nil {
		return err
	}
	if t.ServerName == "" {
		return fmt.Errorf("%w: server is required", ErrInvalidTask)
	}
	if err := topic.ValidatePublishTopic(t.Topic); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	if err := topic.ValidatePayload(t.Payload); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}

	if sched, desc := BuildSchedule(t.ScheduleType, t.ScheduleData); sched == nil {
		return fmt.Errorf("%w: %s schedule (%s)", ErrInvalidSchedule, t.ScheduleType, desc)
	}
	if t.ScheduleData == nil {
		t.ScheduleData = map[string]any{}
	}

	return normaliseResponse(&t.ResponseSpec)
}

func normaliseResponse(r *ResponseSpec) error {
	if r.Timeout <= 0 {
		r.Timeout = DefaultResponseTimeout
	}
	if r.Timeout > maxResponseTimeout {
		return fmt.Errorf("%w: response timeout exceeds %d seconds", ErrInvalidTask, maxResponseTimeout)
	}

	switch r.Action {
	case "":
		r.Action = ResponseLog
	case ResponseNotify, ResponseError, ResponseLog:
	default:
		return fmt.Errorf("%w: unknown response action %q", ErrInvalidTask, r.Action)
	}

	if len(r.Condition) > maxConditionLength {
		return fmt.Errorf("%w: response condition exceeds %d characters", ErrInvalidTask, maxConditionLength)
	}
	if !r.Enabled {
		return nil
	}
	if err := topic.ValidatePublishTopic(r.Topic); err != nil {
		return fmt.Errorf("%w: response topic: %w", ErrInvalidTask, err)
	}
	return nil
}

// ValidateTrigger checks a message trigger.
func ValidateTrigger(t *Trigger) error {
	if t == nil {
		return ErrInvalidTrigger
	}
	if err := ValidateName(t.Name); err != nil {
		return err
	}
	if t.ServerName == "" {
		return fmt.Errorf("%w: server is required", ErrInvalidTrigger)
	}
	if err := topic.ValidateFilter(t.TopicPattern); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
	}
	if len(t.Condition) > maxConditionLength {
		return fmt.Errorf("%w: condition exceeds %d characters", ErrInvalidTrigger, maxConditionLength)
	}

	switch t.ActionType {
	case ActionPublish:
		if err := topic.ValidatePublishTopic(t.ActionTopic); err != nil {
			return fmt.Errorf("%w: action topic: %w", ErrInvalidTrigger, err)
		}
		if err := topic.ValidatePayload(t.ActionPayload); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
		}
	case ActionNotify:
	default:
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidTrigger, t.ActionType)
	}
	return nil
}

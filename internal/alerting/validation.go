package alerting

import (
	"fmt"
	"strings"

	"github.com/nerrad567/iotgateway-core/internal/events"
)

const (
	maxNameLength    = 100
	maxMessageLength = 500
)

var severities = map[string]struct{}{
	events.TypeInfo:    {},
	events.TypeSuccess: {},
	events.TypeWarning: {},
	events.TypeError:   {},
}

// ValidateRule checks a rule and fills defaults: selector "*", severity
// warning and a message naming the metric.
func ValidateRule(r *Rule) error {
	if r == nil {
		return ErrInvalidRule
	}

	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" || len(r.Name) > maxNameLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidRule, maxNameLength)
	}
	if r.ServerName == "" {
		return fmt.Errorf("%w: server is required", ErrInvalidRule)
	}

	r.Metric = strings.TrimSpace(r.Metric)
	if r.Metric == "" {
		return fmt.Errorf("%w: metric is required", ErrInvalidRule)
	}

	switch r.Operator {
	case OpGreater, OpLess, OpEqual:
	default:
		return fmt.Errorf("%w: operator %q (want >, < or ==)", ErrInvalidRule, r.Operator)
	}

	if strings.TrimSpace(r.Value) == "" {
		return fmt.Errorf("%w: threshold value is required", ErrInvalidRule)
	}

	if r.DeviceID = strings.TrimSpace(r.DeviceID); r.DeviceID == "" {
		r.DeviceID = AllDevices
	}

	if r.Type == "" {
		r.Type = DefaultSeverity
	}
	if _, ok := severities[r.Type]; !ok {
		return fmt.Errorf("%w: type %q", ErrInvalidRule, r.Type)
	}

	if r.Message == "" {
		r.Message = fmt.Sprintf("%s: %s %s %s (now %s)", TokenDeviceName, r.Metric, r.Operator, r.Value, TokenValue)
	}
	if len(r.Message) > maxMessageLength {
		return fmt.Errorf("%w: message longer than %d characters", ErrInvalidRule, maxMessageLength)
	}
	return nil
}

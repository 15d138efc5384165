package topic

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Validation limits.
const (
	MaxTopicLength    = 200
	MaxPayloadBytes   = 10 * 1024
	MaxIdentityLength = 100
)

// Validation errors. Returned wrapped with the offending detail.
var (
	ErrInvalidTopic    = errors.New("topic: invalid topic")
	ErrPayloadTooLarge = errors.New("topic: payload too large")
	ErrInvalidDeviceID = errors.New("topic: invalid device id")
	ErrInvalidLocation = errors.New("topic: invalid location")
)

var (
	filterPattern   = regexp.MustCompile(`^[a-zA-Z0-9/_+\-.*#]+$`)
	deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-@]+$`)
	locationPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`)
)

// ValidateFilter checks a subscription filter or trigger pattern.
func ValidateFilter(filter string) error {
	switch {
	case filter == "":
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	case len(filter) > MaxTopicLength:
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidTopic, MaxTopicLength)
	case !filterPattern.MatchString(filter):
		return fmt.Errorf("%w: %q contains disallowed characters", ErrInvalidTopic, filter)
	case strings.Contains(filter, ".."):
		return fmt.Errorf("%w: %q contains \"..\"", ErrInvalidTopic, filter)
	}
	return nil
}

// ValidatePublishTopic checks a concrete topic for publishing. Wildcards
// are not allowed in published topics.
func ValidatePublishTopic(topic string) error {
	if err := ValidateFilter(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, singleWildcard+multiWildcard) {
		return fmt.Errorf("%w: wildcards not allowed when publishing", ErrInvalidTopic)
	}
	return nil
}

// ValidatePayload checks an outbound payload size.
func ValidatePayload(payload string) error {
	if len(payload) > MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadBytes)
	}
	return nil
}

// ValidateDeviceID checks a device identifier.
func ValidateDeviceID(id string) error {
	if id == "" || len(id) > MaxIdentityLength || !deviceIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidDeviceID, id)
	}
	return nil
}

// ValidateLocation checks a device location.
func ValidateLocation(location string) error {
	if location == "" || len(location) > MaxIdentityLength || !locationPattern.MatchString(location) {
		return fmt.Errorf("%w: %q", ErrInvalidLocation, location)
	}
	return nil
}

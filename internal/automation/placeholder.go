package automation

import (
	"strconv"
	"strings"
	"time"
)

// Payload placeholders.
const (
	PlaceholderTimestamp   = "{{timestamp}}"
	PlaceholderTimestampMS = "{{timestamp_ms}}"
	PlaceholderDatetime    = "{{datetime}}"
	PlaceholderDate        = "{{date}}"
	PlaceholderTime        = "{{time}}"
)

// ExpandPlaceholders substitutes the time placeholders in template using
// the current time.
func ExpandPlaceholders(template string) string {
	return ExpandPlaceholdersAt(template, time.Now())
}

// ExpandPlaceholdersAt substitutes the time placeholders in template using
// now. {{datetime}} is rendered in UTC; {{date}} and {{time}} use now's
// location. Unknown tokens are left untouched.
func ExpandPlaceholdersAt(template string, now time.Time) string {
	if !strings.Contains(template, "{{") {
		return template
	}

	r := strings.NewReplacer(
		PlaceholderTimestampMS, strconv.FormatInt(now.UnixMilli(), 10),
		PlaceholderTimestamp, strconv.FormatInt(now.Unix(), 10),
		PlaceholderDatetime, now.UTC().Format("2006-01-02T15:04:05Z"),
		PlaceholderDate, now.Format("2006-01-02"),
		PlaceholderTime, now.Format("15:04:05"),
	)
	return r.Replace(template)
}

package automation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule descriptions returned alongside a nil schedule.
const (
	scheduleUnknown = "unknown"
	scheduleError   = "error"
)

// Schedule data defaults.
const (
	defaultIntervalMinutes = 5
	defaultDailyHour       = 12
	defaultDailyMinute     = 0
	defaultCronExpr        = "* * * * *"
)

// BuildSchedule turns a schedule descriptor into a cron schedule and a
// human-readable description.
//
//	interval {"minutes": N}           every N minutes, "Every N min"
//	daily    {"hour": H, "minute": M}  "M H * * *", "Daily at HH:MM"
//	cron     {"cron": "expr"}          standard 5-field parser, "Cron: expr"
//
// An unknown type yields (nil, "unknown"). Non-numeric or out-of-range
// data and unparsable expressions yield (nil, "error").
func BuildSchedule(kind ScheduleType, data map[string]any) (cron.Schedule, string) {
	switch kind {
	case ScheduleInterval:
		minutes, ok := intField(data, "minutes", defaultIntervalMinutes)
		if !ok || minutes < 1 {
			return nil, scheduleError
		}
		return cron.Every(time.Duration(minutes) * time.Minute), fmt.Sprintf("Every %d min", minutes)

	case ScheduleDaily:
		hour, okH := intField(data, "hour", defaultDailyHour)
		minute, okM := intField(data, "minute", defaultDailyMinute)
		if !okH || !okM || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return nil, scheduleError
		}
		sched, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", minute, hour))
		if err != nil {
			return nil, scheduleError
		}
		return sched, fmt.Sprintf("Daily at %02d:%02d", hour, minute)

	case ScheduleCron:
		spec := defaultCronExpr
		if raw, ok := data["cron"]; ok && raw != nil {
			s, isString := raw.(string)
			if !isString {
				return nil, scheduleError
			}
			spec = strings.TrimSpace(s)
		}
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, scheduleError
		}
		return sched, "Cron: " + spec
	}

	return nil, scheduleUnknown
}

// intField reads an integral value from data, accepting JSON numbers and
// numeric strings. A missing key yields def.
func intField(data map[string]any, key string, def int) (int, bool) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return def, true
	}

	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	}
	return 0, false
}

package automation

import (
	"testing"
	"time"
)

func TestExpandPlaceholdersAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 15, 250_000_000, time.UTC)

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"no placeholders", `{"cmd":"PING"}`, `{"cmd":"PING"}`},
		{"timestamp", `{"t":{{timestamp}}}`, `{"t":1772357415}`},
		{"timestamp ms", `{"t":{{timestamp_ms}}}`, `{"t":1772357415250}`},
		{"datetime", "at {{datetime}}", "at 2026-03-01T09:30:15Z"},
		{"date and time", "{{date}} {{time}}", "2026-03-01 09:30:15"},
		{"repeated", "{{timestamp}}/{{timestamp}}", "1772357415/1772357415"},
		{"unknown token kept", "{{uptime}} {{date}}", "{{uptime}} 2026-03-01"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandPlaceholdersAt(tt.template, now); got != tt.want {
				t.Errorf("ExpandPlaceholdersAt(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestExpandPlaceholdersAt_DatetimeIsUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	now := time.Date(2026, 3, 1, 11, 30, 15, 0, loc)

	if got := ExpandPlaceholdersAt("{{datetime}}", now); got != "2026-03-01T09:30:15Z" {
		t.Errorf("datetime = %q, want UTC rendering", got)
	}
	if got := ExpandPlaceholdersAt("{{time}}", now); got != "11:30:15" {
		t.Errorf("time = %q, want local wall clock", got)
	}
}

func TestExpandPlaceholders_UsesCurrentTime(t *testing.T) {
	before := time.Now().Unix()
	got := ExpandPlaceholders("{{timestamp}}")
	after := time.Now().Unix()

	var ts int64
	for _, r := range got {
		ts = ts*10 + int64(r-'0')
	}
	if ts < before || ts > after {
		t.Errorf("timestamp %d outside [%d, %d]", ts, before, after)
	}
}

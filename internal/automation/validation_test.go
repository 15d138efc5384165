package automation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateTask(t *testing.T) {
	valid := func() *Task {
		task := testTask("id", "Lights")
		return &task
	}

	tests := []struct {
		name    string
		mutate  func(*Task)
		wantErr error
	}{
		{"valid task", func(*Task) {}, nil},
		{"empty name", func(t *Task) { t.Name = "  " }, ErrInvalidName},
		{"name too long", func(t *Task) { t.Name = strings.Repeat("a", 101) }, ErrInvalidName},
		{"no server", func(t *Task) { t.ServerName = "" }, ErrInvalidTask},
		{"wildcard topic", func(t *Task) { t.Topic = "home/+/set" }, ErrInvalidTask},
		{"empty topic", func(t *Task) { t.Topic = "" }, ErrInvalidTask},
		{"payload too large", func(t *Task) { t.Payload = strings.Repeat("x", 10*1024+1) }, ErrInvalidTask},
		{"bad schedule", func(t *Task) { t.ScheduleData = map[string]any{"minutes": "soon"} }, ErrInvalidSchedule},
		{"unknown schedule type", func(t *Task) { t.ScheduleType = "weekly" }, ErrInvalidSchedule},
		{"unknown response action", func(t *Task) { t.ResponseSpec.Action = "page" }, ErrInvalidTask},
		{"response without topic", func(t *Task) { t.ResponseSpec.Enabled = true }, ErrInvalidTask},
		{"response timeout too long", func(t *Task) { t.ResponseSpec.Timeout = 7200 }, ErrInvalidTask},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := valid()
			tt.mutate(task)
			err := ValidateTask(task)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateTask() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateTask() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateTask(nil); !errors.Is(err, ErrInvalidTask) {
		t.Errorf("ValidateTask(nil) = %v", err)
	}
}

func TestValidateTask_FillsDefaults(t *testing.T) {
	task := testTask("id", "Lights")
	task.ScheduleData = nil
	task.ResponseSpec = ResponseSpec{Enabled: true, Topic: "home/lights/state"}

	if err := ValidateTask(&task); err != nil {
		t.Fatalf("ValidateTask() error = %v", err)
	}
	if task.ResponseSpec.Timeout != DefaultResponseTimeout || task.ResponseSpec.Action != ResponseLog {
		t.Errorf("response = %+v", task.ResponseSpec)
	}
	if task.ScheduleData == nil {
		t.Error("schedule data should be normalised to an empty map")
	}
}

func TestValidateTrigger(t *testing.T) {
	valid := func() *Trigger {
		return &Trigger{
			ServerName:    "Localhost",
			Name:          "Echo",
			TopicPattern:  "sensors/+/temp",
			ActionType:    ActionPublish,
			ActionTopic:   "alerts/temp",
			ActionPayload: "hot",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Trigger)
		wantErr error
	}{
		{"valid publish", func(*Trigger) {}, nil},
		{"valid notify", func(t *Trigger) { t.ActionType = ActionNotify; t.ActionTopic = "" }, nil},
		{"empty name", func(t *Trigger) { t.Name = "" }, ErrInvalidName},
		{"no server", func(t *Trigger) { t.ServerName = "" }, ErrInvalidTrigger},
		{"bad pattern", func(t *Trigger) { t.TopicPattern = "a/../b" }, ErrInvalidTrigger},
		{"unknown action", func(t *Trigger) { t.ActionType = "email" }, ErrInvalidTrigger},
		{"publish without topic", func(t *Trigger) { t.ActionTopic = "" }, ErrInvalidTrigger},
		{"publish to wildcard", func(t *Trigger) { t.ActionTopic = "alerts/#" }, ErrInvalidTrigger},
		{"condition too long", func(t *Trigger) { t.Condition = strings.Repeat("a", 501) }, ErrInvalidTrigger},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trig := valid()
			tt.mutate(trig)
			err := ValidateTrigger(trig)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateTrigger() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateTrigger() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == b {
		t.Error("GenerateID() returned duplicates")
	}
	if len(a) != 36 {
		t.Errorf("GenerateID() = %q, want UUID form", a)
	}
}

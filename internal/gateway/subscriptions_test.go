package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/iotgateway-core/internal/broker"
)

func TestSubscriptionRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSubscriptionRepository(db.DB)
	ctx := context.Background()

	for _, f := range []string{"home/#", "iot/+/temp", "alarms"} {
		if err := repo.Add(ctx, "Localhost", f); err != nil {
			t.Fatalf("Add(%q) error = %v", f, err)
		}
	}

	got, err := repo.List(ctx, "Localhost")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"home/#", "iot/+/temp", "alarms"}
	if len(got) != len(want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if err := repo.Add(ctx, "Localhost", "home/#"); !errors.Is(err, ErrAlreadySubscribed) {
		t.Errorf("duplicate Add() error = %v, want ErrAlreadySubscribed", err)
	}
	if err := repo.Add(ctx, "Nope", "home/#"); !errors.Is(err, broker.ErrServerNotFound) {
		t.Errorf("Add() unknown server error = %v, want ErrServerNotFound", err)
	}

	// Filters are scoped per server
	if other, _ := repo.List(ctx, "HiveMQ Public"); len(other) != 0 {
		t.Errorf("List(HiveMQ Public) = %v, want empty", other)
	}

	if err := repo.Remove(ctx, "Localhost", "iot/+/temp"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := repo.Remove(ctx, "Localhost", "iot/+/temp"); !errors.Is(err, ErrNotSubscribed) {
		t.Errorf("second Remove() error = %v, want ErrNotSubscribed", err)
	}
	if got, _ := repo.List(ctx, "Localhost"); len(got) != 2 || got[1] != "alarms" {
		t.Errorf("List() after Remove = %v", got)
	}
}

func TestSubscriptionRepository_CascadeOnServerDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteSubscriptionRepository(db.DB)
	ctx := context.Background()

	if err := repo.Add(ctx, "Mosquitto Test", "test/#"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := broker.NewSQLiteRepository(db.DB).Delete(ctx, "Mosquitto Test"); err != nil {
		t.Fatalf("server Delete() error = %v", err)
	}
	if got, _ := repo.List(ctx, "Mosquitto Test"); len(got) != 0 {
		t.Errorf("subscriptions survived server delete: %v", got)
	}
}

func TestTopicSet(t *testing.T) {
	var s topicSet

	s.Reset([]string{"a/#", "b/+", "a/#"})
	if got := s.List(); len(got) != 2 || got[0] != "a/#" || got[1] != "b/+" {
		t.Fatalf("Reset() dedupe = %v", got)
	}

	if s.Add("b/+") {
		t.Error("Add() of existing filter reported new")
	}
	if !s.Add("c") {
		t.Error("Add() of new filter reported existing")
	}

	tests := []struct {
		topic string
		want  bool
	}{
		{"a", true},
		{"a/x/y", true},
		{"b/x", true},
		{"b/x/y", false},
		{"c", true},
		{"d", false},
	}
	for _, tt := range tests {
		if got := s.Matches(tt.topic); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.topic, got, tt.want)
		}
	}

	if !s.Remove("a/#") || s.Remove("a/#") {
		t.Error("Remove() should report presence once")
	}
	if s.Has("a/#") {
		t.Error("Has() after Remove = true")
	}

	s.Clear()
	if len(s.List()) != 0 {
		t.Errorf("List() after Clear = %v", s.List())
	}
}

package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/iotgateway-core/internal/infrastructure/config"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/database"
	"github.com/nerrad567/iotgateway-core/migrations"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return db
}

// ─── Mock Dependencies ──────────────────────────────────────────────

type failingRepo struct{}

func (failingRepo) All(context.Context) (map[string]string, error) { return nil, errors.New("disk") }
func (failingRepo) Set(context.Context, string, string) error      { return errors.New("disk") }

// ─── Tests ──────────────────────────────────────────────────────────

func TestStore_Defaults(t *testing.T) {
	s := NewStore(failingRepo{})

	if got := s.Int(KeyRefreshInterval, 0); got != 30 {
		t.Errorf("refresh_interval = %d, want 30", got)
	}
	if got := s.Int(KeyMaxMissedPings, 0); got != 2 {
		t.Errorf("max_missed_pings = %d, want 2", got)
	}
	if got := s.Int(KeyDefaultQoS, 0); got != 1 {
		t.Errorf("mqtt_default_qos = %d, want 1", got)
	}
	if got := s.Get(KeyLastSelectedServer); got != "" {
		t.Errorf("last_selected_server = %q, want empty", got)
	}
	if got := s.Int("missing", 7); got != 7 {
		t.Errorf("Int(missing) = %d, want fallback 7", got)
	}
}

func TestStore_PersistAndReload(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewSQLiteRepository(db.DB)

	s := NewStore(repo)
	if err := s.Set(ctx, KeyLastSelectedServer, "Localhost"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Update(ctx, map[string]string{KeyRefreshInterval: "10"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	// Upsert path
	if err := s.Update(ctx, map[string]string{KeyRefreshInterval: "15"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	reloaded := NewStore(repo)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := reloaded.Get(KeyLastSelectedServer); got != "Localhost" {
		t.Errorf("last_selected_server = %q", got)
	}
	if got := reloaded.Int(KeyRefreshInterval, 0); got != 15 {
		t.Errorf("refresh_interval = %d, want 15", got)
	}
	if got := reloaded.Int(KeyMaxMissedPings, 0); got != 2 {
		t.Errorf("unset key lost its default: %d", got)
	}
}

func TestStore_UpdateValidation(t *testing.T) {
	db := setupTestDB(t)
	s := NewStore(NewSQLiteRepository(db.DB))
	ctx := context.Background()

	tests := []struct {
		name    string
		values  map[string]string
		wantErr error
	}{
		{"unknown key", map[string]string{"theme": "dark"}, ErrUnknownKey},
		{"not a number", map[string]string{KeyDefaultQoS: "one"}, ErrInvalidValue},
		{"out of range", map[string]string{KeyDefaultQoS: "3"}, ErrInvalidValue},
		{"too small", map[string]string{KeyRefreshInterval: "1"}, ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Update(ctx, tt.values); !errors.Is(err, tt.wantErr) {
				t.Errorf("Update() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// A rejected batch writes nothing
	err := s.Update(ctx, map[string]string{KeyMaxMissedPings: "3", KeyDefaultQoS: "9"})
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("Update() error = %v", err)
	}
	if got := s.Int(KeyMaxMissedPings, 0); got != 2 {
		t.Errorf("max_missed_pings = %d, want unchanged 2", got)
	}
}

func TestStore_SetFailureKeepsCache(t *testing.T) {
	s := NewStore(failingRepo{})
	if err := s.Set(context.Background(), KeyDefaultQoS, "0"); err == nil {
		t.Fatal("Set() expected error")
	}
	if got := s.Get(KeyDefaultQoS); got != "1" {
		t.Errorf("cache changed on failed write: %q", got)
	}
	if err := s.Load(context.Background()); err == nil {
		t.Error("Load() expected error")
	}
}

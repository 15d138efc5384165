package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/iotgateway-core/internal/infrastructure/config"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/database"
	"github.com/nerrad567/iotgateway-core/migrations"
)

func setupRepo(t *testing.T) (*SQLiteRepository, *database.DB) {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return NewSQLiteRepository(db.DB), db
}

func TestSeedDefaults(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	n, err := repo.SeedDefaults(ctx)
	if err != nil {
		t.Fatalf("SeedDefaults() error = %v", err)
	}
	if n != 3 {
		t.Errorf("SeedDefaults() inserted %d, want 3", n)
	}

	servers, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"Localhost", "HiveMQ Public", "Mosquitto Test"}
	for i, s := range servers {
		if s.Name != want[i] || s.Port != DefaultPort {
			t.Errorf("servers[%d] = %+v, want %s:1883", i, s, want[i])
		}
	}

	// Seeding a non-empty store is a no-op
	if n, err := repo.SeedDefaults(ctx); err != nil || n != 0 {
		t.Errorf("second SeedDefaults() = %d, %v, want 0, nil", n, err)
	}
}

func TestRepository_CRUD(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	s := Server{Name: "Lab", Broker: "10.0.0.2", Port: 8883, Username: "gw", Password: "secret"}
	if err := repo.Create(ctx, &s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if s.ID == 0 {
		t.Error("Create() did not set ID")
	}

	dup := Server{Name: "Lab", Broker: "other", Port: 1883}
	if err := repo.Create(ctx, &dup); !errors.Is(err, ErrServerExists) {
		t.Errorf("duplicate Create() error = %v, want ErrServerExists", err)
	}

	got, err := repo.Get(ctx, "Lab")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Password != "secret" || got.Redacted().Password != "" {
		t.Errorf("password handling: %+v", got)
	}

	s.Name = "Lab 2"
	if err := repo.Update(ctx, "Lab", &s); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if _, err := repo.Get(ctx, "Lab"); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("Get(old name) error = %v, want ErrServerNotFound", err)
	}

	if err := repo.Delete(ctx, "Lab 2"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "Lab 2"); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("second Delete() error = %v, want ErrServerNotFound", err)
	}
}

func TestRepository_RenameCascades(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	s := Server{Name: "Lab", Broker: "10.0.0.2", Port: 1883}
	if err := repo.Create(ctx, &s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO subscriptions (server_name, topic) VALUES ('Lab', 'home/#')"); err != nil {
		t.Fatalf("seeding subscription: %v", err)
	}

	s.Name = "Workshop"
	if err := repo.Update(ctx, "Lab", &s); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM subscriptions WHERE server_name = 'Workshop'").Scan(&count); err != nil {
		t.Fatalf("counting: %v", err)
	}
	if count != 1 {
		t.Errorf("subscriptions under new name = %d, want 1", count)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		server   Server
		wantErr  bool
		wantPort int
	}{
		{"valid with default port", Server{Name: "Lab", Broker: "lab.local"}, false, DefaultPort},
		{"explicit port", Server{Name: "Lab", Broker: "lab.local", Port: 8883}, false, 8883},
		{"empty name", Server{Broker: "lab.local"}, true, 0},
		{"empty broker", Server{Name: "Lab"}, true, 0},
		{"broker with path", Server{Name: "Lab", Broker: "lab.local/mqtt"}, true, 0},
		{"port out of range", Server{Name: "Lab", Broker: "lab.local", Port: 70000}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.server
			err := Validate(&s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidServer) {
				t.Errorf("error = %v, want ErrInvalidServer", err)
			}
			if !tt.wantErr && s.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", s.Port, tt.wantPort)
			}
		})
	}
}

package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wirehub/wirehub/pkg/config"
	"github.com/wirehub/wirehub/pkg/db"
)

func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	configPath := filepath.Join(dir, "config.toml")

	cfg := &config.Config{
		ListenAddr:   ":0",
		DatabasePath: dbPath,
	}
	if err := cfg.SaveConfig(configPath); err != nil {
		t.Fatalf("saving config: %v", err)
	}
	return configPath, dbPath
}

func TestRunMigrations(t *testing.T) {
	configPath, dbPath := writeTestConfig(t)

	if err := RunMigrations(configPath, false); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file missing: %v", err)
	}

	handle, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer handle.Close()

	status, err := db.NewMigrationManager(handle, "").Status()
	if err != nil {
		t.Fatalf("getting status: %v", err)
	}
	if len(status.Pending) != 0 {
		t.Errorf("expected no pending migrations, got %d", len(status.Pending))
	}
	if len(status.Applied) == 0 {
		t.Error("expected applied migrations")
	}
}

func TestRunMigrationsStatusOnly(t *testing.T) {
	configPath, _ := writeTestConfig(t)

	// status mode must not apply anything
	if err := RunMigrations(configPath, true); err != nil {
		t.Fatalf("checking status: %v", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	handle, err := db.Open(cfg.DatabasePath)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer handle.Close()

	status, err := db.NewMigrationManager(handle, "").Status()
	if err != nil {
		t.Fatalf("getting status: %v", err)
	}
	if len(status.Applied) != 0 {
		t.Errorf("status-only run applied %d migrations", len(status.Applied))
	}
}

package db

import (
	"path/filepath"
	"testing"
)

func TestOpenAndMigrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hub.db")
	database, err := Open(dbPath)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			t.Errorf("closing database: %v", err)
		}
	}()

	if err := InitializeDatabase(database, ""); err != nil {
		t.Fatalf("initializing database: %v", err)
	}

	for _, table := range []string{"users", "instances", "locks", "queue"} {
		var name string
		err := database.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("expected table %s to exist: %v", table, err)
		}
	}

	var count int
	if err := database.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		t.Fatalf("counting seed users: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 seed users, got %d", count)
	}
}

func TestMigrationsWithPrefix(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hub.db")
	database, err := Open(dbPath)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			t.Errorf("closing database: %v", err)
		}
	}()

	if err := InitializeDatabase(database, "wh_"); err != nil {
		t.Fatalf("initializing database: %v", err)
	}

	var name string
	err = database.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='wh_users'",
	).Scan(&name)
	if err != nil {
		t.Fatalf("expected prefixed table wh_users: %v", err)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hub.db")
	database, err := Open(dbPath)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			t.Errorf("closing database: %v", err)
		}
	}()

	if err := InitializeDatabase(database, ""); err != nil {
		t.Fatalf("first initialization: %v", err)
	}
	if err := InitializeDatabase(database, ""); err != nil {
		t.Fatalf("second initialization: %v", err)
	}

	manager := NewMigrationManager(database, "")
	status, err := manager.Status()
	if err != nil {
		t.Fatalf("getting status: %v", err)
	}
	if len(status.Pending) != 0 {
		t.Errorf("expected no pending migrations, got %d", len(status.Pending))
	}
	if len(status.Applied) == 0 {
		t.Errorf("expected applied migrations")
	}

	var count int
	if err := database.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		t.Fatalf("counting seed users: %v", err)
	}
	if count != 2 {
		t.Errorf("seed reapplied: expected 2 users, got %d", count)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if cfg.ListenAddr != ":8326" {
		t.Errorf("expected default listen_addr, got %q", cfg.ListenAddr)
	}
	if cfg.SessionTTL.Duration != 10*time.Minute {
		t.Errorf("expected default session_ttl, got %v", cfg.SessionTTL)
	}
	if !cfg.TrackInstances {
		t.Errorf("expected track_instances default true")
	}
}

func TestLoadConfigPartialFileFillsDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := "listen_addr = \":9000\"\nsession_ttl = \"2m\"\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("expected listen_addr :9000, got %q", cfg.ListenAddr)
	}
	if cfg.SessionTTL.Duration != 2*time.Minute {
		t.Errorf("expected session_ttl 2m, got %v", cfg.SessionTTL)
	}
	if cfg.HandlerTimeout.Duration != 30*time.Second {
		t.Errorf("expected default handler_timeout, got %v", cfg.HandlerTimeout)
	}
}

func TestSaveAndReloadConfig(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := GetDefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.TablePrefix = "wh_"
	cfg.PollMaxWait = Duration{5 * time.Second}

	if err := cfg.SaveConfig(path); err != nil {
		t.Fatalf("saving config: %v", err)
	}

	reloaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("reloading config: %v", err)
	}
	if reloaded.TablePrefix != "wh_" {
		t.Errorf("expected table_prefix wh_, got %q", reloaded.TablePrefix)
	}
	if reloaded.PollMaxWait.Duration != 5*time.Second {
		t.Errorf("expected poll_max_wait 5s, got %v", reloaded.PollMaxWait)
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := &Config{TimeZone: "Not/AZone"}
	if cfg.Location() != time.UTC {
		t.Errorf("expected UTC fallback for bad time zone")
	}
}

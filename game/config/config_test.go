package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if cfg.OnlineTimeout.D() != 60*time.Second {
		t.Errorf("Expected 60s online timeout, got %v", cfg.OnlineTimeout.D())
	}
	if cfg.OfflinePolicy != OfflineSoft {
		t.Errorf("Expected soft offline policy, got %s", cfg.OfflinePolicy)
	}
	if cfg.UnknownSessionPolicy != UnknownSessionReject {
		t.Errorf("Expected reject policy, got %s", cfg.UnknownSessionPolicy)
	}
	if cfg.SaveEvery() != 6 {
		t.Errorf("Expected a save every 6 sweeps, got %d", cfg.SaveEvery())
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("empty path yields defaults", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if cfg.UDPAddr != Default().UDPAddr {
			t.Errorf("Expected default udp_addr, got %s", cfg.UDPAddr)
		}
	})

	t.Run("file overlays defaults", func(t *testing.T) {
		path := filepath.Join(dir, "overlay.json")
		content := `{"online_timeout":"30s","sweep_interval":2,"offline_policy":"evict","workers":4}`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		if cfg.OnlineTimeout.D() != 30*time.Second {
			t.Errorf("Expected 30s, got %v", cfg.OnlineTimeout.D())
		}
		if cfg.SweepInterval.D() != 2*time.Second {
			t.Errorf("Expected 2s from numeric seconds, got %v", cfg.SweepInterval.D())
		}
		if cfg.OfflinePolicy != OfflineEvict || cfg.Workers != 4 {
			t.Errorf("Overlay not applied: %+v", cfg)
		}
		if cfg.StorePath != "uuid_storage.json" {
			t.Errorf("Unset field should keep default, got %q", cfg.StorePath)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(dir, "nope.json")); err == nil {
			t.Error("Expected error for missing file")
		}
	})

	t.Run("bad duration", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		if err := os.WriteFile(path, []byte(`{"online_timeout":"soon"}`), 0644); err != nil {
			t.Fatal(err)
		}
		_, err := Load(path)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worldsync.json")
	cfg := Default()
	cfg.OnlineTimeout = Duration(3 * time.Minute)
	cfg.Store = StoreSQLite

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if loaded.OnlineTimeout != cfg.OnlineTimeout || loaded.Store != StoreSQLite {
		t.Errorf("Round trip mismatch: %+v", loaded)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad udp addr", func(c *Config) { c.UDPAddr = "8888" }, "udp_addr"},
		{"bad http addr", func(c *Config) { c.HTTPAddr = "nohost" }, "http_addr"},
		{"zero timeout", func(c *Config) { c.OnlineTimeout = 0 }, "online_timeout"},
		{"save faster than sweep", func(c *Config) { c.SaveInterval = Duration(time.Second) }, "save_interval"},
		{"unknown offline policy", func(c *Config) { c.OfflinePolicy = "delete" }, "offline_policy"},
		{"unknown session policy", func(c *Config) { c.UnknownSessionPolicy = "adopt" }, "unknown_session_policy"},
		{"unknown store", func(c *Config) { c.Store = "redis" }, "store"},
		{"missing store path", func(c *Config) { c.StorePath = "" }, "store_path"},
		{"no workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"tiny datagram", func(c *Config) { c.MaxDatagram = 100 }, "max_datagram"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Expected error to mention %s, got %v", tt.field, err)
			}
		})
	}

	t.Run("http disabled", func(t *testing.T) {
		cfg := Default()
		cfg.HTTPAddr = ""
		cfg.Store = StoreNone
		cfg.StorePath = ""
		if err := cfg.Validate(); err != nil {
			t.Errorf("Expected valid config, got %v", err)
		}
	})
}

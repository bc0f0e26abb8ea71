package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wricardo/worldsync/game/config"
	"github.com/wricardo/worldsync/game/engine"
	"github.com/wricardo/worldsync/game/session"
)

func runApp(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(ctx, append([]string{AppName}, args...))
	return out.String(), err
}

func TestConstants(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if AppName != "worldsync" {
		t.Errorf("Expected app name worldsync, got %s", AppName)
	}
}

func TestNewApp(t *testing.T) {
	app := newApp()

	for _, name := range []string{"serve", "mcp", "schema", "check-config"} {
		found := false
		for _, cmd := range app.Commands {
			if cmd.Name == name {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected command %s", name)
		}
	}

	names := map[string]bool{}
	for _, f := range app.Flags {
		for _, n := range f.Names() {
			names[n] = true
		}
	}
	for _, name := range []string{"config", "udp-addr", "http-addr", "online-timeout", "offline-policy", "store", "workers", "rate-limit", "log-level"} {
		if !names[name] {
			t.Errorf("Expected global flag --%s", name)
		}
	}
}

func TestCheckConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		out, err := runApp(t, context.Background(), "check-config")
		if err != nil {
			t.Fatalf("check-config failed: %v", err)
		}

		var cfg config.Config
		if err := json.Unmarshal([]byte(out), &cfg); err != nil {
			t.Fatalf("Failed to parse output: %v\n%s", err, out)
		}
		if cfg.UDPAddr != config.Default().UDPAddr {
			t.Errorf("Expected default udp_addr, got %s", cfg.UDPAddr)
		}
	})

	t.Run("flags override file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "worldsync.json")
		file := config.Default()
		file.Workers = 8
		file.OfflinePolicy = config.OfflineEvict
		if err := file.Save(path); err != nil {
			t.Fatalf("Failed to save config: %v", err)
		}

		out, err := runApp(t, context.Background(), "--config", path, "--workers", "4", "--online-timeout", "90s", "check-config")
		if err != nil {
			t.Fatalf("check-config failed: %v", err)
		}

		var cfg config.Config
		if err := json.Unmarshal([]byte(out), &cfg); err != nil {
			t.Fatalf("Failed to parse output: %v", err)
		}
		if cfg.Workers != 4 {
			t.Errorf("Expected workers 4 from flag, got %d", cfg.Workers)
		}
		if cfg.OfflinePolicy != config.OfflineEvict {
			t.Errorf("Expected offline_policy evict from file, got %s", cfg.OfflinePolicy)
		}
		if cfg.OnlineTimeout.D() != 90*time.Second {
			t.Errorf("Expected online_timeout 90s, got %s", cfg.OnlineTimeout.D())
		}
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("WORLDSYNC_STORE", "none")

		out, err := runApp(t, context.Background(), "check-config")
		if err != nil {
			t.Fatalf("check-config failed: %v", err)
		}
		if !strings.Contains(out, `"store": "none"`) {
			t.Errorf("Expected store none from environment, got %s", out)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := runApp(t, context.Background(), "--offline-policy", "vanish", "check-config")
		if !errors.Is(err, config.ErrInvalidConfig) {
			t.Errorf("Expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("write", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.json")
		if _, err := runApp(t, context.Background(), "--workers", "3", "check-config", "--write", path); err != nil {
			t.Fatalf("check-config failed: %v", err)
		}

		cfg, err := config.Load(path)
		if err != nil {
			t.Fatalf("Failed to load written config: %v", err)
		}
		if cfg.Workers != 3 {
			t.Errorf("Expected workers 3, got %d", cfg.Workers)
		}
	})
}

func TestSchemaCommand(t *testing.T) {
	out, err := runApp(t, context.Background(), "schema")
	if err != nil {
		t.Fatalf("schema failed: %v", err)
	}

	var schemas map[string]json.RawMessage
	if err := json.Unmarshal([]byte(out), &schemas); err != nil {
		t.Fatalf("Failed to parse schema output: %v", err)
	}
	for _, name := range []string{"register", "update", "heartbeat", "snapshot"} {
		if _, ok := schemas[name]; !ok {
			t.Errorf("Expected schema for %s", name)
		}
	}

	if _, err := runApp(t, context.Background(), "schema", "--name", "bogus"); err == nil {
		t.Error("Expected error for unknown message name")
	}

	path := filepath.Join(t.TempDir(), "register.json")
	if _, err := runApp(t, context.Background(), "schema", "--name", "register", "--out", path); err != nil {
		t.Fatalf("schema --out failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read schema file: %v", err)
	}
	if !strings.Contains(string(data), `"username"`) {
		t.Errorf("Expected register schema to mention username, got %s", data)
	}
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	log := zap.NewNop()

	tests := []struct {
		name  string
		store string
		path  string
		check func(session.IdentityStore) bool
	}{
		{"none", config.StoreNone, "", func(s session.IdentityStore) bool { _, ok := s.(session.NopStore); return ok }},
		{"file", config.StoreFile, filepath.Join(dir, "ids.json"), func(s session.IdentityStore) bool { _, ok := s.(*session.FileStore); return ok }},
		{"sqlite", config.StoreSQLite, filepath.Join(dir, "ids.db"), func(s session.IdentityStore) bool { _, ok := s.(*session.SQLiteStore); return ok }},
		{"sqlite fallback", config.StoreSQLite, filepath.Join(dir, "missing", "dir", "ids.db"), func(s session.IdentityStore) bool { _, ok := s.(session.NopStore); return ok }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Store = tt.store
			cfg.StorePath = tt.path

			store := openStore(cfg, log)
			defer store.Close()
			if !tt.check(store) {
				t.Errorf("Unexpected store type %T", store)
			}
		})
	}
}

func TestAPIBaseURL(t *testing.T) {
	tests := map[string]string{
		"localhost:8080": "http://localhost:8080",
		":8080":          "http://localhost:8080",
		"0.0.0.0:9000":   "http://localhost:9000",
		"10.0.0.5:80":    "http://10.0.0.5:80",
	}
	for addr, want := range tests {
		if got := apiBaseURL(addr); got != want {
			t.Errorf("apiBaseURL(%q) = %s, want %s", addr, got, want)
		}
	}
}

func freeUDPAddr(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	addr := conn.LocalAddr().String()
	conn.Close()
	return addr
}

func TestServeRegistersOverUDP(t *testing.T) {
	addr := freeUDPAddr(t)
	storePath := filepath.Join(t.TempDir(), "ids.json")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := runApp(t, ctx, "--udp-addr", addr, "--http-addr", "", "--store", "file",
			"--store-path", storePath, "--persist-full-state", "--log-level", "error")
		done <- err
	}()

	client, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer client.Close()

	var reply map[string]any
	buf := make([]byte, 4096)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := client.Write([]byte(`{"type":"register","username":"alice"}`)); err != nil {
			t.Fatalf("Failed to send: %v", err)
		}
		client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := client.Read(buf)
		if err != nil {
			continue
		}
		if err := json.Unmarshal(buf[:n], &reply); err != nil {
			t.Fatalf("Failed to decode reply: %v", err)
		}
		if reply["action"] == "registered" {
			break
		}
	}

	if reply["action"] != "registered" {
		t.Fatalf("Expected registered reply, got %v", reply)
	}
	if reply["username"] != "alice" {
		t.Errorf("Expected username alice, got %v", reply["username"])
	}
	id, _ := reply["uuid"].(string)

	// updates are only written by the save that follows shutdown
	update := `{"type":"update","uuid":"` + id + `","x":3,"y":4,"z":5,"ts":1000}`
	if _, err := client.Write([]byte(update)); err != nil {
		t.Fatalf("Failed to send update: %v", err)
	}
	applied := false
	for !applied && time.Now().Before(deadline) {
		client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := client.Read(buf)
		if err != nil {
			continue
		}
		var snap struct {
			Players map[string]engine.PlayerState `json:"players"`
		}
		if json.Unmarshal(buf[:n], &snap) != nil {
			continue
		}
		if p, ok := snap.Players[id]; ok && p.X != nil && *p.X == 3 {
			applied = true
		}
	}
	if !applied {
		t.Fatal("Update was not broadcast")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not stop")
	}

	store, err := session.NewFileStore(storePath, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	ident, ok := store.Load()[id]
	if !ok || ident.Username != "alice" {
		t.Fatalf("Expected alice persisted, got %+v (%v)", ident, ok)
	}
	if ident.State == nil || ident.State.X == nil || *ident.State.X != 3 {
		t.Errorf("Expected final transform persisted on shutdown, got %+v", ident.State)
	}
}

func TestOpenStore_CorruptSQLite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ids.db")
	garbage := bytes.Repeat([]byte("not a database "), 512)
	if err := os.WriteFile(path, garbage, 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	cfg := config.Default()
	cfg.Store = config.StoreSQLite
	cfg.StorePath = path

	store := openStore(cfg, zap.NewNop())
	defer store.Close()
	if _, ok := store.(*session.SQLiteStore); !ok {
		t.Fatalf("Expected a recreated SQLite store, got %T", store)
	}

	if err := store.Save(session.Identities{"id-1": {Username: "alice"}}); err != nil {
		t.Fatalf("Recreated store should accept saves: %v", err)
	}
	if got := store.Load(); got["id-1"].Username != "alice" {
		t.Errorf("Expected alice after reload, got %+v", got)
	}

	matches, _ := filepath.Glob(path + ".corrupt-*")
	found := false
	for _, m := range matches {
		if data, err := os.ReadFile(m); err == nil && bytes.Equal(data, garbage) {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected the unreadable file moved aside, got %v", matches)
	}
}

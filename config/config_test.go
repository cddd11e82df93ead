package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("port: got %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Auth.HandshakeTimeout != DefaultHandshakeTimeout {
		t.Errorf("handshake_timeout: got %v, want %v", cfg.Auth.HandshakeTimeout, DefaultHandshakeTimeout)
	}
	if cfg.Realtime.MembershipTimeout != DefaultMembershipTimeout {
		t.Errorf("membership_timeout: got %v, want %v", cfg.Realtime.MembershipTimeout, DefaultMembershipTimeout)
	}
	if cfg.Store.Driver != "memory" || cfg.Audit.Sink != "log" {
		t.Errorf("store/audit: got %q/%q", cfg.Store.Driver, cfg.Audit.Sink)
	}
	if cfg.Admin.EffectiveHeader() != "x-api-key" {
		t.Errorf("admin header: got %q", cfg.Admin.EffectiveHeader())
	}
}

func TestLoad_Full(t *testing.T) {
	p := writeConfig(t, `server:
  host: 0.0.0.0
  port: 9090
  allowed_origins: ["https://planner.example.com"]
auth:
  jwt_secret_env: MY_SECRET
  issuer: planner
  handshake_timeout: 3s
admin:
  api_key_env: MY_ADMIN
  header: x-admin-key
realtime:
  membership_timeout: 2s
  send_buffer: 64
permissions:
  base_allowed: [chat:message]
audit:
  sink: both
redis:
  url_env: MY_REDIS
store:
  driver: postgres
  database_url_env: MY_DB
`)
	t.Setenv("MY_SECRET", "s3cret")
	t.Setenv("MY_ADMIN", "adm")
	t.Setenv("MY_DB", "postgres://localhost/planner")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr() != "0.0.0.0:9090" {
		t.Errorf("addr: got %q", cfg.Server.Addr())
	}
	if cfg.Auth.Secret() != "s3cret" || cfg.Auth.Issuer != "planner" {
		t.Errorf("auth: got %+v", cfg.Auth)
	}
	if cfg.Auth.HandshakeTimeout != 3*time.Second {
		t.Errorf("handshake_timeout: got %v, want 3s", cfg.Auth.HandshakeTimeout)
	}
	if cfg.Admin.Key() != "adm" || cfg.Admin.EffectiveHeader() != "x-admin-key" {
		t.Errorf("admin: got %+v", cfg.Admin)
	}
	if cfg.Realtime.SendBuffer != 64 || cfg.Realtime.PongWait != DefaultPongWait {
		t.Errorf("realtime: got %+v", cfg.Realtime)
	}
	if len(cfg.Permissions.BaseAllowed) != 1 {
		t.Errorf("base_allowed: got %v", cfg.Permissions.BaseAllowed)
	}
	if cfg.Store.DatabaseURL() != "postgres://localhost/planner" {
		t.Errorf("database url: got %q", cfg.Store.DatabaseURL())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad port", "server:\n  port: 70000\n", "server.port"},
		{"bad sink", "audit:\n  sink: kafka\n", "audit.sink"},
		{"redis without url", "audit:\n  sink: redis\n", "redis.url_env"},
		{"postgres without url", "store:\n  driver: postgres\n", "database_url_env"},
		{"bad driver", "store:\n  driver: mysql\n", "store.driver"},
		{"zero membership timeout", "realtime:\n  membership_timeout: 0s\n", "membership_timeout"},
		{"pong before write", "realtime:\n  pong_wait: 1s\n  write_wait: 2s\n", "pong_wait"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"bad yaml", "server: [", "parse yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, "permissions:\n  base_allowed: [chat:message]\n")
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	errc := make(chan error, 1)
	go func() {
		errc <- Watch(ctx, p, logger, func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	// An invalid write is ignored.
	if err := os.WriteFile(p, []byte("audit:\n  sink: kafka\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(p, []byte("permissions:\n  base_allowed: [chat:message, rsvp:updated]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-changes:
			if len(c.Permissions.BaseAllowed) == 2 {
				cancel()
				if err := <-errc; err != nil {
					t.Errorf("Watch returned %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}

func TestWatch_ReloadsAfterRenameSaves(t *testing.T) {
	p := writeConfig(t, "permissions:\n  base_allowed: [chat:message]\n")
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 16)
	go Watch(ctx, p, logger, func(c *Config) { changes <- c })
	time.Sleep(100 * time.Millisecond)

	// waitFor drains reloads until one has want base types.
	waitFor := func(step string, want int) {
		t.Helper()
		deadline := time.After(3 * time.Second)
		for {
			select {
			case c := <-changes:
				if len(c.Permissions.BaseAllowed) == want {
					return
				}
			case <-deadline:
				t.Fatalf("%s: no reload with %d base types", step, want)
			}
		}
	}

	// Editors save by writing a temp file and renaming it over the original.
	save := func(content string) {
		t.Helper()
		tmp := filepath.Join(filepath.Dir(p), ".config.yaml.tmp")
		if err := os.WriteFile(tmp, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := os.Rename(tmp, p); err != nil {
			t.Fatal(err)
		}
	}

	save("permissions:\n  base_allowed: [chat:message, rsvp:updated]\n")
	waitFor("first rename", 2)

	save("permissions:\n  base_allowed: [chat:message, rsvp:updated, item:assigned]\n")
	waitFor("second rename", 3)

	if err := os.WriteFile(p, []byte("permissions:\n  base_allowed: [chat:message, rsvp:updated, item:assigned, item:completed]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	waitFor("in-place write after renames", 4)
}

func TestLoad_SeedFileRelativeToConfig(t *testing.T) {
	p := writeConfig(t, "store:\n  seed_file: dev.seed.yaml\n")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := filepath.Join(filepath.Dir(p), "dev.seed.yaml")
	if cfg.Store.SeedFile != want {
		t.Errorf("seed_file: got %q, want %q", cfg.Store.SeedFile, want)
	}
}

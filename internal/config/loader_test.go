package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
auth:
  cookie_name: session
  cookie_secret: cs
  jwt_secret: js
upstream:
  name: gemini-live
  api_key: key
  model: gemini-2.0-flash-exp
  voice: Kore
database:
  postgres_dsn: postgres://localhost/learnsphere
gateway:
  heartbeat_interval: 15s
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Upstream.Name != "gemini-live" || cfg.Upstream.Voice != "Kore" {
		t.Errorf("upstream = %+v", cfg.Upstream)
	}
	if cfg.Gateway.HeartbeatInterval != 15*time.Second {
		t.Errorf("heartbeat_interval = %v", cfg.Gateway.HeartbeatInterval)
	}
	// Unset durations fall back to defaults.
	if cfg.Gateway.ShutdownTimeout != 30*time.Second {
		t.Errorf("shutdown_timeout default = %v", cfg.Gateway.ShutdownTimeout)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := LoadFromReader(strings.NewReader(`
auth:
  cookie_secret: cs
  jwt_secret: js
upstream:
  name: openai-realtime
  api_key: key
database:
  postgres_dsn: dsn
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr default = %q", cfg.Server.ListenAddr)
	}
	if cfg.Auth.CookieName != "session" {
		t.Errorf("cookie_name default = %q", cfg.Auth.CookieName)
	}
	if cfg.Gateway.HeartbeatInterval != 30*time.Second {
		t.Errorf("heartbeat_interval default = %v", cfg.Gateway.HeartbeatInterval)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := LoadFromReader(strings.NewReader(validYAML + "\nbogus: true\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	t.Parallel()
	_, err := LoadFromReader(strings.NewReader(`
server:
  log_level: noisy
upstream:
  name: tape-recorder
`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"log_level",
		"upstream.name",
		"upstream.api_key",
		"auth.cookie_secret",
		"auth.jwt_secret",
		"database.postgres_dsn",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestValidate_TLSRequiresBothFiles(t *testing.T) {
	t.Parallel()
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	cfg.Server.TLS = &TLSConfig{CertFile: "server.crt"}
	if err := Validate(cfg); err == nil {
		t.Error("expected error for TLS missing key_file")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

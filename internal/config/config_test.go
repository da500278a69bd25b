package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "voxa-relay" {
		t.Fatalf("expected runtime_name voxa-relay, got %q", cfg.RuntimeName)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Engine.BaseURL != "http://localhost:8000" {
		t.Fatalf("expected default engine base_url, got %q", cfg.Engine.BaseURL)
	}
	if cfg.Engine.Voice != "af_heart" || cfg.Engine.Model != "tts-1" {
		t.Fatalf("expected kokoro defaults, got voice=%q model=%q", cfg.Engine.Voice, cfg.Engine.Model)
	}
	if cfg.Engine.SampleRate != 24000 || cfg.Engine.Channels != 1 {
		t.Fatalf("expected 24kHz mono default, got %d/%d", cfg.Engine.SampleRate, cfg.Engine.Channels)
	}
	if cfg.Fallback.Mode != "none" {
		t.Fatalf("expected fallback mode none, got %q", cfg.Fallback.Mode)
	}
	if !cfg.Speak.Enabled {
		t.Fatal("expected speak enabled by default")
	}
	if len(cfg.Node.Capabilities) != 1 || cfg.Node.Capabilities[0].Name != "tts.speak" {
		t.Fatalf("expected default capability tts.speak, got %+v", cfg.Node.Capabilities)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxa.yaml")
	body := `
runtime_name: voxa-test
environment: production
http:
  port: 9000
engine:
  base_url: http://tts.internal:8880
  voice: bf_emma
  speed: 1.25
  sample_rate: 16000
fallback:
  mode: mock
  retries: 2
audit:
  retention_mode: persistent
speak:
  subject_prefix: voice
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "voxa-test" || cfg.Environment != "production" {
		t.Fatalf("expected file overrides, got %q/%q", cfg.RuntimeName, cfg.Environment)
	}
	if cfg.HTTP.Port != 9000 {
		t.Fatalf("expected http.port 9000, got %d", cfg.HTTP.Port)
	}
	if cfg.Engine.BaseURL != "http://tts.internal:8880" || cfg.Engine.Voice != "bf_emma" {
		t.Fatalf("engine section not applied: %+v", cfg.Engine)
	}
	if cfg.Engine.Speed != 1.25 || cfg.Engine.SampleRate != 16000 {
		t.Fatalf("engine numbers not applied: %+v", cfg.Engine)
	}
	if cfg.Fallback.Mode != "mock" || cfg.Fallback.Retries != 2 {
		t.Fatalf("fallback section not applied: %+v", cfg.Fallback)
	}
	if cfg.Audit.RetentionMode != "persistent" {
		t.Fatalf("expected retention_mode persistent, got %q", cfg.Audit.RetentionMode)
	}
	if cfg.Speak.SubjectPrefix != "voice" {
		t.Fatalf("expected subject_prefix voice, got %q", cfg.Speak.SubjectPrefix)
	}
	// keys absent from the file keep their defaults
	if cfg.Engine.Model != "tts-1" {
		t.Fatalf("expected default model tts-1, got %q", cfg.Engine.Model)
	}
	if cfg.Audit.Path != "./data/voxa-audit.db" {
		t.Fatalf("expected default audit path, got %q", cfg.Audit.Path)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOXA_RUNTIME_NAME", "voxa-env")
	t.Setenv("VOXA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VOXA_BUS_USERNAME", "alice")
	t.Setenv("VOXA_BUS_PASSWORD", "secret")
	t.Setenv("VOXA_NODE_ID", "test-node")
	t.Setenv("VOXA_NODE_HEARTBEAT_INTERVAL_MS", "1500")
	t.Setenv("VOXA_ENGINE_BASE_URL", "http://gpu-box:8000")
	t.Setenv("VOXA_ENGINE_API_KEY", "sk-secret")
	t.Setenv("VOXA_ENGINE_SPEED", "0.9")
	t.Setenv("VOXA_FALLBACK_MODE", "mock")
	t.Setenv("VOXA_SPEAK_ENABLED", "false")
	t.Setenv("VOXA_AUDIT_RETENTION_DAYS", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "voxa-env" {
		t.Fatalf("expected runtime_name voxa-env, got %q", cfg.RuntimeName)
	}
	if len(cfg.Bus.Servers) != 2 || cfg.Bus.Servers[1] != "nats://two:4222" {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatal("expected credentials override")
	}
	if cfg.Node.ID != "test-node" || cfg.Node.HeartbeatInterval != 1500 {
		t.Fatalf("node overrides not applied: %+v", cfg.Node)
	}
	if cfg.Engine.BaseURL != "http://gpu-box:8000" || cfg.Engine.APIKey != "sk-secret" {
		t.Fatalf("engine overrides not applied: %+v", cfg.Engine)
	}
	if cfg.Engine.Speed != 0.9 {
		t.Fatalf("expected speed 0.9, got %v", cfg.Engine.Speed)
	}
	if cfg.Fallback.Mode != "mock" {
		t.Fatalf("expected fallback mode mock, got %q", cfg.Fallback.Mode)
	}
	if cfg.Speak.Enabled {
		t.Fatal("expected speak disabled via env")
	}
	if cfg.Audit.RetentionDays != 7 {
		t.Fatalf("expected retention_days 7, got %d", cfg.Audit.RetentionDays)
	}
}

func TestEnvOverrideIgnoresBlank(t *testing.T) {
	t.Setenv("VOXA_ENGINE_VOICE", "   ")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.Voice != "af_heart" {
		t.Fatalf("blank env should keep default voice, got %q", cfg.Engine.Voice)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty runtime name", func(c *Config) { c.RuntimeName = "" }},
		{"bad http port", func(c *Config) { c.HTTP.Port = 0 }},
		{"no servers external bus", func(c *Config) { c.Bus.Embedded = false; c.Bus.Servers = nil }},
		{"empty node id", func(c *Config) { c.Node.ID = "" }},
		{"heartbeat timeout too small", func(c *Config) { c.Node.HeartbeatTimeout = c.Node.HeartbeatInterval }},
		{"no capabilities", func(c *Config) { c.Node.Capabilities = nil }},
		{"empty engine url", func(c *Config) { c.Engine.BaseURL = "" }},
		{"bad encoding", func(c *Config) { c.Engine.Encoding = "flac" }},
		{"zero speed", func(c *Config) { c.Engine.Speed = 0 }},
		{"zero sample rate", func(c *Config) { c.Engine.SampleRate = 0 }},
		{"bad fallback mode", func(c *Config) { c.Fallback.Mode = "prayer" }},
		{"exec without command", func(c *Config) { c.Fallback.Mode = "exec"; c.Fallback.Command = "" }},
		{"negative retries", func(c *Config) { c.Fallback.Retries = -1 }},
		{"bad retention mode", func(c *Config) { c.Audit.RetentionMode = "forever" }},
		{"speak needs pcm16", func(c *Config) { c.Speak.Enabled = true; c.Engine.Encoding = "opus" }},
		{"speak empty prefix", func(c *Config) { c.Speak.SubjectPrefix = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestValidationAcceptsDefault(t *testing.T) {
	if err := validate(Default()); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Node        NodeConfig      `yaml:"node"`
	Engine      EngineConfig    `yaml:"engine"`
	Fallback    FallbackConfig  `yaml:"fallback"`
	Audit       AuditConfig     `yaml:"audit"`
	Speak       SpeakConfig     `yaml:"speak"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string           `yaml:"id"`
	Role              string           `yaml:"role"`
	HeartbeatInterval int              `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int              `yaml:"heartbeat_timeout_ms"`
	Capabilities      []NodeCapability `yaml:"capabilities"`
}

type NodeCapability struct {
	Name       string            `yaml:"name"`
	Tier       string            `yaml:"tier"`
	Attributes map[string]string `yaml:"attributes"`
}

// EngineConfig describes the upstream speech endpoint.
type EngineConfig struct {
	BaseURL         string  `yaml:"base_url"`
	APIKey          string  `yaml:"api_key"`
	Model           string  `yaml:"model"`
	Voice           string  `yaml:"voice"`
	Speed           float64 `yaml:"speed"`
	SampleRate      int     `yaml:"sample_rate"`
	Channels        int     `yaml:"channels"`
	Encoding        string  `yaml:"encoding"`
	FrameDurationMS int     `yaml:"frame_duration_ms"`
	TTFBTimeoutMS   int     `yaml:"ttfb_timeout_ms"`
	ChunkTimeoutMS  int     `yaml:"chunk_timeout_ms"`
	SinkTimeoutMS   int     `yaml:"sink_timeout_ms"`
}

// FallbackConfig selects what happens when the engine fails before any
// audio was delivered.
type FallbackConfig struct {
	Mode           string `yaml:"mode"` // none, exec, mock
	Command        string `yaml:"command"`
	CacheEntries   int    `yaml:"cache_entries"`
	Retries        int    `yaml:"retries"`
	RetryBackoffMS int    `yaml:"retry_backoff_ms"`
}

type AuditConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRequests   int    `yaml:"max_requests"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SpeakConfig struct {
	Enabled           bool   `yaml:"enabled"`
	SubjectPrefix     string `yaml:"subject_prefix"`
	PublishChunkBytes int    `yaml:"publish_chunk_bytes"`
}

func Default() Config {
	return Config{
		RuntimeName: "voxa-relay",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "voxa-node-1",
			Role:              "relay",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
			Capabilities: []NodeCapability{
				{Name: "tts.speak", Tier: "balanced"},
			},
		},
		Engine: EngineConfig{
			BaseURL:         "http://localhost:8000",
			APIKey:          "sk-kokoro",
			Model:           "tts-1",
			Voice:           "af_heart",
			Speed:           1.0,
			SampleRate:      24000,
			Channels:        1,
			Encoding:        "pcm16",
			FrameDurationMS: 100,
			TTFBTimeoutMS:   2000,
			ChunkTimeoutMS:  5000,
			SinkTimeoutMS:   1000,
		},
		Fallback: FallbackConfig{
			Mode:           "none",
			CacheEntries:   64,
			Retries:        1,
			RetryBackoffMS: 200,
		},
		Audit: AuditConfig{
			Path:          "./data/voxa-audit.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRequests:   10000,
		},
		Speak: SpeakConfig{
			Enabled:           true,
			SubjectPrefix:     "speak",
			PublishChunkBytes: 32768,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOXA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOXA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOXA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOXA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOXA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOXA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOXA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOXA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "VOXA_NODE_ID")
	overrideString(&cfg.Node.Role, "VOXA_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "VOXA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "VOXA_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.Engine.BaseURL, "VOXA_ENGINE_BASE_URL")
	overrideString(&cfg.Engine.APIKey, "VOXA_ENGINE_API_KEY")
	overrideString(&cfg.Engine.Model, "VOXA_ENGINE_MODEL")
	overrideString(&cfg.Engine.Voice, "VOXA_ENGINE_VOICE")
	overrideFloat(&cfg.Engine.Speed, "VOXA_ENGINE_SPEED")
	overrideInt(&cfg.Engine.SampleRate, "VOXA_ENGINE_SAMPLE_RATE")
	overrideInt(&cfg.Engine.Channels, "VOXA_ENGINE_CHANNELS")
	overrideString(&cfg.Engine.Encoding, "VOXA_ENGINE_ENCODING")
	overrideInt(&cfg.Engine.FrameDurationMS, "VOXA_ENGINE_FRAME_DURATION_MS")
	overrideInt(&cfg.Engine.TTFBTimeoutMS, "VOXA_ENGINE_TTFB_TIMEOUT_MS")
	overrideInt(&cfg.Engine.ChunkTimeoutMS, "VOXA_ENGINE_CHUNK_TIMEOUT_MS")
	overrideInt(&cfg.Engine.SinkTimeoutMS, "VOXA_ENGINE_SINK_TIMEOUT_MS")
	overrideString(&cfg.Fallback.Mode, "VOXA_FALLBACK_MODE")
	overrideString(&cfg.Fallback.Command, "VOXA_FALLBACK_COMMAND")
	overrideInt(&cfg.Fallback.CacheEntries, "VOXA_FALLBACK_CACHE_ENTRIES")
	overrideInt(&cfg.Fallback.Retries, "VOXA_FALLBACK_RETRIES")
	overrideInt(&cfg.Fallback.RetryBackoffMS, "VOXA_FALLBACK_RETRY_BACKOFF_MS")
	overrideString(&cfg.Audit.Path, "VOXA_AUDIT_PATH")
	overrideString(&cfg.Audit.RetentionMode, "VOXA_AUDIT_RETENTION_MODE")
	overrideInt(&cfg.Audit.RetentionDays, "VOXA_AUDIT_RETENTION_DAYS")
	overrideInt(&cfg.Audit.MaxRequests, "VOXA_AUDIT_MAX_REQUESTS")
	overrideBool(&cfg.Audit.VacuumOnStart, "VOXA_AUDIT_VACUUM_ON_START")
	overrideBool(&cfg.Speak.Enabled, "VOXA_SPEAK_ENABLED")
	overrideString(&cfg.Speak.SubjectPrefix, "VOXA_SPEAK_SUBJECT_PREFIX")
	overrideInt(&cfg.Speak.PublishChunkBytes, "VOXA_SPEAK_PUBLISH_CHUNK_BYTES")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if len(cfg.Node.Capabilities) == 0 {
		return errors.New("node.capabilities must not be empty")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Engine.BaseURL == "" {
		return errors.New("engine.base_url must not be empty")
	}
	switch cfg.Engine.Encoding {
	case "pcm16", "opus", "mp3":
		// ok
	default:
		return errors.New("engine.encoding must be one of pcm16|opus|mp3")
	}
	if cfg.Engine.Speed <= 0 {
		return errors.New("engine.speed must be positive")
	}
	if cfg.Engine.SampleRate <= 0 {
		return errors.New("engine.sample_rate must be positive")
	}
	if cfg.Engine.Channels <= 0 {
		return errors.New("engine.channels must be positive")
	}
	if cfg.Engine.FrameDurationMS <= 0 {
		return errors.New("engine.frame_duration_ms must be positive")
	}
	switch cfg.Fallback.Mode {
	case "none", "exec", "mock":
		// ok
	default:
		return errors.New("fallback.mode must be one of none|exec|mock")
	}
	if cfg.Fallback.Mode == "exec" && cfg.Fallback.Command == "" {
		return errors.New("fallback.command must be set when fallback.mode=exec")
	}
	if cfg.Fallback.CacheEntries < 0 {
		return errors.New("fallback.cache_entries must be >= 0")
	}
	if cfg.Fallback.Retries < 0 {
		return errors.New("fallback.retries must be >= 0")
	}
	if cfg.Audit.Path == "" {
		return errors.New("audit.path must not be empty")
	}
	switch cfg.Audit.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("audit.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Audit.RetentionDays < 0 {
		return errors.New("audit.retention_days must be >= 0")
	}
	if cfg.Speak.Enabled {
		if cfg.Speak.SubjectPrefix == "" {
			return errors.New("speak.subject_prefix must not be empty when speak is enabled")
		}
		if cfg.Speak.PublishChunkBytes <= 0 {
			return errors.New("speak.publish_chunk_bytes must be positive")
		}
		if cfg.Engine.Encoding != "pcm16" {
			return errors.New("speak requires engine.encoding=pcm16; edge players consume raw PCM")
		}
	}
	return nil
}

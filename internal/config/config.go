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
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	Metrics      bool   `yaml:"metrics"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Playback    PlaybackConfig   `yaml:"playback"`
	Studio      StudioConfig     `yaml:"studio"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	RequestTimeout int      `yaml:"request_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"`     // mock, exec, ollama, openai, gemini
	Endpoint    string  `yaml:"endpoint"` // base URL for ollama or an OpenAI-compatible server
	Command     string  `yaml:"command"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Mode        string `yaml:"mode"` // mock, exec, openai, gemini
	Command     string `yaml:"command"`
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	VoiceMale   string `yaml:"voice_male"`
	VoiceFemale string `yaml:"voice_female"`
	SampleRate  int    `yaml:"sample_rate"`
	Channels    int    `yaml:"channels"`
	MaxChars    int    `yaml:"max_chars"`
	TimeoutMS   int    `yaml:"timeout_ms"`
}

type PlaybackConfig struct {
	Output string `yaml:"output"` // none, timer, oto
}

type StudioConfig struct {
	MaxSessions   int    `yaml:"max_sessions"`
	IdleTimeoutMS int    `yaml:"idle_timeout_ms"`
	ExportPrefix  string `yaml:"export_prefix"`
	AutoPlay      bool   `yaml:"auto_play"`
}

func Default() Config {
	return Config{
		RuntimeName: "devmaster-studio",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
			Metrics:      true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			RequestTimeout: 90000,
		},
		Node: NodeConfig{
			ID:                "devmaster-node-1",
			Role:              "studio",
			HeartbeatInterval: 5000,
			HeartbeatTimeout:  15000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/devmaster-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		LLM: LLMConfig{
			Mode:        "mock",
			Model:       "gemini-2.5-flash",
			MaxTokens:   0,
			Temperature: 0.7,
			TimeoutMS:   60000,
		},
		TTS: TTSConfig{
			Mode:        "mock",
			Model:       "gemini-2.5-flash-preview-tts",
			VoiceMale:   "Fenrir",
			VoiceFemale: "Kore",
			SampleRate:  24000,
			Channels:    1,
			MaxChars:    2000,
			TimeoutMS:   45000,
		},
		Playback: PlaybackConfig{
			Output: "timer",
		},
		Studio: StudioConfig{
			MaxSessions:   256,
			IdleTimeoutMS: 30 * 60 * 1000,
			ExportPrefix:  "devmaster-voice",
			AutoPlay:      true,
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
	overrideString(&cfg.RuntimeName, "DEVMASTER_RUNTIME_NAME")
	overrideString(&cfg.Environment, "DEVMASTER_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "DEVMASTER_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "DEVMASTER_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "DEVMASTER_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "DEVMASTER_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "DEVMASTER_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.Metrics, "DEVMASTER_TELEMETRY_METRICS")
	overrideBool(&cfg.Bus.Embedded, "DEVMASTER_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "DEVMASTER_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "DEVMASTER_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "DEVMASTER_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "DEVMASTER_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "DEVMASTER_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "DEVMASTER_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "DEVMASTER_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "DEVMASTER_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Bus.RequestTimeout, "DEVMASTER_BUS_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "DEVMASTER_NODE_ID")
	overrideString(&cfg.Node.Role, "DEVMASTER_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "DEVMASTER_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "DEVMASTER_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "DEVMASTER_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "DEVMASTER_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "DEVMASTER_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "DEVMASTER_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "DEVMASTER_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.LLM.Mode, "DEVMASTER_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "DEVMASTER_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "DEVMASTER_LLM_COMMAND")
	overrideString(&cfg.LLM.APIKey, "DEVMASTER_LLM_API_KEY")
	overrideString(&cfg.LLM.Model, "DEVMASTER_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "DEVMASTER_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "DEVMASTER_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "DEVMASTER_LLM_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "DEVMASTER_TTS_MODE")
	overrideString(&cfg.TTS.Command, "DEVMASTER_TTS_COMMAND")
	overrideString(&cfg.TTS.APIKey, "DEVMASTER_TTS_API_KEY")
	overrideString(&cfg.TTS.Model, "DEVMASTER_TTS_MODEL")
	overrideString(&cfg.TTS.VoiceMale, "DEVMASTER_TTS_VOICE_MALE")
	overrideString(&cfg.TTS.VoiceFemale, "DEVMASTER_TTS_VOICE_FEMALE")
	overrideInt(&cfg.TTS.SampleRate, "DEVMASTER_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "DEVMASTER_TTS_CHANNELS")
	overrideInt(&cfg.TTS.MaxChars, "DEVMASTER_TTS_MAX_CHARS")
	overrideInt(&cfg.TTS.TimeoutMS, "DEVMASTER_TTS_TIMEOUT_MS")
	overrideString(&cfg.Playback.Output, "DEVMASTER_PLAYBACK_OUTPUT")
	overrideInt(&cfg.Studio.MaxSessions, "DEVMASTER_STUDIO_MAX_SESSIONS")
	overrideInt(&cfg.Studio.IdleTimeoutMS, "DEVMASTER_STUDIO_IDLE_TIMEOUT_MS")
	overrideString(&cfg.Studio.ExportPrefix, "DEVMASTER_STUDIO_EXPORT_PREFIX")
	overrideBool(&cfg.Studio.AutoPlay, "DEVMASTER_STUDIO_AUTO_PLAY")

	// Provider keys are commonly exported under their vendor names.
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = providerKey(cfg.LLM.Mode)
	}
	if cfg.TTS.APIKey == "" {
		cfg.TTS.APIKey = providerKey(cfg.TTS.Mode)
	}
}

func providerKey(mode string) string {
	switch mode {
	case "gemini":
		for _, key := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY", "API_KEY"} {
			if v := strings.TrimSpace(os.Getenv(key)); v != "" {
				return v
			}
		}
	case "openai":
		return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	return ""
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
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if cfg.Bus.RequestTimeout <= 0 {
		return errors.New("bus.request_timeout_ms must be positive")
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
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.LLM.Mode {
	case "mock", "exec", "ollama", "openai", "gemini":
	default:
		return errors.New("llm.mode must be one of mock|exec|ollama|openai|gemini")
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if (cfg.LLM.Mode == "openai" || cfg.LLM.Mode == "gemini") && cfg.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key must be set when mode=%s", cfg.LLM.Mode)
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return errors.New("llm.temperature must be between 0 and 2")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec", "openai", "gemini":
	default:
		return errors.New("tts.mode must be one of mock|exec|openai|gemini")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if (cfg.TTS.Mode == "openai" || cfg.TTS.Mode == "gemini") && cfg.TTS.APIKey == "" {
		return fmt.Errorf("tts.api_key must be set when mode=%s", cfg.TTS.Mode)
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels != 1 {
		return errors.New("tts.channels must be 1")
	}
	if cfg.TTS.MaxChars <= 0 {
		return errors.New("tts.max_chars must be positive")
	}
	if cfg.TTS.VoiceMale == "" || cfg.TTS.VoiceFemale == "" {
		return errors.New("tts.voice_male and tts.voice_female must not be empty")
	}
	switch cfg.Playback.Output {
	case "none", "timer", "oto":
	default:
		return errors.New("playback.output must be one of none|timer|oto")
	}
	if cfg.Studio.MaxSessions <= 0 {
		return errors.New("studio.max_sessions must be >= 1")
	}
	if cfg.Studio.IdleTimeoutMS < 0 {
		return errors.New("studio.idle_timeout_ms must be >= 0")
	}
	if cfg.Studio.ExportPrefix == "" {
		return errors.New("studio.export_prefix must not be empty")
	}
	return nil
}

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
	StdoutTraces   bool   `yaml:"stdout_traces"`
	// PrometheusBind adds a metrics-only listener, e.g. ":9091".
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Node        NodeConfig       `yaml:"node"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Reader      ReaderConfig     `yaml:"reader"`
	Audio       AudioConfig      `yaml:"audio"`
	STT         STTConfig        `yaml:"stt"`
	TTS         TTSConfig        `yaml:"tts"`
	LLM         LLMConfig        `yaml:"llm"`
	OCR         OCRConfig        `yaml:"ocr"`
	Prompts     PromptsConfig    `yaml:"prompts"`
}

// NodeConfig identifies this reader to peers on the bus.
type NodeConfig struct {
	ID                string `yaml:"id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// ReaderConfig tunes the narration session controller.
type ReaderConfig struct {
	MinSentenceLength   int `yaml:"min_sentence_length"`
	PollIntervalMS      int `yaml:"poll_interval_ms"`
	VoiceAttempts       int `yaml:"voice_attempts"`
	VoiceFailureCeiling int `yaml:"voice_failure_ceiling"`
}

// AudioConfig selects the playback sink shared by the three lanes.
type AudioConfig struct {
	Sink          string `yaml:"sink"` // null, exec
	Command       string `yaml:"command"`
	BlockFrames   int    `yaml:"block_frames"`
	StopTimeoutMS int    `yaml:"stop_timeout_ms"`
}

type STTConfig struct {
	Mode           string   `yaml:"mode"` // mock, exec
	CaptureCommand string   `yaml:"capture_command"`
	Command        string   `yaml:"command"`
	ModelPath      string   `yaml:"model_path"`
	Language       string   `yaml:"language"`
	SampleRate     int      `yaml:"sample_rate"`
	Channels       int      `yaml:"channels"`
	ListenSeconds  int      `yaml:"listen_seconds"`
	MockPhrases    []string `yaml:"mock_phrases"`
}

type TTSConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	MSPerRune  int    `yaml:"mock_ms_per_rune"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // mock, ollama, exec
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type OCRConfig struct {
	Mode     string `yaml:"mode"` // mock, exec, ollama
	Command  string `yaml:"command"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	MockText string `yaml:"mock_text"`
}

type PromptsConfig struct {
	CacheDir  string `yaml:"cache_dir"`
	Manifest  string `yaml:"manifest"`
	Prerender bool   `yaml:"prerender"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-reader",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: false,
			Bind:    "127.0.0.1",
			Port:    8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPInsecure: true,
		},
		Node: NodeConfig{
			ID:                "loqa-reader-1",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/reader-events.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Reader: ReaderConfig{
			MinSentenceLength:   10,
			PollIntervalMS:      50,
			VoiceAttempts:       3,
			VoiceFailureCeiling: 5,
		},
		Audio: AudioConfig{
			Sink:          "null",
			Command:       "aplay -q -t raw -f S16_LE -r {rate} -c {channels}",
			BlockFrames:   1024,
			StopTimeoutMS: 2000,
		},
		STT: STTConfig{
			Mode:           "mock",
			CaptureCommand: "arecord -q -t raw -f S16_LE -r {rate} -c {channels} -d {seconds}",
			Language:       "en-US",
			SampleRate:     16000,
			Channels:       1,
			ListenSeconds:  4,
		},
		TTS: TTSConfig{
			Mode:       "mock",
			Voice:      "en-US",
			SampleRate: 22050,
			Channels:   1,
			MSPerRune:  55,
		},
		LLM: LLMConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   256,
			Temperature: 0.3,
		},
		OCR: OCRConfig{
			Mode:     "mock",
			Endpoint: "http://localhost:11434",
			Model:    "llava:latest",
		},
		Prompts: PromptsConfig{
			CacheDir: "./data/prompt_cache",
		},
	}
}

// Load applies the YAML file at path (if any) and LOQA_* environment
// overrides over Default. When optional is true a missing file is ignored.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config file: %w", err)
			}
		case os.IsNotExist(err) && optional:
		case os.IsNotExist(err):
			return cfg, fmt.Errorf("config file not found: %w", err)
		default:
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// envBindings maps every LOQA_* variable onto the field it overrides.
func envBindings(cfg *Config) map[string]any {
	return map[string]any{
		"LOQA_RUNTIME_NAME":                &cfg.RuntimeName,
		"LOQA_RUNTIME_ENVIRONMENT":         &cfg.Environment,
		"LOQA_HTTP_ENABLED":                &cfg.HTTP.Enabled,
		"LOQA_HTTP_BIND":                   &cfg.HTTP.Bind,
		"LOQA_HTTP_PORT":                   &cfg.HTTP.Port,
		"LOQA_TELEMETRY_LOG_LEVEL":         &cfg.Telemetry.LogLevel,
		"LOQA_TELEMETRY_OTLP_ENDPOINT":     &cfg.Telemetry.OTLPEndpoint,
		"LOQA_TELEMETRY_OTLP_INSECURE":     &cfg.Telemetry.OTLPInsecure,
		"LOQA_TELEMETRY_STDOUT_TRACES":     &cfg.Telemetry.StdoutTraces,
		"LOQA_TELEMETRY_PROMETHEUS_BIND":   &cfg.Telemetry.PrometheusBind,
		"LOQA_NODE_ID":                     &cfg.Node.ID,
		"LOQA_NODE_HEARTBEAT_INTERVAL_MS":  &cfg.Node.HeartbeatInterval,
		"LOQA_NODE_HEARTBEAT_TIMEOUT_MS":   &cfg.Node.HeartbeatTimeout,
		"LOQA_BUS_ENABLED":                 &cfg.Bus.Enabled,
		"LOQA_BUS_EMBEDDED":                &cfg.Bus.Embedded,
		"LOQA_BUS_PORT":                    &cfg.Bus.Port,
		"LOQA_BUS_STORE_DIR":               &cfg.Bus.StoreDir,
		"LOQA_BUS_SERVERS":                 &cfg.Bus.Servers,
		"LOQA_BUS_USERNAME":                &cfg.Bus.Username,
		"LOQA_BUS_PASSWORD":                &cfg.Bus.Password,
		"LOQA_BUS_TOKEN":                   &cfg.Bus.Token,
		"LOQA_BUS_TLS_INSECURE":            &cfg.Bus.TLSInsecure,
		"LOQA_BUS_CONNECT_TIMEOUT_MS":      &cfg.Bus.ConnectTimeout,
		"LOQA_EVENT_STORE_PATH":            &cfg.EventStore.Path,
		"LOQA_EVENT_STORE_RETENTION_MODE":  &cfg.EventStore.RetentionMode,
		"LOQA_EVENT_STORE_RETENTION_DAYS":  &cfg.EventStore.RetentionDays,
		"LOQA_EVENT_STORE_MAX_SESSIONS":    &cfg.EventStore.MaxSessions,
		"LOQA_EVENT_STORE_VACUUM_ON_START": &cfg.EventStore.VacuumOnStart,
		"LOQA_READER_MIN_SENTENCE_LENGTH":  &cfg.Reader.MinSentenceLength,
		"LOQA_READER_POLL_INTERVAL_MS":     &cfg.Reader.PollIntervalMS,
		"LOQA_READER_VOICE_ATTEMPTS":       &cfg.Reader.VoiceAttempts,
		"LOQA_READER_VOICE_FAILURE_CEILING":&cfg.Reader.VoiceFailureCeiling,
		"LOQA_AUDIO_SINK":                  &cfg.Audio.Sink,
		"LOQA_AUDIO_COMMAND":               &cfg.Audio.Command,
		"LOQA_AUDIO_BLOCK_FRAMES":          &cfg.Audio.BlockFrames,
		"LOQA_AUDIO_STOP_TIMEOUT_MS":       &cfg.Audio.StopTimeoutMS,
		"LOQA_STT_MODE":                    &cfg.STT.Mode,
		"LOQA_STT_CAPTURE_COMMAND":         &cfg.STT.CaptureCommand,
		"LOQA_STT_COMMAND":                 &cfg.STT.Command,
		"LOQA_STT_MODEL_PATH":              &cfg.STT.ModelPath,
		"LOQA_STT_LANGUAGE":                &cfg.STT.Language,
		"LOQA_STT_SAMPLE_RATE":             &cfg.STT.SampleRate,
		"LOQA_STT_CHANNELS":                &cfg.STT.Channels,
		"LOQA_STT_LISTEN_SECONDS":          &cfg.STT.ListenSeconds,
		"LOQA_STT_MOCK_PHRASES":            &cfg.STT.MockPhrases,
		"LOQA_TTS_MODE":                    &cfg.TTS.Mode,
		"LOQA_TTS_COMMAND":                 &cfg.TTS.Command,
		"LOQA_TTS_VOICE":                   &cfg.TTS.Voice,
		"LOQA_TTS_SAMPLE_RATE":             &cfg.TTS.SampleRate,
		"LOQA_TTS_CHANNELS":                &cfg.TTS.Channels,
		"LOQA_TTS_MOCK_MS_PER_RUNE":        &cfg.TTS.MSPerRune,
		"LOQA_LLM_MODE":                    &cfg.LLM.Mode,
		"LOQA_LLM_ENDPOINT":                &cfg.LLM.Endpoint,
		"LOQA_LLM_COMMAND":                 &cfg.LLM.Command,
		"LOQA_LLM_MODEL":                   &cfg.LLM.Model,
		"LOQA_LLM_MAX_TOKENS":              &cfg.LLM.MaxTokens,
		"LOQA_LLM_TEMPERATURE":             &cfg.LLM.Temperature,
		"LOQA_OCR_MODE":                    &cfg.OCR.Mode,
		"LOQA_OCR_COMMAND":                 &cfg.OCR.Command,
		"LOQA_OCR_ENDPOINT":                &cfg.OCR.Endpoint,
		"LOQA_OCR_MODEL":                   &cfg.OCR.Model,
		"LOQA_OCR_MOCK_TEXT":               &cfg.OCR.MockText,
		"LOQA_PROMPTS_CACHE_DIR":           &cfg.Prompts.CacheDir,
		"LOQA_PROMPTS_MANIFEST":            &cfg.Prompts.Manifest,
		"LOQA_PROMPTS_PRERENDER":           &cfg.Prompts.Prerender,
	}
}

// applyEnvOverrides sets fields from the environment. Values that do not
// parse as the field's type are ignored, as are blank strings.
func applyEnvOverrides(cfg *Config) {
	for key, target := range envBindings(cfg) {
		if value, ok := os.LookupEnv(key); ok {
			setFromEnv(target, strings.TrimSpace(value))
		}
	}
}

func setFromEnv(target any, value string) {
	switch t := target.(type) {
	case *string:
		if value != "" {
			*t = value
		}
	case *int:
		if n, err := strconv.Atoi(value); err == nil {
			*t = n
		}
	case *bool:
		if b, err := strconv.ParseBool(value); err == nil {
			*t = b
		}
	case *float64:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			*t = f
		}
	case *[]string:
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		if len(items) > 0 {
			*t = items
		}
	}
}

// validate reports every problem in cfg at once.
func validate(cfg Config) error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}
	oneOf := func(value, field string, allowed ...string) bool {
		for _, a := range allowed {
			if value == a {
				return true
			}
		}
		errs = append(errs, fmt.Errorf("%s must be one of %s", field, strings.Join(allowed, "|")))
		return false
	}

	check(cfg.RuntimeName != "", "runtime_name must not be empty")
	check(!cfg.HTTP.Enabled || validPort(cfg.HTTP.Port), "http.port must be between 1 and 65535")

	if cfg.Bus.Enabled {
		check(cfg.Node.ID != "", "node.id must not be empty when the bus is enabled")
		check(cfg.Node.HeartbeatInterval > 0, "node.heartbeat_interval_ms must be positive")
		check(cfg.Node.HeartbeatTimeout > cfg.Node.HeartbeatInterval, "node.heartbeat_timeout_ms must exceed node.heartbeat_interval_ms")
		if cfg.Bus.Embedded {
			// -1 lets the embedded server pick a free port.
			check(cfg.Bus.Port == -1 || validPort(cfg.Bus.Port), "bus.port must be between 1 and 65535 when embedded mode is enabled")
		} else {
			check(len(cfg.Bus.Servers) > 0, "bus.servers must not be empty when embedded mode is disabled")
		}
	}

	if oneOf(cfg.EventStore.RetentionMode, "event_store.retention_mode", "ephemeral", "session", "persistent") {
		check(cfg.EventStore.RetentionMode == "ephemeral" || cfg.EventStore.Path != "", "event_store.path must not be empty")
	}
	check(cfg.EventStore.RetentionDays >= 0, "event_store.retention_days must be >= 0")
	check(cfg.EventStore.MaxSessions >= 0, "event_store.max_sessions must be >= 0")

	check(cfg.Reader.MinSentenceLength >= 0, "reader.min_sentence_length must be >= 0")
	check(cfg.Reader.PollIntervalMS > 0, "reader.poll_interval_ms must be positive")
	check(cfg.Reader.VoiceAttempts > 0, "reader.voice_attempts must be >= 1")
	check(cfg.Reader.VoiceFailureCeiling > 0, "reader.voice_failure_ceiling must be >= 1")

	if oneOf(cfg.Audio.Sink, "audio.sink", "null", "exec") && cfg.Audio.Sink == "exec" {
		check(cfg.Audio.Command != "", "audio.command must be set when sink=exec")
	}
	check(cfg.Audio.BlockFrames > 0, "audio.block_frames must be positive")
	check(cfg.Audio.StopTimeoutMS > 0, "audio.stop_timeout_ms must be positive")

	if oneOf(cfg.STT.Mode, "stt.mode", "mock", "exec") && cfg.STT.Mode == "exec" {
		check(cfg.STT.Command != "", "stt.command must be set when mode=exec")
		check(cfg.STT.CaptureCommand != "", "stt.capture_command must be set when mode=exec")
	}
	check(cfg.STT.SampleRate > 0, "stt.sample_rate must be positive")
	check(cfg.STT.Channels > 0, "stt.channels must be positive")
	check(cfg.STT.ListenSeconds > 0, "stt.listen_seconds must be positive")

	if oneOf(cfg.TTS.Mode, "tts.mode", "mock", "exec") && cfg.TTS.Mode == "exec" {
		check(cfg.TTS.Command != "", "tts.command must be set when mode=exec")
	}
	check(cfg.TTS.SampleRate > 0, "tts.sample_rate must be positive")
	check(cfg.TTS.Channels > 0, "tts.channels must be positive")

	if oneOf(cfg.LLM.Mode, "llm.mode", "mock", "ollama", "exec") {
		check(cfg.LLM.Mode != "ollama" || cfg.LLM.Endpoint != "", "llm.endpoint must be set when mode=ollama")
		check(cfg.LLM.Mode != "exec" || cfg.LLM.Command != "", "llm.command must be set when mode=exec")
	}
	check(cfg.LLM.MaxTokens >= 0, "llm.max_tokens must be >= 0")

	if oneOf(cfg.OCR.Mode, "ocr.mode", "mock", "exec", "ollama") {
		check(cfg.OCR.Mode != "ollama" || cfg.OCR.Endpoint != "", "ocr.endpoint must be set when mode=ollama")
		check(cfg.OCR.Mode != "exec" || cfg.OCR.Command != "", "ocr.command must be set when mode=exec")
	}

	check(cfg.Prompts.CacheDir != "", "prompts.cache_dir must not be empty")
	return errors.Join(errs...)
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

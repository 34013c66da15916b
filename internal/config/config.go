package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	TraceStdout  bool   `yaml:"trace_stdout"`
}

type HTTPConfig struct {
	Bind           string `yaml:"bind"`
	Port           int    `yaml:"port"`
	StaticDir      string `yaml:"static_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Transcoder  TranscoderConfig `yaml:"transcoder"`
	Recognizer  RecognizerConfig `yaml:"recognizer"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Journal     JournalConfig    `yaml:"journal"`
	Bus         BusConfig        `yaml:"bus"`
}

// TranscoderConfig drives the external audio conversion process.
type TranscoderConfig struct {
	Command     string        `yaml:"command"`
	SampleRate  int           `yaml:"sample_rate"`
	Timeout     time.Duration `yaml:"timeout"`
	GracePeriod time.Duration `yaml:"grace_period"`
	TempDir     string        `yaml:"temp_dir"`
}

// RecognizerConfig selects and configures the speech engine.
type RecognizerConfig struct {
	Mode           string        `yaml:"mode"` // vosk, whisper, exec, mock
	ModelPath      string        `yaml:"model_path"`
	Command        string        `yaml:"command"`
	SampleRate     int           `yaml:"sample_rate"`
	Words          bool          `yaml:"words"`
	Vocabulary     string        `yaml:"vocabulary"`
	VocabularyDir  string        `yaml:"vocabulary_dir"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	EngineLogLevel int           `yaml:"engine_log_level"`
}

type PipelineConfig struct {
	Workers          int           `yaml:"workers"`
	QueueSize        int           `yaml:"queue_size"`
	RecognizeTimeout time.Duration `yaml:"recognize_timeout"`
}

// JournalConfig controls the request outcome journal. Audio and transcript
// text are never written.
type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int    `yaml:"max_entries"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "morse-voice-trainer",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Transcoder: TranscoderConfig{
			Command:     "ffmpeg -hide_banner -nostdin",
			SampleRate:  16000,
			Timeout:     30 * time.Second,
			GracePeriod: 2 * time.Second,
		},
		Recognizer: RecognizerConfig{
			Mode:           "vosk",
			ModelPath:      "model",
			SampleRate:     16000,
			Words:          true,
			CommandTimeout: 30 * time.Second,
			EngineLogLevel: -1,
		},
		Pipeline: PipelineConfig{
			Workers:          4,
			QueueSize:        16,
			RecognizeTimeout: 30 * time.Second,
		},
		Journal: JournalConfig{
			Path:          "./data/morse-journal.db",
			RetentionMode: "ephemeral",
			RetentionDays: 7,
			MaxEntries:    10000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
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
	overrideString(&cfg.RuntimeName, "MORSE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MORSE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MORSE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MORSE_HTTP_PORT")
	overrideString(&cfg.HTTP.StaticDir, "MORSE_HTTP_STATIC_DIR")
	overrideInt64(&cfg.HTTP.MaxUploadBytes, "MORSE_HTTP_MAX_UPLOAD_BYTES")
	overrideString(&cfg.Telemetry.LogLevel, "MORSE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MORSE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MORSE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "MORSE_TELEMETRY_TRACE_STDOUT")
	overrideString(&cfg.Transcoder.Command, "MORSE_TRANSCODER_COMMAND")
	overrideInt(&cfg.Transcoder.SampleRate, "MORSE_TRANSCODER_SAMPLE_RATE")
	overrideDuration(&cfg.Transcoder.Timeout, "MORSE_TRANSCODER_TIMEOUT")
	overrideDuration(&cfg.Transcoder.GracePeriod, "MORSE_TRANSCODER_GRACE_PERIOD")
	overrideString(&cfg.Transcoder.TempDir, "MORSE_TRANSCODER_TEMP_DIR")
	overrideString(&cfg.Recognizer.Mode, "MORSE_RECOGNIZER_MODE")
	overrideString(&cfg.Recognizer.ModelPath, "MORSE_RECOGNIZER_MODEL_PATH")
	overrideString(&cfg.Recognizer.Command, "MORSE_RECOGNIZER_COMMAND")
	overrideInt(&cfg.Recognizer.SampleRate, "MORSE_RECOGNIZER_SAMPLE_RATE")
	overrideBool(&cfg.Recognizer.Words, "MORSE_RECOGNIZER_WORDS")
	overrideString(&cfg.Recognizer.Vocabulary, "MORSE_RECOGNIZER_VOCABULARY")
	overrideString(&cfg.Recognizer.VocabularyDir, "MORSE_RECOGNIZER_VOCABULARY_DIR")
	overrideDuration(&cfg.Recognizer.CommandTimeout, "MORSE_RECOGNIZER_COMMAND_TIMEOUT")
	overrideInt(&cfg.Pipeline.Workers, "MORSE_PIPELINE_WORKERS")
	overrideInt(&cfg.Pipeline.QueueSize, "MORSE_PIPELINE_QUEUE_SIZE")
	overrideDuration(&cfg.Pipeline.RecognizeTimeout, "MORSE_PIPELINE_RECOGNIZE_TIMEOUT")
	overrideString(&cfg.Journal.Path, "MORSE_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "MORSE_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "MORSE_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxEntries, "MORSE_JOURNAL_MAX_ENTRIES")
	overrideBool(&cfg.Journal.VacuumOnStart, "MORSE_JOURNAL_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "MORSE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "MORSE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MORSE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "MORSE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MORSE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MORSE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MORSE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MORSE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MORSE_BUS_CONNECT_TIMEOUT_MS")
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

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
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

func overrideDuration(target *time.Duration, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
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

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.MaxUploadBytes < 0 {
		return errors.New("http.max_upload_bytes must be >= 0")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if strings.TrimSpace(cfg.Transcoder.Command) == "" {
		return errors.New("transcoder.command must not be empty")
	}
	if cfg.Transcoder.SampleRate <= 0 {
		return errors.New("transcoder.sample_rate must be positive")
	}
	if cfg.Transcoder.Timeout <= 0 {
		return errors.New("transcoder.timeout must be positive")
	}
	if cfg.Transcoder.GracePeriod < 0 {
		return errors.New("transcoder.grace_period must be >= 0")
	}
	switch cfg.Recognizer.Mode {
	case "vosk", "whisper", "exec", "mock":
	default:
		return errors.New("recognizer.mode must be one of vosk|whisper|exec|mock")
	}
	if (cfg.Recognizer.Mode == "vosk" || cfg.Recognizer.Mode == "whisper") && cfg.Recognizer.ModelPath == "" {
		return fmt.Errorf("recognizer.model_path must be set when mode=%s", cfg.Recognizer.Mode)
	}
	if cfg.Recognizer.Mode == "exec" && cfg.Recognizer.Command == "" {
		return errors.New("recognizer.command must be set when mode=exec")
	}
	if cfg.Recognizer.SampleRate <= 0 {
		return errors.New("recognizer.sample_rate must be positive")
	}
	if cfg.Recognizer.SampleRate != cfg.Transcoder.SampleRate {
		return fmt.Errorf("recognizer.sample_rate (%d) must match transcoder.sample_rate (%d)",
			cfg.Recognizer.SampleRate, cfg.Transcoder.SampleRate)
	}
	if cfg.Recognizer.Vocabulary != "" && cfg.Recognizer.VocabularyDir == "" {
		return errors.New("recognizer.vocabulary_dir must be set when recognizer.vocabulary is set")
	}
	if cfg.Pipeline.Workers <= 0 {
		return errors.New("pipeline.workers must be >= 1")
	}
	if cfg.Pipeline.QueueSize < 0 {
		return errors.New("pipeline.queue_size must be >= 0")
	}
	if cfg.Pipeline.RecognizeTimeout <= 0 {
		return errors.New("pipeline.recognize_timeout must be positive")
	}
	switch cfg.Journal.RetentionMode {
	case "ephemeral", "persistent":
		// ok
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.Journal.RetentionMode == "persistent" && cfg.Journal.Path == "" {
		return errors.New("journal.path must not be empty when retention_mode=persistent")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	return nil
}

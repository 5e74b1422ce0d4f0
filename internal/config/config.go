package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/text/language"
)

const (
	EngineDeepgram = "deepgram"
	EngineScripted = "scripted"

	defaultLanguage   = "pt-BR"
	defaultSampleRate = 16000
	defaultChannels   = 1
	defaultChunkSize  = 4096
)

// Config stores runtime configuration.
type Config struct {
	Engine     string
	ScriptFile string
	Language   string

	Deepgram DeepgramConfig
	Audio    AudioConfig
	Devices  DevicesConfig
	Log      LogConfig

	// MetricsAddr enables the Prometheus endpoint when set.
	MetricsAddr string
}

type DeepgramConfig struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	SmartFormat bool
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	SampleRate      int
	Channels        int
	ChunkSize       int
}

type DevicesConfig struct {
	Command       string
	Settle        time.Duration
	InitialDevice string
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// env mirrors the process environment one variable per field.
type env struct {
	DeepgramAPIKey      string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramAPIBase     string `envconfig:"DEEPGRAM_API_BASE" default:"https://api.deepgram.com/v1"`
	DeepgramModel       string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramSmartFormat bool   `envconfig:"DEEPGRAM_SMART_FORMAT" default:"true"`

	Language   string `envconfig:"MICSCRIBE_LANGUAGE" default:"pt-BR"`
	Engine     string `envconfig:"MICSCRIBE_ENGINE" default:"deepgram"`
	ScriptFile string `envconfig:"MICSCRIBE_SCRIPT_FILE"`

	FFMPEGCommand    string `envconfig:"MICSCRIBE_FFMPEG_COMMAND" default:"ffmpeg"`
	AudioInputFormat string `envconfig:"MICSCRIBE_AUDIO_INPUT_FORMAT" default:"pulse"`
	SampleRate       int    `envconfig:"MICSCRIBE_SAMPLE_RATE" default:"16000"`
	Channels         int    `envconfig:"MICSCRIBE_CHANNELS" default:"1"`
	AudioChunkSize   int    `envconfig:"MICSCRIBE_AUDIO_CHUNK_SIZE" default:"4096"`

	DeviceCommand string        `envconfig:"MICSCRIBE_DEVICE_COMMAND" default:"pactl --format=json list sources"`
	DeviceSettle  time.Duration `envconfig:"MICSCRIBE_DEVICE_SETTLE" default:"100ms"`
	DeviceID      string        `envconfig:"MICSCRIBE_DEVICE_ID"`

	LogLevel    string `envconfig:"MICSCRIBE_LOG_LEVEL" default:"info"`
	LogPretty   bool   `envconfig:"MICSCRIBE_LOG_PRETTY" default:"false"`
	MetricsAddr string `envconfig:"MICSCRIBE_METRICS_ADDR"`
}

// Load reads a .env file from the working directory when one exists, then
// resolves configuration from the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv resolves configuration from environment variables only.
func LoadFromEnv() (Config, error) {
	var raw env
	if err := envconfig.Process("", &raw); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	lang, err := canonicalLanguage(raw.Language)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Engine:     strings.ToLower(strings.TrimSpace(raw.Engine)),
		ScriptFile: strings.TrimSpace(raw.ScriptFile),
		Language:   lang,
		Deepgram: DeepgramConfig{
			APIKey:      strings.TrimSpace(raw.DeepgramAPIKey),
			APIBaseURL:  strings.TrimSpace(raw.DeepgramAPIBase),
			Model:       strings.TrimSpace(raw.DeepgramModel),
			SmartFormat: raw.DeepgramSmartFormat,
		},
		Audio: AudioConfig{
			RecorderCommand: strings.TrimSpace(raw.FFMPEGCommand),
			InputFormat:     strings.TrimSpace(raw.AudioInputFormat),
			SampleRate:      raw.SampleRate,
			Channels:        raw.Channels,
			ChunkSize:       raw.AudioChunkSize,
		},
		Devices: DevicesConfig{
			Command:       strings.TrimSpace(raw.DeviceCommand),
			Settle:        raw.DeviceSettle,
			InitialDevice: strings.TrimSpace(raw.DeviceID),
		},
		Log: LogConfig{
			Level:  strings.ToLower(strings.TrimSpace(raw.LogLevel)),
			Pretty: raw.LogPretty,
		},
		MetricsAddr: strings.TrimSpace(raw.MetricsAddr),
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = defaultSampleRate
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = defaultChannels
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = defaultChunkSize
	}
	if cfg.Devices.Settle < 0 {
		cfg.Devices.Settle = 0
	}

	switch cfg.Engine {
	case "", EngineDeepgram:
		cfg.Engine = EngineDeepgram
	case EngineScripted:
		if cfg.ScriptFile == "" {
			return Config{}, fmt.Errorf("MICSCRIBE_SCRIPT_FILE is required for the %s engine", EngineScripted)
		}
	default:
		return Config{}, fmt.Errorf("unknown MICSCRIBE_ENGINE %q", raw.Engine)
	}

	return cfg, nil
}

// canonicalLanguage validates a BCP 47 tag and returns its canonical form.
func canonicalLanguage(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultLanguage, nil
	}
	tag, err := language.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid MICSCRIBE_LANGUAGE %q: %w", value, err)
	}
	return tag.String(), nil
}

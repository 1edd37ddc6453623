package agents

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	live "github.com/bt-bridge/gemini-live"
	"github.com/bt-bridge/gemini-live/functions"
	"github.com/bt-bridge/gemini-live/gemini"
	"github.com/bt-bridge/gemini-live/openai"
	"github.com/bt-bridge/gemini-live/shared"
	"github.com/bt-bridge/gemini-live/tools"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap/zapcore"
)

type Backend string

const (
	BackendGemini Backend = "gemini"
	BackendOpenAI Backend = "openai"
)

// Environment variable keys
const (
	envKeyBackend           = "LIVE_BACKEND"
	envKeyModel             = "LIVE_MODEL"
	envKeySystemInstruction = "LIVE_SYSTEM_INSTRUCTION"
	envKeyWebSearch         = "LIVE_WEB_SEARCH"
	envKeyLogLevel          = "LIVE_LOG_LEVEL"
	envKeyGeminiAPIKey      = "GEMINI_API_KEY"
	envKeyOpenAIAPIKey      = "OPENAI_API_KEY"
	envKeyOpenAIBaseURL     = "OPENAI_BASE_URL"
)

const DefaultSystemInstruction = "使用繁體中文以及台灣慣用詞語回答。"

type AudioConfig struct {
	SendSampleRate    int    `yaml:"send_sample_rate"`
	ReceiveSampleRate int    `yaml:"receive_sample_rate"`
	Channels          int    `yaml:"channels"`
	FrameSize         int    `yaml:"frame_size"`
	MicQueueSize      int    `yaml:"mic_queue_size"`
	MicQueuePolicy    string `yaml:"mic_queue_policy"`

	// FrameDuration sizes capture frames by time instead, when FrameSize is
	// zero.
	FrameDuration time.Duration `yaml:"frame_duration"`
}

type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	Voice   string `yaml:"voice"`
}

type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Level      string `yaml:"level"`
}

// Config is everything the CLI needs to hold a conversation. API keys are only
// read from the environment.
type Config struct {
	Backend           Backend          `yaml:"backend"`
	Model             string           `yaml:"model"`
	SystemInstruction string           `yaml:"system_instruction"`
	WebSearch         bool             `yaml:"web_search"`
	Audio             AudioConfig      `yaml:"audio"`
	Functions         functions.Config `yaml:"functions"`
	OpenAI            OpenAIConfig     `yaml:"openai"`
	Log               LogConfig        `yaml:"log"`

	GeminiAPIKey string `yaml:"-"`
	OpenAIAPIKey string `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Backend:           BackendGemini,
		SystemInstruction: DefaultSystemInstruction,
		WebSearch:         true,
		Audio: AudioConfig{
			SendSampleRate:    live.DefaultSendRate,
			ReceiveSampleRate: live.DefaultReceiveRate,
			Channels:          1,
			FrameSize:         live.DefaultFrameSize,
			MicQueueSize:      live.DefaultMicQueueSize,
			MicQueuePolicy:    tools.OverflowBlock.String(),
		},
		Functions: functions.DefaultConfig(),
		OpenAI: OpenAIConfig{
			BaseURL: openai.DefaultBaseURL,
			Voice:   openai.DefaultVoice,
		},
		Log: LogConfig{
			File:       "cli/cli.log",
			MaxSizeMB:  10,
			MaxBackups: 2,
			MaxAgeDays: 3,
			Level:      "info",
		},
	}
}

// LoadConfig reads path over the defaults, then applies environment
// overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.DisallowUnknownField()); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if cfg.Model == "" {
		cfg.Model = cfg.defaultModel()
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	backend, err := shared.Getenv(shared.GetenvString, envKeyBackend, false, string(c.Backend))
	if err != nil {
		return err
	}
	c.Backend = Backend(strings.ToLower(backend))
	if c.Model, err = shared.Getenv(shared.GetenvString, envKeyModel, false, c.Model); err != nil {
		return err
	}
	if c.SystemInstruction, err = shared.Getenv(shared.GetenvString, envKeySystemInstruction, false, c.SystemInstruction); err != nil {
		return err
	}
	if c.WebSearch, err = shared.Getenv(shared.GetenvBool, envKeyWebSearch, false, c.WebSearch); err != nil {
		return err
	}
	if c.Log.Level, err = shared.Getenv(shared.GetenvString, envKeyLogLevel, false, c.Log.Level); err != nil {
		return err
	}
	if c.GeminiAPIKey, err = shared.Getenv(shared.GetenvString, envKeyGeminiAPIKey, false, c.GeminiAPIKey); err != nil {
		return err
	}
	if c.OpenAIAPIKey, err = shared.Getenv(shared.GetenvString, envKeyOpenAIAPIKey, false, c.OpenAIAPIKey); err != nil {
		return err
	}
	if c.OpenAI.BaseURL, err = shared.Getenv(shared.GetenvString, envKeyOpenAIBaseURL, false, c.OpenAI.BaseURL); err != nil {
		return err
	}
	return nil
}

func (c Config) defaultModel() string {
	if c.Backend == BackendOpenAI {
		return openai.DefaultModel
	}
	return gemini.DefaultModel
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendGemini, BackendOpenAI:
	default:
		return fmt.Errorf("%w: %q", shared.ErrUnknownBackend, c.Backend)
	}
	if c.Model == "" {
		return shared.ErrNoModel
	}
	if c.APIKey() == "" {
		return fmt.Errorf("%w: set %s", shared.ErrNoAPIKey, c.apiKeyEnv())
	}
	if _, err := c.micQueuePolicy(); err != nil {
		return err
	}
	if _, err := c.logLevel(); err != nil {
		return err
	}
	return nil
}

// APIKey returns the key of the selected backend.
func (c Config) APIKey() string {
	if c.Backend == BackendOpenAI {
		return c.OpenAIAPIKey
	}
	return c.GeminiAPIKey
}

func (c Config) apiKeyEnv() string {
	if c.Backend == BackendOpenAI {
		return envKeyOpenAIAPIKey
	}
	return envKeyGeminiAPIKey
}

func (c Config) micQueuePolicy() (tools.OverflowPolicy, error) {
	switch c.Audio.MicQueuePolicy {
	case "", tools.OverflowBlock.String():
		return tools.OverflowBlock, nil
	case tools.OverflowDropOldest.String():
		return tools.OverflowDropOldest, nil
	default:
		return 0, fmt.Errorf("unknown mic queue policy %q", c.Audio.MicQueuePolicy)
	}
}

func (c Config) logLevel() (zapcore.Level, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return level, fmt.Errorf("parsing log level: %w", err)
	}
	return level, nil
}

// LogLevel is the parsed log.level, info when it does not parse.
func (c Config) LogLevel() zapcore.Level {
	level, err := c.logLevel()
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// ClientOptions turns the configuration into live.Options for session. The
// realtime API only speaks 24 kHz, so the openai backend overrides the rates.
func (c Config) ClientOptions(session live.Config) (live.Options, error) {
	policy, err := c.micQueuePolicy()
	if err != nil {
		return live.Options{}, err
	}
	if c.Audio.Channels <= 0 {
		return live.Options{}, errors.New("audio channels must be positive")
	}
	opts := live.DefaultOptions()
	opts.Model = c.Model
	opts.Session = session
	opts.Input = tools.Format{SampleRate: c.Audio.SendSampleRate, Channels: c.Audio.Channels}
	opts.Output = tools.Format{SampleRate: c.Audio.ReceiveSampleRate, Channels: c.Audio.Channels}
	if c.Backend == BackendOpenAI {
		opts.Input.SampleRate = openai.SampleRate
		opts.Output.SampleRate = openai.SampleRate
	}
	opts.FrameSize = c.Audio.FrameSize
	if opts.FrameSize <= 0 && c.Audio.FrameDuration > 0 {
		opts.FrameSize = tools.FrameSamples(c.Audio.FrameDuration, opts.Input.SampleRate, 1)
	}
	opts.MicQueueSize = c.Audio.MicQueueSize
	opts.MicQueuePolicy = policy
	return opts, nil
}

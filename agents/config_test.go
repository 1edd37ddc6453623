package agents

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	live "github.com/bt-bridge/gemini-live"
	"github.com/bt-bridge/gemini-live/gemini"
	"github.com/bt-bridge/gemini-live/openai"
	"github.com/bt-bridge/gemini-live/shared"
	"github.com/bt-bridge/gemini-live/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// clearEnv blanks every key LoadConfig reads so the host environment does not
// leak into the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		envKeyBackend, envKeyModel, envKeySystemInstruction, envKeyWebSearch,
		envKeyLogLevel, envKeyGeminiAPIKey, envKeyOpenAIAPIKey, envKeyOpenAIBaseURL,
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(envKeyGeminiAPIKey, "gemini-key")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, BackendGemini, cfg.Backend)
	assert.Equal(t, gemini.DefaultModel, cfg.Model)
	assert.Equal(t, DefaultSystemInstruction, cfg.SystemInstruction)
	assert.True(t, cfg.WebSearch)
	assert.Equal(t, "gemini-key", cfg.APIKey())
	assert.Equal(t, live.DefaultSendRate, cfg.Audio.SendSampleRate)
	assert.Equal(t, live.DefaultReceiveRate, cfg.Audio.ReceiveSampleRate)
	assert.Equal(t, live.DefaultMicQueueSize, cfg.Audio.MicQueueSize)
	assert.Equal(t, zapcore.InfoLevel, cfg.LogLevel())
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(envKeyOpenAIAPIKey, "openai-key")
	path := writeConfig(t, `
backend: openai
system_instruction: Be brief.
web_search: false
audio:
  mic_queue_policy: drop_oldest
  mic_queue_size: 8
openai:
  voice: verse
log:
  level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, BackendOpenAI, cfg.Backend)
	assert.Equal(t, openai.DefaultModel, cfg.Model)
	assert.Equal(t, "Be brief.", cfg.SystemInstruction)
	assert.False(t, cfg.WebSearch)
	assert.Equal(t, "verse", cfg.OpenAI.Voice)
	assert.Equal(t, openai.DefaultBaseURL, cfg.OpenAI.BaseURL)
	assert.Equal(t, 8, cfg.Audio.MicQueueSize)
	assert.Equal(t, zapcore.DebugLevel, cfg.LogLevel())
	assert.Equal(t, "openai-key", cfg.APIKey())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "backend: gemini\nmodel: from-file\n")
	t.Setenv(envKeyBackend, "OpenAI")
	t.Setenv(envKeyModel, "from-env")
	t.Setenv(envKeyWebSearch, "false")
	t.Setenv(envKeyOpenAIAPIKey, "openai-key")
	t.Setenv(envKeyOpenAIBaseURL, "ws://localhost:9000")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, BackendOpenAI, cfg.Backend)
	assert.Equal(t, "from-env", cfg.Model)
	assert.False(t, cfg.WebSearch)
	assert.Equal(t, "ws://localhost:9000", cfg.OpenAI.BaseURL)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		clearEnv(t)
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "reading config file")
	})
	t.Run("unknown field", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(envKeyGeminiAPIKey, "key")
		_, err := LoadConfig(writeConfig(t, "backend: gemini\nvoice: ash\n"))
		assert.ErrorContains(t, err, "parsing config file")
	})
	t.Run("bad web search value", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(envKeyGeminiAPIKey, "key")
		t.Setenv(envKeyWebSearch, "sometimes")
		_, err := LoadConfig("")
		assert.Error(t, err)
	})
	t.Run("no api key", func(t *testing.T) {
		clearEnv(t)
		_, err := LoadConfig("")
		assert.ErrorIs(t, err, shared.ErrNoAPIKey)
		assert.ErrorContains(t, err, envKeyGeminiAPIKey)
	})
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.Model = "m"
		cfg.GeminiAPIKey = "key"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
		wantMsg string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Backend = "claude" },
			wantErr: shared.ErrUnknownBackend,
		},
		{
			name:    "no model",
			mutate:  func(c *Config) { c.Model = "" },
			wantErr: shared.ErrNoModel,
		},
		{
			name:    "openai key missing",
			mutate:  func(c *Config) { c.Backend = BackendOpenAI },
			wantErr: shared.ErrNoAPIKey,
		},
		{
			name:    "bad mic policy",
			mutate:  func(c *Config) { c.Audio.MicQueuePolicy = "drop_newest" },
			wantMsg: "unknown mic queue policy",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantMsg: "parsing log level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			switch {
			case tt.wantErr != nil:
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			case tt.wantMsg != "":
				assert.ErrorContains(t, err, tt.wantMsg)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestClientOptions(t *testing.T) {
	session := live.NewConfig("hi", nil, false)

	t.Run("gemini", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Model = "gemini-model"
		opts, err := cfg.ClientOptions(session)
		require.NoError(t, err)
		assert.Equal(t, "gemini-model", opts.Model)
		assert.Equal(t, "hi", opts.Session.SystemInstruction)
		assert.Equal(t, tools.Format{SampleRate: live.DefaultSendRate, Channels: 1}, opts.Input)
		assert.Equal(t, tools.Format{SampleRate: live.DefaultReceiveRate, Channels: 1}, opts.Output)
		assert.Equal(t, live.DefaultFrameSize, opts.FrameSize)
		assert.Equal(t, tools.OverflowBlock, opts.MicQueuePolicy)
	})

	t.Run("openai runs at 24 kHz", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Backend = BackendOpenAI
		cfg.Audio.MicQueuePolicy = tools.OverflowDropOldest.String()
		opts, err := cfg.ClientOptions(session)
		require.NoError(t, err)
		assert.Equal(t, openai.SampleRate, opts.Input.SampleRate)
		assert.Equal(t, openai.SampleRate, opts.Output.SampleRate)
		assert.Equal(t, tools.OverflowDropOldest, opts.MicQueuePolicy)
	})

	t.Run("frame size from duration", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Audio.FrameSize = 0
		cfg.Audio.FrameDuration = 20 * time.Millisecond
		opts, err := cfg.ClientOptions(session)
		require.NoError(t, err)
		assert.Equal(t, 320, opts.FrameSize)
	})

	t.Run("no channels", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Audio.Channels = 0
		_, err := cfg.ClientOptions(session)
		assert.Error(t, err)
	})
}

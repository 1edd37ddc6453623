package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"

	live "github.com/bt-bridge/gemini-live"
	"github.com/bt-bridge/gemini-live/functions"
	"github.com/bt-bridge/gemini-live/gemini"
	"github.com/bt-bridge/gemini-live/openai"
	"github.com/bt-bridge/gemini-live/shared"
	"github.com/bt-bridge/gemini-live/tools"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
)

// CLIAgent holds one voice conversation on the host's default microphone and
// speaker, printing the transcript as it goes.
type CLIAgent struct {
	logger  shared.LoggerAdapter
	printer *shared.Printer
	client  *live.Client

	mu   sync.Mutex
	done chan struct{}
	err  error
}

// Spawn wires the conversation and starts it in the background. Watch Done
// for its end and Err for the reason.
func (a *CLIAgent) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	cfg *Config,
	printer *shared.Printer,
) error {
	if logger == nil {
		return shared.ErrNoLogger
	}
	if cfg == nil {
		return shared.ErrNoConfig
	}
	if printer == nil {
		return errors.New("no printer provided")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	if a.done != nil {
		a.mu.Unlock()
		return shared.ErrClientAlreadyRunning
	}
	a.done = make(chan struct{})
	a.mu.Unlock()

	a.logger = logger.With(zap.String("backend", string(cfg.Backend)))
	a.printer = printer
	a.logger.Info("spawning CLI agent")
	a.writeln("🤖 Spawning CLI agent...\n", 0)

	// Host functions
	registry, err := live.NewRegistry(a.logger)
	if err != nil {
		return a.fail("creating function registry", err)
	}
	fns, err := functions.NewClient(a.logger, cfg.Functions)
	if err != nil {
		return a.fail("creating host functions", err)
	}
	if err := fns.Register(registry); err != nil {
		return a.fail("registering host functions", err)
	}
	session := live.NewConfig(cfg.SystemInstruction, registry, cfg.WebSearch)

	a.writeln("📋 Session Config\n", 0)
	yamlBytes, err := yaml.MarshalWithOptions(session, yaml.UseJSONMarshaler())
	if err != nil {
		return a.fail("marshaling session config to yaml", err)
	}
	if err := a.printer.Write(string(yamlBytes), 1); err != nil {
		a.logger.Error("printing session config", err)
	}

	// Transport
	connector, err := newConnector(ctx, a.logger, cfg)
	if err != nil {
		return a.fail("creating connector", err)
	}
	opts, err := cfg.ClientOptions(session)
	if err != nil {
		return a.fail("building client options", err)
	}

	// Audio device
	a.writeln("\n\n🎤 Opening audio device...", 0)
	device, err := tools.NewDevice(a.logger)
	if err != nil {
		a.writeln("❌ Unable to open the audio device. Please ensure that a microphone and a speaker are available.\n", 0)
		return a.fail("opening audio device", err)
	}
	a.writeln("✅ Audio device ready.\n", 0)

	sink, err := NewConsoleTranscript(a.logger, a.printer)
	if err != nil {
		_ = device.Close()
		return a.fail("creating transcript", err)
	}
	backendName := "Gemini"
	if cfg.Backend == BackendOpenAI {
		backendName = "OpenAI"
	}
	if err := a.start(ctx, connector, device, registry, sink, opts, backendName); err != nil {
		return a.fail("starting client", err)
	}
	return nil
}

// start runs the client in the background. device is closed if the client
// cannot be started.
func (a *CLIAgent) start(
	ctx context.Context,
	connector live.Connector,
	device live.AudioDevice,
	registry *live.Registry,
	sink live.TranscriptSink,
	opts live.Options,
	backendName string,
) error {
	client, err := live.NewClient(a.logger, connector, device, registry, sink, opts)
	if err != nil {
		_ = device.Close()
		return err
	}
	err = client.OnStateChange(func(prev, next live.ClientState) {
		if next == live.ClientStateConnected {
			a.writeln(fmt.Sprintf("Connected to %s. Start speaking!", backendName), 0)
		}
	})
	if err != nil {
		_ = device.Close()
		return err
	}
	a.client = client
	a.logger = a.logger.With(zap.String("sessionId", client.ID()))

	go func() {
		err := client.Run(ctx)
		a.mu.Lock()
		a.err = err
		a.mu.Unlock()
		close(a.done)
	}()
	return nil
}

func newConnector(ctx context.Context, logger shared.LoggerAdapter, cfg *Config) (live.Connector, error) {
	switch cfg.Backend {
	case BackendGemini:
		return gemini.NewConnector(ctx, logger, cfg.GeminiAPIKey)
	case BackendOpenAI:
		return openai.NewConnector(logger, cfg.OpenAIAPIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Voice)
	default:
		return nil, fmt.Errorf("%w: %q", shared.ErrUnknownBackend, cfg.Backend)
	}
}

// fail closes done for a Spawn that never started the client.
func (a *CLIAgent) fail(msg string, err error) error {
	a.logger.Error(msg, err)
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
	close(a.done)
	return fmt.Errorf("%s: %w", msg, err)
}

func (a *CLIAgent) writeln(s string, ind int) {
	if err := a.printer.Writeln(s, ind); err != nil {
		a.logger.Error("printing message", err)
	}
}

// Done is closed when the conversation is over. It is nil before Spawn.
func (a *CLIAgent) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Err is the reason the conversation ended; nil for a normal or user
// requested end.
func (a *CLIAgent) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Close asks the conversation to end. It does not wait; use Done for that.
func (a *CLIAgent) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

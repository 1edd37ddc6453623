package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/bt-bridge/gemini-live/shared"
	"github.com/bt-bridge/gemini-live/tools"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type ClientState int

const (
	ClientStateDisconnected ClientState = iota
	ClientStateConnecting
	ClientStateConnected
	ClientStateShuttingDown
	ClientStateClosed
)

func (s ClientState) String() string {
	switch s {
	case ClientStateDisconnected:
		return "disconnected"
	case ClientStateConnecting:
		return "connecting"
	case ClientStateConnected:
		return "connected"
	case ClientStateShuttingDown:
		return "shutting_down"
	case ClientStateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ClientState(%d)", int(s))
	}
}

type StateHandler func(prev, next ClientState)

const (
	DefaultMicQueueSize = 5
	DefaultFrameSize    = 1024
	DefaultSendRate     = 16000
	DefaultReceiveRate  = 24000
)

// Options tune one conversation.
type Options struct {
	Model   string
	Session Config
	// Input is the microphone format, Output the speaker format.
	Input  tools.Format
	Output tools.Format
	// FrameSize is the number of sample frames read from the microphone at a
	// time.
	FrameSize      int
	MicQueueSize   int
	MicQueuePolicy tools.OverflowPolicy
}

func DefaultOptions() Options {
	return Options{
		Input:          tools.Format{SampleRate: DefaultSendRate, Channels: 1},
		Output:         tools.Format{SampleRate: DefaultReceiveRate, Channels: 1},
		FrameSize:      DefaultFrameSize,
		MicQueueSize:   DefaultMicQueueSize,
		MicQueuePolicy: tools.OverflowBlock,
	}
}

func (o Options) validate() error {
	if o.Model == "" {
		return shared.ErrNoModel
	}
	if err := o.Input.Validate(); err != nil {
		return fmt.Errorf("input format: %w", err)
	}
	if err := o.Output.Validate(); err != nil {
		return fmt.Errorf("output format: %w", err)
	}
	if o.FrameSize <= 0 {
		return fmt.Errorf("invalid frame size %d", o.FrameSize)
	}
	if o.MicQueueSize <= 0 {
		return fmt.Errorf("invalid mic queue size %d", o.MicQueueSize)
	}
	return nil
}

// Client coordinates one realtime voice session: it owns the session, the
// audio device and both queues, and runs capture, send, receive and playback
// as a single cancellation group.
type Client struct {
	id        string
	logger    shared.LoggerAdapter
	connector Connector
	device    AudioDevice
	registry  *Registry
	sink      TranscriptSink
	opts      Options
	metrics   *clientMetrics

	mic     *tools.Queue[AudioChunk]
	speaker *tools.Queue[AudioChunk]

	mu      sync.Mutex
	state   ClientState
	onState StateHandler
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewClient takes ownership of device: it is closed when Run returns.
// sink may be nil.
func NewClient(
	logger shared.LoggerAdapter,
	connector Connector,
	device AudioDevice,
	registry *Registry,
	sink TranscriptSink,
	opts Options,
) (*Client, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if connector == nil {
		return nil, shared.ErrNoConnector
	}
	if device == nil {
		return nil, shared.ErrNoDevice
	}
	if registry == nil {
		return nil, shared.ErrNoRegistry
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = nopTranscript{}
	}
	metrics, err := newClientMetrics()
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}
	id := uuid.NewString()
	return &Client{
		id:        id,
		logger:    logger.With(zap.String("component", "client"), zap.String("sessionId", id)),
		connector: connector,
		device:    device,
		registry:  registry,
		sink:      sink,
		opts:      opts,
		metrics:   metrics,
		mic:       tools.NewBoundedQueue[AudioChunk](opts.MicQueueSize, opts.MicQueuePolicy),
		speaker:   tools.NewUnboundedQueue[AudioChunk](),
		done:      make(chan struct{}),
	}, nil
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once Run has released everything.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) OnStateChange(handler StateHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return shared.ErrClientAlreadyRunning
	}
	c.onState = handler
	return nil
}

// Close asks a running session to shut down, as a user interrupt would. It
// does not wait; use Done for that.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *Client) setState(next ClientState) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	handler := c.onState
	c.mu.Unlock()
	c.logger.Trace(
		"client state changed",
		zap.String("prev", prev.String()),
		zap.String("new", next.String()),
	)
	if handler != nil {
		handler(prev, next)
	}
}

// resources are released in reverse order of acquisition, each exactly once.
type resources struct {
	input   io.ReadCloser
	output  io.WriteCloser
	session Session
}

// Run connects, streams until the session ends, fails or ctx is cancelled,
// and then releases the streams, the audio device and the session. Cancelling
// ctx or calling Close is a clean shutdown and returns nil. Run may only be
// called once.
func (c *Client) Run(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return shared.ErrClientAlreadyRunning
	}
	c.running = true
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()
	defer close(c.done)

	res := new(resources)
	defer func() {
		c.setState(ClientStateShuttingDown)
		if rerr := c.release(res); rerr != nil {
			c.logger.Error("releasing resources", rerr)
		}
		c.setState(ClientStateClosed)
	}()

	c.setState(ClientStateConnecting)
	c.logger.Info("connecting", zap.String("model", c.opts.Model))
	res.session, err = c.connector.Connect(ctx, c.opts.Model, c.opts.Session)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connecting to %s: %w", c.opts.Model, err)
	}
	if res.input, err = c.device.OpenInput(c.opts.Input, c.opts.FrameSize); err != nil {
		return fmt.Errorf("opening input stream: %w", err)
	}
	if res.output, err = c.device.OpenOutput(c.opts.Output); err != nil {
		return fmt.Errorf("opening output stream: %w", err)
	}
	c.setState(ClientStateConnected)
	c.logger.Info("connected")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.capture(gctx, res.input) })
	g.Go(func() error { return c.send(gctx, res.session) })
	g.Go(func() error { return c.receive(gctx, res.session, res.output) })
	g.Go(func() error { return c.playback(gctx, res.output) })
	err = g.Wait()

	switch {
	case errors.Is(err, shared.ErrSessionEnded), errors.Is(err, shared.ErrInputEnded):
		c.logger.Info("session finished", zap.NamedError("reason", err))
		return nil
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		c.logger.Info("session cancelled")
		return nil
	case err != nil:
		c.logger.Error("session failed", err)
		return err
	}
	return nil
}

func (c *Client) release(res *resources) error {
	var errs []error
	c.mic.Close()
	c.speaker.Close()
	if res.input != nil {
		if err := res.input.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing input stream: %w", err))
		}
	}
	if res.output != nil {
		if err := res.output.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing output stream: %w", err))
		}
	}
	if err := c.device.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing audio device: %w", err))
	}
	if res.session != nil {
		if err := res.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing session: %w", err))
		}
	}
	c.logger.Info("resources released",
		zap.Int("pendingPlayback", c.speaker.Len()),
		zap.Int("pendingMic", c.mic.Len()),
		zap.Int("droppedMic", c.mic.Dropped()),
	)
	return errors.Join(errs...)
}

package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"

	live "github.com/bt-bridge/gemini-live"
	"github.com/bt-bridge/gemini-live/shared"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// DefaultModel is the native audio model the CLI talks to unless configured
// otherwise.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"

// Connector opens Gemini Live API sessions.
type Connector struct {
	logger shared.LoggerAdapter
	client *genai.Client
}

var _ live.Connector = (*Connector)(nil)

func NewConnector(ctx context.Context, logger shared.LoggerAdapter, apiKey string) (*Connector, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if apiKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Connector{
		logger: logger.With(zap.String("component", "gemini")),
		client: client,
	}, nil
}

func (c *Connector) Connect(ctx context.Context, model string, cfg live.Config) (live.Session, error) {
	conn, err := c.client.Live.Connect(ctx, model, ConnectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening live session: %w", err)
	}
	c.logger.Info("live session opened", zap.String("model", model))
	return newSession(c.logger, conn), nil
}

// ConnectConfig translates the capability descriptor into the Live API setup.
func ConnectConfig(cfg live.Config) *genai.LiveConnectConfig {
	conf := &genai.LiveConnectConfig{}
	for _, m := range cfg.ResponseModalities {
		switch m {
		case live.ModalityAudio:
			conf.ResponseModalities = append(conf.ResponseModalities, genai.ModalityAudio)
		case live.ModalityText:
			conf.ResponseModalities = append(conf.ResponseModalities, genai.ModalityText)
		}
	}
	if cfg.SystemInstruction != "" {
		conf.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	if cfg.OutputAudioTranscription {
		conf.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.InputAudioTranscription {
		conf.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if len(cfg.Functions) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(cfg.Functions))
		for _, fn := range cfg.Functions {
			decl := &genai.FunctionDeclaration{
				Name:        fn.Name,
				Description: fn.Description,
			}
			if fn.Parameters != nil {
				decl.ParametersJsonSchema = fn.Parameters
			}
			decls = append(decls, decl)
		}
		conf.Tools = append(conf.Tools, &genai.Tool{FunctionDeclarations: decls})
	}
	if cfg.WebSearch {
		conf.Tools = append(conf.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	return conf
}

// Session adapts a genai live session to live.Session. A pump goroutine reads
// server messages and feeds them to a TurnStream.
type Session struct {
	logger shared.LoggerAdapter
	conn   *genai.Session
	turns  *live.TurnStream
	frames chan live.Frame

	// genai sessions write to one websocket; writes must not interleave
	sendMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

var _ live.Session = (*Session)(nil)

func newSession(logger shared.LoggerAdapter, conn *genai.Session) *Session {
	frames := make(chan live.Frame, 16)
	s := &Session{
		logger: logger,
		conn:   conn,
		turns:  live.NewTurnStream(frames),
		frames: frames,
		closed: make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *Session) SendAudio(ctx context.Context, chunk live.AudioChunk) error {
	return s.send(ctx, func() error {
		return s.conn.SendRealtimeInput(genai.LiveRealtimeInput{
			Audio: &genai.Blob{Data: chunk.Data, MIMEType: chunk.MimeType},
		})
	})
}

func (s *Session) SendToolResponses(ctx context.Context, responses []live.ToolResponse) error {
	fnResponses := make([]*genai.FunctionResponse, 0, len(responses))
	for _, r := range responses {
		fnResponses = append(fnResponses, &genai.FunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: map[string]any{"result": r.Result},
		})
	}
	return s.send(ctx, func() error {
		return s.conn.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: fnResponses})
	})
}

// send runs one write. genai writes ignore ctx, so a cancelled ctx closes the
// session to release a stalled write.
func (s *Session) send(ctx context.Context, write func() error) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()
	if err := write(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *Session) NextTurn(ctx context.Context) (live.Turn, error) {
	return s.turns.NextTurn(ctx)
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *Session) pump() {
	defer close(s.frames)
	for {
		msg, err := s.conn.Receive()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("live session closed by server", zap.Error(err))
				return
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				err = fmt.Errorf("server closed session (%d %s): %w", closeErr.Code, closeErr.Text, err)
			}
			s.deliver(live.Frame{Err: fmt.Errorf("receiving message: %w", err)})
			return
		}
		if msg.GoAway != nil {
			s.logger.Warn("server is going away")
		}
		if msg.ToolCallCancellation != nil {
			s.logger.Warn("server cancelled pending tool calls")
		}
		for _, f := range messageFrames(msg) {
			if !s.deliver(f) {
				return
			}
		}
	}
}

func (s *Session) deliver(f live.Frame) bool {
	select {
	case s.frames <- f:
		return true
	case <-s.closed:
		return false
	}
}

// messageFrames splits one server message into stream frames, in the order the
// receive path should see them.
func messageFrames(msg *genai.LiveServerMessage) []live.Frame {
	var frames []live.Frame
	if msg == nil {
		return nil
	}
	if tc := msg.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		calls := make([]live.ToolCall, 0, len(tc.FunctionCalls))
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			calls = append(calls, live.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		frames = append(frames, live.Frame{Event: &live.ToolCallBatch{Calls: calls}})
	}

	content := msg.ServerContent
	if content == nil {
		return frames
	}
	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			frames = append(frames, live.Frame{Event: &live.ModelAudioPart{
				Chunk: live.AudioChunk{Data: part.InlineData.Data, MimeType: part.InlineData.MIMEType},
			}})
		}
	}
	if t := content.OutputTranscription; t != nil && t.Text != "" {
		frames = append(frames, live.Frame{Event: &live.OutputTranscriptionDelta{Text: t.Text}})
	}
	if t := content.InputTranscription; t != nil && t.Text != "" {
		frames = append(frames, live.Frame{Event: &live.InputTranscriptionDelta{Text: t.Text}})
	}
	if content.GenerationComplete {
		frames = append(frames, live.Frame{Event: &live.TurnBoundary{Reason: live.BoundaryGenerationComplete}})
	}
	if content.Interrupted {
		frames = append(frames, live.Frame{Event: &live.TurnBoundary{Reason: live.BoundaryInterrupted}})
	}
	if content.TurnComplete || content.Interrupted {
		frames = append(frames, live.Frame{EndOfTurn: true})
	}
	return frames
}

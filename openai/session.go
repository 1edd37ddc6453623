package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"

	live "github.com/bt-bridge/gemini-live"
	"github.com/bt-bridge/gemini-live/shared"
	"github.com/bt-bridge/gemini-live/tools"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/realtime"
	"github.com/openai/openai-go/v3/responses"
	"go.uber.org/zap"
)

const (
	DefaultModel   = "gpt-realtime"
	DefaultBaseURL = "wss://api.openai.com/v1/realtime"
	DefaultVoice   = "ash"
	// SampleRate is the only PCM rate the realtime API accepts, in both
	// directions.
	SampleRate = 24000

	transcriptionModel = "whisper-1"
)

// Connector opens OpenAI Realtime sessions over a websocket.
type Connector struct {
	logger  shared.LoggerAdapter
	apiKey  string
	baseURL *url.URL
	voice   string
	dialer  *websocket.Dialer
}

var _ live.Connector = (*Connector)(nil)

// NewConnector uses DefaultBaseURL when baseURL is empty and DefaultVoice
// when voice is empty.
func NewConnector(logger shared.LoggerAdapter, apiKey, baseURL, voice string) (*Connector, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if apiKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if voice == "" {
		voice = DefaultVoice
	}
	return &Connector{
		logger:  logger.With(zap.String("component", "openai")),
		apiKey:  apiKey,
		baseURL: u,
		voice:   voice,
		dialer:  websocket.DefaultDialer,
	}, nil
}

func (c *Connector) Connect(ctx context.Context, model string, cfg live.Config) (live.Session, error) {
	payload, err := SessionPayload(model, c.voice, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.WebSearch {
		c.logger.Warn("web search is not available on the realtime API, ignoring")
	}

	u := *c.baseURL
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing realtime API (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing realtime API: %w", err)
	}
	s := newSession(c.logger, conn)
	if err := s.write(ctx, NewClientEvent(ClientEventTypeSessionUpdate, map[string]any{"session": payload})); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("updating session: %w", err)
	}
	c.logger.Info("realtime session opened", zap.String("model", model))
	return s, nil
}

// SessionPayload renders the session.update body for cfg.
func SessionPayload(model, voice string, cfg live.Config) (map[string]any, error) {
	format := realtime.RealtimeAudioFormatsUnionParam{
		OfAudioPCM: &realtime.RealtimeAudioFormatsAudioPCMParam{
			Rate: SampleRate,
			Type: "audio/pcm",
		},
	}
	input := realtime.RealtimeAudioConfigInputParam{Format: format}
	if cfg.InputAudioTranscription {
		input.Transcription = realtime.AudioTranscriptionParam{
			Model: realtime.AudioTranscriptionModel(transcriptionModel),
		}
	}
	session := realtime.RealtimeSessionCreateRequestParam{
		Model: model,
		Audio: realtime.RealtimeAudioConfigParam{
			Input: input,
			Output: realtime.RealtimeAudioConfigOutputParam{
				Format: format,
				Voice:  realtime.RealtimeAudioConfigOutputVoice(voice),
			},
		},
	}
	if cfg.SystemInstruction != "" {
		session.Instructions = param.NewOpt(cfg.SystemInstruction)
	}
	for _, m := range cfg.ResponseModalities {
		session.OutputModalities = append(session.OutputModalities, string(m))
	}
	for _, fn := range cfg.Functions {
		tool := &realtime.RealtimeFunctionToolParam{
			Name: param.NewOpt(fn.Name),
			Type: realtime.RealtimeFunctionToolTypeFunction,
		}
		if fn.Description != "" {
			tool.Description = param.NewOpt(fn.Description)
		}
		if fn.Parameters != nil {
			schema, err := fn.Parameters.MarshalJSON()
			if err != nil {
				return nil, fmt.Errorf("marshaling parameters of %s: %w", fn.Name, err)
			}
			var params map[string]any
			if err := sonic.Unmarshal(schema, &params); err != nil {
				return nil, fmt.Errorf("decoding parameters of %s: %w", fn.Name, err)
			}
			tool.Parameters = params
		}
		session.Tools = append(session.Tools, realtime.RealtimeToolsConfigUnionParam{OfFunction: tool})
	}
	if len(session.Tools) > 0 {
		session.ToolChoice = realtime.RealtimeToolChoiceConfigUnionParam{
			OfToolChoiceMode: param.NewOpt(responses.ToolChoiceOptionsAuto),
		}
	}

	raw, err := session.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshaling session: %w", err)
	}
	var payload map[string]any
	if err := sonic.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	payload["type"] = "realtime"
	return payload, nil
}

// Session adapts a realtime websocket to live.Session.
type Session struct {
	logger shared.LoggerAdapter
	conn   *websocket.Conn
	turns  *live.TurnStream
	frames chan live.Frame
	state  *translator

	// gorilla allows one concurrent writer
	sendMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

var _ live.Session = (*Session)(nil)

func newSession(logger shared.LoggerAdapter, conn *websocket.Conn) *Session {
	frames := make(chan live.Frame, 16)
	s := &Session{
		logger: logger,
		conn:   conn,
		turns:  live.NewTurnStream(frames),
		frames: frames,
		state:  newTranslator(),
		closed: make(chan struct{}),
	}
	go s.pump()
	return s
}

// write sends ev. Writes on the websocket ignore ctx, so a cancelled ctx
// closes the socket underneath a stalled write to release it.
func (s *Session) write(ctx context.Context, ev *ClientEvent) error {
	data, err := ev.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", ev.Type, err)
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.UnderlyingConn().Close()
	})
	defer stop()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *Session) SendAudio(ctx context.Context, chunk live.AudioChunk) error {
	return s.write(ctx, NewClientEvent(ClientEventTypeInputAudioBufferAppend, map[string]any{
		"audio": base64.StdEncoding.EncodeToString(chunk.Data),
	}))
}

// SendToolResponses adds one function_call_output item per response and then
// asks the model to continue.
func (s *Session) SendToolResponses(ctx context.Context, results []live.ToolResponse) error {
	for _, r := range results {
		err := s.write(ctx, NewClientEvent(ClientEventTypeConversationItemCreate, map[string]any{
			"item": map[string]any{
				"type":    "function_call_output",
				"call_id": r.ID,
				"output":  r.Result,
			},
		}))
		if err != nil {
			return fmt.Errorf("sending output of %s: %w", r.ID, err)
		}
	}
	return s.write(ctx, NewClientEvent(ClientEventTypeResponseCreate, nil))
}

func (s *Session) NextTurn(ctx context.Context) (live.Turn, error) {
	return s.turns.NextTurn(ctx)
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.sendMu.Lock()
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		s.sendMu.Unlock()
		// a cancelled write may have closed the socket already
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.closeErr = err
		}
	})
	return s.closeErr
}

func (s *Session) pump() {
	defer close(s.frames)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("realtime session closed by server", zap.Error(err))
				return
			}
			s.deliver(live.Frame{Err: fmt.Errorf("receiving message: %w", err)})
			return
		}

		var ev ServerEvent
		if err := ev.UnmarshalJSON(data); err != nil {
			if errors.Is(err, errUnhandledEvent) {
				s.logger.Trace("skipping server event", zap.String("type", string(ev.Type)))
				continue
			}
			s.logger.Warn("malformed server event", zap.Error(err))
			continue
		}
		switch p := ev.Param.(type) {
		case *ServerEventParamError:
			s.logger.Error("server reported an error", errors.New(p.Message),
				zap.String("type", p.Type),
				zap.String("code", p.Code),
				zap.String("eventId", ev.EventId),
			)
			continue
		case *ServerEventParamSession:
			s.logger.Debug("session configured", zap.String("event", string(ev.Type)), zap.String("model", p.Model))
			continue
		}

		frames, err := s.state.frames(&ev)
		if err != nil {
			s.logger.Warn("dropping server event", zap.String("type", string(ev.Type)), zap.Error(err))
			continue
		}
		for _, f := range frames {
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

// translator turns realtime server events into stream frames. Function calls
// are held until their response is done so they reach the client as one
// batch.
type translator struct {
	mimeType    string
	calls       []live.ToolCall
	responding  bool
	interrupted bool
}

func newTranslator() *translator {
	return &translator{mimeType: tools.Format{SampleRate: SampleRate, Channels: 1}.MimeType()}
}

func (t *translator) frames(ev *ServerEvent) ([]live.Frame, error) {
	switch p := ev.Param.(type) {
	case *ServerEventParamDelta:
		switch ev.Type {
		case ServerEventTypeResponseOutputAudioDelta:
			data, err := base64.StdEncoding.DecodeString(p.Delta)
			if err != nil {
				return nil, fmt.Errorf("decoding audio delta: %w", err)
			}
			t.responding = true
			return []live.Frame{{Event: &live.ModelAudioPart{
				Chunk: live.AudioChunk{Data: data, MimeType: t.mimeType},
			}}}, nil
		case ServerEventTypeResponseOutputAudioTranscriptDelta:
			return []live.Frame{{Event: &live.OutputTranscriptionDelta{Text: p.Delta}}}, nil
		case ServerEventTypeConversationItemInputAudioTranscriptionDelta:
			return []live.Frame{{Event: &live.InputTranscriptionDelta{Text: p.Delta}}}, nil
		}
	case *ServerEventParamSpeechStarted:
		if !t.responding || t.interrupted {
			return nil, nil
		}
		t.interrupted = true
		return []live.Frame{{Event: &live.TurnBoundary{Reason: live.BoundaryInterrupted}}}, nil
	case *ServerEventParamTranscriptDone:
		// closes the transcript line of this reply
		return []live.Frame{{Event: &live.OutputTranscriptionDelta{Text: "\n"}}}, nil
	case *ServerEventParamOutputItemDone:
		if p.ItemType != "function_call" {
			return nil, nil
		}
		args := map[string]any{}
		if p.Arguments != "" {
			if err := sonic.UnmarshalString(p.Arguments, &args); err != nil {
				return nil, fmt.Errorf("decoding arguments of %s: %w", p.Name, err)
			}
		}
		t.calls = append(t.calls, live.ToolCall{ID: p.CallId, Name: p.Name, Args: args})
		return nil, nil
	case *ServerEventParamResponseDone:
		// A completed response ends the turn without a boundary: its audio
		// arrives faster than real time and is still queued for playback.
		var frames []live.Frame
		if len(t.calls) > 0 {
			frames = append(frames, live.Frame{Event: &live.ToolCallBatch{Calls: t.calls}})
			t.calls = nil
		} else if !t.interrupted && p.Status == "cancelled" && t.responding {
			frames = append(frames, live.Frame{Event: &live.TurnBoundary{Reason: live.BoundaryInterrupted}})
		}
		t.responding = false
		t.interrupted = false
		return append(frames, live.Frame{EndOfTurn: true}), nil
	}
	return nil, nil
}

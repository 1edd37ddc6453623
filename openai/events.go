package openai

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

type ServerEventType string

type ClientEventType string

// Server event types the session consumes. Everything else is skipped.
const (
	ServerEventTypeError                                        ServerEventType = "error"
	ServerEventTypeSessionCreated                               ServerEventType = "session.created"
	ServerEventTypeSessionUpdated                               ServerEventType = "session.updated"
	ServerEventTypeInputAudioBufferSpeechStarted                ServerEventType = "input_audio_buffer.speech_started"
	ServerEventTypeConversationItemInputAudioTranscriptionDelta ServerEventType = "conversation.item.input_audio_transcription.delta"
	ServerEventTypeResponseOutputAudioDelta                     ServerEventType = "response.output_audio.delta"
	ServerEventTypeResponseOutputAudioTranscriptDelta           ServerEventType = "response.output_audio_transcript.delta"
	ServerEventTypeResponseOutputAudioTranscriptDone            ServerEventType = "response.output_audio_transcript.done"
	ServerEventTypeResponseOutputItemDone                       ServerEventType = "response.output_item.done"
	ServerEventTypeResponseDone                                 ServerEventType = "response.done"
)

const (
	ClientEventTypeSessionUpdate          ClientEventType = "session.update"
	ClientEventTypeInputAudioBufferAppend ClientEventType = "input_audio_buffer.append"
	ClientEventTypeConversationItemCreate ClientEventType = "conversation.item.create"
	ClientEventTypeResponseCreate         ClientEventType = "response.create"
)

var errUnhandledEvent = errors.New("unhandled event type")

type EventParam interface {
	New(map[string]any) error
}

type ServerEvent struct {
	EventId string
	Type    ServerEventType
	Param   EventParam
}

// UnmarshalJSON decodes the envelope and the parameters of known event types.
// Unknown types decode the envelope only and report errUnhandledEvent.
func (e *ServerEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["event_id"].(string); ok {
		e.EventId = v
		delete(raw, "event_id")
	} else {
		return errors.New("missing event_id")
	}
	if v, ok := raw["type"].(string); ok {
		e.Type = ServerEventType(v)
		delete(raw, "type")
	} else {
		return errors.New("missing type")
	}
	switch e.Type {
	case ServerEventTypeError:
		e.Param = new(ServerEventParamError)
	case ServerEventTypeSessionCreated, ServerEventTypeSessionUpdated:
		e.Param = new(ServerEventParamSession)
	case ServerEventTypeInputAudioBufferSpeechStarted:
		e.Param = new(ServerEventParamSpeechStarted)
	case ServerEventTypeConversationItemInputAudioTranscriptionDelta,
		ServerEventTypeResponseOutputAudioDelta,
		ServerEventTypeResponseOutputAudioTranscriptDelta:
		e.Param = new(ServerEventParamDelta)
	case ServerEventTypeResponseOutputAudioTranscriptDone:
		e.Param = new(ServerEventParamTranscriptDone)
	case ServerEventTypeResponseOutputItemDone:
		e.Param = new(ServerEventParamOutputItemDone)
	case ServerEventTypeResponseDone:
		e.Param = new(ServerEventParamResponseDone)
	default:
		return fmt.Errorf("%w: %s", errUnhandledEvent, e.Type)
	}
	if err := e.Param.New(raw); err != nil {
		return fmt.Errorf("decoding %s: %w", e.Type, err)
	}
	return nil
}

// error
type ServerEventParamError struct {
	Type    string
	Code    string
	Message string
}

func (p *ServerEventParamError) New(m map[string]any) error {
	errObj, ok := m["error"].(map[string]any)
	if !ok {
		return errors.New("missing error")
	}
	if v, ok := errObj["type"].(string); ok {
		p.Type = v
	} else {
		return errors.New("missing error.type")
	}
	if v, ok := errObj["message"].(string); ok {
		p.Message = v
	} else {
		return errors.New("missing error.message")
	}
	// code is null for some error types
	p.Code, _ = errObj["code"].(string)
	return nil
}

// session.created, session.updated
type ServerEventParamSession struct {
	Model string
}

func (p *ServerEventParamSession) New(m map[string]any) error {
	session, ok := m["session"].(map[string]any)
	if !ok {
		return errors.New("missing session")
	}
	p.Model, _ = session["model"].(string)
	return nil
}

// input_audio_buffer.speech_started
type ServerEventParamSpeechStarted struct {
	ItemId       string
	AudioStartMs int
}

func (p *ServerEventParamSpeechStarted) New(m map[string]any) error {
	if v, ok := m["item_id"].(string); ok {
		p.ItemId = v
	} else {
		return errors.New("missing item_id")
	}
	if v, ok := asInt(m["audio_start_ms"]); ok {
		p.AudioStartMs = v
	}
	return nil
}

// response.output_audio.delta, response.output_audio_transcript.delta,
// conversation.item.input_audio_transcription.delta
type ServerEventParamDelta struct {
	ItemId string
	Delta  string
}

func (p *ServerEventParamDelta) New(m map[string]any) error {
	if v, ok := m["item_id"].(string); ok {
		p.ItemId = v
	} else {
		return errors.New("missing item_id")
	}
	if v, ok := m["delta"].(string); ok {
		p.Delta = v
	} else {
		return errors.New("missing delta")
	}
	return nil
}

// response.output_audio_transcript.done
type ServerEventParamTranscriptDone struct {
	ItemId     string
	Transcript string
}

func (p *ServerEventParamTranscriptDone) New(m map[string]any) error {
	if v, ok := m["item_id"].(string); ok {
		p.ItemId = v
	} else {
		return errors.New("missing item_id")
	}
	p.Transcript, _ = m["transcript"].(string)
	return nil
}

// response.output_item.done
type ServerEventParamOutputItemDone struct {
	ResponseId string
	ItemType   string
	CallId     string
	Name       string
	Arguments  string
}

func (p *ServerEventParamOutputItemDone) New(m map[string]any) error {
	if v, ok := m["response_id"].(string); ok {
		p.ResponseId = v
	} else {
		return errors.New("missing response_id")
	}
	item, ok := m["item"].(map[string]any)
	if !ok {
		return errors.New("missing item")
	}
	if v, ok := item["type"].(string); ok {
		p.ItemType = v
	} else {
		return errors.New("missing item.type")
	}
	if p.ItemType != "function_call" {
		return nil
	}
	if v, ok := item["call_id"].(string); ok {
		p.CallId = v
	} else {
		return errors.New("missing item.call_id")
	}
	if v, ok := item["name"].(string); ok {
		p.Name = v
	} else {
		return errors.New("missing item.name")
	}
	p.Arguments, _ = item["arguments"].(string)
	return nil
}

// response.done
type ServerEventParamResponseDone struct {
	ResponseId string
	Status     string
}

func (p *ServerEventParamResponseDone) New(m map[string]any) error {
	resp, ok := m["response"].(map[string]any)
	if !ok {
		return errors.New("missing response")
	}
	if v, ok := resp["id"].(string); ok {
		p.ResponseId = v
	} else {
		return errors.New("missing response.id")
	}
	if v, ok := resp["status"].(string); ok {
		p.Status = v
	} else {
		return errors.New("missing response.status")
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

type ClientEvent struct {
	EventId string
	Type    ClientEventType
	Param   map[string]any
}

func NewClientEvent(t ClientEventType, param map[string]any) *ClientEvent {
	return &ClientEvent{
		EventId: "evt_" + uuid.NewString(),
		Type:    t,
		Param:   param,
	}
}

func (e *ClientEvent) MarshalJSON() ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	resp := map[string]any{}
	for k, v := range e.Param {
		resp[k] = v
	}
	if e.EventId != "" {
		resp["event_id"] = e.EventId
	}
	resp["type"] = e.Type
	return sonic.Marshal(resp)
}

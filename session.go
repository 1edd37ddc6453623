package live

import (
	"context"
	"io"

	"github.com/bt-bridge/gemini-live/tools"
	"github.com/invopop/jsonschema"
)

type Modality string

const (
	ModalityAudio Modality = "audio"
	ModalityText  Modality = "text"
)

// FunctionDeclaration advertises a registered function to the model.
type FunctionDeclaration struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Parameters  *jsonschema.Schema `yaml:"parameters"`
}

// Config is the capability descriptor sent when a session is opened.
type Config struct {
	ResponseModalities       []Modality            `yaml:"response_modalities"`
	SystemInstruction        string                `yaml:"system_instruction"`
	OutputAudioTranscription bool                  `yaml:"output_audio_transcription"`
	InputAudioTranscription  bool                  `yaml:"input_audio_transcription"`
	Functions                []FunctionDeclaration `yaml:"functions"`
	WebSearch                bool                  `yaml:"web_search"`
}

// NewConfig returns the usual voice configuration: audio out, both
// transcriptions on, every function of registry declared.
func NewConfig(systemInstruction string, registry *Registry, webSearch bool) Config {
	cfg := Config{
		ResponseModalities:       []Modality{ModalityAudio},
		SystemInstruction:        systemInstruction,
		OutputAudioTranscription: true,
		InputAudioTranscription:  true,
		WebSearch:                webSearch,
	}
	if registry != nil {
		cfg.Functions = registry.Declarations()
	}
	return cfg
}

// Connector opens sessions with a remote model.
type Connector interface {
	Connect(ctx context.Context, model string, cfg Config) (Session, error)
}

// Session is a live bidirectional connection. SendAudio and
// SendToolResponses may be called concurrently with NextTurn.
type Session interface {
	SendAudio(ctx context.Context, chunk AudioChunk) error
	// NextTurn blocks until the server starts another turn. It returns io.EOF
	// once the server has ended the session.
	NextTurn(ctx context.Context) (Turn, error)
	SendToolResponses(ctx context.Context, responses []ToolResponse) error
	Close() error
}

// Turn yields the events of one server response cycle in arrival order.
// NextEvent returns io.EOF when the turn is over.
type Turn interface {
	NextEvent(ctx context.Context) (ResponseEvent, error)
}

// AudioDevice is the host's microphone and speaker. Reads from the input
// stream and writes to the output stream may block; closing a stream must
// unblock them.
type AudioDevice interface {
	OpenInput(format tools.Format, frameSize int) (io.ReadCloser, error)
	OpenOutput(format tools.Format) (io.WriteCloser, error)
	Close() error
}

// TranscriptSink receives what the conversation should show to the user.
type TranscriptSink interface {
	ToolCall(call ToolCall)
	OutputText(text string)
	InputText(text string)
	EndTurn(reason BoundaryReason)
}

type nopTranscript struct{}

func (nopTranscript) ToolCall(ToolCall) {}
func (nopTranscript) OutputText(string) {}
func (nopTranscript) InputText(string) {}
func (nopTranscript) EndTurn(BoundaryReason) {}

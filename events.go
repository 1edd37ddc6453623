package live

import (
	"go.uber.org/zap"
)

// AudioChunk is an immutable slice of PCM audio tagged with its MIME type.
type AudioChunk struct {
	Data     []byte
	MimeType string
}

type EventKind string

const (
	EventKindToolCallBatch       EventKind = "tool_call_batch"
	EventKindModelAudio          EventKind = "model_audio"
	EventKindOutputTranscription EventKind = "output_transcription"
	EventKindInputTranscription  EventKind = "input_transcription"
	EventKindTurnBoundary        EventKind = "turn_boundary"
)

// ResponseEvent is one server event inside a turn. The concrete types are
// *ToolCallBatch, *ModelAudioPart, *OutputTranscriptionDelta,
// *InputTranscriptionDelta and *TurnBoundary.
type ResponseEvent interface {
	Kind() EventKind
	// Fields describes the event for structured logs.
	Fields() []zap.Field
}

// ToolCall is the model asking the host to run a registered function.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResponse answers the ToolCall with the same ID.
type ToolResponse struct {
	ID     string
	Name   string
	Result string
}

type ToolCallBatch struct {
	Calls []ToolCall
}

func (e *ToolCallBatch) Kind() EventKind { return EventKindToolCallBatch }

func (e *ToolCallBatch) Fields() []zap.Field {
	names := make([]string, 0, len(e.Calls))
	for _, call := range e.Calls {
		names = append(names, call.Name)
	}
	return []zap.Field{zap.Strings("functions", names)}
}

type ModelAudioPart struct {
	Chunk AudioChunk
}

func (e *ModelAudioPart) Kind() EventKind { return EventKindModelAudio }

func (e *ModelAudioPart) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("bytes", len(e.Chunk.Data)),
		zap.String("mimeType", e.Chunk.MimeType),
	}
}

// OutputTranscriptionDelta is a piece of the transcript of the model's speech.
type OutputTranscriptionDelta struct {
	Text string
}

func (e *OutputTranscriptionDelta) Kind() EventKind { return EventKindOutputTranscription }

func (e *OutputTranscriptionDelta) Fields() []zap.Field {
	return []zap.Field{zap.String("text", e.Text)}
}

// InputTranscriptionDelta is a piece of the transcript of the user's speech.
type InputTranscriptionDelta struct {
	Text string
}

func (e *InputTranscriptionDelta) Kind() EventKind { return EventKindInputTranscription }

func (e *InputTranscriptionDelta) Fields() []zap.Field {
	return []zap.Field{zap.String("text", e.Text)}
}

type BoundaryReason string

const (
	BoundaryGenerationComplete BoundaryReason = "generation_complete"
	BoundaryInterrupted        BoundaryReason = "interrupted"
)

type TurnBoundary struct {
	Reason BoundaryReason
}

func (e *TurnBoundary) Kind() EventKind { return EventKindTurnBoundary }

func (e *TurnBoundary) Fields() []zap.Field {
	return []zap.Field{zap.String("reason", string(e.Reason))}
}

package gemini

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	live "github.com/bt-bridge/gemini-live"
	"github.com/bt-bridge/gemini-live/shared"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func testRegistry(t *testing.T) *live.Registry {
	t.Helper()
	registry, err := live.NewRegistry(shared.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, registry.Register(
		live.NewFunction("get_feels_like_celsius", "Feels-like temperature",
			func(context.Context, struct {
				City string `json:"city"`
			}) (string, error) {
				return "18", nil
			}),
	))
	return registry
}

func TestConnectConfig(t *testing.T) {
	cfg := live.NewConfig("answer briefly", testRegistry(t), true)
	conf := ConnectConfig(cfg)

	assert.Equal(t, []genai.Modality{genai.ModalityAudio}, conf.ResponseModalities)
	require.NotNil(t, conf.SystemInstruction)
	require.Len(t, conf.SystemInstruction.Parts, 1)
	assert.Equal(t, "answer briefly", conf.SystemInstruction.Parts[0].Text)
	assert.NotNil(t, conf.InputAudioTranscription)
	assert.NotNil(t, conf.OutputAudioTranscription)

	require.Len(t, conf.Tools, 2)
	require.Len(t, conf.Tools[0].FunctionDeclarations, 1)
	decl := conf.Tools[0].FunctionDeclarations[0]
	assert.Equal(t, "get_feels_like_celsius", decl.Name)
	assert.NotNil(t, decl.ParametersJsonSchema)
	assert.NotNil(t, conf.Tools[1].GoogleSearch)
}

func TestConnectConfigMinimal(t *testing.T) {
	conf := ConnectConfig(live.Config{ResponseModalities: []live.Modality{live.ModalityText}})
	assert.Equal(t, []genai.Modality{genai.ModalityText}, conf.ResponseModalities)
	assert.Nil(t, conf.SystemInstruction)
	assert.Nil(t, conf.InputAudioTranscription)
	assert.Nil(t, conf.OutputAudioTranscription)
	assert.Empty(t, conf.Tools)
}

func TestMessageFramesToolCall(t *testing.T) {
	frames := messageFrames(&genai.LiveServerMessage{
		ToolCall: &genai.LiveServerToolCall{FunctionCalls: []*genai.FunctionCall{
			{ID: "a", Name: "get_current_city_name"},
			nil,
			{ID: "b", Name: "get_feels_like_celsius", Args: map[string]any{"city": "Taipei"}},
		}},
	})
	require.Len(t, frames, 1)
	batch, ok := frames[0].Event.(*live.ToolCallBatch)
	require.True(t, ok)
	require.Len(t, batch.Calls, 2)
	assert.Equal(t, "a", batch.Calls[0].ID)
	assert.Equal(t, "b", batch.Calls[1].ID)
	assert.Equal(t, "Taipei", batch.Calls[1].Args["city"])
	assert.False(t, frames[0].EndOfTurn)
}

func TestMessageFramesServerContent(t *testing.T) {
	frames := messageFrames(&genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{Data: []byte{1, 2}, MIMEType: "audio/pcm;rate=24000"}},
				{Text: "thinking"},
				{InlineData: &genai.Blob{}},
			}},
			OutputTranscription: &genai.Transcription{Text: "Hi"},
			InputTranscription:  &genai.Transcription{Text: "Hello"},
			GenerationComplete:  true,
			TurnComplete:        true,
		},
	})
	require.Len(t, frames, 5)

	audio, ok := frames[0].Event.(*live.ModelAudioPart)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2}, audio.Chunk.Data)
	assert.Equal(t, "audio/pcm;rate=24000", audio.Chunk.MimeType)
	assert.Equal(t, &live.OutputTranscriptionDelta{Text: "Hi"}, frames[1].Event)
	assert.Equal(t, &live.InputTranscriptionDelta{Text: "Hello"}, frames[2].Event)
	assert.Equal(t, &live.TurnBoundary{Reason: live.BoundaryGenerationComplete}, frames[3].Event)
	assert.Equal(t, live.Frame{EndOfTurn: true}, frames[4])
}

func TestMessageFramesInterruptedEndsTurn(t *testing.T) {
	frames := messageFrames(&genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{Interrupted: true},
	})
	require.Len(t, frames, 2)
	assert.Equal(t, &live.TurnBoundary{Reason: live.BoundaryInterrupted}, frames[0].Event)
	assert.True(t, frames[1].EndOfTurn)

	assert.Empty(t, messageFrames(&genai.LiveServerMessage{}))
	assert.Nil(t, messageFrames(nil))
}

func TestMessageFramesThroughTurnStream(t *testing.T) {
	msgs := []*genai.LiveServerMessage{
		{ServerContent: &genai.LiveServerContent{ModelTurn: &genai.Content{Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: []byte{1}}},
		}}}},
		{ServerContent: &genai.LiveServerContent{Interrupted: true}},
		{ServerContent: &genai.LiveServerContent{OutputTranscription: &genai.Transcription{Text: "next"}}},
		{ServerContent: &genai.LiveServerContent{TurnComplete: true}},
	}
	frames := make(chan live.Frame, 16)
	for _, msg := range msgs {
		for _, f := range messageFrames(msg) {
			frames <- f
		}
	}
	close(frames)

	ctx := context.Background()
	stream := live.NewTurnStream(frames)

	turn, err := stream.NextTurn(ctx)
	require.NoError(t, err)
	var kinds []live.EventKind
	for {
		ev, err := turn.NextEvent(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		kinds = append(kinds, ev.Kind())
	}
	assert.Equal(t, []live.EventKind{live.EventKindModelAudio, live.EventKindTurnBoundary}, kinds)

	turn, err = stream.NextTurn(ctx)
	require.NoError(t, err)
	ev, err := turn.NextEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, &live.OutputTranscriptionDelta{Text: "next"}, ev)
	_, err = turn.NextEvent(ctx)
	assert.ErrorIs(t, err, io.EOF)

	_, err = stream.NextTurn(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

// stalledServer accepts a live session, reads the setup message and then
// stops reading, so client writes eventually block on a full socket.
func stalledServer(t *testing.T) string {
	t.Helper()
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSendAudioReturnsOnCancelWhileStalled(t *testing.T) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      "test-key",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: stalledServer(t), APIVersion: "v1beta"},
	})
	require.NoError(t, err)
	conn, err := client.Live.Connect(ctx, "test-model", ConnectConfig(live.Config{}))
	require.NoError(t, err)
	session := newSession(shared.NewNopLogger(), conn)
	defer session.Close()

	sendCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		chunk := live.AudioChunk{Data: make([]byte, 1<<20), MimeType: "audio/pcm;rate=16000"}
		for {
			if err := session.SendAudio(sendCtx, chunk); err != nil {
				done <- err
				return
			}
		}
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("SendAudio did not return after cancellation")
	}
}

package live

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bt-bridge/gemini-live/shared"
	"go.uber.org/zap"
)

// flusher is implemented by output streams that buffer audio device side.
type flusher interface {
	Flush()
}

// offload runs a blocking device call on its own goroutine so the caller can
// return as soon as ctx is done. The call keeps running until the device is
// closed.
func offload(ctx context.Context, fn func() error) error {
	errC := make(chan error, 1)
	go func() {
		errC <- fn()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errC:
		return err
	}
}

// capture reads fixed-size frames from the microphone into the mic queue. A
// full queue blocks the loop.
func (c *Client) capture(ctx context.Context, in io.Reader) error {
	frameBytes := c.opts.Input.FrameBytes(c.opts.FrameSize)
	mimeType := c.opts.Input.MimeType()
	for {
		frame := make([]byte, frameBytes)
		err := offload(ctx, func() error {
			_, err := io.ReadFull(in, frame)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return shared.ErrInputEnded
			}
			return fmt.Errorf("reading microphone frame: %w", err)
		}
		if err := c.mic.Put(ctx, AudioChunk{Data: frame, MimeType: mimeType}); err != nil {
			return err
		}
	}
}

// send forwards mic chunks to the session in capture order.
func (c *Client) send(ctx context.Context, session Session) error {
	for {
		chunk, err := c.mic.Get(ctx)
		if err != nil {
			return err
		}
		if err := session.SendAudio(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("sending audio: %w", err)
		}
		c.metrics.chunksSent.Add(ctx, 1)
	}
}

// receive consumes turns until the session ends.
func (c *Client) receive(ctx context.Context, session Session, out io.Writer) error {
	for {
		turn, err := session.NextTurn(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return shared.ErrSessionEnded
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receiving turn: %w", err)
		}
		if err := c.processTurn(ctx, session, turn, out); err != nil {
			return err
		}
	}
}

// processTurn demultiplexes one turn. Model audio is queued for playback as it
// arrives; if the turn produced audio and ended on a boundary, whatever is
// still queued is stale and gets dropped.
func (c *Client) processTurn(ctx context.Context, session Session, turn Turn, out io.Writer) error {
	var (
		gotAudio    bool
		gotBoundary bool
	)
	for {
		event, err := turn.NextEvent(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receiving event: %w", err)
		}
		c.logger.Trace("received event", append(event.Fields(), zap.String("kind", string(event.Kind())))...)

		switch e := event.(type) {
		case *ToolCallBatch:
			for _, call := range e.Calls {
				c.sink.ToolCall(call)
			}
			responses := c.registry.DispatchBatch(ctx, e.Calls)
			if err := session.SendToolResponses(ctx, responses); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("sending tool responses: %w", err)
			}
		case *ModelAudioPart:
			if len(e.Chunk.Data) == 0 {
				continue
			}
			if err := c.speaker.Put(ctx, e.Chunk); err != nil {
				return err
			}
			gotAudio = true
		case *OutputTranscriptionDelta:
			c.sink.OutputText(e.Text)
		case *InputTranscriptionDelta:
			c.sink.InputText(e.Text)
		case *TurnBoundary:
			gotBoundary = true
			c.sink.EndTurn(e.Reason)
		default:
			c.logger.Warn("ignoring unknown event", zap.String("kind", string(event.Kind())))
		}
	}

	if gotAudio && gotBoundary {
		n := c.speaker.Flush()
		if f, ok := out.(flusher); ok {
			f.Flush()
		}
		c.metrics.flushes.Add(ctx, 1)
		c.metrics.flushedAudio.Add(ctx, int64(n))
		c.logger.Debug("playback queue flushed", zap.Int("chunks", n))
	}
	return nil
}

// playback writes queued model audio to the speaker.
func (c *Client) playback(ctx context.Context, out io.Writer) error {
	for {
		chunk, err := c.speaker.Get(ctx)
		if err != nil {
			return err
		}
		err = offload(ctx, func() error {
			_, err := out.Write(chunk.Data)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("writing speaker audio: %w", err)
		}
		c.metrics.chunksPlayed.Add(ctx, 1)
		c.logger.Trace("played chunk", zap.Duration("duration", c.opts.Output.Duration(len(chunk.Data))))
	}
}

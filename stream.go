package live

import (
	"context"
	"errors"
	"io"
)

// Frame is what transport pumps push into a TurnStream: an event, an end of
// turn marker, or both. A frame with Err set terminates the stream.
type Frame struct {
	Event     ResponseEvent
	EndOfTurn bool
	Err       error
}

// TurnStream splits the flat frame channel of a transport into turns. It has a
// single consumer, the receive path, and needs no locking.
type TurnStream struct {
	frames  <-chan Frame
	head    *Frame
	err     error
	current *streamTurn
}

// NewTurnStream reads frames until the channel is closed, which ends the
// session with io.EOF.
func NewTurnStream(frames <-chan Frame) *TurnStream {
	return &TurnStream{frames: frames}
}

// NextTurn skips whatever is left of the previous turn and blocks until the
// first frame of the next one arrives.
func (s *TurnStream) NextTurn(ctx context.Context) (Turn, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.current != nil && !s.current.done {
		for {
			if _, err := s.current.NextEvent(ctx); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return nil, err
			}
		}
		if s.err != nil {
			return nil, s.err
		}
	}
	f, err := s.next(ctx)
	if err != nil {
		return nil, err
	}
	s.head = &f
	s.current = &streamTurn{stream: s}
	return s.current, nil
}

func (s *TurnStream) next(ctx context.Context) (Frame, error) {
	if s.head != nil {
		f := *s.head
		s.head = nil
		return f, nil
	}
	if s.err != nil {
		return Frame{}, s.err
	}
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case f, ok := <-s.frames:
		if !ok {
			s.err = io.EOF
			return Frame{}, io.EOF
		}
		if f.Err != nil {
			s.err = f.Err
			return Frame{}, f.Err
		}
		return f, nil
	}
}

type streamTurn struct {
	stream     *TurnStream
	pendingEnd bool
	done       bool
}

func (t *streamTurn) NextEvent(ctx context.Context) (ResponseEvent, error) {
	for {
		if t.done {
			return nil, io.EOF
		}
		if t.pendingEnd {
			t.done = true
			return nil, io.EOF
		}
		f, err := t.stream.next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// the session ended mid turn; NextTurn reports it
				t.done = true
			}
			return nil, err
		}
		if f.EndOfTurn {
			t.pendingEnd = true
		}
		if f.Event != nil {
			return f.Event, nil
		}
	}
}

package shared

import "errors"

var (
	ErrNoLogger             = errors.New("no logger provided")
	ErrNoConfig             = errors.New("no config provided")
	ErrNoAPIKey             = errors.New("no API key provided")
	ErrNoModel              = errors.New("no model provided")
	ErrNoConnector          = errors.New("no connector provided")
	ErrNoDevice             = errors.New("no audio device provided")
	ErrNoRegistry           = errors.New("no function registry provided")
	ErrNoTranscriptSink     = errors.New("no transcript sink provided")
	ErrClientAlreadyRunning = errors.New("client already running")
	ErrSessionClosed        = errors.New("session closed")
	ErrSessionEnded         = errors.New("session ended by remote")
	ErrInputEnded           = errors.New("input stream ended")
	ErrQueueClosed          = errors.New("queue closed")
	ErrUnknownBackend       = errors.New("unknown backend")
	ErrFunctionExists       = errors.New("function already registered")
)

package live

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/bt-bridge/gemini-live"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
)

type clientMetrics struct {
	chunksSent   metric.Int64Counter
	chunksPlayed metric.Int64Counter
	flushes      metric.Int64Counter
	flushedAudio metric.Int64Counter
}

func newClientMetrics() (*clientMetrics, error) {
	var (
		m   clientMetrics
		err error
	)
	if m.chunksSent, err = meter.Int64Counter("live.mic.chunks_sent",
		metric.WithDescription("Microphone chunks sent to the session")); err != nil {
		return nil, err
	}
	if m.chunksPlayed, err = meter.Int64Counter("live.playback.chunks_played",
		metric.WithDescription("Model audio chunks written to the speaker")); err != nil {
		return nil, err
	}
	if m.flushes, err = meter.Int64Counter("live.playback.flushes",
		metric.WithDescription("Barge-in flushes of the playback queue")); err != nil {
		return nil, err
	}
	if m.flushedAudio, err = meter.Int64Counter("live.playback.flushed_chunks",
		metric.WithDescription("Chunks discarded by barge-in flushes")); err != nil {
		return nil, err
	}
	return &m, nil
}

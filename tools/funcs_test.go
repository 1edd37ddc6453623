package tools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	mic := Format{SampleRate: 16000, Channels: 1}
	assert.NoError(t, mic.Validate())
	assert.Equal(t, 2, mic.BytesPerFrame())
	assert.Equal(t, 2048, mic.FrameBytes(1024))
	assert.Equal(t, 32000, mic.BytesPerSecond())
	assert.Equal(t, "audio/pcm;rate=16000", mic.MimeType())
	assert.Equal(t, 64*time.Millisecond, mic.Duration(2048))

	speaker := Format{SampleRate: 24000, Channels: 2}
	assert.Equal(t, 4, speaker.BytesPerFrame())
	assert.Equal(t, time.Second, speaker.Duration(96000))

	assert.Error(t, Format{SampleRate: 0, Channels: 1}.Validate())
	assert.Error(t, Format{SampleRate: 16000}.Validate())
	assert.Zero(t, Format{}.Duration(100))
}

func TestFrameSamples(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		rate     int
		channels int
		expected int
	}{
		{name: "mic frame at 16kHz", duration: 64 * time.Millisecond, rate: 16000, channels: 1, expected: 1024},
		{name: "speaker frame at 24kHz", duration: 20 * time.Millisecond, rate: 24000, channels: 1, expected: 480},
		{name: "stereo counts both channels", duration: 100 * time.Millisecond, rate: 24000, channels: 2, expected: 4800},
		{name: "zero duration", duration: 0, rate: 16000, channels: 1, expected: 0},
		{name: "zero channels", duration: time.Second, rate: 16000, channels: 0, expected: 0},
		{name: "zero rate", duration: time.Second, rate: 0, channels: 1, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FrameSamples(tt.duration, tt.rate, tt.channels))
		})
	}
}

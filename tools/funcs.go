package tools

import (
	"fmt"
	"time"
)

// BytesPerSample is fixed: every stream in this module is signed 16-bit
// little-endian PCM.
const BytesPerSample = 2

// Format describes an interleaved S16LE PCM stream.
type Format struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("invalid channel count %d", f.Channels)
	}
	return nil
}

func (f Format) BytesPerFrame() int {
	return f.Channels * BytesPerSample
}

// FrameBytes is the byte length of n sample frames.
func (f Format) FrameBytes(n int) int {
	return n * f.BytesPerFrame()
}

func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BytesPerFrame()
}

// MimeType is the tag attached to chunks captured in this format.
func (f Format) MimeType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// Duration of a PCM payload of the given length.
func (f Format) Duration(byteLen int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(byteLen) * time.Second / time.Duration(bps)
}

func FrameSamples(duration time.Duration, rate, channels int) int {
	return int(duration.Seconds() * float64(channels) * float64(rate))
}

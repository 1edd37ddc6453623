package tools

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bt-bridge/gemini-live/shared"
	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

const (
	// captureBufferSeconds bounds how much microphone audio the driver
	// callback may queue ahead of the reader before the oldest is dropped.
	captureBufferSeconds = 2
	// playbackBufferTime is how far ahead of the speaker a writer may get
	// before Write blocks.
	playbackBufferTime = 200 * time.Millisecond
	otoBufferTime      = 100 * time.Millisecond
)

// AudioBuffer is a byte FIFO shared between a driver callback and a reader.
type AudioBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buffer []byte
	cap    int
	closed bool
}

func NewAudioBuffer(fixedCap int) *AudioBuffer {
	ab := &AudioBuffer{
		buffer: make([]byte, 0, fixedCap),
		cap:    fixedCap,
	}
	ab.cond = sync.NewCond(&ab.mu)
	return ab
}

// Write never blocks: on overflow the oldest bytes are dropped.
func (ab *AudioBuffer) Write(data []byte) (dropped int) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	if ab.closed {
		return len(data)
	}
	if over := len(ab.buffer) + len(data) - ab.cap; over > 0 {
		if over > len(ab.buffer) {
			// data alone exceeds the capacity, keep its tail
			dropped = len(ab.buffer) + len(data) - ab.cap
			data = data[len(data)-ab.cap:]
			ab.buffer = ab.buffer[:0]
		} else {
			ab.buffer = ab.buffer[over:]
			dropped = over
		}
	}
	ab.buffer = append(ab.buffer, data...)
	ab.cond.Broadcast()
	return dropped
}

// WriteWait blocks until data fits below the capacity. An empty buffer always
// accepts, so a single oversized write cannot deadlock.
func (ab *AudioBuffer) WriteWait(data []byte) error {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	for !ab.closed && len(ab.buffer) > 0 && len(ab.buffer)+len(data) > ab.cap {
		ab.cond.Wait()
	}
	if ab.closed {
		return io.ErrClosedPipe
	}
	ab.buffer = append(ab.buffer, data...)
	ab.cond.Broadcast()
	return nil
}

// Read blocks until data is available. It returns io.EOF once the buffer is
// closed and drained.
func (ab *AudioBuffer) Read(p []byte) (n int, err error) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	for len(ab.buffer) == 0 {
		if ab.closed {
			return 0, io.EOF
		}
		ab.cond.Wait()
	}
	n = copy(p, ab.buffer)
	ab.buffer = ab.buffer[n:]
	ab.cond.Broadcast()
	return n, nil
}

func (ab *AudioBuffer) Len() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return len(ab.buffer)
}

// Flush drops everything buffered and returns the number of bytes dropped.
func (ab *AudioBuffer) Flush() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	n := len(ab.buffer)
	ab.buffer = ab.buffer[:0]
	ab.cond.Broadcast()
	return n
}

func (ab *AudioBuffer) Close() {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	ab.closed = true
	ab.cond.Broadcast()
}

// Device is the host audio device: malgo for capture, oto for playback.
type Device struct {
	logger shared.LoggerAdapter

	mu      sync.Mutex
	malgo   *malgo.AllocatedContext
	speaker *oto.Context
	closed  bool
}

func NewDevice(logger shared.LoggerAdapter) (*Device, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	logger = logger.With(zap.String("component", "audio-device"))
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime
	mctx, err := malgo.InitContext(nil, cfg, func(message string) {
		logger.Trace("malgo", zap.String("message", message))
	})
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}
	return &Device{logger: logger, malgo: mctx}, nil
}

// OpenInput starts the default capture device. frameSize is the period size
// in sample frames.
func (d *Device) OpenInput(format Format, frameSize int) (io.ReadCloser, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("audio device closed")
	}

	buf := NewAudioBuffer(format.BytesPerSecond() * captureBufferSeconds)
	bytesPerFrame := format.BytesPerFrame()

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.PeriodSizeInFrames = uint32(frameSize)
	cfg.Alsa.NoMMap = 1

	logger := d.logger
	device, err := malgo.InitDevice(d.malgo.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(pInput) < n {
				return
			}
			if dropped := buf.Write(pInput[:n]); dropped > 0 {
				logger.Warn("capture buffer dropped data", zap.Int("droppedBytes", dropped))
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("initializing capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("starting capture device: %w", err)
	}
	d.logger.Info("capture device started",
		zap.Int("sampleRate", format.SampleRate),
		zap.Int("channels", format.Channels),
		zap.Int("frameSize", frameSize),
	)
	return &captureStream{device: device, buf: buf}, nil
}

// OpenOutput starts a speaker stream. oto allows one context per process, so
// the first format opened wins.
func (d *Device) OpenOutput(format Format) (io.WriteCloser, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("audio device closed")
	}
	if d.speaker == nil {
		otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   otoBufferTime,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing playback context: %w", err)
		}
		<-ready
		d.speaker = otoCtx
	}
	highWater := int(playbackBufferTime.Seconds() * float64(format.BytesPerSecond()))
	buf := NewAudioBuffer(highWater)
	player := d.speaker.NewPlayer(buf)
	player.Play()
	d.logger.Info("playback device started",
		zap.Int("sampleRate", format.SampleRate),
		zap.Int("channels", format.Channels),
	)
	return &playbackStream{player: player, buf: buf}, nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	var errs []error
	if d.speaker != nil {
		if err := d.speaker.Suspend(); err != nil {
			errs = append(errs, fmt.Errorf("suspending playback context: %w", err))
		}
	}
	if d.malgo != nil {
		if err := d.malgo.Uninit(); err != nil {
			errs = append(errs, fmt.Errorf("uninitializing audio context: %w", err))
		}
		d.malgo.Free()
		d.malgo = nil
	}
	d.logger.Info("audio device released")
	return errors.Join(errs...)
}

type captureStream struct {
	device *malgo.Device
	buf    *AudioBuffer
	once   sync.Once
}

func (s *captureStream) Read(p []byte) (int, error) {
	return s.buf.Read(p)
}

func (s *captureStream) Close() error {
	s.once.Do(func() {
		s.buf.Close()
		_ = s.device.Stop()
		s.device.Uninit()
	})
	return nil
}

type playbackStream struct {
	player *oto.Player
	buf    *AudioBuffer
	once   sync.Once
	err    error
}

// Write returns once p is handed to the speaker buffer, which keeps the
// writer at most playbackBufferTime ahead of what is audible.
func (s *playbackStream) Write(p []byte) (int, error) {
	if err := s.buf.WriteWait(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush drops audio that was written but not yet played.
func (s *playbackStream) Flush() {
	s.buf.Flush()
}

func (s *playbackStream) Close() error {
	s.once.Do(func() {
		s.buf.Close()
		s.err = s.player.Close()
	})
	return s.err
}

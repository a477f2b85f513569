// Package portaudio implements the audio device contracts against real
// hardware: microphone input through PortAudio and question-audio output
// through PortAudio fed by an MP3 decoder.
//
// Capture runs mono PCM-16. The input stream continuously measures RMS
// amplitude for voice-activity detection and, while encoding is active,
// buffers the same samples into a WAV clip.
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/parley-labs/parley/pkg/audio"
)

// framesPerBuffer is the read granularity. 1024 frames is ~64 ms at 16 kHz,
// well under the sampler cadence.
const framesPerBuffer = 1024

// Device opens the default input device for capture.
type Device struct {
	sampleRate int
}

var _ audio.Device = (*Device)(nil)

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithSampleRate overrides the capture sample rate. Default 16000 Hz, the
// native rate of most speech-to-text services.
func WithSampleRate(hz int) DeviceOption {
	return func(d *Device) {
		if hz > 0 {
			d.sampleRate = hz
		}
	}
}

// NewDevice creates a Device.
func NewDevice(opts ...DeviceOption) *Device {
	d := &Device{sampleRate: 16000}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open implements [audio.Device]. Each open stream holds its own PortAudio
// initialization; the library reference-counts Initialize/Terminate pairs.
func (d *Device) Open(ctx context.Context) (audio.Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", audio.ErrDeviceUnavailable)
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil || dev.MaxInputChannels < 1 {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("no default input device: %w", audio.ErrDeviceUnavailable)
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(d.sampleRate),
		FramesPerBuffer: framesPerBuffer,
	}

	buf := make([]float32, framesPerBuffer)
	pa, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", classifyOpenErr(err))
	}
	if err := pa.Start(); err != nil {
		_ = pa.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", classifyOpenErr(err))
	}

	s := &stream{
		pa:         pa,
		buf:        buf,
		sampleRate: d.sampleRate,
		done:       make(chan struct{}),
	}
	go s.readLoop()

	slog.Info("microphone opened", "device", dev.Name, "sample_rate", d.sampleRate)
	return s, nil
}

// classifyOpenErr maps PortAudio failures onto the device sentinels. Host
// APIs report OS permission refusals with varying messages; anything
// mentioning permission or access maps to [audio.ErrPermissionDenied].
func classifyOpenErr(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "access") {
		return audio.ErrPermissionDenied
	}
	return audio.ErrDeviceUnavailable
}

// stream is an open microphone handle. The readLoop goroutine owns the
// PortAudio stream; Level and StopEncoding only read the shared snapshot.
type stream struct {
	pa         *portaudio.Stream
	buf        []float32
	sampleRate int
	done       chan struct{}

	mu       sync.Mutex
	level    float64
	lost     bool
	encoding bool
	samples  []int16
	closed   bool
}

var _ audio.Stream = (*stream)(nil)

func (s *stream) readLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.pa.Read(); err != nil {
			s.mu.Lock()
			closed := s.closed
			s.lost = true
			s.mu.Unlock()
			if !closed {
				slog.Warn("microphone read failed", "err", err)
			}
			return
		}

		level := rms(s.buf)

		s.mu.Lock()
		s.level = level
		if s.encoding {
			for _, f := range s.buf {
				s.samples = append(s.samples, pcm16(f))
			}
		}
		s.mu.Unlock()
	}
}

// Level implements [audio.Stream].
func (s *stream) Level() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lost && !s.closed {
		return 0, audio.ErrDeviceLost
	}
	return s.level, nil
}

// StartEncoding implements [audio.Stream].
func (s *stream) StartEncoding() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lost {
		return audio.ErrDeviceLost
	}
	s.encoding = true
	s.samples = s.samples[:0]
	return nil
}

// StopEncoding implements [audio.Stream].
func (s *stream) StopEncoding() (*audio.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.encoding {
		return nil, nil
	}
	s.encoding = false
	if len(s.samples) == 0 {
		return nil, nil
	}

	data, err := encodeWAV(s.samples, s.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("encode clip: %w", err)
	}
	clip := &audio.Clip{
		Data:     data,
		MIMEType: "audio/wav",
		Duration: pcmDuration(len(s.samples), s.sampleRate),
	}
	s.samples = nil
	return clip, nil
}

// Close implements [audio.Stream].
func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	_ = s.pa.Stop()
	_ = s.pa.Close()
	_ = portaudio.Terminate()
	return nil
}

// rms is the root-mean-square amplitude of one buffer, clamped to [0, 1].
func rms(buf []float32) float64 {
	if len(buf) == 0 {
		return 0
	}
	var sum float64
	for _, f := range buf {
		sum += float64(f) * float64(f)
	}
	return math.Min(math.Sqrt(sum/float64(len(buf))), 1)
}

// pcm16 converts a float32 sample in [-1, 1] to PCM-16.
func pcm16(f float32) int16 {
	v := float64(f)
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * math.MaxInt16)
}

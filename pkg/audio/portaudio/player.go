package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	mp3 "github.com/hajimehoshi/go-mp3"

	"github.com/parley-labs/parley/pkg/audio"
)

// maxAudioBytes bounds a fetched question recording. Interview prompts run
// well under a minute of MP3.
const maxAudioBytes = 16 << 20

// Player fetches question audio over HTTP, decodes the MP3, and plays it on
// the default output device.
type Player struct {
	hc      *http.Client
	resolve func(ref string) string
}

var _ audio.Player = (*Player)(nil)

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithPlayerHTTPClient overrides the HTTP client used to fetch audio. The
// default has a 30 s timeout.
func WithPlayerHTTPClient(hc *http.Client) PlayerOption {
	return func(p *Player) {
		if hc != nil {
			p.hc = hc
		}
	}
}

// NewPlayer creates a Player. resolve turns a question's audio reference
// into a fetchable URL (typically [interview.Client.ResolveAudioRef]); nil
// means references are used as-is.
func NewPlayer(resolve func(string) string, opts ...PlayerOption) *Player {
	p := &Player{
		hc:      &http.Client{Timeout: 30 * time.Second},
		resolve: resolve,
	}
	if p.resolve == nil {
		p.resolve = func(ref string) string { return ref }
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start implements [audio.Player]. The audio is fetched and decoded in full
// before the first frame sounds; decode failures surface here rather than
// mid-playback.
func (p *Player) Start(ctx context.Context, ref string) (audio.Playback, error) {
	url := p.resolve(ref)
	data, err := p.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode question audio: %w", err)
	}
	pcm, err := io.ReadAll(io.LimitReader(dec, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("decode question audio: %w", err)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", audio.ErrPlaybackBlocked)
	}

	// go-mp3 always emits 16-bit little-endian stereo at the decoder's rate.
	out := make([]int16, framesPerBuffer*2)
	stream, err := portaudio.OpenDefaultStream(0, 2, float64(dec.SampleRate()), framesPerBuffer, out)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open output stream: %w", audio.ErrPlaybackBlocked)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start output stream: %w", audio.ErrPlaybackBlocked)
	}

	pb := &playbackHandle{
		stream: stream,
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go pb.pump(pcm, out)

	slog.Debug("question playback started", "ref", ref, "sample_rate", dec.SampleRate(), "bytes", len(pcm))
	return pb, nil
}

func (p *Player) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build audio request: %w", err)
	}
	resp, err := p.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch question audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch question audio: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch question audio: %w", err)
	}
	return data, nil
}

// playbackHandle is one active output session.
type playbackHandle struct {
	stream *portaudio.Stream
	done   chan struct{}
	stop   chan struct{}

	stopOnce sync.Once
	doneOnce sync.Once

	mu  sync.Mutex
	err error
}

var _ audio.Playback = (*playbackHandle)(nil)

// pump writes decoded PCM to the output stream until the data runs out or
// Stop is called, then releases the device.
func (pb *playbackHandle) pump(pcm []byte, out []int16) {
	defer pb.finish()

	for off := 0; off < len(pcm); {
		select {
		case <-pb.stop:
			return
		default:
		}

		n := copyFrames(out, pcm[off:])
		if n == 0 {
			// Fewer than two bytes left: no full sample to write.
			return
		}
		off += n * 2

		if err := pb.stream.Write(); err != nil {
			pb.mu.Lock()
			pb.err = fmt.Errorf("playback write: %w", err)
			pb.mu.Unlock()
			return
		}
	}
}

// copyFrames fills out from the little-endian PCM bytes, zero-padding the
// tail buffer, and returns the number of int16 values consumed.
func copyFrames(out []int16, pcm []byte) int {
	n := len(pcm) / 2
	if n > len(out) {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	return n
}

func (pb *playbackHandle) finish() {
	pb.doneOnce.Do(func() {
		_ = pb.stream.Stop()
		_ = pb.stream.Close()
		_ = portaudio.Terminate()
		close(pb.done)
	})
}

// Done implements [audio.Playback].
func (pb *playbackHandle) Done() <-chan struct{} { return pb.done }

// Err implements [audio.Playback].
func (pb *playbackHandle) Err() error {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.err
}

// Stop implements [audio.Playback].
func (pb *playbackHandle) Stop() error {
	pb.stopOnce.Do(func() { close(pb.stop) })
	<-pb.done
	return nil
}

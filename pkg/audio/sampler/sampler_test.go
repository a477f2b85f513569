package sampler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parley-labs/parley/pkg/audio"
	audiomock "github.com/parley-labs/parley/pkg/audio/mock"
	"github.com/parley-labs/parley/pkg/audio/sampler"
)

func TestStart_EmitsSamples(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{Levels: []float64{0.1, 0.2, 0.3}}
	s := sampler.New(dev, sampler.WithInterval(time.Millisecond))
	t.Cleanup(s.Stop)

	ch, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	var got []float64
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case sm, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed early; samples so far: %v (err: %v)", got, s.Err())
			}
			if sm.Level < 0 || sm.Level > 1 {
				t.Fatalf("sample level out of range: %v", sm.Level)
			}
			if sm.At.IsZero() {
				t.Fatal("sample missing timestamp")
			}
			got = append(got, sm.Level)
		case <-timeout:
			t.Fatalf("timed out waiting for samples; got %v", got)
		}
	}
}

func TestStart_PermissionDenied(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{OpenErr: audio.ErrPermissionDenied}
	s := sampler.New(dev)

	if _, err := s.Start(context.Background()); !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Start: want ErrPermissionDenied, got %v", err)
	}
}

// TestDeviceLost verifies the sequence terminates with a DeviceLost
// condition instead of silently yielding zeros.
func TestDeviceLost(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{
		Levels:   []float64{0.1},
		LevelErr: audio.ErrDeviceLost,
	}
	s := sampler.New(dev, sampler.WithInterval(time.Millisecond))

	ch, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				if got := s.Err(); !errors.Is(got, audio.ErrDeviceLost) {
					t.Fatalf("Err: want ErrDeviceLost, got %v", got)
				}
				if dev.OpenStreams() != 0 {
					t.Fatalf("device still held after loss: %d streams", dev.OpenStreams())
				}
				return
			}
		case <-timeout:
			t.Fatal("channel never closed after device loss")
		}
	}
}

// TestStop_ReleasesDevice verifies Stop closes the channel and the stream,
// and is idempotent.
func TestStop_ReleasesDevice(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{Levels: []float64{0.5}}
	s := sampler.New(dev, sampler.WithInterval(time.Millisecond))

	ch, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.Stop()
	s.Stop() // safe to repeat, including during teardown

	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				if dev.OpenStreams() != 0 {
					t.Fatalf("device still held after Stop: %d streams", dev.OpenStreams())
				}
				if s.Err() != nil {
					t.Errorf("Err after clean Stop: want nil, got %v", s.Err())
				}
				return
			}
		case <-timeout:
			t.Fatal("channel never closed after Stop")
		}
	}
}

func TestStop_BeforeStart(t *testing.T) {
	t.Parallel()

	s := sampler.New(&audiomock.Device{})
	s.Stop() // must not panic
}

// TestStream_TracksRunningState verifies the shared stream is exposed only
// while the sampler is armed.
func TestStream_TracksRunningState(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{Levels: []float64{0.5}}
	s := sampler.New(dev, sampler.WithInterval(time.Millisecond))

	if s.Stream() != nil {
		t.Error("Stream before Start: want nil")
	}
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Stream() == nil {
		t.Error("Stream while running: want the open stream, got nil")
	}
	s.Stop()
	if s.Stream() != nil {
		t.Error("Stream after Stop: want nil")
	}
}

// TestStart_SecondStartRefused verifies the sampler holds a single stream.
func TestStart_SecondStartRefused(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{Levels: []float64{0.5}}
	s := sampler.New(dev, sampler.WithInterval(time.Millisecond))
	t.Cleanup(s.Stop)

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Start(context.Background()); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("second Start: want ErrDeviceUnavailable, got %v", err)
	}
}

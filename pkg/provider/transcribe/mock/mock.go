// Package mock provides a scripted [transcribe.Provider] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/parley-labs/parley/pkg/provider/transcribe"
)

// Provider is a scripted transcription backend. Successive Transcribe calls
// consume the Texts script; Errs lets individual calls fail. Safe for
// concurrent use.
type Provider struct {
	// Texts is the scripted sequence of transcription results. When
	// exhausted, the last entry is repeated (empty string if none).
	Texts []string

	// Errs maps call index → error.
	Errs map[int]error

	// Block, when non-nil, is received from before each call returns,
	// letting tests hold a transcription in flight.
	Block chan struct{}

	mu    sync.Mutex
	idx   int
	Calls []*transcribe.Clip // clips received, in order
}

var _ transcribe.Provider = (*Provider)(nil)

// Transcribe implements [transcribe.Provider].
func (p *Provider) Transcribe(ctx context.Context, clip *transcribe.Clip) (string, error) {
	p.mu.Lock()
	idx := p.idx
	p.idx++
	p.Calls = append(p.Calls, clip)
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if err, ok := p.Errs[idx]; ok {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Texts) == 0 {
		return "", nil
	}
	if idx >= len(p.Texts) {
		return p.Texts[len(p.Texts)-1], nil
	}
	return p.Texts[idx], nil
}

// CallCount returns the number of Transcribe calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

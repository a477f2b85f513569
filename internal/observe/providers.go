package observe

import (
	"context"
	"time"

	"github.com/parley-labs/parley/pkg/provider/interview"
	"github.com/parley-labs/parley/pkg/provider/transcribe"
)

// InstrumentTranscriber wraps p so every transcription round-trip is recorded
// to [Metrics.TranscriptionDuration].
func InstrumentTranscriber(p transcribe.Provider, m *Metrics) transcribe.Provider {
	return &instrumentedTranscriber{next: p, m: m}
}

type instrumentedTranscriber struct {
	next transcribe.Provider
	m    *Metrics
}

func (t *instrumentedTranscriber) Transcribe(ctx context.Context, clip *transcribe.Clip) (string, error) {
	start := time.Now()
	text, err := t.next.Transcribe(ctx, clip)
	t.m.RecordTranscription(ctx, time.Since(start), statusOf(err))
	return text, err
}

// InstrumentSubmitter wraps s so every answer submission is recorded to
// [Metrics.SubmissionDuration] and [Metrics.AnswersSubmitted].
func InstrumentSubmitter(s interview.Submitter, m *Metrics) interview.Submitter {
	return &instrumentedSubmitter{next: s, m: m}
}

type instrumentedSubmitter struct {
	next interview.Submitter
	m    *Metrics
}

func (i *instrumentedSubmitter) SubmitAnswer(ctx context.Context, sessionID, transcript string) (interview.SubmitResult, error) {
	start := time.Now()
	res, err := i.next.SubmitAnswer(ctx, sessionID, transcript)
	i.m.RecordSubmission(ctx, time.Since(start), statusOf(err))
	return res, err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

package tts

import (
	"context"
	"strings"
	"sync"
)

// Model is an in-process voice. Generate must return promptly once ctx is
// done. It is not assumed to be safe for concurrent use.
type Model interface {
	Generate(ctx context.Context, text string) ([]float32, int, error)
}

// InProcess serializes calls into a Model and maps its outcome onto
// SynthesisError reasons.
type InProcess struct {
	mu    sync.Mutex
	model Model
}

func NewInProcess(m Model) *InProcess { return &InProcess{model: m} }

func (s *InProcess) Synthesize(ctx context.Context, text string) ([]float32, int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, 0, &SynthesisError{Reason: ReasonEmpty}
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, &SynthesisError{Reason: ctxReason(err), Err: err}
	}

	s.mu.Lock()
	samples, rate, err := s.model.Generate(ctx, text)
	s.mu.Unlock()

	if cerr := ctx.Err(); cerr != nil {
		return nil, 0, &SynthesisError{Reason: ctxReason(cerr), Err: cerr}
	}
	if err != nil {
		return nil, 0, &SynthesisError{Reason: ReasonProcess, Err: err}
	}
	if len(samples) == 0 {
		return nil, 0, &SynthesisError{Reason: ReasonEmpty}
	}
	return samples, rate, nil
}

// Package tts adapts speech synthesizers to the engine's Synthesize
// contract: text in, mono float32 samples and their rate out.
package tts

import (
	"context"
	"errors"
	"fmt"
)

// Reason classifies a synthesis failure.
type Reason string

const (
	ReasonMissingAsset Reason = "missing_asset"
	ReasonTimeout      Reason = "timeout"
	ReasonProcess      Reason = "process"
	ReasonDecode       Reason = "decode"
	ReasonEmpty        Reason = "empty"
)

// SynthesisError is returned by every backend in this package.
type SynthesisError struct {
	Reason Reason
	Err    error
}

func (e *SynthesisError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("tts: %s", e.Reason)
	}
	return fmt.Sprintf("tts: %s: %v", e.Reason, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// IsReason reports whether err is a SynthesisError with the given reason.
func IsReason(err error, r Reason) bool {
	var serr *SynthesisError
	return errors.As(err, &serr) && serr.Reason == r
}

// Synthesizer is the backend contract.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]float32, int, error)
}

func ctxReason(err error) Reason {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonProcess
}

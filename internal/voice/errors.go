package voice

import (
	"errors"
	"fmt"
)

var (
	// ErrRecognizerUnavailable means the streaming recognizer could not be
	// built after the configured attempts. Voice input is disabled.
	ErrRecognizerUnavailable = errors.New("voice: recognizer unavailable")

	// ErrQueueClosed is returned when submitting to a closed speech queue.
	ErrQueueClosed = errors.New("voice: speech queue closed")

	// ErrInputDisabled is returned by Trigger while the engine is text-only.
	ErrInputDisabled = errors.New("voice: input disabled")
)

// DeviceError reports an audio device that could not be opened or was lost.
type DeviceError struct {
	Op     string // "open" or "read"
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("voice: %s device %q: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// RecognitionError is a transient recognizer failure. It is logged and
// absorbed, never surfaced to the host.
type RecognitionError struct {
	Err error
}

func (e *RecognitionError) Error() string { return "voice: recognition: " + e.Err.Error() }

func (e *RecognitionError) Unwrap() error { return e.Err }

// EngineStateError is returned by an operation that is invalid in the
// engine's current phase.
type EngineStateError struct {
	Op    string
	Phase Phase
}

func (e *EngineStateError) Error() string {
	return fmt.Sprintf("voice: %s not allowed while engine is %s", e.Op, e.Phase)
}

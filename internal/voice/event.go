package voice

import "time"

// EventKind tags a CommandEvent.
type EventKind int

const (
	WakeDetected EventKind = iota + 1
	SleepDetected
	Command
	Timeout
)

func (k EventKind) String() string {
	switch k {
	case WakeDetected:
		return "wake"
	case SleepDetected:
		return "sleep"
	case Command:
		return "command"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// CommandEvent is delivered to the host in generation order. Text is set
// only for Command.
type CommandEvent struct {
	Kind EventKind
	Text string
	At   time.Time
}

// RecognitionResult is one recognizer hypothesis. Confidence is zero when
// the backend does not report one.
type RecognitionResult struct {
	Text       string
	Confidence float64
}

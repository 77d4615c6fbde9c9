package voice

// VoiceState is the wake/sleep state owned by the detector goroutine.
type VoiceState int

const (
	Idle VoiceState = iota
	Listening
	ActiveCommand
	// Cooldown is reserved; no transition leads to it.
	Cooldown
)

func (s VoiceState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case ActiveCommand:
		return "active_command"
	case Cooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

var legalTransitions = map[VoiceState][]VoiceState{
	Idle:          {Listening},
	Listening:     {ActiveCommand, Idle},
	ActiveCommand: {Idle, Listening},
}

// CanTransition reports whether s -> to is a legal edge.
func (s VoiceState) CanTransition(to VoiceState) bool {
	for _, next := range legalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Phase is the engine lifecycle.
type Phase int

const (
	NotStarted Phase = iota
	Running
	Stopping
	Stopped
)

func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

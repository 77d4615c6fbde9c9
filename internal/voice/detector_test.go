package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type detectorHarness struct {
	t      *testing.T
	det    *Detector
	rec    *scriptedRecognizer
	tr     *staticTranscriber
	events chan CommandEvent
	loud   chan bool
	manual chan struct{}
	cancel context.CancelFunc
	done   chan error

	mu          sync.Mutex
	transitions []VoiceState
}

func testDetectorConfig() DetectorConfig {
	return DetectorConfig{
		SampleRate:       testRate,
		Wake:             PhraseSet{Phrases: []string{"aegis"}},
		Sleep:            PhraseSet{Phrases: []string{"descansar"}},
		WakeSleepTimeout: 5 * time.Second,
		TickInterval:     10 * time.Millisecond,
		Command: CommandConfig{
			Timeout:         300 * time.Millisecond,
			MaxPhrase:       2 * time.Second,
			Silence:         60 * time.Millisecond,
			SpeechThreshold: 0.05,
		},
	}
}

func startDetector(t *testing.T, cfg DetectorConfig) *detectorHarness {
	t.Helper()
	h := &detectorHarness{
		t:      t,
		rec:    newScriptedRecognizer(),
		tr:     &staticTranscriber{},
		events: make(chan CommandEvent, 16),
		loud:   make(chan bool, 1),
		done:   make(chan error, 1),
	}
	frames := make(chan AudioFrame, 4)
	h.det = NewDetector(cfg, func() (StreamingRecognizer, error) { return h.rec, nil },
		h.tr, frames, h.events, nil)
	h.manual = make(chan struct{}, 1)
	h.det.Manual = h.manual
	h.det.OnTransition = func(_, to VoiceState) {
		h.mu.Lock()
		h.transitions = append(h.transitions, to)
		h.mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	// frame source: silence unless switched to loud
	go func() {
		loud := false
		for {
			select {
			case loud = <-h.loud:
			default:
			}
			f := silentFrame()
			if loud {
				f = loudFrame()
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()
	go func() { h.done <- h.det.Run(ctx) }()

	t.Cleanup(h.stop)
	return h
}

func (h *detectorHarness) stop() {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		h.t.Error("detector did not stop")
	}
}

func (h *detectorHarness) say(text string) { h.rec.hyps <- text }

// speak drives the command capture with a burst of loud frames.
func (h *detectorHarness) speak(d time.Duration) {
	h.loud <- true
	time.Sleep(d)
	h.loud <- false
}

func (h *detectorHarness) next() CommandEvent {
	h.t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(2 * time.Second):
		h.t.Fatal("no event")
		return CommandEvent{}
	}
}

func (h *detectorHarness) quiet(d time.Duration) {
	h.t.Helper()
	select {
	case ev := <-h.events:
		h.t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(d):
	}
}

func (h *detectorHarness) states() []VoiceState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]VoiceState(nil), h.transitions...)
}

func TestDetectorWakeTimeoutSleepScenario(t *testing.T) {
	cfg := testDetectorConfig()
	cfg.WakeSleepTimeout = 600 * time.Millisecond
	cfg.Command.Timeout = 200 * time.Millisecond
	h := startDetector(t, cfg)
	h.tr.set("descansar")

	h.say("aegis")
	wake := h.next()
	assert.Equal(t, WakeDetected, wake.Kind)

	// nobody speaks after the wake word: the silent capture gives up but
	// Idle only follows the inactivity window
	timeout := h.next()
	assert.Equal(t, Timeout, timeout.Kind)
	assert.GreaterOrEqual(t, timeout.At.Sub(wake.At), cfg.WakeSleepTimeout)
	h.quiet(200 * time.Millisecond)

	h.say("aegis")
	assert.Equal(t, WakeDetected, h.next().Kind)
	h.speak(100 * time.Millisecond)
	assert.Equal(t, SleepDetected, h.next().Kind)
	h.quiet(100 * time.Millisecond)

	assert.Equal(t, []VoiceState{Listening, Idle, Listening, ActiveCommand, Idle}, h.states())
}

func TestDetectorSilentCaptureKeepsListening(t *testing.T) {
	cfg := testDetectorConfig()
	cfg.Command.Timeout = 100 * time.Millisecond
	h := startDetector(t, cfg)

	h.say("aegis")
	require.Equal(t, WakeDetected, h.next().Kind)
	h.quiet(250 * time.Millisecond)
	assert.Equal(t, []VoiceState{Listening}, h.states())

	// wake/sleep recognition is back once the capture has given up
	h.say("descansar")
	assert.Equal(t, SleepDetected, h.next().Kind)
	assert.Equal(t, []VoiceState{Listening, Idle}, h.states())
}

func TestDetectorOnsetWaitBoundedByInactivity(t *testing.T) {
	cfg := testDetectorConfig()
	cfg.WakeSleepTimeout = 300 * time.Millisecond
	cfg.Command.Timeout = 5 * time.Second
	h := startDetector(t, cfg)

	h.say("aegis")
	wake := h.next()
	require.Equal(t, WakeDetected, wake.Kind)

	timeout := h.next()
	require.Equal(t, Timeout, timeout.Kind)
	elapsed := timeout.At.Sub(wake.At)
	assert.GreaterOrEqual(t, elapsed, cfg.WakeSleepTimeout)
	assert.Less(t, elapsed, 1500*time.Millisecond)
	assert.Equal(t, []VoiceState{Listening, Idle}, h.states())
}

func TestDetectorCommandThenInactivity(t *testing.T) {
	cfg := testDetectorConfig()
	cfg.WakeSleepTimeout = 200 * time.Millisecond
	h := startDetector(t, cfg)
	h.tr.set("  que horas são  ")

	h.say("aegis")
	assert.Equal(t, WakeDetected, h.next().Kind)
	h.speak(80 * time.Millisecond)

	ev := h.next()
	require.Equal(t, Command, ev.Kind)
	assert.Equal(t, "que horas são", ev.Text)
	assert.False(t, ev.At.IsZero())

	assert.Equal(t, Timeout, h.next().Kind)
	h.quiet(400 * time.Millisecond)

	assert.Equal(t, []VoiceState{Listening, ActiveCommand, Listening, Idle}, h.states())
}

func TestDetectorEmptyTranscriptIsTimeout(t *testing.T) {
	h := startDetector(t, testDetectorConfig())
	h.tr.set("   ")

	h.say("aegis")
	assert.Equal(t, WakeDetected, h.next().Kind)
	h.speak(80 * time.Millisecond)
	assert.Equal(t, Timeout, h.next().Kind)

	assert.Equal(t, []VoiceState{Listening, ActiveCommand, Listening}, h.states())
}

func TestDetectorTranscriptionErrorIsTimeout(t *testing.T) {
	h := startDetector(t, testDetectorConfig())
	h.tr.err = errors.New("model crashed")

	h.say("aegis")
	assert.Equal(t, WakeDetected, h.next().Kind)
	h.speak(80 * time.Millisecond)
	assert.Equal(t, Timeout, h.next().Kind)
}

func TestDetectorIgnoresSleepWhileIdle(t *testing.T) {
	h := startDetector(t, testDetectorConfig())

	h.say("descansar")
	h.say("hello there")
	h.quiet(150 * time.Millisecond)
	assert.Empty(t, h.states())
}

func TestDetectorFollowUpCommand(t *testing.T) {
	cfg := testDetectorConfig()
	cfg.WakeSleepTimeout = 2 * time.Second
	h := startDetector(t, cfg)
	h.tr.set("first")

	h.say("aegis")
	require.Equal(t, WakeDetected, h.next().Kind)
	h.speak(80 * time.Millisecond)
	require.Equal(t, Command, h.next().Kind)

	// a hypothesis while listening is re-transcribed as a command
	h.tr.set("second")
	h.say("turn on the lights")
	ev := h.next()
	require.Equal(t, Command, ev.Kind)
	assert.Equal(t, "second", ev.Text)

	h.say("descansar")
	assert.Equal(t, SleepDetected, h.next().Kind)
}

func TestDetectorActiveCommandOnlyAfterWake(t *testing.T) {
	h := startDetector(t, testDetectorConfig())
	h.tr.set("something")

	// speech without a wake word never reaches command capture
	h.speak(80 * time.Millisecond)
	h.say("something")
	h.quiet(150 * time.Millisecond)

	h.say("aegis")
	require.Equal(t, WakeDetected, h.next().Kind)
	h.speak(80 * time.Millisecond)
	require.Equal(t, Command, h.next().Kind)

	prev := Idle
	for _, s := range h.states() {
		assert.True(t, prev.CanTransition(s), "%s -> %s", prev, s)
		prev = s
	}
	assert.Equal(t, Listening, h.states()[0])
}

func TestDetectorRecognizerUnavailable(t *testing.T) {
	cfg := testDetectorConfig()
	cfg.RecognizerAttempts = 2
	cfg.RecognizerBackoff = time.Millisecond
	calls := 0
	det := NewDetector(cfg, func() (StreamingRecognizer, error) {
		calls++
		return nil, errors.New("model missing")
	}, &staticTranscriber{}, make(chan AudioFrame), make(chan CommandEvent), nil)

	err := det.Run(context.Background())
	assert.ErrorIs(t, err, ErrRecognizerUnavailable)
	assert.Equal(t, 2, calls)
}

func TestDetectorManualTrigger(t *testing.T) {
	h := startDetector(t, testDetectorConfig())
	h.tr.set("ligar a luz")

	h.manual <- struct{}{}
	assert.Equal(t, WakeDetected, h.next().Kind)
	h.speak(80 * time.Millisecond)

	ev := h.next()
	require.Equal(t, Command, ev.Kind)
	assert.Equal(t, "ligar a luz", ev.Text)
}

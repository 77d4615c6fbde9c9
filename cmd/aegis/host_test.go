package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/config"
	"aegis/internal/ipc"
	"aegis/internal/voice"
)

type spoken struct {
	text     string
	cue      bool
	priority voice.Priority
}

type fakeEngine struct {
	mu       sync.Mutex
	said     []spoken
	state    voice.VoiceState
	events   chan voice.CommandEvent
	triggers int
	retryErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{state: voice.Listening, events: make(chan voice.CommandEvent, 8)}
}

func (f *fakeEngine) Speak(text string, p voice.Priority) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if text == "" {
		return uuid.Nil, nil
	}
	f.said = append(f.said, spoken{text: text, priority: p})
	return uuid.New(), nil
}

func (f *fakeEngine) PlayCue(_ voice.Clip, p voice.Priority) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said = append(f.said, spoken{cue: true, priority: p})
	return uuid.New(), nil
}

func (f *fakeEngine) Trigger() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
	return nil
}

func (f *fakeEngine) RetryInput(context.Context) error { return f.retryErr }
func (f *fakeEngine) Events() <-chan voice.CommandEvent { return f.events }
func (f *fakeEngine) Phase() voice.Phase { return voice.Running }
func (f *fakeEngine) State() voice.VoiceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
func (f *fakeEngine) TextOnly() bool { return false }
func (f *fakeEngine) Speaking() bool { return true }
func (f *fakeEngine) Pending() int { return 2 }

func (f *fakeEngine) history() []spoken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]spoken(nil), f.said...)
}

type fakeGenerator struct {
	reply string
	err   error
	bg    chan string
}

func (g *fakeGenerator) Generate(_ context.Context, query, background string) (string, error) {
	if g.bg != nil {
		g.bg <- background
	}
	if g.err != nil {
		return "", g.err
	}
	return g.reply + " " + query, nil
}

func testSpeech() config.SpeechConfig {
	return config.SpeechConfig{WakeReply: "ouvindo", SleepReply: "espera", FailureNotice: "falhou"}
}

func TestHostWakePlaysCueThenReply(t *testing.T) {
	eng := newFakeEngine()
	h := newHost(eng, &fakeGenerator{}, testSpeech())
	h.cue = &voice.Clip{Samples: []float32{0}, SampleRate: 16000}

	h.dispatch(voice.CommandEvent{Kind: voice.WakeDetected})

	assert.Equal(t, []spoken{
		{cue: true, priority: voice.Immediate},
		{text: "ouvindo", priority: voice.Immediate},
	}, eng.history())
}

func TestHostSleepAndTimeout(t *testing.T) {
	eng := newFakeEngine()
	h := newHost(eng, &fakeGenerator{}, testSpeech())

	h.dispatch(voice.CommandEvent{Kind: voice.SleepDetected})
	h.dispatch(voice.CommandEvent{Kind: voice.Timeout}) // still Listening
	eng.state = voice.Idle
	h.dispatch(voice.CommandEvent{Kind: voice.Timeout})

	assert.Equal(t, []spoken{
		{text: "espera", priority: voice.Immediate},
		{text: "espera", priority: voice.Normal},
	}, eng.history())
}

func TestHostPublishesEveryEvent(t *testing.T) {
	eng := newFakeEngine()
	h := newHost(eng, &fakeGenerator{}, testSpeech())
	var kinds []voice.EventKind
	h.publish = func(ev voice.CommandEvent) { kinds = append(kinds, ev.Kind) }

	h.dispatch(voice.CommandEvent{Kind: voice.WakeDetected})
	h.dispatch(voice.CommandEvent{Kind: voice.Command, Text: "oi"})
	h.dispatch(voice.CommandEvent{Kind: voice.SleepDetected})

	assert.Equal(t, []voice.EventKind{voice.WakeDetected, voice.Command, voice.SleepDetected}, kinds)
}

func TestHostAnswersCommands(t *testing.T) {
	eng := newFakeEngine()
	gen := &fakeGenerator{reply: "resposta:", bg: make(chan string, 1)}
	h := newHost(eng, gen, testSpeech())
	h.now = func() time.Time { return time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 2)
	go func() { done <- h.run(ctx) }()
	go func() { done <- h.respond(ctx) }()

	eng.events <- voice.CommandEvent{Kind: voice.Command, Text: "que horas são"}

	require.Eventually(t, func() bool { return len(eng.history()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, spoken{text: "resposta: que horas são", priority: voice.Normal}, eng.history()[0])
	assert.Contains(t, <-gen.bg, "10:30")

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, <-done)
}

func TestHostSpeaksFailureNotice(t *testing.T) {
	eng := newFakeEngine()
	h := newHost(eng, &fakeGenerator{err: errors.New("boom")}, testSpeech())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.respond(ctx)

	h.dispatch(voice.CommandEvent{Kind: voice.Command, Text: "x"})
	require.Eventually(t, func() bool { return len(eng.history()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "falhou", eng.history()[0].text)
}

func TestHostRunEndsWhenEventsClose(t *testing.T) {
	eng := newFakeEngine()
	h := newHost(eng, &fakeGenerator{}, testSpeech())
	close(eng.events)
	assert.NoError(t, h.run(context.Background()))
}

func TestControl(t *testing.T) {
	eng := newFakeEngine()
	h := newHost(eng, &fakeGenerator{}, testSpeech())
	stopped := false
	h.stop = func() { stopped = true }
	ctx := context.Background()

	r := h.control(ctx, ipc.ControlMessage{Cmd: ipc.CmdSpeak, Text: "olá"})
	assert.True(t, r.OK)
	assert.NotEmpty(t, r.ID)

	r = h.control(ctx, ipc.ControlMessage{Cmd: ipc.CmdSayNow, Text: "agora"})
	assert.True(t, r.OK)
	assert.Equal(t, voice.Immediate, eng.history()[1].priority)

	r = h.control(ctx, ipc.ControlMessage{Cmd: ipc.CmdSpeak})
	assert.True(t, r.OK)
	assert.Empty(t, r.ID)

	r = h.control(ctx, ipc.ControlMessage{Cmd: ipc.CmdTrigger})
	assert.True(t, r.OK)
	assert.Equal(t, 1, eng.triggers)

	eng.retryErr = errors.New("no device")
	r = h.control(ctx, ipc.ControlMessage{Cmd: ipc.CmdRetry})
	assert.False(t, r.OK)
	assert.Equal(t, "no device", r.Error)

	r = h.control(ctx, ipc.ControlMessage{Cmd: ipc.CmdStatus})
	require.NotNil(t, r.Status)
	assert.Equal(t, voice.Running.String(), r.Status.Phase)
	assert.Equal(t, voice.Listening.String(), r.Status.State)
	assert.True(t, r.Status.Speaking)
	assert.Equal(t, 2, r.Status.Pending)

	r = h.control(ctx, ipc.ControlMessage{Cmd: ipc.CmdStop})
	assert.True(t, r.OK)
	assert.True(t, stopped)

	r = h.control(ctx, ipc.ControlMessage{Cmd: "dance"})
	assert.False(t, r.OK)
	assert.Contains(t, r.Error, "dance")
}

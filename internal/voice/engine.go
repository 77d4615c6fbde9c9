package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"aegis/internal/observe"
)

// Config holds the engine tunables. Zero values fall back to defaults.
type Config struct {
	SampleRate     int
	BlockSize      int
	FrameQueueSize int
	EventBuffer    int

	Wake  PhraseSet
	Sleep PhraseSet

	WakeSleepTimeout time.Duration
	TickInterval     time.Duration
	Command          CommandConfig
	CalibrateBlocks  int

	RecognizerAttempts int
	RecognizerBackoff  time.Duration

	SynthesisTimeout time.Duration
	JoinTimeout      time.Duration

	// Transform is applied to text passed to Speak before it is queued.
	Transform func(string) string
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.BlockSize <= 0 {
		c.BlockSize = 8000
	}
	if c.FrameQueueSize <= 0 {
		c.FrameQueueSize = 32
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 16
	}
	if c.WakeSleepTimeout <= 0 {
		c.WakeSleepTimeout = 30 * time.Second
	}
	if c.Command.MaxPhrase <= 0 {
		c.Command.MaxPhrase = 10 * time.Second
	}
	if c.Command.Silence <= 0 {
		c.Command.Silence = 800 * time.Millisecond
	}
	if c.Command.SpeechThreshold <= 0 {
		c.Command.SpeechThreshold = 0.015
	}
	if c.RecognizerAttempts <= 0 {
		c.RecognizerAttempts = 3
	}
	if c.RecognizerBackoff <= 0 {
		c.RecognizerBackoff = time.Second
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = 30 * time.Second
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 5 * time.Second
	}
}

// Deps are the engine's collaborators. A nil Microphone, NewRecognizer or
// Transcriber starts the engine text-only.
type Deps struct {
	Microphone    Microphone
	NewRecognizer RecognizerFactory
	Transcriber   Transcriber
	Synthesizer   Synthesizer
	Player        Player
	Metrics       *observe.Metrics
}

func (d Deps) voiceInput() bool {
	return d.Microphone != nil && d.NewRecognizer != nil && d.Transcriber != nil
}

// Engine is the voice facade: it owns capture, detection, command
// recognition and the speech queue, and exposes the CommandEvent stream.
type Engine struct {
	cfg  Config
	deps Deps

	events chan CommandEvent
	queue  *SpeechQueue
	spk    *speaker

	mu     sync.Mutex
	phase  Phase
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	input  *inputPipeline

	inputFail chan inputFailure
	manual    chan struct{}
	textOnly  atomic.Bool
	state     atomic.Int32
}

// NewEngine validates deps and returns an engine in NotStarted.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if deps.Synthesizer == nil {
		return nil, errors.New("voice: synthesizer is required")
	}
	if deps.Player == nil {
		return nil, errors.New("voice: player is required")
	}
	cfg.applyDefaults()

	e := &Engine{
		cfg:       cfg,
		deps:      deps,
		events:    make(chan CommandEvent, cfg.EventBuffer),
		queue:     NewSpeechQueue(deps.Metrics),
		inputFail: make(chan inputFailure, 4),
		manual:    make(chan struct{}, 1),
	}
	e.spk = &speaker{
		queue:   e.queue,
		synth:   deps.Synthesizer,
		player:  deps.Player,
		timeout: cfg.SynthesisTimeout,
		metrics: deps.Metrics,
	}
	return e, nil
}

// Start launches the workers. If voice input cannot be brought up the
// engine still runs text-only and the input error (a *DeviceError or
// ErrRecognizerUnavailable) is returned.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != NotStarted {
		return &EngineStateError{Op: "start", Phase: e.phase}
	}

	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.group = &errgroup.Group{}
	e.phase = Running

	e.group.Go(func() error { return e.spk.run(e.ctx) })
	e.group.Go(func() error { return e.supervise(e.ctx) })

	if !e.deps.voiceInput() {
		e.textOnly.Store(true)
		log.Info("Voice engine started text-only")
		return nil
	}

	if err := e.startInputLocked(); err != nil {
		e.textOnly.Store(true)
		log.Error("Voice input unavailable, continuing text-only", "err", err)
		return err
	}
	log.Info("Voice engine started", "device", e.deps.Microphone.Name())
	return nil
}

// Stop discards pending speech, lets in-flight playback finish within half
// of the join timeout, joins every worker and closes the event stream.
// Stop is idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	switch e.phase {
	case NotStarted:
		e.phase = Stopped
		e.queue.Close()
		close(e.events)
		e.mu.Unlock()
		return nil
	case Stopping, Stopped:
		e.mu.Unlock()
		return nil
	}
	e.phase = Stopping
	e.mu.Unlock()

	log.Info("Stopping voice engine")
	start := time.Now()

	if pending := e.queue.Close(); len(pending) > 0 {
		for _, req := range pending {
			e.deps.Metrics.Spoken("discarded")
			log.Debug("Discarded pending speech", "id", req.ID, "priority", req.Priority)
		}
		log.Info("Discarded pending speech", "count", len(pending))
	}
	e.cancel()

	joined := make(chan error, 1)
	go func() { joined <- e.group.Wait() }()

	grace := time.NewTimer(e.cfg.JoinTimeout / 2)
	defer grace.Stop()
	deadline := time.NewTimer(e.cfg.JoinTimeout)
	defer deadline.Stop()

	var err error
	done := false
	for !done {
		select {
		case werr := <-joined:
			err = werr
			done = true
		case <-grace.C:
			if e.spk.busy() {
				log.Warn("Playback still running, cancelling")
			}
			e.spk.cancelPlayback()
		case <-deadline.C:
			err = fmt.Errorf("voice: workers did not stop within %s", e.cfg.JoinTimeout)
			done = true
		case <-ctx.Done():
			e.spk.cancelPlayback()
			err = ctx.Err()
			done = true
		}
	}

	if c, ok := e.deps.Player.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil {
			log.Warn("Failed to close output device", "err", cerr)
		}
	}

	e.mu.Lock()
	e.phase = Stopped
	e.mu.Unlock()

	if err != nil {
		// a worker may still hold the events channel; leave it open
		log.Error("Voice engine stopped uncleanly", "err", err, "took", time.Since(start))
		return err
	}
	close(e.events)
	log.Info("Voice engine stopped", "took", time.Since(start))
	return nil
}

// Speak queues text for synthesis. Empty text is ignored.
func (e *Engine) Speak(text string, priority Priority) (uuid.UUID, error) {
	text = strings.TrimSpace(text)
	if e.cfg.Transform != nil {
		text = e.cfg.Transform(text)
	}
	if text == "" {
		return uuid.Nil, nil
	}
	return e.enqueue("speak", &SpeechRequest{Text: text, Priority: priority})
}

// PlayCue queues a pre-rendered clip.
func (e *Engine) PlayCue(clip Clip, priority Priority) (uuid.UUID, error) {
	if len(clip.Samples) == 0 {
		return uuid.Nil, nil
	}
	return e.enqueue("play_cue", &SpeechRequest{Clip: &clip, Priority: priority})
}

func (e *Engine) enqueue(op string, req *SpeechRequest) (uuid.UUID, error) {
	e.mu.Lock()
	phase := e.phase
	e.mu.Unlock()
	if phase != Running {
		return uuid.Nil, &EngineStateError{Op: op, Phase: phase}
	}

	if err := e.queue.Push(req); err != nil {
		if errors.Is(err, ErrQueueClosed) {
			// Stop closed the queue after the phase check.
			return uuid.Nil, &EngineStateError{Op: op, Phase: e.Phase()}
		}
		return uuid.Nil, err
	}
	log.Debug("Speech queued", "id", req.ID, "priority", req.Priority, "text", req.Text)
	return req.ID, nil
}

// Events returns the event stream. It is closed after Stop joins the
// workers.
func (e *Engine) Events() <-chan CommandEvent { return e.events }

// Poll returns the next event without blocking.
func (e *Engine) Poll() (CommandEvent, bool) {
	select {
	case ev, ok := <-e.events:
		return ev, ok
	default:
		return CommandEvent{}, false
	}
}

// RetryInput tries to bring voice input back after a failure.
func (e *Engine) RetryInput(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != Running {
		return &EngineStateError{Op: "retry_input", Phase: e.phase}
	}
	if e.input != nil {
		return nil
	}
	if !e.deps.voiceInput() {
		return &DeviceError{Op: "open", Device: "none", Err: errors.New("no input configured")}
	}
	if err := e.startInputLocked(); err != nil {
		return err
	}
	e.textOnly.Store(false)
	log.Info("Voice input restored", "device", e.deps.Microphone.Name())
	return nil
}

// Trigger starts command capture as if the wake phrase had been heard.
// It is ignored while a command is already being captured.
func (e *Engine) Trigger() error {
	e.mu.Lock()
	phase := e.phase
	e.mu.Unlock()
	if phase != Running {
		return &EngineStateError{Op: "trigger", Phase: phase}
	}
	if e.textOnly.Load() {
		return ErrInputDisabled
	}
	select {
	case e.manual <- struct{}{}:
	default:
	}
	return nil
}

// TextOnly reports whether voice input is currently disabled.
func (e *Engine) TextOnly() bool { return e.textOnly.Load() }

// Phase returns the lifecycle phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// State returns the last observed voice state.
func (e *Engine) State() VoiceState { return VoiceState(e.state.Load()) }

// Speaking reports whether a request is being synthesized or played.
func (e *Engine) Speaking() bool { return e.spk.busy() }

// Pending returns the number of queued speech requests.
func (e *Engine) Pending() int { return e.queue.Len() }

type inputFailure struct {
	p   *inputPipeline
	err error
}

// inputPipeline is one generation of capture plus detection. A failed
// pipeline is torn down whole; RetryInput builds a new one.
type inputPipeline struct {
	frames  *FrameQueue
	capture *CaptureLoop
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func (p *inputPipeline) teardown() {
	p.once.Do(func() {
		p.capture.Stop()
		p.cancel()
		p.frames.Close()
		<-p.done
	})
}

// startInputLocked requires e.mu and phase Running.
func (e *Engine) startInputLocked() error {
	p := &inputPipeline{
		frames: NewFrameQueue(e.cfg.FrameQueueSize, e.deps.Metrics),
		done:   make(chan struct{}),
	}
	p.capture = NewCaptureLoop(e.deps.Microphone, e.cfg.SampleRate, e.cfg.BlockSize, p.frames,
		func(err error) { e.reportInput(p, err) })
	if err := p.capture.Start(); err != nil {
		return err
	}

	det := NewDetector(DetectorConfig{
		SampleRate:         e.cfg.SampleRate,
		Wake:               e.cfg.Wake,
		Sleep:              e.cfg.Sleep,
		WakeSleepTimeout:   e.cfg.WakeSleepTimeout,
		TickInterval:       e.cfg.TickInterval,
		Command:            e.cfg.Command,
		RecognizerAttempts: e.cfg.RecognizerAttempts,
		RecognizerBackoff:  e.cfg.RecognizerBackoff,
		CalibrateBlocks:    e.cfg.CalibrateBlocks,
	}, e.deps.NewRecognizer, e.deps.Transcriber, p.frames.Frames(), e.events, e.deps.Metrics)
	det.OnTransition = func(_, to VoiceState) { e.state.Store(int32(to)) }
	det.Manual = e.manual

	ctx, cancel := context.WithCancel(e.ctx)
	p.cancel = cancel
	e.input = p
	e.state.Store(int32(Idle))

	e.group.Go(func() error {
		defer close(p.done)
		if err := det.Run(ctx); err != nil {
			e.reportInput(p, err)
		}
		return nil
	})
	return nil
}

func (e *Engine) reportInput(p *inputPipeline, err error) {
	select {
	case e.inputFail <- inputFailure{p: p, err: err}:
	default:
		log.Warn("Input failure dropped", "err", err)
	}
}

// supervise tears down failed input pipelines and, on shutdown, the
// current one.
func (e *Engine) supervise(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			p := e.input
			e.input = nil
			e.mu.Unlock()
			if p != nil {
				p.teardown()
			}
			return nil
		case f := <-e.inputFail:
			e.mu.Lock()
			current := e.input == f.p
			if current {
				e.input = nil
			}
			e.mu.Unlock()
			if !current {
				continue
			}
			f.p.teardown()
			e.textOnly.Store(true)
			e.state.Store(int32(Idle))
			log.Error("Voice input disabled, continuing text-only", "err", f.err)
		}
	}
}

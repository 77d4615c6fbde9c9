package voice

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	log "log/slog"

	"aegis/internal/observe"
	"aegis/pkg/pcm"
)

// DetectorConfig configures the wake/sleep state machine.
type DetectorConfig struct {
	SampleRate int
	Wake       PhraseSet
	Sleep      PhraseSet

	// WakeSleepTimeout is the inactivity window while Listening.
	WakeSleepTimeout time.Duration
	// TickInterval drives the inactivity check when no frames arrive.
	TickInterval time.Duration

	Command CommandConfig

	RecognizerAttempts int
	RecognizerBackoff  time.Duration

	// CalibrateBlocks is the number of idle blocks averaged to raise the
	// command speech threshold above ambient noise. Zero disables it.
	CalibrateBlocks int
}

// Detector runs the wake/sleep state machine. Its goroutine is the only
// owner of VoiceState; other components observe it through events and the
// OnTransition hook.
type Detector struct {
	cfg           DetectorConfig
	newRecognizer RecognizerFactory
	transcriber   Transcriber
	frames        <-chan AudioFrame
	events        chan<- CommandEvent
	metrics       *observe.Metrics

	// OnTransition, when set, is called from the detector goroutine after
	// every state change.
	OnTransition func(from, to VoiceState)

	// Manual, when set, delivers push-to-talk requests handled like a wake
	// phrase.
	Manual <-chan struct{}

	state        VoiceState
	lastActivity time.Time
	threshold    float64
	noise        pcm.NoiseFloor

	// frames consumed since the last final hypothesis, for verify mode
	pending []byte

	session  *commandSession
	seq      uint64
	results  chan sessionMsg
	sessions sync.WaitGroup
}

// NewDetector wires a detector between a frame source and the event sink.
func NewDetector(cfg DetectorConfig, newRecognizer RecognizerFactory, transcriber Transcriber,
	frames <-chan AudioFrame, events chan<- CommandEvent, metrics *observe.Metrics) *Detector {
	if cfg.TickInterval <= 0 || cfg.TickInterval > time.Second {
		cfg.TickInterval = 250 * time.Millisecond
	}
	if cfg.RecognizerAttempts < 1 {
		cfg.RecognizerAttempts = 1
	}
	if cfg.Command.Timeout <= 0 {
		cfg.Command.Timeout = cfg.WakeSleepTimeout
	}
	return &Detector{
		cfg:           cfg,
		newRecognizer: newRecognizer,
		transcriber:   transcriber,
		frames:        frames,
		events:        events,
		metrics:       metrics,
		state:         Idle,
		threshold:     cfg.Command.SpeechThreshold,
		results:       make(chan sessionMsg, 4),
	}
}

// Run consumes frames until ctx is cancelled or the frame channel closes.
// It returns an error only when the recognizer cannot be built, which is
// fatal to voice input.
func (d *Detector) Run(ctx context.Context) error {
	rec, err := d.initRecognizer(ctx)
	if err != nil {
		return err
	}
	defer rec.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer d.sessions.Wait()
	defer cancel()

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	log.Info("Wake word detector running", "wake", d.cfg.Wake.Phrases, "sleep", d.cfg.Sleep.Phrases)

	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-d.frames:
			if !ok {
				return nil
			}
			d.handleFrame(ctx, rec, f)
		case m := <-d.results:
			d.handleSession(ctx, m)
		case <-d.Manual:
			if d.session == nil {
				d.wake(ctx)
			}
		case <-ticker.C:
			d.checkInactivity(ctx)
		}
	}
}

func (d *Detector) initRecognizer(ctx context.Context) (StreamingRecognizer, error) {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.RecognizerAttempts; attempt++ {
		rec, err := d.newRecognizer()
		if err == nil {
			return rec, nil
		}
		lastErr = err
		log.Warn("Failed to init recognizer", "attempt", attempt, "err", err)
		if attempt == d.cfg.RecognizerAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.cfg.RecognizerBackoff * time.Duration(attempt)):
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrRecognizerUnavailable, lastErr)
}

func (d *Detector) handleFrame(ctx context.Context, rec StreamingRecognizer, f AudioFrame) {
	// wake/sleep recognition is suspended while a command is in flight
	if d.session != nil {
		d.session.feed(f)
		return
	}

	if d.state == Idle && d.noise.Blocks() < d.cfg.CalibrateBlocks {
		d.noise.Add(f)
		if d.noise.Blocks() == d.cfg.CalibrateBlocks {
			d.threshold = d.noise.Threshold(d.cfg.Command.SpeechThreshold, 3)
			log.Info("Calibrated speech threshold", "threshold", d.threshold)
		}
	}

	d.remember(f)

	final, err := rec.AcceptWaveform(f)
	if err != nil {
		log.Debug("Recognizer rejected frame", "err", &RecognitionError{Err: err})
	} else if final {
		res, err := rec.Result(ctx)
		if err != nil {
			log.Debug("Recognizer result failed", "err", &RecognitionError{Err: err})
		} else {
			d.handleHypothesis(ctx, res)
		}
		d.pending = d.pending[:0]
	}

	d.checkInactivity(ctx)
}

// remember keeps the audio of the utterance in progress, capped at
// MaxPhrase, so a follow-up command can be re-transcribed.
func (d *Detector) remember(f AudioFrame) {
	d.pending = append(d.pending, f...)
	if d.cfg.Command.MaxPhrase <= 0 || d.cfg.SampleRate <= 0 {
		return
	}
	limit := int(d.cfg.Command.MaxPhrase.Seconds()*float64(d.cfg.SampleRate)) * pcm.BytesPerSample
	if over := len(d.pending) - limit; over > 0 {
		d.pending = append(d.pending[:0], d.pending[over:]...)
	}
}

func (d *Detector) handleHypothesis(ctx context.Context, res RecognitionResult) {
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return
	}
	log.Debug("Hypothesis", "text", text, "state", d.state, "confidence", res.Confidence)

	switch d.state {
	case Idle:
		if d.cfg.Wake.Match(text) {
			d.wake(ctx)
		}
	case Listening:
		switch {
		case d.cfg.Sleep.Match(text):
			d.transition(Idle)
			d.emit(ctx, CommandEvent{Kind: SleepDetected})
		case d.cfg.Wake.Match(text):
			d.wake(ctx)
		default:
			// follow-up command spoken while listening
			d.touch()
			d.transition(ActiveCommand)
			d.startVerify(ctx, append([]byte(nil), d.pending...))
		}
	}
}

// wake enters or stays in Listening and arms a fresh command capture.
func (d *Detector) wake(ctx context.Context) {
	if d.state == Idle {
		d.transition(Listening)
	}
	d.emit(ctx, CommandEvent{Kind: WakeDetected})
	d.touch()
	d.armCapture(ctx)
}

func (d *Detector) handleSession(ctx context.Context, m sessionMsg) {
	if d.session == nil || m.id != d.session.id {
		return
	}

	switch m.kind {
	case sessionStarted:
		d.touch()
		if d.state == Listening {
			d.transition(ActiveCommand)
		}
	case sessionNoSpeech:
		// Stay Listening: wake/sleep recognition resumes and only the
		// inactivity window leads back to Idle.
		d.endSession()
		d.checkInactivity(ctx)
	case sessionDone:
		d.endSession()
		if d.state != ActiveCommand {
			return
		}
		switch {
		case m.err != nil || m.text == "":
			d.transition(Listening)
			d.touch()
			d.emit(ctx, CommandEvent{Kind: Timeout})
		case d.cfg.Sleep.Match(m.text):
			d.transition(Idle)
			d.emit(ctx, CommandEvent{Kind: SleepDetected})
		default:
			d.transition(Listening)
			d.touch()
			d.emit(ctx, CommandEvent{Kind: Command, Text: m.text})
		}
	}
}

func (d *Detector) checkInactivity(ctx context.Context) {
	if d.state != Listening || d.session != nil {
		return
	}
	if time.Since(d.lastActivity) < d.cfg.WakeSleepTimeout {
		return
	}
	log.Info("Listening timed out", "after", d.cfg.WakeSleepTimeout)
	d.transition(Idle)
	d.emit(ctx, CommandEvent{Kind: Timeout})
}

func (d *Detector) armCapture(ctx context.Context) {
	d.endSession()
	frames := make(chan AudioFrame, 64)
	sctx, s, r := d.newSession(ctx, frames)
	r.wait = d.onsetWait()
	d.sessions.Add(1)
	go func() {
		defer d.sessions.Done()
		r.capture(sctx, frames)
	}()
	log.Debug("Command capture armed", "session", s.id, "wait", r.wait)
}

// onsetWait bounds the wait for speech onset by what is left of the
// inactivity window, so a silent capture never outlasts WakeSleepTimeout.
func (d *Detector) onsetWait() time.Duration {
	wait := d.cfg.Command.Timeout
	if left := d.cfg.WakeSleepTimeout - time.Since(d.lastActivity); left < wait {
		wait = max(left, 0)
	}
	return wait
}

func (d *Detector) startVerify(ctx context.Context, audio []byte) {
	d.endSession()
	sctx, s, r := d.newSession(ctx, nil)
	d.sessions.Add(1)
	go func() {
		defer d.sessions.Done()
		r.transcribe(sctx, audio)
	}()
	log.Debug("Command verify started", "session", s.id, "bytes", len(audio))
}

func (d *Detector) newSession(ctx context.Context, frames chan AudioFrame) (context.Context, *commandSession, *commandRunner) {
	sctx, cancel := context.WithCancel(ctx)
	d.seq++
	s := &commandSession{id: d.seq, frames: frames, cancel: cancel}
	d.session = s
	return sctx, s, &commandRunner{
		id:          s.id,
		cfg:         d.cfg.Command,
		threshold:   d.threshold,
		sampleRate:  d.cfg.SampleRate,
		transcriber: d.transcriber,
		results:     d.results,
		metrics:     d.metrics,
	}
}

func (d *Detector) endSession() {
	if d.session == nil {
		return
	}
	d.session.cancel()
	d.session = nil
}

func (d *Detector) touch() { d.lastActivity = time.Now() }

func (d *Detector) transition(to VoiceState) {
	from := d.state
	if !from.CanTransition(to) {
		log.Error("Illegal voice state transition", "from", from, "to", to)
		return
	}
	d.state = to
	log.Debug("Voice state", "from", from, "to", to)
	if d.OnTransition != nil {
		d.OnTransition(from, to)
	}
}

func (d *Detector) emit(ctx context.Context, ev CommandEvent) {
	ev.At = time.Now()
	d.metrics.Event(ev.Kind.String())
	select {
	case d.events <- ev:
	case <-ctx.Done():
	}
}

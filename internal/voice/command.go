package voice

import (
	"context"
	"strings"
	"time"

	log "log/slog"

	"aegis/internal/observe"
	"aegis/pkg/pcm"
)

// CommandConfig bounds one command utterance.
type CommandConfig struct {
	Timeout         time.Duration // max wait for speech onset after wake
	MaxPhrase       time.Duration // max utterance length
	Silence         time.Duration // trailing silence that ends the utterance
	SpeechThreshold float64       // normalised RMS onset gate
}

type sessionMsgKind int

const (
	sessionStarted  sessionMsgKind = iota // speech onset, capture running
	sessionNoSpeech                       // no onset within the wait
	sessionDone                           // transcription finished
)

type sessionMsg struct {
	id   uint64
	kind sessionMsgKind
	text string
	err  error
}

// commandSession is the transient per-activation command worker. In
// capture mode it reads the tee'd frame stream; in verify mode it only
// transcribes audio the detector already holds.
type commandSession struct {
	id     uint64
	frames chan AudioFrame // nil in verify mode
	cancel context.CancelFunc
}

// feed forwards a frame without blocking the detector.
func (s *commandSession) feed(f AudioFrame) {
	if s.frames == nil {
		return
	}
	select {
	case s.frames <- f:
	default:
		log.Debug("Command capture behind, dropping frame", "session", s.id)
	}
}

type commandRunner struct {
	id          uint64
	cfg         CommandConfig
	wait        time.Duration // onset wait, capture mode only
	threshold   float64
	sampleRate  int
	transcriber Transcriber
	results     chan<- sessionMsg
	metrics     *observe.Metrics
}

func (r *commandRunner) send(ctx context.Context, m sessionMsg) {
	m.id = r.id
	select {
	case r.results <- m:
	case <-ctx.Done():
	}
}

// capture waits for onset, records one utterance and transcribes it.
func (r *commandRunner) capture(ctx context.Context, frames <-chan AudioFrame) {
	seg := pcm.Segmenter{
		Threshold:   r.threshold,
		SampleRate:  r.sampleRate,
		Silence:     r.cfg.Silence,
		MaxDuration: r.cfg.MaxPhrase,
	}
	wait := time.NewTimer(r.wait)
	defer wait.Stop()

	started := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-wait.C:
			if !started {
				r.send(ctx, sessionMsg{kind: sessionNoSpeech})
				return
			}
		case f, ok := <-frames:
			if !ok {
				return
			}
			ev := seg.Feed(f)
			if ev != pcm.SegmentNone && !started {
				started = true
				wait.Stop()
				r.send(ctx, sessionMsg{kind: sessionStarted})
			}
			if ev == pcm.SegmentComplete {
				r.transcribe(ctx, seg.Utterance())
				return
			}
		}
	}
}

// transcribe runs the accurate pass. Whitespace-only results are reported
// as empty text, which the detector treats as no command.
func (r *commandRunner) transcribe(ctx context.Context, audio []byte) {
	start := time.Now()
	res, err := r.transcriber.Transcribe(ctx, audio, r.sampleRate)
	r.metrics.CommandTook(time.Since(start))
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Warn("Command transcription failed", "err", &RecognitionError{Err: err})
	}
	r.send(ctx, sessionMsg{kind: sessionDone, text: strings.TrimSpace(res.Text), err: err})
}

package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	log "log/slog"

	"aegis/internal/observe"
)

// speaker is the single synthesis and playback worker. Only one request is
// ever audible at a time.
type speaker struct {
	queue   *SpeechQueue
	synth   Synthesizer
	player  Player
	timeout time.Duration
	metrics *observe.Metrics

	mu       sync.Mutex
	current  context.CancelFunc
	speaking bool
}

// run drains the queue until it is closed or ctx is done.
func (s *speaker) run(ctx context.Context) error {
	for {
		req, ok := s.queue.Pop(ctx)
		if !ok {
			return nil
		}
		s.speak(ctx, req)
	}
}

func (s *speaker) speak(parent context.Context, req *SpeechRequest) {
	// Playback is detached from parent so Stop can let the current
	// utterance finish; cancelPlayback ends it early.
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	s.mu.Lock()
	s.current = cancel
	s.speaking = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.current = nil
		s.speaking = false
		s.mu.Unlock()
		cancel()
	}()

	samples, rate, err := s.render(ctx, req)
	if err != nil {
		s.metrics.Spoken("synthesis_failed")
		log.Error("Speech synthesis failed", "id", req.ID, "text", req.Text, "err", err)
		return
	}

	if err := s.player.Play(ctx, samples, rate); err != nil {
		status := "playback_failed"
		if errors.Is(err, context.Canceled) {
			status = "cancelled"
		}
		s.metrics.Spoken(status)
		log.Warn("Playback failed", "id", req.ID, "err", err)
		return
	}
	s.metrics.Spoken("ok")
}

func (s *speaker) render(ctx context.Context, req *SpeechRequest) ([]float32, int, error) {
	if req.Clip != nil {
		return req.Clip.Samples, req.Clip.SampleRate, nil
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	samples, rate, err := s.synth.Synthesize(ctx, req.Text)
	s.metrics.SynthesisTook(time.Since(start))
	return samples, rate, err
}

// cancelPlayback aborts the in-flight request, if any.
func (s *speaker) cancelPlayback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current()
	}
}

// busy reports whether a request is being synthesized or played.
func (s *speaker) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

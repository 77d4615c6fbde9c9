package audio

import (
	"context"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"

	"aegis/internal/voice"
)

// Samples streams mono float32 audio as beep stereo frames.
type Samples struct {
	data []float32
	pos  int
}

func NewSamples(data []float32) *Samples { return &Samples{data: data} }

func (s *Samples) Stream(out [][2]float64) (int, bool) {
	if s.pos >= len(s.data) {
		return 0, false
	}
	n := copy2(out, s.data[s.pos:])
	s.pos += n
	return n, true
}

func (s *Samples) Err() error { return nil }

func (s *Samples) Len() int { return len(s.data) }

func (s *Samples) Position() int { return s.pos }

func (s *Samples) Seek(p int) error {
	s.pos = max(0, min(p, len(s.data)))
	return nil
}

func copy2(out [][2]float64, in []float32) int {
	n := min(len(out), len(in))
	for i := 0; i < n; i++ {
		v := float64(in[i])
		out[i][0], out[i][1] = v, v
	}
	return n
}

// SpeakerPlayer plays through the default output with beep's speaker. The
// speaker runs at one rate; other rates are resampled.
type SpeakerPlayer struct {
	rate beep.SampleRate

	once    sync.Once
	initErr error
}

var _ voice.Player = (*SpeakerPlayer)(nil)

func NewSpeakerPlayer(sampleRate int) *SpeakerPlayer {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	return &SpeakerPlayer{rate: beep.SampleRate(sampleRate)}
}

func (p *SpeakerPlayer) init() error {
	p.once.Do(func() {
		p.initErr = speaker.Init(p.rate, p.rate.N(time.Second/10))
	})
	return p.initErr
}

// Play blocks until the samples have been played or ctx is done.
func (p *SpeakerPlayer) Play(ctx context.Context, samples []float32, sampleRate int) error {
	if len(samples) == 0 {
		return nil
	}
	if err := p.init(); err != nil {
		return err
	}

	var s beep.Streamer = NewSamples(samples)
	if src := beep.SampleRate(sampleRate); src != p.rate {
		s = beep.Resample(4, src, p.rate, s)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() { close(done) })))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

// Close releases the output device.
func (p *SpeakerPlayer) Close() error {
	if p.initErr == nil {
		speaker.Close()
	}
	return nil
}

package voice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"aegis/pkg/pcm"
)

const (
	testRate  = 16000
	testBlock = 160 // 10ms
)

func silentFrame() []byte { return make([]byte, testBlock*pcm.BytesPerSample) }

func loudFrame() []byte {
	s := make([]int16, testBlock)
	for i := range s {
		if i%2 == 0 {
			s[i] = 8000
		} else {
			s[i] = -8000
		}
	}
	return pcm.Int16ToBytes(s)
}

// scriptedRecognizer reports a final hypothesis whenever one is queued.
type scriptedRecognizer struct {
	hyps chan string
	next string
}

func newScriptedRecognizer() *scriptedRecognizer {
	return &scriptedRecognizer{hyps: make(chan string, 8)}
}

func (r *scriptedRecognizer) AcceptWaveform([]byte) (bool, error) {
	select {
	case r.next = <-r.hyps:
		return true, nil
	default:
		return false, nil
	}
}

func (r *scriptedRecognizer) Result(context.Context) (RecognitionResult, error) {
	return RecognitionResult{Text: r.next, Confidence: 0.9}, nil
}

func (r *scriptedRecognizer) Close() error { return nil }

// staticTranscriber returns text for every utterance and counts calls.
type staticTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (t *staticTranscriber) set(text string) {
	t.mu.Lock()
	t.text = text
	t.mu.Unlock()
}

func (t *staticTranscriber) Transcribe(ctx context.Context, _ []byte, _ int) (RecognitionResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if err := ctx.Err(); err != nil {
		return RecognitionResult{}, err
	}
	return RecognitionResult{Text: t.text}, t.err
}

// fakeMic produces silence unless loud is set. Reads pace at 2ms.
type fakeMic struct {
	openErr   error
	failAfter int // reads before Read errors, 0 = never
	loud      atomic.Bool
	opens     atomic.Int32
	closes    atomic.Int32
}

func (m *fakeMic) Name() string { return "fake" }

func (m *fakeMic) Open(sampleRate, blockSize int) (InputStream, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.opens.Add(1)
	return &fakeStream{mic: m}, nil
}

type fakeStream struct {
	mic   *fakeMic
	reads int
}

func (s *fakeStream) Read() ([]byte, error) {
	time.Sleep(2 * time.Millisecond)
	s.reads++
	if s.mic.failAfter > 0 && s.reads > s.mic.failAfter {
		return nil, errors.New("device unplugged")
	}
	if s.mic.loud.Load() {
		return loudFrame(), nil
	}
	return silentFrame(), nil
}

func (s *fakeStream) Close() error {
	s.mic.closes.Add(1)
	return nil
}

// echoSynth returns one sample per byte of text.
type echoSynth struct {
	fail string
}

func (s *echoSynth) Synthesize(ctx context.Context, text string) ([]float32, int, error) {
	if text == s.fail {
		return nil, 0, errors.New("synthesis failed")
	}
	return make([]float32, len(text)), 22050, ctx.Err()
}

// recordingPlayer records played sample counts and the maximum number of
// overlapping Play calls. Play blocks while gate is non-nil and open.
type recordingPlayer struct {
	mu      sync.Mutex
	played  []int
	active  atomic.Int32
	overlap atomic.Int32
	gate    chan struct{}
	hold    time.Duration
}

func (p *recordingPlayer) Play(ctx context.Context, samples []float32, _ int) error {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		cur := p.overlap.Load()
		if n <= cur || p.overlap.CompareAndSwap(cur, n) {
			break
		}
	}

	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.hold > 0 {
		time.Sleep(p.hold)
	}

	p.mu.Lock()
	p.played = append(p.played, len(samples))
	p.mu.Unlock()
	return nil
}

func (p *recordingPlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

func (p *recordingPlayer) sizes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.played...)
}

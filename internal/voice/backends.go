package voice

import "context"

// AudioFrame is one fixed-size block of 16-bit little-endian mono PCM.
type AudioFrame []byte

// InputStream is an opened capture device. Read blocks for one block.
type InputStream interface {
	Read() ([]byte, error)
	Close() error
}

// Microphone opens the configured input device.
type Microphone interface {
	Open(sampleRate, blockSize int) (InputStream, error)
	Name() string
}

// StreamingRecognizer consumes audio incrementally. AcceptWaveform reports
// true once an utterance is final; Result returns its hypothesis.
type StreamingRecognizer interface {
	AcceptWaveform(block []byte) (bool, error)
	Result(ctx context.Context) (RecognitionResult, error)
	Close() error
}

// RecognizerFactory builds the wake-pass recognizer.
type RecognizerFactory func() (StreamingRecognizer, error)

// Transcriber is the request/response command pass.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (RecognitionResult, error)
}

// Synthesizer turns text into mono samples at sampleRate.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (samples []float32, sampleRate int, err error)
}

// Player plays samples to completion or until ctx is cancelled.
type Player interface {
	Play(ctx context.Context, samples []float32, sampleRate int) error
}

// Clip is pre-rendered audio such as a notification cue.
type Clip struct {
	Samples    []float32
	SampleRate int
}

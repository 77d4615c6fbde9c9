package main

import (
	"context"
	"errors"

	"aegis/internal/voice"
	"aegis/pkg/stt"
)

// streamRecognizer drives the wake pass from a whisper stream.
type streamRecognizer struct {
	s *stt.Stream
}

func (r *streamRecognizer) AcceptWaveform(block []byte) (bool, error) {
	return r.s.AcceptWaveform(block)
}

func (r *streamRecognizer) Result(ctx context.Context) (voice.RecognitionResult, error) {
	res, err := r.s.Result(ctx)
	if errors.Is(err, stt.ErrNoUtterance) {
		return voice.RecognitionResult{}, nil
	}
	if err != nil {
		return voice.RecognitionResult{}, err
	}
	return voice.RecognitionResult{Text: res.Text, Confidence: res.Confidence}, nil
}

func (r *streamRecognizer) Close() error {
	r.s.Reset()
	return nil
}

// commandTranscriber adapts a whisper model to the command pass.
type commandTranscriber struct {
	t *stt.Transcriber
}

func (c commandTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (voice.RecognitionResult, error) {
	res, err := c.t.Transcribe(ctx, pcm, sampleRate)
	if err != nil {
		return voice.RecognitionResult{}, err
	}
	return voice.RecognitionResult{Text: res.Text, Confidence: res.Confidence}, nil
}

// recognizerFactory returns a factory opening wake-pass streams over t.
func recognizerFactory(t *stt.Transcriber, cfg stt.StreamConfig) voice.RecognizerFactory {
	return func() (voice.StreamingRecognizer, error) {
		if t == nil {
			return nil, errors.New("wake model not loaded")
		}
		return &streamRecognizer{s: t.NewStream(cfg)}, nil
	}
}

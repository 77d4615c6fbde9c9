package stt

import (
	"context"
	"errors"
	"time"

	"aegis/pkg/pcm"
)

// ErrNoUtterance is returned by Stream.Result when no utterance is ready.
var ErrNoUtterance = errors.New("stt: no completed utterance")

// StreamConfig tunes the energy segmentation in front of whisper.
type StreamConfig struct {
	SampleRate  int           // rate of the blocks fed to AcceptWaveform
	Threshold   float64       // normalised RMS speech gate
	Silence     time.Duration // trailing silence that completes an utterance
	MaxDuration time.Duration // force completion of long utterances
}

// Stream is a streaming recognizer over whisper: blocks are segmented by
// energy and each completed utterance is transcribed on demand. It follows
// the accept/result contract of streaming decoders: AcceptWaveform reports
// true once an utterance is final, Result transcribes it.
//
// A Stream is used from a single goroutine.
type Stream struct {
	tr         *Transcriber
	seg        pcm.Segmenter
	sampleRate int
	ready      []byte
}

// NewStream returns a streaming recognizer sharing the transcriber's model.
func (t *Transcriber) NewStream(cfg StreamConfig) *Stream {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = SampleRate
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.015
	}
	if cfg.Silence <= 0 {
		cfg.Silence = 600 * time.Millisecond
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 10 * time.Second
	}
	return &Stream{
		tr:         t,
		sampleRate: cfg.SampleRate,
		seg: pcm.Segmenter{
			Threshold:   cfg.Threshold,
			SampleRate:  cfg.SampleRate,
			Silence:     cfg.Silence,
			MaxDuration: cfg.MaxDuration,
		},
	}
}

// AcceptWaveform feeds one 16-bit mono block. It returns true when an
// utterance has completed and Result can be called.
func (s *Stream) AcceptWaveform(block []byte) (bool, error) {
	if s.seg.Feed(block) != pcm.SegmentComplete {
		return false, nil
	}
	s.ready = append([]byte(nil), s.seg.Utterance()...)
	s.seg.Reset()
	return true, nil
}

// Result transcribes the last completed utterance. Silence-only or
// unintelligible audio yields an empty Text and no error.
func (s *Stream) Result(ctx context.Context) (Result, error) {
	if len(s.ready) == 0 {
		return Result{}, ErrNoUtterance
	}
	data := s.ready
	s.ready = nil
	return s.tr.Transcribe(ctx, data, s.sampleRate)
}

// Reset drops any partial utterance.
func (s *Stream) Reset() {
	s.seg.Reset()
	s.ready = nil
}

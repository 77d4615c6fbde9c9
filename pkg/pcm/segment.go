package pcm

import "time"

// SegmentEvent is what a Segmenter reports after consuming one block.
type SegmentEvent int

const (
	// SegmentNone means nothing changed: silence before speech or speech in progress.
	SegmentNone SegmentEvent = iota
	// SegmentOnset is reported once, on the first block above the threshold.
	SegmentOnset
	// SegmentComplete means the utterance ended on trailing silence or hit
	// the duration cap. Utterance returns the buffered audio.
	SegmentComplete
)

// Segmenter splits a stream of 16-bit mono blocks into utterances using an
// RMS energy gate. Blocks before onset are discarded; trailing silence is
// kept so recognizers see a natural end of speech.
//
// A Segmenter is not safe for concurrent use.
type Segmenter struct {
	Threshold   float64       // normalised RMS, e.g. 0.015
	SampleRate  int           // samples per second
	Silence     time.Duration // trailing silence that closes an utterance
	MaxDuration time.Duration // hard cap on utterance length, 0 = none

	speaking     bool
	silentSample int
	buf          []byte
}

// Feed consumes one block.
func (s *Segmenter) Feed(block []byte) SegmentEvent {
	loud := RMSInt16LE(block) > s.Threshold
	samples := len(block) / BytesPerSample

	if !s.speaking {
		if !loud {
			return SegmentNone
		}
		s.speaking = true
		s.silentSample = 0
		s.buf = append(s.buf[:0], block...)
		if s.capped() {
			return SegmentComplete
		}
		return SegmentOnset
	}

	s.buf = append(s.buf, block...)
	if loud {
		s.silentSample = 0
	} else {
		s.silentSample += samples
	}

	if s.silenceReached() || s.capped() {
		return SegmentComplete
	}
	return SegmentNone
}

// Speaking reports whether an utterance is in progress.
func (s *Segmenter) Speaking() bool { return s.speaking }

// Utterance returns the audio buffered since onset.
func (s *Segmenter) Utterance() []byte { return s.buf }

// Duration returns how much audio is buffered.
func (s *Segmenter) Duration() time.Duration {
	return s.samplesToDuration(len(s.buf) / BytesPerSample)
}

// Reset drops buffered audio and waits for the next onset.
func (s *Segmenter) Reset() {
	s.speaking = false
	s.silentSample = 0
	s.buf = nil
}

func (s *Segmenter) silenceReached() bool {
	if s.Silence <= 0 {
		return s.silentSample > 0
	}
	return s.samplesToDuration(s.silentSample) >= s.Silence
}

func (s *Segmenter) capped() bool {
	return s.MaxDuration > 0 && s.Duration() >= s.MaxDuration
}

func (s *Segmenter) samplesToDuration(n int) time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(s.SampleRate)
}

// NoiseFloor tracks the running mean RMS of background audio, used to
// calibrate a speech threshold against ambient noise.
type NoiseFloor struct {
	sum   float64
	count int
}

// Add records one block.
func (n *NoiseFloor) Add(block []byte) {
	n.sum += RMSInt16LE(block)
	n.count++
}

// Blocks returns the number of blocks recorded.
func (n *NoiseFloor) Blocks() int { return n.count }

// Threshold returns max(base, mean*factor).
func (n *NoiseFloor) Threshold(base, factor float64) float64 {
	if n.count == 0 {
		return base
	}
	t := n.sum / float64(n.count) * factor
	if t < base {
		return base
	}
	return t
}

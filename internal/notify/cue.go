// Package notify loads the short earcons played through the speech queue.
package notify

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"

	"aegis/internal/voice"
)

// LoadCue decodes an mp3 or wav file into a mono clip.
func LoadCue(path string) (voice.Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return voice.Clip{}, err
	}

	var (
		s      beep.StreamSeekCloser
		format beep.Format
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		s, format, err = mp3.Decode(f)
	case ".wav":
		s, format, err = wav.Decode(f)
	default:
		f.Close()
		return voice.Clip{}, fmt.Errorf("unsupported cue format %q", ext)
	}
	if err != nil {
		f.Close()
		return voice.Clip{}, fmt.Errorf("decode %s: %w", path, err)
	}
	// closes f as well
	defer s.Close()

	samples := collect(s)
	if err := s.Err(); err != nil {
		return voice.Clip{}, err
	}
	if len(samples) == 0 {
		return voice.Clip{}, errors.New("empty cue " + path)
	}
	return voice.Clip{Samples: samples, SampleRate: int(format.SampleRate)}, nil
}

// collect drains a streamer, averaging the two channels.
func collect(s beep.Streamer) []float32 {
	var out []float32
	buf := make([][2]float64, 512)
	for {
		n, ok := s.Stream(buf)
		for _, frame := range buf[:n] {
			out = append(out, float32((frame[0]+frame[1])/2))
		}
		if !ok {
			return out
		}
	}
}

// Tone renders a sine beep with short linear fades.
func Tone(freq float64, samples, sampleRate int, gain float64) voice.Clip {
	out := make([]float32, samples)
	fade := sampleRate / 200
	for i := range out {
		v := gain * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		switch {
		case i < fade:
			v *= float64(i) / float64(fade)
		case i >= samples-fade:
			v *= float64(samples-1-i) / float64(fade)
		}
		out[i] = float32(v)
	}
	return voice.Clip{Samples: out, SampleRate: sampleRate}
}

// WakeCue loads path, falling back to a generated beep when path is empty.
func WakeCue(path string) (voice.Clip, error) {
	if path == "" {
		return Tone(880, 16000/8, 16000, 0.3), nil
	}
	return LoadCue(path)
}

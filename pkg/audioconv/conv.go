// Package audioconv decodes audio files produced by synthesis backends into
// mono float samples at their native sample rate.
package audioconv

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"

	"aegis/pkg/pcm"
)

// ErrEmpty is returned for files that decode to zero samples.
var ErrEmpty = errors.New("audioconv: no samples")

// DecodeFile reads a wav/mp3/ogg file and returns mono samples and the
// sample rate they were recorded at.
func DecodeFile(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var (
		x  []float32
		sr int
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		x, sr, err = decodeWAV(f)
	case ".mp3":
		x, sr, err = decodeMP3(f)
	case ".ogg", ".oga", ".opus":
		x, sr, err = decodeOgg(f)
	default:
		x, sr, err = sniff(f)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if len(x) == 0 {
		return nil, 0, ErrEmpty
	}
	return x, sr, nil
}

// DecodeFile16k is DecodeFile resampled to 16 kHz, the rate whisper expects.
func DecodeFile16k(path string) ([]float32, error) {
	x, sr, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return pcm.Resample(x, sr, 16000), nil
}

func sniff(f *os.File) ([]float32, int, error) {
	br := bufio.NewReader(f)
	magic, _ := br.Peek(4)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, 0, err
	}
	switch string(magic) {
	case "RIFF":
		return decodeWAV(f)
	case "OggS":
		return decodeOgg(f)
	default:
		return decodeMP3(f)
	}
}

func decodeOgg(f *os.File) ([]float32, int, error) {
	x, sr, err := decodeOggVorbis(f)
	if err == nil {
		return x, sr, nil
	}
	if _, e2 := f.Seek(0, io.SeekStart); e2 != nil {
		return nil, 0, e2
	}
	x, sr, e3 := decodeOggOpus(f)
	if e3 != nil {
		return nil, 0, fmt.Errorf("ogg is neither vorbis (%v) nor opus: %w", err, e3)
	}
	return x, sr, nil
}

func decodeWAV(r io.ReadSeeker) ([]float32, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil || pb == nil || pb.Data == nil {
		if err == nil {
			err = errors.New("empty wav")
		}
		return nil, 0, err
	}

	x := pcm.IntToFloat32(pb.Data, int(dec.BitDepth))

	ch := 1
	sr := int(dec.SampleRate)
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}
	if sr <= 0 {
		sr = 22050
	}
	return pcm.Downmix(x, ch), sr, nil
}

func decodeMP3(r io.Reader) ([]float32, int, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, err
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, 0, err
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return nil, 0, err
	}
	// go-mp3 always decodes to interleaved stereo
	x := pcm.Downmix(pcm.Int16ToFloat32(ints), 2)

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}
	return x, sr, nil
}

func decodeOggVorbis(r io.Reader) ([]float32, int, error) {
	data, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, 0, errors.New("invalid ogg/vorbis stream")
	}
	return pcm.Downmix(data, format.Channels), format.SampleRate, nil
}

func decodeOggOpus(rs io.ReadSeeker) ([]float32, int, error) {
	dec, err := popus.NewDecoder(rs)
	if err != nil {
		return nil, 0, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	// opusfile always decodes at 48 kHz
	var (
		out []float32
		buf = make([]int16, 48_000*ch/2)
	)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			out = append(out, pcm.Int16ToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, err
		}
	}
	return pcm.Downmix(out, ch), 48000, nil
}

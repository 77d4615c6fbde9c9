package audio

import (
	"context"
	"sync"

	log "log/slog"

	"github.com/gordonklaus/portaudio"

	"aegis/internal/voice"
	"aegis/pkg/pcm"
)

// DevicePlayer plays through a named PortAudio output device. The stream
// is opened on first use and kept open.
type DevicePlayer struct {
	Device    string
	Rate      int
	BlockSize int

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []float32
}

var _ voice.Player = (*DevicePlayer)(nil)

func (p *DevicePlayer) open() error {
	if p.stream != nil {
		return nil
	}
	if p.Rate <= 0 {
		p.Rate = 22050
	}
	if p.BlockSize <= 0 {
		p.BlockSize = 1024
	}

	dev, err := findDevice(p.Device, false)
	if err != nil {
		return err
	}
	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = 1
	params.SampleRate = float64(p.Rate)
	params.FramesPerBuffer = p.BlockSize

	p.buf = make([]float32, p.BlockSize)
	stream, err := portaudio.OpenStream(params, p.buf)
	if err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return err
	}
	p.stream = stream
	log.Info("Output device opened", "device", dev.Name, "rate", p.Rate)
	return nil
}

// Play writes samples block by block, checking ctx between blocks.
func (p *DevicePlayer) Play(ctx context.Context, samples []float32, sampleRate int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.open(); err != nil {
		return err
	}
	if sampleRate != p.Rate {
		samples = pcm.Resample(samples, sampleRate, p.Rate)
	}

	for off := 0; off < len(samples); off += len(p.buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(p.buf, samples[off:])
		clear(p.buf[n:])
		if err := p.stream.Write(); err != nil && err != portaudio.OutputUnderflowed {
			return err
		}
	}
	return nil
}

func (p *DevicePlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return nil
	}
	p.stream.Stop()
	err := p.stream.Close()
	p.stream = nil
	return err
}

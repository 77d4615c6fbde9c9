package audio

import (
	"fmt"
	"strings"

	log "log/slog"

	"github.com/gordonklaus/portaudio"

	"aegis/internal/voice"
	"aegis/pkg/pcm"
)

// Init must be called once before any PortAudio device is opened.
func Init() error {
	return portaudio.Initialize()
}

// Terminate releases PortAudio.
func Terminate() {
	if err := portaudio.Terminate(); err != nil {
		log.Warn("PortAudio terminate failed", "err", err)
	}
}

// DeviceInfo describes a PortAudio device.
type DeviceInfo struct {
	Name          string
	Inputs        int
	Outputs       int
	DefaultRate   float64
	DefaultInput  bool
	DefaultOutput bool
}

// Devices lists every device PortAudio can see.
func Devices() ([]DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	in, _ := portaudio.DefaultInputDevice()
	out, _ := portaudio.DefaultOutputDevice()

	res := make([]DeviceInfo, 0, len(devs))
	for _, d := range devs {
		res = append(res, DeviceInfo{
			Name:          d.Name,
			Inputs:        d.MaxInputChannels,
			Outputs:       d.MaxOutputChannels,
			DefaultRate:   d.DefaultSampleRate,
			DefaultInput:  in != nil && d.Name == in.Name,
			DefaultOutput: out != nil && d.Name == out.Name,
		})
	}
	return res, nil
}

// findDevice returns the first device whose name contains name
// (case-insensitive) and has the requested direction, or the default.
func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(name)
	for _, d := range devs {
		if input && d.MaxInputChannels < 1 || !input && d.MaxOutputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no audio device matching %q", name)
}

// Microphone captures 16-bit mono blocks from a PortAudio input device.
type Microphone struct {
	Device string // name substring, empty = default input
}

var _ voice.Microphone = (*Microphone)(nil)

func (m *Microphone) Name() string {
	if m.Device == "" {
		return "default"
	}
	return m.Device
}

// Open starts an input stream of blockSize samples per Read.
func (m *Microphone) Open(sampleRate, blockSize int) (voice.InputStream, error) {
	dev, err := findDevice(m.Device, true)
	if err != nil {
		return nil, err
	}

	p := portaudio.LowLatencyParameters(dev, nil)
	p.Input.Channels = 1
	p.SampleRate = float64(sampleRate)
	p.FramesPerBuffer = blockSize

	buf := make([]int16, blockSize)
	stream, err := portaudio.OpenStream(p, buf)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, err
	}

	log.Info("Microphone opened", "device", dev.Name, "rate", sampleRate, "block", blockSize)
	return &inputStream{stream: stream, buf: buf}, nil
}

type inputStream struct {
	stream *portaudio.Stream
	buf    []int16
}

// Read blocks for one block and returns a copy of it.
func (s *inputStream) Read() ([]byte, error) {
	if err := s.stream.Read(); err != nil {
		// overflow only means frames were lost inside PortAudio
		if err == portaudio.InputOverflowed {
			log.Debug("Input overflowed")
			return pcm.Int16ToBytes(s.buf), nil
		}
		return nil, err
	}
	return pcm.Int16ToBytes(s.buf), nil
}

func (s *inputStream) Close() error {
	if err := s.stream.Stop(); err != nil {
		log.Debug("Input stream stop failed", "err", err)
	}
	return s.stream.Close()
}

package voice

import (
	"sync"

	log "log/slog"
)

// CaptureLoop reads fixed-size blocks from the microphone into a
// FrameQueue. The stream is owned by the loop goroutine for its lifetime.
type CaptureLoop struct {
	mic        Microphone
	sampleRate int
	blockSize  int
	queue      *FrameQueue
	onFail     func(error)

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewCaptureLoop builds a loop. onFail is called at most once, from the
// loop goroutine, with a *DeviceError when the device is lost mid-stream.
func NewCaptureLoop(mic Microphone, sampleRate, blockSize int, queue *FrameQueue, onFail func(error)) *CaptureLoop {
	return &CaptureLoop{
		mic:        mic,
		sampleRate: sampleRate,
		blockSize:  blockSize,
		queue:      queue,
		onFail:     onFail,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start opens the device and begins capture. An open failure is returned
// as *DeviceError and leaves the loop unstarted; callers may retry with a
// new loop after a backoff.
func (c *CaptureLoop) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	stream, err := c.mic.Open(c.sampleRate, c.blockSize)
	if err != nil {
		return &DeviceError{Op: "open", Device: c.mic.Name(), Err: err}
	}
	c.started = true

	log.Debug("Capture started", "device", c.mic.Name(), "rate", c.sampleRate, "block", c.blockSize)
	go c.run(stream)
	return nil
}

func (c *CaptureLoop) run(stream InputStream) {
	defer close(c.done)
	defer func() {
		if err := stream.Close(); err != nil {
			log.Warn("Failed to close input device", "device", c.mic.Name(), "err", err)
		}
	}()

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		data, err := stream.Read()
		if err != nil {
			select {
			case <-c.stop:
				return
			default:
			}
			log.Error("Input device lost", "device", c.mic.Name(), "err", err)
			if c.onFail != nil {
				c.onFail(&DeviceError{Op: "read", Device: c.mic.Name(), Err: err})
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		c.queue.Push(AudioFrame(data))
	}
}

// Stop halts capture and waits for the device to be released. The wait is
// bounded by one block read.
func (c *CaptureLoop) Stop() {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	c.once.Do(func() { close(c.stop) })
	if started {
		<-c.done
	}
}

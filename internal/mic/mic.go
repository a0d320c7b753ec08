// Package mic captures the microphone channel. Capture runs FFmpeg against
// the platform audio input and feeds PCM frames to the graph's mic source.
package mic

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"

	"github.com/fadewerk/duodeck/internal/audio"
)

// Capture owns the microphone capture process. Enable failure is the
// permission-denial case: reported once, feature disabled, no retry.
type Capture struct {
	mu      sync.Mutex
	backend string // ffmpeg input format, e.g. "pulse" or "alsa"
	device  string
	running bool
	denied  bool
	lastErr error
	cancel  context.CancelFunc

	frames chan []float64
}

// New returns a disabled capture for the given backend/device.
func New(backend, device string) *Capture {
	return &Capture{
		backend: backend,
		device:  device,
		frames:  make(chan []float64, 50), // ~1s of buffer
	}
}

// Enable starts capturing. Returns the start error on denial; subsequent
// calls after a denial keep the feature disabled.
func (c *Capture) Enable(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	if c.denied {
		return fmt.Errorf("microphone disabled: %w", c.lastErr)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, "ffmpeg",
		"-f", c.backend,
		"-i", c.device,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("mic capture pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		c.denied = true
		c.lastErr = err
		log.Printf("mic: capture denied: %v", err)
		return fmt.Errorf("mic capture start: %w", err)
	}

	c.running = true
	c.cancel = cancel
	go c.readLoop(stdout, cmd)
	log.Printf("mic: capturing from %s:%s", c.backend, c.device)
	return nil
}

// Disable stops capturing. Idempotent.
func (c *Capture) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	c.cancel()
	// Drain buffered frames so a re-enable starts fresh.
	for {
		select {
		case <-c.frames:
		default:
			return
		}
	}
}

// Running reports whether capture is active.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Err returns the capture error after a denial, nil otherwise.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Capture) readLoop(stdout io.Reader, cmd *exec.Cmd) {
	defer cmd.Wait()

	buf := make([]byte, audio.FrameBytes)
	for {
		if _, err := io.ReadFull(stdout, buf); err != nil {
			c.mu.Lock()
			wasRunning := c.running
			c.running = false
			c.mu.Unlock()
			if wasRunning {
				log.Printf("mic: capture ended: %v", err)
			}
			return
		}

		samples := make([]int16, audio.FrameSamples)
		for i := range samples {
			samples[i] = int16(uint16(buf[i*2]) | uint16(buf[i*2+1])<<8)
		}
		frame := audio.SamplesToFloat(samples)

		select {
		case c.frames <- frame:
		default:
			// render side is behind; drop rather than stall capture
		}
	}
}

// ReadBlock is the graph mic-source callback: it fills dst from captured
// frames, or silence when nothing is buffered.
func (c *Capture) ReadBlock(dst []float64) {
	select {
	case frame := <-c.frames:
		n := copy(dst, frame)
		for i := n; i < len(dst); i++ {
			dst[i] = 0
		}
	default:
		for i := range dst {
			dst[i] = 0
		}
	}
}

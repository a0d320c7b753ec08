package engine

import (
	"bytes"
	"fmt"
	"os/exec"
	"sync"

	"github.com/fadewerk/duodeck/internal/audio"
)

// Recorder captures the master-bus output between Start and Stop and
// encodes the session to an MP3 blob on Stop. PCM is buffered in memory;
// a one-hour session at 48kHz stereo is about 1.3 GB, which is fine for
// mixtape-length recordings.
type Recorder struct {
	mu        sync.Mutex
	recording bool
	pcm       []int16
	bitrate   string
}

// NewRecorder creates a recorder encoding at the given MP3 bitrate ("192k").
func NewRecorder(bitrate string) *Recorder {
	return &Recorder{bitrate: bitrate}
}

// Recording reports whether a session is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Start begins a new session, discarding any unconsumed previous capture.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = true
	r.pcm = r.pcm[:0]
}

// Append buffers one rendered frame. No-op when not recording; the render
// loop calls this unconditionally every quantum.
func (r *Recorder) Append(frame []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	r.pcm = append(r.pcm, frame...)
}

// Stop ends the session and returns the capture encoded as MP3.
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, fmt.Errorf("recorder: not recording")
	}
	r.recording = false
	pcm := make([]int16, len(r.pcm))
	copy(pcm, r.pcm)
	r.pcm = r.pcm[:0]
	r.mu.Unlock()

	if len(pcm) == 0 {
		return nil, fmt.Errorf("recorder: empty session")
	}
	return encodeMP3(pcm, r.bitrate)
}

// encodeMP3 runs the capture through FFmpeg: s16le stdin -> MP3 stdout.
func encodeMP3(pcm []int16, bitrate string) ([]byte, error) {
	cmd := exec.Command("ffmpeg",
		"-f", "s16le",
		"-ar", "48000",
		"-ac", "2",
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", bitrate,
		"-f", "mp3",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(audio.SamplesToBytes(pcm))

	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("recorder: ffmpeg encode: %w", err)
	}
	return out.Bytes(), nil
}

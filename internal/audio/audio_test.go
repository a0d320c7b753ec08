package audio

import (
	"testing"
	"time"
)

func TestConstants(t *testing.T) {
	// 48kHz * 20ms = 960 frames per channel
	if got := SampleRate * int(FrameDuration/time.Millisecond) / 1000; got != FrameSize {
		t.Errorf("FrameSize mismatch: want %d, got %d", got, FrameSize)
	}
	if FrameSamples != FrameSize*Channels {
		t.Errorf("FrameSamples = %d, want %d", FrameSamples, FrameSize*Channels)
	}
	if FrameBytes != FrameSamples*2 {
		t.Errorf("FrameBytes = %d, want %d", FrameBytes, FrameSamples*2)
	}
}

func TestTrackIsZero(t *testing.T) {
	if !(Track{}).IsZero() {
		t.Error("empty track should be zero")
	}
	if (Track{AudioSrc: "a.mp3"}).IsZero() {
		t.Error("track with audio source should not be zero")
	}
}

func TestSeconds(t *testing.T) {
	// one second of interleaved stereo
	buf := make([]float64, SampleRate*Channels)
	if got := Seconds(buf); got != 1.0 {
		t.Errorf("Seconds = %v, want 1.0", got)
	}
	if got := Seconds(nil); got != 0 {
		t.Errorf("Seconds(nil) = %v, want 0", got)
	}
}

func TestSampleFloatRoundTrip(t *testing.T) {
	in := []int16{0, 16384, -16384, 32767, -32768}
	f := SamplesToFloat(in)
	out := FloatToSamples(f)
	for i := range in {
		diff := int(out[i]) - int(in[i])
		if diff < -2 || diff > 2 {
			t.Errorf("sample[%d]: %d -> %v -> %d", i, in[i], f[i], out[i])
		}
	}
}

func TestFloatToSamplesClips(t *testing.T) {
	out := FloatToSamples([]float64{2.0, -2.0})
	if out[0] != 32767 {
		t.Errorf("positive overdrive = %d, want 32767", out[0])
	}
	if out[1] != -32768 {
		t.Errorf("negative overdrive = %d, want -32768", out[1])
	}
}

func TestSamplesToBytesLittleEndian(t *testing.T) {
	b := SamplesToBytes([]int16{0x0102, -1})
	want := []byte{0x02, 0x01, 0xff, 0xff}
	for i := range want {
		if b[i] != want[i] {
			t.Errorf("byte[%d] = %#x, want %#x", i, b[i], want[i])
		}
	}
}

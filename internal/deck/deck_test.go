package deck

import (
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fadewerk/duodeck/internal/audio"
	"github.com/fadewerk/duodeck/internal/graph"
)

// --- Control mappings ---

func TestTrimGain(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{0, 0},
		{50, 1},
		{100, 2},
		{-10, 0},
		{150, 2},
	}
	for _, tt := range tests {
		if got := TrimGain(tt.in); got != tt.want {
			t.Errorf("TrimGain(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEQGainDB(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{0, -12},
		{25, -6},
		{50, 0},
		{75, 6},
		{100, 12},
	}
	for _, tt := range tests {
		if got := EQGainDB(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("EQGainDB(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFrequencyMappingEndpoints(t *testing.T) {
	if got := NormalizedToFrequency(0); math.Abs(got-20) > 1e-9 {
		t.Errorf("NormalizedToFrequency(0) = %v, want 20", got)
	}
	if got := NormalizedToFrequency(1); math.Abs(got-20000) > 1e-6 {
		t.Errorf("NormalizedToFrequency(1) = %v, want 20000", got)
	}
}

func TestFrequencyMappingRoundTrip(t *testing.T) {
	for _, v := range []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1} {
		back := FrequencyToNormalized(NormalizedToFrequency(v))
		if math.Abs(back-v) > 1e-9 {
			t.Errorf("round trip %v -> %v", v, back)
		}
	}
	// out-of-range frequencies clamp instead of going out of [0,1]
	if got := FrequencyToNormalized(5); got != 0 {
		t.Errorf("FrequencyToNormalized(5) = %v, want 0", got)
	}
	if got := FrequencyToNormalized(40000); got != 1 {
		t.Errorf("FrequencyToNormalized(40000) = %v, want 1", got)
	}
}

// --- Transport ---

// syntheticLoader returns a loader producing n seconds of constant-value
// stereo audio, ignoring the source string.
func syntheticLoader(seconds float64, value float64) Loader {
	return func(string) ([]float64, error) {
		buf := make([]float64, int(seconds*audio.SampleRate)*audio.Channels)
		for i := range buf {
			buf[i] = value
		}
		return buf, nil
	}
}

func newTestDeck(t *testing.T) *Controller {
	t.Helper()
	c := New(graph.DeckA, nil)
	c.SetLoader(syntheticLoader(1.0, 0.5))
	return c
}

func loadTestTrack(t *testing.T, c *Controller, autoplay bool) {
	t.Helper()
	err := c.LoadTrack(audio.Track{Title: "Test", AudioSrc: "test.mp3"}, autoplay)
	if err != nil {
		t.Fatalf("LoadTrack: %v", err)
	}
}

func TestLoadTrackResetsState(t *testing.T) {
	c := newTestDeck(t)
	c.SetGain(80)
	c.SetPitch(1.5)
	c.ToggleLoop()

	loadTestTrack(t, c, true)

	s := c.State()
	if !s.IsPlaying {
		t.Error("autoplay load not playing")
	}
	if s.Gain != 50 || s.PlaybackRate != 1 || s.Loop {
		t.Errorf("controls not reset wholesale: %+v", s)
	}
	if math.Abs(s.Duration-1.0) > 1e-9 {
		t.Errorf("Duration = %v, want 1.0", s.Duration)
	}
	if s.Track.Title != "Test" {
		t.Errorf("Track = %q, want Test", s.Track.Title)
	}
}

func TestLoadTrackRejectsEmptySource(t *testing.T) {
	c := newTestDeck(t)
	if err := c.LoadTrack(audio.Track{Title: "Nope"}, true); err == nil {
		t.Fatal("expected error for track without audio source")
	}
}

func TestTogglePlayPauseEmptyDeck(t *testing.T) {
	c := newTestDeck(t)
	c.TogglePlayPause()
	if c.State().IsPlaying {
		t.Error("empty deck started playing")
	}

	// player mode fires the empty-play hook instead
	fired := false
	c.SetPlayerMode(true)
	c.SetEmptyPlayFunc(func() { fired = true })
	c.TogglePlayPause()
	if !fired {
		t.Error("empty-play hook not fired in player mode")
	}
}

func TestSeekClamps(t *testing.T) {
	c := newTestDeck(t)
	loadTestTrack(t, c, false)

	c.Seek(0.25)
	if got := c.Position(); math.Abs(got-0.25) > 1e-9 {
		t.Errorf("Position = %v, want 0.25", got)
	}

	c.Seek(5)
	if got := c.Position(); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("Position after overshoot = %v, want 1.0", got)
	}

	c.Seek(-1)
	if got := c.Position(); got != 0 {
		t.Errorf("Position after negative seek = %v, want 0", got)
	}
}

func TestSetPitchIgnoresNonPositive(t *testing.T) {
	c := newTestDeck(t)
	c.SetPitch(1.2)
	c.SetPitch(0)
	c.SetPitch(-1)
	if got := c.State().PlaybackRate; got != 1.2 {
		t.Errorf("PlaybackRate = %v, want 1.2", got)
	}
}

func TestReadBlockAdvancesAtRate(t *testing.T) {
	c := newTestDeck(t)
	loadTestTrack(t, c, true)

	dst := make([]float64, audio.FrameSamples)
	c.readBlock(dst)
	if dst[0] != 0.5 || dst[1] != 0.5 {
		t.Fatalf("block start = %v,%v, want 0.5,0.5", dst[0], dst[1])
	}
	if got := c.Position(); math.Abs(got-0.020) > 1e-6 {
		t.Errorf("position after one block = %v, want 0.020", got)
	}

	c.SetPitch(2)
	c.readBlock(dst)
	if got := c.Position(); math.Abs(got-0.060) > 1e-6 {
		t.Errorf("position after double-rate block = %v, want 0.060", got)
	}
}

func TestReadBlockPausedIsSilent(t *testing.T) {
	c := newTestDeck(t)
	loadTestTrack(t, c, false)

	dst := make([]float64, audio.FrameSamples)
	dst[0] = 99
	c.readBlock(dst)
	if dst[0] != 0 {
		t.Error("paused deck produced signal")
	}
	if c.Position() != 0 {
		t.Error("paused deck advanced")
	}
}

func TestReadBlockLoopWraps(t *testing.T) {
	c := newTestDeck(t)
	loadTestTrack(t, c, true)
	c.ToggleLoop()
	c.Seek(0.999)

	dst := make([]float64, audio.FrameSamples)
	c.readBlock(dst)

	if !c.State().IsPlaying {
		t.Error("looping deck stopped at the end")
	}
	if got := c.Position(); got > 0.5 {
		t.Errorf("loop did not wrap, position = %v", got)
	}
}

func TestReadBlockEndStopsAndRewinds(t *testing.T) {
	c := newTestDeck(t)
	loadTestTrack(t, c, true)
	c.Seek(0.999)

	dst := make([]float64, audio.FrameSamples)
	c.readBlock(dst)

	// playback stops in the render callback itself
	if c.State().IsPlaying {
		t.Error("deck still playing after track end")
	}

	// the rewind happens on the ended handler, off the render goroutine
	deadline := time.Now().Add(2 * time.Second)
	for c.Position() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("position not rewound after end, at %v", c.Position())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOnEndedAdvancesInPlayerMode(t *testing.T) {
	c := newTestDeck(t)
	loadTestTrack(t, c, true)
	c.SetPlayerMode(true)
	advanced := false
	c.SetAdvanceFunc(func() bool {
		advanced = true
		return true
	})

	c.OnEnded()
	if !advanced {
		t.Fatal("advance hook not consulted")
	}
	if !c.State().IsPlaying {
		t.Error("deck stopped even though playlist advanced")
	}
}

func TestTrackEndTriggersAdvanceOnce(t *testing.T) {
	c := newTestDeck(t)
	loadTestTrack(t, c, true)
	c.SetPlayerMode(true)

	var calls int32
	c.SetAdvanceFunc(func() bool {
		atomic.AddInt32(&calls, 1)
		// a real advance decodes the next track, far slower than one
		// render quantum
		time.Sleep(120 * time.Millisecond)
		return false
	})

	c.Seek(0.999)
	dst := make([]float64, audio.FrameSamples)
	for i := 0; i < 8; i++ {
		c.readBlock(dst)
		time.Sleep(audio.FrameDuration)
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&calls) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("advance hook never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("advance hook fired %d times, want exactly 1", got)
	}
}

// --- Scratch interplay ---

func TestScratchLifecycle(t *testing.T) {
	c := newTestDeck(t)

	if c.BeginScratch() {
		t.Fatal("scratch started on empty deck")
	}

	loadTestTrack(t, c, true)
	if !c.BeginScratch() {
		t.Fatal("scratch refused on loaded deck")
	}
	if c.State().IsPlaying {
		t.Error("deck still playing mid-scratch")
	}
	if !c.Scratching() {
		t.Error("Scratching() false during gesture")
	}

	c.AdvanceBy(0.25)
	if got := c.Position(); math.Abs(got-0.25) > 1e-9 {
		t.Errorf("position after nudge = %v, want 0.25", got)
	}
	c.AdvanceBy(-5)
	if got := c.Position(); got != 0 {
		t.Errorf("position after clamped nudge = %v, want 0", got)
	}

	c.EndScratch()
	if !c.State().IsPlaying {
		t.Error("playback did not resume after scratch")
	}
	if c.Scratching() {
		t.Error("Scratching() true after gesture end")
	}
}

func TestScratchDoesNotResumePausedDeck(t *testing.T) {
	c := newTestDeck(t)
	loadTestTrack(t, c, false)

	if !c.BeginScratch() {
		t.Fatal("scratch refused")
	}
	c.EndScratch()
	if c.State().IsPlaying {
		t.Error("scratch end resumed a deck that was paused before the gesture")
	}
}

// --- Follower clock ---

type fakeFollower struct {
	time    float64
	playing bool
}

func (f *fakeFollower) CurrentTime() float64     { return f.time }
func (f *fakeFollower) SetCurrentTime(s float64) { f.time = s }
func (f *fakeFollower) Play()                    { f.playing = true }
func (f *fakeFollower) Pause()                   { f.playing = false }

func TestSyncFollowerSnapsPastThreshold(t *testing.T) {
	c := newTestDeck(t)
	f := &fakeFollower{}
	c.SetFollower(f)
	loadTestTrack(t, c, true)
	c.Seek(0.9)

	// small drift left alone
	f.time = 0.7
	c.SyncFollower()
	if f.time != 0.7 {
		t.Errorf("follower snapped at 0.2s drift: %v", f.time)
	}

	// large drift snapped
	f.time = 0.1
	c.SyncFollower()
	if math.Abs(f.time-0.9) > 1e-9 {
		t.Errorf("follower not snapped, time = %v", f.time)
	}
}

func TestFollowerTransportCoupling(t *testing.T) {
	c := newTestDeck(t)
	f := &fakeFollower{time: 42}
	c.SetFollower(f)
	loadTestTrack(t, c, true)

	if !f.playing || f.time != 0 {
		t.Errorf("load did not reset follower: playing=%v time=%v", f.playing, f.time)
	}

	c.TogglePlayPause()
	if f.playing {
		t.Error("pause not mirrored to follower")
	}

	c.Seek(0.5)
	if f.time != 0.5 {
		t.Errorf("seek not mirrored to follower: %v", f.time)
	}
}

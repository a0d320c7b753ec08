// Package deck owns one playback deck: its declarative state, its transport
// over a decoded PCM buffer, and the per-deck graph nodes kept consistent
// with that state.
package deck

import (
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/fadewerk/duodeck/internal/audio"
	"github.com/fadewerk/duodeck/internal/graph"
)

// Control mappings shared by deck and master EQ surfaces. Controls are 0-100
// with 50 as center.

// TrimGain maps a 0-100 control to linear trim: 50 = unity, 100 = double,
// 0 = silence.
func TrimGain(value float64) float64 {
	return clamp(value, 0, 100) / 50
}

// EQGainDB maps a 0-100 control to a +/-12 dB band gain centered at 50.
func EQGainDB(value float64) float64 {
	return (clamp(value, 0, 100) - 50) * 12 / 50
}

// NormalizedToFrequency maps a [0,1] control to 20 Hz - 20 kHz on a log
// scale, giving perceptually linear filter sweeps.
func NormalizedToFrequency(v float64) float64 {
	return 20 * math.Pow(20000.0/20.0, clamp(v, 0, 1))
}

// FrequencyToNormalized is the inverse mapping, clamped at the range edges.
func FrequencyToNormalized(freq float64) float64 {
	v := (math.Log(freq) - math.Log(20)) / (math.Log(20000) - math.Log(20))
	return clamp(v, 0, 1)
}

// State is the declarative per-deck state. It is reset wholesale by
// LoadTrack and mutated field-by-field by the controls; it is never
// destroyed.
type State struct {
	Track                   audio.Track `json:"track"`
	IsPlaying               bool        `json:"isPlaying"`
	Progress                float64     `json:"progress"` // seconds
	Duration                float64     `json:"duration"` // seconds
	PlaybackRate            float64     `json:"playbackRate"`
	FilterFreq              float64     `json:"filterFreq"`
	Loop                    bool        `json:"loop"`
	Gain                    float64     `json:"gain"`   // 0-100, 50 = unity
	EQHigh                  float64     `json:"eqHigh"` // 0-100, 50 = 0 dB
	EQMid                   float64     `json:"eqMid"`
	EQLow                   float64     `json:"eqLow"`
	DrumInputVolume         float64     `json:"drumInputVolume"` // 0-100 percent
	WasPlayingBeforeScratch bool        `json:"-"`
}

// DefaultState returns the "no signal" state every deck starts from.
func DefaultState() State {
	return State{
		PlaybackRate:    1,
		FilterFreq:      20000,
		Gain:            50,
		EQHigh:          50,
		EQMid:           50,
		EQLow:           50,
		DrumInputVolume: 100,
	}
}

// Follower is a secondary clock slaved to the deck's audio transport, e.g.
// a paired video element. Audio is the timing master: when the clocks
// diverge past the snap threshold the follower is forced back.
type Follower interface {
	CurrentTime() float64
	SetCurrentTime(seconds float64)
	Play()
	Pause()
}

// followerSnapSeconds is the drift past which the follower clock is snapped
// to the audio clock.
const followerSnapSeconds = 0.5

// Loader decodes a track source into interleaved stereo float samples.
type Loader func(src string) ([]float64, error)

// Controller drives one deck. It holds a non-owning graph handle and
// null-checks before use, since the graph is built asynchronously relative
// to controller construction.
type Controller struct {
	mu sync.Mutex

	id    graph.DeckID
	g     *graph.Graph
	state State

	buffer     []float64 // decoded track, interleaved stereo
	pos        float64   // playhead in frames, fractional for pitch
	scratching bool

	follower   Follower
	playerMode bool
	loader     Loader

	// onAdvance is consulted by OnEnded in player mode; it returns true if
	// a next playlist track was started instead of stopping.
	onAdvance func() bool
	// onEmptyPlay fires when TogglePlayPause is hit with no loaded source
	// in player mode.
	onEmptyPlay func()
}

// New returns a controller for the given deck bound to the graph.
func New(id graph.DeckID, g *graph.Graph) *Controller {
	c := &Controller{
		id:     id,
		g:      g,
		state:  DefaultState(),
		loader: audio.DecodeFileFloat,
	}
	if g != nil {
		g.SetDeckReader(id, c.readBlock)
	}
	return c
}

// ID returns which deck this controller drives.
func (c *Controller) ID() graph.DeckID { return c.id }

// SetLoader overrides the track decoder (tests inject synthetic buffers).
func (c *Controller) SetLoader(l Loader) {
	c.mu.Lock()
	c.loader = l
	c.mu.Unlock()
}

// SetPlayerMode marks this deck as the player-mode primary deck.
func (c *Controller) SetPlayerMode(on bool) {
	c.mu.Lock()
	c.playerMode = on
	c.mu.Unlock()
}

// SetAdvanceFunc sets the playlist-advance hook used by OnEnded.
func (c *Controller) SetAdvanceFunc(fn func() bool) {
	c.mu.Lock()
	c.onAdvance = fn
	c.mu.Unlock()
}

// SetEmptyPlayFunc sets the hook fired when play is hit on an empty deck in
// player mode.
func (c *Controller) SetEmptyPlayFunc(fn func()) {
	c.mu.Lock()
	c.onEmptyPlay = fn
	c.mu.Unlock()
}

// SetFollower attaches or detaches (nil) the paired follower clock.
func (c *Controller) SetFollower(f Follower) {
	c.mu.Lock()
	c.follower = f
	c.mu.Unlock()
}

// State returns a snapshot of the deck state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Position returns the playhead in seconds.
func (c *Controller) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos / audio.SampleRate
}

// Duration returns the loaded track length in seconds, 0 when empty.
func (c *Controller) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Duration
}

// LoadTrack decodes the track and resets the deck wholesale: every
// per-track field and control returns to defaults except the new track and
// the requested autoplay. Any active scratch is implicitly cancelled by the
// reset.
func (c *Controller) LoadTrack(track audio.Track, autoplay bool) error {
	if track.IsZero() {
		return fmt.Errorf("load track %q: no audio source", track.Title)
	}

	c.mu.Lock()
	loader := c.loader
	c.mu.Unlock()

	buf, err := loader(track.AudioSrc)
	if err != nil {
		return fmt.Errorf("load track %q: %w", track.Title, err)
	}

	c.mu.Lock()
	c.state = DefaultState()
	c.state.Track = track
	c.state.Duration = audio.Seconds(buf)
	c.state.IsPlaying = autoplay
	c.buffer = buf
	c.pos = 0
	c.scratching = false
	follower := c.follower
	c.mu.Unlock()

	c.applyAll()
	if follower != nil {
		follower.SetCurrentTime(0)
		if autoplay {
			follower.Play()
		} else {
			follower.Pause()
		}
	}
	log.Printf("deck %s loaded: %s - %s (%.1fs, autoplay=%v)",
		c.id, track.Artist, track.Title, audio.Seconds(buf), autoplay)
	return nil
}

// applyAll pushes the full declarative state into the live graph nodes; the
// reactive layer calls it after the graph comes up so state set before
// construction is not lost.
func (c *Controller) applyAll() {
	c.mu.Lock()
	s := c.state
	c.mu.Unlock()
	if c.g == nil {
		return
	}
	c.g.SetDeckTrim(c.id, TrimGain(s.Gain))
	c.g.SetDeckEQ(c.id, graph.BandLow, EQGainDB(s.EQLow))
	c.g.SetDeckEQ(c.id, graph.BandMid, EQGainDB(s.EQMid))
	c.g.SetDeckEQ(c.id, graph.BandHigh, EQGainDB(s.EQHigh))
	c.g.SetDeckFilterFreq(c.id, s.FilterFreq)
	if c.g.RoutedDeck() == c.id {
		c.g.SetDrumGain(c.id, s.DrumInputVolume/100)
	}
}

// Apply re-applies declarative state to the live nodes. Exposed for the
// engine's observer pass.
func (c *Controller) Apply() { c.applyAll() }

// TogglePlayPause flips transport state. With no loaded source it is a
// no-op, except in player mode where it triggers playlist playback.
func (c *Controller) TogglePlayPause() {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		playerMode, hook := c.playerMode, c.onEmptyPlay
		c.mu.Unlock()
		if playerMode && hook != nil {
			hook()
		}
		return
	}
	c.state.IsPlaying = !c.state.IsPlaying
	playing := c.state.IsPlaying
	follower := c.follower
	c.mu.Unlock()

	if follower != nil {
		if playing {
			follower.Play()
		} else {
			follower.Pause()
		}
	}
}

// Seek moves the playhead to the given position in seconds, clamped to the
// track bounds, and snaps the follower clock.
func (c *Controller) Seek(seconds float64) {
	c.mu.Lock()
	seconds = clamp(seconds, 0, c.state.Duration)
	c.pos = seconds * audio.SampleRate
	c.state.Progress = seconds
	follower := c.follower
	c.mu.Unlock()

	if follower != nil {
		follower.SetCurrentTime(seconds)
	}
}

// SetPitch sets the playback rate. Non-positive rates are ignored.
func (c *Controller) SetPitch(rate float64) {
	if rate <= 0 {
		return
	}
	c.mu.Lock()
	c.state.PlaybackRate = rate
	c.mu.Unlock()
}

// SetFilter takes a normalized [0,1] control and maps it logarithmically
// onto the deck's low-pass cutoff.
func (c *Controller) SetFilter(normalized float64) {
	freq := NormalizedToFrequency(normalized)
	c.mu.Lock()
	c.state.FilterFreq = freq
	c.mu.Unlock()
	if c.g != nil {
		c.g.SetDeckFilterFreq(c.id, freq)
	}
}

// SetGain sets the 0-100 trim control.
func (c *Controller) SetGain(value float64) {
	value = clamp(value, 0, 100)
	c.mu.Lock()
	c.state.Gain = value
	c.mu.Unlock()
	if c.g != nil {
		c.g.SetDeckTrim(c.id, TrimGain(value))
	}
}

// SetEQ sets one 0-100 EQ band control.
func (c *Controller) SetEQ(band graph.EQBand, value float64) {
	value = clamp(value, 0, 100)
	c.mu.Lock()
	switch band {
	case graph.BandLow:
		c.state.EQLow = value
	case graph.BandMid:
		c.state.EQMid = value
	case graph.BandHigh:
		c.state.EQHigh = value
	default:
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if c.g != nil {
		c.g.SetDeckEQ(c.id, band, EQGainDB(value))
	}
}

// SetDrumInputVolume sets the 0-100 gain applied to a routed drum signal.
// It only reaches the live tap while this deck is the routed one.
func (c *Controller) SetDrumInputVolume(value float64) {
	value = clamp(value, 0, 100)
	c.mu.Lock()
	c.state.DrumInputVolume = value
	c.mu.Unlock()
	if c.g != nil && c.g.RoutedDeck() == c.id {
		c.g.SetDrumGain(c.id, value/100)
	}
}

// ToggleLoop flips the loop flag.
func (c *Controller) ToggleLoop() {
	c.mu.Lock()
	c.state.Loop = !c.state.Loop
	c.mu.Unlock()
}

// Pause stops playback without touching the playhead. Used when the deck
// becomes a pass-through for the routed drum bus.
func (c *Controller) Pause() {
	c.mu.Lock()
	c.state.IsPlaying = false
	follower := c.follower
	c.mu.Unlock()
	if follower != nil {
		follower.Pause()
	}
}

// OnEnded handles transport reaching the end of the track with looping off:
// position resets to zero and playback stops, unless this is the
// player-mode primary deck and the playlist has a next track, in which case
// it advances instead.
func (c *Controller) OnEnded() {
	c.mu.Lock()
	playerMode, advance := c.playerMode, c.onAdvance
	c.mu.Unlock()

	if playerMode && advance != nil && advance() {
		return
	}

	c.mu.Lock()
	c.pos = 0
	c.state.Progress = 0
	c.state.IsPlaying = false
	follower := c.follower
	c.mu.Unlock()
	if follower != nil {
		follower.Pause()
		follower.SetCurrentTime(0)
	}
}

// SyncFollower snaps the follower clock to the audio clock when they have
// diverged past the threshold. No-op while paused or mid-scratch.
func (c *Controller) SyncFollower() {
	c.mu.Lock()
	follower := c.follower
	playing, scratching := c.state.IsPlaying, c.scratching
	pos := c.pos / audio.SampleRate
	c.mu.Unlock()

	if follower == nil || !playing || scratching {
		return
	}
	if math.Abs(follower.CurrentTime()-pos) > followerSnapSeconds {
		follower.SetCurrentTime(pos)
	}
}

// BeginScratch enters the scratch gesture: records whether the deck was
// playing, pauses playback, and marks the transport as scratch-held.
// Returns false (no-op) when the deck has no duration or its audio is
// currently supplied by the routed drum bus.
func (c *Controller) BeginScratch() bool {
	if c.g != nil && c.g.RoutedDeck() == c.id {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Duration == 0 {
		return false
	}
	c.state.WasPlayingBeforeScratch = c.state.IsPlaying
	c.state.IsPlaying = false
	c.scratching = true
	return true
}

// AdvanceBy nudges the playhead by delta seconds, clamped to the track
// bounds. Scratch touches only transport position, never pitch or any other
// parameter.
func (c *Controller) AdvanceBy(delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seconds := clamp(c.pos/audio.SampleRate+delta, 0, c.state.Duration)
	c.pos = seconds * audio.SampleRate
	c.state.Progress = seconds
}

// EndScratch leaves the gesture; if the deck was playing before the scratch
// started, playback resumes and the follower clock is resynced.
func (c *Controller) EndScratch() {
	c.mu.Lock()
	wasPlaying := c.state.WasPlayingBeforeScratch
	c.scratching = false
	c.state.WasPlayingBeforeScratch = false
	if wasPlaying {
		c.state.IsPlaying = true
	}
	pos := c.pos / audio.SampleRate
	follower := c.follower
	c.mu.Unlock()

	if wasPlaying && follower != nil {
		follower.SetCurrentTime(pos)
		follower.Play()
	}
}

// Scratching reports whether a scratch gesture currently holds the deck.
func (c *Controller) Scratching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scratching
}

// readBlock is the graph source callback: it renders one block from the
// decoded buffer at the current playback rate using linear interpolation.
func (c *Controller) readBlock(dst []float64) {
	c.mu.Lock()

	totalFrames := len(c.buffer) / audio.Channels
	if !c.state.IsPlaying || totalFrames < 2 {
		c.mu.Unlock()
		for i := range dst {
			dst[i] = 0
		}
		return
	}

	ended := false
	frames := len(dst) / audio.Channels
	for i := 0; i < frames; i++ {
		if c.pos >= float64(totalFrames-1) {
			if c.state.Loop {
				c.pos = 0
			} else {
				// Latch the stop here so the next quantum renders silence
				// instead of re-triggering the ended handler while a slow
				// playlist advance is still decoding. A successful advance
				// re-arms playback through LoadTrack.
				ended = true
				c.state.IsPlaying = false
				for j := i * audio.Channels; j < len(dst); j++ {
					dst[j] = 0
				}
				break
			}
		}
		i0 := int(c.pos)
		frac := c.pos - float64(i0)
		l := c.buffer[2*i0]*(1-frac) + c.buffer[2*(i0+1)]*frac
		r := c.buffer[2*i0+1]*(1-frac) + c.buffer[2*(i0+1)+1]*frac
		dst[2*i] = l
		dst[2*i+1] = r
		c.pos += c.state.PlaybackRate
	}
	c.state.Progress = c.pos / audio.SampleRate
	c.mu.Unlock()

	if ended {
		// Off the render path: ending may cascade into a playlist advance
		// and a decode.
		go c.OnEnded()
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

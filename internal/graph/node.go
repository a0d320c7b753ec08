package graph

import (
	"math"
	"sync"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"

	"github.com/fadewerk/duodeck/internal/audio"
)

// Source supplies one interleaved stereo render block. Implementations must
// fill dst completely; silence is all zeros, never a short read.
type Source interface {
	ReadBlock(dst []float64)
}

// SilentSource is the shared zero-gain placeholder feed. Keeping every drum
// tap connected to it when unrouted means the tap always has exactly one
// upstream source and no edge is ever left dangling.
type SilentSource struct{}

func (SilentSource) ReadBlock(dst []float64) {
	for i := range dst {
		dst[i] = 0
	}
}

// BufferSource adapts a pull callback (a deck transport, the mic capture)
// into a graph source. With no reader bound it produces silence, which is
// the "resource unavailable" degradation: silent, not an error.
type BufferSource struct {
	mu     sync.Mutex
	reader func(dst []float64)
}

// SetReader binds or clears (nil) the upstream callback.
func (s *BufferSource) SetReader(fn func(dst []float64)) {
	s.mu.Lock()
	s.reader = fn
	s.mu.Unlock()
}

func (s *BufferSource) ReadBlock(dst []float64) {
	s.mu.Lock()
	fn := s.reader
	s.mu.Unlock()
	if fn == nil {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	fn(dst)
}

// Gain is a linear gain stage. Writes are last-write-wins and applied at the
// next render quantum.
type Gain struct {
	mu   sync.Mutex
	gain float64
}

func NewGain(g float64) *Gain {
	return &Gain{gain: g}
}

func (g *Gain) Set(v float64) {
	g.mu.Lock()
	g.gain = v
	g.mu.Unlock()
}

func (g *Gain) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gain
}

func (g *Gain) Process(block []float64) {
	v := g.Value()
	for i := range block {
		block[i] *= v
	}
}

// BiquadKind selects the filter response of a Biquad node.
type BiquadKind int

const (
	LowShelf BiquadKind = iota
	Peaking
	HighShelf
	Lowpass
)

// Biquad is a stereo second-order filter node built on algo-dsp RBJ designs,
// one section per channel. Parameter changes redesign the coefficients in
// place; filter state is preserved so retunes do not click.
type Biquad struct {
	mu          sync.Mutex
	kind        BiquadKind
	freq        float64
	gainDB      float64
	q           float64
	left, right *biquad.Section
}

func NewBiquad(kind BiquadKind, freq, gainDB, q float64) *Biquad {
	b := &Biquad{kind: kind, freq: freq, gainDB: gainDB, q: q}
	c := b.design()
	b.left = biquad.NewSection(c)
	b.right = biquad.NewSection(c)
	return b
}

func (b *Biquad) design() biquad.Coefficients {
	switch b.kind {
	case LowShelf:
		return design.LowShelf(b.freq, b.gainDB, b.q, audio.SampleRate)
	case Peaking:
		return design.Peak(b.freq, b.gainDB, b.q, audio.SampleRate)
	case HighShelf:
		return design.HighShelf(b.freq, b.gainDB, b.q, audio.SampleRate)
	case Lowpass:
		return design.Lowpass(b.freq, b.q, audio.SampleRate)
	}
	return biquad.Coefficients{B0: 1}
}

func (b *Biquad) retune() {
	c := b.design()
	b.left.Coefficients = c
	b.right.Coefficients = c
}

// SetFrequency retunes the filter's corner/center frequency (Hz).
func (b *Biquad) SetFrequency(freq float64) {
	b.mu.Lock()
	b.freq = freq
	b.retune()
	b.mu.Unlock()
}

// SetGainDB retunes the filter's gain. No effect on Lowpass.
func (b *Biquad) SetGainDB(db float64) {
	b.mu.Lock()
	b.gainDB = db
	b.retune()
	b.mu.Unlock()
}

// Frequency returns the current corner/center frequency.
func (b *Biquad) Frequency() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.freq
}

// GainDB returns the current filter gain.
func (b *Biquad) GainDB() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gainDB
}

func (b *Biquad) Process(block []float64) {
	b.mu.Lock()
	for i := 0; i+1 < len(block); i += 2 {
		block[i] = b.left.ProcessSample(block[i])
		block[i+1] = b.right.ProcessSample(block[i+1])
	}
	b.mu.Unlock()
}

// Widener is the surround enhancement: a fixed-magnitude mid/side stereo
// widener engaged by a boolean toggle.
type Widener struct {
	mu      sync.Mutex
	enabled bool
	width   float64
}

func NewWidener(width float64) *Widener {
	return &Widener{width: width}
}

func (w *Widener) SetEnabled(on bool) {
	w.mu.Lock()
	w.enabled = on
	w.mu.Unlock()
}

func (w *Widener) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

func (w *Widener) Process(block []float64) {
	w.mu.Lock()
	on, width := w.enabled, w.width
	w.mu.Unlock()
	if !on {
		return
	}
	for i := 0; i+1 < len(block); i += 2 {
		mid := (block[i] + block[i+1]) / 2
		side := (block[i] - block[i+1]) / 2 * width
		block[i] = mid + side
		block[i+1] = mid - side
	}
}

// Analyser is a pass-through tap that keeps a copy of the last block it saw
// for VU metering.
type Analyser struct {
	mu   sync.Mutex
	last []float64
}

func NewAnalyser() *Analyser {
	return &Analyser{last: make([]float64, audio.FrameSamples)}
}

func (a *Analyser) Process(block []float64) {
	a.mu.Lock()
	if len(a.last) != len(block) {
		a.last = make([]float64, len(block))
	}
	copy(a.last, block)
	a.mu.Unlock()
}

// Snapshot returns a copy of the most recent block.
func (a *Analyser) Snapshot() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float64, len(a.last))
	copy(out, a.last)
	return out
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

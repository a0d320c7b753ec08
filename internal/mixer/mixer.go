// Package mixer derives crossfade and master-bus coefficients from user
// controls and computes VU levels from the graph's analysis taps.
package mixer

import (
	"context"
	"math"
	"sync"
	"time"

	stattime "github.com/cwbudde/algo-dsp/stats/time"

	"github.com/fadewerk/duodeck/internal/deck"
	"github.com/fadewerk/duodeck/internal/graph"
)

// State is the single global mixer state, mutated by user controls and
// consumed continuously.
type State struct {
	Crossfade    float64    `json:"crossfade"`    // -1 full A .. +1 full B
	MasterVolume float64    `json:"masterVolume"` // 0..1 linear
	EQ           [5]float64 `json:"eq"`           // 0-100 per band, 50 = 0 dB
	BassBoost    bool       `json:"bassBoost"`
	Surround     bool       `json:"surround"`
}

// DefaultState centers every control.
func DefaultState() State {
	return State{
		MasterVolume: 1,
		EQ:           [5]float64{50, 50, 50, 50, 50},
	}
}

// CrossfadeGains maps a [-1,1] crossfader position to per-deck gains using
// an equal-power law. A linear fade dips audibly in the middle; cosine gains
// keep gainA^2 + gainB^2 == 1 across the sweep.
func CrossfadeGains(c float64) (gainA, gainB float64) {
	c = math.Min(1, math.Max(-1, c))
	x := (c + 1) / 2
	return math.Cos(x * math.Pi / 2), math.Cos((1 - x) * math.Pi / 2)
}

// Levels is one VU reading per metered channel, each normalized to [0,1].
type Levels struct {
	DeckA  float64 `json:"deckA"`
	DeckB  float64 `json:"deckB"`
	Master float64 `json:"master"`
	Mic    float64 `json:"mic"`
}

// Mixer applies the mixer state to the live graph and runs the metering
// loop. It holds a non-owning graph handle.
type Mixer struct {
	mu    sync.Mutex
	g     *graph.Graph
	state State
	vu    Levels

	micMeter *micMeter
}

func New(g *graph.Graph) *Mixer {
	return &Mixer{
		g:        g,
		state:    DefaultState(),
		micMeter: newMicMeter(),
	}
}

// State returns a snapshot of the mixer state.
func (m *Mixer) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetCrossfade moves the crossfader and applies the equal-power gains to
// both deck level nodes.
func (m *Mixer) SetCrossfade(c float64) {
	c = math.Min(1, math.Max(-1, c))
	m.mu.Lock()
	m.state.Crossfade = c
	m.mu.Unlock()

	gainA, gainB := CrossfadeGains(c)
	if m.g != nil {
		m.g.SetDeckLevel(graph.DeckA, gainA)
		m.g.SetDeckLevel(graph.DeckB, gainB)
	}
}

// SetMasterVolume applies a direct linear gain on the master bus.
func (m *Mixer) SetMasterVolume(v float64) {
	v = math.Min(1, math.Max(0, v))
	m.mu.Lock()
	m.state.MasterVolume = v
	m.mu.Unlock()
	if m.g != nil {
		m.g.SetMasterGain(v)
	}
}

// SetEQ sets one of the five master bands with the same 0-100 -> dB mapping
// as the per-deck EQ.
func (m *Mixer) SetEQ(band int, value float64) {
	if band < 0 || band >= len(m.state.EQ) {
		return
	}
	value = math.Min(100, math.Max(0, value))
	m.mu.Lock()
	m.state.EQ[band] = value
	m.mu.Unlock()
	if m.g != nil {
		m.g.SetMasterEQ(band, deck.EQGainDB(value))
	}
}

// SetBassBoost toggles the fixed +6 dB low-shelf.
func (m *Mixer) SetBassBoost(on bool) {
	m.mu.Lock()
	m.state.BassBoost = on
	m.mu.Unlock()
	if m.g != nil {
		m.g.SetBassBoost(on)
	}
}

// SetSurround toggles the stereo enhancement.
func (m *Mixer) SetSurround(on bool) {
	m.mu.Lock()
	m.state.Surround = on
	m.mu.Unlock()
	if m.g != nil {
		m.g.SetSurround(on)
	}
}

// Apply re-applies the whole mixer state to the live nodes; the engine's
// observer pass calls this after the graph comes up.
func (m *Mixer) Apply() {
	m.mu.Lock()
	s := m.state
	m.mu.Unlock()

	m.SetCrossfade(s.Crossfade)
	m.SetMasterVolume(s.MasterVolume)
	for i, v := range s.EQ {
		m.SetEQ(i, v)
	}
	m.SetBassBoost(s.BassBoost)
	m.SetSurround(s.Surround)
}

// Levels returns the latest VU readings.
func (m *Mixer) Levels() Levels {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vu
}

// meterInterval approximates a display redraw rate.
const meterInterval = 16 * time.Millisecond

// RunMetering updates VU levels on a redraw-rate loop while the render
// context is running; otherwise each tick is a no-op. It exits on ctx
// cancellation, so teardown never orphans the loop.
func (m *Mixer) RunMetering(ctx context.Context) {
	ticker := time.NewTicker(meterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.g == nil || !m.g.Context().Running() {
				continue
			}
			m.measure()
		}
	}
}

// measure reads one VU value per channel. Deck and master channels use the
// time-domain peak; the mic channel uses frequency-domain average magnitude,
// a smoother metric for a noisier signal.
func (m *Mixer) measure() {
	var vu Levels
	vu.DeckA = peakLevel(m.g.DeckTap(graph.DeckA))
	vu.DeckB = peakLevel(m.g.DeckTap(graph.DeckB))
	vu.Master = peakLevel(m.g.MasterTap())
	if m.g.MicEnabled() {
		if tap := m.g.MicTap(); tap != nil {
			vu.Mic = m.micMeter.level(tap.Snapshot())
		}
	}

	m.mu.Lock()
	m.vu = vu
	m.mu.Unlock()
}

func peakLevel(tap *graph.Analyser) float64 {
	if tap == nil {
		return 0
	}
	p := stattime.Peak(tap.Snapshot())
	return math.Min(1, p)
}

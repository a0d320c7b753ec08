package graph

import (
	"log"
	"sync"

	"github.com/fadewerk/duodeck/internal/audio"
)

// DeckID names one of the two playback decks.
type DeckID string

const (
	DeckA DeckID = "A"
	DeckB DeckID = "B"
)

// Valid reports whether the ID names a real deck.
func (id DeckID) Valid() bool {
	return id == DeckA || id == DeckB
}

func (id DeckID) index() int {
	if id == DeckB {
		return 1
	}
	return 0
}

// EQBand names one band of a deck's 3-band EQ.
type EQBand string

const (
	BandLow  EQBand = "low"
	BandMid  EQBand = "mid"
	BandHigh EQBand = "high"
)

// Fixed band frequencies. Deck EQ is the classic DJ 3-band split; the master
// chain is a 5-band shelf/peaking/shelf layout.
const (
	deckLowShelfHz  = 320
	deckMidPeakHz   = 1000
	deckHighShelfHz = 3200
	bassBoostHz     = 200
	bassBoostDB     = 6
	surroundWidth   = 1.6
	defaultShelfQ   = 0.707
	defaultPeakQ    = 1.0
)

var masterBandHz = [5]float64{60, 250, 1000, 4000, 12000}

// deckChain is the per-deck node strip: source -> trim -> (+ drum tap) ->
// low shelf -> peaking -> high shelf -> low-pass -> analyser -> deck gain.
type deckChain struct {
	source   *BufferSource
	trim     *Gain
	drumFeed Source // exactly one upstream: silent source or the drum bus
	drumGain *Gain
	eqLow    *Biquad
	eqMid    *Biquad
	eqHigh   *Biquad
	filter   *Biquad
	tap      *Analyser
	level    *Gain
}

// Graph owns the full node topology: two deck chains and their drum taps, a
// master chain with recording/streaming tap, and a microphone chain that
// stays out of the mix until enabled. The graph exclusively owns node
// lifetime; other components hold non-owning references used only to set
// parameters.
type Graph struct {
	mu    sync.Mutex
	ctx   *Context
	built bool

	silent SilentSource
	decks  [2]*deckChain

	drumBus     Source // sequencer output, rendered once per quantum
	drumRouted  DeckID // "" when unrouted
	drumMonitor *Gain

	masterGain *Gain
	masterEQ   [5]*Biquad
	bassBoost  *Biquad
	surround   *Widener
	masterTap  *Analyser

	micSource  *BufferSource
	micGain    *Gain
	micLow     *Biquad
	micMid     *Biquad
	micHigh    *Biquad
	micFilter  *Biquad
	micTap     *Analyser
	micEnabled bool

	// scratch buffers reused across renders
	deckBuf []float64
	drumBuf []float64
	tapBuf  []float64
	mixBuf  []float64
}

// New returns a graph bound to the given render context. Nodes are not
// created until EnsureBuilt succeeds.
func New(ctx *Context) *Graph {
	return &Graph{ctx: ctx}
}

// EnsureBuilt lazily constructs the node topology. It is idempotent: if the
// graph already exists it is a no-op, and if the context is absent or not
// running, construction is deferred until the next call rather than failing.
func (g *Graph) EnsureBuilt() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.built {
		return
	}
	if g.ctx == nil || !g.ctx.Running() {
		return
	}

	for i := range g.decks {
		g.decks[i] = &deckChain{
			source:   &BufferSource{},
			trim:     NewGain(1),
			drumFeed: g.silent,
			drumGain: NewGain(0),
			eqLow:    NewBiquad(LowShelf, deckLowShelfHz, 0, defaultShelfQ),
			eqMid:    NewBiquad(Peaking, deckMidPeakHz, 0, defaultPeakQ),
			eqHigh:   NewBiquad(HighShelf, deckHighShelfHz, 0, defaultShelfQ),
			filter:   NewBiquad(Lowpass, 20000, 0, defaultPeakQ),
			tap:      NewAnalyser(),
			level:    NewGain(1),
		}
	}

	g.drumMonitor = NewGain(1)

	g.masterGain = NewGain(1)
	for i, hz := range masterBandHz {
		kind := Peaking
		q := defaultPeakQ
		if i == 0 {
			kind = LowShelf
			q = defaultShelfQ
		} else if i == len(masterBandHz)-1 {
			kind = HighShelf
			q = defaultShelfQ
		}
		g.masterEQ[i] = NewBiquad(kind, hz, 0, q)
	}
	g.bassBoost = NewBiquad(LowShelf, bassBoostHz, 0, defaultShelfQ)
	g.surround = NewWidener(surroundWidth)
	g.masterTap = NewAnalyser()

	g.micSource = &BufferSource{}
	g.micGain = NewGain(1)
	g.micLow = NewBiquad(LowShelf, deckLowShelfHz, 0, defaultShelfQ)
	g.micMid = NewBiquad(Peaking, deckMidPeakHz, 0, defaultPeakQ)
	g.micHigh = NewBiquad(HighShelf, deckHighShelfHz, 0, defaultShelfQ)
	g.micFilter = NewBiquad(Lowpass, 20000, 0, defaultPeakQ)
	g.micTap = NewAnalyser()

	g.deckBuf = make([]float64, audio.FrameSamples)
	g.drumBuf = make([]float64, audio.FrameSamples)
	g.tapBuf = make([]float64, audio.FrameSamples)
	g.mixBuf = make([]float64, audio.FrameSamples)

	g.built = true
	log.Println("audio graph built")
}

// Built reports whether the node topology exists yet.
func (g *Graph) Built() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.built
}

// Context returns the graph's render context handle.
func (g *Graph) Context() *Context {
	return g.ctx
}

// deck returns the chain for id, or nil before the graph is built. Callers
// must hold g.mu.
func (g *Graph) deck(id DeckID) *deckChain {
	if !g.built || !id.Valid() {
		return nil
	}
	return g.decks[id.index()]
}

// SetDeckReader binds a deck transport's pull callback to its source node.
func (g *Graph) SetDeckReader(id DeckID, fn func(dst []float64)) {
	g.mu.Lock()
	d := g.deck(id)
	g.mu.Unlock()
	if d != nil {
		d.source.SetReader(fn)
	}
}

// SetDeckTrim sets a deck's trim gain (1 = unity).
func (g *Graph) SetDeckTrim(id DeckID, gain float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d := g.deck(id); d != nil {
		d.trim.Set(gain)
	}
}

// SetDeckEQ sets one deck EQ band's gain in dB.
func (g *Graph) SetDeckEQ(id DeckID, band EQBand, db float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.deck(id)
	if d == nil {
		return
	}
	switch band {
	case BandLow:
		d.eqLow.SetGainDB(db)
	case BandMid:
		d.eqMid.SetGainDB(db)
	case BandHigh:
		d.eqHigh.SetGainDB(db)
	}
}

// SetDeckFilterFreq sets a deck's low-pass cutoff in Hz.
func (g *Graph) SetDeckFilterFreq(id DeckID, freq float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d := g.deck(id); d != nil {
		d.filter.SetFrequency(clamp(freq, 20, 20000))
	}
}

// SetDeckLevel sets a deck's post-tap gain; the crossfader writes here.
func (g *Graph) SetDeckLevel(id DeckID, gain float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d := g.deck(id); d != nil {
		d.level.Set(gain)
	}
}

// SetDrumGain sets a deck's drum-input gain (1 = unity).
func (g *Graph) SetDrumGain(id DeckID, gain float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d := g.deck(id); d != nil {
		d.drumGain.Set(gain)
	}
}

// SetDrumBus registers the sequencer's output bus. The bus is read exactly
// once per render quantum and feeds both the monitor path and whichever deck
// tap is routed.
func (g *Graph) SetDrumBus(src Source) {
	g.mu.Lock()
	g.drumBus = src
	g.mu.Unlock()
}

// RouteDrum patches the drum bus into the given deck's drum tap. Routing is
// mutually exclusive between decks: the other deck's tap falls back to the
// shared silent source at zero gain. The tap's upstream edge is replaced
// atomically; it is never left floating.
func (g *Graph) RouteDrum(id DeckID, gain float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.built || !id.Valid() {
		return
	}
	for i := range g.decks {
		if i == id.index() {
			continue
		}
		g.decks[i].drumFeed = g.silent
		g.decks[i].drumGain.Set(0)
	}
	d := g.decks[id.index()]
	d.drumFeed = drumBusFeed{g}
	d.drumGain.Set(gain)
	g.drumRouted = id
	log.Printf("drum bus routed to deck %s", id)
}

// UnrouteDrum returns every drum tap to the shared silent source at zero
// gain.
func (g *Graph) UnrouteDrum() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.built {
		return
	}
	for i := range g.decks {
		g.decks[i].drumFeed = g.silent
		g.decks[i].drumGain.Set(0)
	}
	g.drumRouted = ""
	log.Println("drum bus unrouted")
}

// RoutedDeck returns which deck the drum bus feeds, or "" when unrouted.
func (g *Graph) RoutedDeck() DeckID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.drumRouted
}

// drumBusFeed reads the drum block rendered for the current quantum. The
// indirection keeps "read the sequencer once per quantum" true even while a
// deck tap and the monitor path both consume it.
type drumBusFeed struct{ g *Graph }

func (f drumBusFeed) ReadBlock(dst []float64) {
	copy(dst, f.g.drumBuf)
}

// Master controls.

func (g *Graph) SetMasterGain(gain float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.built {
		g.masterGain.Set(gain)
	}
}

// SetMasterEQ sets one of the five master bands (0..4, low to high) in dB.
func (g *Graph) SetMasterEQ(band int, db float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.built && band >= 0 && band < len(g.masterEQ) {
		g.masterEQ[band].SetGainDB(db)
	}
}

// SetBassBoost toggles the fixed +6 dB low-shelf boost.
func (g *Graph) SetBassBoost(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.built {
		return
	}
	if on {
		g.bassBoost.SetGainDB(bassBoostDB)
	} else {
		g.bassBoost.SetGainDB(0)
	}
}

// SetSurround toggles the fixed-width stereo widener.
func (g *Graph) SetSurround(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.built {
		g.surround.SetEnabled(on)
	}
}

// Microphone controls. The mic chain is built with everything else but only
// sums into the master bus while enabled.

func (g *Graph) SetMicReader(fn func(dst []float64)) {
	g.mu.Lock()
	src := g.micSource
	g.mu.Unlock()
	if src != nil {
		src.SetReader(fn)
	}
}

func (g *Graph) SetMicEnabled(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.built {
		g.micEnabled = on
	}
}

func (g *Graph) MicEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.micEnabled
}

func (g *Graph) SetMicGain(gain float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.built {
		g.micGain.Set(gain)
	}
}

// Analysis taps. Nil before the graph is built; callers null-check per the
// shared-resource policy.

func (g *Graph) DeckTap(id DeckID) *Analyser {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d := g.deck(id); d != nil {
		return d.tap
	}
	return nil
}

func (g *Graph) MasterTap() *Analyser {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.masterTap
}

func (g *Graph) MicTap() *Analyser {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.micTap
}

// Render produces one master-bus block into dst. Before the graph is built,
// or once the context stops running, dst is zeroed and the call is a no-op.
func (g *Graph) Render(dst []float64) {
	for i := range dst {
		dst[i] = 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.built || !g.ctx.Running() {
		return
	}

	// Render the drum bus once for this quantum; deck taps and the monitor
	// path both read this copy.
	if g.drumBus != nil {
		g.drumBus.ReadBlock(g.drumBuf)
	} else {
		for i := range g.drumBuf {
			g.drumBuf[i] = 0
		}
	}

	for i := range g.mixBuf {
		g.mixBuf[i] = 0
	}

	for _, d := range g.decks {
		d.source.ReadBlock(g.deckBuf)
		d.trim.Process(g.deckBuf)

		// Drum tap mixes into the low-shelf input alongside the trimmed
		// track signal. The tap always has exactly one upstream: the
		// silent source, or the drum bus copy for this quantum.
		d.drumFeed.ReadBlock(g.tapBuf)
		gain := d.drumGain.Value()
		for i := range g.deckBuf {
			g.deckBuf[i] += g.tapBuf[i] * gain
		}

		d.eqLow.Process(g.deckBuf)
		d.eqMid.Process(g.deckBuf)
		d.eqHigh.Process(g.deckBuf)
		d.filter.Process(g.deckBuf)
		d.tap.Process(g.deckBuf)
		d.level.Process(g.deckBuf)

		for i := range g.mixBuf {
			g.mixBuf[i] += g.deckBuf[i]
		}
	}

	// Sequencer monitor path: the drum bus is always audible on the master
	// bus regardless of deck routing.
	monitor := g.drumMonitor.Value()
	for i := range g.mixBuf {
		g.mixBuf[i] += g.drumBuf[i] * monitor
	}

	if g.micEnabled {
		g.micSource.ReadBlock(g.deckBuf)
		g.micGain.Process(g.deckBuf)
		g.micLow.Process(g.deckBuf)
		g.micMid.Process(g.deckBuf)
		g.micHigh.Process(g.deckBuf)
		g.micFilter.Process(g.deckBuf)
		g.micTap.Process(g.deckBuf)
		for i := range g.mixBuf {
			g.mixBuf[i] += g.deckBuf[i]
		}
	}

	g.masterGain.Process(g.mixBuf)
	for _, eq := range g.masterEQ {
		eq.Process(g.mixBuf)
	}
	g.bassBoost.Process(g.mixBuf)
	g.surround.Process(g.mixBuf)
	g.masterTap.Process(g.mixBuf)

	copy(dst, g.mixBuf)
}

package graph

import (
	"math"
	"testing"

	"github.com/fadewerk/duodeck/internal/audio"
)

// --- Render context ---

func TestContextLifecycle(t *testing.T) {
	ctx := NewContext()
	if ctx.State() != StateSuspended {
		t.Fatalf("new context state = %v, want suspended", ctx.State())
	}

	ctx.Ensure()
	if !ctx.Running() {
		t.Fatal("context not running after Ensure")
	}
	ctx.Ensure() // idempotent
	if !ctx.Running() {
		t.Fatal("second Ensure broke the running state")
	}

	ctx.Shutdown()
	if ctx.State() != StateClosed {
		t.Fatalf("state after Shutdown = %v, want closed", ctx.State())
	}
	ctx.Ensure() // closed stays closed
	if ctx.State() != StateClosed {
		t.Error("Ensure resurrected a closed context")
	}
}

// --- Lazy build ---

func TestEnsureBuiltDeferredUntilRunning(t *testing.T) {
	ctx := NewContext()
	g := New(ctx)

	g.EnsureBuilt()
	if g.Built() {
		t.Fatal("graph built while context suspended")
	}

	ctx.Ensure()
	g.EnsureBuilt()
	if !g.Built() {
		t.Fatal("graph not built after context started running")
	}

	g.EnsureBuilt() // idempotent
	if !g.Built() {
		t.Fatal("repeat EnsureBuilt broke the graph")
	}
}

func TestRenderSilentBeforeBuild(t *testing.T) {
	g := New(NewContext())
	dst := make([]float64, audio.FrameSamples)
	dst[0] = 99
	g.Render(dst)
	for i, v := range dst {
		if v != 0 {
			t.Fatalf("unbuilt render produced dst[%d]=%v", i, v)
		}
	}
}

func TestRenderSilentAfterShutdown(t *testing.T) {
	g, ctx := builtGraph(t)
	g.SetDeckReader(DeckA, constReader(0.5))

	dst := make([]float64, audio.FrameSamples)
	g.Render(dst)
	if rms(dst) == 0 {
		t.Fatal("running render produced silence")
	}

	ctx.Shutdown()
	g.Render(dst)
	if rms(dst) != 0 {
		t.Fatal("render after shutdown not silent")
	}
}

// --- Signal flow ---

func TestRenderPassesDeckSignal(t *testing.T) {
	g, _ := builtGraph(t)
	g.SetDeckReader(DeckA, constReader(0.5))

	dst := make([]float64, audio.FrameSamples)
	// let the filter states settle on the DC input
	for i := 0; i < 5; i++ {
		g.Render(dst)
	}

	if got := dst[len(dst)-2]; math.Abs(got-0.5) > 0.05 {
		t.Errorf("unity chain output = %v, want ~0.5", got)
	}
}

func TestDeckLevelScalesOutput(t *testing.T) {
	g, _ := builtGraph(t)
	g.SetDeckReader(DeckA, constReader(0.5))
	g.SetDeckLevel(DeckA, 0)

	dst := make([]float64, audio.FrameSamples)
	for i := 0; i < 5; i++ {
		g.Render(dst)
	}
	if rms(dst) > 1e-9 {
		t.Errorf("zero deck level leaked signal, rms=%v", rms(dst))
	}
}

// --- Drum routing ---

func TestRouteDrumMutualExclusion(t *testing.T) {
	g, _ := builtGraph(t)

	g.RouteDrum(DeckA, 1)
	if g.RoutedDeck() != DeckA {
		t.Fatalf("routed = %q, want A", g.RoutedDeck())
	}

	g.RouteDrum(DeckB, 0.5)
	if g.RoutedDeck() != DeckB {
		t.Fatalf("routed = %q, want B", g.RoutedDeck())
	}
	// deck A's tap must have fallen back to the silent source
	if _, ok := g.decks[0].drumFeed.(SilentSource); !ok {
		t.Error("deck A drum feed not returned to silent source")
	}
	if g.decks[0].drumGain.Value() != 0 {
		t.Error("deck A drum gain not zeroed on reroute")
	}

	g.UnrouteDrum()
	if g.RoutedDeck() != "" {
		t.Errorf("routed after unroute = %q, want empty", g.RoutedDeck())
	}
	for i := range g.decks {
		if _, ok := g.decks[i].drumFeed.(SilentSource); !ok {
			t.Errorf("deck %d feed not silent after unroute", i)
		}
	}
}

func TestDrumBusReadOncePerQuantum(t *testing.T) {
	g, _ := builtGraph(t)
	src := &countingSource{value: 0.25}
	g.SetDrumBus(src)
	g.RouteDrum(DeckA, 1)

	dst := make([]float64, audio.FrameSamples)
	g.Render(dst)

	// monitor path and the routed tap both consume the bus, but the
	// sequencer itself must only be pulled once
	if src.reads != 1 {
		t.Errorf("drum bus read %d times in one quantum, want 1", src.reads)
	}
}

func TestRoutedDrumLouderThanMonitorOnly(t *testing.T) {
	g, _ := builtGraph(t)
	g.SetDrumBus(&countingSource{value: 0.25})

	dst := make([]float64, audio.FrameSamples)
	for i := 0; i < 5; i++ {
		g.Render(dst)
	}
	monitorOnly := rms(dst)

	g.RouteDrum(DeckA, 1)
	for i := 0; i < 5; i++ {
		g.Render(dst)
	}
	routed := rms(dst)

	if monitorOnly == 0 {
		t.Fatal("monitor path silent")
	}
	if routed < monitorOnly*1.5 {
		t.Errorf("routing added no deck-path signal: monitor=%v routed=%v", monitorOnly, routed)
	}
}

// --- Mic chain ---

func TestMicOnlyMixedWhenEnabled(t *testing.T) {
	g, _ := builtGraph(t)
	g.SetMicReader(constReader(0.5))

	dst := make([]float64, audio.FrameSamples)
	for i := 0; i < 5; i++ {
		g.Render(dst)
	}
	if rms(dst) != 0 {
		t.Fatal("disabled mic leaked into the mix")
	}

	g.SetMicEnabled(true)
	for i := 0; i < 5; i++ {
		g.Render(dst)
	}
	if rms(dst) == 0 {
		t.Fatal("enabled mic produced silence")
	}
}

// --- Nodes ---

func TestWidenerDisabledIsPassthrough(t *testing.T) {
	w := NewWidener(1.6)
	block := []float64{0.5, -0.25, 0.1, 0.1}
	orig := append([]float64(nil), block...)
	w.Process(block)
	for i := range block {
		if block[i] != orig[i] {
			t.Fatalf("disabled widener altered sample %d", i)
		}
	}

	w.SetEnabled(true)
	w.Process(block)
	// mid/side math: a mono pair stays mono, a stereo pair widens
	if block[2] == orig[2] && block[3] == orig[3] {
		t.Error("enabled widener left stereo content untouched")
	}
}

func TestAnalyserSnapshot(t *testing.T) {
	a := NewAnalyser()
	block := []float64{0.1, 0.2, 0.3, 0.4}
	a.Process(block)
	snap := a.Snapshot()
	if len(snap) != len(block) {
		t.Fatalf("snapshot length %d, want %d", len(snap), len(block))
	}
	snap[0] = 99
	if got := a.Snapshot()[0]; got != 0.1 {
		t.Errorf("snapshot not isolated: got %v", got)
	}
}

func TestBiquadRetuneKeepsIdentityAtZeroGain(t *testing.T) {
	b := NewBiquad(LowShelf, 320, 0, 0.707)
	block := constBlock(0.5, 256)
	for i := 0; i < 10; i++ {
		b.Process(block)
	}
	if got := block[len(block)-2]; math.Abs(got-0.5) > 0.01 {
		t.Errorf("0 dB shelf output = %v, want ~0.5", got)
	}

	b.SetGainDB(12)
	if b.GainDB() != 12 {
		t.Errorf("GainDB = %v after retune, want 12", b.GainDB())
	}
	b.SetFrequency(640)
	if b.Frequency() != 640 {
		t.Errorf("Frequency = %v after retune, want 640", b.Frequency())
	}
}

// --- helpers ---

func builtGraph(t *testing.T) (*Graph, *Context) {
	t.Helper()
	ctx := NewContext()
	ctx.Ensure()
	g := New(ctx)
	g.EnsureBuilt()
	if !g.Built() {
		t.Fatal("graph failed to build")
	}
	return g, ctx
}

func constReader(v float64) func(dst []float64) {
	return func(dst []float64) {
		for i := range dst {
			dst[i] = v
		}
	}
}

func constBlock(v float64, n int) []float64 {
	b := make([]float64, n)
	for i := range b {
		b[i] = v
	}
	return b
}

type countingSource struct {
	value float64
	reads int
}

func (s *countingSource) ReadBlock(dst []float64) {
	s.reads++
	for i := range dst {
		dst[i] = s.value
	}
}

func rms(block []float64) float64 {
	var sum float64
	for _, v := range block {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(block)))
}

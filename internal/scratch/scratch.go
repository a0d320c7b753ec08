// Package scratch converts pointer motion on a virtual turntable into
// relative playback-position deltas and platter rotation.
package scratch

import (
	"math"
	"sync"

	"github.com/fadewerk/duodeck/internal/graph"
)

// Sensitivity scales one full platter revolution to seconds of audio: a
// 2π sweep moves the playhead by Sensitivity seconds.
const Sensitivity = 2.5

// Transport is the slice of a deck the scratch engine is allowed to touch:
// gesture begin/end and relative position nudges. Nothing else.
type Transport interface {
	BeginScratch() bool
	AdvanceBy(deltaSeconds float64)
	EndScratch()
}

// Platter is the on-screen rotating element: its center anchors the angle
// math and RotationDeg accumulates the visual rotation.
type Platter struct {
	CenterX     float64
	CenterY     float64
	RotationDeg float64
}

// deckState is the per-deck gesture state, private to the engine. Created
// inactive, activated on gesture start, deactivated on end.
type deckState struct {
	active    bool
	lastAngle float64
	platter   *Platter
	startX    float64
	startY    float64
}

// Engine runs the Idle -> Active -> Idle gesture state machine per deck.
type Engine struct {
	mu         sync.Mutex
	transports map[graph.DeckID]Transport
	states     map[graph.DeckID]*deckState
}

func NewEngine() *Engine {
	return &Engine{
		transports: make(map[graph.DeckID]Transport),
		states:     make(map[graph.DeckID]*deckState),
	}
}

// Register binds a deck transport to the engine.
func (e *Engine) Register(id graph.DeckID, t Transport) {
	e.mu.Lock()
	e.transports[id] = t
	e.states[id] = &deckState{}
	e.mu.Unlock()
}

// Start begins a gesture on the given deck at the pointer position. It is a
// no-op (returning false) when the transport refuses: zero duration, or the
// deck's audio is currently the routed drum bus.
func (e *Engine) Start(id graph.DeckID, x, y float64, platter *Platter) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.transports[id]
	if !ok || platter == nil {
		return false
	}
	if !t.BeginScratch() {
		return false
	}

	s := e.states[id]
	s.active = true
	s.platter = platter
	s.startX, s.startY = x, y
	s.lastAngle = math.Atan2(y-platter.CenterY, x-platter.CenterX)
	return true
}

// Move applies a pointer move to every active deck: the signed angular
// delta from the last recorded angle, normalized into (-pi, pi] to avoid
// seam jumps, becomes a playhead nudge and platter rotation.
func (e *Engine) Move(x, y float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, s := range e.states {
		if !s.active {
			continue
		}
		angle := math.Atan2(y-s.platter.CenterY, x-s.platter.CenterX)
		delta := normalizeAngle(angle - s.lastAngle)
		s.lastAngle = angle

		s.platter.RotationDeg += delta * 180 / math.Pi
		e.transports[id].AdvanceBy(DeltaSeconds(delta))
	}
}

// End finishes the gesture on the given deck, resuming playback if the deck
// was playing before the gesture started.
func (e *Engine) End(id graph.DeckID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.states[id]
	if !ok || !s.active {
		return
	}
	s.active = false
	s.platter = nil
	e.transports[id].EndScratch()
}

// EndAll finishes every active gesture (pointer-up with no deck context).
func (e *Engine) EndAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, s := range e.states {
		if s.active {
			s.active = false
			s.platter = nil
			e.transports[id].EndScratch()
		}
	}
}

// Active reports whether a gesture currently holds the deck.
func (e *Engine) Active(id graph.DeckID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.states[id]
	return ok && s.active
}

// DeltaSeconds converts an angular delta (radians) to a playhead offset.
func DeltaSeconds(deltaAngle float64) float64 {
	return deltaAngle * Sensitivity / (2 * math.Pi)
}

// normalizeAngle folds an angle into (-pi, pi].
func normalizeAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

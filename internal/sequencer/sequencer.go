// Package sequencer is the 16-step drum machine: the step grid, the
// tempo-derived scheduling loop, sample playback voices, and the routing
// tap that can feed a deck's chain in place of its own track.
package sequencer

import (
	"log"
	"sync"
	"time"

	"github.com/fadewerk/duodeck/internal/graph"
)

const (
	Steps      = 16
	DefaultBPM = 120
)

// Pad is one trigger pad of a kit.
type Pad struct {
	Name      string `json:"name"`
	Key       string `json:"key"` // keyboard trigger
	SampleKey string `json:"sampleKey"`
}

// Kit is an ordered set of 16 pads.
type Kit struct {
	Name string `json:"name"`
	Pads []Pad  `json:"pads"`
}

// SampleKeys returns the set of sample keys used by the kit's pads.
func (k Kit) SampleKeys() []string {
	keys := make([]string, 0, len(k.Pads))
	seen := make(map[string]bool)
	for _, p := range k.Pads {
		if !seen[p.SampleKey] {
			seen[p.SampleKey] = true
			keys = append(keys, p.SampleKey)
		}
	}
	return keys
}

// SampleLoader decodes one sample by key into interleaved stereo floats.
type SampleLoader func(sampleKey string) ([]float64, error)

// RoutingEvent tells the mixer side where the sequencer's stream tap should
// feed. An empty Deck means "unroute everywhere".
type RoutingEvent struct {
	Deck graph.DeckID
}

// StepFunc receives transient per-step feedback: the step index that just
// fired and the sample keys it triggered (for pad "lit" display).
type StepFunc func(step int, fired []string)

// SecondsPerStep is the sixteenth-note interval at the given tempo.
func SecondsPerStep(bpm int) float64 {
	return 60.0 / float64(bpm) / 4
}

// voice is one in-flight one-shot sample playback. Buffers are cached and
// shared; voices are created per trigger and never reused.
type voice struct {
	buf []float64
	pos int
}

// Sequencer owns the step grid and playback. The step mapping always has
// exactly one entry per sample key in the active kit.
type Sequencer struct {
	mu sync.Mutex

	kit     Kit
	steps   map[string][Steps]bool
	index   int // -1 until first run
	playing bool
	bpm     int

	loader  SampleLoader
	buffers map[string][]float64
	voices  []*voice

	onStep  StepFunc
	onRoute func(RoutingEvent)
	routed  graph.DeckID

	stopCh chan struct{}
}

// New creates a stopped sequencer on the given kit with a zeroed grid.
func New(kit Kit, loader SampleLoader) *Sequencer {
	s := &Sequencer{
		kit:     kit,
		steps:   zeroSteps(kit),
		index:   -1,
		bpm:     DefaultBPM,
		loader:  loader,
		buffers: make(map[string][]float64),
	}
	go s.loadSamples(kit.SampleKeys())
	return s
}

func zeroSteps(kit Kit) map[string][Steps]bool {
	m := make(map[string][Steps]bool, len(kit.Pads))
	for _, key := range kit.SampleKeys() {
		m[key] = [Steps]bool{}
	}
	return m
}

// SetStepFunc installs the per-step feedback hook.
func (s *Sequencer) SetStepFunc(fn StepFunc) {
	s.mu.Lock()
	s.onStep = fn
	s.mu.Unlock()
}

// SetRouteFunc installs the routing-event consumer.
func (s *Sequencer) SetRouteFunc(fn func(RoutingEvent)) {
	s.mu.Lock()
	s.onRoute = fn
	s.mu.Unlock()
}

// Kit returns the active kit.
func (s *Sequencer) Kit() Kit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kit
}

// BPM returns the current tempo.
func (s *Sequencer) BPM() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bpm
}

// SetBPM updates the tempo. The interval is recomputed every tick, so the
// change takes effect on the next scheduled step. Non-positive tempos are
// ignored.
func (s *Sequencer) SetBPM(bpm int) {
	if bpm <= 0 {
		return
	}
	s.mu.Lock()
	s.bpm = bpm
	s.mu.Unlock()
}

// Playing reports whether the step loop is running.
func (s *Sequencer) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// StepIndex returns the current step, -1 if the sequencer has never run.
func (s *Sequencer) StepIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Pattern returns the 16-step pattern for a sample key.
func (s *Sequencer) Pattern(sampleKey string) ([Steps]bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.steps[sampleKey]
	return p, ok
}

// SampleKeys returns the keys of the current step mapping.
func (s *Sequencer) SampleKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.steps))
	for k := range s.steps {
		keys = append(keys, k)
	}
	return keys
}

// ToggleStep flips one step of a sample's pattern.
func (s *Sequencer) ToggleStep(sampleKey string, step int) {
	if step < 0 || step >= Steps {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.steps[sampleKey]
	if !ok {
		return
	}
	p[step] = !p[step]
	s.steps[sampleKey] = p
}

// Start begins (or resumes) the step loop. A sequencer that has never run
// starts at step 0; a stopped one resumes where it left off.
func (s *Sequencer) Start() {
	s.mu.Lock()
	if s.playing {
		s.mu.Unlock()
		return
	}
	if s.index < 0 {
		s.index = 0
	}
	s.playing = true
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	go s.run(stop)
}

// Stop cancels the pending tick without resetting the step index, so Start
// resumes where playback left off.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = false
	close(s.stopCh)
	s.mu.Unlock()
}

// Reset stops playback and zeros the step index.
func (s *Sequencer) Reset() {
	s.Stop()
	s.mu.Lock()
	s.index = 0
	s.mu.Unlock()
}

// run executes steps until stopped. The interval is derived from the tempo
// at every tick, never fixed at start time; timing is subject to platform
// timer jitter and makes no cycle-accurate guarantee.
func (s *Sequencer) run(stop <-chan struct{}) {
	for {
		s.tick()

		s.mu.Lock()
		interval := time.Duration(SecondsPerStep(s.bpm) * float64(time.Second))
		s.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick plays every pad whose pattern is set at the current index (all
// triggers are independent and may overlap), reports step feedback, and
// advances the index modulo 16.
func (s *Sequencer) tick() {
	s.mu.Lock()
	idx := s.index
	var fired []string
	for key, pattern := range s.steps {
		if pattern[idx] {
			fired = append(fired, key)
			s.triggerLocked(key)
		}
	}
	s.index = (idx + 1) % Steps
	onStep := s.onStep
	s.mu.Unlock()

	if onStep != nil {
		onStep(idx, fired)
	}
}

// Trigger plays a sample immediately (pad press). A sample that failed to
// decode simply produces no sound.
func (s *Sequencer) Trigger(sampleKey string) {
	s.mu.Lock()
	s.triggerLocked(sampleKey)
	s.mu.Unlock()
}

func (s *Sequencer) triggerLocked(sampleKey string) {
	buf, ok := s.buffers[sampleKey]
	if !ok || len(buf) == 0 {
		return
	}
	s.voices = append(s.voices, &voice{buf: buf})
}

// ChangeKit stops playback, swaps the active pad set, rebuilds an all-false
// step mapping keyed by the new kit's sample keys, and asynchronously loads
// any samples not yet decoded.
func (s *Sequencer) ChangeKit(kit Kit) {
	s.Stop()

	s.mu.Lock()
	s.kit = kit
	s.steps = zeroSteps(kit)
	keys := kit.SampleKeys()
	s.mu.Unlock()

	go s.loadSamples(keys)
	log.Printf("sequencer kit changed: %s", kit.Name)
}

// ReassignPad gives pad padIdx a new sample key and migrates its existing
// 16-step pattern to that key. The old key is deleted unless another pad
// still uses it.
func (s *Sequencer) ReassignPad(padIdx int, newKey string) {
	s.mu.Lock()
	if padIdx < 0 || padIdx >= len(s.kit.Pads) || newKey == "" {
		s.mu.Unlock()
		return
	}
	oldKey := s.kit.Pads[padIdx].SampleKey
	if oldKey == newKey {
		s.mu.Unlock()
		return
	}

	pads := make([]Pad, len(s.kit.Pads))
	copy(pads, s.kit.Pads)
	pads[padIdx].SampleKey = newKey
	s.kit.Pads = pads

	s.steps[newKey] = s.steps[oldKey]

	stillUsed := false
	for _, p := range s.kit.Pads {
		if p.SampleKey == oldKey {
			stillUsed = true
			break
		}
	}
	if !stillUsed {
		delete(s.steps, oldKey)
	}
	s.mu.Unlock()

	go s.loadSamples([]string{newKey})
}

// loadSamples decodes any not-yet-cached sample buffers. A decode failure
// is logged and leaves that pad silent; it never aborts the sequencer.
func (s *Sequencer) loadSamples(keys []string) {
	for _, key := range keys {
		s.mu.Lock()
		_, cached := s.buffers[key]
		loader := s.loader
		s.mu.Unlock()
		if cached || loader == nil {
			continue
		}

		buf, err := loader(key)
		if err != nil {
			log.Printf("sequencer: decode sample %q: %v", key, err)
			continue
		}
		s.mu.Lock()
		s.buffers[key] = buf
		s.mu.Unlock()
	}
}

// ReadBlock renders the sequencer bus: all in-flight voices summed, each
// advancing independently. Finished voices are dropped. The graph reads
// this exactly once per render quantum and fans it out to monitoring and
// the routed deck tap.
func (s *Sequencer) ReadBlock(dst []float64) {
	for i := range dst {
		dst[i] = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	write := 0
	for _, v := range s.voices {
		n := copyInto(dst, v.buf[v.pos:])
		v.pos += n
		if v.pos < len(v.buf) {
			s.voices[write] = v
			write++
		}
	}
	s.voices = s.voices[:write]
}

// copyInto adds src samples into dst, returning how many were consumed.
func copyInto(dst, src []float64) int {
	n := len(src)
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] += src[i]
	}
	return n
}

// RouteToDeck patches the sequencer's stream tap into the given deck,
// implicitly unrouting the other deck (routing is mutually exclusive).
func (s *Sequencer) RouteToDeck(id graph.DeckID) {
	if !id.Valid() {
		return
	}
	s.mu.Lock()
	s.routed = id
	onRoute := s.onRoute
	s.mu.Unlock()
	if onRoute != nil {
		onRoute(RoutingEvent{Deck: id})
	}
}

// Unroute detaches the stream tap from every deck.
func (s *Sequencer) Unroute() {
	s.mu.Lock()
	s.routed = ""
	onRoute := s.onRoute
	s.mu.Unlock()
	if onRoute != nil {
		onRoute(RoutingEvent{})
	}
}

// RoutedDeck returns the deck currently fed by the stream tap, "" if none.
func (s *Sequencer) RoutedDeck() graph.DeckID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.routed
}

// Package engine assembles the mixing console: the render context and graph
// singletons, both deck controllers, the mixer, scratch engine, sequencer,
// microphone channel, playlist, and the recorder. It also carries the
// explicit observer pass that re-applies declarative state to live nodes.
package engine

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fadewerk/duodeck/internal/audio"
	"github.com/fadewerk/duodeck/internal/command"
	"github.com/fadewerk/duodeck/internal/config"
	"github.com/fadewerk/duodeck/internal/deck"
	"github.com/fadewerk/duodeck/internal/graph"
	"github.com/fadewerk/duodeck/internal/mic"
	"github.com/fadewerk/duodeck/internal/mixer"
	"github.com/fadewerk/duodeck/internal/scratch"
	"github.com/fadewerk/duodeck/internal/sequencer"
)

// Themes the presentation layer knows how to draw. The core only tracks
// which one is active.
var Themes = []string{"neon", "sunset", "mono", "matrix", "vapor"}

// Engine is the top-level application assembly.
type Engine struct {
	cfg config.Config

	renderCtx *graph.Context
	g         *graph.Graph
	decks     map[graph.DeckID]*deck.Controller
	mix       *mixer.Mixer
	seq       *sequencer.Sequencer
	scratch   *scratch.Engine
	micCap    *mic.Capture
	rec       *Recorder

	frameCh chan []int16

	mu          sync.Mutex
	applied     bool // state pushed into the built graph at least once
	playlist    []audio.Track
	playlistIdx int
	theme       string

	generateImage func(prompt string) error
	generateVideo func(prompt, fromImage string) error
}

// New wires the full console. Nothing renders until EnsureAudio promotes
// the context (the "first user gesture").
func New(cfg config.Config) *Engine {
	renderCtx := graph.NewContext()
	g := graph.New(renderCtx)

	e := &Engine{
		cfg:         cfg,
		renderCtx:   renderCtx,
		g:           g,
		decks:       make(map[graph.DeckID]*deck.Controller),
		mix:         mixer.New(g),
		scratch:     scratch.NewEngine(),
		micCap:      mic.New(cfg.MicBackend, cfg.MicDevice),
		rec:         NewRecorder(cfg.MP3Bitrate),
		frameCh:     make(chan []int16, 100),
		playlistIdx: -1,
		theme:       Themes[0],
	}

	for _, id := range []graph.DeckID{graph.DeckA, graph.DeckB} {
		c := deck.New(id, g)
		c.SetLoader(e.trackLoader)
		e.decks[id] = c
		e.scratch.Register(id, c)
	}

	// Deck A is the player-mode primary deck: it advances through the
	// playlist on track end and starts playlist playback from an empty
	// toggle.
	primary := e.decks[graph.DeckA]
	primary.SetPlayerMode(true)
	primary.SetAdvanceFunc(e.advanceNext)
	primary.SetEmptyPlayFunc(func() {
		if err := e.PlayTrack("", nil); err != nil {
			log.Printf("player: %v", err)
		}
	})

	kits := sequencer.DefaultKits()
	e.seq = sequencer.New(kits[0], e.sampleLoader)
	e.seq.SetBPM(cfg.DefaultBPM)
	e.seq.SetRouteFunc(e.applyRouting)
	g.SetDrumBus(e.seq)

	return e
}

// Accessors for the HTTP layer.

func (e *Engine) Deck(id graph.DeckID) *deck.Controller { return e.decks[id] }
func (e *Engine) Mixer() *mixer.Mixer                   { return e.mix }
func (e *Engine) Sequencer() *sequencer.Sequencer       { return e.seq }
func (e *Engine) Scratch() *scratch.Engine              { return e.scratch }
func (e *Engine) Recorder() *Recorder                   { return e.rec }
func (e *Engine) Graph() *graph.Graph                   { return e.g }
func (e *Engine) Context() *graph.Context               { return e.renderCtx }

// EnsureAudio lazily brings the render context and graph up, then runs the
// observer pass once so state set before construction lands on the live
// nodes. Every control entry point calls this; it is cheap when already up.
func (e *Engine) EnsureAudio() {
	e.renderCtx.Ensure()
	e.g.EnsureBuilt()
	if !e.g.Built() {
		return
	}

	e.mu.Lock()
	first := !e.applied
	e.applied = true
	e.mu.Unlock()
	if !first {
		return
	}

	e.ApplyState()
}

// ApplyState pushes every component's declarative state into the live
// graph: the explicit equivalent of a reactive framework's change pass.
func (e *Engine) ApplyState() {
	for _, c := range e.decks {
		c.Apply()
	}
	e.mix.Apply()
	e.g.SetMicReader(e.micCap.ReadBlock)
	if routed := e.seq.RoutedDeck(); routed != "" {
		e.applyRouting(sequencer.RoutingEvent{Deck: routed})
	}
}

// Run drives the render loop at real-time rate and the metering loop.
// Blocks until ctx is cancelled; every recurring loop dies with it.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.frameCh)

	go e.mix.RunMetering(ctx)

	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	block := make([]float64, audio.FrameSamples)
	for {
		select {
		case <-ctx.Done():
			e.renderCtx.Shutdown()
			return
		case <-ticker.C:
		}

		e.g.Render(block)
		frame := audio.FloatToSamples(block)
		e.rec.Append(frame)

		select {
		case e.frameCh <- frame:
		default:
			// no listener draining; keep rendering
		}

		for _, c := range e.decks {
			c.SyncFollower()
		}
	}
}

// Frames returns the master-bus output frame channel.
func (e *Engine) Frames() <-chan []int16 {
	return e.frameCh
}

// applyRouting consumes a sequencer routing event: patch the drum bus into
// the named deck (pausing its own track playback) or back to the silent
// source everywhere.
func (e *Engine) applyRouting(ev sequencer.RoutingEvent) {
	if ev.Deck == "" {
		e.g.UnrouteDrum()
		return
	}
	c := e.decks[ev.Deck]
	if c == nil {
		return
	}
	c.Pause()
	e.g.RouteDrum(ev.Deck, c.State().DrumInputVolume/100)
}

// Microphone channel.

// EnableMic starts capture and patches the mic chain into the master bus.
// A capture failure is reported and leaves the feature disabled.
func (e *Engine) EnableMic(ctx context.Context) error {
	e.EnsureAudio()
	if err := e.micCap.Enable(ctx); err != nil {
		return err
	}
	e.g.SetMicEnabled(true)
	return nil
}

// DisableMic detaches the mic chain and stops capture.
func (e *Engine) DisableMic() {
	e.g.SetMicEnabled(false)
	e.micCap.Disable()
}

// Playlist operations. Invalid indices and unknown titles are reported as
// errors and the operation skipped; nothing here is fatal.

func (e *Engine) AddTrack(t audio.Track) error {
	if t.Title == "" {
		return fmt.Errorf("add track: title required")
	}
	e.mu.Lock()
	e.playlist = append(e.playlist, t)
	n := len(e.playlist)
	e.mu.Unlock()
	log.Printf("playlist: added %q (%d tracks)", t.Title, n)
	return nil
}

func (e *Engine) Tracks() []audio.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]audio.Track, len(e.playlist))
	copy(out, e.playlist)
	return out
}

// resolveIndex turns a typed index-or-title selector into a playlist
// position. Callers hold e.mu.
func (e *Engine) resolveIndex(title string, index *int) (int, error) {
	if index != nil {
		if *index < 0 || *index >= len(e.playlist) {
			return 0, fmt.Errorf("playlist index %d out of range (0-%d)", *index, len(e.playlist)-1)
		}
		return *index, nil
	}
	if title != "" {
		for i, t := range e.playlist {
			if strings.EqualFold(t.Title, title) {
				return i, nil
			}
		}
		return 0, fmt.Errorf("track %q not in playlist", title)
	}
	if len(e.playlist) == 0 {
		return 0, fmt.Errorf("playlist is empty")
	}
	return 0, nil
}

// PlayTrack loads the selected playlist track into the primary deck with
// autoplay. An empty selector plays from the top.
func (e *Engine) PlayTrack(title string, index *int) error {
	e.mu.Lock()
	i, err := e.resolveIndex(title, index)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	t := e.playlist[i]
	e.playlistIdx = i
	e.mu.Unlock()

	e.EnsureAudio()
	return e.decks[graph.DeckA].LoadTrack(t, true)
}

// RemoveTrack drops the selected track from the playlist.
func (e *Engine) RemoveTrack(title string, index *int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, err := e.resolveIndex(title, index)
	if err != nil {
		return err
	}
	removed := e.playlist[i]
	e.playlist = append(e.playlist[:i], e.playlist[i+1:]...)
	if e.playlistIdx >= len(e.playlist) {
		e.playlistIdx = len(e.playlist) - 1
	}
	log.Printf("playlist: removed %q", removed.Title)
	return nil
}

// advanceNext is the primary deck's end-of-track hook: true if a next
// playlist track was started.
func (e *Engine) advanceNext() bool {
	e.mu.Lock()
	next := e.playlistIdx + 1
	if next <= 0 || next >= len(e.playlist) {
		e.mu.Unlock()
		return false
	}
	t := e.playlist[next]
	e.playlistIdx = next
	e.mu.Unlock()

	if err := e.decks[graph.DeckA].LoadTrack(t, true); err != nil {
		log.Printf("player advance: %v", err)
		return false
	}
	return true
}

// Theme state. Presentation-only; the core just remembers the choice.

func (e *Engine) Theme() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.theme
}

func (e *Engine) ChangeTheme(name string) error {
	for _, t := range Themes {
		if t == name {
			e.mu.Lock()
			e.theme = name
			e.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("unknown theme %q", name)
}

func (e *Engine) RandomizeTheme() error {
	e.mu.Lock()
	current := e.theme
	e.mu.Unlock()

	pick := current
	for pick == current && len(Themes) > 1 {
		pick = Themes[rand.IntN(len(Themes))]
	}
	return e.ChangeTheme(pick)
}

// Generative panels: forwarded to optional collaborators.

func (e *Engine) SetGenerateImageFunc(fn func(prompt string) error) {
	e.mu.Lock()
	e.generateImage = fn
	e.mu.Unlock()
}

func (e *Engine) SetGenerateVideoFunc(fn func(prompt, fromImage string) error) {
	e.mu.Lock()
	e.generateVideo = fn
	e.mu.Unlock()
}

// Commands returns the assistant command dispatcher bound to this engine.
func (e *Engine) Commands() *command.Dispatcher {
	return &command.Dispatcher{
		AddTrack:       e.AddTrack,
		PlayTrack:      e.PlayTrack,
		RemoveTrack:    e.RemoveTrack,
		ChangeTheme:    e.ChangeTheme,
		RandomizeTheme: e.RandomizeTheme,
		GenerateImage: func(prompt string) error {
			e.mu.Lock()
			fn := e.generateImage
			e.mu.Unlock()
			if fn == nil {
				return fmt.Errorf("image panel not connected")
			}
			return fn(prompt)
		},
		GenerateVideo: func(prompt, fromImage string) error {
			e.mu.Lock()
			fn := e.generateVideo
			e.mu.Unlock()
			if fn == nil {
				return fmt.Errorf("video panel not connected")
			}
			return fn(prompt, fromImage)
		},
	}
}

// resolveSource resolves a track source against the music directory.
// Absolute paths and URLs pass through untouched.
func resolveSource(musicDir, src string) string {
	if filepath.IsAbs(src) || strings.Contains(src, "://") {
		return src
	}
	return filepath.Join(musicDir, src)
}

func (e *Engine) trackLoader(src string) ([]float64, error) {
	return audio.DecodeFileFloat(resolveSource(e.cfg.MusicDir, src))
}

// sampleLoader decodes a drum sample by key from the kit directory.
func (e *Engine) sampleLoader(sampleKey string) ([]float64, error) {
	return audio.DecodeFileFloat(filepath.Join(e.cfg.KitDir, sampleKey+".wav"))
}

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/fadewerk/duodeck/internal/audio"
	"github.com/fadewerk/duodeck/internal/command"
	"github.com/fadewerk/duodeck/internal/config"
	"github.com/fadewerk/duodeck/internal/graph"
	"github.com/fadewerk/duodeck/internal/sequencer"
)

// newTestEngine builds an engine whose loaders never touch ffmpeg.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(config.Config{
		Port:       0,
		MusicDir:   t.TempDir(),
		KitDir:     t.TempDir(),
		DefaultBPM: 120,
		MP3Bitrate: "192k",
	})

	loader := func(string) ([]float64, error) {
		buf := make([]float64, audio.SampleRate*audio.Channels) // 1 second
		for i := range buf {
			buf[i] = 0.25
		}
		return buf, nil
	}
	e.Deck(graph.DeckA).SetLoader(loader)
	e.Deck(graph.DeckB).SetLoader(loader)
	return e
}

func track(title string) audio.Track {
	return audio.Track{Title: title, AudioSrc: title + ".mp3"}
}

func TestEnsureAudioBuildsGraphOnce(t *testing.T) {
	e := newTestEngine(t)
	if e.Graph().Built() {
		t.Fatal("graph built before first gesture")
	}

	e.EnsureAudio()
	if !e.Graph().Built() {
		t.Fatal("graph not built by EnsureAudio")
	}
	if !e.Context().Running() {
		t.Fatal("render context not running")
	}
	e.EnsureAudio() // idempotent
}

func TestPlaylistAddRemove(t *testing.T) {
	e := newTestEngine(t)

	if err := e.AddTrack(track("One")); err != nil {
		t.Fatalf("AddTrack: %v", err)
	}
	if err := e.AddTrack(track("Two")); err != nil {
		t.Fatalf("AddTrack: %v", err)
	}
	if err := e.AddTrack(audio.Track{AudioSrc: "x.mp3"}); err == nil {
		t.Error("untitled track accepted")
	}

	if got := len(e.Tracks()); got != 2 {
		t.Fatalf("playlist length = %d, want 2", got)
	}

	if err := e.RemoveTrack("one", nil); err != nil {
		t.Fatalf("case-insensitive remove by title: %v", err)
	}
	tracks := e.Tracks()
	if len(tracks) != 1 || tracks[0].Title != "Two" {
		t.Errorf("playlist after remove = %v", tracks)
	}

	idx := 0
	if err := e.RemoveTrack("", &idx); err != nil {
		t.Fatalf("remove by index: %v", err)
	}
	if len(e.Tracks()) != 0 {
		t.Error("playlist not empty")
	}
}

func TestPlaylistSelectorErrors(t *testing.T) {
	e := newTestEngine(t)
	e.AddTrack(track("Only"))

	if err := e.RemoveTrack("Missing", nil); err == nil {
		t.Error("unknown title accepted")
	}
	bad := 5
	if err := e.RemoveTrack("", &bad); err == nil {
		t.Error("out-of-range index accepted")
	}
	neg := -1
	if err := e.PlayTrack("", &neg); err == nil {
		t.Error("negative index accepted")
	}
	if got := len(e.Tracks()); got != 1 {
		t.Errorf("failed selectors mutated playlist: %d tracks", got)
	}
}

func TestPlayTrackLoadsPrimaryDeck(t *testing.T) {
	e := newTestEngine(t)
	e.AddTrack(track("Opener"))
	e.AddTrack(track("Closer"))

	if err := e.PlayTrack("Closer", nil); err != nil {
		t.Fatalf("PlayTrack: %v", err)
	}
	s := e.Deck(graph.DeckA).State()
	if s.Track.Title != "Closer" || !s.IsPlaying {
		t.Errorf("deck A state = %+v", s)
	}

	// empty selector plays from the top
	if err := e.PlayTrack("", nil); err != nil {
		t.Fatalf("PlayTrack from top: %v", err)
	}
	if got := e.Deck(graph.DeckA).State().Track.Title; got != "Opener" {
		t.Errorf("deck A track = %q, want Opener", got)
	}
}

func TestPlayTrackEmptyPlaylist(t *testing.T) {
	e := newTestEngine(t)
	if err := e.PlayTrack("", nil); err == nil {
		t.Error("empty playlist playback accepted")
	}
}

func TestAdvanceNextWalksPlaylist(t *testing.T) {
	e := newTestEngine(t)
	e.AddTrack(track("First"))
	e.AddTrack(track("Second"))

	if err := e.PlayTrack("First", nil); err != nil {
		t.Fatalf("PlayTrack: %v", err)
	}
	if !e.advanceNext() {
		t.Fatal("advance refused with a next track available")
	}
	if got := e.Deck(graph.DeckA).State().Track.Title; got != "Second" {
		t.Errorf("deck A track = %q, want Second", got)
	}
	if e.advanceNext() {
		t.Error("advance past the playlist end")
	}
}

func TestDrumRoutingPausesDeck(t *testing.T) {
	e := newTestEngine(t)
	e.EnsureAudio()
	e.AddTrack(track("Beat"))
	if err := e.PlayTrack("Beat", nil); err != nil {
		t.Fatalf("PlayTrack: %v", err)
	}
	if !e.Deck(graph.DeckA).State().IsPlaying {
		t.Fatal("deck not playing")
	}

	e.Sequencer().RouteToDeck(graph.DeckA)
	if e.Deck(graph.DeckA).State().IsPlaying {
		t.Error("routed deck kept playing its track")
	}
	if e.Graph().RoutedDeck() != graph.DeckA {
		t.Errorf("graph routed = %q, want A", e.Graph().RoutedDeck())
	}

	// unroute does not auto-resume
	e.Sequencer().Unroute()
	if e.Deck(graph.DeckA).State().IsPlaying {
		t.Error("unroute resumed playback")
	}
	if e.Graph().RoutedDeck() != "" {
		t.Errorf("graph still routed to %q", e.Graph().RoutedDeck())
	}
}

func TestThemeChange(t *testing.T) {
	e := newTestEngine(t)
	if e.Theme() != Themes[0] {
		t.Fatalf("initial theme = %q", e.Theme())
	}

	if err := e.ChangeTheme("vapor"); err != nil {
		t.Fatalf("ChangeTheme: %v", err)
	}
	if e.Theme() != "vapor" {
		t.Errorf("theme = %q, want vapor", e.Theme())
	}

	if err := e.ChangeTheme("plaid"); err == nil {
		t.Error("unknown theme accepted")
	}
	if e.Theme() != "vapor" {
		t.Error("failed change mutated theme")
	}
}

func TestRandomizeThemePicksDifferent(t *testing.T) {
	e := newTestEngine(t)
	before := e.Theme()
	if err := e.RandomizeTheme(); err != nil {
		t.Fatalf("RandomizeTheme: %v", err)
	}
	if e.Theme() == before {
		t.Errorf("randomize kept theme %q", before)
	}
}

func TestCommandsDriveEngine(t *testing.T) {
	e := newTestEngine(t)
	d := e.Commands()

	err := d.Dispatch(command.Command{
		Action:   command.ActionAddTrackToPlaylist,
		Title:    "Droplet",
		AudioSrc: "droplet.mp3",
	})
	if err != nil {
		t.Fatalf("add via command: %v", err)
	}
	if len(e.Tracks()) != 1 {
		t.Fatal("command did not reach the playlist")
	}

	if err := d.Dispatch(command.Command{Action: command.ActionChangeTheme, Name: "mono"}); err != nil {
		t.Fatalf("theme via command: %v", err)
	}
	if e.Theme() != "mono" {
		t.Errorf("theme = %q, want mono", e.Theme())
	}

	// generative panels report unsupported until a collaborator connects
	if err := d.Dispatch(command.Command{Action: command.ActionGenerateImage, Prompt: "x"}); err == nil {
		t.Error("disconnected image panel accepted a command")
	}
	connected := false
	e.SetGenerateImageFunc(func(prompt string) error {
		connected = true
		return nil
	})
	if err := d.Dispatch(command.Command{Action: command.ActionGenerateImage, Prompt: "x"}); err != nil {
		t.Fatalf("connected image panel: %v", err)
	}
	if !connected {
		t.Error("image hook not invoked")
	}
}

func TestApplyRoutingUsesDeckDrumVolume(t *testing.T) {
	e := newTestEngine(t)
	e.EnsureAudio()

	e.Deck(graph.DeckB).SetDrumInputVolume(60)
	e.applyRouting(sequencer.RoutingEvent{Deck: graph.DeckB})
	if e.Graph().RoutedDeck() != graph.DeckB {
		t.Fatalf("routed = %q, want B", e.Graph().RoutedDeck())
	}

	e.applyRouting(sequencer.RoutingEvent{})
	if e.Graph().RoutedDeck() != "" {
		t.Error("empty event did not unroute")
	}
}

func TestRecorderGatesAppends(t *testing.T) {
	r := NewRecorder("192k")
	frame := []int16{1, 2, 3, 4}

	r.Append(frame)
	if r.Recording() {
		t.Fatal("recorder recording before Start")
	}
	if _, err := r.Stop(); err == nil {
		t.Fatal("Stop without Start did not error")
	}

	r.Start()
	if !r.Recording() {
		t.Fatal("recorder not recording after Start")
	}
	r.Append(frame)
	r.mu.Lock()
	n := len(r.pcm)
	r.mu.Unlock()
	if n != len(frame) {
		t.Errorf("buffered %d samples, want %d (pre-Start frames must be dropped)", n, len(frame))
	}
}

func TestRunRendersFrames(t *testing.T) {
	e := newTestEngine(t)
	e.EnsureAudio()

	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)

	select {
	case frame := <-e.Frames():
		if len(frame) != audio.FrameSamples {
			t.Errorf("frame length = %d, want %d", len(frame), audio.FrameSamples)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("render loop produced no frames")
	}
	cancel()

	// channel closes and the render context shuts down with the loop
	deadline := time.Now().Add(2 * time.Second)
	for e.Context().State() != graph.StateClosed {
		if time.Now().After(deadline) {
			t.Fatal("render context not closed after Run exit")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResolveSource(t *testing.T) {
	tests := []struct{ src, want string }{
		{"song.mp3", "/srv/music/song.mp3"},
		{"sub/song.mp3", "/srv/music/sub/song.mp3"},
		{"/abs/song.mp3", "/abs/song.mp3"},
		{"https://cdn.example.com/song.mp3", "https://cdn.example.com/song.mp3"},
	}
	for _, tt := range tests {
		if got := resolveSource("/srv/music", tt.src); got != tt.want {
			t.Errorf("resolveSource(%q) = %q, want %q", tt.src, got, tt.want)
		}
	}
}

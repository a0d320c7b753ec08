package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fadewerk/duodeck/internal/audio"
	"github.com/fadewerk/duodeck/internal/command"
	"github.com/fadewerk/duodeck/internal/config"
	"github.com/fadewerk/duodeck/internal/engine"
	"github.com/fadewerk/duodeck/internal/graph"
	"github.com/fadewerk/duodeck/internal/mixer"
	"github.com/fadewerk/duodeck/internal/scratch"
	"github.com/fadewerk/duodeck/internal/sequencer"
	"github.com/fadewerk/duodeck/internal/stream"
)

func main() {
	root := &cobra.Command{
		Use:   "duodeck",
		Short: "Two-deck DJ mixing console with drum sequencer and live streaming",
		Long: `duodeck runs a headless two-deck DJ console: per-deck trim, 3-band EQ
and resonant low-pass, an equal-power crossfader, a 5-band master EQ with
bass boost and stereo widening, a 16-step drum sequencer routable into
either deck, and a mic channel. The master bus is served over HTTP as MP3
and over WebRTC as Opus, controlled through a JSON API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "kits",
		Short: "List the built-in drum kits and their pads",
		Run: func(cmd *cobra.Command, args []string) {
			for _, kit := range sequencer.DefaultKits() {
				fmt.Printf("%s:\n", kit.Name)
				for _, p := range kit.Pads {
					fmt.Printf("  [%s] %-14s %s\n", p.Key, p.Name, p.SampleKey)
				}
			}
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve() error {
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Println("duodeck starting up...")

	eng := engine.New(cfg)
	go eng.Run(ctx)

	// Broadcaster: fan out rendered master frames to all listeners
	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, eng.Frames())

	webrtcHandler := stream.NewWebRTCHandler(broadcaster, cfg.OpusBitrate)
	dispatcher := eng.Commands()

	srv := &apiServer{
		eng:        eng,
		dispatcher: dispatcher,
		platters: map[graph.DeckID]*scratch.Platter{
			graph.DeckA: {},
			graph.DeckB: {},
		},
	}

	mux := http.NewServeMux()
	mux.Handle("/stream", stream.NewHTTPHandler(broadcaster, cfg.MP3Bitrate))
	mux.Handle("/offer", webrtcHandler)

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"context":          eng.Context().State().String(),
			"deck_a":           eng.Deck(graph.DeckA).State(),
			"deck_b":           eng.Deck(graph.DeckB).State(),
			"mixer":            eng.Mixer().State(),
			"levels":           eng.Mixer().Levels(),
			"theme":            eng.Theme(),
			"playlist":         eng.Tracks(),
			"recording":        eng.Recorder().Recording(),
			"mic":              eng.Graph().MicEnabled(),
			"sequencer":        srv.sequencerStatus(),
			"http_listeners":   broadcaster.ListenerCount(),
			"webrtc_listeners": webrtcHandler.PeerCount(),
		})
	})

	mux.HandleFunc("/api/deck/", srv.handleDeck)
	mux.HandleFunc("/api/mixer", srv.handleMixer)
	mux.HandleFunc("/api/sequencer", srv.handleSequencer)
	mux.HandleFunc("/api/scratch", srv.handleScratch)
	mux.HandleFunc("/api/command", srv.handleCommand)
	mux.HandleFunc("/api/mic", srv.handleMic)
	mux.HandleFunc("/api/record/start", srv.handleRecordStart)
	mux.HandleFunc("/api/record/stop", srv.handleRecordStop)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		server.Close()
	}()

	log.Printf("duodeck live on %s", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server: %w", err)
	}
	return nil
}

type apiServer struct {
	eng        *engine.Engine
	dispatcher *command.Dispatcher

	mu       sync.Mutex
	platters map[graph.DeckID]*scratch.Platter
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(v)
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// handleDeck serves /api/deck/{A|B}/{op}. GET on the deck root returns its
// state; everything else is a POST control operation.
func (s *apiServer) handleDeck(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/deck/")
	parts := strings.SplitN(rest, "/", 2)
	id := graph.DeckID(parts[0])
	if !id.Valid() {
		http.Error(w, "deck must be A or B", http.StatusNotFound)
		return
	}
	d := s.eng.Deck(id)

	op := ""
	if len(parts) == 2 {
		op = parts[1]
	}
	if op == "" {
		writeJSON(w, d.State())
		return
	}

	if !requirePost(w, r) {
		return
	}
	s.eng.EnsureAudio()

	var req struct {
		Track   *audio.Track `json:"track"`
		Play    *bool        `json:"play"`
		Value   float64      `json:"value"`
		Band    string       `json:"band"`
		Seconds float64      `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	switch op {
	case "load":
		if req.Track == nil {
			http.Error(w, "track required", http.StatusBadRequest)
			return
		}
		autoplay := req.Play != nil && *req.Play
		if err := d.LoadTrack(*req.Track, autoplay); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	case "toggle":
		d.TogglePlayPause()
	case "seek":
		d.Seek(req.Seconds)
	case "pitch":
		d.SetPitch(req.Value)
	case "filter":
		d.SetFilter(req.Value)
	case "gain":
		d.SetGain(req.Value)
	case "eq":
		band, ok := parseBand(req.Band)
		if !ok {
			http.Error(w, "band must be low, mid or high", http.StatusBadRequest)
			return
		}
		d.SetEQ(band, req.Value)
	case "drumvolume":
		d.SetDrumInputVolume(req.Value)
	case "loop":
		d.ToggleLoop()
	default:
		http.Error(w, "unknown deck operation", http.StatusNotFound)
		return
	}
	writeJSON(w, d.State())
}

func parseBand(s string) (graph.EQBand, bool) {
	switch s {
	case "low":
		return graph.BandLow, true
	case "mid":
		return graph.BandMid, true
	case "high":
		return graph.BandHigh, true
	}
	return "", false
}

func (s *apiServer) handleMixer(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, map[string]any{
			"state":  s.eng.Mixer().State(),
			"levels": s.eng.Mixer().Levels(),
		})
		return
	}
	if !requirePost(w, r) {
		return
	}
	s.eng.EnsureAudio()

	var req struct {
		Crossfade *float64 `json:"crossfade"`
		Volume    *float64 `json:"volume"`
		EQBand    *int     `json:"eq_band"`
		EQValue   float64  `json:"eq_value"`
		BassBoost *bool    `json:"bass_boost"`
		Surround  *bool    `json:"surround"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	m := s.eng.Mixer()
	if req.Crossfade != nil {
		m.SetCrossfade(*req.Crossfade)
	}
	if req.Volume != nil {
		m.SetMasterVolume(*req.Volume)
	}
	if req.EQBand != nil {
		if *req.EQBand < 0 || *req.EQBand >= len(mixer.State{}.EQ) {
			http.Error(w, "eq_band out of range", http.StatusBadRequest)
			return
		}
		m.SetEQ(*req.EQBand, req.EQValue)
	}
	if req.BassBoost != nil {
		m.SetBassBoost(*req.BassBoost)
	}
	if req.Surround != nil {
		m.SetSurround(*req.Surround)
	}
	writeJSON(w, m.State())
}

func (s *apiServer) sequencerStatus() map[string]any {
	seq := s.eng.Sequencer()
	patterns := make(map[string][]bool)
	for _, key := range seq.SampleKeys() {
		if p, ok := seq.Pattern(key); ok {
			patterns[key] = p[:]
		}
	}
	return map[string]any{
		"kit":      seq.Kit().Name,
		"bpm":      seq.BPM(),
		"playing":  seq.Playing(),
		"step":     seq.StepIndex(),
		"routed":   string(seq.RoutedDeck()),
		"patterns": patterns,
	}
}

func (s *apiServer) handleSequencer(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, s.sequencerStatus())
		return
	}
	if !requirePost(w, r) {
		return
	}
	s.eng.EnsureAudio()

	var req struct {
		Op        string `json:"op"` // start, stop, reset, bpm, kit, step, trigger, route, unroute, reassign
		BPM       int    `json:"bpm"`
		Kit       string `json:"kit"`
		SampleKey string `json:"sample_key"`
		Step      int    `json:"step"`
		Deck      string `json:"deck"`
		PadIndex  int    `json:"pad_index"`
		NewKey    string `json:"new_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	seq := s.eng.Sequencer()
	switch req.Op {
	case "start":
		seq.Start()
	case "stop":
		seq.Stop()
	case "reset":
		seq.Reset()
	case "bpm":
		seq.SetBPM(req.BPM)
	case "kit":
		kit, ok := sequencer.KitByName(req.Kit)
		if !ok {
			http.Error(w, "unknown kit", http.StatusBadRequest)
			return
		}
		seq.ChangeKit(kit)
	case "step":
		seq.ToggleStep(req.SampleKey, req.Step)
	case "trigger":
		seq.Trigger(req.SampleKey)
	case "route":
		id := graph.DeckID(req.Deck)
		if !id.Valid() {
			http.Error(w, "deck must be A or B", http.StatusBadRequest)
			return
		}
		seq.RouteToDeck(id)
	case "unroute":
		seq.Unroute()
	case "reassign":
		seq.ReassignPad(req.PadIndex, req.NewKey)
	default:
		http.Error(w, "unknown sequencer operation", http.StatusBadRequest)
		return
	}
	writeJSON(w, s.sequencerStatus())
}

// handleScratch drives the jog-wheel gesture state machine. The platter
// rotation accumulates server-side so the client can draw it.
func (s *apiServer) handleScratch(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.eng.EnsureAudio()

	var req struct {
		Op   string  `json:"op"` // start, move, end
		Deck string  `json:"deck"`
		X    float64 `json:"x"`
		Y    float64 `json:"y"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	sc := s.eng.Scratch()
	switch req.Op {
	case "start":
		id := graph.DeckID(req.Deck)
		if !id.Valid() {
			http.Error(w, "deck must be A or B", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		platter := s.platters[id]
		s.mu.Unlock()
		started := sc.Start(id, req.X, req.Y, platter)
		writeJSON(w, map[string]any{"active": started})
		return
	case "move":
		sc.Move(req.X, req.Y)
	case "end":
		if req.Deck == "" {
			sc.EndAll()
		} else {
			id := graph.DeckID(req.Deck)
			if !id.Valid() {
				http.Error(w, "deck must be A or B", http.StatusBadRequest)
				return
			}
			sc.End(id)
		}
	default:
		http.Error(w, "unknown scratch operation", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	rotations := map[string]float64{
		"A": s.platters[graph.DeckA].RotationDeg,
		"B": s.platters[graph.DeckB].RotationDeg,
	}
	s.mu.Unlock()
	writeJSON(w, map[string]any{"rotation": rotations})
}

// handleCommand accepts assistant command batches and dispatches them in
// order. A bad command is reported per-item; the batch keeps going.
func (s *apiServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.eng.EnsureAudio()

	var cmds []command.Command
	if err := json.NewDecoder(r.Body).Decode(&cmds); err != nil {
		http.Error(w, "invalid command payload", http.StatusBadRequest)
		return
	}

	results := make([]map[string]any, 0, len(cmds))
	for _, cmd := range cmds {
		res := map[string]any{"action": string(cmd.Action), "ok": true}
		if err := s.dispatcher.Dispatch(cmd); err != nil {
			res["ok"] = false
			res["error"] = err.Error()
		}
		results = append(results, res)
	}
	writeJSON(w, map[string]any{"results": results})
}

func (s *apiServer) handleMic(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Enabled {
		// Capture must outlive this request; it stops via /api/mic disable
		// or process shutdown.
		if err := s.eng.EnableMic(context.Background()); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
	} else {
		s.eng.DisableMic()
	}
	writeJSON(w, map[string]any{"ok": true, "enabled": req.Enabled})
}

func (s *apiServer) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.eng.EnsureAudio()
	s.eng.Recorder().Start()
	writeJSON(w, map[string]any{"ok": true, "recording": true})
}

func (s *apiServer) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	blob, err := s.eng.Recorder().Stop()
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", `attachment; filename="duodeck-mix.mp3"`)
	w.Write(blob)
}

package config

import (
	"os"
	"strconv"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Library
	MusicDir string // track files referenced by playlist sources
	KitDir   string // drum sample files, <sampleKey>.wav

	// Sequencer
	DefaultBPM int

	// Microphone capture
	MicBackend string // ffmpeg input format: pulse, alsa, avfoundation
	MicDevice  string

	// Streaming
	OpusBitrate int // bps for WebRTC listeners
	MP3Bitrate  string
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port:        envInt("DUODECK_PORT", 8080),
		MusicDir:    envStr("DUODECK_MUSIC_DIR", "./music"),
		KitDir:      envStr("DUODECK_KIT_DIR", "./kits"),
		DefaultBPM:  envInt("DUODECK_BPM", 120),
		MicBackend:  envStr("DUODECK_MIC_BACKEND", "pulse"),
		MicDevice:   envStr("DUODECK_MIC_DEVICE", "default"),
		OpusBitrate: envInt("DUODECK_OPUS_BITRATE", 128000),
		MP3Bitrate:  envStr("DUODECK_MP3_BITRATE", "192k"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

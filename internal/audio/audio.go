package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Track is the metadata for a loadable track. Tracks are replaced, never
// mutated in place; the one exception is AlbumArtURL, which the image panel
// may patch in after generation.
type Track struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	AlbumArtURL string `json:"albumArtUrl"`
	AudioSrc    string `json:"audioSrc"`
	VideoSrc    string `json:"videoSrc,omitempty"`
}

// IsZero reports whether the track carries no audio source.
func (t Track) IsZero() bool {
	return t.AudioSrc == ""
}

// Seconds returns the playable duration of an interleaved stereo buffer.
func Seconds(samples []float64) float64 {
	return float64(len(samples)/Channels) / SampleRate
}

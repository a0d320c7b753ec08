// Package command is the boundary where the conversational assistant's
// high-level actions enter the core. Parameters use an explicit typed
// schema; nothing is inferred from the shape of a string.
package command

import (
	"fmt"
	"log"

	"github.com/fadewerk/duodeck/internal/audio"
)

// Action discriminates the recognized assistant commands.
type Action string

const (
	ActionAddTrackToPlaylist      Action = "addTrackToPlaylist"
	ActionPlayTrackInPlayer       Action = "playTrackInPlayer"
	ActionRemoveTrackFromPlaylist Action = "removeTrackFromPlaylist"
	ActionChangeTheme             Action = "changeTheme"
	ActionRandomizeTheme          Action = "randomizeTheme"
	ActionGenerateImage           Action = "generateImage"
	ActionGenerateVideo           Action = "generateVideo"
)

// Command is one assistant action with its typed parameters. Track
// selection is an explicit index or title, never a sniffed numeric string.
type Command struct {
	Action Action `json:"action"`

	// addTrackToPlaylist
	Title       string `json:"title,omitempty"`
	Artist      string `json:"artist,omitempty"`
	AlbumArtURL string `json:"albumArtUrl,omitempty"`
	AudioSrc    string `json:"audioSrc,omitempty"`

	// playTrackInPlayer / removeTrackFromPlaylist
	Index *int `json:"index,omitempty"`

	// changeTheme
	Name string `json:"name,omitempty"`

	// generateImage / generateVideo
	Prompt    string `json:"prompt,omitempty"`
	FromImage string `json:"fromImage,omitempty"`
}

// Dispatcher routes commands to pluggable handlers. Nil handlers make the
// corresponding action report "not supported" instead of failing hard.
type Dispatcher struct {
	AddTrack       func(t audio.Track) error
	PlayTrack      func(title string, index *int) error
	RemoveTrack    func(title string, index *int) error
	ChangeTheme    func(name string) error
	RandomizeTheme func() error
	GenerateImage  func(prompt string) error
	GenerateVideo  func(prompt, fromImage string) error
}

// Dispatch executes one command. Unknown actions are reported through the
// returned error and logged; they are never fatal.
func (d *Dispatcher) Dispatch(cmd Command) error {
	switch cmd.Action {
	case ActionAddTrackToPlaylist:
		if d.AddTrack == nil {
			return unsupported(cmd.Action)
		}
		return d.AddTrack(audio.Track{
			Title:       cmd.Title,
			Artist:      cmd.Artist,
			AlbumArtURL: cmd.AlbumArtURL,
			AudioSrc:    cmd.AudioSrc,
		})
	case ActionPlayTrackInPlayer:
		if d.PlayTrack == nil {
			return unsupported(cmd.Action)
		}
		return d.PlayTrack(cmd.Title, cmd.Index)
	case ActionRemoveTrackFromPlaylist:
		if d.RemoveTrack == nil {
			return unsupported(cmd.Action)
		}
		return d.RemoveTrack(cmd.Title, cmd.Index)
	case ActionChangeTheme:
		if d.ChangeTheme == nil {
			return unsupported(cmd.Action)
		}
		return d.ChangeTheme(cmd.Name)
	case ActionRandomizeTheme:
		if d.RandomizeTheme == nil {
			return unsupported(cmd.Action)
		}
		return d.RandomizeTheme()
	case ActionGenerateImage:
		if d.GenerateImage == nil {
			return unsupported(cmd.Action)
		}
		return d.GenerateImage(cmd.Prompt)
	case ActionGenerateVideo:
		if d.GenerateVideo == nil {
			return unsupported(cmd.Action)
		}
		return d.GenerateVideo(cmd.Prompt, cmd.FromImage)
	default:
		log.Printf("command: unknown action %q", cmd.Action)
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
}

func unsupported(a Action) error {
	return fmt.Errorf("action %q not supported in this build", a)
}

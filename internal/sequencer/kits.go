package sequencer

// Built-in kits. Sample keys resolve to files under the configured kit
// directory; trigger keys follow the qwerty grid the pads are drawn in.

var padKeys = []string{
	"1", "2", "3", "4",
	"q", "w", "e", "r",
	"a", "s", "d", "f",
	"z", "x", "c", "v",
}

func makeKit(name string, pads [Steps][2]string) Kit {
	k := Kit{Name: name, Pads: make([]Pad, Steps)}
	for i, p := range pads {
		k.Pads[i] = Pad{Name: p[0], Key: padKeys[i], SampleKey: p[1]}
	}
	return k
}

// DefaultKits returns the built-in kits, first one active by default.
func DefaultKits() []Kit {
	return []Kit{
		makeKit("classic-808", [Steps][2]string{
			{"Kick", "808-kick"}, {"Snare", "808-snare"}, {"Clap", "808-clap"}, {"Rim", "808-rim"},
			{"Closed Hat", "808-hat-closed"}, {"Open Hat", "808-hat-open"}, {"Low Tom", "808-tom-low"}, {"Mid Tom", "808-tom-mid"},
			{"High Tom", "808-tom-high"}, {"Cowbell", "808-cowbell"}, {"Clave", "808-clave"}, {"Maracas", "808-maracas"},
			{"Cymbal", "808-cymbal"}, {"Conga Low", "808-conga-low"}, {"Conga High", "808-conga-high"}, {"Accent", "808-accent"},
		}),
		makeKit("acoustic", [Steps][2]string{
			{"Kick", "ac-kick"}, {"Snare", "ac-snare"}, {"Side Stick", "ac-sidestick"}, {"Snare Ghost", "ac-snare-ghost"},
			{"Closed Hat", "ac-hat-closed"}, {"Open Hat", "ac-hat-open"}, {"Pedal Hat", "ac-hat-pedal"}, {"Ride", "ac-ride"},
			{"Ride Bell", "ac-ride-bell"}, {"Crash", "ac-crash"}, {"Floor Tom", "ac-tom-floor"}, {"Rack Tom 1", "ac-tom-1"},
			{"Rack Tom 2", "ac-tom-2"}, {"Tambourine", "ac-tambourine"}, {"Shaker", "ac-shaker"}, {"Splash", "ac-splash"},
		}),
	}
}

// KitByName finds a built-in kit by name.
func KitByName(name string) (Kit, bool) {
	for _, k := range DefaultKits() {
		if k.Name == name {
			return k, true
		}
	}
	return Kit{}, false
}

package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Settings are split
// into those the running pipeline applies in place and sections that only
// take effect after a restart.
type ConfigDiff struct {
	LanguagesChanged bool
	NewLanguages     LanguagesConfig

	TTSEnabledChanged bool
	CaptionsChanged   bool
	GenderChanged     bool

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the top-level sections whose changes are ignored
	// until restart, e.g. "providers" or "capture".
	RestartRequired []string
}

// SettingsChanged reports whether any hot-applied pipeline setting changed.
func (d ConfigDiff) SettingsChanged() bool {
	return d.LanguagesChanged || d.TTSEnabledChanged || d.CaptionsChanged || d.GenderChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Languages != new.Languages {
		d.LanguagesChanged = true
		d.NewLanguages = new.Languages
	}
	d.TTSEnabledChanged = old.TTS.Enabled != new.TTS.Enabled
	d.CaptionsChanged = old.Captions.Enabled != new.Captions.Enabled
	d.GenderChanged = old.TTS.VoiceGender != new.TTS.VoiceGender

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	restart := func(section string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			d.RestartRequired = append(d.RestartRequired, section)
		}
	}
	restart("server", oldServer, newServer)
	restart("capture", old.Capture, new.Capture)
	restart("pipeline", old.Pipeline, new.Pipeline)
	restart("providers", old.Providers, new.Providers)
	restart("events", old.Events, new.Events)
	restart("telemetry", old.Telemetry, new.Telemetry)

	oldTTS, newTTS := old.TTS, new.TTS
	oldTTS.Enabled, newTTS.Enabled = false, false
	oldTTS.VoiceGender, newTTS.VoiceGender = "", ""
	restart("tts", oldTTS, newTTS)

	oldCap, newCap := old.Captions, new.Captions
	oldCap.Enabled, newCap.Enabled = false, false
	restart("captions", oldCap, newCap)

	slices.Sort(d.RestartRequired)
	return d
}

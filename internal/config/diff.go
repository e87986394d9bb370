package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes are reported individually; everything else is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LanguageChanged bool
	NewLanguage     string

	// CommandsChanged covers the vocabulary and the escape prefix.
	CommandsChanged bool

	// ChatChanged is set when any chat setting changed. The relay reads its
	// configuration per request, so every chat field is hot-reloadable.
	ChatChanged bool

	// RestartRequired names the sections that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// Changed reports whether d contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.LanguageChanged || d.CommandsChanged ||
		d.ChatChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Recognition.Language != new.Recognition.Language {
		d.LanguageChanged = true
		d.NewLanguage = new.Recognition.Language
	}
	if old.Commands.EscapePrefix != new.Commands.EscapePrefix ||
		!reflect.DeepEqual(old.Commands.Vocabulary, new.Commands.Vocabulary) {
		d.CommandsChanged = true
	}
	if !reflect.DeepEqual(old.Chat, new.Chat) {
		d.ChatChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.LogFormat != new.Server.LogFormat ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	oldRec, newRec := old.Recognition, new.Recognition
	oldRec.Language, newRec.Language = "", ""
	if !reflect.DeepEqual(oldRec, newRec) {
		d.RestartRequired = append(d.RestartRequired, "recognition")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	slices.Sort(d.RestartRequired)
	return d
}

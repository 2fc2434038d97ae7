package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged is true when any endpoint-detection tuning value changed.
	// New call sessions pick up the new tuning; in-flight calls keep the
	// detector they started with.
	VADChanged bool
	NewVAD     VADConfig

	// RulesChanged is true when the reflex rule table changed.
	RulesChanged bool
	NewRules     []RuleConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Endpoint detection tuning
	if old.Audio.VAD != new.Audio.VAD {
		d.VADChanged = true
		d.NewVAD = new.Audio.VAD
	}

	// Reflex rules
	if !slices.EqualFunc(old.Reflex.Rules, new.Reflex.Rules, ruleEqual) {
		d.RulesChanged = true
		d.NewRules = new.Reflex.Rules
	}

	return d
}

// HasChanges reports whether the diff contains any hot-reloadable change.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.VADChanged || d.RulesChanged
}

func ruleEqual(a, b RuleConfig) bool {
	return a.Asset == b.Asset &&
		a.Log == b.Log &&
		slices.Equal(a.Phrases, b.Phrases)
}

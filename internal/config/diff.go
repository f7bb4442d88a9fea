package config

// ConfigDiff describes what changed between two configs. Sections that can be
// hot-reloaded are reported individually; everything else folds into
// RestartRequired.
type ConfigDiff struct {
	// AgentChanged is set when the agent persona or greeting settings differ.
	// The new values apply to calls started after the reload.
	AgentChanged bool

	// AIChanged is set when the AI provider selection, credentials, model,
	// or voice differ. The new values apply to subsequent calls.
	AIChanged bool

	// SchedulingChanged is set when the scheduling backend settings differ.
	SchedulingChanged bool

	// SummaryChanged is set when the summarisation settings differ.
	SummaryChanged bool

	// DiscordChanged is set when the notification settings differ.
	DiscordChanged bool

	// LogLevelChanged is set when log.level differs. NewLogLevel carries the
	// new value so the logger can be adjusted in place.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired is set when a section that cannot be hot-reloaded
	// differs: server listeners, the store, observability, or log.format.
	RestartRequired bool
}

// Empty reports whether no differences were found.
func (d ConfigDiff) Empty() bool {
	return d == ConfigDiff{}
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Agent != new.Agent {
		d.AgentChanged = true
	}
	if old.AI != new.AI {
		d.AIChanged = true
	}
	if old.Scheduling != new.Scheduling {
		d.SchedulingChanged = true
	}
	if old.Summary != new.Summary {
		d.SummaryChanged = true
	}
	if old.Discord != new.Discord {
		d.DiscordChanged = true
	}
	if old.Log.Level != new.Log.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Log.Level
	}
	if old.Server != new.Server || old.Store != new.Store ||
		old.Observability != new.Observability || old.Log.Format != new.Log.Format {
		d.RestartRequired = true
	}

	return d
}

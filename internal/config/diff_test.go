package config_test

import (
	"testing"

	"github.com/MrWong99/trunkline/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()

	d := config.Diff(old, new)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Log.Level = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.RestartRequired {
		t.Error("log level change should not require a restart")
	}
}

func TestDiff_AgentChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Agent.SystemInstruction = "You are the booking agent for Bella Vista."

	d := config.Diff(old, new)
	if !d.AgentChanged {
		t.Error("expected AgentChanged=true")
	}
	if d.AIChanged || d.RestartRequired {
		t.Errorf("unexpected flags set: %+v", d)
	}
}

func TestDiff_GreetingChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Agent.Greeting = config.GreetingCallerFirst

	d := config.Diff(old, new)
	if !d.AgentChanged {
		t.Error("expected AgentChanged=true for greeting mode change")
	}
}

func TestDiff_AIChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.AI.Voice = "Puck"

	d := config.Diff(old, new)
	if !d.AIChanged {
		t.Error("expected AIChanged=true")
	}
	if d.AgentChanged {
		t.Error("expected AgentChanged=false")
	}
}

func TestDiff_SchedulingChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Scheduling.BaseURL = "https://booking.example.com"

	d := config.Diff(old, new)
	if !d.SchedulingChanged {
		t.Error("expected SchedulingChanged=true")
	}
}

func TestDiff_SummaryChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Summary.Enabled = true

	d := config.Diff(old, new)
	if !d.SummaryChanged {
		t.Error("expected SummaryChanged=true")
	}
}

func TestDiff_DiscordChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Discord.ChannelID = "987654321"

	d := config.Diff(old, new)
	if !d.DiscordChanged {
		t.Error("expected DiscordChanged=true")
	}
}

func TestDiff_ServerChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.ListenAddr = ":8081"

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("expected RestartRequired=true for listener change")
	}
	if d.AgentChanged || d.AIChanged {
		t.Errorf("unexpected flags set: %+v", d)
	}
}

func TestDiff_StoreChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Store.Driver = config.StorePostgres
	new.Store.DSN = "postgres://localhost/trunkline"

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("expected RestartRequired=true for store change")
	}
}

func TestDiff_LogFormatChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Log.Format = config.LogJSON

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("expected RestartRequired=true for log format change")
	}
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Agent.GreetingPrompt = "Say hello in rhyme."
	new.Log.Level = config.LogWarn
	new.Store.DSN = "/tmp/other.db"

	d := config.Diff(old, new)
	if !d.AgentChanged {
		t.Error("expected AgentChanged=true")
	}
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("expected LogLevelChanged to warn, got %+v", d)
	}
	if !d.RestartRequired {
		t.Error("expected RestartRequired=true for store change")
	}
	if d.Empty() {
		t.Error("diff should not be empty")
	}
}

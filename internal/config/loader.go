package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"ai": {"gemini-live"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config populated with all defaults, as if an empty file
// had been loaded.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero-valued fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.MediaPath == "" {
		cfg.Server.MediaPath = "/media"
	}
	if cfg.Server.OpsListenAddr == "" {
		cfg.Server.OpsListenAddr = ":9090"
	}
	if cfg.Agent.Greeting == "" {
		cfg.Agent.Greeting = GreetingAgentFirst
	}
	if cfg.Agent.GreetingPrompt == "" {
		cfg.Agent.GreetingPrompt = "Greet the caller and ask how you can help."
	}
	if cfg.Agent.BufferFrames == 0 {
		cfg.Agent.BufferFrames = 100
	}
	if cfg.Agent.ConnectTimeoutSeconds == 0 {
		cfg.Agent.ConnectTimeoutSeconds = 10
	}
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "gemini-live"
	}
	if cfg.AI.APIKeyEnv == "" {
		cfg.AI.APIKeyEnv = "GEMINI_API_KEY"
	}
	if cfg.Scheduling.RequestTimeoutSeconds == 0 {
		cfg.Scheduling.RequestTimeoutSeconds = 10
	}
	if cfg.Scheduling.Breaker.MaxFailures == 0 {
		cfg.Scheduling.Breaker.MaxFailures = 5
	}
	if cfg.Scheduling.Breaker.ResetTimeoutSeconds == 0 {
		cfg.Scheduling.Breaker.ResetTimeoutSeconds = 30
	}
	if cfg.Scheduling.Breaker.HalfOpenMax == 0 {
		cfg.Scheduling.Breaker.HalfOpenMax = 3
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreSQLite
	}
	if cfg.Store.DSN == "" && cfg.Store.Driver == StoreSQLite {
		cfg.Store.DSN = "trunkline.db"
	}
	if cfg.Summary.Model == "" {
		cfg.Summary.Model = "gpt-4o-mini"
	}
	if cfg.Summary.APIKeyEnv == "" {
		cfg.Summary.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "trunkline"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = LogInfo
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = LogText
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.MediaPath != "" && !strings.HasPrefix(cfg.Server.MediaPath, "/") {
		errs = append(errs, fmt.Errorf("server.media_path %q must start with a slash", cfg.Server.MediaPath))
	}

	// Agent
	if cfg.Agent.Greeting != "" && !cfg.Agent.Greeting.IsValid() {
		errs = append(errs, fmt.Errorf("agent.greeting %q is invalid; valid values: agent_first, caller_first", cfg.Agent.Greeting))
	}
	if cfg.Agent.BufferFrames < 0 {
		errs = append(errs, fmt.Errorf("agent.buffer_frames must not be negative, got %d", cfg.Agent.BufferFrames))
	}
	if cfg.Agent.ConnectTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("agent.connect_timeout_seconds must not be negative, got %d", cfg.Agent.ConnectTimeoutSeconds))
	}

	// AI provider name validation, warn for unknown names.
	validateProviderName("ai", cfg.AI.Provider)
	if cfg.AI.ResolveAPIKey() == "" {
		slog.Warn("no AI API key configured; calls will fail to connect",
			"api_key_env", cfg.AI.APIKeyEnv,
		)
	}

	// Scheduling
	if cfg.Scheduling.RequestTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("scheduling.request_timeout_seconds must not be negative, got %d", cfg.Scheduling.RequestTimeoutSeconds))
	}
	if b := cfg.Scheduling.Breaker; b.MaxFailures < 0 || b.ResetTimeoutSeconds < 0 || b.HalfOpenMax < 0 {
		errs = append(errs, errors.New("scheduling.breaker values must not be negative"))
	}
	if cfg.Scheduling.BaseURL == "" {
		slog.Warn("scheduling.base_url is empty; the booking tools are disabled")
	}

	// Store
	if cfg.Store.Driver != "" && !cfg.Store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: sqlite, postgres, none", cfg.Store.Driver))
	}
	if cfg.Store.Driver == StorePostgres && cfg.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required when store.driver is postgres"))
	}
	if cfg.Store.Driver == StoreNone {
		slog.Warn("store.driver is none; call records will not be persisted")
	}

	// Summary
	if cfg.Summary.Enabled && cfg.Summary.ResolveAPIKey() == "" {
		slog.Warn("summary.enabled is set but no API key is configured; summaries will fail",
			"api_key_env", cfg.Summary.APIKeyEnv,
		)
	}

	// Discord
	if cfg.Discord.Token != "" && cfg.Discord.ChannelID == "" {
		errs = append(errs, errors.New("discord.channel_id is required when discord.token is set"))
	}
	if cfg.Discord.Token == "" && cfg.Discord.ChannelID != "" {
		slog.Warn("discord.channel_id is set but discord.token is empty; notifications are disabled")
	}

	// Log
	if cfg.Log.Level != "" && !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Log.Format != "" && !cfg.Log.Format.IsValid() {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json", cfg.Log.Format))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

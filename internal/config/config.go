// Package config provides the configuration schema, loader, and provider
// registry for the Trunkline phone gateway.
package config

import (
	"log/slog"
	"os"
	"time"
)

// LogLevel controls log verbosity for the Trunkline server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog returns the [slog.Level] equivalent of l. Unrecognised levels map to
// [slog.LevelInfo].
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat selects the log output encoding.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogText || f == LogJSON
}

// GreetingMode selects who speaks first once a call is connected.
type GreetingMode string

const (
	// GreetingAgentFirst has the agent open the conversation as soon as the
	// AI session is ready.
	GreetingAgentFirst GreetingMode = "agent_first"

	// GreetingCallerFirst keeps the agent silent until the caller speaks.
	GreetingCallerFirst GreetingMode = "caller_first"
)

// IsValid reports whether g is a recognised greeting mode.
func (g GreetingMode) IsValid() bool {
	return g == GreetingAgentFirst || g == GreetingCallerFirst
}

// StoreDriver selects the call-log storage backend.
type StoreDriver string

const (
	StoreSQLite   StoreDriver = "sqlite"
	StorePostgres StoreDriver = "postgres"

	// StoreNone disables call-log persistence entirely.
	StoreNone StoreDriver = "none"
)

// IsValid reports whether d is a recognised store driver.
func (d StoreDriver) IsValid() bool {
	switch d {
	case StoreSQLite, StorePostgres, StoreNone:
		return true
	}
	return false
}

// Config is the root configuration structure for Trunkline.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Agent         AgentConfig         `yaml:"agent"`
	AI            AIConfig            `yaml:"ai"`
	Scheduling    SchedulingConfig    `yaml:"scheduling"`
	Store         StoreConfig         `yaml:"store"`
	Summary       SummaryConfig       `yaml:"summary"`
	Discord       DiscordConfig       `yaml:"discord"`
	Observability ObservabilityConfig `yaml:"observability"`
	Log           LogConfig           `yaml:"log"`
}

// ServerConfig holds the network settings for the two HTTP listeners.
type ServerConfig struct {
	// ListenAddr is the TCP address of the media listener that accepts
	// telephony WebSocket connections (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// MediaPath is the URL path the media WebSocket endpoint is served on.
	MediaPath string `yaml:"media_path"`

	// OpsListenAddr is the TCP address of the operational listener that
	// serves the health and metrics endpoints (e.g., ":9090").
	OpsListenAddr string `yaml:"ops_listen_addr"`
}

// AgentConfig describes the phone agent's persona and per-call behaviour.
type AgentConfig struct {
	// Name is the agent's display name, used in transcripts and notifications.
	Name string `yaml:"name"`

	// SystemInstruction is the free-text persona and task description sent to
	// the AI provider when a session opens.
	SystemInstruction string `yaml:"system_instruction"`

	// Greeting selects who speaks first on a new call.
	Greeting GreetingMode `yaml:"greeting"`

	// GreetingPrompt is the text turn injected to elicit the agent's opening
	// line when Greeting is agent_first. Ignored for caller_first.
	GreetingPrompt string `yaml:"greeting_prompt"`

	// BufferFrames caps how many caller audio frames are held while the AI
	// session is still connecting. The oldest frames are dropped beyond the cap.
	BufferFrames int `yaml:"buffer_frames"`

	// ConnectTimeoutSeconds bounds how long a call waits for the AI session
	// to become ready before the call is rejected.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
}

// ConnectTimeout returns the AI session connect deadline as a duration.
func (a AgentConfig) ConnectTimeout() time.Duration {
	return time.Duration(a.ConnectTimeoutSeconds) * time.Second
}

// AIConfig selects and authenticates the speech-to-speech AI provider.
type AIConfig struct {
	// Provider selects the registered AI backend (e.g., "gemini-live").
	Provider string `yaml:"provider"`

	// APIKey is the provider API key. Takes precedence over APIKeyEnv.
	APIKey string `yaml:"api_key"`

	// APIKeyEnv names an environment variable to read the API key from when
	// APIKey is empty.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Voice is the provider-specific voice identifier for agent speech.
	Voice string `yaml:"voice"`
}

// ResolveAPIKey returns the API key to use, preferring the inline value over
// the environment variable named by APIKeyEnv.
func (a AIConfig) ResolveAPIKey() string {
	if a.APIKey != "" {
		return a.APIKey
	}
	if a.APIKeyEnv != "" {
		return os.Getenv(a.APIKeyEnv)
	}
	return ""
}

// SchedulingConfig points at the HTTP scheduling backend the agent checks
// availability against and books appointments with.
type SchedulingConfig struct {
	// BaseURL is the root URL of the scheduling API. Empty disables the
	// booking tools.
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as the X-API-Key header on every backend request.
	APIKey string `yaml:"api_key"`

	// RequestTimeoutSeconds bounds each backend request.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`

	// Breaker tunes the circuit breaker guarding the backend.
	Breaker BreakerConfig `yaml:"breaker"`
}

// RequestTimeout returns the per-request deadline as a duration.
func (s SchedulingConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// BreakerConfig tunes the circuit breaker in front of the scheduling backend.
type BreakerConfig struct {
	// MaxFailures is the consecutive-failure count that opens the breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeoutSeconds is how long the breaker stays open before letting
	// probe requests through.
	ResetTimeoutSeconds int `yaml:"reset_timeout_seconds"`

	// HalfOpenMax is how many probe requests are allowed while half-open.
	HalfOpenMax int `yaml:"half_open_max"`
}

// ResetTimeout returns the open-state hold time as a duration.
func (b BreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(b.ResetTimeoutSeconds) * time.Second
}

// StoreConfig selects where call records and transcripts are persisted.
type StoreConfig struct {
	// Driver selects the storage backend.
	Driver StoreDriver `yaml:"driver"`

	// DSN is the driver-specific connection string: a file path for sqlite,
	// a connection URL for postgres. Ignored when Driver is "none".
	DSN string `yaml:"dsn"`
}

// SummaryConfig controls post-call transcript summarisation through an
// OpenAI-compatible chat completion API.
type SummaryConfig struct {
	// Enabled turns summarisation on.
	Enabled bool `yaml:"enabled"`

	// Model is the chat model used for summaries (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// APIKey is the API key. Takes precedence over APIKeyEnv.
	APIKey string `yaml:"api_key"`

	// APIKeyEnv names an environment variable to read the API key from when
	// APIKey is empty.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url"`
}

// ResolveAPIKey returns the API key to use, preferring the inline value over
// the environment variable named by APIKeyEnv.
func (s SummaryConfig) ResolveAPIKey() string {
	if s.APIKey != "" {
		return s.APIKey
	}
	if s.APIKeyEnv != "" {
		return os.Getenv(s.APIKeyEnv)
	}
	return ""
}

// DiscordConfig enables call notifications to a Discord channel.
// Leave Token empty to disable notifications.
type DiscordConfig struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// ChannelID is the channel that receives call notifications.
	ChannelID string `yaml:"channel_id"`
}

// ObservabilityConfig names the service on exported metrics and traces.
type ObservabilityConfig struct {
	// ServiceName is reported as service.name on all telemetry.
	ServiceName string `yaml:"service_name"`
}

// LogConfig controls log output.
type LogConfig struct {
	// Level controls verbosity.
	Level LogLevel `yaml:"level"`

	// Format selects the output encoding.
	Format LogFormat `yaml:"format"`
}

// Package app assembles and runs the Trunkline phone gateway.
//
// It owns the full lifecycle: New creates and wires all subsystems from
// configuration (call-log store, scheduling tools, AI provider, summariser,
// notifier, health checks), Run serves the media and ops listeners until the
// context is cancelled, and Shutdown tears everything down in reverse
// initialisation order.
//
// For testing, inject mock implementations via the functional options.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/trunkline/internal/calllog"
	"github.com/MrWong99/trunkline/internal/calllog/postgres"
	"github.com/MrWong99/trunkline/internal/calllog/sqlite"
	"github.com/MrWong99/trunkline/internal/config"
	"github.com/MrWong99/trunkline/internal/health"
	"github.com/MrWong99/trunkline/internal/notify"
	"github.com/MrWong99/trunkline/internal/observe"
	"github.com/MrWong99/trunkline/internal/scheduling"
	"github.com/MrWong99/trunkline/internal/summary"
	"github.com/MrWong99/trunkline/internal/tools"
	"github.com/MrWong99/trunkline/pkg/provider/s2s"
)

// App is the assembled Trunkline gateway. Create with [New], serve with
// [App.Run], stop with [App.Shutdown].
type App struct {
	cfg      *config.Config
	registry *config.Registry
	version  string

	store      calllog.Store
	sched      *scheduling.Client
	tools      *tools.Registry
	summariser summary.Summariser
	notifier   *notify.Notifier
	met        *observe.Metrics
	health     *health.Handler
	logLevel   *slog.LevelVar

	// mu guards the hot-reloadable snapshot consumed by new calls.
	mu       sync.RWMutex
	agent    config.AgentConfig
	ai       config.AIConfig
	provider s2s.Provider

	// addrMu guards the listener addresses published by Run.
	addrMu    sync.Mutex
	mediaAddr string
	opsAddr   string

	calls    *callRegistry
	closers  []func() error
	stopOnce sync.Once
}

// Option customises App construction, primarily to inject test doubles.
type Option func(*App)

// WithStore injects a call-log store, overriding the store.driver config.
func WithStore(s calllog.Store) Option {
	return func(a *App) { a.store = s }
}

// WithAIProvider injects the speech-to-speech provider directly, bypassing
// the provider registry.
func WithAIProvider(p s2s.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithSchedulingClient injects a scheduling backend client.
func WithSchedulingClient(c *scheduling.Client) Option {
	return func(a *App) { a.sched = c }
}

// WithSummariser injects a transcript summariser.
func WithSummariser(s summary.Summariser) Option {
	return func(a *App) { a.summariser = s }
}

// WithNotifier injects a Discord notifier.
func WithNotifier(n *notify.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithMetrics injects the metrics instruments, letting tests use an isolated
// meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.met = m }
}

// WithLogLevel hands the app the level var behind the process logger so that
// log.level config changes apply without a restart.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithVersion sets the version string reported by the health endpoints.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New assembles the gateway from configuration. The registry supplies the AI
// provider factory named by cfg.AI.Provider; it may be nil when the provider
// is injected via [WithAIProvider].
func New(ctx context.Context, cfg *config.Config, registry *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		registry: registry,
		agent:    cfg.Agent,
		ai:       cfg.AI,
		calls:    newCallRegistry(),
	}
	for _, opt := range opts {
		opt(a)
	}

	// ── 1. Metrics ──
	if a.met == nil {
		a.met = observe.DefaultMetrics()
	}

	// ── 2. Call-log store ──
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Scheduling backend and tools ──
	a.initScheduling()
	if err := a.initTools(); err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	// ── 4. AI provider ──
	if err := a.initProvider(); err != nil {
		return nil, fmt.Errorf("app: init ai provider: %w", err)
	}

	// ── 5. Post-call pipeline ──
	if err := a.initSummariser(); err != nil {
		return nil, fmt.Errorf("app: init summariser: %w", err)
	}
	if err := a.initNotifier(); err != nil {
		return nil, fmt.Errorf("app: init notifier: %w", err)
	}

	// ── 6. Health checks ──
	a.initHealth()

	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	switch a.cfg.Store.Driver {
	case config.StoreSQLite:
		s, err := sqlite.NewStore(ctx, a.cfg.Store.DSN)
		if err != nil {
			return err
		}
		a.store = s
	case config.StorePostgres:
		s, err := postgres.NewStore(ctx, a.cfg.Store.DSN)
		if err != nil {
			return err
		}
		a.store = s
	case config.StoreNone:
		return nil
	default:
		return fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}
	a.closers = append(a.closers, a.store.Close)
	slog.Info("call log store ready", "driver", a.cfg.Store.Driver)
	return nil
}

func (a *App) initScheduling() {
	if a.sched != nil || a.cfg.Scheduling.BaseURL == "" {
		return
	}
	sc := a.cfg.Scheduling
	breaker := scheduling.NewBreaker(scheduling.BreakerConfig{
		Name:         "scheduling",
		MaxFailures:  sc.Breaker.MaxFailures,
		ResetTimeout: sc.Breaker.ResetTimeout(),
		HalfOpenMax:  sc.Breaker.HalfOpenMax,
	})
	a.sched = scheduling.NewClient(sc.BaseURL, sc.APIKey,
		scheduling.WithRequestTimeout(sc.RequestTimeout()),
		scheduling.WithBreaker(breaker),
	)
	slog.Info("scheduling backend configured", "base_url", sc.BaseURL)
}

func (a *App) initTools() error {
	a.tools = tools.NewRegistry()
	if a.sched == nil {
		return nil
	}
	resolver := scheduling.NewResolver()
	for _, t := range scheduling.Tools(a.sched, resolver) {
		if err := a.tools.Register(t); err != nil {
			return err
		}
	}
	slog.Info("booking tools registered", "count", len(a.tools.Declarations()))
	return nil
}

func (a *App) initProvider() error {
	if a.provider != nil {
		return nil
	}
	if a.registry == nil {
		return fmt.Errorf("no provider registry and no injected provider")
	}
	p, err := a.registry.CreateAI(a.cfg.AI)
	if err != nil {
		return err
	}
	a.provider = p
	slog.Info("ai provider ready", "provider", a.cfg.AI.Provider, "model", a.cfg.AI.Model)
	return nil
}

func (a *App) initSummariser() error {
	if a.summariser != nil || !a.cfg.Summary.Enabled {
		return nil
	}
	key := a.cfg.Summary.ResolveAPIKey()
	if key == "" {
		// Validate already warned; run without summaries rather than fail.
		return nil
	}
	opts := []summary.Option{summary.WithModel(a.cfg.Summary.Model)}
	if a.cfg.Summary.BaseURL != "" {
		opts = append(opts, summary.WithBaseURL(a.cfg.Summary.BaseURL))
	}
	s, err := summary.New(key, opts...)
	if err != nil {
		return err
	}
	a.summariser = s
	slog.Info("post-call summarisation enabled", "model", a.cfg.Summary.Model)
	return nil
}

func (a *App) initNotifier() error {
	if a.notifier != nil || a.cfg.Discord.Token == "" {
		return nil
	}
	n, err := notify.New(a.cfg.Discord.Token, a.cfg.Discord.ChannelID)
	if err != nil {
		return err
	}
	a.notifier = n
	slog.Info("discord notifications enabled", "channel_id", a.cfg.Discord.ChannelID)
	return nil
}

func (a *App) initHealth() {
	var checkers []health.Checker
	if a.store != nil {
		checkers = append(checkers, health.PingChecker("call_log", a.store))
	}
	if a.sched != nil {
		breaker := a.sched.Breaker()
		checkers = append(checkers, health.Checker{
			Name: "scheduling",
			Check: func(context.Context) error {
				if state := breaker.State(); state == scheduling.BreakerOpen {
					return fmt.Errorf("circuit breaker is %s", state)
				}
				return nil
			},
		})
	}
	a.health = health.New(a.version, checkers...)
}

// ActiveCalls returns the number of calls currently being relayed.
func (a *App) ActiveCalls() int {
	return a.calls.active()
}

// MediaAddr returns the bound address of the media listener. Empty until Run
// has started listening; useful when the configured port is ":0".
func (a *App) MediaAddr() string {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.mediaAddr
}

// OpsAddr returns the bound address of the ops listener. Empty until Run has
// started listening.
func (a *App) OpsAddr() string {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.opsAddr
}

// ApplyConfig reacts to a configuration reload. Hot-reloadable sections take
// effect immediately (agent persona and AI settings apply to calls accepted
// from now on, the log level switches in place); everything else logs a
// restart-required warning.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.AgentChanged || d.AIChanged {
		a.mu.Lock()
		a.agent = new.Agent
		a.ai = new.AI
		if d.AIChanged && a.registry != nil {
			if p, err := a.registry.CreateAI(new.AI); err != nil {
				slog.Warn("ai provider rebuild failed; keeping previous provider", "error", err)
			} else {
				a.provider = p
			}
		}
		a.mu.Unlock()
		slog.Info("agent configuration updated; applies to calls accepted from now on",
			"agent_changed", d.AgentChanged,
			"ai_changed", d.AIChanged,
		)
	}

	if d.LogLevelChanged {
		if a.logLevel != nil {
			a.logLevel.Set(d.NewLogLevel.Slog())
			slog.Info("log level changed", "level", d.NewLogLevel)
		} else {
			slog.Warn("log level changed in config but the logger is not reloadable")
		}
	}

	var restart []string
	if d.SchedulingChanged {
		restart = append(restart, "scheduling")
	}
	if d.SummaryChanged {
		restart = append(restart, "summary")
	}
	if d.DiscordChanged {
		restart = append(restart, "discord")
	}
	if d.RestartRequired {
		restart = append(restart, "server/store/observability/log.format")
	}
	if len(restart) > 0 {
		slog.Warn("configuration changes require a restart to take effect",
			"sections", strings.Join(restart, ", "),
		)
	}
}

// Shutdown releases all resources in reverse initialisation order. It is safe
// to call multiple times; only the first call does work. The context bounds
// how long cleanup may take.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline reached", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer failed during shutdown", "error", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// Package cli implements the zen commands on top of the Forge.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/aretw0/zenforge"
	"github.com/aretw0/zenforge/internal/config"
	"github.com/aretw0/zenforge/internal/logging"
	"github.com/aretw0/zenforge/pkg/adapters/file"
	"github.com/aretw0/zenforge/pkg/adapters/redis"
	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/observability"
	"github.com/aretw0/zenforge/pkg/persistence/middleware"
	"github.com/aretw0/zenforge/pkg/ports"
)

// Globals are the flags shared by every command.
type Globals struct {
	ConfigDir string
	EnvFile   string
	Verbose   bool
	Quiet     bool
	// Stderr receives logs unless LOG_FILE is set. Defaults to os.Stderr.
	Stderr io.Writer
}

// App holds what every command needs: settings, configuration, logger and metrics.
type App struct {
	Settings config.Settings
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *observability.Metrics

	once    sync.Once
	redis   *redis.Store
	storeMW []middleware.Middleware
	closers []io.Closer
}

// Bootstrap reads settings and configuration and builds the logger.
func Bootstrap(g Globals) (*App, error) {
	settings, err := config.LoadSettings(g.EnvFile)
	if err != nil {
		return nil, &domain.ConfigurationError{Subject: "settings", Reason: err.Error()}
	}
	cfg, err := config.Load(g.ConfigDir)
	if err != nil {
		return nil, err
	}

	app := &App{Settings: settings, Config: cfg, Metrics: observability.NewMetrics()}
	if app.storeMW, err = storeMiddleware(settings); err != nil {
		return nil, err
	}

	out := g.Stderr
	if out == nil {
		out = os.Stderr
	}
	if settings.LogFile != "" {
		f, err := os.OpenFile(settings.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, &domain.ConfigurationError{Subject: "LOG_FILE", Reason: err.Error()}
		}
		app.closers = append(app.closers, f)
		out = f
	}

	level := logging.ParseLevel(settings.LogLevel)
	switch {
	case g.Verbose:
		level = slog.LevelDebug
	case g.Quiet:
		level = slog.LevelError
	}
	app.Logger = logging.NewWithOptions(logging.Options{Level: level, Format: settings.LogFormat, Output: out})
	return app, nil
}

func (a *App) redisStore() *redis.Store {
	a.once.Do(func() {
		if a.Settings.RedisAddr == "" {
			return
		}
		a.redis = redis.New(a.Settings.RedisAddr, a.Settings.RedisPassword, a.Settings.RedisDB)
		a.closers = append(a.closers, a.redis)
	})
	return a.redis
}

// Store returns the run store: Redis when REDIS_ADDR is set, JSON files otherwise.
// Redaction and encryption apply when configured.
func (a *App) Store() ports.RunStore {
	var store ports.RunStore
	if r := a.redisStore(); r != nil {
		store = r
	} else {
		store = file.New(a.Settings.SessionDir)
	}
	return middleware.Chain(store, a.storeMW...)
}

// storeMiddleware redacts clarifications named by SESSION_REDACT_KEYS, then
// encrypts with SESSION_KEY. SESSION_OLD_KEYS still decrypt older checkpoints.
func storeMiddleware(s config.Settings) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if patterns := splitList(s.RedactKeys); len(patterns) > 0 {
		pii, err := middleware.NewPIIMiddleware(patterns)
		if err != nil {
			return nil, err
		}
		mws = append(mws, pii)
	}
	if s.SessionKey == "" {
		return mws, nil
	}
	active, err := middleware.ParseKey(s.SessionKey)
	if err != nil {
		return nil, err
	}
	cfg := middleware.EncryptionConfig{ActiveKey: active}
	for _, k := range splitList(s.SessionOldKeys) {
		old, err := middleware.ParseKey(k)
		if err != nil {
			return nil, err
		}
		cfg.FallbackKeys = append(cfg.FallbackKeys, old)
	}
	enc, err := middleware.NewEncryptionMiddleware(cfg)
	if err != nil {
		return nil, err
	}
	return append(mws, enc), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Locker returns the cross-process slot lock, or nil when no Redis is configured.
func (a *App) Locker() ports.DistributedLocker {
	if r := a.redisStore(); r != nil {
		return redis.NewLocker(r.Client(), "zen:lock:")
	}
	return nil
}

// Forge assembles the pipeline with the settings applied. Extra options are applied last.
func (a *App) Forge(extra ...zenforge.Option) (*zenforge.Forge, error) {
	opts := []zenforge.Option{
		zenforge.WithEndpoint(a.Settings.OllamaBaseURL),
		zenforge.WithLogger(a.Logger),
		zenforge.WithInferenceTimeout(a.Settings.InferenceTimeout),
		zenforge.WithSlotHooks(a.Metrics.SlotHooks()),
	}
	if l := a.Locker(); l != nil {
		opts = append(opts, zenforge.WithLocker(l))
	}
	return zenforge.NewWithConfig(a.Config, append(opts, extra...)...)
}

// Mode resolves a mode flag, falling back to DEFAULT_MODE.
func (a *App) Mode(flag string) (domain.Mode, error) {
	if flag == "" {
		flag = a.Settings.DefaultMode
	}
	return domain.ParseMode(flag)
}

// Close releases files and connections opened by the app.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = fmt.Errorf("close: %w", err)
		}
	}
	return first
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Sentinel-Gate/seatswap/internal/adapter/outbound/desired"
	"github.com/Sentinel-Gate/seatswap/internal/adapter/outbound/journal"
	"github.com/Sentinel-Gate/seatswap/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/seatswap/internal/adapter/outbound/notify"
	"github.com/Sentinel-Gate/seatswap/internal/adapter/outbound/parse"
	"github.com/Sentinel-Gate/seatswap/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/seatswap/internal/adapter/outbound/studentlink"
	"github.com/Sentinel-Gate/seatswap/internal/config"
	"github.com/Sentinel-Gate/seatswap/internal/domain/course"
	notifydomain "github.com/Sentinel-Gate/seatswap/internal/domain/notify"
	"github.com/Sentinel-Gate/seatswap/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/seatswap/internal/service"
)

// app is the wired component graph shared by start and check.
type app struct {
	cfg       *config.Config
	durations config.Durations
	logger    *slog.Logger
	term      course.Term

	registry *prometheus.Registry
	metrics  *service.Metrics

	limiter    *memory.RateLimiter
	state      *state.FileStateStore
	client     *studentlink.Client
	session    *service.AuthSession
	registrar  *service.Registrar
	specs      *desired.FileStore
	notifier   *service.NotificationService
	journal    *journal.SQLiteJournal
	reconciler *service.Reconciler
}

// loadConfig reads and validates the configuration. --dev overrides dev_mode.
func loadConfig(dev bool) (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dev {
		cfg.DevMode = true
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// newLogger writes text records to stderr at the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Log.Level)
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newApp wires every component. withJournal opens the attempt journal;
// check runs without one.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, withJournal bool) (*app, error) {
	term, err := course.ParseTerm(cfg.Term)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:       cfg,
		durations: cfg.ParseDurations(),
		logger:    logger,
		term:      term,
		registry:  prometheus.NewRegistry(),
	}
	a.metrics = service.NewMetrics(a.registry)

	endpoints, err := studentlink.ParseEndpoints(cfg.Portal.BaseURL, cfg.Portal.IdPURL, cfg.Portal.DuoURL, cfg.Portal.ACSURL)
	if err != nil {
		return nil, err
	}

	// One limiter paces every host the login chain and the portal touch.
	a.limiter = memory.NewRateLimiter(logger.With("component", "pacing"))
	pace := ratelimit.PerMinute(cfg.Portal.RequestsPerMinute)

	a.client, err = studentlink.NewClient(endpoints, logger.With("component", "portal"),
		studentlink.WithTimeout(a.durations.PortalTimeout),
		studentlink.WithPacing(a.limiter, pace),
	)
	if err != nil {
		return nil, err
	}

	a.state = state.NewFileStateStore(cfg.Session.StatePath, logger.With("component", "state"))
	if err := a.restoreCookies(ctx); err != nil {
		logger.Warn("starting without saved session", "error", err)
	}

	auth := studentlink.NewAuthenticator(a.client, studentlink.Credentials{
		Username: cfg.Credentials.Username,
		Password: cfg.Credentials.Password,
	}, logger.With("component", "login"), studentlink.WithLoginPacing(a.limiter, ratelimit.PerMinute(6)))

	a.session = service.NewAuthSession(a.client, auth, logger.With("component", "session"),
		service.WithLoginRetries(cfg.Session.LoginRetries),
		service.WithLoginHook(a.saveCookies),
		service.WithSessionMetrics(a.metrics),
	)

	a.registrar = service.NewRegistrar(a.session, parse.NewScheduleParser(), logger.With("component", "registrar"),
		service.WithCacheTTLs(a.durations.TermOptionsTTL, a.durations.BuildingTTL, a.durations.CollegesTTL),
		service.WithRegistrarMetrics(a.metrics),
	)

	a.specs, err = desired.NewFileStore(cfg.Reconcile.SpecPath)
	if err != nil {
		return nil, err
	}

	sink, err := newSink(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.notifier = service.NewNotificationService(sink, logger.With("component", "notify"),
		service.WithNotifyChannelSize(cfg.Notify.ChannelSize),
		service.WithNotifySendTimeout(a.durations.SendTimeout),
		service.WithNotifyMetrics(a.metrics),
	)

	engine := service.NewSwapEngine(a.registrar, logger.With("component", "swap"),
		service.WithStrictCompensation(cfg.Reconcile.StrictCompensation),
		service.WithSwapMetrics(a.metrics),
	)

	opts := []service.ReconcilerOption{
		service.WithInterval(a.durations.Interval),
		service.WithBackoffCap(a.durations.BackoffCap),
		service.WithStopOnCritical(cfg.Reconcile.StopOnCritical),
		service.WithCheckpoint(a.state),
		service.WithReconcilerMetrics(a.metrics),
	}
	if withJournal && cfg.JournalEnabled() {
		a.journal, err = journal.Open(ctx, cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		opts = append(opts, service.WithJournal(a.journal))
	}
	a.reconciler = service.NewReconciler(term, a.specs, a.registrar, engine, a.notifier, logger.With("component", "reconciler"), opts...)
	return a, nil
}

// newSink posts to the webhook when one is configured and logs otherwise.
func newSink(cfg *config.Config, logger *slog.Logger) (notifydomain.Sink, error) {
	if cfg.Notify.WebhookURL == "" {
		return notify.NewLogSink(logger.With("component", "notify")), nil
	}
	return notify.NewWebhookSink(cfg.Notify.WebhookURL, logger.With("component", "notify"),
		notify.WithUsernamePrefix(cfg.Notify.Username))
}

// restoreCookies loads the persisted session into the client's jar.
func (a *app) restoreCookies(ctx context.Context) error {
	cookies, err := a.state.LoadCookies(ctx)
	if err != nil {
		return err
	}
	if n := a.client.RestoreCookies(cookies); n > 0 {
		a.logger.Info("restored saved session", "cookies", n)
	}
	return nil
}

// saveCookies persists the jar after a login so the next start skips the 2FA push.
func (a *app) saveCookies(ctx context.Context) {
	if err := a.state.SaveCookies(context.WithoutCancel(ctx), a.client.Cookies()); err != nil {
		a.logger.Warn("failed to save session", "error", err)
	}
}

// Close releases the journal and stops the pacing sweep.
func (a *app) Close() error {
	a.limiter.Stop()
	if a.journal != nil {
		return a.journal.Close()
	}
	return nil
}

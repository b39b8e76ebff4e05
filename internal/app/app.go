// Package app wires the services together and serves the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"moodjournal/internal/auth"
	"moodjournal/internal/cache"
	"moodjournal/internal/calendar"
	"moodjournal/internal/config"
	"moodjournal/internal/feedback"
	"moodjournal/internal/journal"
	"moodjournal/internal/rewards"
	"moodjournal/internal/scheduler"
	"moodjournal/internal/storage"
	"moodjournal/internal/telegram"
	"moodjournal/internal/users"
	"moodjournal/internal/worker"
)

// Application holds all the major components of the service.
type Application struct {
	Config        *config.Config
	Logger        *zap.Logger
	Calendar      *calendar.Calendar
	Store         *storage.Store
	Cache         *cache.Cache
	WorkerPool    *worker.Pool
	Telegram      *telegram.Service
	Scheduler     *scheduler.Scheduler
	Users         *users.Service
	Journal       *journal.Service
	Rewards       *rewards.Service
	HTTPServer    *http.Server
	MetricsServer *http.Server

	cacheBackend cache.Store
	tokens       *auth.TokenManager
	validate     *validator.Validate
	loginLimiter *ipLimiter
	stopPolling  context.CancelFunc
}

// Option overrides a collaborator, mainly for tests.
type Option func(*overrides)

type overrides struct {
	clock      clockwork.Clock
	notifier   telegram.Notifier
	generator  feedback.Generator
	dispatcher worker.Dispatcher
	cacheStore cache.Store
}

// WithClock replaces the wall clock.
func WithClock(c clockwork.Clock) Option { return func(o *overrides) { o.clock = c } }

// WithNotifier replaces the Telegram bot.
func WithNotifier(n telegram.Notifier) Option { return func(o *overrides) { o.notifier = n } }

// WithGenerator replaces the OpenAI feedback generator.
func WithGenerator(g feedback.Generator) Option { return func(o *overrides) { o.generator = g } }

// WithDispatcher runs enrichment tasks on d instead of the worker pool.
func WithDispatcher(d worker.Dispatcher) Option { return func(o *overrides) { o.dispatcher = d } }

// WithCacheStore replaces the configured cache backend.
func WithCacheStore(s cache.Store) Option { return func(o *overrides) { o.cacheStore = s } }

// New creates and initializes a new Application instance.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Application, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var ov overrides
	for _, opt := range opts {
		opt(&ov)
	}
	if ov.clock == nil {
		ov.clock = clockwork.NewRealClock()
	}

	cal := calendar.New(ov.clock, cfg.OrgUTCOffset.Duration)

	// Setup: Database
	dbCfg := storage.DefaultConfig()
	dbCfg.Driver = cfg.Database.Driver
	dbCfg.DSN = cfg.Database.DSN
	dbCfg.MaxOpenConns = cfg.Database.MaxOpenConns
	dbCfg.MaxIdleConns = cfg.Database.MaxIdleConns
	dbCfg.ConnMaxLifetime = cfg.Database.ConnMaxLife.Duration
	dbCfg.QueryTimeout = cfg.Database.Timeout.Duration
	store, err := storage.Open(ctx, dbCfg, logger.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Setup: Cache
	cacheStore := ov.cacheStore
	if cacheStore == nil && cfg.Redis.Enabled {
		cacheStore = cache.NewRedis(cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Redis.Timeout.Duration,
		})
	}
	if cacheStore == nil {
		cacheStore = cache.NewMemory(ov.clock)
	}
	appCache := cache.New(cacheStore, cfg.Redis.Timeout.Duration, logger.Named("cache"))

	// Setup: Telegram
	tg, err := telegram.NewService(telegram.Options{
		BotToken:      cfg.Telegram.BotToken,
		APIEndpoint:   cfg.Telegram.APIEndpoint,
		Timeout:       cfg.Telegram.Timeout.Duration,
		RatePerSecond: cfg.Telegram.RatePerSecond,
	}, logger.Named("telegram"))
	if err != nil {
		store.Close()
		return nil, err
	}
	var notifier telegram.Notifier = tg
	if ov.notifier != nil {
		notifier = ov.notifier
	}

	// Setup: Feedback
	generator := ov.generator
	if generator == nil {
		if g := feedback.NewOpenAI(feedback.OpenAIOptions{
			APIKey:  cfg.Feedback.APIKey,
			Model:   cfg.Feedback.Model,
			BaseURL: cfg.Feedback.BaseURL,
			Timeout: cfg.Feedback.Timeout.Duration,
		}, logger.Named("feedback")); g != nil {
			generator = g
		}
	}
	feedbackSvc := feedback.NewService(generator, logger.Named("feedback"))

	// Setup: WorkerPool
	pool := worker.NewPool(worker.Options{
		Workers:    cfg.Worker.Count,
		QueueSize:  cfg.Worker.QueueSize,
		MaxRetries: cfg.Worker.MaxRetries,
		RetryDelay: cfg.Worker.RetryDelay.Duration,
	}, logger.Named("worker"))
	var dispatcher worker.Dispatcher = pool
	if ov.dispatcher != nil {
		dispatcher = ov.dispatcher
	}

	// Setup: Services
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration, ov.clock)
	rewardSvc := rewards.NewService(store, notifier, cfg.Telegram.Timeout.Duration, logger.Named("rewards"))
	userSvc := users.NewService(store, appCache, tokens, cal, users.Options{
		UserTTL: cfg.Redis.UserTTL.Duration,
	}, logger.Named("users"))
	journalSvc := journal.NewService(store, appCache, cal, feedbackSvc, rewardSvc, dispatcher, journal.Options{
		LogsTTL: cfg.Redis.LogsTTL.Duration,
	}, logger.Named("journal"))

	// Setup: Scheduler
	jobs := scheduler.NewJobs(store, appCache, rewardSvc, cal, cfg.Scheduler.InactiveAfter,
		cfg.Scheduler.TelegramLogRetention.Duration, logger.Named("scheduler"))
	var schedOpts scheduler.Options
	if cfg.Scheduler.Enabled {
		schedOpts = scheduler.Options{
			LoginResetAt: cfg.Scheduler.LoginResetAt,
			ReminderAt:   cfg.Scheduler.ReminderAt,
			BirthdayAt:   cfg.Scheduler.BirthdayAt,
			CleanupAt:    cfg.Scheduler.LoginResetAt,
		}
	}
	sched, err := scheduler.New(jobs, cal, schedOpts, logger.Named("scheduler"))
	if err != nil {
		store.Close()
		return nil, err
	}

	app := &Application{
		Config:       cfg,
		Logger:       logger,
		Calendar:     cal,
		Store:        store,
		Cache:        appCache,
		WorkerPool:   pool,
		Telegram:     tg,
		Scheduler:    sched,
		Users:        userSvc,
		Journal:      journalSvc,
		Rewards:      rewardSvc,
		cacheBackend: cacheStore,
		tokens:       tokens,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		loginLimiter: newIPLimiter(cfg.Auth.LoginRatePerMinute),
	}

	// Setup: HTTP Server for metrics
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	app.MetricsServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Setup: Main HTTP Server
	app.HTTPServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           app.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Routes builds the API router.
func (a *Application) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(a.instrument)
	r.Use(middleware.Recoverer)

	r.NotFound(handleNotFound)
	r.MethodNotAllowed(handleMethodNotAllowed)

	r.Get("/health", a.handleHealth)
	r.Get("/rewards", a.handleRewardCatalog)

	r.Group(func(r chi.Router) {
		r.Use(a.loginLimiter.Handler)
		r.Post("/auth/register", a.handleRegister)
		r.Post("/users/register", a.handleRegister)
		r.Post("/auth/login", a.handleLogin)
		r.Post("/users/login", a.handleLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth)

		r.Route("/users/me", func(r chi.Router) {
			r.Get("/", a.handleGetProfile)
			r.Put("/", a.handleUpdateProfile)
			r.Put("/telegram", a.handleLinkTelegram)
			r.Get("/stats", a.handleStats)
		})

		r.Post("/moods", a.handleSubmitLog)
		r.Route("/logs", func(r chi.Router) {
			r.Post("/", a.handleSubmitLog)
			r.Get("/", a.handleListLogs)
			r.Get("/today", a.handleTodayLog)
			r.Get("/{id}", a.handleGetLog)
			r.Put("/{id}", a.handleUpdateLog)
			r.Delete("/{id}", a.handleDeleteLog)
		})

		r.Get("/rewards/user", a.handleUserRewards)
		r.Post("/rewards/send-milestone", a.handleSendMilestone)

		r.Post("/telegram/send", a.handleTelegramSend)
		r.Post("/telegram/send-latest", a.handleTelegramSendLatest)
	})

	return r
}

// Start begins the application's services.
func (a *Application) Start(ctx context.Context) error {
	a.Logger.Info("application_starting")

	a.WorkerPool.Start()
	a.Scheduler.Start()

	if a.Telegram.Enabled() {
		pollCtx, cancel := context.WithCancel(ctx)
		a.stopPolling = cancel
		go a.Telegram.StartPolling(pollCtx)
	}

	if a.Config.MetricsPort > 0 {
		go a.serve("metrics", a.MetricsServer)
	}
	go a.serve("http", a.HTTPServer)

	return nil
}

func (a *Application) serve(name string, srv *http.Server) {
	a.Logger.Info("server_listening", zap.String("server", name), zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.Logger.Error("server_failed", zap.String("server", name), zap.Error(err))
	}
}

// Stop gracefully shuts down the application's services.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.Info("application_stopping")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	if err := a.HTTPServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	}
	if err := a.MetricsServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
	}

	if a.stopPolling != nil {
		a.stopPolling()
	}
	if err := a.Scheduler.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
	}
	// Queued enrichment tasks finish before the store closes.
	if err := a.WorkerPool.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("worker pool stop: %w", err))
	}

	if err := a.Cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("cache close: %w", err))
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}

	a.Logger.Info("application_stopped")
	return errors.Join(errs...)
}

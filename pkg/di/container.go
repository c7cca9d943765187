package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"echo-civic-assistant/backend/ai"
	"echo-civic-assistant/backend/internal/assistant"
	"echo-civic-assistant/backend/internal/service"
	"echo-civic-assistant/backend/internal/storage"
	"echo-civic-assistant/backend/internal/ws"
	"echo-civic-assistant/backend/pkg/config"
	"echo-civic-assistant/backend/pkg/health"
	"echo-civic-assistant/backend/pkg/jwt"
	"echo-civic-assistant/backend/pkg/logger"
	"echo-civic-assistant/backend/pkg/middleware"
	"echo-civic-assistant/backend/pkg/resilience"
	sharedredis "echo-civic-assistant/backend/shared/redis"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// Container holds all the dependencies for the application
type Container struct {
	Config      *config.Config
	Logger      *logger.Logger
	JWTService  *jwt.Service
	History     storage.HistoryStore
	Speech      *ai.SpeechClient
	Sessions    *service.SessionService
	Hub         *ws.Hub
	Checker     *health.Checker
	RateLimiter *middleware.RateLimiter

	closers []func() error
}

// Options overrides parts of the container, mainly for tests
type Options struct {
	// Transport replaces the Gemini client; Pincodes then defaults to nil
	Transport     assistant.Transport
	Pincodes      assistant.PincodeResolver
	MeterProvider metric.MeterProvider
	CheckPeriod   time.Duration
}

// New creates a new dependency injection container
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*Container, error) {
	if opts.CheckPeriod <= 0 {
		opts.CheckPeriod = 30 * time.Second
	}

	c := &Container{
		Config:     cfg,
		Logger:     log,
		JWTService: jwt.NewService(cfg.JWT.Secret, cfg.JWT.ExpiryHours),
		Checker:    health.NewChecker(log, opts.CheckPeriod),
	}

	history, err := c.openHistory(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.History = history

	transport, pincodes := opts.Transport, opts.Pincodes
	if transport == nil {
		gemini, err := ai.NewGeminiClient(ctx, ai.GeminiConfig{
			APIKey:   cfg.Gemini.APIKey,
			Backend:  cfg.Gemini.Backend,
			Project:  cfg.Gemini.Project,
			Location: cfg.Gemini.Location,
			Timeout:  cfg.Assistant.TransportTimeout,
		}, log)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}

		breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "gemini",
			FailureThreshold: cfg.Assistant.BreakerThreshold,
			SuccessThreshold: 1,
			RetryTimeout:     cfg.Assistant.BreakerRetryPeriod,
		}, log)
		gemini = gemini.WithBreaker(breaker)
		c.Checker.RegisterPing("gemini", false, func(context.Context) error {
			if breaker.GetState() == resilience.StateOpen {
				return resilience.ErrCircuitOpen
			}
			return nil
		})
		transport, pincodes = gemini, gemini
	}

	c.Speech = ai.NewSpeechClient(ai.SpeechConfig{
		STTURL:   cfg.Speech.STTURL,
		STTModel: cfg.Speech.STTModel,
		STTKey:   cfg.Speech.STTKey,
		TTSURL:   cfg.Speech.TTSURL,
		TTSVoice: cfg.Speech.TTSVoice,
		TTSKey:   cfg.Speech.TTSKey,
	}, log)
	if c.Speech.CanTranscribe() || c.Speech.CanSynthesize() {
		c.Checker.RegisterPing("speech", false, c.Speech.Ping)
	}

	directory := assistant.DefaultDirectory()
	if path := cfg.Assistant.PincodeDirectory; path != "" {
		if directory, err = assistant.LoadDirectory(path); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to load pincode directory: %w", err)
		}
		log.Info("Loaded pincode directory", "path", path, "offices", directory.Len())
	}

	metrics, err := assistant.NewMetrics(opts.MeterProvider)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to register assistant metrics: %w", err)
	}

	c.Sessions = service.NewSessionService(service.Config{
		Backend:       history,
		StoragePrefix: cfg.Assistant.StorageKey,
		MaxStored:     cfg.Assistant.MaxStoredMessages,
		DefaultModel:  cfg.Assistant.DefaultModel,
		IdleTTL:       cfg.Assistant.SessionIdleTTL,
		MaxSessions:   cfg.Assistant.MaxSessions,
		Transport:     transport,
		Pincodes:      pincodes,
		Directory:     directory,
		Metrics:       metrics,
		ComplaintPath: cfg.Assistant.ComplaintFormPath,
		AppBaseURL:    cfg.Assistant.AppBaseURL,
	}, log)

	c.Hub = ws.NewHub(c.Sessions, c.Speech, log)

	limiterOpts := middleware.DefaultRateLimiterOptions()
	if cfg.Security.RateLimit > 0 {
		limiterOpts.Limit = rate.Limit(cfg.Security.RateLimit)
	}
	if cfg.Security.RateLimitBurst > 0 {
		limiterOpts.Burst = cfg.Security.RateLimitBurst
	}
	c.RateLimiter = middleware.NewRateLimiter(log, limiterOpts)

	return c, nil
}

// openHistory selects the history backend named by HISTORY_BACKEND and
// registers its health check
func (c *Container) openHistory(cfg *config.Config) (storage.HistoryStore, error) {
	switch cfg.Assistant.HistoryBackend {
	case config.HistoryMemory, "":
		return storage.NewMemory(), nil

	case config.HistoryRedis:
		client := sharedredis.NewRedisClient(sharedredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, client.Close)
		c.Checker.RegisterPing("redis", true, client.Ping)
		return storage.NewRedis(client, 0), nil

	case config.HistoryPostgres:
		db, err := config.NewDB(cfg, c.Logger)
		if err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			c.closers = append(c.closers, sqlDB.Close)
		}
		c.Checker.RegisterPing("database", true, func(context.Context) error {
			return config.TestConnection(db)
		})
		return storage.NewPostgres(db)

	case config.HistorySQLite:
		store, err := storage.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, store.Close)
		c.Checker.RegisterPing("sqlite", true, store.Ping)
		return store, nil
	}
	return nil, fmt.Errorf("unknown history backend %q", cfg.Assistant.HistoryBackend)
}

// Close flushes live sessions and releases backend connections
func (c *Container) Close() error {
	if c.Sessions != nil {
		c.Sessions.Shutdown()
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

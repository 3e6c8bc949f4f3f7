package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/directory"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/pkg/rabbitmq"
)

const version = "0.1.0"

// directoryAdapter exposes the directory service as the billing snapshot
// source. Unknown people are reported as billing.ErrNotFound.
type directoryAdapter struct {
	svc *directory.Service
}

func (a directoryAdapter) snapshot(ctx context.Context, kind directory.Kind, id string) (*billing.Snapshot, error) {
	p, err := a.svc.Get(ctx, kind, id)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, billing.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, fmt.Errorf("%s %s is inactive: %w", kind, id, billing.ErrNotFound)
	}
	return &billing.Snapshot{Name: p.DisplayName(), Email: p.Email}, nil
}

func (a directoryAdapter) GetPatient(ctx context.Context, id string) (*billing.Snapshot, error) {
	return a.snapshot(ctx, directory.KindPatient, id)
}

func (a directoryAdapter) GetDoctor(ctx context.Context, id string) (*billing.Snapshot, error) {
	return a.snapshot(ctx, directory.KindDoctor, id)
}

func newBillingService(cfg *config.Config, repo billing.BillRepository, dir billing.Directory, pub billing.EventPublisher, logger zerolog.Logger) *billing.Service {
	svc := billing.NewService(repo, dir, billing.Policy{PatientSelfCheckout: cfg.PatientSelfCheckout})
	svc.SetPaymentTerms(cfg.PaymentTerms())
	svc.SetMaxConflictRetries(cfg.MaxConflictRetries)
	svc.SetLogger(logger)
	if pub != nil {
		svc.SetEventPublisher(pub, cfg.BillingExchange)
	}
	return svc
}

// server holds everything the router needs.
type server struct {
	cfg       *config.Config
	logger    zerolog.Logger
	pool      *pgxpool.Pool
	billing   *billing.Service
	directory *directory.Service
	limiter   *middleware.RedisLimiter
}

// errorKinds names the plain HTTP errors in the same shape as billing errors.
var errorKinds = map[int]string{
	http.StatusBadRequest:            "BadRequest",
	http.StatusUnauthorized:          "Unauthorized",
	http.StatusForbidden:             "Forbidden",
	http.StatusNotFound:              "NotFound",
	http.StatusMethodNotAllowed:      "MethodNotAllowed",
	http.StatusRequestEntityTooLarge: "PayloadTooLarge",
	http.StatusTooManyRequests:       "TooManyRequests",
	http.StatusServiceUnavailable:    "Unavailable",
	http.StatusGatewayTimeout:        "Timeout",
}

// httpErrorHandler renders every error as {"error", "message"}. Internal
// errors are logged and never echoed to the client.
func httpErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		message := "internal server error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			message = fmt.Sprint(he.Message)
		}
		kind, ok := errorKinds[code]
		if !ok {
			kind = "InternalError"
		}
		if code >= http.StatusInternalServerError {
			logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, map[string]string{"error": kind, "message": message})
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}

func (s *server) authMiddleware() echo.MiddlewareFunc {
	if s.cfg.ResolvedAuthMode() == "development" {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     s.cfg.AuthIssuer,
		Audience:   s.cfg.AuthAudience,
		JWKSURL:    s.cfg.AuthJWKSURL,
		SigningKey: []byte(s.cfg.AuthSigningKey),
	})
}

func (s *server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httpErrorHandler(s.logger)

	e.Use(middleware.Recovery(s.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(s.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  s.cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", "If-Match", "If-None-Match", middleware.RequestIDHeader, "X-Tenant-ID"},
		ExposeHeaders: []string{"ETag", "Location", middleware.RequestIDHeader, "Retry-After"},
	}))
	e.Use(middleware.BodyLimit(s.cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(s.cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(s.pool))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: s.cfg.RateLimitRPS,
		BurstSize:         s.cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	apiV1 := e.Group("/api/v1",
		s.authMiddleware(),
		db.TenantMiddleware(s.pool, s.cfg.DefaultTenant),
		middleware.Audit(s.logger),
		middleware.RateLimit(rateLimitCfg),
	)

	directory.NewHandler(s.directory).RegisterRoutes(apiV1)
	billing.NewHandler(s.billing).RegisterRoutes(apiV1,
		middleware.ScopedRateLimit(s.limiter, "payments", s.cfg.PaymentRateLimit, s.cfg.PaymentRateWindow, s.logger),
	)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()
	s := &server{cfg: cfg, logger: logger}

	// Stores
	var billRepo billing.BillRepository
	var dirRepo directory.Repository
	if cfg.BillStore == config.StorePostgres {
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to database")
			return err
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
		s.pool = pool
		billRepo = billing.NewBillRepoPG(pool)
		dirRepo = directory.NewRepoPG(pool)
	} else {
		logger.Warn().Msg("using in-memory bill store, data is lost on restart")
		billRepo = billing.NewMemoryRepository()
		dirRepo = directory.NewMemoryRepository()
	}
	s.directory = directory.NewService(dirRepo)

	// Bill events
	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	if cfg.AMQPURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.AMQPURL, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("rabbitmq unavailable, bill events will not be published")
		} else {
			publisher = producer
		}
	}
	defer publisher.Close()

	s.billing = newBillingService(cfg, billRepo, directoryAdapter{svc: s.directory}, publisher, logger)

	tenantScope := func(ctx context.Context) (context.Context, func(), error) {
		return db.WithTenantConn(ctx, s.pool, cfg.DefaultTenant)
	}

	// Appointment-completed consumer
	if cfg.AMQPURL != "" {
		consumer, err := rabbitmq.NewConsumer(cfg.AMQPURL, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("rabbitmq unavailable, appointment events will not be consumed")
		} else {
			defer consumer.Close()
			err := consumer.ConsumeWithBindings(cfg.AppointmentExchange, cfg.AppointmentQueue, 10, map[string]rabbitmq.Handler{
				billing.AppointmentCompletedKey: billing.AppointmentHandler(s.billing, tenantScope, logger),
			})
			if err != nil {
				logger.Error().Err(err).Msg("failed to start appointment consumer")
			}
		}
	}

	// Payment rate limiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("invalid REDIS_URL, payment rate limit disabled")
		} else {
			rdb := redis.NewClient(opts)
			defer rdb.Close()
			s.limiter = middleware.NewRedisLimiter(rdb, "")
		}
	}

	// Overdue sweep
	if cfg.OverdueSchedule != "" {
		sched := billing.NewOverdueScheduler(s.billing, cfg.OverdueSchedule, tenantScope, logger)
		if err := sched.Start(); err != nil {
			logger.Error().Err(err).Msg("failed to schedule overdue sweep")
			return err
		}
		defer func() { <-sched.Stop().Done() }()
	}

	e := s.router()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.BillStore).Str("auth", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}


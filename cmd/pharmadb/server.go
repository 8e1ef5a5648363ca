package main

import (
	"net/http"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pharmadb/pharmadb/internal/config"
	"github.com/pharmadb/pharmadb/internal/domain/catalog"
	"github.com/pharmadb/pharmadb/internal/domain/reports"
	"github.com/pharmadb/pharmadb/internal/platform/auth"
	"github.com/pharmadb/pharmadb/internal/platform/db"
	"github.com/pharmadb/pharmadb/internal/platform/middleware"
	"github.com/pharmadb/pharmadb/internal/platform/modelmap"
	"github.com/pharmadb/pharmadb/internal/platform/orphans"
)

const version = "0.1.0"

// Database is what the server needs from the pool. *pgxpool.Pool satisfies it.
type Database interface {
	db.Querier
	db.TxBeginner
	db.Pinger
}

type server struct {
	echo      *echo.Echo
	scheduler *gocron.Scheduler
	orphans   *orphans.Scanner
}

// Stop halts background jobs. The HTTP server is shut down separately.
func (s *server) Stop() {
	s.scheduler.Stop()
}

func newServer(cfg *config.Config, database Database, logger zerolog.Logger, reg *prometheus.Registry) (*server, error) {
	mm := modelmap.Default()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := middleware.NewHTTPMetrics(reg)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger, auth.IsPublicPath))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware([]byte(cfg.JWTSecret)))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: []byte(cfg.JWTSecret),
			Issuer:     cfg.JWTIssuer,
			Audience:   cfg.JWTAudience,
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(database))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	})
	apiV1 := e.Group("/api/v1", limiter.Middleware())

	// Catalog
	base := catalog.NewBaseRepository(database, mm, logger)
	catalogSvc := catalog.NewService(mm,
		catalog.NewEntityRepoPG(base),
		catalog.NewChildEntityRepoPG(base),
		catalog.NewAggregateRepoPG(base),
	)
	catalog.NewHandler(catalogSvc).RegisterRoutes(apiV1)

	// Reports
	reportSvc := reports.NewService(mm,
		reports.NewReportRepoPG(database),
		reports.NewDistinctRepoPG(database),
		cfg.ReportMaxLimit,
	)
	reports.NewHandler(reportSvc).RegisterRoutes(apiV1)

	// Background jobs
	scanner := orphans.NewScanner(database, mm, logger)
	if err := scanner.RegisterMetrics(reg); err != nil {
		return nil, err
	}
	sched := gocron.NewScheduler(time.UTC)
	if _, err := sched.Every(time.Minute).WaitForSchedule().Do(func() {
		if n := limiter.Cleanup(); n > 0 {
			logger.Debug().Int("clients", n).Msg("rate limit buckets in use")
		}
	}); err != nil {
		return nil, err
	}
	if cfg.OrphanScanInterval > 0 {
		if err := scanner.Schedule(sched, cfg.OrphanScanInterval); err != nil {
			return nil, err
		}
	}

	return &server{echo: e, scheduler: sched, orphans: scanner}, nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

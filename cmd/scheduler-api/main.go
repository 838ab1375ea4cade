// Package main provides the scheduler API service entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/shifaa-health/salat-engine/internal/api/handlers"
	"github.com/shifaa-health/salat-engine/internal/api/middleware"
	"github.com/shifaa-health/salat-engine/internal/config"
	"github.com/shifaa-health/salat-engine/internal/observability/metrics"
	"github.com/shifaa-health/salat-engine/internal/observability/tracing"
	"github.com/shifaa-health/salat-engine/internal/prayer"
	"github.com/shifaa-health/salat-engine/internal/scheduling"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	// Tracing
	traceCfg := tracing.DefaultConfig(cfg.Service.Name)
	traceCfg.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	tp, err := tracing.Init(context.Background(), traceCfg)
	if err != nil {
		logger.Warn("tracing init failed, continuing without export", zap.Error(err))
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			tp.Shutdown(ctx)
		}()
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	loc, err := time.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		logger.Warn("unknown timezone, using MYT", zap.String("timezone", cfg.Engine.Timezone))
		loc = prayer.MalaysiaTime
	}

	madhab, err := prayer.ParseMadhab(cfg.Engine.Madhab)
	if err != nil {
		logger.Fatal("invalid default madhab", zap.Error(err))
	}
	method, err := prayer.ParseMethod(cfg.Engine.Method)
	if err != nil {
		logger.Fatal("invalid default method", zap.Error(err))
	}

	provider := prayer.NewProvider(logger,
		prayer.WithLocation(loc),
		prayer.WithMetrics(m))
	optimizer := scheduling.NewOptimizer(provider, logger,
		scheduling.WithOptimizerMetrics(m))

	scheduleHandler := handlers.NewScheduleHandler(provider, optimizer, handlers.Defaults{
		Madhab:        madhab,
		Method:        method,
		BufferMinutes: cfg.Engine.BufferMinutes,
	}, loc, logger)

	apiKeys := map[string]string{}
	if cfg.Service.APIKey != "" {
		apiKeys[cfg.Service.APIKey] = "configured-client"
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(cfg.Service.Name))

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		// The API is stateless; ready once the engine is constructed.
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if len(apiKeys) > 0 {
			r.Use(middleware.APIKeyAuth(apiKeys))
		}
		r.Mount("/", scheduleHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Service.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting scheduler API",
		zap.String("port", cfg.Service.Port),
		zap.String("timezone", cfg.Engine.Timezone))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"scheduler-api","version":"0.3.0"}`)
}

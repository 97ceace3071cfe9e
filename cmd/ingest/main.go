// Command ingest runs the analytics event ingestion HTTP service:
// validate → anonymize → dedup → enrich → build → publish, with a
// Postgres-backed fallback buffer when the broker is unavailable.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/arc-self/ingest-service/internal/anonymizer"
	"github.com/arc-self/ingest-service/internal/audit"
	"github.com/arc-self/ingest-service/internal/broker"
	"github.com/arc-self/ingest-service/internal/buffer"
	"github.com/arc-self/ingest-service/internal/cache"
	"github.com/arc-self/ingest-service/internal/config"
	"github.com/arc-self/ingest-service/internal/dedup"
	"github.com/arc-self/ingest-service/internal/enrich"
	"github.com/arc-self/ingest-service/internal/events"
	"github.com/arc-self/ingest-service/internal/intake"
	"github.com/arc-self/ingest-service/internal/platform"
	"github.com/arc-self/ingest-service/internal/store"
	"github.com/arc-self/ingest-service/internal/telemetry"
	"github.com/arc-self/ingest-service/internal/validator"
)

const serviceName = "ingest-service"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()

	// --- OpenTelemetry tracer + meter (optional) ---
	var ingestMetrics *telemetry.IngestMetrics
	if cfg.OTelEndpoint != "" {
		tp, err := telemetry.InitTracer(ctx, serviceName, cfg.OTelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(ctx)
		}

		mp, err := telemetry.InitMeterProvider(ctx, serviceName, cfg.OTelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel meter provider", zap.Error(err))
		} else {
			defer mp.Shutdown(ctx)
			ingestMetrics, err = telemetry.NewIngestMetrics()
			if err != nil {
				logger.Error("failed to register ingest metrics", zap.Error(err))
				ingestMetrics = nil
			}
		}
		logger.Info("OTel initialized", zap.String("endpoint", cfg.OTelEndpoint))
	}

	// --- Shared cache (Redis) ---
	sharedCache, err := cache.New(cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to configure redis", zap.Error(err))
	}
	if err := sharedCache.Ping(ctx); err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer sharedCache.Close()
	logger.Info("connected to redis")

	// --- Analytics store (Postgres), backing the fallback buffer ---
	analyticsStore, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to analytics store", zap.Error(err))
	}
	defer analyticsStore.Close()
	logger.Info("connected to analytics store")

	// --- Fallback buffer ---
	fallbackBuffer := buffer.New(analyticsStore, logger, cfg.BufferHard, cfg.BufferSoft, cfg.BufferInterval, ingestMetrics)
	bufferCtx, stopBuffer := context.WithCancel(ctx)
	defer stopBuffer()
	go fallbackBuffer.Run(bufferCtx)

	// --- Broker (Kafka), falling back to the buffer ---
	producer := broker.New(cfg.KafkaBrokers, fallbackBuffer, logger, ingestMetrics)
	defer producer.Close()
	if producer.Enabled() {
		logger.Info("kafka broker configured", zap.Strings("brokers", cfg.KafkaBrokers))
	} else {
		logger.Warn("KAFKA_BROKERS not set, running in fallback-only mode")
	}

	// --- Audit trail side-channel (optional) ---
	auditTrail, err := audit.New(cfg.NATSURL, logger, broker.SemaphoreLimit)
	if err != nil {
		logger.Fatal("failed to init audit trail", zap.Error(err))
	}
	defer auditTrail.Close()

	// --- Pipeline components ---
	geoEnricher, err := enrich.NewGeoEnricher(cfg.GeoIPDBPath, logger)
	if err != nil {
		logger.Fatal("failed to open geoip database", zap.Error(err))
	}
	defer geoEnricher.Close()

	anon := anonymizer.New(sharedCache, logger)
	deduplicator := dedup.New(sharedCache, logger, ingestMetrics)
	builder := events.NewBuilder()

	tenantStore := cache.NewTenantStore(sharedCache)
	rateLimiter := cache.NewRateLimiter(sharedCache)
	v := validator.New(tenantStore, rateLimiter, cfg.DevMode)

	svc := intake.New(v, anon, deduplicator, geoEnricher, builder, producer, auditTrail, logger)
	handler := intake.NewHandler(svc, producer, fallbackBuffer, logger)

	// --- HTTP server ---
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware(serviceName))
	e.Use(platform.RequestID())
	e.Use(platform.CORS())
	e.Use(platform.RequestLogger(logger))
	e.Use(middleware.Recover())

	intake.RegisterRoutes(e, handler)

	addr := fmt.Sprintf(":%d", cfg.Port)
	go func() {
		logger.Info("ingest-service listening", zap.Int("port", cfg.Port))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown error", zap.Error(err))
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelDrain()
	fallbackBuffer.Drain(drainCtx)
	stopBuffer()

	logger.Info("ingest-service shut down cleanly")
}

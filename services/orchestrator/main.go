package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/medgpt-dev/medgpt/pkg/logging"
	"github.com/medgpt-dev/medgpt/services/llm"
	"github.com/medgpt-dev/medgpt/services/orchestrator/config"
	"github.com/medgpt-dev/medgpt/services/orchestrator/handlers"
	"github.com/medgpt-dev/medgpt/services/orchestrator/middleware"
	"github.com/medgpt-dev/medgpt/services/orchestrator/observability"
	"github.com/medgpt-dev/medgpt/services/orchestrator/ratelimit"
	"github.com/medgpt-dev/medgpt/services/orchestrator/routes"
	"github.com/medgpt-dev/medgpt/services/orchestrator/sessions"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		// No collector configured; spans stay in-process as no-ops.
		return func(context.Context) {}, nil
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("medgpt-orchestrator")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  os.Getenv("MEDGPT_LOG_DIR"),
		Service: "orchestrator",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg, err := config.Load(os.Getenv("MEDGPT_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	if cfg.Gemini.APIKey == "" {
		slog.Warn("GEMINI_API_KEY is not set; every turn will use the local Ollama backend")
	}

	primary := llm.NewGeminiClient(llm.GeminiConfig{
		APIKey:  cfg.Gemini.APIKey,
		BaseURL: cfg.Gemini.BaseURL,
		Model:   cfg.Gemini.Model,
	})
	secondary := llm.NewOllamaClient(llm.OllamaConfig{
		BaseURL: cfg.Ollama.BaseURL,
		Model:   cfg.Ollama.Model,
	})
	breaker := llm.NewQuotaBreaker(cfg.BreakerCooldown())
	gateway := llm.NewFallbackStreamer(primary, secondary, breaker)

	store := sessions.NewMemoryStore()
	limiter := ratelimit.NewWithConfig(cfg.RateLimit.Limit, cfg.RateWindow(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.StartSweeper(ctx, cfg.SessionTTL(), cfg.SweepInterval(), limiter.Forget)

	router := gin.Default()
	router.Use(otelgin.Middleware("medgpt-orchestrator"))
	router.Use(middleware.CORS())

	routes.SetupRoutes(router, handlers.ChatDeps{
		Gateway: gateway,
		Store:   store,
		Limiter: limiter,
	})

	slog.Info("Starting the orchestrator server",
		"port", cfg.Server.Port,
		"gemini_model", cfg.Gemini.Model,
		"ollama_model", cfg.Ollama.Model,
	)
	if err := router.Run(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

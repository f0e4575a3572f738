package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/triage-ai/palisade/services/tool_dispatch/internal/api"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/auth"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/chread"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/dispatch"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/provider"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/registry"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/server"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/storage"
	"github.com/triage-ai/palisade/services/tool_dispatch/internal/todo"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("TOOL_DISPATCH_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("TOOL_DISPATCH_HTTP_PORT", "3000")
	grpcPort := envOrDefault("TOOL_DISPATCH_GRPC_PORT", "50054")
	specLocation := envOrDefault("TOOL_DISPATCH_OPENAPI", "api/openapi.yaml")
	reloadTTL := envOrDefaultInt("TOOL_DISPATCH_RELOAD_TTL_S", 0)
	providerKind := envOrDefault("TOOL_DISPATCH_PROVIDER", "openai")
	model := envOrDefault("TOOL_DISPATCH_MODEL", provider.DefaultModel)
	temperature := envOrDefaultFloat("TOOL_DISPATCH_TEMPERATURE", float32(provider.DefaultTemperature))
	timeoutMs := envOrDefaultInt("TOOL_DISPATCH_TIMEOUT_MS", int(dispatch.DefaultTimeout/time.Millisecond))
	keyHash := os.Getenv("TOOL_DISPATCH_API_KEY_HASH")
	authCacheTTL := envOrDefaultInt("TOOL_DISPATCH_AUTH_CACHE_TTL_S", 30)
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")

	apiKey := envOrDefault("GEMINI_API_KEY", os.Getenv("OPENAI_API_KEY"))
	baseURL := os.Getenv("TOOL_DISPATCH_BASE_URL")
	if baseURL == "" && providerKind == "openai" {
		baseURL = provider.GeminiOpenAIBaseURL
	}

	logger.Info("starting tool dispatch server",
		zap.String("http_port", httpPort),
		zap.String("grpc_port", grpcPort),
		zap.String("openapi", specLocation),
		zap.String("provider", providerKind),
		zap.String("model", model),
		zap.Int("timeout_ms", timeoutMs),
		zap.Int("reload_ttl_s", reloadTTL),
	)

	if apiKey == "" {
		logger.Fatal("GEMINI_API_KEY or OPENAI_API_KEY is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tool registry: built once at startup, rebuilt in the background after the TTL
	reloader, err := registry.NewReloader(ctx, registry.ReloaderConfig{
		Source: registry.NewSource(specLocation, logger),
		TTL:    time.Duration(reloadTTL) * time.Second,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to build tool registry", zap.String("openapi", specLocation), zap.Error(err))
	}
	logger.Info("tool registry built", zap.Int("tools", len(reloader.Snapshot().All())))

	// Model provider
	prov, err := provider.New(ctx, providerKind, provider.Config{
		Model:       model,
		Temperature: float64(temperature),
		APIKey:      apiKey,
		BaseURL:     baseURL,
	})
	if err != nil {
		logger.Fatal("failed to create model provider", zap.Error(err))
	}

	// Storage: ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// ClickHouse reader (for the events endpoint)
	var reader api.EventLister
	if clickhouseDSN != "" {
		chReader, err := chread.NewReader(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			defer func() { _ = chReader.Close() }()
			reader = chReader
			logger.Info("clickhouse reader connected")
		}
	}

	// Todo store (optional)
	var (
		todoStore todo.Store
		executor  *todo.Executor
	)
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		sqlStore := todo.NewSQLStore(db)
		if err := sqlStore.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to create todos table", zap.Error(err))
		}
		todoStore = sqlStore
		executor = todo.NewExecutor(sqlStore, logger)
		logger.Info("postgres todo store connected")
	} else {
		logger.Info("no POSTGRES_DSN set, todo routes and execution disabled")
	}

	// Auth
	var authenticator auth.Authenticator = auth.AllowAll{}
	if keyHash != "" {
		authenticator = auth.NewHashAuthenticator(auth.HashAuthConfig{
			KeyHash:  keyHash,
			CacheTTL: time.Duration(authCacheTTL) * time.Second,
			Logger:   logger,
		})
		logger.Info("api key authentication enabled")
	} else {
		logger.Info("no TOOL_DISPATCH_API_KEY_HASH set, authentication disabled")
	}

	dispatcher := dispatch.New(dispatch.Config{
		Registry: reloader,
		Provider: prov,
		Events:   writer,
		Logger:   logger,
		Timeout:  time.Duration(timeoutMs) * time.Millisecond,
		Model:    model,
	})

	// HTTP API server
	deps := &api.Dependencies{
		Dispatcher: dispatcher,
		Registry:   reloader,
		Reader:     reader,
		Auth:       authenticator,
		Logger:     logger,
	}
	if executor != nil {
		deps.Executor = executor
		deps.Todos = todoStore
	}
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// gRPC server
	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 10 * time.Second,
			Time:                  30 * time.Second,
			Timeout:               5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(4*1024*1024),
		grpc.MaxSendMsgSize(4*1024*1024),
	)
	var exec server.Executor
	if executor != nil {
		exec = executor
	}
	server.RegisterDispatchServiceServer(grpcServer, server.NewDispatchServer(dispatcher, exec, authenticator, logger))

	// Register health service for container health checks
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(server.ServiceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("port", grpcPort), zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.SetServingStatus(server.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
	}
	logger.Info("tool dispatch server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return defaultVal
}

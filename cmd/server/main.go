package main

import (
	"context"
	"errors"
	_ "expvar"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nulzo/prism-gateway/internal/config"
	"github.com/nulzo/prism-gateway/internal/gateway"
	"github.com/nulzo/prism-gateway/internal/platform/logger"
	"github.com/nulzo/prism-gateway/internal/platform/otel"
	"github.com/nulzo/prism-gateway/internal/server"
	"github.com/nulzo/prism-gateway/internal/transport"
	"github.com/nulzo/prism-gateway/internal/usage"
	usageredis "github.com/nulzo/prism-gateway/internal/usage/redis"
	usagesqlite "github.com/nulzo/prism-gateway/internal/usage/sqlite"
	"go.uber.org/zap"

	// Codecs register themselves with the codec registry.
	_ "github.com/nulzo/prism-gateway/internal/codec/anthropic"
	_ "github.com/nulzo/prism-gateway/internal/codec/google"
	_ "github.com/nulzo/prism-gateway/internal/codec/ollama"
	_ "github.com/nulzo/prism-gateway/internal/codec/openai"
)

var version = "v0.0.0"

func main() {
	logger.Initialize(logger.DefaultConfig())
	defer logger.Sync()
	log := logger.Get()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	traceCfg := otel.Config{ServiceName: server.ServiceName, ServiceVersion: version, SampleRatio: cfg.Tracing.SampleRatio}
	if cfg.Tracing.Export {
		traceCfg.Writer = os.Stdout
	}
	shutdownTracer, err := otel.InitTracer(traceCfg, log)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	recorder, stopUsage := startUsage(ctx, cfg, log)

	registry := gateway.NewRegistry()
	gateway.BootstrapProviders(registry, cfg.Providers, log)

	client := transport.New(
		transport.WithHTTPClient(&http.Client{Transport: transport.NewPool(transport.PoolConfig{
			MaxIdleConnsPerHost: cfg.Transport.MaxIdleConnsPerHost,
		})}),
		transport.WithMaxBodyBytes(cfg.Transport.MaxBodyBytes),
	)
	dispatcher := gateway.NewDispatcher(registry, client, log.Named("gateway"))
	service := gateway.NewService(log, registry, dispatcher, recorder)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.New(cfg, log, service, version).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.DebugAddr != "" {
		go func() {
			// expvar registers itself on the default mux
			if err := http.ListenAndServe(cfg.Server.DebugAddr, http.DefaultServeMux); err != nil {
				log.Warn("Debug listener stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("Starting prism gateway",
			zap.String("port", cfg.Server.Port),
			zap.String("version", version),
			zap.Int("providers", registry.Len()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown incomplete", zap.Error(err))
	}
	stopUsage()
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("Tracer shutdown incomplete", zap.Error(err))
	}
}

// startUsage wires the configured usage sink behind an ingestor. A sink that
// fails to open is logged and usage recording is disabled.
func startUsage(ctx context.Context, cfg *config.Config, log *zap.Logger) (usage.Recorder, func()) {
	var sink usage.Sink
	switch cfg.Usage.Sink {
	case "sqlite":
		s, err := usagesqlite.Open(cfg.Usage.SQLitePath)
		if err != nil {
			log.Error("Usage sink unavailable", zap.String("sink", "sqlite"), zap.Error(err))
			return usage.Discard{}, func() {}
		}
		sink = s
	case "redis":
		if !cfg.Redis.Enabled {
			log.Warn("Usage sink is redis but redis is disabled; usage will not be recorded")
			return usage.Discard{}, func() {}
		}
		s, err := usageredis.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Usage.Stream)
		if err != nil {
			log.Error("Usage sink unavailable", zap.String("sink", "redis"), zap.Error(err))
			return usage.Discard{}, func() {}
		}
		s.MaxLen = cfg.Usage.StreamMaxLen
		sink = s
	default:
		return usage.Discard{}, func() {}
	}

	ing := usage.NewIngestor(log.Named("usage"), sink, cfg.Usage.BatchSize, cfg.Usage.FlushInterval)
	// The worker outlives the signal context so Stop can drain it.
	ing.Start(context.Background())
	log.Info("Usage recording enabled", zap.String("sink", cfg.Usage.Sink))
	return ing, ing.Stop
}

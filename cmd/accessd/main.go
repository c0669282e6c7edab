package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/authlane/access"
	apiecho "github.com/authlane/access/api/echo"
	"github.com/authlane/access/config"
	"github.com/authlane/access/edges"
	"github.com/authlane/access/internal/metrics"
	"github.com/authlane/access/kv/memory"
	"github.com/authlane/access/kv/mongodb"
	"github.com/authlane/access/kv/redisstore"
	accesslog "github.com/authlane/access/log"
	"github.com/authlane/access/session"
	"github.com/authlane/access/tracing"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("accessd failed")
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	accesslog.Setup(cfg.LogLevel, cfg.LogPretty)

	metrics.Register(prometheus.DefaultRegisterer)

	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	ctx := context.Background()
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}

	master, err := cfg.DecodeMasterSecret()
	if err != nil {
		return err
	}

	manager := session.NewManager(backend, session.ManagerConfig{
		Issuer:         cfg.Issuer,
		JKU:            cfg.JKU,
		AccessTokenTTL: cfg.AccessTokenTTL(),
		IDTokenTTL:     cfg.IDTokenTTL(),
		CodeTTL:        cfg.CodeTTL(),
		IdleSessionTTL: cfg.IdleSessionTTL(),
		MasterSecret:   master,
		// The in-process store is filled by the manager as authorizations
		// are issued. Embedders with a platform graph service pass their
		// own edges.Store here instead.
		Edges: edges.NewMemoryStore(),
	})
	defer func() {
		if err := manager.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("manager shutdown failed")
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	apiecho.NewAPI(manager).RegisterRoutes(e)

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("accessd listening")
		if err := e.Start(":" + cfg.HTTPPort); err != nil {
			log.Info().Err(err).Msg("http server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func newBackend(ctx context.Context, cfg *config.ServerConfig) (access.Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return memory.NewBackend(cfg.MaxValueSizeBytes), nil
	case "mongodb":
		return mongodb.NewBackend(ctx, cfg.MongoURI, cfg.MongoDBName, cfg.MaxValueSizeBytes)
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return redisstore.NewBackend(client, cfg.RedisPrefix, cfg.MaxValueSizeBytes), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

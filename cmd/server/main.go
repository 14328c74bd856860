// Command server runs the cartoworks real-time collaboration server: a
// websocket endpoint backed by the per-map session engine, with optional
// Redis and PostgreSQL sinks for published map versions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	api "github.com/cartoworks/cartoworks/internal/api/websocket"
	"github.com/cartoworks/cartoworks/internal/collab"
	"github.com/cartoworks/cartoworks/internal/config"
	"github.com/cartoworks/cartoworks/internal/store"
	"github.com/cartoworks/cartoworks/pkg/common/cache"
	"github.com/cartoworks/cartoworks/pkg/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLoggerWithLevel("server", observability.ParseLevel(cfg.Log.Level))
	metrics := observability.NewMetricsClient("cartoworks")
	defer metrics.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(cfg.WebSocket, logger, metrics)
	engine := collab.NewEngine(cfg.Collab, server, logger, metrics)
	engine.SetTransformer(collab.NewOffsetTransformer())
	engine.SetValidator(collab.NewLockAwareValidator(engine))
	server.SetEngine(engine)

	versionSink, cleanup, err := buildVersionSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()
	if versionSink != nil {
		engine.SetVersionSink(collab.NewBreakerVersionSink(versionSink, logger))
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/ws", gin.WrapF(server.HandleWebSocket))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/stats", func(c *gin.Context) {
		maps, users := engine.Stats()
		c.JSON(http.StatusOK, gin.H{
			"connections":  server.ConnectionCount(),
			"active_maps":  maps,
			"active_users": users,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", map[string]interface{}{"address": cfg.Server.ListenAddress})
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	server.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildVersionSink assembles the version sink from whatever backends are
// enabled: Redis alone, PostgreSQL alone, or both chained so the cache and
// the checkpoint table stay in step. Neither enabled means no sink.
func buildVersionSink(ctx context.Context, cfg *config.Config, logger observability.Logger) (collab.VersionSink, func(), error) {
	var sinks multiSink
	var closers []func()
	cleanup := func() {
		for _, fn := range closers {
			fn()
		}
	}

	if cfg.Cache.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Cache.Redis)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, func() { redisCache.Close() })
		sinks = append(sinks, collab.NewCacheVersionSink(redisCache, cfg.Cache.VersionTTL))
		logger.Info("cache version sink enabled", map[string]interface{}{
			"address": cfg.Cache.Redis.Address,
		})
	}

	if cfg.Database.Enabled {
		db, err := store.Connect(ctx, cfg.Database.Postgres, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		closers = append(closers, func() { db.Close() })
		versions := store.NewVersionStore(db, logger)
		if err := versions.EnsureSchema(ctx); err != nil {
			cleanup()
			return nil, nil, err
		}
		sinks = append(sinks, versions)
		logger.Info("database version sink enabled", nil)
	}

	if len(sinks) == 0 {
		return nil, cleanup, nil
	}
	if len(sinks) == 1 {
		return sinks[0], cleanup, nil
	}
	return sinks, cleanup, nil
}

// multiSink fans a version change out to every configured sink, returning
// the first failure after trying them all.
type multiSink []collab.VersionSink

func (m multiSink) OnVersionChanged(ctx context.Context, mapID string, version int64) error {
	var firstErr error
	for _, sink := range m {
		if err := sink.OnVersionChanged(ctx, mapID, version); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

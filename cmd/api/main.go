package main

import (
	"context"
	"errors"
	"flag"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"campusbot.org/identity/internal/audit"
	"campusbot.org/identity/internal/auth"
	"campusbot.org/identity/internal/config"
	"campusbot.org/identity/internal/grpcapi"
	"campusbot.org/identity/internal/httpapi"
	"campusbot.org/identity/internal/migrate"
	"campusbot.org/identity/internal/obs"
	"campusbot.org/identity/internal/ratelimit"
	"campusbot.org/identity/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "config.yaml"), "Path to YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		obs.Logger().Error("fatal", "error", err.Error())
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store auth.Store
		probe httpapi.ReadyProbe
	)
	if cfg.DatabaseURL != "" {
		pgStore, err := pg.Open(cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		if cfg.MigrateOnStart {
			mctx, cancel := context.WithTimeout(ctx, time.Minute)
			mgr := migrate.NewManager(pgStore.DB(), nil)
			err := mgr.Up(mctx)
			if err == nil {
				err = mgr.Seed(mctx)
			}
			cancel()
			if err != nil {
				return err
			}
			logger.Info("migrations_applied")
		}
		store = pgStore
		probe.DB = pgStore.DB()
	} else {
		logger.Warn("database_url_unset", "detail", "using in-memory store; state is lost on restart")
		store = auth.NewMemoryStore()
	}

	limiter, rdb, err := newLimiter(cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		probe.Redis = rdb
	}

	svc, err := auth.NewService(store, cfg.Auth(),
		auth.WithHasher(auth.NewBcryptHasher(cfg.BcryptCost)),
		auth.WithAuditor(audit.NewRecorder(store)),
		auth.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	api := httpapi.New(svc, httpapi.Options{
		Ready:          probe,
		Limiter:        limiter,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		Version:        version,
		TrustedProxies: cfg.TrustedProxies,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := grpcapi.NewHealthServer(probe)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	go health.Watch(ctx, 10*time.Second)

	errc := make(chan error, 2)
	go func() {
		logger.Info("http_listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	go func() {
		logger.Info("grpc_listening", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errc:
		logger.Error("server_failed", "error", err.Error())
	}

	logger.Info("shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	logger.Info("stopped")
	return err
}

// newLimiter shares counters through Redis when configured so every replica
// enforces the same budget.
func newLimiter(cfg config.Config) (ratelimit.Limiter, *redis.Client, error) {
	if cfg.RedisURL == "" {
		return ratelimit.NewLocal(cfg.RateLimitPerSecond, cfg.RateLimitBurst), nil, nil
	}
	rdb, err := ratelimit.Connect(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	window := time.Second
	if cfg.RateLimitPerSecond > 0 {
		secs := math.Ceil(float64(cfg.RateLimitBurst) / cfg.RateLimitPerSecond)
		window = time.Duration(math.Max(secs, 1)) * time.Second
	}
	return ratelimit.NewRedis(rdb, cfg.RateLimitBurst, window), rdb, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

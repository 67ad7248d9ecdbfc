package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend-tripweave/internal/config"
	"backend-tripweave/internal/connectivity"
	"backend-tripweave/internal/db"
	"backend-tripweave/internal/kv"
	"backend-tripweave/internal/logging"
	"backend-tripweave/internal/remote"
	"backend-tripweave/internal/session"
	"backend-tripweave/internal/stream"
	"backend-tripweave/internal/syncq"
	"backend-tripweave/internal/trip"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const probeTimeout = 2 * time.Second

// runtime holds the collaborators a session needs, built from config.
type runtime struct {
	kv      kv.Store
	adapter remote.Adapter
	prober  connectivity.Prober
	redis   *redis.Client
	closers []func() error
}

var connectPostgresFn = db.ConnectPostgres

func buildRuntime(ctx context.Context, cfg config.Config, log *zap.Logger) (*runtime, error) {
	log = logging.OrNop(log)
	rt := &runtime{}
	if err := rt.openKV(cfg); err != nil {
		return nil, err
	}
	if err := rt.openRemote(ctx, cfg, log); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) openKV(cfg config.Config) error {
	switch cfg.KVBackend {
	case "memory":
		rt.kv = kv.NewMemory()
	case "sqlite", "":
		s, err := kv.OpenSQLite(cfg.DataPath)
		if err != nil {
			return err
		}
		rt.kv = s
		rt.closers = append(rt.closers, s.Close)
	case "redis":
		client := db.ConnectRedis(cfg)
		if client == nil {
			return errors.New("KV_BACKEND=redis needs REDIS_ADDR")
		}
		rt.kv = kv.NewRedis(client, "tripweave:")
		rt.redis = client
		rt.closers = append(rt.closers, client.Close)
	default:
		return fmt.Errorf("unknown KV_BACKEND %q", cfg.KVBackend)
	}
	return nil
}

func (rt *runtime) openRemote(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	switch cfg.RemoteMode {
	case "http", "":
		rt.adapter = remote.NewHTTPClient(cfg.RemoteURL, cfg.RemoteToken)
		rt.prober = connectivity.NewHTTPProber(cfg.RemoteURL, probeTimeout)
	case "postgres":
		pool, err := connectPostgresFn(cfg)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
		svc := trip.NewService(pool)
		if err := svc.Migrate(ctx); err != nil {
			log.Warn("trip schema migration failed", zap.Error(err))
		}
		rt.adapter = svc
		rt.prober = connectivity.ProberFunc(pool.Ping)
	default:
		return fmt.Errorf("unknown REMOTE_MODE %q", cfg.RemoteMode)
	}
	return nil
}

func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func queueOptions(cfg config.Config, log *zap.Logger) []syncq.Option {
	opts := []syncq.Option{
		syncq.WithBackoff(cfg.SyncBaseDelay, cfg.SyncMaxDelay),
		syncq.WithMaxAttempts(cfg.SyncMaxAttempts),
		syncq.WithLogger(log),
	}
	if cfg.SyncRate > 0 {
		opts = append(opts, syncq.WithLimiter(rate.NewLimiter(rate.Limit(cfg.SyncRate), 1)))
	}
	return opts
}

func newMonitor(cfg config.Config, rt *runtime, log *zap.Logger) *connectivity.Monitor {
	opts := []connectivity.Option{
		connectivity.WithInitialState(false),
		connectivity.WithLogger(log),
	}
	if cfg.QuietPeriod > 0 {
		opts = append(opts, connectivity.WithQuietPeriod(cfg.QuietPeriod))
	}
	if rt.prober != nil {
		opts = append(opts, connectivity.WithProber(rt.prober, cfg.ProbeInterval))
	}
	return connectivity.NewMonitor(opts...)
}

// newApp serves the local UI API for one session.
func newApp(sess *session.Session, hub *stream.Hub) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "session": sess.ID()})
	})
	session.RegisterRoutes(app.Group("/itinerary"), sess)
	stream.RegisterRoutes(app.Group("/stream"), hub)
	return app
}

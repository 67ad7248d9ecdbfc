package server

import (
	"context"

	"backend-tripweave/internal/auth"
	"backend-tripweave/internal/config"
	"backend-tripweave/internal/stream"
	"backend-tripweave/internal/trip"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Server is the hosted backend the planner's sync queue delivers to. Its
// stream relays the sync status planners publish on Redis to remote viewers.
type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Trips  *trip.Service
	Stream *stream.Hub
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Trips:  trip.NewService(db),
		Stream: stream.NewHub(redisClient, stream.WithLogger(zap.L())),
	}

	registerRoutes(s)
	return s
}

// Migrate creates the trip tables. It is a no-op without a database.
func (s *Server) Migrate(ctx context.Context) error {
	if s.DB == nil {
		return nil
	}
	return s.Trips.Migrate(ctx)
}

// Close stops the Redis relay. The Redis client itself stays open.
func (s *Server) Close() error {
	return s.Stream.Close()
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret))
	trip.RegisterRoutes(s.App.Group("/trips"), s.Trips, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}

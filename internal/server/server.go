package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/biosync/biosync/internal/config"
	"github.com/biosync/biosync/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app        *fiber.App
	cfg        config.Config
	components *routes.Components
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
// db and cache may be nil in development, which selects the in-memory backends.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		BodyLimit:    16 * 1024 * 1024,
	})

	components, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, components: components}, nil
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops the HTTP server, then flushes buffered audit events.
func (s *Server) Shutdown(ctx context.Context) error {
	httpErr := s.app.ShutdownWithContext(ctx)
	return errors.Join(httpErr, s.components.Close(ctx))
}

// Package server exposes the flow data over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stirandas/nfd-visualizations/internal/service"
)

// WelcomeMessage is returned by GET /.
const WelcomeMessage = "Welcome to the NFD Visualization API. Visit /data for data."

const redactedDetail = "data unavailable"

// DataSource is the part of the service the HTTP layer needs.
type DataSource interface {
	Data(ctx context.Context) (any, error)
}

// Options configure the HTTP server.
type Options struct {
	Host            string
	Port            int
	AppName         string
	ExposeErrors    bool
	ShutdownTimeout time.Duration
}

// Server wraps the fiber application.
type Server struct {
	app    *fiber.App
	opts   Options
	source DataSource
	logger zerolog.Logger
}

// New builds the application with middleware and routes registered.
func New(source DataSource, opts Options, logger zerolog.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		opts:   opts,
		source: source,
		logger: logger.With().Str("component", "server").Logger(),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               opts.AppName,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	s.app.Use(recover.New())
	s.app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	s.app.Use(s.accessLog)
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
	}))

	s.app.Get("/", s.handleRoot)
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/data", s.handleData)

	return s
}

// App exposes the fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.Addr()).Msg("http server listening")
		errCh <- s.app.Listen(s.Addr())
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", s.Addr(), err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) handleRoot(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"message": WelcomeMessage})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleData(c *fiber.Ctx) error {
	data, err := s.source.Data(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(data)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	detail := err.Error()

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
		detail = fe.Message
	case errors.Is(err, service.ErrDataUnavailable):
		s.logger.Error().Err(err).
			Str("request_id", requestID(c)).
			Str("path", c.Path()).
			Msg("data unavailable")
		if !s.opts.ExposeErrors {
			detail = redactedDetail
		}
	default:
		s.logger.Error().Err(err).Str("request_id", requestID(c)).Msg("request failed")
		if !s.opts.ExposeErrors {
			detail = fiber.ErrInternalServerError.Message
		}
	}

	return c.Status(code).JSON(fiber.Map{"detail": detail})
}

// accessLog resolves chain errors first so the logged status is the one sent.
func (s *Server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	if chainErr := c.Next(); chainErr != nil {
		if err := c.App().ErrorHandler(c, chainErr); err != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError)
		}
	}

	status := c.Response().StatusCode()
	evt := s.logger.Info()
	if status >= fiber.StatusInternalServerError {
		evt = s.logger.Warn()
	}
	evt.Str("request_id", requestID(c)).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", status).
		Dur("latency", time.Since(start)).
		Msg("request")
	return nil
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return ""
}

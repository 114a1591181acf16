package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"

	"weathercast/api"
	"weathercast/internal/logger"
)

const appName = "weathercast"

var validate = validator.New()

// ForecastGetter is the part of api.ForecastService the HTTP layer needs
type ForecastGetter interface {
	GetForecast(ctx context.Context, location string) (*api.NormalizedForecast, error)
}

// Config holds the listener settings
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server exposes forecasts over HTTP
type Server struct {
	app       *fiber.App
	addr      string
	forecasts ForecastGetter
	log       *slog.Logger
}

// errorResponse is the body of every non-2xx response
type errorResponse struct {
	Error string `json:"error"`
}

// forecastRequest is the validated form of GET /weather/:location
type forecastRequest struct {
	Location string `validate:"required"`
}

// New builds the fiber app and registers routes
func New(cfg Config, forecasts ForecastGetter) *Server {
	s := &Server{
		addr:      cfg.Addr,
		forecasts: forecasts,
		log:       logger.Get().Logger,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		UnescapePath:          true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		ErrorHandler:          s.handleError,
	})

	s.app.Use(recover.New())
	s.app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	s.app.Use(s.logRequests)

	s.app.Get("/", s.index)
	s.app.Get("/up", s.health)
	s.app.Get("/weather/:location?", s.getForecast)

	return s
}

// App returns the underlying fiber app, mainly for app.Test
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address and blocks until shutdown
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", slog.String("addr", s.addr))
	return s.app.Listen(s.addr)
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) index(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service":   appName,
		"endpoints": []string{"GET /weather/:location", "GET /up"},
	})
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) getForecast(c *fiber.Ctx) error {
	// fasthttp reuses the param buffer after the handler returns
	req := forecastRequest{Location: strings.TrimSpace(utils.CopyString(c.Params("location")))}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, api.MsgLocationRequired)
	}

	forecast, err := s.forecasts.GetForecast(c.UserContext(), req.Location)
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(errorResponse{Error: api.PublicMessage(err)})
	}

	return c.JSON(forecast)
}

// handleError renders fiber errors and recovered panics as {"error": ...}
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	} else {
		s.log.Error("Unhandled request error",
			slog.String("path", c.Path()),
			slog.String("error", err.Error()))
	}

	return c.Status(code).JSON(errorResponse{Error: message})
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
		} else {
			status = fiber.StatusInternalServerError
		}
	}

	level := slog.LevelInfo
	if status >= fiber.StatusInternalServerError {
		level = slog.LevelError
	}

	s.log.Log(c.UserContext(), level, "HTTP request",
		slog.String("method", c.Method()),
		slog.String("path", c.Path()),
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
		slog.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
	)
	return err
}

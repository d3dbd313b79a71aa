package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	echoSwagger "github.com/swaggo/echo-swagger"
	"golang.org/x/time/rate"

	_ "github.com/taskmaster/lifecycle/docs"
	httpHandlers "github.com/taskmaster/lifecycle/internal/adapters/http"
	"github.com/taskmaster/lifecycle/internal/domain/entities"
	"github.com/taskmaster/lifecycle/internal/infrastructure/config"
	"github.com/taskmaster/lifecycle/internal/infrastructure/logger"
	"github.com/taskmaster/lifecycle/internal/infrastructure/metrics"
	"github.com/taskmaster/lifecycle/internal/ports"
)

// HealthCheck reports whether a backing dependency is usable.
type HealthCheck func(ctx context.Context) error

// TokenValidator maps a bearer token to the actor it names.
type TokenValidator interface {
	ValidateToken(token string) (entities.Actor, error)
}

// Dependencies are the collaborators the HTTP surface serves.
type Dependencies struct {
	Tasks      ports.TaskService
	Reconcile  ports.ReconcileService
	Recurrence ports.RecurrenceService
	Tokens     TokenValidator
	// Checks run on /health/detailed and /ready, keyed by dependency name.
	Checks map[string]HealthCheck
}

// Server represents the HTTP server
type Server struct {
	echo   *echo.Echo
	config *config.Config
	logger *logger.Logger
	deps   Dependencies
}

// CustomValidator wraps the validator
type CustomValidator struct {
	validator *validator.Validate
}

// Validate validates structs
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// New creates a new server instance
func New(cfg *config.Config, deps Dependencies, appLogger *logger.Logger) *Server {
	e := echo.New()

	e.Validator = &CustomValidator{validator: validator.New()}
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout
	e.Server.IdleTimeout = cfg.Server.IdleTimeout

	e.HTTPErrorHandler = customErrorHandler(appLogger)

	server := &Server{
		echo:   e,
		config: cfg,
		logger: appLogger.WithComponent("http"),
		deps:   deps,
	}

	server.setupMiddleware()

	if cfg.Metrics.Enabled {
		server.setupMetrics()
	}

	server.setupRoutes(
		httpHandlers.NewTaskHandler(deps.Tasks, server.logger),
		httpHandlers.NewReconcileHandler(deps.Reconcile, server.logger),
		httpHandlers.NewRecurringHandler(deps.Recurrence, server.logger),
	)

	return server
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogError:     true,
		LogRemoteIP:  true,
		LogUserAgent: true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, values middleware.RequestLoggerValues) error {
			fields := []interface{}{
				"method", values.Method,
				"uri", values.URI,
				"status", values.Status,
				"latency_ms", float64(values.Latency.Nanoseconds()) / 1000000,
				"remote_ip", values.RemoteIP,
				"request_id", values.RequestID,
			}

			if values.Error != nil && values.Status >= http.StatusInternalServerError {
				fields = append(fields, "error", values.Error.Error())
				s.logger.Error("HTTP request failed", fields...)
			} else {
				s.logger.Info("HTTP request", fields...)
			}

			return nil
		},
	}))

	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: strings.Split(s.config.Security.CORSAllowedOrigins, ","),
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowMethods: []string{echo.GET, echo.HEAD, echo.PUT, echo.PATCH, echo.POST, echo.DELETE},
	}))

	if s.config.Security.RateLimitRequests > 0 {
		limit := rate.Limit(s.config.Security.RateLimitRequests)
		if s.config.Security.RateLimitWindow > 0 {
			limit = rate.Every(s.config.Security.RateLimitWindow / time.Duration(s.config.Security.RateLimitRequests))
		}
		s.echo.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(
				middleware.RateLimiterMemoryStoreConfig{Rate: limit, Burst: s.config.Security.RateLimitRequests, ExpiresIn: 3 * time.Minute},
			),
			IdentifierExtractor: func(ctx echo.Context) (string, error) {
				return ctx.RealIP(), nil
			},
			ErrorHandler: func(context echo.Context, err error) error {
				return context.JSON(http.StatusForbidden, ports.ErrorResponse{Message: "rate limit exceeded"})
			},
			DenyHandler: func(context echo.Context, identifier string, err error) error {
				return context.JSON(http.StatusTooManyRequests, ports.ErrorResponse{Message: "rate limit exceeded"})
			},
		}))
	}

	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         31536000,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(taskHandler *httpHandlers.TaskHandler, reconcileHandler *httpHandlers.ReconcileHandler, recurringHandler *httpHandlers.RecurringHandler) {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/health/detailed", s.detailedHealthCheck)
	s.echo.GET("/ready", s.readinessCheck)

	s.echo.GET("/swagger/*", echoSwagger.WrapHandler)

	v1 := s.echo.Group("/api/v1", s.authMiddleware())

	tasks := v1.Group("/tasks")
	tasks.GET("", taskHandler.ListTasks)
	tasks.POST("", taskHandler.CreateTask)
	tasks.GET("/:id", taskHandler.GetTask)
	tasks.POST("/:id/timer/start", taskHandler.StartTimer)
	tasks.POST("/:id/timer/stop", taskHandler.StopTimer)
	tasks.POST("/:id/submit", taskHandler.Submit)
	// Approver capability is decided by the engine, not by route roles.
	tasks.POST("/:id/approve", taskHandler.Approve)
	tasks.POST("/:id/reject", taskHandler.Reject)
	tasks.POST("/:id/cancel", taskHandler.Cancel)

	managers := s.requireRole(entities.UserRoleAdmin, entities.UserRoleProjectManager, entities.UserRoleTeamLead)

	recurring := v1.Group("/recurring")
	recurring.GET("", recurringHandler.ListDefinitions)
	recurring.GET("/:id", recurringHandler.GetDefinition)
	recurring.POST("", recurringHandler.CreateDefinition, managers)
	recurring.PUT("/:id", recurringHandler.UpdateDefinition, managers)
	recurring.DELETE("/:id", recurringHandler.DeleteDefinition, managers)
	recurring.POST("/:id/materialize", recurringHandler.Materialize, managers)
	recurring.POST("/sweep", recurringHandler.Sweep, s.requireRole(entities.UserRoleAdmin))

	admin := v1.Group("/admin", s.requireRole(entities.UserRoleAdmin))
	admin.POST("/reconcile/preview", reconcileHandler.Preview)
	admin.POST("/reconcile/commit", reconcileHandler.Commit)
}

// setupMetrics records request metrics and exposes the default registry
func (s *Server) setupMetrics() {
	s.echo.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}

			metrics.HTTPRequestsTotal.WithLabelValues(c.Request().Method, c.Path(), fmt.Sprintf("%d", status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(c.Request().Method, c.Path()).Observe(time.Since(start).Seconds())

			return err
		}
	})

	s.echo.GET(s.config.Metrics.Path, echo.WrapHandler(promhttp.Handler()))
}

// Health check handlers
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) runChecks(ctx context.Context) (bool, map[string]interface{}) {
	healthy := true
	checks := make(map[string]interface{}, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			healthy = false
			checks[name] = map[string]string{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]string{"status": "ok"}
	}
	return healthy, checks
}

func (s *Server) detailedHealthCheck(c echo.Context) error {
	healthy, checks := s.runChecks(c.Request().Context())

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "error", http.StatusServiceUnavailable
	}

	return c.JSON(code, map[string]interface{}{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
		"checks": checks,
		"version": map[string]string{
			"app": s.config.App.Version,
		},
	})
}

func (s *Server) readinessCheck(c echo.Context) error {
	if healthy, checks := s.runChecks(c.Request().Context()); !healthy {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"checks": checks,
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(address string) error {
	s.logger.Info("Starting server", "address", address)
	if err := s.echo.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server")
	return s.echo.Shutdown(ctx)
}

// customErrorHandler handles HTTP errors
func customErrorHandler(logger *logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var (
			code = http.StatusInternalServerError
			msg  interface{}
		)

		var he *echo.HTTPError
		var ve validator.ValidationErrors
		switch {
		case errors.As(err, &he):
			code = he.Code
			switch m := he.Message.(type) {
			case ports.ErrorResponse:
				msg = m
			case string:
				msg = ports.ErrorResponse{Message: m}
			default:
				msg = ports.ErrorResponse{Message: fmt.Sprint(m)}
			}
			if he.Internal != nil {
				err = fmt.Errorf("%v, %v", err, he.Internal)
			}
		case errors.As(err, &ve):
			code = http.StatusBadRequest
			msg = ports.ErrorResponse{Message: "validation failed", Details: map[string]interface{}{"errors": ve.Error()}}
		default:
			msg = ports.ErrorResponse{Message: http.StatusText(code)}
		}

		if code == http.StatusInternalServerError {
			logger.Error("Internal server error", "error", err, "path", c.Request().URL.Path)
		}

		if !c.Response().Committed {
			if c.Request().Method == echo.HEAD {
				err = c.NoContent(code)
			} else {
				err = c.JSON(code, msg)
			}
			if err != nil {
				logger.Error("Error sending response", "error", err)
			}
		}
	}
}

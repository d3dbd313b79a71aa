package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	httpHandlers "github.com/taskmaster/lifecycle/internal/adapters/http"
	"github.com/taskmaster/lifecycle/internal/domain/entities"
)

// authMiddleware validates bearer tokens and stores the actor in the context
func (s *Server) authMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing authorization header")
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader || tokenString == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			actor, err := s.deps.Tokens.ValidateToken(tokenString)
			if err != nil {
				s.logger.Warn("Invalid token", "error", err, "ip", c.RealIP())
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
			}

			c.Set(httpHandlers.ActorContextKey, actor)
			return next(c)
		}
	}
}

// requireRole checks if the actor has one of the given roles
func (s *Server) requireRole(roles ...entities.UserRole) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := httpHandlers.ActorFromContext(c)
			if !ok {
				return echo.NewHTTPError(http.StatusForbidden, "Role information not found")
			}

			for _, role := range roles {
				if actor.Role == role {
					return next(c)
				}
			}

			s.logger.Warn("Insufficient permissions",
				"actor_id", actor.ID,
				"role", actor.Role,
				"required_roles", roles,
				"endpoint", c.Request().URL.Path,
				"ip", c.RealIP(),
			)
			return echo.NewHTTPError(http.StatusForbidden, "Insufficient permissions")
		}
	}
}

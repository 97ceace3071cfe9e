// Package platform carries the ambient HTTP middleware shared by the
// intake surface: CORS header injection and per-request logging context,
// adapted from this codebase's header-injecting and context-key
// conventions.
package platform

import (
	"context"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type contextKey string

// RequestIDKey is the context key the RequestID middleware stores the
// per-request correlation id under.
const RequestIDKey contextKey = "request_id"

// WithRequestID returns a new context carrying requestID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID extracts the correlation id injected by RequestID.
func GetRequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(RequestIDKey).(string)
	return v, ok
}

// CORS echoes the request's Origin header on every response and allows the
// tracker-SDK's custom headers (spec §6: "CORS echoes the request origin
// and allows the listed headers").
func CORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			origin := c.Request().Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}
			c.Response().Header().Set("Access-Control-Allow-Origin", origin)
			c.Response().Header().Set("Access-Control-Allow-Headers",
				"Content-Type, databuddy-sdk-name, databuddy-sdk-version")
			return next(c)
		}
	}
}

// RequestID stamps every request with a correlation id, stored both as a
// response header and in the request context for downstream logging.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := uuid.NewString()
			c.Response().Header().Set("X-Request-Id", id)
			ctx := WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// RequestLogger logs method/URI/status/request-id for every request, in
// the shape this codebase's cmd/api/main.go entries configure inline via
// middleware.RequestLoggerWithConfig.
func RequestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			requestID, _ := GetRequestID(c.Request().Context())
			logger.Info("request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.String("request_id", requestID),
			)
			return err
		}
	}
}

package middleware

import (
	"context"

	"github.com/labstack/echo/v4"

	"winsbygroup.com/hwidserver/internal/version"
)

// Context keys
type adminIDKey struct{}
type versionKey struct{}

// WithAdminID stores the acting admin in ctx.
func WithAdminID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, adminIDKey{}, id)
}

// GetAdminID retrieves the acting admin from context. Returns 0 if not set.
func GetAdminID(ctx context.Context) int64 {
	if id, ok := ctx.Value(adminIDKey{}).(int64); ok {
		return id
	}
	return 0
}

// Version adds the app version to the request context and the
// X-Server-Version response header.
func Version() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := context.WithValue(c.Request().Context(), versionKey{}, version.Version)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Response().Header().Set("X-Server-Version", version.Version)
			return next(c)
		}
	}
}

// GetVersion retrieves the version from context.
func GetVersion(ctx context.Context) string {
	if v, ok := ctx.Value(versionKey{}).(string); ok {
		return v
	}
	return version.Version
}

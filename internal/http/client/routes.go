package client

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all client-facing endpoints under the given Echo group.
// The limit middleware is applied only to the endpoints that touch licenses.
func RegisterRoutes(g *echo.Group, h *Handler, limit echo.MiddlewareFunc) {
	if limit == nil {
		limit = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	methods := []string{http.MethodGet, http.MethodPost}

	// Redeem a key for a device (params in query or form body)
	g.Match(methods, "/activate", h.Activate, limit)

	// License status for a device
	g.Match(methods, "/check", h.Check, limit)

	// Verification key for signed and sealed responses
	g.GET("/public-key", h.PublicKey)
}

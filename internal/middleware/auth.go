package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// AdminIDHeader names the admin on whose behalf a request is made. It
// scopes staged actions and is recorded as the audit actor.
const AdminIDHeader = "X-Admin-ID"

// AdminAPIKeyAuth validates the X-API-Key header against adminKey.
// Used for ADMIN API endpoints. Returns 401 if authentication fails.
func AdminAPIKeyAuth(adminKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if adminKey == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "ADMIN_API_KEY not configured")
			}

			key := c.Request().Header.Get("X-API-Key")
			if key == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing admin API key")
			}

			if !constantEqual(adminKey, key) {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid admin API key")
			}

			return next(c)
		}
	}
}

// AdminIdentity reads X-Admin-ID into the request context. A missing header
// means the shared system actor (0).
func AdminIdentity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var id int64
			if raw := strings.TrimSpace(c.Request().Header.Get(AdminIDHeader)); raw != "" {
				v, err := strconv.ParseInt(raw, 10, 64)
				if err != nil || v < 0 {
					return echo.NewHTTPError(http.StatusBadRequest, "Invalid "+AdminIDHeader+" header")
				}
				id = v
			}

			c.SetRequest(c.Request().WithContext(WithAdminID(c.Request().Context(), id)))
			return next(c)
		}
	}
}

// constantEqual provides constant-time string equality to avoid timing attacks.
func constantEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

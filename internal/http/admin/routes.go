package admin

import "github.com/labstack/echo/v4"

func RegisterRoutes(g *echo.Group, h *Handler) {

	// Subscription keys
	g.GET("/keys", h.ListKeys)
	g.POST("/keys", h.IssueKeys)
	g.POST("/keys/purge", h.PurgeKeys)
	g.DELETE("/keys/:code", h.DeleteKey)
	g.POST("/keys/:code/extend", h.ExtendKey)

	// Licenses
	g.GET("/licenses", h.ListLicenses)
	g.GET("/licenses/user/:userId", h.UserLicenses)
	g.POST("/licenses/ban", h.Ban)
	g.POST("/licenses/unban", h.Unban)
	g.POST("/licenses/days", h.AddDays)
	g.POST("/licenses/days/all", h.AddDaysAll)
	g.POST("/licenses/reset", h.Reset)

	// Two-step confirmations
	g.GET("/pending", h.GetPending)
	g.POST("/pending/confirm", h.Confirm)
	g.DELETE("/pending", h.Cancel)

	// Reporting
	g.GET("/stats", h.Stats)
	g.GET("/audit", h.AuditLog)

	// Backup
	g.POST("/backup", h.BackupDatabase)
}

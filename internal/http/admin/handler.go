package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"winsbygroup.com/hwidserver/internal/backup"
	"winsbygroup.com/hwidserver/internal/license"
	"winsbygroup.com/hwidserver/internal/middleware"
	"winsbygroup.com/hwidserver/internal/pending"
	"winsbygroup.com/hwidserver/internal/signing"
	"winsbygroup.com/hwidserver/internal/subscription"
)

const defaultAuditLimit = 100

type Handler struct {
	svc      *Service
	logger   *slog.Logger
	validate *validator.Validate
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger, validate: validator.New()}
}

// Keys

func (h *Handler) ListKeys(c echo.Context) error {
	owner, err := queryInt(c, "owner")
	if err != nil {
		return badRequest(c, "invalid owner")
	}
	out, err := h.svc.ListKeys(c.Request().Context(), owner)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) IssueKeys(c echo.Context) error {
	var req IssueKeysRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	ctx := c.Request().Context()
	out, err := h.svc.IssueKeys(ctx, middleware.GetAdminID(ctx), &req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) DeleteKey(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.svc.DeleteKey(ctx, middleware.GetAdminID(ctx), c.Param("code")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ExtendKey(c echo.Context) error {
	var req ExtendKeyRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	ctx := c.Request().Context()
	out, err := h.svc.ExtendKey(ctx, middleware.GetAdminID(ctx), c.Param("code"), req.Days)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) PurgeKeys(c echo.Context) error {
	var req PurgeKeysRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	ctx := c.Request().Context()
	a, err := h.svc.StageDeleteUserKeys(ctx, middleware.GetAdminID(ctx), req.UserID)
	if err != nil {
		return h.fail(c, err)
	}
	return staged(c, a)
}

// Licenses

func (h *Handler) ListLicenses(c echo.Context) error {
	status := c.QueryParam("status")
	switch status {
	case "", "expired", "banned":
	default:
		return badRequest(c, "status must be expired or banned")
	}
	q := signing.NormalizeHWID(strings.TrimSpace(c.QueryParam("q")))

	out, err := h.svc.ListLicenses(c.Request().Context(), status, q)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) UserLicenses(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil || id <= 0 {
		return badRequest(c, "invalid user id")
	}
	out, err := h.svc.UserLicenses(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Ban(c echo.Context) error {
	return h.setBanned(c, true)
}

func (h *Handler) Unban(c echo.Context) error {
	return h.setBanned(c, false)
}

func (h *Handler) setBanned(c echo.Context, banned bool) error {
	var req TargetRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	req.HWID = signing.NormalizeHWID(req.HWID)

	ctx := c.Request().Context()
	n, err := h.svc.SetBanned(ctx, middleware.GetAdminID(ctx), &req, banned)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, AffectedResponse{Affected: n})
}

func (h *Handler) AddDays(c echo.Context) error {
	var req TargetRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	req.HWID = signing.NormalizeHWID(req.HWID)

	ctx := c.Request().Context()
	n, err := h.svc.AddDays(ctx, middleware.GetAdminID(ctx), &req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, AffectedResponse{Affected: n})
}

func (h *Handler) AddDaysAll(c echo.Context) error {
	var req AddDaysAllRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	ctx := c.Request().Context()
	a, err := h.svc.StageAddDaysAll(ctx, middleware.GetAdminID(ctx), req.Days)
	if err != nil {
		return h.fail(c, err)
	}
	return staged(c, a)
}

func (h *Handler) Reset(c echo.Context) error {
	var req ResetRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	ctx := c.Request().Context()
	a, err := h.svc.StageResetHWID(ctx, middleware.GetAdminID(ctx), signing.NormalizeHWID(req.HWID))
	if err != nil {
		return h.fail(c, err)
	}
	return staged(c, a)
}

// Pending confirmations

func (h *Handler) GetPending(c echo.Context) error {
	a, ok := h.svc.Pending(middleware.GetAdminID(c.Request().Context()))
	if !ok {
		return c.JSON(http.StatusNotFound, errBody(pending.ErrNone.Error()))
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Confirm(c echo.Context) error {
	var req ConfirmRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	ctx := c.Request().Context()
	out, err := h.svc.ConfirmPending(ctx, middleware.GetAdminID(ctx), strings.TrimSpace(req.Token))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Cancel(c echo.Context) error {
	if !h.svc.CancelPending(middleware.GetAdminID(c.Request().Context())) {
		return c.JSON(http.StatusNotFound, errBody(pending.ErrNone.Error()))
	}
	return c.NoContent(http.StatusNoContent)
}

// Reporting

func (h *Handler) Stats(c echo.Context) error {
	out, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) AuditLog(c echo.Context) error {
	limit, err := queryInt(c, "limit")
	if err != nil || limit < 0 {
		return badRequest(c, "invalid limit")
	}
	if limit == 0 {
		limit = defaultAuditLimit
	}
	actor, err := queryInt(c, "actor")
	if err != nil {
		return badRequest(c, "invalid actor")
	}

	out, err := h.svc.AuditLog(c.Request().Context(), actor, int(limit))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// Backup

func (h *Handler) BackupDatabase(c echo.Context) error {
	ctx := c.Request().Context()
	out, err := h.svc.Backup(ctx, middleware.GetAdminID(ctx))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// -------------------------
// helpers
// -------------------------

func (h *Handler) bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return errors.New("invalid request body")
	}
	return h.validate.Struct(req)
}

// fail maps domain errors to statuses. Anything unrecognised is logged and
// reported without detail.
func (h *Handler) fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, subscription.ErrNotFound),
		errors.Is(err, license.ErrNotFound),
		errors.Is(err, pending.ErrNone):
		status = http.StatusNotFound
	case errors.Is(err, subscription.ErrInvalidDays),
		errors.Is(err, subscription.ErrInvalidCount),
		errors.Is(err, subscription.ErrInvalidOwner),
		errors.Is(err, license.ErrInvalidDays),
		errors.Is(err, ErrTarget):
		status = http.StatusBadRequest
	case errors.Is(err, pending.ErrTokenMismatch):
		status = http.StatusConflict
	case errors.Is(err, backup.ErrUnsupported),
		errors.Is(err, ErrNoBackup):
		status = http.StatusNotImplemented
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("admin request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err,
		)
		return c.JSON(status, errBody("internal error"))
	}
	return c.JSON(status, errBody(err.Error()))
}

func staged(c echo.Context, a pending.Action) error {
	return c.JSON(http.StatusAccepted, StagedResponse{
		Message: "confirm with POST /pending/confirm before " + a.ExpiresAt.Format("15:04:05 MST"),
		Action:  a,
	})
}

func queryInt(c echo.Context, name string) (int64, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errBody(msg))
}

func errBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

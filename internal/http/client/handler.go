package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"winsbygroup.com/hwidserver/internal/activation"
	"winsbygroup.com/hwidserver/internal/apperr"
	"winsbygroup.com/hwidserver/internal/metrics"
	"winsbygroup.com/hwidserver/internal/nonce"
	"winsbygroup.com/hwidserver/internal/signing"
	"winsbygroup.com/hwidserver/internal/validation"
)

// SubscriptionLayout is how expiry times appear in the user object.
const SubscriptionLayout = "2006-01-02 15:04:05"

const (
	MsgActivated    = "Subscription activated successfully"
	MsgExtended     = "Subscription extended successfully"
	MsgValid        = "Subscription valid"
	MsgBanned       = "User banned"
	MsgExpired      = "Subscription expired"
	MsgHWIDNotFound = "HWID not found"
	MsgNoPublicKey  = "Public key not available"
)

type Handler struct {
	activation *activation.Service
	validation *validation.Service
	auth       *signing.Authenticator
	nonces     *nonce.Ledger
	metrics    *metrics.Metrics
	logger     *slog.Logger
	validate   *validator.Validate
}

func NewHandler(
	a *activation.Service,
	v *validation.Service,
	auth *signing.Authenticator,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		activation: a,
		validation: v,
		auth:       auth,
		logger:     logger,
		validate:   validator.New(),
	}
}

// WithNonceLedger rejects nonces that were already answered. Without a
// ledger the nonce is only echoed back.
func (h *Handler) WithNonceLedger(l *nonce.Ledger) *Handler {
	h.nonces = l
	return h
}

func (h *Handler) WithMetrics(m *metrics.Metrics) *Handler {
	h.metrics = m
	return h
}

// UserView is the user object of an activate response.
type UserView struct {
	ID           int64  `json:"id"`
	HWID         string `json:"hwid"`
	Subscription string `json:"subscription"`
	Banned       bool   `json:"banned"`
}

// CheckUserView is the user object of a check response.
type CheckUserView struct {
	UserView
	Expired       bool `json:"expired"`
	DaysRemaining int  `json:"days_remaining"`
}

type ActivateResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	User    *UserView `json:"user"`
	*signing.Signed
}

type CheckResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Valid   bool           `json:"valid"`
	User    *CheckUserView `json:"user"`
	// set in signed and sealed modes only
	DaysRemaining *int `json:"days_remaining,omitempty"`
	*signing.Signed
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GET|POST /activate
func (h *Handler) Activate(c echo.Context) error {
	ctx := c.Request().Context()

	p, err := h.readActivate(c)
	if err != nil {
		return h.reject(c, err)
	}
	if err := h.consumeNonce(ctx, p.Nonce, p.HWID); err != nil {
		return h.reject(c, err)
	}

	// The body is signed and sealed before commit so a crypto failure
	// leaves the key unconsumed.
	var body any
	_, err = h.activation.RedeemWith(ctx, p.Key, p.HWID, func(res *activation.Result) error {
		b, err := h.activateBody(res, p.Nonce)
		body = b
		return err
	})
	if err != nil {
		return h.reject(c, err)
	}
	return c.JSON(http.StatusOK, body)
}

func (h *Handler) activateBody(res *activation.Result, n string) (any, error) {
	resp := ActivateResponse{
		Success: true,
		Message: MsgActivated,
		User: &UserView{
			ID:           res.UserID,
			HWID:         res.HWID,
			Subscription: res.ExpiresAt.UTC().Format(SubscriptionLayout),
		},
	}
	if res.Extended {
		resp.Message = MsgExtended
	}

	var err error
	resp.Signed, err = h.sign(res.HWID, res.ExpiresAt, true, n)
	if err != nil {
		return nil, err
	}
	return h.render(resp)
}

// GET|POST /check
func (h *Handler) Check(c echo.Context) error {
	ctx := c.Request().Context()

	p, err := h.readCheck(c)
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.consumeNonce(ctx, p.Nonce, p.HWID); err != nil {
		return h.fail(c, err)
	}

	st, err := h.validation.Check(ctx, p.HWID)
	if err != nil {
		h.observeCheck("error")
		return h.fail(c, err)
	}
	h.observeCheck(st.Reason)

	resp := CheckResponse{Message: MsgHWIDNotFound}
	var expiry time.Time
	if st.Found() {
		lic := st.License
		expiry = lic.ExpiresAt
		resp.Success = true
		resp.Valid = st.Valid
		resp.Message = checkMessage(st)
		resp.User = &CheckUserView{
			UserView: UserView{
				ID:           lic.UserID,
				HWID:         lic.HWID,
				Subscription: lic.ExpiresAt.UTC().Format(SubscriptionLayout),
				Banned:       lic.Banned,
			},
			Expired:       st.Expired,
			DaysRemaining: st.DaysRemaining,
		}
	}

	resp.Signed, err = h.sign(p.HWID, expiry, st.Valid, p.Nonce)
	if err != nil {
		return h.fail(c, err)
	}
	if resp.Signed != nil {
		days := st.DaysRemaining
		resp.DaysRemaining = &days
	}
	return h.respond(c, resp)
}

// GET /public-key
func (h *Handler) PublicKey(c echo.Context) error {
	pub := h.auth.PublicKey()
	if pub == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Message: MsgNoPublicKey})
	}
	pem, err := signing.EncodePublicKey(pub)
	if err != nil {
		return h.fail(c, apperr.CryptoErr(err))
	}
	return c.Blob(http.StatusOK, "application/x-pem-file", pem)
}

func checkMessage(st *validation.Status) string {
	switch st.Reason {
	case validation.ReasonBanned:
		return MsgBanned
	case validation.ReasonExpired:
		return MsgExpired
	}
	return MsgValid
}

func (h *Handler) consumeNonce(ctx context.Context, n, hwid string) error {
	if h.nonces == nil || n == "" {
		return nil
	}
	err := h.nonces.Consume(ctx, n, hwid)
	if errors.Is(err, nonce.ErrReused) {
		return apperr.ErrNonceReused
	}
	if err != nil {
		return apperr.StorageErr(err)
	}
	return nil
}

// sign returns nil in plain mode.
func (h *Handler) sign(hwid string, expiry time.Time, valid bool, n string) (*signing.Signed, error) {
	if h.auth.Mode() == signing.ModePlain {
		return nil, nil
	}
	s, err := h.auth.Authenticate(hwid, expiry, valid, n)
	if err != nil {
		return nil, apperr.CryptoErr(err)
	}
	return s, nil
}

// render returns body as sent on the wire, sealed in sealed mode.
func (h *Handler) render(body any) (any, error) {
	if h.auth.Mode() != signing.ModeSealed {
		return body, nil
	}
	sealed, err := h.auth.Seal(body)
	if err != nil {
		return nil, apperr.CryptoErr(err)
	}
	return sealed, nil
}

// respond writes a successful body.
func (h *Handler) respond(c echo.Context, body any) error {
	out, err := h.render(body)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// reject counts a failed activation and writes the error.
func (h *Handler) reject(c echo.Context, err error) error {
	if h.metrics != nil {
		ae := apperr.From(err)
		reason := ae.Reason
		if reason == "" {
			reason = ae.Kind.String()
		}
		h.metrics.ObserveRejection(reason)
	}
	return h.fail(c, err)
}

func (h *Handler) fail(c echo.Context, err error) error {
	ae := apperr.From(err)
	if ae.Kind == apperr.Storage || ae.Kind == apperr.Crypto {
		h.logger.Error("client request failed", "path", c.Path(), "error", err)
	}
	return c.JSON(ae.Status(), ErrorResponse{Message: ae.Public()})
}

func (h *Handler) observeCheck(result string) {
	if h.metrics != nil {
		h.metrics.ObserveCheck(result)
	}
}

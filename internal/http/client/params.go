package client

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"winsbygroup.com/hwidserver/internal/apperr"
	"winsbygroup.com/hwidserver/internal/signing"
)

// activateParams are read from the query string or a form body.
type activateParams struct {
	HWID  string `validate:"required,max=255"`
	Key   string `validate:"required,max=255"`
	Nonce string `validate:"max=255"`
}

type checkParams struct {
	HWID  string `validate:"required,max=255"`
	Nonce string `validate:"max=255"`
}

func formValue(c echo.Context, name string) string {
	return strings.TrimSpace(c.FormValue(name))
}

func (h *Handler) readActivate(c echo.Context) (*activateParams, error) {
	p := &activateParams{
		HWID:  signing.NormalizeHWID(formValue(c, "hwid")),
		Key:   formValue(c, "key"),
		Nonce: formValue(c, "nonce"),
	}
	if err := h.validate.Struct(p); err != nil {
		return nil, paramError(err, apperr.MsgMissingActivateParams, apperr.MsgParamsTooLong)
	}
	if p.Nonce == "" && h.auth.RequiresNonce() {
		return nil, apperr.BadRequest(apperr.MsgMissingNonce)
	}
	return p, nil
}

func (h *Handler) readCheck(c echo.Context) (*checkParams, error) {
	p := &checkParams{
		HWID:  signing.NormalizeHWID(formValue(c, "hwid")),
		Nonce: formValue(c, "nonce"),
	}
	if err := h.validate.Struct(p); err != nil {
		tooLong := apperr.MsgParamsTooLong
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && verrs[0].Field() == "HWID" {
			tooLong = apperr.MsgHWIDTooLong
		}
		return nil, paramError(err, apperr.MsgMissingHWID, tooLong)
	}
	if p.Nonce == "" && h.auth.RequiresNonce() {
		return nil, apperr.BadRequest(apperr.MsgMissingNonce)
	}
	return p, nil
}

// paramError reports a missing parameter before an oversized one.
func paramError(err error, missing, tooLong string) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.BadRequest(missing)
	}
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			return apperr.BadRequest(missing)
		}
	}
	return apperr.BadRequest(tooLong)
}

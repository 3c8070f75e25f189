package api

import (
	"errors"
	"net/http"

	"checkout-service/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type errorBody struct {
	Kind    service.Kind      `json:"kind"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindValidation, service.KindChecksumMismatch:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	case service.KindPaymentInitiation, service.KindGateway:
		return http.StatusBadGateway
	case service.KindGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err by kind. Internal details and checksum failures are never echoed.
func writeError(c echo.Context, err error) error {
	kind := service.KindOf(err)
	body := errorBody{Kind: kind}

	var svcErr *service.Error
	switch {
	case kind == service.KindInternal:
		body.Message = "internal server error"
		zerolog.Ctx(c.Request().Context()).Error().Err(err).
			Str("method", c.Request().Method).
			Str("uri", c.Request().RequestURI).
			Msg("Request failed")
	case kind == service.KindChecksumMismatch:
		body.Message = "invalid request"
	case errors.As(err, &svcErr):
		body.Message = svcErr.Message
		body.Fields = svcErr.Fields
	}

	return c.JSON(statusFor(kind), errorResponse{Error: body})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: errorBody{Kind: service.KindValidation, Message: msg}})
}

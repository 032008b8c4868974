// Package handler contains the HTTP handlers and route registration.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"media-relay/internal/model"
	"media-relay/internal/service"
	"media-relay/internal/urlguard"
)

const authChallengeMessage = "the resolver was asked to sign in; refresh the cookie file"

// failureKind names the parameter and failure code of one endpoint so that
// service errors can be mapped onto endpoint-specific error codes.
type failureKind struct {
	param   string // caller-supplied parameter: "url", "id", "query", "path", "region"
	failure string // code for upstream failures, e.g. "relay_failed"
}

// mapError translates service errors into a JSON error body.
func mapError(c echo.Context, logger *slog.Logger, kind failureKind, err error) error {
	status, body := classify(kind, err)

	attrs := []any{
		"err", urlguard.Redact(err.Error()),
		"path", c.Request().URL.Path,
		"status", status,
	}
	if status < http.StatusInternalServerError {
		logger.Warn("request rejected", attrs...)
	} else {
		logger.Error("request failed", attrs...)
	}

	return c.JSON(status, body)
}

func classify(kind failureKind, err error) (int, model.ErrorBody) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		code := "invalid_" + kind.param
		if errors.Is(err, urlguard.ErrMissing) {
			code = "missing_" + kind.param
		}
		return http.StatusBadRequest, model.ErrorBody{Error: code, Message: inputMessage(err)}

	case errors.Is(err, service.ErrNotReady):
		return http.StatusServiceUnavailable, model.ErrorBody{
			Error:   "not_ready",
			Message: "metadata catalog is warming up, retry shortly",
		}

	case errors.Is(err, service.ErrAllMirrorsFailed):
		return http.StatusServiceUnavailable, model.ErrorBody{
			Error:   "all_instances_failed",
			Message: "all mirror instances failed",
		}

	case errors.Is(err, service.ErrAuthChallenge):
		return http.StatusInternalServerError, model.ErrorBody{
			Error:   "auth_challenge",
			Message: authChallengeMessage,
		}

	case errors.Is(err, context.Canceled):
		return http.StatusBadGateway, model.ErrorBody{
			Error:   "client_disconnected",
			Message: "client disconnected",
		}

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusInternalServerError, model.ErrorBody{
			Error:   kind.failure,
			Message: "upstream request timed out",
		}
	}

	return http.StatusInternalServerError, model.ErrorBody{
		Error:   kind.failure,
		Message: "upstream request failed",
	}
}

// inputMessage strips the service sentinel prefix and keeps the validation detail.
func inputMessage(err error) string {
	msg, _ := strings.CutPrefix(err.Error(), service.ErrInvalidInput.Error()+": ")
	return msg
}

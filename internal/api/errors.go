package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	var (
		exhausted *domain.AllProvidersExhaustedError
		permanent *domain.PermanentProviderError
	)
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// client went away
		return 499
	case errors.As(err, &exhausted):
		return http.StatusBadGateway
	case domain.IsTransient(err):
		return http.StatusServiceUnavailable
	case errors.As(err, &permanent):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"path", r.URL.Path,
			"status", status,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aretw0/concord/pkg/domain"
)

// retryAfterSeconds is advertised when a session lock could not be acquired in time.
const retryAfterSeconds = 1

type errorResponse struct {
	Error   string `json:"error"`
	Success bool   `json:"success"`
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrParticipantNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateSession):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidUpdate):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnsupportedResolution):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrLockTimeout):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && status != http.StatusNotImplemented {
		logger.Error("request failed", "err", err)
	}
	writeJSON(w, logger, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("response encode failed", "err", err)
	}
}

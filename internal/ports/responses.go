package ports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Amund211/flashfetch/internal/domain"
	"github.com/Amund211/flashfetch/internal/logging"
	"github.com/Amund211/flashfetch/internal/reporting"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Cause   string `json:"cause"`
}

func writeErrorResponse(ctx context.Context, w http.ResponseWriter, statusCode int, cause string) {
	writeJSONResponse(ctx, w, statusCode, errorResponse{Success: false, Cause: cause})
}

func writeJSONResponse(ctx context.Context, w http.ResponseWriter, statusCode int, response any) {
	data, err := json.Marshal(response)
	if err != nil {
		logging.FromContext(ctx).ErrorContext(ctx, "Failed to marshal response", "error", err)
		reporting.Report(ctx, fmt.Errorf("failed to marshal response: %w", err))

		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err = w.Write(data); err != nil {
		logging.FromContext(ctx).ErrorContext(ctx, "Failed to write response", "error", err)
	}
}

// writeDomainError maps err to a status code and writes it. The error is
// expected to already be reported where it originated.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := logging.FromContext(ctx)

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		logger.InfoContext(ctx, "Invalid input. Returning error", "statusCode", http.StatusBadRequest, "error", err)
		writeErrorResponse(ctx, w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		logger.InfoContext(ctx, "Not found. Returning error", "statusCode", http.StatusNotFound, "error", err)
		writeErrorResponse(ctx, w, http.StatusNotFound, "Not found")
	case errors.Is(err, domain.ErrTemporarilyUnavailable):
		logger.ErrorContext(ctx, "Upstream temporarily unavailable", "statusCode", http.StatusServiceUnavailable, "error", err)
		writeErrorResponse(ctx, w, http.StatusServiceUnavailable, "Temporarily unavailable")
	case errors.Is(err, domain.ErrResponse), errors.Is(err, domain.ErrTransport):
		logger.ErrorContext(ctx, "Upstream failed", "statusCode", http.StatusBadGateway, "error", err)
		writeErrorResponse(ctx, w, http.StatusBadGateway, "Upstream error")
	case errors.Is(err, context.DeadlineExceeded):
		logger.ErrorContext(ctx, "Timed out", "statusCode", http.StatusGatewayTimeout, "error", err)
		writeErrorResponse(ctx, w, http.StatusGatewayTimeout, "Timed out")
	default:
		logger.ErrorContext(ctx, "Internal error", "statusCode", http.StatusInternalServerError, "error", err)
		writeErrorResponse(ctx, w, http.StatusInternalServerError, "Internal server error")
	}
}

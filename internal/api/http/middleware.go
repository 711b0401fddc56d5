// Package http provides the HTTP surface of the compaction daemon.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	arkerrors "github.com/arkilian/eventarchive/internal/errors"
)

// Context keys for request metadata.
type contextKey string

// requestIDKey is the context key for the request ID.
const requestIDKey contextKey = "request_id"

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// RequestIDMiddleware adds a unique request_id to each request.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RecoveryMiddleware turns panics into 500 responses.
func RecoveryMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					requestID := GetRequestID(r.Context())
					logger.Error("panic in handler",
						zap.Any("panic", rec),
						zap.String("request_id", requestID),
						zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error", "", requestID)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// AccessLogMiddleware logs one line per request at debug level.
func AccessLogMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", GetRequestID(r.Context())))
		})
	}
}

// ChainMiddleware chains multiple middleware functions together.
func ChainMiddleware(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// DefaultMiddleware returns the default middleware chain for API handlers.
func DefaultMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return ChainMiddleware(
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		AccessLogMiddleware(logger),
	)
}

// statusFor maps a structured error to an HTTP status.
func statusFor(err error) int {
	switch arkerrors.GetCategory(err) {
	case arkerrors.ErrCategoryValidation:
		return http.StatusBadRequest
	case arkerrors.ErrCategoryIndex:
		if arkerrors.GetCode(err) == arkerrors.CodeIndexUnavailable {
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

// writeErr writes err with the status its category maps to.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, statusFor(err), err.Error(), arkerrors.GetCode(err), GetRequestID(r.Context()))
}

// writeError writes an error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, message, code, requestID string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestID,
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

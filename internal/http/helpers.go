package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"budgeteer/internal/auth"
	"budgeteer/internal/core"
	"budgeteer/internal/store"
)

const maxBodyBytes = 1 << 20

// writeJSON writes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps a domain error onto its HTTP status and writes the JSON
// error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= 500 {
		slog.ErrorContext(r.Context(), "Request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		// Internal detail stays out of the response body.
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusForError maps domain errors: validation failures are 422, missing
// documents 404, auth failures 401, everything else 500.
func statusForError(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrBudgetNotFound),
		errors.Is(err, core.ErrExpenseNotFound),
		errors.Is(err, core.ErrIncomeNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case core.IsValidationError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("malformed request body")

// decodeJSON decodes a size-limited JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errBadRequest
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errBadRequest
	}
	return nil
}

// requireMethod enforces the HTTP method on a handler, answering 405 with an
// Allow header otherwise.
func requireMethod(methods ...string) func(http.HandlerFunc) http.HandlerFunc {
	allow := strings.Join(methods, ", ")
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			for _, m := range methods {
				if r.Method == m {
					next(w, r)
					return
				}
			}
			w.Header().Set("Allow", allow)
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

// parseMonthYear reads the month/year query parameters, defaulting to the
// current month when absent.
func parseMonthYear(r *http.Request) (month, year int, err error) {
	now := time.Now()
	month = int(now.Month())
	year = now.Year()

	if v := strings.TrimSpace(r.URL.Query().Get("month")); v != "" {
		m, convErr := strconv.Atoi(v)
		if convErr != nil {
			return 0, 0, core.ErrInvalidMonth
		}
		month = m
	}
	if v := strings.TrimSpace(r.URL.Query().Get("year")); v != "" {
		y, convErr := strconv.Atoi(v)
		if convErr != nil {
			return 0, 0, core.ErrInvalidYear
		}
		year = y
	}
	if err := core.ValidateMonthYear(month, year); err != nil {
		return 0, 0, err
	}
	return month, year, nil
}

// sanitizeInput trims whitespace and strips control characters.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// previewCacheKey builds the per-user cache key for a budget period.
func previewCacheKey(userID string, month, year int) string {
	return fmt.Sprintf("%s/%04d-%02d", userID, year, month)
}

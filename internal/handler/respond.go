package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dukerupert/babylog/internal/apperr"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    apperr.Code   `json:"code"`
	Message string        `json:"message"`
	Fields  apperr.Fields `json:"fields,omitempty"`
}

func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodePermissionDenied:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto the error envelope. Internal causes are logged
// and never sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var ae *apperr.Error
	if !errors.As(apperr.Wrap(err), &ae) {
		ae = apperr.Internal(err)
	}
	if ae.Code == apperr.CodeInternal {
		logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, statusFor(ae.Code), map[string]errorBody{
		"error": {Code: ae.Code, Message: ae.Message, Fields: ae.Fields},
	})
}

// decodeJSON reads a single JSON object into v. Unknown fields are
// rejected so a misspelt field is not silently dropped.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return decodeError(err)
	}
	if dec.More() {
		return apperr.ValidationField("body", "must contain a single JSON object")
	}
	return nil
}

// decodeError turns a decoder failure into a validation error that names
// only JSON fields. Decoder messages mention Go types and never reach the
// client.
func decodeError(err error) error {
	var (
		maxErr  *http.MaxBytesError
		typeErr *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &maxErr):
		return apperr.ValidationField("body", "must be at most 1 MiB")
	case errors.Is(err, io.EOF):
		return apperr.ValidationField("body", "required")
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return apperr.ValidationField(typeErr.Field, "has the wrong type")
	}
	if rest, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		if name, uerr := strconv.Unquote(rest); uerr == nil && name != "" {
			return apperr.ValidationField(name, "unknown field")
		}
	}
	return apperr.ValidationField("body", "must be a valid JSON object")
}

func parseUserIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("userID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.ValidationField("userID", "must be a positive integer")
	}
	return id, nil
}

package api

import (
	"encoding/json"
	"mime"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/middleware"
)

const (
	maxBodyBytes  = 1 << 20
	maxFormMemory = 1 << 20
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, r *http.Request, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).WithField("request_id", middleware.RequestIDFromContext(r.Context())).
			Error("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, r *http.Request, logger *logrus.Logger, err error) {
	code := http.StatusInternalServerError
	msg := "Internal server error"
	op := ""

	if appErr, ok := errors.As(err); ok {
		code = appErr.Code
		msg = appErr.Message
		op = appErr.Op
	}

	entry := logger.WithFields(logrus.Fields{
		"error":      err,
		"status":     code,
		"op":         op,
		"request_id": middleware.RequestIDFromContext(r.Context()),
		"path":       r.URL.Path,
		"method":     r.Method,
	})
	if code >= 500 {
		entry.Error("Request error")
	} else {
		entry.Warn("Request rejected")
	}

	respondJSON(w, r, code, errorResponse{Error: msg})
}

// readField returns a named string field from a JSON, multipart or
// url-encoded request body. A missing field yields "".
func readField(w http.ResponseWriter, r *http.Request, field string) (string, error) {
	const op = "api.readField"

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return "", errors.InvalidInput(op, err, "Invalid JSON format")
		}
		raw, ok := body[field]
		if !ok {
			return "", nil
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return "", errors.InvalidInput(op, err, "Field "+field+" must be a string")
		}
		return value, nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			return "", errors.InvalidInput(op, err, "Invalid form data")
		}
	default:
		if err := r.ParseForm(); err != nil {
			return "", errors.InvalidInput(op, err, "Invalid form data")
		}
	}
	return r.FormValue(field), nil
}

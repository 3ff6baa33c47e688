package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kilianp07/wastefleet/core/errs"
	"github.com/kilianp07/wastefleet/core/logger"
	"github.com/kilianp07/wastefleet/core/monitoring"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrInvalidInput:
		return http.StatusBadRequest
	case errs.ErrConflict:
		return http.StatusConflict
	case errs.ErrInvalidState:
		return http.StatusUnprocessableEntity
	case errs.ErrUnavailable:
		return http.StatusServiceUnavailable
	case errs.ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, log logger.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("request failed: %v", err)
		if errs.KindOf(err) == nil {
			monitoring.CaptureException(err, map[string]string{"component": "api"})
		}
	}
	writeJSON(w, status, ErrorResponse{Code: errs.Code(err), Message: err.Error()})
}

// decode reads a single JSON object from the request body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.New(errs.ErrInvalidInput, "", "request body is empty")
		}
		return errs.New(errs.ErrInvalidInput, "", "malformed request body: %v", err)
	}
	if dec.More() {
		return errs.New(errs.ErrInvalidInput, "", "request body holds more than one object")
	}
	return nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprint(err)
}

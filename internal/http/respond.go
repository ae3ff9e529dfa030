package httpserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/Clark-Hu/movie-discovery/internal/domain"
)

const maxRequestBody = 1 << 20 // 1 MiB

type successEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type errorEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("body must contain a single JSON object")
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Error().Err(err).Msg("failed to encode response")
		}
	}
}

func (s *Server) respondSuccess(w http.ResponseWriter, status int, message string, data any) {
	s.respondJSON(w, status, successEnvelope{Status: "success", Message: message, Data: data})
}

// respondStale is respondSuccess for catalog reads, flagging fallback data.
func (s *Server) respondStale(w http.ResponseWriter, stale bool, message string, data any) {
	if stale {
		w.Header().Set("X-Cache-Stale", "true")
	}
	s.respondSuccess(w, http.StatusOK, message, data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string, details any) {
	s.respondJSON(w, status, errorEnvelope{
		Status:  "error",
		Message: message,
		Code:    code,
		Details: details,
	})
}

// respondDomainError maps the error taxonomy onto status codes.
func (s *Server) respondDomainError(w http.ResponseWriter, r *http.Request, err error, notFoundMsg string) {
	code, retryable := domain.ErrorCode(err)
	var details any
	if retryable {
		details = map[string]bool{"retryable": true}
	}

	switch code {
	case "NOT_FOUND":
		s.respondError(w, http.StatusNotFound, code, notFoundMsg, nil)
	case "UNKNOWN_GENRE":
		s.respondError(w, http.StatusBadRequest, code, err.Error(), nil)
	case "DUPLICATE_INTERACTION":
		s.respondError(w, http.StatusConflict, code, "Interaction already recorded", nil)
	case "UPSTREAM_UNAVAILABLE":
		w.Header().Set("Retry-After", "5")
		s.respondError(w, http.StatusServiceUnavailable, code, "Movie catalog is temporarily unavailable", details)
	case "DATA_INTEGRITY_VIOLATION":
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("data integrity violation")
		s.respondError(w, http.StatusInternalServerError, code, "Internal data error", nil)
	default:
		if errors.Is(err, r.Context().Err()) && r.Context().Err() != nil {
			// Client went away; nobody reads this response.
			return
		}
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
	}
}

func (s *Server) respondDecodeError(w http.ResponseWriter, err error) {
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	var maxBytesError *http.MaxBytesError
	switch {
	case errors.As(err, &syntaxError):
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Malformed JSON payload", nil)
	case errors.As(err, &typeError):
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("Invalid value for field %s", typeError.Field), nil)
	case errors.As(err, &maxBytesError):
		s.respondError(w, http.StatusRequestEntityTooLarge, "VALIDATION_ERROR", "Request body too large", nil)
	case errors.Is(err, io.EOF):
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Request body cannot be empty", nil)
	default:
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unable to parse request body", nil)
	}
}

// respondValidationError lists each failing field.
func (s *Server) respondValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		fields[fe.Field()] = rule
	}
	s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", fields)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

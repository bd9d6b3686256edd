package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/burugo/linkcheck"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// envelope is the body of every API response.
type envelope struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	FromCache bool        `json:"from_cache"`
	ErrorCode string      `json:"error_code,omitempty"`
	Errors    []string    `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, status int, message string, data interface{}, fromCache bool) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data, FromCache: fromCache})
}

func fail(w http.ResponseWriter, status int, code, message string, details ...string) {
	writeJSON(w, status, envelope{Message: message, ErrorCode: code, Errors: details})
}

// newValidator reports field errors by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// errBadRequest wraps body decoding and validation failures.
type errBadRequest struct {
	msg     string
	details []string
}

func (e *errBadRequest) Error() string { return e.msg }

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &errBadRequest{msg: fmt.Sprintf("invalid request body: %v", err)}
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
			}
			return &errBadRequest{msg: "validation failed", details: details}
		}
		return &errBadRequest{msg: err.Error()}
	}
	return nil
}

// handleError maps service errors to responses. Unexpected errors are
// logged and hidden from the client.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	var bad *errBadRequest
	switch {
	case errors.As(err, &bad):
		fail(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", bad.msg, bad.details...)
	case errors.Is(err, linkcheck.ErrNotFound):
		fail(w, http.StatusNotFound, "NOT_FOUND", notFound)
	case errors.Is(err, linkcheck.ErrDuplicateURL):
		fail(w, http.StatusBadRequest, "DUPLICATE_URL", "This URL has already been added to your account.")
	case errors.Is(err, linkcheck.ErrEmailTaken):
		fail(w, http.StatusConflict, "EMAIL_TAKEN", "This email is already registered.")
	case errors.Is(err, linkcheck.ErrInvalidURL),
		errors.Is(err, linkcheck.ErrInvalidPage),
		errors.Is(err, linkcheck.ErrInvalidPageSize),
		errors.Is(err, linkcheck.ErrInvalidStatus),
		errors.Is(err, linkcheck.ErrInvalidScore),
		errors.Is(err, linkcheck.ErrInvalidEmail):
		fail(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
	case r.Context().Err() != nil:
		// Client went away; nobody reads this.
		fail(w, http.StatusServiceUnavailable, "CANCELED", "request canceled")
	default:
		s.logger.Error("request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		fail(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

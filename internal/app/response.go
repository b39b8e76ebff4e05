package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"moodjournal/internal/auth"
	"moodjournal/internal/journal"
	"moodjournal/internal/rewards"
	"moodjournal/internal/storage"
	"moodjournal/internal/telegram"
	"moodjournal/internal/users"
)

const maxBodyBytes = 1 << 20

// envelope is the shape of every API response.
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respond(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

// errValidation marks request bodies rejected before reaching a service.
var errValidation = errors.New("validation failed")

// fail maps err onto a status and writes it. Unexpected errors are logged
// and hidden from the client.
func (a *Application) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError {
		a.requestLogger(r).Error("request_failed", zap.Error(err))
	} else {
		a.requestLogger(r).Debug("request_rejected", zap.Int("status", status), zap.Error(err))
	}
	respondError(w, status, message)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errValidation), errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, users.ErrInvalidCredentials):
		return http.StatusUnauthorized, users.ErrInvalidCredentials.Error()
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid or expired token"
	case errors.Is(err, journal.ErrForbidden):
		return http.StatusForbidden, "you do not have access to this log"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, "username or email already registered"
	case errors.Is(err, rewards.ErrNotLinked):
		return http.StatusBadRequest, "link your Telegram chat first"
	case errors.Is(err, rewards.ErrNoFeedback):
		return http.StatusNotFound, "no feedback to send yet"
	case errors.Is(err, telegram.ErrDisabled):
		return http.StatusServiceUnavailable, "telegram is not configured"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// decode reads a JSON body into dst and validates it.
func (a *Application) decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", errValidation)
		}
		return fmt.Errorf("%w: malformed JSON: %v", errValidation, err)
	}
	if err := a.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", errValidation, describe(err))
	}
	return nil
}

// describe turns validator errors into a short client message.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required", "required_without":
			parts = append(parts, field+" is required")
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of %s", field, fe.Param()))
		case "min":
			parts = append(parts, fmt.Sprintf("%s must be at least %s characters", field, fe.Param()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s is not a valid %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

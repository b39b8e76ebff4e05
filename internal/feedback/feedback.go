// Package feedback turns a daily log into supportive text. Generation is an
// external, best-effort capability: any failure yields the default payload.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"moodjournal/internal/calendar"
	"moodjournal/internal/metrics"
	"moodjournal/internal/storage"
)

// ErrDisabled is returned by a generator that has no credentials.
var ErrDisabled = errors.New("feedback generator disabled")

// Input is the context sent to the generator. It is stored verbatim as the
// LlmResponse message.
type Input struct {
	Fullname       string        `json:"fullname"`
	Interest       string        `json:"interest,omitempty"`
	Date           calendar.Date `json:"date"`
	Mood           storage.Mood  `json:"mood"`
	DayDescription string        `json:"day_description"`
}

// Payload is the generated feedback.
type Payload struct {
	WebMessage         string   `json:"webMessage"`
	TelegramMessage    string   `json:"telegramMessage"`
	Tags               []string `json:"tags"`
	Insight            string   `json:"insight"`
	MoodClassification string   `json:"moodClassification"`
}

// Generator produces feedback for one log.
type Generator interface {
	Generate(ctx context.Context, in Input) (Payload, error)
}

// Default is the payload used whenever generation fails.
func Default(in Input) Payload {
	name := in.Fullname
	if name == "" {
		name = "there"
	}
	mood := string(in.Mood)
	if mood == "" {
		mood = string(storage.MoodOkay)
	}
	return Payload{
		WebMessage: fmt.Sprintf(
			"Thank you for journaling today, %s. Every entry is a step toward understanding yourself a little better.",
			name),
		TelegramMessage: fmt.Sprintf(
			"Hi %s! Thanks for logging your mood today. Keep going, one day at a time.", name),
		Tags:               []string{},
		Insight:            "Regular reflection helps you notice patterns in how you feel.",
		MoodClassification: mood,
	}
}

// Service wraps a Generator with fallback and storage encoding.
type Service struct {
	gen    Generator
	logger *zap.Logger
}

// NewService creates a Service. A nil generator always yields the default.
func NewService(gen Generator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{gen: gen, logger: logger}
}

// Produce returns generated feedback, or the default when generation fails
// or returns an incomplete payload. The bool reports whether the default
// was used.
func (s *Service) Produce(ctx context.Context, in Input) (Payload, bool) {
	if s.gen == nil {
		metrics.FeedbackFallbacks.WithLabelValues("disabled").Inc()
		return Default(in), true
	}

	p, err := s.gen.Generate(ctx, in)
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, ErrDisabled):
			reason = "disabled"
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		case errors.Is(err, errMalformed):
			reason = "malformed"
		}
		metrics.FeedbackFallbacks.WithLabelValues(reason).Inc()
		s.logger.Warn("feedback_fallback", zap.String("reason", reason), zap.Error(err))
		return Default(in), true
	}

	def := Default(in)
	if strings.TrimSpace(p.WebMessage) == "" || strings.TrimSpace(p.TelegramMessage) == "" {
		metrics.FeedbackFallbacks.WithLabelValues("malformed").Inc()
		s.logger.Warn("feedback_fallback", zap.String("reason", "incomplete"))
		return def, true
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if !storage.Mood(p.MoodClassification).Valid() {
		p.MoodClassification = def.MoodClassification
	}
	return p, false
}

// Record builds the stored row for a log from its input and payload.
func Record(logID int64, in Input, p Payload) (*storage.LlmResponse, error) {
	message, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode feedback input: %w", err)
	}
	response, err := json.Marshal(struct {
		WebMessage      string `json:"webMessage"`
		TelegramMessage string `json:"telegramMessage"`
	}{p.WebMessage, p.TelegramMessage})
	if err != nil {
		return nil, fmt.Errorf("encode feedback response: %w", err)
	}
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	tagJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encode feedback tags: %w", err)
	}
	return &storage.LlmResponse{
		LogID:              logID,
		Message:            string(message),
		Response:           string(response),
		Tags:               string(tagJSON),
		Insight:            p.Insight,
		MoodClassification: p.MoodClassification,
	}, nil
}

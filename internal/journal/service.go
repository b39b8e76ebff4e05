// Package journal manages daily logs: the create-or-update of today's log,
// streak accounting, the log caches and the enrichment that follows each
// write.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"moodjournal/internal/cache"
	"moodjournal/internal/calendar"
	"moodjournal/internal/feedback"
	"moodjournal/internal/metrics"
	"moodjournal/internal/rewards"
	"moodjournal/internal/storage"
	"moodjournal/internal/worker"
)

// MaxDescriptionLength bounds day_description in characters.
const MaxDescriptionLength = 5000

// ErrForbidden is returned when a user touches another user's log.
var ErrForbidden = errors.New("log belongs to another user")

// MilestoneSender is the milestone trigger run after a streak grows.
type MilestoneSender interface {
	MaybeSendMilestone(ctx context.Context, userID int64) (rewards.MilestoneResult, error)
}

// Feedback is the generated feedback attached to a log view.
type Feedback struct {
	WebMessage         string    `json:"webMessage"`
	TelegramMessage    string    `json:"telegramMessage"`
	Tags               []string  `json:"tags"`
	Insight            string    `json:"insight"`
	MoodClassification string    `json:"mood_classification"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// LogView is a log as presented to clients.
type LogView struct {
	storage.DailyLog
	DisplayDate string    `json:"display_date,omitempty"`
	Feedback    *Feedback `json:"feedback"`
}

// SubmitResult is the outcome of SubmitLog.
type SubmitResult struct {
	Log     *LogView `json:"log"`
	Created bool     `json:"created"`
	Streak  int      `json:"streak"`
}

// Options tunes the service.
type Options struct {
	LogsTTL time.Duration
}

// Service implements the log lifecycle.
type Service struct {
	store      *storage.Store
	cache      *cache.Cache
	cal        *calendar.Calendar
	feedback   *feedback.Service
	milestones MilestoneSender
	dispatcher worker.Dispatcher
	locks      *userLocks
	opts       Options
	logger     *zap.Logger
}

// NewService creates a Service. Enrichment tasks are handed to dispatcher.
func NewService(
	store *storage.Store,
	c *cache.Cache,
	cal *calendar.Calendar,
	fb *feedback.Service,
	milestones MilestoneSender,
	dispatcher worker.Dispatcher,
	opts Options,
	logger *zap.Logger,
) *Service {
	if opts.LogsTTL <= 0 {
		opts.LogsTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dispatcher == nil {
		dispatcher = worker.Inline{Logger: logger}
	}
	return &Service{
		store:      store,
		cache:      c,
		cal:        cal,
		feedback:   fb,
		milestones: milestones,
		dispatcher: dispatcher,
		locks:      newUserLocks(),
		opts:       opts,
		logger:     logger,
	}
}

func userKeys(userID int64) []string {
	return append(cache.LogKeys(userID), cache.UserKey(userID))
}

func validateEntry(description string, mood storage.Mood) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return "", fmt.Errorf("%w: day_description is required", storage.ErrInvalidInput)
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return "", fmt.Errorf("%w: day_description exceeds %d characters", storage.ErrInvalidInput, MaxDescriptionLength)
	}
	if !mood.Valid() {
		return "", fmt.Errorf("%w: mood must be one of awesome, good, okay, bad, terrible", storage.ErrInvalidInput)
	}
	return description, nil
}

// SubmitLog creates today's log or updates it in place. The streak is only
// recomputed when the log is created. Feedback generation and the
// milestone check run afterwards as background tasks.
func (s *Service) SubmitLog(ctx context.Context, userID int64, description string, mood storage.Mood) (*SubmitResult, error) {
	description, err := validateEntry(description, mood)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	now := s.cal.Now()
	today := s.cal.DateOf(now)
	logTime := s.cal.ClockTime(now)

	var (
		result SubmitResult
		user   *storage.User
	)
	err = s.store.WithUserTx(ctx, userID, func(tx *storage.Tx) error {
		existing, err := tx.GetLogForDate(ctx, userID, today)
		switch {
		case err == nil:
			return s.updateToday(ctx, tx, existing, description, mood, logTime, &result, &user)
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}

		l := &storage.DailyLog{
			UserID:         userID,
			Date:           today,
			Time:           logTime,
			DayDescription: description,
			Mood:           mood,
		}
		inserted, err := tx.InsertLog(ctx, l)
		if err != nil {
			return err
		}
		if !inserted {
			// Another writer created today's log after our read.
			existing, err := tx.GetLogForDate(ctx, userID, today)
			if err != nil {
				return err
			}
			return s.updateToday(ctx, tx, existing, description, mood, logTime, &result, &user)
		}

		streak, err := s.creditStreak(ctx, tx, userID, today)
		if err != nil {
			return err
		}

		if user, err = tx.GetUserByID(ctx, userID); err != nil {
			return err
		}
		result = SubmitResult{Log: &LogView{DailyLog: *l}, Created: true, Streak: streak}
		return nil
	})
	if err != nil {
		metrics.LogsSubmitted.WithLabelValues("failed").Inc()
		return nil, err
	}

	s.cache.Invalidate(ctx, userKeys(userID)...)

	outcome := "updated"
	if result.Created {
		outcome = "created"
	}
	metrics.LogsSubmitted.WithLabelValues(outcome).Inc()
	s.logger.Info("log_submitted",
		zap.Int64("user_id", userID),
		zap.Int64("log_id", result.Log.ID),
		zap.String("outcome", outcome),
		zap.Int("streak", result.Streak))

	s.enrich(user, &result.Log.DailyLog, result.Created && rewards.IsMilestone(result.Streak))
	s.decorate(result.Log)
	return &result, nil
}

func (s *Service) updateToday(ctx context.Context, tx *storage.Tx, existing *storage.DailyLog, description string, mood storage.Mood, logTime string, result *SubmitResult, user **storage.User) error {
	updated, err := tx.UpdateLogContent(ctx, existing.ID, description, mood, logTime)
	if err != nil {
		return err
	}
	u, err := tx.GetUserByID(ctx, existing.UserID)
	if err != nil {
		return err
	}
	*user = u
	*result = SubmitResult{Log: &LogView{DailyLog: *updated}, Created: false, Streak: u.StreakCounter}
	return nil
}

// UpdateLog changes the content of one of the user's logs and regenerates
// its feedback. The streak is never touched.
func (s *Service) UpdateLog(ctx context.Context, userID, logID int64, description string, mood storage.Mood) (*LogView, error) {
	description, err := validateEntry(description, mood)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	existing, err := s.ownedLog(ctx, userID, logID)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateLogContent(ctx, logID, description, mood, existing.Time)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, cache.LogKeys(userID)...)

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("log_updated", zap.Int64("user_id", userID), zap.Int64("log_id", logID))
	s.enrich(user, updated, false)

	view := &LogView{DailyLog: *updated}
	s.decorate(view)
	return view, nil
}

func (s *Service) ownedLog(ctx context.Context, userID, logID int64) (*storage.DailyLog, error) {
	l, err := s.store.GetLog(ctx, logID)
	if err != nil {
		return nil, err
	}
	if l.UserID != userID {
		return nil, fmt.Errorf("%w: log %d", ErrForbidden, logID)
	}
	return l, nil
}

// GetLog returns one of the user's logs with its feedback.
func (s *Service) GetLog(ctx context.Context, userID, logID int64) (*LogView, error) {
	l, err := s.ownedLog(ctx, userID, logID)
	if err != nil {
		return nil, err
	}
	view := &LogView{DailyLog: *l}
	r, err := s.store.GetLlmResponseByLog(ctx, logID)
	switch {
	case err == nil:
		view.Feedback = feedbackView(r)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}
	s.decorate(view)
	return view, nil
}

// ListLogs returns every log of the user, newest first, through the cache.
func (s *Service) ListLogs(ctx context.Context, userID int64) ([]LogView, error) {
	key := cache.UserLogsKey(userID)

	var views []LogView
	if !s.cache.GetJSON(ctx, key, &views) {
		logs, err := s.store.ListLogs(ctx, userID)
		if err != nil {
			return nil, err
		}
		responses, err := s.store.ListLlmResponses(ctx, userID)
		if err != nil {
			return nil, err
		}

		views = make([]LogView, 0, len(logs))
		for _, l := range logs {
			v := LogView{DailyLog: l}
			if r, ok := responses[l.ID]; ok {
				v.Feedback = feedbackView(&r)
			}
			views = append(views, v)
		}
		s.cache.SetJSON(ctx, key, views, s.opts.LogsTTL)
	}

	if views == nil {
		views = []LogView{}
	}
	for i := range views {
		s.decorate(&views[i])
	}
	return views, nil
}

// TodayLog returns the user's log for the current organisation day through
// the cache. A cached entry from an earlier day is ignored.
func (s *Service) TodayLog(ctx context.Context, userID int64) (*LogView, error) {
	key := cache.TodayLogKey(userID)
	today := s.cal.Today()

	var view LogView
	if s.cache.GetJSON(ctx, key, &view) && view.Date == today {
		s.decorate(&view)
		return &view, nil
	}

	l, err := s.store.GetLogForDate(ctx, userID, today)
	if err != nil {
		return nil, err
	}
	view = LogView{DailyLog: *l}
	r, err := s.store.GetLlmResponseByLog(ctx, l.ID)
	switch {
	case err == nil:
		view.Feedback = feedbackView(r)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}
	s.cache.SetJSON(ctx, key, view, s.opts.LogsTTL)

	s.decorate(&view)
	return &view, nil
}

// DeleteLog removes one of the user's logs and its feedback.
func (s *Service) DeleteLog(ctx context.Context, userID, logID int64) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	if _, err := s.ownedLog(ctx, userID, logID); err != nil {
		return err
	}
	if err := s.store.DeleteLog(ctx, logID); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, cache.LogKeys(userID)...)

	s.logger.Info("log_deleted", zap.Int64("user_id", userID), zap.Int64("log_id", logID))
	return nil
}

// decorate fills the display-only fields. They are derived on every read
// so cached and fresh views look the same.
func (s *Service) decorate(v *LogView) {
	v.DisplayDate = v.Date.Format("Monday, 2 January 2006")
}

func feedbackView(r *storage.LlmResponse) *Feedback {
	f := &Feedback{
		Insight:            r.Insight,
		MoodClassification: r.MoodClassification,
		Tags:               []string{},
		UpdatedAt:          r.UpdatedAt,
	}
	var msg struct {
		WebMessage      string `json:"webMessage"`
		TelegramMessage string `json:"telegramMessage"`
	}
	if err := json.Unmarshal([]byte(r.Response), &msg); err == nil {
		f.WebMessage = msg.WebMessage
		f.TelegramMessage = msg.TelegramMessage
	}
	_ = json.Unmarshal([]byte(r.Tags), &f.Tags)
	if f.Tags == nil {
		f.Tags = []string{}
	}
	return f
}

package journal

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"moodjournal/internal/cache"
	"moodjournal/internal/feedback"
	"moodjournal/internal/storage"
)

const (
	taskFeedback  = "generate_feedback"
	taskMilestone = "send_milestone"
)

// feedbackTask generates and stores the feedback of one log version.
type feedbackTask struct {
	svc   *Service
	input feedback.Input
	logID int64
	user  int64
}

func (t *feedbackTask) Type() string { return taskFeedback }

func (t *feedbackTask) Process(ctx context.Context) error {
	payload, _ := t.svc.feedback.Produce(ctx, t.input)

	current, err := t.svc.store.GetLog(ctx, t.logID)
	if errors.Is(err, storage.ErrNotFound) {
		t.svc.logger.Debug("feedback_dropped_deleted_log", zap.Int64("log_id", t.logID))
		return nil
	}
	if err != nil {
		return err
	}
	// A newer submission has its own task queued; let it write.
	if current.DayDescription != t.input.DayDescription || current.Mood != t.input.Mood {
		t.svc.logger.Debug("feedback_dropped_stale", zap.Int64("log_id", t.logID))
		return nil
	}

	row, err := feedback.Record(t.logID, t.input, payload)
	if err != nil {
		return err
	}
	if err := t.svc.store.UpsertLlmResponse(ctx, row); err != nil {
		return err
	}
	t.svc.cache.Invalidate(ctx, cache.LogKeys(t.user)...)
	return nil
}

// milestoneTask runs the milestone trigger after a streak grew.
type milestoneTask struct {
	svc  *Service
	user int64
}

func (t *milestoneTask) Type() string { return taskMilestone }

func (t *milestoneTask) Process(ctx context.Context) error {
	res, err := t.svc.milestones.MaybeSendMilestone(ctx, t.user)
	if err != nil {
		return err
	}
	if res.Sent {
		t.svc.logger.Info("milestone_triggered", zap.Int64("user_id", t.user), zap.Int("milestone", res.Milestone))
	}
	return nil
}

// enrich dispatches the best-effort work that follows a log write.
func (s *Service) enrich(u *storage.User, l *storage.DailyLog, milestone bool) {
	if s.feedback != nil {
		task := &feedbackTask{
			svc:   s,
			logID: l.ID,
			user:  l.UserID,
			input: feedback.Input{
				Fullname:       u.DisplayName(),
				Interest:       u.Interest,
				Date:           l.Date,
				Mood:           l.Mood,
				DayDescription: l.DayDescription,
			},
		}
		if !s.dispatcher.Submit(task) {
			s.logger.Warn("feedback_not_dispatched", zap.Int64("log_id", l.ID))
		}
	}

	if milestone && s.milestones != nil {
		if !s.dispatcher.Submit(&milestoneTask{svc: s, user: l.UserID}) {
			s.logger.Warn("milestone_not_dispatched", zap.Int64("user_id", l.UserID))
		}
	}
}

// Package rewards resolves streak rewards and delivers user-facing Telegram
// messages, including the once-per-milestone reward notification.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"moodjournal/internal/feedback"
	"moodjournal/internal/metrics"
	"moodjournal/internal/storage"
	"moodjournal/internal/telegram"
)

// MilestoneInterval is the streak length between milestones.
const MilestoneInterval = 7

var (
	// ErrNotLinked is returned when a message is addressed to a user
	// without a Telegram chat.
	ErrNotLinked = errors.New("telegram chat not linked")
	// ErrNoFeedback is returned by SendLatestFeedback when the user has
	// no generated feedback yet.
	ErrNoFeedback = errors.New("no feedback to send")
)

// IsMilestone reports whether a streak value earns a milestone message.
func IsMilestone(streak int) bool {
	return streak > 0 && streak%MilestoneInterval == 0
}

// MilestoneResult is the outcome of MaybeSendMilestone.
type MilestoneResult struct {
	Sent      bool            `json:"sent"`
	Milestone int             `json:"milestone,omitempty"`
	Reward    *storage.Reward `json:"reward"`
}

// UserRewards summarises a user's progress through the catalog.
type UserRewards struct {
	StreakCounter int                             `json:"streak_counter"`
	Unlocked      []storage.Reward                `json:"unlocked"`
	Next          *storage.Reward                 `json:"next"`
	DaysToNext    int                             `json:"days_to_next,omitempty"`
	Milestones    []storage.MilestoneNotification `json:"milestones"`
}

// Service implements reward lookups and message delivery.
type Service struct {
	store    *storage.Store
	notifier telegram.Notifier
	timeout  time.Duration
	logger   *zap.Logger
}

// NewService creates a Service. timeout bounds each notifier call.
func NewService(store *storage.Store, notifier telegram.Notifier, timeout time.Duration, logger *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, notifier: notifier, timeout: timeout, logger: logger}
}

// MilestoneMessage composes the milestone text. It always contains
// "<streak>-day streak milestone".
func MilestoneMessage(name string, streak int, reward *storage.Reward) string {
	if reward == nil {
		return fmt.Sprintf("Congratulations %s! You reached a %d-day streak milestone. Keep journaling every day!",
			name, streak)
	}
	return fmt.Sprintf("Congratulations %s! You reached a %d-day streak milestone and unlocked %q.",
		name, streak, reward.Title)
}

// MaybeSendMilestone sends the milestone message for the user's current
// streak at most once per (user, streak). Users without a linked chat or
// off a milestone are a no-op. A failed send releases the claim so a later
// call can retry.
func (s *Service) MaybeSendMilestone(ctx context.Context, userID int64) (MilestoneResult, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return MilestoneResult{}, err
	}

	streak := u.StreakCounter
	if !IsMilestone(streak) {
		return MilestoneResult{}, nil
	}
	result := MilestoneResult{Milestone: streak}

	if u.TelegramChatID == nil {
		metrics.MilestonesSent.WithLabelValues("skipped").Inc()
		s.logger.Debug("milestone_skipped_unlinked", zap.Int64("user_id", userID), zap.Int("milestone", streak))
		return result, nil
	}

	reward, err := s.store.HighestRewardAtOrBelow(ctx, streak)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return result, err
	}
	var rewardID *int64
	if reward != nil {
		rewardID = &reward.ID
	}

	claimed, err := s.store.ClaimMilestone(ctx, userID, streak, rewardID)
	if err != nil {
		return result, err
	}
	if !claimed {
		metrics.MilestonesSent.WithLabelValues("duplicate").Inc()
		s.logger.Debug("milestone_already_sent", zap.Int64("user_id", userID), zap.Int("milestone", streak))
		return result, nil
	}
	result.Reward = reward

	message := MilestoneMessage(u.DisplayName(), streak, reward)
	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	if reward != nil && reward.ImageURL != "" {
		err = s.notifier.SendPhoto(sendCtx, *u.TelegramChatID, reward.ImageURL, message)
	} else {
		err = s.notifier.SendMessage(sendCtx, *u.TelegramChatID, message)
	}
	cancel()

	if err != nil {
		metrics.MilestonesSent.WithLabelValues("failed").Inc()
		if relErr := s.store.ReleaseMilestone(context.WithoutCancel(ctx), userID, streak); relErr != nil {
			s.logger.Error("milestone_release_failed", zap.Int64("user_id", userID), zap.Int("milestone", streak), zap.Error(relErr))
		}
		return MilestoneResult{Milestone: streak}, fmt.Errorf("failed to send milestone %d to user %d: %w", streak, userID, err)
	}

	if err := s.store.AppendTelegramLog(ctx, userID, message); err != nil {
		s.logger.Error("telegram_log_append_failed", zap.Int64("user_id", userID), zap.Error(err))
	}

	metrics.MilestonesSent.WithLabelValues("sent").Inc()
	s.logger.Info("milestone_sent", zap.Int64("user_id", userID), zap.Int("milestone", streak), zap.Bool("reward", reward != nil))
	result.Sent = true
	return result, nil
}

// Catalog returns every reward ordered by required streak.
func (s *Service) Catalog(ctx context.Context) ([]storage.Reward, error) {
	return s.store.ListRewards(ctx)
}

// UserRewards returns the rewards unlocked by the user's current streak and
// the next tier to reach.
func (s *Service) UserRewards(ctx context.Context, userID int64) (*UserRewards, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	catalog, err := s.store.ListRewards(ctx)
	if err != nil {
		return nil, err
	}
	milestones, err := s.store.ListMilestones(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := &UserRewards{
		StreakCounter: u.StreakCounter,
		Unlocked:      []storage.Reward{},
		Milestones:    milestones,
	}
	for i := range catalog {
		if catalog[i].RequiredStreak <= u.StreakCounter {
			out.Unlocked = append(out.Unlocked, catalog[i])
			continue
		}
		next := catalog[i]
		out.Next = &next
		out.DaysToNext = next.RequiredStreak - u.StreakCounter
		break
	}
	return out, nil
}

// Notify sends text to the user's chat and records it in the Telegram log.
func (s *Service) Notify(ctx context.Context, u *storage.User, text string) error {
	if u.TelegramChatID == nil {
		return ErrNotLinked
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.notifier.SendMessage(sendCtx, *u.TelegramChatID, text)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to notify user %d: %w", u.ID, err)
	}

	if err := s.store.AppendTelegramLog(ctx, u.ID, text); err != nil {
		s.logger.Error("telegram_log_append_failed", zap.Int64("user_id", u.ID), zap.Error(err))
	}
	return nil
}

// SendToUser sends a free-form message to the user's own chat.
func (s *Service) SendToUser(ctx context.Context, userID int64, text string) error {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.Notify(ctx, u, text)
}

// SendLatestFeedback sends the Telegram message of the user's most recent
// feedback and returns it.
func (s *Service) SendLatestFeedback(ctx context.Context, userID int64) (string, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.TelegramChatID == nil {
		return "", ErrNotLinked
	}

	latest, err := s.store.GetLatestLlmResponse(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNoFeedback
	}
	if err != nil {
		return "", err
	}

	text := feedback.TelegramMessageOf(latest.Response)
	if text == "" {
		return "", ErrNoFeedback
	}
	if err := s.Notify(ctx, u, text); err != nil {
		return "", err
	}
	return text, nil
}

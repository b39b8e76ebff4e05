package journal

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"moodjournal/internal/calendar"
	"moodjournal/internal/metrics"
	"moodjournal/internal/storage"
)

// NextStreak returns the streak after the first log of today, given the
// current counter and the date of the most recent earlier log.
//
// No earlier log starts a streak of 1. A log yesterday extends it by one;
// any larger gap resets it to 1.
func NextStreak(current int, last *calendar.Date, today calendar.Date) int {
	if last == nil || last.IsZero() {
		return 1
	}
	if calendar.DaysBetween(*last, today) == 1 {
		return current + 1
	}
	return 1
}

// streakStore is satisfied by both *storage.Store and *storage.Tx.
type streakStore interface {
	GetUserByID(ctx context.Context, id int64) (*storage.User, error)
	GetLogForDate(ctx context.Context, userID int64, date calendar.Date) (*storage.DailyLog, error)
	GetLatestLogBefore(ctx context.Context, userID int64, date calendar.Date) (*storage.DailyLog, error)
	SetStreak(ctx context.Context, id int64, streak int, on calendar.Date) error
}

// updateStreak recomputes and persists the user's streak for today. When
// today already has a log the stored counter is returned unchanged.
func (s *Service) updateStreak(ctx context.Context, q streakStore, userID int64, today calendar.Date) (int, error) {
	if _, err := q.GetLogForDate(ctx, userID, today); err == nil {
		u, err := q.GetUserByID(ctx, userID)
		if err != nil {
			return 0, err
		}
		return u.StreakCounter, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return 0, err
	}
	return s.creditStreak(ctx, q, userID, today)
}

// creditStreak applies today's log to the streak. A day is credited at most
// once, so deleting and re-creating today's log leaves the counter alone.
func (s *Service) creditStreak(ctx context.Context, q streakStore, userID int64, today calendar.Date) (int, error) {
	u, err := q.GetUserByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if u.StreakDate == today {
		return u.StreakCounter, nil
	}

	var last *calendar.Date
	prev, err := q.GetLatestLogBefore(ctx, userID, today)
	switch {
	case err == nil:
		last = &prev.Date
	case !errors.Is(err, storage.ErrNotFound):
		return 0, err
	}

	streak := NextStreak(u.StreakCounter, last, today)
	if streak == 1 && u.StreakCounter > 0 {
		metrics.StreakResets.Inc()
		s.logger.Info("streak_reset", zap.Int64("user_id", userID), zap.Int("previous", u.StreakCounter))
	}
	if err := q.SetStreak(ctx, userID, streak, today); err != nil {
		return 0, err
	}
	return streak, nil
}

// UpdateStreak recomputes the user's streak for the current organisation
// day and returns it.
func (s *Service) UpdateStreak(ctx context.Context, userID int64) (int, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	today := s.cal.Today()
	var streak int
	err := s.store.WithUserTx(ctx, userID, func(tx *storage.Tx) error {
		var err error
		streak, err = s.updateStreak(ctx, tx, userID, today)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.cache.Invalidate(ctx, userKeys(userID)...)
	return streak, nil
}

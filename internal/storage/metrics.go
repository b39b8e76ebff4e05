package storage

import (
	"context"
	"fmt"
	"time"

	"moodjournal/internal/calendar"
)

// Metrics represents system-wide counts
type Metrics struct {
	TotalUsers     int64     `db:"total_users" json:"total_users"`
	LoggedInToday  int64     `db:"logged_in_today" json:"logged_in_today"`
	LinkedTelegram int64     `db:"linked_telegram" json:"linked_telegram"`
	TotalLogs      int64     `json:"total_logs"`
	LogsToday      int64     `json:"logs_today"`
	CollectedAt    time.Time `json:"collected_at"`
}

// UserMetrics represents a single user's journaling history
type UserMetrics struct {
	UserID        int64          `json:"user_id"`
	TotalLogs     int64          `json:"total_logs"`
	MoodCounts    map[Mood]int64 `json:"mood_counts"`
	FirstLogDate  calendar.Date  `json:"first_log_date"`
	LastLogDate   calendar.Date  `json:"last_log_date"`
	StreakCounter int            `json:"streak_counter"`
	Milestones    int64          `json:"milestones"`
}

// GetMetrics retrieves system-wide counts. today selects the logs counted
// in LogsToday.
func (q queries) GetMetrics(ctx context.Context, today calendar.Date) (*Metrics, error) {
	metrics := &Metrics{
		CollectedAt: time.Now(),
	}

	err := q.get(ctx, metrics, `
		SELECT
			COUNT(*) AS total_users,
			COUNT(CASE WHEN logged_in_today THEN 1 END) AS logged_in_today,
			COUNT(telegram_chat_id) AS linked_telegram
		FROM users`)
	if err != nil {
		return nil, fmt.Errorf("failed to get user metrics: %w", err)
	}

	if err := q.get(ctx, &metrics.TotalLogs, `SELECT COUNT(*) FROM daily_logs`); err != nil {
		return nil, fmt.Errorf("failed to get log count: %w", err)
	}

	if err := q.get(ctx, &metrics.LogsToday, `SELECT COUNT(*) FROM daily_logs WHERE log_date = ?`, today); err != nil {
		return nil, fmt.Errorf("failed to get today's log count: %w", err)
	}

	return metrics, nil
}

// GetUserMetrics retrieves the journaling history of one user
func (q queries) GetUserMetrics(ctx context.Context, userID int64) (*UserMetrics, error) {
	user, err := q.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	metrics := &UserMetrics{
		UserID:        userID,
		MoodCounts:    make(map[Mood]int64, len(Moods)),
		StreakCounter: user.StreakCounter,
	}
	for _, m := range Moods {
		metrics.MoodCounts[m] = 0
	}

	var counts []struct {
		Mood  Mood  `db:"mood"`
		Count int64 `db:"n"`
	}
	err = q.selectAll(ctx, &counts,
		`SELECT mood, COUNT(*) AS n FROM daily_logs WHERE user_id = ? GROUP BY mood`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get mood counts: %w", err)
	}
	for _, c := range counts {
		metrics.MoodCounts[c.Mood] = c.Count
		metrics.TotalLogs += c.Count
	}

	if metrics.TotalLogs > 0 {
		var bounds struct {
			First calendar.Date `db:"first_date"`
			Last  calendar.Date `db:"last_date"`
		}
		err = q.get(ctx, &bounds,
			`SELECT MIN(log_date) AS first_date, MAX(log_date) AS last_date FROM daily_logs WHERE user_id = ?`, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get log date range: %w", err)
		}
		metrics.FirstLogDate = bounds.First
		metrics.LastLogDate = bounds.Last
	}

	if err := q.get(ctx, &metrics.Milestones,
		`SELECT COUNT(*) FROM milestone_notifications WHERE user_id = ?`, userID); err != nil {
		return nil, fmt.Errorf("failed to get milestone count: %w", err)
	}

	return metrics, nil
}

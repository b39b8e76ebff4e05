package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"moodjournal/internal/calendar"
)

const logColumns = `log_id, user_id, log_date, log_time, day_description, mood, created_at, updated_at`

func validateLog(l *DailyLog) error {
	if l == nil {
		return fmt.Errorf("%w: log cannot be nil", ErrInvalidInput)
	}
	if l.UserID <= 0 {
		return fmt.Errorf("%w: user ID must be positive", ErrInvalidInput)
	}
	if l.Date.IsZero() {
		return fmt.Errorf("%w: log date cannot be empty", ErrInvalidInput)
	}
	if strings.TrimSpace(l.DayDescription) == "" {
		return fmt.Errorf("%w: day description cannot be empty", ErrInvalidInput)
	}
	if !l.Mood.Valid() {
		return fmt.Errorf("%w: unknown mood %q", ErrInvalidInput, l.Mood)
	}
	return nil
}

// InsertLog inserts the log for (user, date) unless one already exists.
// It reports whether a row was inserted; on false l is left untouched.
func (q queries) InsertLog(ctx context.Context, l *DailyLog) (bool, error) {
	if err := validateLog(l); err != nil {
		return false, err
	}

	query := `
		INSERT INTO daily_logs (user_id, log_date, log_time, day_description, mood)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, log_date) DO NOTHING
		RETURNING log_id`
	var id int64
	err := q.get(ctx, &id, query, l.UserID, l.Date, l.Time, l.DayDescription, l.Mood)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert log: %w", err)
	}

	created, err := q.GetLog(ctx, id)
	if err != nil {
		return false, err
	}
	*l = *created
	return true, nil
}

// UpdateLogContent overwrites the description, mood and time of a log.
func (q queries) UpdateLogContent(ctx context.Context, logID int64, description string, mood Mood, logTime string) (*DailyLog, error) {
	if !mood.Valid() {
		return nil, fmt.Errorf("%w: unknown mood %q", ErrInvalidInput, mood)
	}

	result, err := q.exec(ctx, `
		UPDATE daily_logs
		SET day_description = ?, mood = ?, log_time = ?, updated_at = CURRENT_TIMESTAMP
		WHERE log_id = ?`,
		description, mood, logTime, logID)
	if err != nil {
		return nil, fmt.Errorf("failed to update log: %w", err)
	}
	if err := checkAffected(result, fmt.Sprintf("log %d", logID)); err != nil {
		return nil, err
	}
	return q.GetLog(ctx, logID)
}

// GetLog retrieves a log by id.
func (q queries) GetLog(ctx context.Context, logID int64) (*DailyLog, error) {
	var l DailyLog
	if err := q.get(ctx, &l, `SELECT `+logColumns+` FROM daily_logs WHERE log_id = ?`, logID); err != nil {
		return nil, notFound(err, "log %d", logID)
	}
	return &l, nil
}

// GetLogForDate retrieves a user's log for one calendar date.
func (q queries) GetLogForDate(ctx context.Context, userID int64, date calendar.Date) (*DailyLog, error) {
	var l DailyLog
	err := q.get(ctx, &l,
		`SELECT `+logColumns+` FROM daily_logs WHERE user_id = ? AND log_date = ?`, userID, date)
	if err != nil {
		return nil, notFound(err, "log of user %d on %s", userID, date)
	}
	return &l, nil
}

// GetLatestLogBefore retrieves the user's most recent log strictly before date.
func (q queries) GetLatestLogBefore(ctx context.Context, userID int64, date calendar.Date) (*DailyLog, error) {
	var l DailyLog
	query := `
		SELECT ` + logColumns + `
		FROM daily_logs
		WHERE user_id = ? AND log_date < ?
		ORDER BY log_date DESC
		LIMIT 1`
	if err := q.get(ctx, &l, query, userID, date); err != nil {
		return nil, notFound(err, "log of user %d before %s", userID, date)
	}
	return &l, nil
}

// ListLogs returns all of a user's logs, newest first.
func (q queries) ListLogs(ctx context.Context, userID int64) ([]DailyLog, error) {
	logs := []DailyLog{}
	query := `SELECT ` + logColumns + ` FROM daily_logs WHERE user_id = ? ORDER BY log_date DESC`
	if err := q.selectAll(ctx, &logs, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	return logs, nil
}

// DeleteLog removes a log and its feedback.
func (q queries) DeleteLog(ctx context.Context, logID int64) error {
	if _, err := q.exec(ctx, `DELETE FROM llm_responses WHERE log_id = ?`, logID); err != nil {
		return fmt.Errorf("failed to delete log feedback: %w", err)
	}
	result, err := q.exec(ctx, `DELETE FROM daily_logs WHERE log_id = ?`, logID)
	if err != nil {
		return fmt.Errorf("failed to delete log: %w", err)
	}
	return checkAffected(result, fmt.Sprintf("log %d", logID))
}

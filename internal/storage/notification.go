package storage

import (
	"context"
	"fmt"
)

// AppendTelegramLog records a message sent to a user's chat.
func (q queries) AppendTelegramLog(ctx context.Context, userID int64, content string) error {
	if userID <= 0 {
		return fmt.Errorf("%w: user ID must be positive", ErrInvalidInput)
	}
	if _, err := q.exec(ctx,
		`INSERT INTO telegram_logs (user_id, message_content) VALUES (?, ?)`, userID, content); err != nil {
		return fmt.Errorf("failed to append telegram log: %w", err)
	}
	return nil
}

// ListTelegramLogs returns a user's sent messages, oldest first.
func (q queries) ListTelegramLogs(ctx context.Context, userID int64) ([]TelegramLog, error) {
	logs := []TelegramLog{}
	query := `
		SELECT id, user_id, message_content, created_at
		FROM telegram_logs
		WHERE user_id = ?
		ORDER BY id`
	if err := q.selectAll(ctx, &logs, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list telegram logs: %w", err)
	}
	return logs, nil
}

// ClaimMilestone records the (user, milestone) pair. It returns false when
// the pair was already claimed.
func (q queries) ClaimMilestone(ctx context.Context, userID int64, milestone int, rewardID *int64) (bool, error) {
	if milestone <= 0 {
		return false, fmt.Errorf("%w: milestone must be positive", ErrInvalidInput)
	}

	result, err := q.exec(ctx, `
		INSERT INTO milestone_notifications (user_id, milestone, reward_id)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, milestone) DO NOTHING`,
		userID, milestone, rewardID)
	if err != nil {
		return false, fmt.Errorf("failed to claim milestone: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// ReleaseMilestone drops a claim so the milestone can be sent again.
func (q queries) ReleaseMilestone(ctx context.Context, userID int64, milestone int) error {
	if _, err := q.exec(ctx,
		`DELETE FROM milestone_notifications WHERE user_id = ? AND milestone = ?`, userID, milestone); err != nil {
		return fmt.Errorf("failed to release milestone: %w", err)
	}
	return nil
}

// ListMilestones returns the milestones claimed for a user.
func (q queries) ListMilestones(ctx context.Context, userID int64) ([]MilestoneNotification, error) {
	milestones := []MilestoneNotification{}
	query := `
		SELECT user_id, milestone, reward_id, created_at
		FROM milestone_notifications
		WHERE user_id = ?
		ORDER BY milestone`
	if err := q.selectAll(ctx, &milestones, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list milestones: %w", err)
	}
	return milestones, nil
}

package storage

import (
	"context"
	"fmt"
)

const rewardColumns = `reward_id, required_streak, title, image_url`

// ListRewards returns the catalog ordered by required streak.
func (q queries) ListRewards(ctx context.Context) ([]Reward, error) {
	rewards := []Reward{}
	if err := q.selectAll(ctx, &rewards, `SELECT `+rewardColumns+` FROM rewards ORDER BY required_streak`); err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	return rewards, nil
}

// HighestRewardAtOrBelow returns the highest tier with required_streak <= streak.
func (q queries) HighestRewardAtOrBelow(ctx context.Context, streak int) (*Reward, error) {
	var r Reward
	query := `
		SELECT ` + rewardColumns + `
		FROM rewards
		WHERE required_streak <= ?
		ORDER BY required_streak DESC
		LIMIT 1`
	if err := q.get(ctx, &r, query, streak); err != nil {
		return nil, notFound(err, "reward for streak %d", streak)
	}
	return &r, nil
}

// NextRewardAbove returns the lowest tier with required_streak > streak.
func (q queries) NextRewardAbove(ctx context.Context, streak int) (*Reward, error) {
	var r Reward
	query := `
		SELECT ` + rewardColumns + `
		FROM rewards
		WHERE required_streak > ?
		ORDER BY required_streak
		LIMIT 1`
	if err := q.get(ctx, &r, query, streak); err != nil {
		return nil, notFound(err, "reward above streak %d", streak)
	}
	return &r, nil
}

// CreateReward adds a catalog entry.
func (q queries) CreateReward(ctx context.Context, r *Reward) error {
	if r == nil || r.RequiredStreak <= 0 || r.Title == "" {
		return fmt.Errorf("%w: reward needs a positive streak and a title", ErrInvalidInput)
	}
	err := q.get(ctx, r,
		`INSERT INTO rewards (required_streak, title, image_url) VALUES (?, ?, ?) RETURNING reward_id`,
		r.RequiredStreak, r.Title, r.ImageURL)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: reward for streak %d exists", ErrConflict, r.RequiredStreak)
		}
		return fmt.Errorf("failed to create reward: %w", err)
	}
	return nil
}

// DeleteReward removes a catalog entry.
func (q queries) DeleteReward(ctx context.Context, rewardID int64) error {
	if _, err := q.exec(ctx, `UPDATE milestone_notifications SET reward_id = NULL WHERE reward_id = ?`, rewardID); err != nil {
		return fmt.Errorf("failed to detach reward: %w", err)
	}
	result, err := q.exec(ctx, `DELETE FROM rewards WHERE reward_id = ?`, rewardID)
	if err != nil {
		return fmt.Errorf("failed to delete reward: %w", err)
	}
	return checkAffected(result, fmt.Sprintf("reward %d", rewardID))
}

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ClaimMilestone(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, store, "gina")

	reward, err := store.HighestRewardAtOrBelow(ctx, 7)
	require.NoError(t, err)

	claimed, err := store.ClaimMilestone(ctx, u.ID, 7, &reward.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.ClaimMilestone(ctx, u.ID, 7, &reward.ID)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim of the same milestone is rejected")

	claimed, err = store.ClaimMilestone(ctx, u.ID, 14, nil)
	require.NoError(t, err)
	assert.True(t, claimed)

	milestones, err := store.ListMilestones(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, milestones, 2)
	require.NotNil(t, milestones[0].RewardID)
	assert.Equal(t, reward.ID, *milestones[0].RewardID)
	assert.Nil(t, milestones[1].RewardID)

	require.NoError(t, store.ReleaseMilestone(ctx, u.ID, 7))
	claimed, err = store.ClaimMilestone(ctx, u.ID, 7, nil)
	require.NoError(t, err)
	assert.True(t, claimed, "released milestone can be claimed again")

	_, err = store.ClaimMilestone(ctx, u.ID, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStore_TelegramLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, store, "hank")

	require.NoError(t, store.AppendTelegramLog(ctx, u.ID, "first"))
	require.NoError(t, store.AppendTelegramLog(ctx, u.ID, "second"))

	logs, err := store.ListTelegramLogs(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "first", logs[0].MessageContent)
	assert.Equal(t, "second", logs[1].MessageContent)

	assert.ErrorIs(t, store.AppendTelegramLog(ctx, 0, "x"), ErrInvalidInput)
}

func TestStore_Rewards(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		streak   int
		wantTier int
		wantNext int
	}{
		{streak: 3, wantTier: 0, wantNext: 7},
		{streak: 7, wantTier: 7, wantNext: 14},
		{streak: 21, wantTier: 14, wantNext: 30},
		{streak: 100, wantTier: 100, wantNext: 0},
	}
	for _, tt := range tests {
		tier, err := store.HighestRewardAtOrBelow(ctx, tt.streak)
		if tt.wantTier == 0 {
			assert.ErrorIs(t, err, ErrNotFound)
		} else {
			require.NoError(t, err)
			assert.Equal(t, tt.wantTier, tier.RequiredStreak)
		}

		next, err := store.NextRewardAbove(ctx, tt.streak)
		if tt.wantNext == 0 {
			assert.ErrorIs(t, err, ErrNotFound)
		} else {
			require.NoError(t, err)
			assert.Equal(t, tt.wantNext, next.RequiredStreak)
		}
	}

	extra := &Reward{RequiredStreak: 365, Title: "Year of Calm"}
	require.NoError(t, store.CreateReward(ctx, extra))
	assert.Greater(t, extra.ID, int64(0))
	assert.ErrorIs(t, store.CreateReward(ctx, &Reward{RequiredStreak: 365, Title: "dup"}), ErrConflict)
	assert.ErrorIs(t, store.CreateReward(ctx, &Reward{Title: "zero"}), ErrInvalidInput)

	require.NoError(t, store.DeleteReward(ctx, extra.ID))
	assert.ErrorIs(t, store.DeleteReward(ctx, extra.ID), ErrNotFound)
}

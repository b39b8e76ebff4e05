package rewards

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moodjournal/internal/calendar"
	"moodjournal/internal/storage"
)

type sent struct {
	chatID  int64
	text    string
	photo   string
	isPhoto bool
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeNotifier) SendMessage(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{chatID: chatID, text: text})
	return nil
}

func (f *fakeNotifier) SendPhoto(_ context.Context, chatID int64, imageURL, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{chatID: chatID, text: caption, photo: imageURL, isPhoto: true})
	return nil
}

func (f *fakeNotifier) Sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func (f *fakeNotifier) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newTestService(t *testing.T) (*Service, *storage.Store, *fakeNotifier) {
	t.Helper()
	cfg := storage.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "rewards.db")
	store, err := storage.Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	notifier := &fakeNotifier{}
	return NewService(store, notifier, time.Second, nil), store, notifier
}

func newUser(t *testing.T, store *storage.Store, username string, streak int, chatID *int64) *storage.User {
	t.Helper()
	ctx := context.Background()
	u := &storage.User{Username: username, Email: username + "@example.com", PasswordHash: "hash", Fullname: "Test " + username}
	require.NoError(t, store.CreateUser(ctx, u))
	require.NoError(t, store.SetStreak(ctx, u.ID, streak, calendar.Date{}))
	if chatID != nil {
		require.NoError(t, store.SetTelegramChatID(ctx, u.ID, chatID))
	}
	return u
}

func chat(id int64) *int64 { return &id }

func mustDate(s string) calendar.Date {
	d, err := calendar.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestIsMilestone(t *testing.T) {
	for streak, want := range map[int]bool{0: false, 1: false, 6: false, 7: true, 13: false, 14: true, 21: true, -7: false} {
		assert.Equal(t, want, IsMilestone(streak), "streak %d", streak)
	}
}

func TestMaybeSendMilestone_NoOp(t *testing.T) {
	svc, store, notifier := newTestService(t)
	ctx := context.Background()

	for _, tc := range []struct {
		name     string
		username string
		streak   int
		chat     *int64
	}{
		{"zero streak", "zero", 0, chat(1)},
		{"not a multiple of seven", "six", 6, chat(2)},
		{"unlinked chat", "unlinked", 7, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			u := newUser(t, store, tc.username, tc.streak, tc.chat)
			res, err := svc.MaybeSendMilestone(ctx, u.ID)
			require.NoError(t, err)
			assert.False(t, res.Sent)

			claims, err := store.ListMilestones(ctx, u.ID)
			require.NoError(t, err)
			assert.Empty(t, claims)
		})
	}
	assert.Empty(t, notifier.Sent())
}

func TestMaybeSendMilestone_Idempotent(t *testing.T) {
	svc, store, notifier := newTestService(t)
	ctx := context.Background()
	u := newUser(t, store, "dewi", 7, chat(4242))

	first, err := svc.MaybeSendMilestone(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, first.Sent)
	require.NotNil(t, first.Reward)
	assert.Equal(t, 7, first.Reward.RequiredStreak)

	second, err := svc.MaybeSendMilestone(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, second.Sent)

	msgs := notifier.Sent()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].isPhoto)
	assert.Equal(t, int64(4242), msgs[0].chatID)
	assert.Equal(t, first.Reward.ImageURL, msgs[0].photo)
	assert.Contains(t, msgs[0].text, "7-day streak milestone")

	logs, err := store.ListTelegramLogs(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, msgs[0].text, logs[0].MessageContent)
}

func TestMaybeSendMilestone_ConcurrentCallsSendOnce(t *testing.T) {
	svc, store, notifier := newTestService(t)
	u := newUser(t, store, "dewi", 14, chat(1))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.MaybeSendMilestone(context.Background(), u.ID)
		}()
	}
	wg.Wait()

	require.Len(t, notifier.Sent(), 1)
	assert.Contains(t, notifier.Sent()[0].text, "Two Weeks Strong")
}

func TestMaybeSendMilestone_HighestTierAtOrBelow(t *testing.T) {
	svc, store, notifier := newTestService(t)
	ctx := context.Background()

	// 35 sits between the 30 and 60 tiers.
	u := newUser(t, store, "dewi", 35, chat(1))
	res, err := svc.MaybeSendMilestone(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Reward)
	assert.Equal(t, 30, res.Reward.RequiredStreak)
	assert.Len(t, notifier.Sent(), 1)
}

func TestMaybeSendMilestone_NoRewardSendsText(t *testing.T) {
	svc, store, notifier := newTestService(t)
	ctx := context.Background()

	rewards, err := store.ListRewards(ctx)
	require.NoError(t, err)
	for _, r := range rewards {
		require.NoError(t, store.DeleteReward(ctx, r.ID))
	}

	u := newUser(t, store, "dewi", 7, chat(1))
	res, err := svc.MaybeSendMilestone(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Nil(t, res.Reward)

	msgs := notifier.Sent()
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].isPhoto)
	assert.Contains(t, msgs[0].text, "7-day streak milestone")
}

func TestMaybeSendMilestone_FailureReleasesClaim(t *testing.T) {
	svc, store, notifier := newTestService(t)
	ctx := context.Background()
	u := newUser(t, store, "dewi", 7, chat(1))

	notifier.SetErr(errors.New("bot blocked"))
	_, err := svc.MaybeSendMilestone(ctx, u.ID)
	require.Error(t, err)

	claims, err := store.ListMilestones(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, claims)
	logs, err := store.ListTelegramLogs(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)

	notifier.SetErr(nil)
	res, err := svc.MaybeSendMilestone(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, res.Sent, "released milestone can be retried")
}

func TestUserRewards(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	u := newUser(t, store, "dewi", 16, nil)
	got, err := svc.UserRewards(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 16, got.StreakCounter)
	require.Len(t, got.Unlocked, 2)
	assert.Equal(t, 14, got.Unlocked[1].RequiredStreak)
	require.NotNil(t, got.Next)
	assert.Equal(t, 30, got.Next.RequiredStreak)
	assert.Equal(t, 14, got.DaysToNext)

	fresh := newUser(t, store, "newbie", 0, nil)
	got, err = svc.UserRewards(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Unlocked)
	assert.Equal(t, 7, got.Next.RequiredStreak)

	catalog, err := svc.Catalog(ctx)
	require.NoError(t, err)
	assert.Len(t, catalog, 5)
}

func TestSendToUser(t *testing.T) {
	svc, store, notifier := newTestService(t)
	ctx := context.Background()

	linked := newUser(t, store, "dewi", 0, chat(9))
	require.NoError(t, svc.SendToUser(ctx, linked.ID, "hello"))
	require.Len(t, notifier.Sent(), 1)
	assert.Equal(t, "hello", notifier.Sent()[0].text)

	unlinked := newUser(t, store, "budi", 0, nil)
	assert.ErrorIs(t, svc.SendToUser(ctx, unlinked.ID, "hello"), ErrNotLinked)

	assert.ErrorIs(t, svc.SendToUser(ctx, 9999, "hello"), storage.ErrNotFound)
}

func TestSendLatestFeedback(t *testing.T) {
	svc, store, notifier := newTestService(t)
	ctx := context.Background()
	u := newUser(t, store, "dewi", 0, chat(9))

	_, err := svc.SendLatestFeedback(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNoFeedback)

	l := &storage.DailyLog{UserID: u.ID, Date: mustDate("2024-08-08"), Time: "09:00:00", DayDescription: "ok", Mood: storage.MoodGood}
	inserted, err := store.InsertLog(ctx, l)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, store.UpsertLlmResponse(ctx, &storage.LlmResponse{
		LogID:    l.ID,
		Message:  `{}`,
		Response: `{"webMessage":"web","telegramMessage":"chat text"}`,
	}))

	text, err := svc.SendLatestFeedback(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "chat text", text)
	assert.Equal(t, "chat text", notifier.Sent()[0].text)
}

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moodjournal/internal/calendar"
)

// newTestStore opens a migrated sqlite database in a temp dir. Set
// TEST_POSTGRES_DSN to run the same tests against postgres.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	cfg := DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "journal.db")
	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		cfg.Driver = DriverPostgres
		cfg.DSN = dsn
	}

	store, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if cfg.Driver == DriverPostgres {
		_, err := store.DB().Exec(`TRUNCATE users, daily_logs, llm_responses, telegram_logs, milestone_notifications RESTART IDENTITY CASCADE`)
		require.NoError(t, err)
	}
	return store
}

func createTestUser(t *testing.T, s *Store, username string) *User {
	t.Helper()
	u := &User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "$2a$10$hash",
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func mustDate(t *testing.T, s string) calendar.Date {
	t.Helper()
	d, err := calendar.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestStore_Migrate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	status, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Greater(t, status.Version, int64(0), "Expected at least one migration to be applied")
	assert.False(t, status.Dirty)

	// Running again is a no-op
	require.NoError(t, store.Migrate())

	rewards, err := store.ListRewards(ctx)
	require.NoError(t, err)
	require.Len(t, rewards, 5)
	assert.Equal(t, 7, rewards[0].RequiredStreak)
	assert.Equal(t, 100, rewards[4].RequiredStreak)
}

func TestStore_CreateUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := createTestUser(t, store, "alice")
	assert.Greater(t, u.ID, int64(0))
	assert.Equal(t, 0, u.StreakCounter)
	assert.False(t, u.CreatedAt.IsZero())

	got, err := store.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Nil(t, got.TelegramChatID)
	assert.True(t, got.Birthday.IsZero())
	assert.Nil(t, got.LastLogin)

	t.Run("duplicate username", func(t *testing.T) {
		err := store.CreateUser(ctx, &User{Username: "alice", Email: "other@example.com", PasswordHash: "x"})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("duplicate email", func(t *testing.T) {
		err := store.CreateUser(ctx, &User{Username: "alice2", Email: "alice@example.com", PasswordHash: "x"})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("invalid input", func(t *testing.T) {
		err := store.CreateUser(ctx, &User{Email: "x@example.com", PasswordHash: "x"})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("lookup by login", func(t *testing.T) {
		byName, err := store.GetUserByLogin(ctx, "alice")
		require.NoError(t, err)
		byEmail, err := store.GetUserByLogin(ctx, "Alice@Example.com")
		require.NoError(t, err)
		assert.Equal(t, byName.ID, byEmail.ID)
		assert.Equal(t, "$2a$10$hash", byName.PasswordHash)

		_, err = store.GetUserByLogin(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_NonExistentUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetUserByID(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.SetStreak(ctx, 42, 3, calendar.Date{}), ErrNotFound)
	assert.ErrorIs(t, store.RecordLogin(ctx, 42, time.Now()), ErrNotFound)
	assert.ErrorIs(t, store.SetTelegramChatID(ctx, 42, nil), ErrNotFound)

	_, err = store.UpdateProfile(ctx, 42, ProfileUpdate{Fullname: "Ghost"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetUserByID(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStore_ProfileAndLogin(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, store, "bob")

	updated, err := store.UpdateProfile(ctx, u.ID, ProfileUpdate{
		Fullname: "Bob Builder",
		Gender:   "male",
		Birthday: mustDate(t, "1990-04-12"),
		Interest: "climbing",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bob Builder", updated.Fullname)
	assert.Equal(t, "1990-04-12", updated.Birthday.String())
	assert.Equal(t, "Bob Builder", updated.DisplayName())

	at := time.Date(2024, 4, 1, 2, 3, 4, 0, time.UTC)
	require.NoError(t, store.RecordLogin(ctx, u.ID, at))

	chatID := int64(555)
	require.NoError(t, store.SetTelegramChatID(ctx, u.ID, &chatID))

	got, err := store.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.LoggedInToday)
	require.NotNil(t, got.LastLogin)
	assert.True(t, at.Equal(*got.LastLogin))
	require.NotNil(t, got.TelegramChatID)
	assert.Equal(t, chatID, *got.TelegramChatID)

	ids, err := store.ResetLoggedInToday(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{u.ID}, ids)

	ids, err = store.ResetLoggedInToday(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids, "already reset")

	got, err = store.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.LoggedInToday)
}

func TestStore_SweepQueries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	link := func(u *User, chat int64) {
		require.NoError(t, store.SetTelegramChatID(ctx, u.ID, &chat))
	}

	active := createTestUser(t, store, "active")
	idle := createTestUser(t, store, "idle")
	never := createTestUser(t, store, "never")
	unlinked := createTestUser(t, store, "unlinked")
	link(active, 1)
	link(idle, 2)
	link(never, 3)

	today := mustDate(t, "2024-06-10")
	_, err := store.InsertLog(ctx, &DailyLog{UserID: active.ID, Date: today, Time: "08:00:00", DayDescription: "fine", Mood: MoodGood})
	require.NoError(t, err)
	_, err = store.InsertLog(ctx, &DailyLog{UserID: idle.ID, Date: today.AddDays(-3), Time: "08:00:00", DayDescription: "meh", Mood: MoodOkay})
	require.NoError(t, err)
	_, err = store.InsertLog(ctx, &DailyLog{UserID: unlinked.ID, Date: today.AddDays(-5), Time: "08:00:00", DayDescription: "meh", Mood: MoodOkay})
	require.NoError(t, err)

	inactive, err := store.ListInactiveUsers(ctx, today)
	require.NoError(t, err)
	var names []string
	for _, u := range inactive {
		names = append(names, u.Username)
	}
	assert.Equal(t, []string{"idle", "never"}, names)

	_, err = store.UpdateProfile(ctx, idle.ID, ProfileUpdate{Birthday: mustDate(t, "1988-06-10")})
	require.NoError(t, err)
	_, err = store.UpdateProfile(ctx, never.ID, ProfileUpdate{Birthday: mustDate(t, "1992-02-29")})
	require.NoError(t, err)
	_, err = store.UpdateProfile(ctx, unlinked.ID, ProfileUpdate{Birthday: mustDate(t, "1992-06-10")})
	require.NoError(t, err)

	birthdays, err := store.ListBirthdayUsers(ctx, "06-10")
	require.NoError(t, err)
	require.Len(t, birthdays, 1)
	assert.Equal(t, "idle", birthdays[0].Username)

	leap, err := store.ListBirthdayUsers(ctx, "02-28", "02-29")
	require.NoError(t, err)
	require.Len(t, leap, 1)
	assert.Equal(t, "never", leap[0].Username)

	none, err := store.ListBirthdayUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_SetStreakRecordsDay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, store, "wren")
	assert.True(t, u.StreakDate.IsZero())

	day := mustDate(t, "2024-08-08")
	require.NoError(t, store.SetStreak(ctx, u.ID, 4, day))

	got, err := store.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.StreakCounter)
	assert.Equal(t, day, got.StreakDate)

	assert.Error(t, store.SetStreak(ctx, u.ID, -1, day))
}

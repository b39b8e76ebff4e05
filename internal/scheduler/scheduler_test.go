package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moodjournal/internal/cache"
	"moodjournal/internal/calendar"
	"moodjournal/internal/storage"
)

type fakeStore struct {
	resetIDs     []int64
	inactive     []storage.User
	birthdays    []storage.User
	listErr      error
	sinceSeen    calendar.Date
	monthDays    []string
	cutoff       time.Time
	cleanupCalls int
}

func (f *fakeStore) ResetLoggedInToday(context.Context) ([]int64, error) {
	return f.resetIDs, nil
}

func (f *fakeStore) ListInactiveUsers(_ context.Context, since calendar.Date) ([]storage.User, error) {
	f.sinceSeen = since
	return f.inactive, f.listErr
}

func (f *fakeStore) ListBirthdayUsers(_ context.Context, monthDays ...string) ([]storage.User, error) {
	f.monthDays = monthDays
	return f.birthdays, f.listErr
}

func (f *fakeStore) CleanupTelegramLogs(_ context.Context, cutoff time.Time) (int64, error) {
	f.cleanupCalls++
	f.cutoff = cutoff
	return 3, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	failOn map[int64]bool
	sent   map[int64]string
}

func (n *fakeNotifier) Notify(_ context.Context, u *storage.User, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failOn[u.ID] {
		return errors.New("Forbidden: bot was blocked by the user")
	}
	if n.sent == nil {
		n.sent = make(map[int64]string)
	}
	n.sent[u.ID] = text
	return nil
}

// 2024-08-08 10:00 in UTC+7.
var now = time.Date(2024, 8, 8, 3, 0, 0, 0, time.UTC)

func newCalendar() (*calendar.Calendar, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(now)
	return calendar.New(clock, calendar.DefaultOffset), clock
}

func users(ids ...int64) []storage.User {
	out := make([]storage.User, 0, len(ids))
	for _, id := range ids {
		out = append(out, storage.User{ID: id, Username: fmt.Sprintf("user%d", id)})
	}
	return out
}

func TestJobs_ResetLogins(t *testing.T) {
	cal, clock := newCalendar()
	ctx := context.Background()
	mem := cache.NewMemory(clock)
	c := cache.New(mem, time.Second, nil)
	for _, id := range []int64{3, 4, 5} {
		c.SetJSON(ctx, cache.UserKey(id), storage.User{ID: id, LoggedInToday: id != 5}, time.Hour)
	}

	store := &fakeStore{resetIDs: []int64{3, 4}}
	jobs := NewJobs(store, c, &fakeNotifier{}, cal, 1, 0, nil)

	r := &Report{Job: JobLoginReset}
	require.NoError(t, jobs.ResetLogins(ctx, r))
	assert.Equal(t, int64(2), r.Affected)
	assert.Empty(t, r.Items)

	for _, id := range []int64{3, 4} {
		_, err := mem.Get(ctx, cache.UserKey(id))
		assert.ErrorIs(t, err, cache.ErrMiss, "user %d evicted", id)
	}
	_, err := mem.Get(ctx, cache.UserKey(5))
	assert.NoError(t, err, "untouched users stay cached")
}

func TestJobs_RemindInactive(t *testing.T) {
	tests := []struct {
		name          string
		inactiveAfter int
		wantSince     string
	}{
		{"no log today", 1, "2024-08-08"},
		{"three quiet days", 3, "2024-08-06"},
		{"invalid threshold clamps to one", 0, "2024-08-08"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal, _ := newCalendar()
			store := &fakeStore{inactive: users(1, 2)}
			notifier := &fakeNotifier{}
			jobs := NewJobs(store, nil, notifier, cal, tt.inactiveAfter, 0, nil)

			r := &Report{Job: JobInactiveRemind}
			require.NoError(t, jobs.RemindInactive(context.Background(), r))
			assert.Equal(t, tt.wantSince, store.sinceSeen.String())
			assert.Len(t, notifier.sent, 2)
			assert.Equal(t, ReminderMessage("user1"), notifier.sent[1])
			assert.Equal(t, int64(2), r.Affected)
		})
	}
}

func TestJobs_FailureIsolation(t *testing.T) {
	cal, _ := newCalendar()
	store := &fakeStore{birthdays: users(1, 2, 3)}
	notifier := &fakeNotifier{failOn: map[int64]bool{2: true}}
	jobs := NewJobs(store, nil, notifier, cal, 1, 0, nil)

	r := &Report{Job: JobBirthday}
	require.NoError(t, jobs.SendBirthdays(context.Background(), r))

	require.Len(t, r.Items, 3)
	assert.Empty(t, r.Items[0].Error)
	assert.Contains(t, r.Items[1].Error, "blocked")
	assert.Empty(t, r.Items[2].Error, "later users still processed")
	assert.Equal(t, 1, r.Failed())
	assert.Equal(t, 2, r.Succeeded())
	assert.Equal(t, int64(2), r.Affected)
	assert.Equal(t, BirthdayMessage("user3"), notifier.sent[3])
}

func TestJobs_ListFailure(t *testing.T) {
	cal, _ := newCalendar()
	store := &fakeStore{listErr: errors.New("database is locked")}
	jobs := NewJobs(store, nil, &fakeNotifier{}, cal, 1, 0, nil)

	assert.Error(t, jobs.RemindInactive(context.Background(), &Report{}))
	assert.Error(t, jobs.SendBirthdays(context.Background(), &Report{}))
}

func TestJobs_CancelledContextMarksRemaining(t *testing.T) {
	cal, _ := newCalendar()
	store := &fakeStore{inactive: users(1, 2)}
	notifier := &fakeNotifier{}
	jobs := NewJobs(store, nil, notifier, cal, 1, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &Report{Job: JobInactiveRemind}
	require.NoError(t, jobs.RemindInactive(ctx, r))
	assert.Equal(t, 2, r.Failed())
	assert.Empty(t, notifier.sent)
}

func TestJobs_CleanupTelegramLogs(t *testing.T) {
	cal, _ := newCalendar()

	store := &fakeStore{}
	jobs := NewJobs(store, nil, &fakeNotifier{}, cal, 1, 0, nil)
	require.NoError(t, jobs.CleanupTelegramLogs(context.Background(), &Report{}))
	assert.Equal(t, 0, store.cleanupCalls, "zero retention keeps everything")

	jobs = NewJobs(store, nil, &fakeNotifier{}, cal, 1, 30*24*time.Hour, nil)
	r := &Report{}
	require.NoError(t, jobs.CleanupTelegramLogs(context.Background(), r))
	assert.Equal(t, 1, store.cleanupCalls)
	assert.True(t, store.cutoff.Equal(now.Add(-30*24*time.Hour)))
	assert.Equal(t, int64(3), r.Affected)
}

func TestBirthdayKeys(t *testing.T) {
	tests := []struct {
		day  string
		want []string
	}{
		{"2024-08-08", []string{"08-08"}},
		{"2023-02-28", []string{"02-28", "02-29"}},
		{"2024-02-28", []string{"02-28"}},
		{"2024-02-29", []string{"02-29"}},
		{"2100-02-28", []string{"02-28", "02-29"}},
	}
	for _, tt := range tests {
		t.Run(tt.day, func(t *testing.T) {
			d, err := calendar.ParseDate(tt.day)
			require.NoError(t, err)
			assert.Equal(t, tt.want, BirthdayKeys(d))
		})
	}
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("19:05")
	require.NoError(t, err)
	assert.Equal(t, uint(19), h)
	assert.Equal(t, uint(5), m)

	for _, bad := range []string{"", "1900", "24:00", "12:60", "ab:cd", "-1:10"} {
		_, _, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestScheduler_Run(t *testing.T) {
	cal, _ := newCalendar()
	store := &fakeStore{resetIDs: []int64{1, 2, 3, 4}, inactive: users(1, 2)}
	notifier := &fakeNotifier{failOn: map[int64]bool{1: true}}

	s, err := New(NewJobs(store, nil, notifier, cal, 1, 0, nil), cal, Options{}, nil)
	require.NoError(t, err)
	defer s.Stop()

	r, err := s.Run(context.Background(), JobLoginReset)
	require.NoError(t, err)
	assert.Equal(t, int64(4), r.Affected)

	r, err = s.Run(context.Background(), JobInactiveRemind)
	require.NoError(t, err, "item failures do not fail the job")
	assert.Equal(t, 1, r.Failed())

	last, ok := s.LastReport(JobInactiveRemind)
	require.True(t, ok)
	assert.Same(t, r, last)

	_, err = s.Run(context.Background(), "unknown")
	assert.Error(t, err)

	store.listErr = errors.New("boom")
	_, err = s.Run(context.Background(), JobBirthday)
	assert.Error(t, err)
}

func TestScheduler_DailyTimesInOrgZone(t *testing.T) {
	cal, _ := newCalendar()
	opts := Options{LoginResetAt: "00:00", ReminderAt: "19:00", BirthdayAt: "08:00"}

	s, err := New(NewJobs(&fakeStore{}, nil, &fakeNotifier{}, cal, 1, 0, nil), cal, opts, nil)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	assert.Equal(t, []string{JobBirthday, JobInactiveRemind, JobLoginReset}, s.Scheduled())

	var next map[string]time.Time
	require.Eventually(t, func() bool {
		next = s.NextRuns()
		return len(next) == 3
	}, time.Second, 10*time.Millisecond)

	zone := cal.Location()
	assert.True(t, next[JobInactiveRemind].Equal(time.Date(2024, 8, 8, 19, 0, 0, 0, zone)))
	assert.True(t, next[JobBirthday].Equal(time.Date(2024, 8, 9, 8, 0, 0, 0, zone)))
	assert.True(t, next[JobLoginReset].Equal(time.Date(2024, 8, 9, 0, 0, 0, 0, zone)))
}

func TestScheduler_InvalidTime(t *testing.T) {
	cal, _ := newCalendar()
	_, err := New(NewJobs(&fakeStore{}, nil, &fakeNotifier{}, cal, 1, 0, nil), cal, Options{ReminderAt: "7pm"}, nil)
	assert.Error(t, err)
}

// TestJobs_Storage runs the sweeps against a real database.
func TestJobs_Storage(t *testing.T) {
	ctx := context.Background()
	cfg := storage.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "sweeps.db")
	store, err := storage.Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer store.Close()

	cal, _ := newCalendar()
	chat := int64(42)
	birthday, err := calendar.ParseDate("1990-08-08")
	require.NoError(t, err)

	active := &storage.User{Username: "active", Email: "a@example.com", PasswordHash: "x"}
	quiet := &storage.User{Username: "quiet", Email: "q@example.com", PasswordHash: "x", Birthday: birthday}
	unlinked := &storage.User{Username: "unlinked", Email: "u@example.com", PasswordHash: "x", Birthday: birthday}
	for _, u := range []*storage.User{active, quiet, unlinked} {
		require.NoError(t, store.CreateUser(ctx, u))
	}
	require.NoError(t, store.SetTelegramChatID(ctx, active.ID, &chat))
	require.NoError(t, store.SetTelegramChatID(ctx, quiet.ID, &chat))
	_, err = store.InsertLog(ctx, &storage.DailyLog{
		UserID: active.ID, Date: cal.Today(), Time: "09:00:00", DayDescription: "hi", Mood: storage.MoodGood,
	})
	require.NoError(t, err)
	require.NoError(t, store.RecordLogin(ctx, active.ID, now))

	notifier := &fakeNotifier{}
	jobs := NewJobs(store, nil, notifier, cal, 1, 0, nil)

	r := &Report{}
	require.NoError(t, jobs.RemindInactive(ctx, r))
	require.Len(t, r.Items, 1)
	assert.Equal(t, quiet.ID, r.Items[0].UserID)

	r = &Report{}
	require.NoError(t, jobs.SendBirthdays(ctx, r))
	require.Len(t, r.Items, 1)
	assert.Equal(t, quiet.ID, r.Items[0].UserID)

	r = &Report{}
	require.NoError(t, jobs.ResetLogins(ctx, r))
	assert.Equal(t, int64(1), r.Affected)
	u, err := store.GetUserByID(ctx, active.ID)
	require.NoError(t, err)
	assert.False(t, u.LoggedInToday)
}

package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"moodjournal/internal/cache"
	"moodjournal/internal/calendar"
	"moodjournal/internal/storage"
)

const (
	JobLoginReset      = "login_reset"
	JobInactiveRemind  = "inactive_reminder"
	JobBirthday        = "birthday_greeting"
	JobTelegramCleanup = "telegram_log_cleanup"
)

// Store is the part of the store the sweeps need.
type Store interface {
	ResetLoggedInToday(ctx context.Context) ([]int64, error)
	ListInactiveUsers(ctx context.Context, since calendar.Date) ([]storage.User, error)
	ListBirthdayUsers(ctx context.Context, monthDays ...string) ([]storage.User, error)
	CleanupTelegramLogs(ctx context.Context, cutoff time.Time) (int64, error)
}

// Notifier delivers a message to a user's linked chat and records it.
type Notifier interface {
	Notify(ctx context.Context, u *storage.User, text string) error
}

// ItemResult is the outcome for one user inside a sweep.
type ItemResult struct {
	UserID int64  `json:"user_id"`
	Error  string `json:"error,omitempty"`
}

// Report describes one run of a job.
type Report struct {
	Job       string        `json:"job"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Affected  int64         `json:"affected"`
	Items     []ItemResult  `json:"items,omitempty"`
}

// Failed returns the number of items that failed.
func (r *Report) Failed() int {
	n := 0
	for _, it := range r.Items {
		if it.Error != "" {
			n++
		}
	}
	return n
}

// Succeeded returns the number of items that went through.
func (r *Report) Succeeded() int {
	return len(r.Items) - r.Failed()
}

// Jobs holds the sweep implementations.
type Jobs struct {
	store         Store
	cache         *cache.Cache
	notifier      Notifier
	cal           *calendar.Calendar
	inactiveAfter int
	retention     time.Duration
	logger        *zap.Logger
}

// NewJobs creates the sweeps. inactiveAfter is the number of days without a
// log before a reminder goes out; retention <= 0 keeps Telegram logs forever.
// Users changed by a sweep are evicted from c.
func NewJobs(store Store, c *cache.Cache, notifier Notifier, cal *calendar.Calendar, inactiveAfter int, retention time.Duration, logger *zap.Logger) *Jobs {
	if inactiveAfter < 1 {
		inactiveAfter = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Jobs{
		store:         store,
		cache:         c,
		notifier:      notifier,
		cal:           cal,
		inactiveAfter: inactiveAfter,
		retention:     retention,
		logger:        logger,
	}
}

// ResetLogins clears every logged_in_today flag and drops the cached
// profiles of the users it changed.
func (j *Jobs) ResetLogins(ctx context.Context, r *Report) error {
	ids, err := j.store.ResetLoggedInToday(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cache.UserKey(id)
	}
	j.cache.Invalidate(ctx, keys...)
	r.Affected = int64(len(ids))
	return nil
}

// RemindInactive nudges linked users who have not logged for inactiveAfter days.
func (j *Jobs) RemindInactive(ctx context.Context, r *Report) error {
	since := j.cal.Today().AddDays(1 - j.inactiveAfter)
	users, err := j.store.ListInactiveUsers(ctx, since)
	if err != nil {
		return err
	}
	j.notifyEach(ctx, r, users, ReminderMessage)
	return nil
}

// SendBirthdays greets linked users whose birthday is today.
func (j *Jobs) SendBirthdays(ctx context.Context, r *Report) error {
	users, err := j.store.ListBirthdayUsers(ctx, BirthdayKeys(j.cal.Today())...)
	if err != nil {
		return err
	}
	j.notifyEach(ctx, r, users, BirthdayMessage)
	return nil
}

// CleanupTelegramLogs deletes audit rows older than the retention window.
func (j *Jobs) CleanupTelegramLogs(ctx context.Context, r *Report) error {
	if j.retention <= 0 {
		return nil
	}
	n, err := j.store.CleanupTelegramLogs(ctx, j.cal.Now().Add(-j.retention))
	if err != nil {
		return err
	}
	r.Affected = n
	return nil
}

func (j *Jobs) notifyEach(ctx context.Context, r *Report, users []storage.User, message func(string) string) {
	for i := range users {
		u := &users[i]
		item := ItemResult{UserID: u.ID}
		if err := ctx.Err(); err != nil {
			item.Error = err.Error()
		} else if err := j.notifier.Notify(ctx, u, message(u.DisplayName())); err != nil {
			item.Error = err.Error()
			j.logger.Warn("job_item_failed",
				zap.String("job", r.Job),
				zap.Int64("user_id", u.ID),
				zap.Error(err))
		}
		r.Items = append(r.Items, item)
	}
	r.Affected = int64(r.Succeeded())
}

// ReminderMessage is sent to users who have not logged recently.
func ReminderMessage(name string) string {
	return fmt.Sprintf("Hi %s! You haven't written in your mood journal today. Take a minute to check in with yourself before the day ends.", name)
}

// BirthdayMessage is sent on a user's birthday.
func BirthdayMessage(name string) string {
	return fmt.Sprintf("Happy birthday, %s! Wishing you a bright year ahead. 🎂", name)
}

// BirthdayKeys returns the MM-DD values celebrated on day. February 29
// birthdays are greeted on February 28 in common years.
func BirthdayKeys(day calendar.Date) []string {
	keys := []string{day.MonthDay()}
	if day.Month == time.February && day.Day == 28 && day.AddDays(1).Month == time.March {
		keys = append(keys, "02-29")
	}
	return keys
}

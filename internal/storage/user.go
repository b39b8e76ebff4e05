package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"moodjournal/internal/calendar"
)

const userColumns = `id, username, email, password_hash, telegram_chat_id, fullname, gender,
	birthday, interest, image_url, streak_counter, streak_date, logged_in_today, last_login,
	created_at, updated_at`

// ProfileUpdate carries the editable profile fields.
type ProfileUpdate struct {
	Fullname string
	Gender   string
	Birthday calendar.Date
	Interest string
	ImageURL string
}

func validateNewUser(u *User) error {
	if u == nil {
		return fmt.Errorf("%w: user cannot be nil", ErrInvalidInput)
	}
	if strings.TrimSpace(u.Username) == "" {
		return fmt.Errorf("%w: username cannot be empty", ErrInvalidInput)
	}
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("%w: email cannot be empty", ErrInvalidInput)
	}
	if u.PasswordHash == "" {
		return fmt.Errorf("%w: password hash cannot be empty", ErrInvalidInput)
	}
	return nil
}

// CreateUser inserts a new user and fills in its generated fields.
func (q queries) CreateUser(ctx context.Context, u *User) error {
	if err := validateNewUser(u); err != nil {
		return err
	}

	query := `
		INSERT INTO users (
			username, email, password_hash, fullname, gender, birthday, interest, image_url
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`
	var id int64
	err := q.get(ctx, &id, query,
		u.Username, u.Email, u.PasswordHash, u.Fullname, u.Gender, u.Birthday, u.Interest, u.ImageURL)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username or email already registered", ErrConflict)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	created, err := q.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	*u = *created
	return nil
}

// GetUserByID retrieves a user by id.
func (q queries) GetUserByID(ctx context.Context, id int64) (*User, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: user ID must be positive", ErrInvalidInput)
	}

	var u User
	if err := q.get(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "user %d", id)
	}
	return &u, nil
}

// GetUserByLogin retrieves a user by username or email.
func (q queries) GetUserByLogin(ctx context.Context, identifier string) (*User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("%w: username or email cannot be empty", ErrInvalidInput)
	}

	var u User
	err := q.get(ctx, &u,
		`SELECT `+userColumns+` FROM users WHERE username = ? OR email = ? ORDER BY id LIMIT 1`,
		identifier, strings.ToLower(identifier))
	if err != nil {
		return nil, notFound(err, "user %q", identifier)
	}
	return &u, nil
}

// UpdateProfile overwrites the editable profile fields and returns the new row.
func (q queries) UpdateProfile(ctx context.Context, id int64, p ProfileUpdate) (*User, error) {
	result, err := q.exec(ctx, `
		UPDATE users
		SET fullname = ?, gender = ?, birthday = ?, interest = ?, image_url = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		p.Fullname, p.Gender, p.Birthday, p.Interest, p.ImageURL, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if err := checkAffected(result, fmt.Sprintf("user %d", id)); err != nil {
		return nil, err
	}
	return q.GetUserByID(ctx, id)
}

// RecordLogin marks the user as logged in today.
func (q queries) RecordLogin(ctx context.Context, id int64, at time.Time) error {
	result, err := q.exec(ctx,
		`UPDATE users SET logged_in_today = ?, last_login = ? WHERE id = ?`, true, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return checkAffected(result, fmt.Sprintf("user %d", id))
}

// SetTelegramChatID links (or with nil, unlinks) a Telegram chat.
func (q queries) SetTelegramChatID(ctx context.Context, id int64, chatID *int64) error {
	result, err := q.exec(ctx,
		`UPDATE users SET telegram_chat_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, chatID, id)
	if err != nil {
		return fmt.Errorf("failed to update telegram chat: %w", err)
	}
	return checkAffected(result, fmt.Sprintf("user %d", id))
}

// SetStreak persists a user's streak counter together with the day it was
// last credited.
func (q queries) SetStreak(ctx context.Context, id int64, streak int, on calendar.Date) error {
	if streak < 0 {
		return fmt.Errorf("%w: streak cannot be negative", ErrInvalidInput)
	}
	result, err := q.exec(ctx,
		`UPDATE users SET streak_counter = ?, streak_date = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		streak, on, id)
	if err != nil {
		return fmt.Errorf("failed to update streak: %w", err)
	}
	return checkAffected(result, fmt.Sprintf("user %d", id))
}

// ResetLoggedInToday clears the daily login flag for every user and returns
// the ids of the users it changed.
func (q queries) ResetLoggedInToday(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := q.selectAll(ctx, &ids,
		`UPDATE users SET logged_in_today = ? WHERE logged_in_today = ? RETURNING id`, false, true)
	if err != nil {
		return nil, fmt.Errorf("failed to reset login flags: %w", err)
	}
	return ids, nil
}

// ListInactiveUsers returns Telegram-linked users with no log on or after since.
func (q queries) ListInactiveUsers(ctx context.Context, since calendar.Date) ([]User, error) {
	var users []User
	query := `
		SELECT ` + userColumns + `
		FROM users u
		WHERE telegram_chat_id IS NOT NULL
		AND NOT EXISTS (
			SELECT 1 FROM daily_logs d WHERE d.user_id = u.id AND d.log_date >= ?
		)
		ORDER BY id`
	if err := q.selectAll(ctx, &users, query, since); err != nil {
		return nil, fmt.Errorf("failed to list inactive users: %w", err)
	}
	return users, nil
}

// ListBirthdayUsers returns Telegram-linked users whose birthday falls on
// one of the given MM-DD values.
func (q queries) ListBirthdayUsers(ctx context.Context, monthDays ...string) ([]User, error) {
	if len(monthDays) == 0 {
		return nil, nil
	}

	conds := make([]string, len(monthDays))
	args := make([]interface{}, len(monthDays))
	for i, md := range monthDays {
		conds[i] = "substr(birthday, 6, 5) = ?"
		args[i] = md
	}

	var users []User
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE telegram_chat_id IS NOT NULL AND birthday IS NOT NULL
		AND (` + strings.Join(conds, " OR ") + `)
		ORDER BY id`
	if err := q.selectAll(ctx, &users, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list birthday users: %w", err)
	}
	return users, nil
}

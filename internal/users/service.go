// Package users handles accounts: registration, login, profiles and the
// Telegram chat link.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"moodjournal/internal/auth"
	"moodjournal/internal/cache"
	"moodjournal/internal/calendar"
	"moodjournal/internal/storage"
)

// ErrInvalidCredentials is returned when login fails for any reason other
// than a store error.
var ErrInvalidCredentials = errors.New("invalid username or password")

// RegisterInput is the registration request.
type RegisterInput struct {
	Username string        `json:"username" validate:"required,min=3,max=50,alphanum"`
	Email    string        `json:"email" validate:"required,email,max=255"`
	Password string        `json:"password" validate:"required,min=8,max=72"`
	Fullname string        `json:"fullname" validate:"max=100"`
	Gender   string        `json:"gender" validate:"omitempty,oneof=male female other"`
	Birthday calendar.Date `json:"birthday"`
	Interest string        `json:"interest" validate:"max=255"`
	ImageURL string        `json:"image_url" validate:"omitempty,url,max=500"`
}

// ProfileInput is the editable part of a profile.
type ProfileInput struct {
	Fullname string        `json:"fullname" validate:"max=100"`
	Gender   string        `json:"gender" validate:"omitempty,oneof=male female other"`
	Birthday calendar.Date `json:"birthday"`
	Interest string        `json:"interest" validate:"max=255"`
	ImageURL string        `json:"image_url" validate:"omitempty,url,max=500"`
}

// Profile is a user as presented to clients. The display fields are
// derived on every read and never cached.
type Profile struct {
	storage.User
	BirthdayDisplay string `json:"birthday_display,omitempty"`
	MemberSince     string `json:"member_since"`
}

// Session is the result of a successful login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *Profile  `json:"user"`
}

// Options tunes the service.
type Options struct {
	UserTTL    time.Duration
	BcryptCost int
}

// Service implements account operations.
type Service struct {
	store  *storage.Store
	cache  *cache.Cache
	tokens *auth.TokenManager
	cal    *calendar.Calendar
	opts   Options
	logger *zap.Logger
}

// NewService creates a Service.
func NewService(store *storage.Store, c *cache.Cache, tokens *auth.TokenManager, cal *calendar.Calendar, opts Options, logger *zap.Logger) *Service {
	if opts.UserTTL <= 0 {
		opts.UserTTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, cache: c, tokens: tokens, cal: cal, opts: opts, logger: logger}
}

func (s *Service) present(u *storage.User) *Profile {
	p := &Profile{User: *u}
	if !u.Birthday.IsZero() {
		p.BirthdayDisplay = u.Birthday.Format("2 January")
	}
	if !u.CreatedAt.IsZero() {
		p.MemberSince = s.cal.DateOf(u.CreatedAt).Format("January 2006")
	}
	return p
}

// Register creates an account. Usernames keep their case, emails are
// stored lowercased.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Profile, error) {
	hash, err := auth.HashPassword(in.Password, s.opts.BcryptCost)
	if err != nil {
		return nil, err
	}

	u := &storage.User{
		Username:     strings.TrimSpace(in.Username),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hash,
		Fullname:     strings.TrimSpace(in.Fullname),
		Gender:       in.Gender,
		Birthday:     in.Birthday,
		Interest:     strings.TrimSpace(in.Interest),
		ImageURL:     in.ImageURL,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info("user_registered", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
	return s.present(u), nil
}

// Login checks credentials, marks the user as logged in today and issues
// a bearer token.
func (s *Service) Login(ctx context.Context, identifier, password string) (*Session, error) {
	u, err := s.store.GetUserByLogin(ctx, identifier)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidInput) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := auth.CheckPassword(u.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Info("login_rejected", zap.Int64("user_id", u.ID))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := s.cal.Now()
	if err := s.store.RecordLogin(ctx, u.ID, now); err != nil {
		return nil, err
	}
	u.LoggedInToday = true
	u.LastLogin = &now
	s.cache.Invalidate(ctx, cache.UserKey(u.ID))

	token, expires, err := s.tokens.Issue(u.ID, u.Username)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user_logged_in", zap.Int64("user_id", u.ID))
	return &Session{Token: token, ExpiresAt: expires, User: s.present(u)}, nil
}

// Profile returns the user through the cache.
func (s *Service) Profile(ctx context.Context, userID int64) (*Profile, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.present(u), nil
}

func (s *Service) user(ctx context.Context, userID int64) (*storage.User, error) {
	key := cache.UserKey(userID)

	var cached storage.User
	if s.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}

	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, key, u, s.opts.UserTTL)
	return u, nil
}

// UpdateProfile overwrites the profile fields and refreshes the cached copy.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, in ProfileInput) (*Profile, error) {
	u, err := s.store.UpdateProfile(ctx, userID, storage.ProfileUpdate{
		Fullname: strings.TrimSpace(in.Fullname),
		Gender:   in.Gender,
		Birthday: in.Birthday,
		Interest: strings.TrimSpace(in.Interest),
		ImageURL: in.ImageURL,
	})
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, cache.UserKey(userID), u, s.opts.UserTTL)

	s.logger.Info("profile_updated", zap.Int64("user_id", userID))
	return s.present(u), nil
}

// LinkTelegram sets or, with a nil chat id, clears the user's chat.
func (s *Service) LinkTelegram(ctx context.Context, userID int64, chatID *int64) (*Profile, error) {
	if err := s.store.SetTelegramChatID(ctx, userID, chatID); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, cache.UserKey(userID))

	s.logger.Info("telegram_linked", zap.Int64("user_id", userID), zap.Bool("linked", chatID != nil))
	return s.Profile(ctx, userID)
}

// Stats returns the user's journaling statistics.
func (s *Service) Stats(ctx context.Context, userID int64) (*storage.UserMetrics, error) {
	m, err := s.store.GetUserMetrics(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats for user %d: %w", userID, err)
	}
	return m, nil
}

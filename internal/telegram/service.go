package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"moodjournal/internal/metrics"
)

// ErrDisabled is returned when no bot token is configured.
var ErrDisabled = errors.New("telegram notifier disabled")

// Notifier delivers chat messages to users.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, imageURL, caption string) error
}

// Options configures the Telegram service.
type Options struct {
	BotToken string
	// APIEndpoint overrides tgbotapi.APIEndpoint, e.g. for a local bot API server.
	APIEndpoint   string
	Timeout       time.Duration
	RatePerSecond float64
}

// Service provides methods for interacting with the Telegram Bot API.
type Service struct {
	logger  *zap.Logger
	bot     *tgbotapi.BotAPI
	limiter *rate.Limiter
}

// NewService creates a Telegram Service. With an empty token the service
// is disabled and every send returns ErrDisabled.
func NewService(opts Options, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BotToken == "" {
		logger.Info("telegram_disabled")
		return &Service{logger: logger}, nil
	}
	if opts.APIEndpoint == "" {
		opts.APIEndpoint = tgbotapi.APIEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 25
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.BotToken, opts.APIEndpoint, &http.Client{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram authorization failed: %w", err)
	}

	logger.Info("telegram_authorized", zap.String("bot", bot.Self.UserName))

	return &Service{
		logger:  logger,
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
	}, nil
}

// Enabled reports whether a bot is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.bot != nil
}

// SendMessage sends a text message to a given chat ID.
func (s *Service) SendMessage(ctx context.Context, chatID int64, text string) error {
	return s.send(ctx, "message", tgbotapi.NewMessage(chatID, text))
}

// SendPhoto sends an image by URL with a caption.
func (s *Service) SendPhoto(ctx context.Context, chatID int64, imageURL, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(imageURL))
	photo.Caption = caption
	return s.send(ctx, "photo", photo)
}

func (s *Service) send(ctx context.Context, kind string, c tgbotapi.Chattable) error {
	if !s.Enabled() {
		metrics.NotificationsSent.WithLabelValues(kind, "disabled").Inc()
		return ErrDisabled
	}
	if err := s.limiter.Wait(ctx); err != nil {
		metrics.NotificationsSent.WithLabelValues(kind, "failed").Inc()
		return fmt.Errorf("telegram rate limit wait: %w", err)
	}

	// The bot API has no context support; the HTTP client timeout bounds
	// the call and ctx bounds how long we wait for it.
	errc := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(c)
		errc <- err
	}()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		metrics.NotificationsSent.WithLabelValues(kind, "failed").Inc()
		return fmt.Errorf("telegram send %s: %w", kind, err)
	}
	metrics.NotificationsSent.WithLabelValues(kind, "sent").Inc()
	return nil
}

// StartPolling answers /start with the chat id a user needs to link their
// account. It blocks until ctx is cancelled and should be run in its own
// goroutine.
func (s *Service) StartPolling(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := s.bot.GetUpdatesChan(u)
	defer s.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			s.handleUpdate(ctx, update)
		}
	}
}

func (s *Service) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}
	if update.Message.Command() == "start" {
		s.handleStartCommand(ctx, update.Message)
	}
}

func (s *Service) handleStartCommand(ctx context.Context, message *tgbotapi.Message) {
	s.logger.Info("telegram_start_command", zap.Int64("chat_id", message.Chat.ID))
	if err := s.SendMessage(ctx, message.Chat.ID, StartReply(message.Chat.ID)); err != nil {
		s.logger.Warn("telegram_start_reply_failed", zap.Int64("chat_id", message.Chat.ID), zap.Error(err))
	}
}

// StartReply is the answer to /start.
func StartReply(chatID int64) string {
	var b strings.Builder
	b.WriteString("Welcome to Mood Journal!\n\n")
	fmt.Fprintf(&b, "Your chat id is %d. Add it to your profile to receive streak rewards and reminders.", chatID)
	return b.String()
}

package storage

import (
	"time"

	"moodjournal/internal/calendar"
)

// Mood is the self-reported mood of a daily log.
type Mood string

const (
	MoodAwesome  Mood = "awesome"
	MoodGood     Mood = "good"
	MoodOkay     Mood = "okay"
	MoodBad      Mood = "bad"
	MoodTerrible Mood = "terrible"
)

// Moods lists every accepted mood, best first.
var Moods = []Mood{MoodAwesome, MoodGood, MoodOkay, MoodBad, MoodTerrible}

// Valid reports whether m is one of the accepted moods.
func (m Mood) Valid() bool {
	for _, v := range Moods {
		if m == v {
			return true
		}
	}
	return false
}

// User represents a user in the system
type User struct {
	ID             int64         `db:"id" json:"id"`
	Username       string        `db:"username" json:"username"`
	Email          string        `db:"email" json:"email"`
	PasswordHash   string        `db:"password_hash" json:"-"`
	TelegramChatID *int64        `db:"telegram_chat_id" json:"telegram_chat_id"`
	Fullname       string        `db:"fullname" json:"fullname"`
	Gender         string        `db:"gender" json:"gender"`
	Birthday       calendar.Date `db:"birthday" json:"birthday"`
	Interest       string        `db:"interest" json:"interest"`
	ImageURL       string        `db:"image_url" json:"image_url"`
	StreakCounter  int           `db:"streak_counter" json:"streak_counter"`
	StreakDate     calendar.Date `db:"streak_date" json:"streak_date"`
	LoggedInToday  bool          `db:"logged_in_today" json:"logged_in_today"`
	LastLogin      *time.Time    `db:"last_login" json:"last_login"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// DisplayName prefers the full name over the username.
func (u *User) DisplayName() string {
	if u.Fullname != "" {
		return u.Fullname
	}
	return u.Username
}

// DailyLog is one user's journal entry for one organisation calendar day.
type DailyLog struct {
	ID             int64         `db:"log_id" json:"log_id"`
	UserID         int64         `db:"user_id" json:"user_id"`
	Date           calendar.Date `db:"log_date" json:"log_date"`
	Time           string        `db:"log_time" json:"log_time"`
	DayDescription string        `db:"day_description" json:"day_description"`
	Mood           Mood          `db:"mood" json:"mood"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// LlmResponse is the generated feedback attached to a log. Message and
// Response hold JSON documents; Tags holds a JSON array.
type LlmResponse struct {
	ID                 int64     `db:"response_id" json:"response_id"`
	LogID              int64     `db:"log_id" json:"log_id"`
	Message            string    `db:"message" json:"message"`
	Response           string    `db:"response" json:"response"`
	Tags               string    `db:"tags" json:"tags"`
	Insight            string    `db:"insight" json:"insight"`
	MoodClassification string    `db:"mood_classification" json:"mood_classification"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// Reward is a catalog entry unlocked at a streak length.
type Reward struct {
	ID             int64  `db:"reward_id" json:"reward_id"`
	RequiredStreak int    `db:"required_streak" json:"required_streak"`
	Title          string `db:"title" json:"title"`
	ImageURL       string `db:"image_url" json:"image_url"`
}

// TelegramLog is an audit row for a message sent to a user's chat.
type TelegramLog struct {
	ID             int64     `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	MessageContent string    `db:"message_content" json:"message_content"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// MilestoneNotification records that the milestone message for a streak
// value has been claimed for a user.
type MilestoneNotification struct {
	UserID    int64     `db:"user_id" json:"user_id"`
	Milestone int       `db:"milestone" json:"milestone"`
	RewardID  *int64    `db:"reward_id" json:"reward_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

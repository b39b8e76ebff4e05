package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"moodjournal/internal/storage"
	"moodjournal/internal/users"
)

//
// Account handlers
//

type loginRequest struct {
	Username string `json:"username" validate:"required_without=Email"`
	Email    string `json:"email" validate:"required_without=Username"`
	Password string `json:"password" validate:"required"`
}

func (a *Application) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req users.RegisterInput
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	profile, err := a.Users.Register(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusCreated, "registration successful", profile)
}

func (a *Application) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	identifier := req.Username
	if identifier == "" {
		identifier = req.Email
	}
	session, err := a.Users.Login(r.Context(), identifier, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "login successful", session)
}

func (a *Application) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)
	profile, err := a.Users.Profile(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "profile retrieved", profile)
}

func (a *Application) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)
	var req users.ProfileInput
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	profile, err := a.Users.UpdateProfile(r.Context(), userID, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "profile updated", profile)
}

type telegramLinkRequest struct {
	// ChatID null unlinks the chat.
	ChatID *int64 `json:"chat_id"`
}

func (a *Application) handleLinkTelegram(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)
	var req telegramLinkRequest
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	profile, err := a.Users.LinkTelegram(r.Context(), userID, req.ChatID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	message := "telegram chat linked"
	if req.ChatID == nil {
		message = "telegram chat unlinked"
	}
	respond(w, http.StatusOK, message, profile)
}

func (a *Application) handleStats(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)
	stats, err := a.Users.Stats(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "stats retrieved", stats)
}

//
// Log handlers
//

type logRequest struct {
	DayDescription string       `json:"day_description" validate:"required"`
	Mood           storage.Mood `json:"mood" validate:"required,oneof=awesome good okay bad terrible"`
}

func (a *Application) handleSubmitLog(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)
	var req logRequest
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	result, err := a.Journal.SubmitLog(r.Context(), userID, req.DayDescription, req.Mood)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if result.Created {
		respond(w, http.StatusCreated, "log created", result)
		return
	}
	respond(w, http.StatusOK, "today's log updated", result)
}

func (a *Application) handleListLogs(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)
	logs, err := a.Journal.ListLogs(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "logs retrieved", logs)
}

func (a *Application) handleTodayLog(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)
	view, err := a.Journal.TodayLog(r.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no log for today yet")
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "today's log retrieved", view)
}

func logIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid log id", errValidation)
	}
	return id, nil
}

func (a *Application) handleGetLog(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)
	logID, err := logIDParam(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	view, err := a.Journal.GetLog(r.Context(), userID, logID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "log retrieved", view)
}

func (a *Application) handleUpdateLog(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)
	logID, err := logIDParam(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req logRequest
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	view, err := a.Journal.UpdateLog(r.Context(), userID, logID, req.DayDescription, req.Mood)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "log updated", view)
}

func (a *Application) handleDeleteLog(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)
	logID, err := logIDParam(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Journal.DeleteLog(r.Context(), userID, logID); err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "log deleted", nil)
}

//
// Reward and Telegram handlers
//

func (a *Application) handleRewardCatalog(w http.ResponseWriter, r *http.Request) {
	catalog, err := a.Rewards.Catalog(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "rewards retrieved", catalog)
}

func (a *Application) handleUserRewards(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)
	progress, err := a.Rewards.UserRewards(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "user rewards retrieved", progress)
}

func (a *Application) handleSendMilestone(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)
	result, err := a.Rewards.MaybeSendMilestone(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	message := "no milestone to send"
	switch {
	case result.Sent:
		message = fmt.Sprintf("%d-day milestone sent", result.Milestone)
	case result.Milestone > 0:
		message = fmt.Sprintf("%d-day milestone already sent or chat not linked", result.Milestone)
	}
	respond(w, http.StatusOK, message, result)
}

type telegramSendRequest struct {
	Message string `json:"message" validate:"required,max=4096"`
}

func (a *Application) handleTelegramSend(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)
	var req telegramSendRequest
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Rewards.SendToUser(r.Context(), userID, req.Message); err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "message sent", nil)
}

func (a *Application) handleTelegramSendLatest(w http.ResponseWriter, r *http.Request) {
	userID, _ := getUserIDFromContext(r)
	text, err := a.Rewards.SendLatestFeedback(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "latest feedback sent", map[string]string{"message": text})
}

//
// Operational handlers
//

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]interface{}{"database": "ok", "cache": "ok"}
	if err := a.Store.Ping(ctx); err != nil {
		status["database"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, envelope{Success: false, Message: "database unavailable", Data: status})
		return
	}
	switch {
	case a.cacheBackend == nil:
		status["cache"] = "disabled"
	default:
		if err := a.Cache.Ping(ctx); err != nil {
			// The cache is optional; report it without failing the check.
			status["cache"] = err.Error()
		}
	}
	if schema, err := a.Store.SchemaVersion(ctx); err == nil {
		status["schema"] = schema
	}
	if summary, err := a.Store.GetMetrics(ctx, a.Calendar.Today()); err == nil {
		status["summary"] = summary
	}
	respond(w, http.StatusOK, "ok", status)
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	respondError(w, http.StatusNotFound, "route not found")
}

func handleMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

package storage

import (
	"context"
	"fmt"
)

const llmColumns = `response_id, log_id, message, response, tags, insight, mood_classification,
	created_at, updated_at`

// UpsertLlmResponse creates the feedback row for a log or overwrites every
// field of the existing one.
func (q queries) UpsertLlmResponse(ctx context.Context, r *LlmResponse) error {
	if r == nil || r.LogID <= 0 {
		return fmt.Errorf("%w: feedback must reference a log", ErrInvalidInput)
	}
	if r.Tags == "" {
		r.Tags = "[]"
	}

	query := `
		INSERT INTO llm_responses (log_id, message, response, tags, insight, mood_classification)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (log_id) DO UPDATE SET
			message = excluded.message,
			response = excluded.response,
			tags = excluded.tags,
			insight = excluded.insight,
			mood_classification = excluded.mood_classification,
			updated_at = CURRENT_TIMESTAMP`
	if _, err := q.exec(ctx, query, r.LogID, r.Message, r.Response, r.Tags, r.Insight, r.MoodClassification); err != nil {
		return fmt.Errorf("failed to upsert feedback for log %d: %w", r.LogID, err)
	}

	stored, err := q.GetLlmResponseByLog(ctx, r.LogID)
	if err != nil {
		return err
	}
	*r = *stored
	return nil
}

// GetLlmResponseByLog retrieves the feedback of a log.
func (q queries) GetLlmResponseByLog(ctx context.Context, logID int64) (*LlmResponse, error) {
	var r LlmResponse
	if err := q.get(ctx, &r, `SELECT `+llmColumns+` FROM llm_responses WHERE log_id = ?`, logID); err != nil {
		return nil, notFound(err, "feedback for log %d", logID)
	}
	return &r, nil
}

// GetLatestLlmResponse retrieves the feedback of the user's most recent log.
func (q queries) GetLatestLlmResponse(ctx context.Context, userID int64) (*LlmResponse, error) {
	var r LlmResponse
	query := `
		SELECT r.response_id, r.log_id, r.message, r.response, r.tags, r.insight,
			r.mood_classification, r.created_at, r.updated_at
		FROM llm_responses r
		JOIN daily_logs d ON d.log_id = r.log_id
		WHERE d.user_id = ?
		ORDER BY d.log_date DESC, r.updated_at DESC
		LIMIT 1`
	if err := q.get(ctx, &r, query, userID); err != nil {
		return nil, notFound(err, "latest feedback of user %d", userID)
	}
	return &r, nil
}

// ListLlmResponses returns the feedback rows of a user's logs keyed by log id.
func (q queries) ListLlmResponses(ctx context.Context, userID int64) (map[int64]LlmResponse, error) {
	var rows []LlmResponse
	query := `
		SELECT r.response_id, r.log_id, r.message, r.response, r.tags, r.insight,
			r.mood_classification, r.created_at, r.updated_at
		FROM llm_responses r
		JOIN daily_logs d ON d.log_id = r.log_id
		WHERE d.user_id = ?`
	if err := q.selectAll(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}

	byLog := make(map[int64]LlmResponse, len(rows))
	for _, r := range rows {
		byLog[r.LogID] = r
	}
	return byLog, nil
}

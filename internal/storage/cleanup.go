package storage

import (
	"context"
	"fmt"
	"time"
)

// CleanupTelegramLogs removes audit rows written before cutoff. Milestone
// claims live in their own table and are never pruned.
func (q queries) CleanupTelegramLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, fmt.Errorf("%w: cutoff cannot be zero", ErrInvalidInput)
	}

	result, err := q.exec(ctx, `DELETE FROM telegram_logs WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup telegram logs: %w", err)
	}

	return result.RowsAffected()
}

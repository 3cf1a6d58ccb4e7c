package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskIdempotencyCleanup expires stale idempotency records.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// IdempotencyCleaner removes idempotency records older than a cutoff.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupPayload sets the retention window for one run.
type IdempotencyCleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for record expiry.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// HandleIdempotencyCleanupTask returns a handler bound to the store.
func HandleIdempotencyCleanupTask(cleaner IdempotencyCleaner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		olderThan := payload.OlderThan
		if olderThan <= 0 {
			olderThan = 24 * time.Hour
		}
		if err := cleaner.Cleanup(ctx, olderThan); err != nil {
			return err
		}
		logger.Info("idempotency cleanup complete", slog.Duration("older_than", olderThan))
		return nil
	}
}

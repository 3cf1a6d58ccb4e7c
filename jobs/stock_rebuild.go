package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskStockRebuild recomputes every cached item quantity from the ledger.
	TaskStockRebuild = "stock:rebuild"
)

// StockRebuilder recomputes cached item quantities from ledger entries.
type StockRebuilder interface {
	RebuildAll(ctx context.Context) (int, error)
}

// StockRebuildPayload carries scheduling metadata.
type StockRebuildPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewStockRebuildTask constructs an Asynq task for projection rebuild.
func NewStockRebuildTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(StockRebuildPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockRebuild, body, asynq.Queue(QueueDefault)), nil
}

// HandleStockRebuildTask returns a handler bound to the rebuilder.
func HandleStockRebuildTask(rebuilder StockRebuilder, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload StockRebuildPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		repaired, err := rebuilder.RebuildAll(ctx)
		if err != nil {
			return err
		}
		logger.Info("stock rebuild complete",
			slog.Int("repaired", repaired),
			slog.Time("scheduled_for", payload.ScheduledFor))
		return nil
	}
}

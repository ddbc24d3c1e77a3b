package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/atlas-retail/atlas-pos/internal/ledger"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReindex replays one (money source, branch) balance chain.
	TaskLedgerReindex = "ledger:reindex"
	// TaskIntegrityScan sweeps all balance chains and queues reindexes for
	// the drifted ones.
	TaskIntegrityScan = "ledger:integrity-scan"
)

// ReindexPayload identifies the balance chain to replay.
type ReindexPayload struct {
	Source string `json:"money_source"`
	Branch string `json:"branch"`
}

// NewLedgerReindexTask constructs an Asynq task.
func NewLedgerReindexTask(payload ReindexPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReindex, data, asynq.MaxRetry(3)), nil
}

// NewIntegrityScanTask constructs the nightly scan task.
func NewIntegrityScanTask() *asynq.Task {
	return asynq.NewTask(TaskIntegrityScan, nil)
}

// NewReindexHandler processes TaskLedgerReindex tasks.
func NewReindexHandler(svc *ledger.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ReindexPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		balance, err := svc.Reindex(ctx, ledger.MoneySource(payload.Source), payload.Branch)
		if err != nil {
			return err
		}
		logger.Info("ledger reindexed",
			slog.String("source", payload.Source),
			slog.String("branch", payload.Branch),
			slog.Int64("final_balance", balance))
		return nil
	}
}

// NewIntegrityScanHandler processes TaskIntegrityScan tasks. Drifted pairs
// are enqueued for reindex rather than repaired inline so each repair runs
// under the per-pair serialization of its own task.
func NewIntegrityScanHandler(svc *ledger.Service, client *Client, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		pairs, err := svc.Pairs(ctx)
		if err != nil {
			return err
		}
		var drifted int
		for _, pair := range pairs {
			hasDrift, err := svc.CheckPair(ctx, pair.Source, pair.Branch)
			if err != nil {
				logger.Warn("integrity check failed",
					slog.String("source", string(pair.Source)),
					slog.String("branch", pair.Branch),
					slog.Any("error", err))
				continue
			}
			if !hasDrift {
				continue
			}
			drifted++
			if _, err := client.EnqueueLedgerReindex(ctx, ReindexPayload{
				Source: string(pair.Source), Branch: pair.Branch,
			}); err != nil {
				logger.Warn("enqueue reindex", slog.Any("error", err))
			}
		}
		logger.Info("integrity scan finished",
			slog.Int("pairs", len(pairs)), slog.Int("drifted", drifted))
		return nil
	}
}

package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskVoucherIntegrityScan re-checks persisted vouchers against the posting rules.
	TaskVoucherIntegrityScan = "voucher:integrity_scan"
	// TaskIdempotencyPurge drops idempotency keys past their retention window.
	TaskIdempotencyPurge = "idempotency:purge"
)

const (
	defaultScanBatch      = 200
	defaultRetentionHours = 72
)

// IntegrityScanPayload tunes a scan run. Zero values fall back to defaults.
type IntegrityScanPayload struct {
	BatchSize int   `json:"batch_size"`
	AfterID   int64 `json:"after_id"`
}

// IdempotencyPurgePayload sets how long claimed keys are kept.
type IdempotencyPurgePayload struct {
	RetentionHours int `json:"retention_hours"`
}

func (p IdempotencyPurgePayload) retention() time.Duration {
	if p.RetentionHours <= 0 {
		return defaultRetentionHours * time.Hour
	}
	return time.Duration(p.RetentionHours) * time.Hour
}

// NewIntegrityScanTask constructs an integrity scan task.
func NewIntegrityScanTask(payload IntegrityScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVoucherIntegrityScan, data), nil
}

// NewIdempotencyPurgeTask constructs a purge task.
func NewIdempotencyPurgeTask(payload IdempotencyPurgePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyPurge, data), nil
}

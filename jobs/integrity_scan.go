package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/jvledger/internal/accounting/vouchers"
	jobmetrics "github.com/odyssey-erp/jvledger/internal/jobs"
)

// VoucherSource pages through persisted vouchers by ascending id.
type VoucherSource interface {
	ListAfter(ctx context.Context, afterID int64, limit int) ([]vouchers.Voucher, error)
}

// ScanReport summarises one integrity scan.
type ScanReport struct {
	Scanned  int
	LastID   int64
	Findings []vouchers.Finding
}

// IntegrityScanJob re-checks stored vouchers and reports rule violations.
type IntegrityScanJob struct {
	Source  VoucherSource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIntegrityScanJob initialises the scan handler.
func NewIntegrityScanJob(source VoucherSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanJob {
	return &IntegrityScanJob{Source: source, Logger: logger, Metrics: metrics}
}

// Handle executes a scan for an asynq task.
func (j *IntegrityScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("integrity scan: handler not configured")
	}
	var payload IntegrityScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run scans every voucher after payload.AfterID. Findings are logged and
// counted; only read failures are returned as errors.
func (j *IntegrityScanJob) Run(ctx context.Context, payload IntegrityScanPayload) (report ScanReport, err error) {
	if j.Source == nil {
		return ScanReport{}, errors.New("integrity scan: source not configured")
	}
	batch := payload.BatchSize
	if batch <= 0 {
		batch = defaultScanBatch
	}

	tracker := j.Metrics.Track(TaskVoucherIntegrityScan)
	defer func() {
		err = tracker.End(err)
	}()

	start := time.Now()
	logger := j.logger().With(slog.Int("batch_size", batch), slog.Int64("after_id", payload.AfterID))
	logger.Info("starting voucher integrity scan")

	report.LastID = payload.AfterID
	for {
		page, err := j.Source.ListAfter(ctx, report.LastID, batch)
		if err != nil {
			logger.Error("scan failed", slog.Int64("last_id", report.LastID), slog.Any("error", err))
			return report, fmt.Errorf("integrity scan: list after %d: %w", report.LastID, err)
		}
		for _, v := range page {
			for _, f := range vouchers.CheckIntegrity(v) {
				logger.Warn("voucher integrity violation",
					slog.Int64("voucher_id", f.VoucherID),
					slog.String("jv_number", f.Number),
					slog.String("rule", f.Rule),
					slog.String("detail", f.Detail),
				)
				j.Metrics.AddFindings(f.Rule, 1)
				report.Findings = append(report.Findings, f)
			}
			report.Scanned++
			report.LastID = v.ID
		}
		if len(page) < batch {
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
	}

	logger.Info("completed voucher integrity scan",
		slog.Int("scanned", report.Scanned),
		slog.Int("findings", len(report.Findings)),
		slog.Duration("duration", time.Since(start)),
	)
	return report, nil
}

func (j *IntegrityScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

package task

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidRetention is returned for a non-positive retention window.
var ErrInvalidRetention = errors.New("invalid_screenshot_retention")

// ScreenshotClearer removes screenshots stored before a cutoff.
type ScreenshotClearer interface {
	ClearScreenshotsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type ScreenshotRetentionConfig struct {
	Retention time.Duration
	Now       func() time.Time
}

// ScreenshotRetentionJob drops screenshots once they outlive the retention window.
// Feedback text and metadata are kept.
type ScreenshotRetentionJob struct {
	clearer   ScreenshotClearer
	logger    *zap.Logger
	retention time.Duration
	now       func() time.Time
}

func NewScreenshotRetentionJob(clearer ScreenshotClearer, logger *zap.Logger, config ScreenshotRetentionConfig) (*ScreenshotRetentionJob, error) {
	if config.Retention <= 0 {
		return nil, ErrInvalidRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &ScreenshotRetentionJob{clearer: clearer, logger: logger, retention: config.Retention, now: now}, nil
}

// Run clears expired screenshots and returns the number of affected submissions.
func (job *ScreenshotRetentionJob) Run(ctx context.Context) (int64, error) {
	cutoff := job.now().UTC().Add(-job.retention)
	cleared, clearErr := job.clearer.ClearScreenshotsBefore(ctx, cutoff)
	if clearErr != nil {
		return 0, clearErr
	}
	if cleared > 0 {
		job.logger.Info("screenshots_expired", zap.Int64("cleared", cleared), zap.Time("cutoff", cutoff))
	}
	return cleared, nil
}

// Runner adapts Run to a scheduler, logging failures.
func (job *ScreenshotRetentionJob) Runner() RunnerFunc {
	return func(ctx context.Context) {
		if _, runErr := job.Run(ctx); runErr != nil {
			job.logger.Warn("screenshot_retention_failed", zap.Error(runErr))
		}
	}
}

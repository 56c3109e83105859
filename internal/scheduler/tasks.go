package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/kidtube/kidtube/internal/logging"
	"github.com/kidtube/kidtube/internal/metrics"
	"github.com/kidtube/kidtube/pkg/models"
)

// Task names
const (
	TaskSweepBonusGrants = "sweep-bonus-grants"
	TaskDailyReport      = "daily-report"
	TaskRetryWebhooks    = "retry-webhooks"
)

// GrantRetention is how long an expired bonus grant is kept before the sweep removes it
const GrantRetention = 24 * time.Hour

// GrantSweeper deletes expired bonus grants
type GrantSweeper interface {
	SweepExpiredGrants(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReportBuilder aggregates the daily report
type ReportBuilder interface {
	BuildDailyReport(ctx context.Context, now time.Time) (*models.DailyReport, error)
}

// ReportArchive stores a report and returns a link to it
type ReportArchive interface {
	UploadReport(ctx context.Context, report *models.DailyReport) (string, error)
}

// ReportNotifier sends the report to parents
type ReportNotifier interface {
	NotifyDailyReport(ctx context.Context, report *models.DailyReport, archiveURL string) error
}

// DeliveryRetrier retries failed webhook deliveries
type DeliveryRetrier interface {
	RetryPending(ctx context.Context) (int, error)
}

// SweepGrantsTask removes grants that expired more than GrantRetention ago.
// Running it twice removes nothing new.
func SweepGrantsTask(sweeper GrantSweeper, interval time.Duration) Task {
	return Task{
		Name:     TaskSweepBonusGrants,
		Schedule: Every(interval),
		Run: func(ctx context.Context, now time.Time) error {
			removed, err := sweeper.SweepExpiredGrants(ctx, now.Add(-GrantRetention))
			if err != nil {
				return fmt.Errorf("sweep bonus grants: %w", err)
			}
			metrics.RecordSweep(TaskSweepBonusGrants, removed)
			return nil
		},
	}
}

// DailyReportTask builds, archives and sends the daily report at hour in loc.
// archive may be nil; a failed upload still sends the report without a link.
func DailyReportTask(builder ReportBuilder, archive ReportArchive, notifier ReportNotifier, hour int, loc *time.Location, logger *logging.Logger) Task {
	if logger == nil {
		logger = logging.Nop()
	}
	return Task{
		Name:     TaskDailyReport,
		Schedule: DailyAt{Hour: hour, Location: loc},
		LockTTL:  12 * time.Hour,
		Run: func(ctx context.Context, now time.Time) error {
			report, err := builder.BuildDailyReport(ctx, now)
			if err != nil {
				return fmt.Errorf("build daily report: %w", err)
			}

			var archiveURL string
			if archive != nil {
				archiveURL, err = archive.UploadReport(ctx, report)
				if err != nil {
					metrics.RecordStorageOperation("upload_report", "failure")
					logger.WithError(err).WithField("day", report.Day).Warn("Failed to archive daily report")
					archiveURL = ""
				} else {
					metrics.RecordStorageOperation("upload_report", "success")
				}
			}

			if err := notifier.NotifyDailyReport(ctx, report, archiveURL); err != nil {
				return fmt.Errorf("notify daily report: %w", err)
			}
			return nil
		},
	}
}

// RetryWebhooksTask retries pending webhook deliveries
func RetryWebhooksTask(retrier DeliveryRetrier, interval time.Duration) Task {
	return Task{
		Name:     TaskRetryWebhooks,
		Schedule: Every(interval),
		Run: func(ctx context.Context, now time.Time) error {
			_, err := retrier.RetryPending(ctx)
			return err
		},
	}
}

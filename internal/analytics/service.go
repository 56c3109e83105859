// Package analytics aggregates ledger rows into watch statistics and the
// daily parent report.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/kidtube/kidtube/internal/ledger"
	"github.com/kidtube/kidtube/internal/logging"
	"github.com/kidtube/kidtube/internal/tracing"
	"github.com/kidtube/kidtube/pkg/models"
)

// Repository is the read side analytics needs
type Repository interface {
	GetKid(ctx context.Context, kidID int64) (*models.Kid, error)
	ListKids(ctx context.Context) ([]*models.Kid, error)
	CategoryWatchStats(ctx context.Context, kidID int64, day string) ([]models.CategoryWatchStats, error)
	CountPendingRequests(ctx context.Context, kidID int64) (int, error)
}

// Budgets resolves a kid's remaining allowance; *ledger.Service satisfies it
type Budgets interface {
	Location(kid *models.Kid) *time.Location
	RemainingFor(ctx context.Context, kid *models.Kid, now time.Time) (*models.RemainingBudget, error)
}

// Service handles watch statistics and report aggregation
type Service struct {
	repo    Repository
	budgets Budgets
	logger  *logging.Logger
}

// NewService creates a new analytics service
func NewService(repo Repository, budgets Budgets, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		repo:    repo,
		budgets: budgets,
		logger:  logger.WithComponent("analytics"),
	}
}

// WatchStats returns today and lifetime seconds per category, for one kid when
// kidID is set and across every kid otherwise. "Today" is each kid's own day.
func (s *Service) WatchStats(ctx context.Context, kidID *int64, now time.Time) (*models.WatchStats, error) {
	span, ctx := tracing.StartSpan(ctx, "analytics.WatchStats")
	defer tracing.FinishSpan(span)

	var kids []*models.Kid
	if kidID != nil {
		kid, err := s.repo.GetKid(ctx, *kidID)
		if err != nil {
			return nil, err
		}
		kids = []*models.Kid{kid}
	} else {
		all, err := s.repo.ListKids(ctx)
		if err != nil {
			return nil, err
		}
		kids = all
	}

	stats := &models.WatchStats{KidID: kidID, Categories: []models.CategoryWatchStats{}}
	if kidID != nil {
		stats.KidName = kids[0].Name
	}

	for _, kid := range kids {
		day := ledger.DayOf(now, s.budgets.Location(kid))
		rows, err := s.repo.CategoryWatchStats(ctx, kid.ID, day)
		if err != nil {
			return nil, fmt.Errorf("stats for kid %d: %w", kid.ID, err)
		}
		for _, row := range rows {
			stats.TodaySeconds += row.TodaySeconds
			stats.LifetimeSeconds += row.LifetimeSeconds
		}
		stats.Categories = append(stats.Categories, rows...)
	}

	return stats, nil
}

// BuildDailyReport summarises each kid's day as of now. The report day is
// taken in UTC; each kid line uses the kid's own calendar day.
func (s *Service) BuildDailyReport(ctx context.Context, now time.Time) (*models.DailyReport, error) {
	span, ctx := tracing.StartSpan(ctx, "analytics.BuildDailyReport")
	defer tracing.FinishSpan(span)

	kids, err := s.repo.ListKids(ctx)
	if err != nil {
		return nil, err
	}

	report := &models.DailyReport{
		Day:         ledger.DayOf(now, time.UTC),
		GeneratedAt: now,
		Kids:        make([]models.KidDailySummary, 0, len(kids)),
	}

	for _, kid := range kids {
		summary, err := s.summarize(ctx, kid, now)
		if err != nil {
			return nil, err
		}
		report.Kids = append(report.Kids, *summary)
	}

	s.logger.WithField("day", report.Day).WithField("kids", len(report.Kids)).Info("Daily report built")
	return report, nil
}

func (s *Service) summarize(ctx context.Context, kid *models.Kid, now time.Time) (*models.KidDailySummary, error) {
	budget, err := s.budgets.RemainingFor(ctx, kid, now)
	if err != nil {
		return nil, fmt.Errorf("budget for kid %d: %w", kid.ID, err)
	}
	categories, err := s.repo.CategoryWatchStats(ctx, kid.ID, budget.Day)
	if err != nil {
		return nil, fmt.Errorf("stats for kid %d: %w", kid.ID, err)
	}
	pending, err := s.repo.CountPendingRequests(ctx, kid.ID)
	if err != nil {
		return nil, fmt.Errorf("pending requests for kid %d: %w", kid.ID, err)
	}

	// Lifetime-only rows add nothing to a daily summary
	today := make([]models.CategoryWatchStats, 0, len(categories))
	for _, c := range categories {
		if c.TodaySeconds > 0 {
			today = append(today, c)
		}
	}

	return &models.KidDailySummary{
		KidID:            kid.ID,
		KidName:          kid.Name,
		WatchedSeconds:   budget.WatchedSeconds,
		RemainingSeconds: budget.OverallRemainingSeconds,
		PendingRequests:  pending,
		Categories:       today,
	}, nil
}

// Package access decides whether a kid may play a video right now.
//
// The decision is an ordered chain of rules; the first rule that returns a
// decision wins. Facts that are expensive to load (schedules, budget, request
// history) are fetched lazily by the rules that need them.
package access

import (
	"context"
	"time"

	"github.com/kidtube/kidtube/internal/availability"
	"github.com/kidtube/kidtube/internal/logging"
	"github.com/kidtube/kidtube/internal/metrics"
	"github.com/kidtube/kidtube/internal/tracing"
	"github.com/kidtube/kidtube/pkg/models"
)

// Store provides the read-only facts a decision needs
type Store interface {
	GetKid(ctx context.Context, kidID int64) (*models.Kid, error)
	GetCatalogEntry(ctx context.Context, videoYoutubeID string) (*models.CatalogEntry, error)
	ListSchedules(ctx context.Context, kidID int64) ([]models.ScheduleWindow, error)
	// HasApprovedRequest reports an approved video request for the video or channel request for the channel
	HasApprovedRequest(ctx context.Context, kidID int64, videoYoutubeID, channelYoutubeID string) (bool, error)
	// LatestRequest returns the newest request for the video or its channel, or nil
	LatestRequest(ctx context.Context, kidID int64, videoYoutubeID, channelYoutubeID string) (*models.AccessRequest, error)
}

// Budget reports a kid's remaining time
type Budget interface {
	RemainingFor(ctx context.Context, kid *models.Kid, now time.Time) (*models.RemainingBudget, error)
}

// Engine runs the rule chain
type Engine struct {
	store  Store
	budget Budget
	gate   *availability.Gate
	rules  []Rule
	logger *logging.Logger
}

// NewEngine creates an engine with the default rule chain
func NewEngine(store Store, budget Budget, gate *availability.Gate, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{
		store:  store,
		budget: budget,
		gate:   gate,
		rules:  DefaultRules(),
		logger: logger.WithComponent("access"),
	}
}

// Rules returns the names of the chain in evaluation order
func (e *Engine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name
	}
	return names
}

// Decide returns the verdict for kidID playing videoYoutubeID at now
func (e *Engine) Decide(ctx context.Context, kidID int64, videoYoutubeID string, now time.Time) (*models.Decision, error) {
	span, ctx := tracing.StartSpan(ctx, "access.Decide")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "kid_id", kidID)
	tracing.SetTag(span, "video_id", videoYoutubeID)

	start := time.Now()

	kid, err := e.store.GetKid(ctx, kidID)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}
	entry, err := e.store.GetCatalogEntry(ctx, videoYoutubeID)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	ev := &Evaluation{
		Kid:    kid,
		Entry:  entry,
		Now:    now,
		engine: e,
	}

	decision, err := e.run(ctx, ev)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	decision.KidID = kidID
	decision.VideoID = videoYoutubeID
	if ev.budget != nil {
		decision.RemainingSeconds = ev.budget.OverallRemainingSeconds
		decision.CategoryRemainingSeconds = ev.budget.Category(entry.LedgerCategoryID()).RemainingSeconds
	}

	metrics.RecordVerdict(string(decision.Verdict), time.Since(start).Seconds())
	e.logger.LogVerdict(kidID, videoYoutubeID, string(decision.Verdict), decision.Reason)
	tracing.SetTag(span, "verdict", string(decision.Verdict))

	return decision, nil
}

func (e *Engine) run(ctx context.Context, ev *Evaluation) (*models.Decision, error) {
	for _, rule := range e.rules {
		decision, err := rule.Check(ctx, ev)
		if err != nil {
			return nil, err
		}
		if decision != nil {
			return decision, nil
		}
	}
	return &models.Decision{Verdict: models.VerdictPlay, Reason: models.ReasonAllowed}, nil
}

// Evaluation carries the facts of one decision through the chain
type Evaluation struct {
	Kid   *models.Kid
	Entry *models.CatalogEntry
	Now   time.Time

	engine  *Engine
	budget  *models.RemainingBudget
	windows []models.ScheduleWindow
	loaded  bool
}

// Budget loads the kid's remaining budget once per evaluation
func (ev *Evaluation) Budget(ctx context.Context) (*models.RemainingBudget, error) {
	if ev.budget != nil {
		return ev.budget, nil
	}
	budget, err := ev.engine.budget.RemainingFor(ctx, ev.Kid, ev.Now)
	if err != nil {
		return nil, err
	}
	ev.budget = budget
	return budget, nil
}

// Schedules loads the kid's schedule windows once per evaluation
func (ev *Evaluation) Schedules(ctx context.Context) ([]models.ScheduleWindow, error) {
	if ev.loaded {
		return ev.windows, nil
	}
	windows, err := ev.engine.store.ListSchedules(ctx, ev.Kid.ID)
	if err != nil {
		return nil, err
	}
	ev.windows = windows
	ev.loaded = true
	return windows, nil
}

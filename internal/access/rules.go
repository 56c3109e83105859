package access

import (
	"context"

	"github.com/kidtube/kidtube/pkg/models"
)

// Rule inspects an evaluation and either returns a decision or nil to defer
// to the next rule
type Rule struct {
	Name  string
	Check func(ctx context.Context, ev *Evaluation) (*models.Decision, error)
}

// DefaultRules is the precedence chain, highest priority first
func DefaultRules() []Rule {
	return []Rule{
		{Name: "channel_blocked", Check: checkChannelBlocked},
		{Name: "disabled", Check: checkDisabled},
		{Name: "bedtime", Check: checkBedtime},
		{Name: "schedule", Check: checkSchedule},
		{Name: "budget", Check: checkBudget},
		{Name: "approval", Check: checkApproval},
	}
}

func decide(verdict models.Verdict, reason, detail string) *models.Decision {
	return &models.Decision{Verdict: verdict, Reason: reason, Detail: detail}
}

func checkChannelBlocked(ctx context.Context, ev *Evaluation) (*models.Decision, error) {
	if !ev.Entry.Channel.Blocked {
		return nil, nil
	}
	detail := ev.Entry.Channel.BlockedReason
	if detail == "" {
		detail = "Channel blocked by parent"
	}
	return decide(models.VerdictBlocked, models.ReasonChannelBlocked, detail), nil
}

func checkDisabled(ctx context.Context, ev *Evaluation) (*models.Decision, error) {
	if !ev.Entry.Channel.Enabled {
		return decide(models.VerdictBlocked, models.ReasonChannelDisabled, "Channel is disabled"), nil
	}
	if c := ev.Entry.Category; c != nil && !c.Enabled {
		return decide(models.VerdictBlocked, models.ReasonCategoryDisabled, "Category "+c.Name+" is disabled"), nil
	}
	return nil, nil
}

func checkBedtime(ctx context.Context, ev *Evaluation) (*models.Decision, error) {
	if !ev.engine.gate.BedtimeBlocked(ev.Kid, ev.Now) {
		return nil, nil
	}
	return decide(models.VerdictBedtime, models.ReasonBedtime, "It's bedtime"), nil
}

func checkSchedule(ctx context.Context, ev *Evaluation) (*models.Decision, error) {
	windows, err := ev.Schedules(ctx)
	if err != nil {
		return nil, err
	}
	if !ev.engine.gate.ScheduleBlocked(ev.Kid, windows, ev.Now) {
		return nil, nil
	}
	return decide(models.VerdictOutsideSchedule, models.ReasonSchedule, "Outside allowed schedule"), nil
}

func checkBudget(ctx context.Context, ev *Evaluation) (*models.Decision, error) {
	budget, err := ev.Budget(ctx)
	if err != nil {
		return nil, err
	}
	if budget.OverallExhausted() {
		return decide(models.VerdictOutOfTime, models.ReasonDailyLimit, "Daily watch limit reached"), nil
	}
	if budget.Category(ev.Entry.LedgerCategoryID()).Exhausted() {
		return decide(models.VerdictOutOfTime, models.ReasonCategoryLimit, "Category watch limit reached"), nil
	}
	return nil, nil
}

func checkApproval(ctx context.Context, ev *Evaluation) (*models.Decision, error) {
	store := ev.engine.store
	videoID := ev.Entry.Video.YoutubeID
	channelID := ev.Entry.Channel.YoutubeID

	var approved bool
	var err error
	if !ev.Entry.Channel.Allowed {
		// A video grant outlives any later request for its channel
		approved, err = store.HasApprovedRequest(ctx, ev.Kid.ID, videoID, "")
	} else if ev.Kid.RequireParentApproval {
		approved, err = store.HasApprovedRequest(ctx, ev.Kid.ID, videoID, channelID)
	} else {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if approved {
		return nil, nil
	}

	latest, err := store.LatestRequest(ctx, ev.Kid.ID, videoID, channelID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return decide(models.VerdictDenied, models.ReasonApprovalRequired, "Parent approval required"), nil
	}

	var d *models.Decision
	switch latest.Status {
	case models.RequestStatusPending:
		d = decide(models.VerdictPending, models.ReasonRequestPending, "Waiting for parent approval")
	case models.RequestStatusDenied:
		d = decide(models.VerdictDenied, models.ReasonRequestDenied, "Request denied by parent")
	default:
		return nil, nil
	}
	id := latest.ID
	d.RequestID = &id
	return d, nil
}

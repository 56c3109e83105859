// Package ledger books watch time against a kid's daily budgets and reports
// what is left. Every call takes the current instant explicitly.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/kidtube/kidtube/internal/apperr"
	"github.com/kidtube/kidtube/internal/logging"
	"github.com/kidtube/kidtube/internal/metrics"
	"github.com/kidtube/kidtube/internal/tracing"
	"github.com/kidtube/kidtube/pkg/models"
)

// DefaultMaxDeltaSeconds caps one heartbeat when no cap is configured
const DefaultMaxDeltaSeconds = 120

// DefaultHeartbeatGap is the minimum spacing of booked heartbeats from one stream
const DefaultHeartbeatGap = 8 * time.Second

// heartbeatTTL is how long a stream's last heartbeat is remembered
const heartbeatTTL = time.Hour

// Store is the persistence the ledger needs
type Store interface {
	GetKid(ctx context.Context, kidID int64) (*models.Kid, error)
	GetCatalogEntry(ctx context.Context, videoYoutubeID string) (*models.CatalogEntry, error)
	ActiveBonusMinutes(ctx context.Context, kidID int64, now time.Time) (int, error)
	// EffectiveCategoryLimits maps category id to minutes: kid override, else category default
	EffectiveCategoryLimits(ctx context.Context, kidID int64) (map[int64]int, error)
	DailyUsage(ctx context.Context, kidID int64, day string) ([]models.WatchLedgerEntry, error)
	// IncrementWatch clamps and books inc under a per-kid lock
	IncrementWatch(ctx context.Context, inc models.LedgerIncrement) (*models.LedgerWrite, error)
}

// Pacer remembers when each playback stream last booked time
type Pacer interface {
	// MarkHeartbeat returns the time since the previous accepted heartbeat of
	// key, zero for the first, and false when now is within minGap of it
	MarkHeartbeat(ctx context.Context, key string, now time.Time, minGap, ttl time.Duration) (time.Duration, bool, error)
}

// Config tunes the service
type Config struct {
	MaxDeltaSeconds int
	HeartbeatGap    time.Duration
	DefaultLocation *time.Location
}

// Service implements accrual and remaining-budget reads
type Service struct {
	store        Store
	pacer        Pacer
	maxDelta     int64
	heartbeatGap time.Duration
	defaultLoc   *time.Location
	logger       *logging.Logger
}

// NewService creates a ledger service
func NewService(store Store, cfg Config, logger *logging.Logger) *Service {
	maxDelta := int64(cfg.MaxDeltaSeconds)
	if maxDelta < 1 {
		maxDelta = DefaultMaxDeltaSeconds
	}
	loc := cfg.DefaultLocation
	if loc == nil {
		loc = time.UTC
	}
	gap := cfg.HeartbeatGap
	if gap <= 0 {
		gap = DefaultHeartbeatGap
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		store:        store,
		maxDelta:     maxDelta,
		heartbeatGap: gap,
		defaultLoc:   loc,
		logger:       logger.WithComponent("ledger"),
	}
}

// WithPacer paces Heartbeat by wall-clock time per stream
func (s *Service) WithPacer(p Pacer) *Service {
	s.pacer = p
	return s
}

// DayOf returns the calendar day of now in loc as YYYY-MM-DD
func DayOf(now time.Time, loc *time.Location) string {
	return now.In(loc).Format("2006-01-02")
}

// IsWeekend reports whether now is a Saturday or Sunday in loc
func IsWeekend(now time.Time, loc *time.Location) bool {
	switch now.In(loc).Weekday() {
	case time.Saturday, time.Sunday:
		return true
	}
	return false
}

// OverallLimitSeconds computes the kid's overall ceiling for a day.
// Nil means unlimited; bonus and weekend minutes only extend a finite limit.
func OverallLimitSeconds(kid *models.Kid, weekend bool, bonusMinutes int) *int64 {
	if kid.DailyLimitMinutes == nil {
		return nil
	}
	minutes := *kid.DailyLimitMinutes + bonusMinutes
	if weekend {
		minutes += kid.WeekendBonusMinutes
	}
	secs := int64(minutes) * 60
	return &secs
}

// Location resolves the kid's timezone against the service default
func (s *Service) Location(kid *models.Kid) *time.Location {
	return kid.Location(s.defaultLoc)
}

func validateDelta(videoYoutubeID string, secondsDelta int64) error {
	if secondsDelta < 1 {
		return apperr.Validation("seconds_delta must be at least 1")
	}
	if videoYoutubeID == "" {
		return apperr.Validation("video_id is required")
	}
	return nil
}

// Accrue books secondsDelta of watching videoYoutubeID for the kid and returns the budget after the write
func (s *Service) Accrue(ctx context.Context, kidID int64, videoYoutubeID string, secondsDelta int64, now time.Time) (*models.AccrualResult, error) {
	span, ctx := tracing.StartSpan(ctx, "ledger.Accrue")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "kid_id", kidID)

	if err := validateDelta(videoYoutubeID, secondsDelta); err != nil {
		return nil, err
	}
	return s.accrue(ctx, span, kidID, videoYoutubeID, secondsDelta, secondsDelta, now)
}

// Heartbeat is Accrue for one playback stream, such as a device session.
// The booked delta never exceeds the wall-clock time since the stream's
// previous accepted heartbeat, and a heartbeat inside the minimum gap books
// nothing. Streams are paced independently, so two devices both count.
func (s *Service) Heartbeat(ctx context.Context, stream string, kidID int64, videoYoutubeID string, secondsDelta int64, now time.Time) (*models.AccrualResult, error) {
	span, ctx := tracing.StartSpan(ctx, "ledger.Heartbeat")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "kid_id", kidID)

	if err := validateDelta(videoYoutubeID, secondsDelta); err != nil {
		return nil, err
	}
	if s.pacer == nil || stream == "" {
		return s.accrue(ctx, span, kidID, videoYoutubeID, secondsDelta, secondsDelta, now)
	}

	elapsed, accepted, err := s.pacer.MarkHeartbeat(ctx, heartbeatKey(kidID, stream), now, s.heartbeatGap, heartbeatTTL)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	booked := secondsDelta
	switch {
	case !accepted:
		booked = 0
		s.logger.WithKidID(kidID).Debug("heartbeat inside minimum gap")
	case elapsed > 0:
		if secs := int64(elapsed / time.Second); secs < booked {
			booked = secs
		}
	}
	return s.accrue(ctx, span, kidID, videoYoutubeID, secondsDelta, booked, now)
}

func heartbeatKey(kidID int64, stream string) string {
	return fmt.Sprintf("heartbeat:%d:%s", kidID, stream)
}

// accrue books at most booked seconds, further capped at the max delta.
// reported is what the client claimed and is only recorded.
func (s *Service) accrue(ctx context.Context, span opentracing.Span, kidID int64, videoYoutubeID string, reported, booked int64, now time.Time) (*models.AccrualResult, error) {
	kid, err := s.store.GetKid(ctx, kidID)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}
	entry, err := s.store.GetCatalogEntry(ctx, videoYoutubeID)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	loc := s.Location(kid)
	day := DayOf(now, loc)
	weekend := IsWeekend(now, loc)

	bonus, err := s.store.ActiveBonusMinutes(ctx, kidID, now)
	if err != nil {
		return nil, err
	}
	limits, err := s.store.EffectiveCategoryLimits(ctx, kidID)
	if err != nil {
		return nil, err
	}

	categoryID := entry.LedgerCategoryID()
	ceilings := models.Ceilings{OverallSeconds: OverallLimitSeconds(kid, weekend, bonus)}
	if categoryID != models.UncategorizedID {
		if minutes, ok := limits[categoryID]; ok {
			secs := int64(minutes) * 60
			ceilings.CategorySeconds = &secs
		}
	}

	delta := booked
	if delta > s.maxDelta {
		delta = s.maxDelta
	}

	write, err := s.store.IncrementWatch(ctx, models.LedgerIncrement{
		KidID:        kidID,
		Day:          day,
		CategoryID:   categoryID,
		SecondsDelta: delta,
		Ceilings:     ceilings,
		At:           now,
	})
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	budget := Compute(kid, day, weekend, bonus, limits, write.CategoryEntries)
	result := &models.AccrualResult{
		RemainingBudget: *budget,
		CategoryID:      categoryID,
		ReportedSeconds: reported,
		AppliedSeconds:  write.AppliedSeconds,
	}
	result.CategoryRemainingSeconds = budget.Category(categoryID).RemainingSeconds

	metrics.RecordAccrual(reported, write.AppliedSeconds)
	s.logger.LogAccrual(kidID, categoryID, day, reported, write.AppliedSeconds)
	tracing.SetTag(span, "applied_seconds", write.AppliedSeconds)

	return result, nil
}

// Remaining reads the kid's budget for the day containing now
func (s *Service) Remaining(ctx context.Context, kidID int64, now time.Time) (*models.RemainingBudget, error) {
	span, ctx := tracing.StartSpan(ctx, "ledger.Remaining")
	defer tracing.FinishSpan(span)

	kid, err := s.store.GetKid(ctx, kidID)
	if err != nil {
		return nil, err
	}
	return s.RemainingFor(ctx, kid, now)
}

// RemainingFor is Remaining for an already loaded kid
func (s *Service) RemainingFor(ctx context.Context, kid *models.Kid, now time.Time) (*models.RemainingBudget, error) {
	loc := s.Location(kid)
	day := DayOf(now, loc)

	bonus, err := s.store.ActiveBonusMinutes(ctx, kid.ID, now)
	if err != nil {
		return nil, err
	}
	limits, err := s.store.EffectiveCategoryLimits(ctx, kid.ID)
	if err != nil {
		return nil, err
	}
	usage, err := s.store.DailyUsage(ctx, kid.ID, day)
	if err != nil {
		return nil, err
	}

	return Compute(kid, day, IsWeekend(now, loc), bonus, limits, usage), nil
}

// Compute derives a budget from limits and today's ledger rows
func Compute(kid *models.Kid, day string, weekend bool, bonusMinutes int, limits map[int64]int, usage []models.WatchLedgerEntry) *models.RemainingBudget {
	budget := &models.RemainingBudget{
		KidID:               kid.ID,
		Day:                 day,
		Weekend:             weekend,
		BonusSeconds:        int64(bonusMinutes) * 60,
		OverallLimitSeconds: OverallLimitSeconds(kid, weekend, bonusMinutes),
		Categories:          []models.CategoryBudget{},
	}

	watched := make(map[int64]int64, len(usage))
	for _, e := range usage {
		if e.Day != "" && e.Day != day {
			continue
		}
		watched[e.CategoryID] += e.SecondsWatched
		budget.WatchedSeconds += e.SecondsWatched
	}

	if budget.OverallLimitSeconds != nil {
		budget.OverallRemainingSeconds = remaining(*budget.OverallLimitSeconds, budget.WatchedSeconds)
	}

	ids := make(map[int64]struct{}, len(limits)+len(watched))
	for id := range limits {
		ids[id] = struct{}{}
	}
	for id := range watched {
		ids[id] = struct{}{}
	}

	for id := range ids {
		cb := models.CategoryBudget{CategoryID: id, WatchedSeconds: watched[id]}
		if minutes, ok := limits[id]; ok && id != models.UncategorizedID {
			limit := int64(minutes) * 60
			cb.LimitSeconds = &limit
			cb.RemainingSeconds = remaining(limit, cb.WatchedSeconds)
		}
		budget.Categories = append(budget.Categories, cb)
	}
	sort.Slice(budget.Categories, func(i, j int) bool {
		return budget.Categories[i].CategoryID < budget.Categories[j].CategoryID
	})

	return budget
}

func remaining(limit, watched int64) *int64 {
	r := limit - watched
	if r < 0 {
		r = 0
	}
	return &r
}

// Clamp returns how much of delta fits under the ceilings given current totals
func Clamp(delta, dayTotal, categoryTotal int64, c models.Ceilings) int64 {
	applied := delta
	if c.OverallSeconds != nil {
		if room := *c.OverallSeconds - dayTotal; room < applied {
			applied = room
		}
	}
	if c.CategorySeconds != nil {
		if room := *c.CategorySeconds - categoryTotal; room < applied {
			applied = room
		}
	}
	if applied < 0 {
		applied = 0
	}
	return applied
}

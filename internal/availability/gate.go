// Package availability decides whether the time of day admits viewing,
// independent of any budget. Every check here is a pure function of its inputs.
package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kidtube/kidtube/internal/apperr"
	"github.com/kidtube/kidtube/pkg/models"
)

// Policy controls how weekdays without schedule rows are treated
type Policy string

const (
	// PolicyExhaustive blocks a day that has no rows once the kid has any row
	PolicyExhaustive Policy = "exhaustive"
	// PolicyPerDay leaves days without rows unrestricted
	PolicyPerDay Policy = "per_day"
)

// ParsePolicy validates a configured policy name
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyExhaustive, PolicyPerDay:
		return Policy(s), nil
	case "":
		return PolicyExhaustive, nil
	}
	return "", fmt.Errorf("unknown schedule policy %q", s)
}

// ParseClock parses "HH:MM" or "HH:MM:SS" into seconds since midnight
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, apperr.Validation("invalid time %q, expected HH:MM", s)
	}

	limits := []int{23, 59, 59}
	total := 0
	for i, p := range parts {
		if len(p) != 2 {
			return 0, apperr.Validation("invalid time %q, expected HH:MM", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, apperr.Validation("invalid time %q, expected HH:MM", s)
		}
		total = total*60 + n
	}
	if len(parts) == 2 {
		total *= 60
	}
	return total, nil
}

// SecondOfDay returns the wall-clock offset of t from its local midnight
func SecondOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// InWindow reports whether sec falls in [start, end), wrapping midnight when end < start.
// start == end is an empty window.
func InWindow(start, end, sec int) bool {
	switch {
	case start == end:
		return false
	case start < end:
		return sec >= start && sec < end
	default:
		return sec >= start || sec < end
	}
}

func clockWindow(start, end string) (int, int, bool) {
	s, err := ParseClock(start)
	if err != nil {
		return 0, 0, false
	}
	e, err := ParseClock(end)
	if err != nil {
		return 0, 0, false
	}
	return s, e, true
}

// BedtimeBlocked reports whether local falls inside the kid's bedtime.
// local must already be in the kid's timezone.
// A missing start or end disables the check.
func BedtimeBlocked(kid *models.Kid, local time.Time) bool {
	if kid.BedtimeStart == nil || kid.BedtimeEnd == nil {
		return false
	}
	start, end, ok := clockWindow(*kid.BedtimeStart, *kid.BedtimeEnd)
	if !ok {
		return false
	}
	return InWindow(start, end, SecondOfDay(local))
}

// ScheduleBlocked reports whether local falls outside every schedule window
// of its weekday. A kid with no windows is never blocked.
func ScheduleBlocked(windows []models.ScheduleWindow, local time.Time, policy Policy) bool {
	if len(windows) == 0 {
		return false
	}

	day := models.WeekdayIndex(local.Weekday())
	sec := SecondOfDay(local)

	rowsToday := 0
	for _, w := range windows {
		if w.DayOfWeek != day {
			continue
		}
		rowsToday++
		start, end, ok := clockWindow(w.StartTime, w.EndTime)
		if ok && InWindow(start, end, sec) {
			return false
		}
	}

	if rowsToday == 0 && policy == PolicyPerDay {
		return false
	}
	return true
}

// Gate binds the pure checks to a schedule policy and default timezone
type Gate struct {
	policy     Policy
	defaultLoc *time.Location
}

// NewGate creates a gate. A nil location means UTC.
func NewGate(policy Policy, defaultLoc *time.Location) *Gate {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &Gate{policy: policy, defaultLoc: defaultLoc}
}

// Policy returns the configured schedule policy
func (g *Gate) Policy() Policy {
	return g.policy
}

// Local converts now to the kid's wall clock
func (g *Gate) Local(kid *models.Kid, now time.Time) time.Time {
	return now.In(kid.Location(g.defaultLoc))
}

// BedtimeBlocked evaluates bedtime at now in the kid's timezone
func (g *Gate) BedtimeBlocked(kid *models.Kid, now time.Time) bool {
	return BedtimeBlocked(kid, g.Local(kid, now))
}

// ScheduleBlocked evaluates the kid's schedule at now in the kid's timezone
func (g *Gate) ScheduleBlocked(kid *models.Kid, windows []models.ScheduleWindow, now time.Time) bool {
	return ScheduleBlocked(windows, g.Local(kid, now), g.policy)
}

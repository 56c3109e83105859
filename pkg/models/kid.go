package models

import (
	"time"
)

// Kid represents a child profile and its viewing allowances
type Kid struct {
	ID                    int64     `json:"id" db:"id"`
	Name                  string    `json:"name" db:"name"`
	DailyLimitMinutes     *int      `json:"daily_limit_minutes" db:"daily_limit_minutes"`
	WeekendBonusMinutes   int       `json:"weekend_bonus_minutes" db:"weekend_bonus_minutes"`
	BedtimeStart          *string   `json:"bedtime_start" db:"bedtime_start"`
	BedtimeEnd            *string   `json:"bedtime_end" db:"bedtime_end"`
	RequireParentApproval bool      `json:"require_parent_approval" db:"require_parent_approval"`
	PINHash               string    `json:"-" db:"pin_hash"`
	Timezone              string    `json:"timezone" db:"timezone"`
	CreatedAt             time.Time `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time `json:"updated_at" db:"updated_at"`
}

// HasPIN reports whether selecting this kid requires a PIN
func (k *Kid) HasPIN() bool {
	return k.PINHash != ""
}

// Location resolves the kid's timezone, falling back to def when unset or unknown
func (k *Kid) Location(def *time.Location) *time.Location {
	if def == nil {
		def = time.UTC
	}
	if k.Timezone == "" {
		return def
	}
	loc, err := time.LoadLocation(k.Timezone)
	if err != nil {
		return def
	}
	return loc
}

// ScheduleWindow is an allowed viewing interval [StartTime, EndTime) on one weekday.
// DayOfWeek uses Monday = 0 through Sunday = 6.
type ScheduleWindow struct {
	ID        int64     `json:"id" db:"id"`
	KidID     int64     `json:"kid_id" db:"kid_id"`
	DayOfWeek int       `json:"day_of_week" db:"day_of_week"`
	StartTime string    `json:"start_time" db:"start_time"`
	EndTime   string    `json:"end_time" db:"end_time"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// BonusGrant adds minutes to a kid's overall daily budget until it expires
type BonusGrant struct {
	ID        int64      `json:"id" db:"id"`
	KidID     int64      `json:"kid_id" db:"kid_id"`
	Minutes   int        `json:"minutes" db:"minutes"`
	ExpiresAt *time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Active reports whether the grant still counts at now
func (g *BonusGrant) Active(now time.Time) bool {
	return g.ExpiresAt == nil || now.Before(*g.ExpiresAt)
}

// WeekdayIndex converts a time.Weekday to the Monday = 0 convention used by schedules
func WeekdayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

package models

import "time"

// WatchLedgerEntry accumulates seconds watched for one kid, day and category
type WatchLedgerEntry struct {
	KidID          int64     `json:"kid_id" db:"kid_id"`
	Day            string    `json:"day" db:"day"`
	CategoryID     int64     `json:"category_id" db:"category_id"`
	SecondsWatched int64     `json:"seconds_watched" db:"seconds_watched"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Ceilings are the budgets an accrual may not push a ledger past.
// A nil value means no ceiling.
type Ceilings struct {
	OverallSeconds  *int64
	CategorySeconds *int64
}

// LedgerIncrement describes one atomic accrual against the ledger
type LedgerIncrement struct {
	KidID        int64
	Day          string
	CategoryID   int64
	SecondsDelta int64
	Ceilings     Ceilings
	At           time.Time
}

// LedgerWrite is what the store actually booked for an increment
type LedgerWrite struct {
	AppliedSeconds  int64
	DayTotal        int64
	CategoryTotal   int64
	CategoryEntries []WatchLedgerEntry
}

// CategoryBudget is the remaining allowance for one category today.
// Nil limit/remaining means unlimited.
type CategoryBudget struct {
	CategoryID       int64  `json:"category_id"`
	LimitSeconds     *int64 `json:"limit_seconds"`
	WatchedSeconds   int64  `json:"watched_seconds"`
	RemainingSeconds *int64 `json:"remaining_seconds"`
}

// Exhausted reports whether the category has no time left
func (b CategoryBudget) Exhausted() bool {
	return b.RemainingSeconds != nil && *b.RemainingSeconds <= 0
}

// RemainingBudget summarises a kid's allowance for the current day
type RemainingBudget struct {
	KidID                   int64            `json:"kid_id"`
	Day                     string           `json:"day"`
	Weekend                 bool             `json:"weekend"`
	BonusSeconds            int64            `json:"bonus_seconds"`
	OverallLimitSeconds     *int64           `json:"overall_limit_seconds"`
	WatchedSeconds          int64            `json:"watched_seconds"`
	OverallRemainingSeconds *int64           `json:"remaining_seconds"`
	Categories              []CategoryBudget `json:"categories"`
}

// OverallExhausted reports whether the overall daily budget is used up
func (b *RemainingBudget) OverallExhausted() bool {
	return b.OverallRemainingSeconds != nil && *b.OverallRemainingSeconds <= 0
}

// Category returns the budget for categoryID, or an unlimited budget when none applies
func (b *RemainingBudget) Category(categoryID int64) CategoryBudget {
	for _, c := range b.Categories {
		if c.CategoryID == categoryID {
			return c
		}
	}
	return CategoryBudget{CategoryID: categoryID}
}

// AccrualResult is returned from a ledger accrue call
type AccrualResult struct {
	RemainingBudget
	CategoryID               int64  `json:"category_id"`
	CategoryRemainingSeconds *int64 `json:"category_remaining_seconds"`
	ReportedSeconds          int64  `json:"reported_seconds"`
	AppliedSeconds           int64  `json:"applied_seconds"`
}

package models

import "time"

// CategoryWatchStats is watch time for one kid in one category
type CategoryWatchStats struct {
	KidID           int64  `json:"kid_id"`
	KidName         string `json:"kid_name"`
	CategoryID      int64  `json:"category_id"`
	CategoryName    string `json:"category_name"`
	TodaySeconds    int64  `json:"today_seconds"`
	LifetimeSeconds int64  `json:"lifetime_seconds"`
}

// WatchStats aggregates watch time, optionally for one kid
type WatchStats struct {
	KidID           *int64               `json:"kid_id"`
	KidName         string               `json:"kid_name,omitempty"`
	TodaySeconds    int64                `json:"today_seconds"`
	LifetimeSeconds int64                `json:"lifetime_seconds"`
	Categories      []CategoryWatchStats `json:"categories"`
}

// KidDailySummary is one kid's line in the daily report
type KidDailySummary struct {
	KidID            int64                `json:"kid_id"`
	KidName          string               `json:"kid_name"`
	WatchedSeconds   int64                `json:"watched_seconds"`
	RemainingSeconds *int64               `json:"remaining_seconds"`
	PendingRequests  int                  `json:"pending_requests"`
	Categories       []CategoryWatchStats `json:"categories"`
}

// DailyReport is archived and sent to parents once per day
type DailyReport struct {
	Day         string            `json:"day"`
	GeneratedAt time.Time         `json:"generated_at"`
	Kids        []KidDailySummary `json:"kids"`
}

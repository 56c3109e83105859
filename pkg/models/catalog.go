package models

import "time"

// UncategorizedID is the ledger bucket for videos whose channel has no category
const UncategorizedID int64 = 0

// Category groups channels and may carry a default daily limit
type Category struct {
	ID                       int64     `json:"id" db:"id"`
	Name                     string    `json:"name" db:"name"`
	Enabled                  bool      `json:"enabled" db:"enabled"`
	DefaultDailyLimitMinutes *int      `json:"default_daily_limit_minutes" db:"default_daily_limit_minutes"`
	CreatedAt                time.Time `json:"created_at" db:"created_at"`
}

// CategoryLimit overrides a category's default limit for one kid
type CategoryLimit struct {
	KidID             int64 `json:"kid_id" db:"kid_id"`
	CategoryID        int64 `json:"category_id" db:"category_id"`
	DailyLimitMinutes int   `json:"daily_limit_minutes" db:"daily_limit_minutes"`
}

// Channel is a video source. Blocked outranks Allowed.
type Channel struct {
	ID            int64     `json:"id" db:"id"`
	YoutubeID     string    `json:"youtube_id" db:"youtube_id"`
	Title         string    `json:"title" db:"title"`
	CategoryID    *int64    `json:"category_id" db:"category_id"`
	Allowed       bool      `json:"allowed" db:"allowed"`
	Enabled       bool      `json:"enabled" db:"enabled"`
	Blocked       bool      `json:"blocked" db:"blocked"`
	BlockedReason string    `json:"blocked_reason,omitempty" db:"blocked_reason"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Video is a single playable item on a channel
type Video struct {
	ID              int64     `json:"id" db:"id"`
	YoutubeID       string    `json:"youtube_id" db:"youtube_id"`
	ChannelID       int64     `json:"channel_id" db:"channel_id"`
	Title           string    `json:"title" db:"title"`
	DurationSeconds int       `json:"duration_seconds" db:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// CatalogEntry is a video joined with its channel and, when set, its category
type CatalogEntry struct {
	Video    Video
	Channel  Channel
	Category *Category
}

// LedgerCategoryID returns the category bucket watch time for this entry is booked to.
// Missing and disabled categories book to the uncategorized bucket.
func (e *CatalogEntry) LedgerCategoryID() int64 {
	if e.Category == nil || !e.Category.Enabled {
		return UncategorizedID
	}
	return e.Category.ID
}

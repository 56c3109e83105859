package models

import "time"

// AccessRequest is a kid-initiated ask for permission, resolved once by a parent
type AccessRequest struct {
	ID              int64      `json:"id" db:"id"`
	KidID           int64      `json:"kid_id" db:"kid_id"`
	Type            string     `json:"type" db:"type"`
	TargetYoutubeID string     `json:"youtube_id" db:"target_youtube_id"`
	Status          string     `json:"status" db:"status"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	DecidedAt       *time.Time `json:"decided_at,omitempty" db:"decided_at"`
}

// IsPending reports whether the request can still be decided
func (r *AccessRequest) IsPending() bool {
	return r.Status == RequestStatusPending
}

// Request types
const (
	RequestTypeVideo   = "video"
	RequestTypeChannel = "channel"
	RequestTypeBonus   = "bonus"
)

// Request statuses
const (
	RequestStatusPending  = "pending"
	RequestStatusApproved = "approved"
	RequestStatusDenied   = "denied"
)

// ValidRequestStatus reports whether s is a known status
func ValidRequestStatus(s string) bool {
	switch s {
	case RequestStatusPending, RequestStatusApproved, RequestStatusDenied:
		return true
	}
	return false
}

// RequestEvent is published whenever a request is created or decided
type RequestEvent struct {
	Event      string        `json:"event"`
	Request    AccessRequest `json:"request"`
	KidName    string        `json:"kid_name,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Request event names
const (
	EventRequestSubmitted = "request.submitted"
	EventRequestApproved  = "request.approved"
	EventRequestDenied    = "request.denied"
)

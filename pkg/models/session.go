package models

// SessionState is the server-side state bound to an opaque session id
type SessionState struct {
	ID           string `json:"-"`
	KidID        *int64 `json:"kid_id"`
	PendingKidID *int64 `json:"pending_kid_id"`
	IsAdmin      bool   `json:"is_admin"`
}

// KidSelection is returned when a kid profile is picked
type KidSelection struct {
	KidID       int64 `json:"kid_id"`
	PINRequired bool  `json:"pin_required"`
}

package models

// Verdict is the single outcome of an access decision
type Verdict string

const (
	VerdictPlay            Verdict = "play"
	VerdictPending         Verdict = "pending"
	VerdictDenied          Verdict = "denied"
	VerdictBlocked         Verdict = "blocked"
	VerdictOutOfTime       Verdict = "out_of_time"
	VerdictBedtime         Verdict = "bedtime"
	VerdictOutsideSchedule Verdict = "outside_schedule"
)

// Decision reasons
const (
	ReasonChannelBlocked   = "channel_blocked"
	ReasonChannelDisabled  = "channel_disabled"
	ReasonCategoryDisabled = "category_disabled"
	ReasonBedtime          = "bedtime"
	ReasonSchedule         = "schedule"
	ReasonDailyLimit       = "daily_limit"
	ReasonCategoryLimit    = "category_limit"
	ReasonRequestPending   = "request_pending"
	ReasonRequestDenied    = "request_denied"
	ReasonApprovalRequired = "approval_required"
	ReasonAllowed          = "allowed"
)

// Decision is the verdict for a kid, video and instant with its supporting facts
type Decision struct {
	KidID                    int64   `json:"kid_id"`
	VideoID                  string  `json:"video_id"`
	Verdict                  Verdict `json:"verdict"`
	Reason                   string  `json:"reason"`
	Detail                   string  `json:"detail,omitempty"`
	RemainingSeconds         *int64  `json:"remaining_seconds"`
	CategoryRemainingSeconds *int64  `json:"category_remaining_seconds"`
	RequestID                *int64  `json:"request_id,omitempty"`
}

// Allowed reports whether playback may proceed
func (d *Decision) Allowed() bool {
	return d.Verdict == VerdictPlay
}

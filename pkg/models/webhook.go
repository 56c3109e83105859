package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Webhook represents a parent notification endpoint
type Webhook struct {
	ID        string        `json:"id" db:"id"`
	URL       string        `json:"url" db:"url"`
	Events    WebhookEvents `json:"events" db:"events"`
	Secret    string        `json:"secret,omitempty" db:"secret"`
	Format    string        `json:"format" db:"format"`
	IsActive  bool          `json:"is_active" db:"is_active"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

// WebhookEvents holds the events a webhook subscribes to
type WebhookEvents struct {
	RequestSubmitted bool `json:"request_submitted"`
	RequestApproved  bool `json:"request_approved"`
	RequestDenied    bool `json:"request_denied"`
	DailyReport      bool `json:"daily_report"`
}

// Subscribed reports whether the webhook wants event
func (we WebhookEvents) Subscribed(event string) bool {
	switch event {
	case EventRequestSubmitted:
		return we.RequestSubmitted
	case EventRequestApproved:
		return we.RequestApproved
	case EventRequestDenied:
		return we.RequestDenied
	case WebhookEventDailyReport:
		return we.DailyReport
	}
	return false
}

// Value implements driver.Valuer for database storage
func (we WebhookEvents) Value() (driver.Value, error) {
	return json.Marshal(we)
}

// Scan implements sql.Scanner for database retrieval
func (we *WebhookEvents) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, we)
	case string:
		return json.Unmarshal([]byte(v), we)
	}
	return nil
}

// Webhook payload formats
const (
	WebhookFormatJSON    = "json"
	WebhookFormatDiscord = "discord"
)

// WebhookDelivery represents a webhook delivery attempt
type WebhookDelivery struct {
	ID           string     `json:"id" db:"id"`
	WebhookID    string     `json:"webhook_id" db:"webhook_id"`
	Event        string     `json:"event" db:"event"`
	Payload      string     `json:"payload" db:"payload"`
	Status       string     `json:"status" db:"status"`
	StatusCode   int        `json:"status_code" db:"status_code"`
	ResponseBody string     `json:"response_body,omitempty" db:"response_body"`
	RetryCount   int        `json:"retry_count" db:"retry_count"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty" db:"next_retry_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// WebhookDeliveryStatus constants
const (
	WebhookDeliveryStatusPending   = "pending"
	WebhookDeliveryStatusDelivered = "delivered"
	WebhookDeliveryStatusFailed    = "failed"
)

// WebhookEvent represents the payload sent to json webhooks
type WebhookEvent struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// WebhookEventDailyReport is emitted once per day by the worker
const WebhookEventDailyReport = "report.daily"

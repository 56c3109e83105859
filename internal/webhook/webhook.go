// Package webhook delivers parent notifications with signing and retry.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kidtube/kidtube/internal/logging"
	"github.com/kidtube/kidtube/internal/metrics"
	"github.com/kidtube/kidtube/pkg/models"
)

// ConfiguredWebhookID identifies the Discord webhook set in configuration
const ConfiguredWebhookID = "configured-discord"

// SignatureHeader carries the HMAC-SHA256 of the body
const SignatureHeader = "X-Webhook-Signature"

// Retry delays: 1min, 5min, 15min, 1hr, 4hr, 12hr
var retryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	4 * time.Hour,
	12 * time.Hour,
}

// Repository defines the interface for webhook persistence
type Repository interface {
	GetWebhooksByEvent(ctx context.Context, event string) ([]*models.Webhook, error)
	GetWebhook(ctx context.Context, id string) (*models.Webhook, error)
	CreateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error
	UpdateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error
	GetPendingDeliveries(ctx context.Context, limit int) ([]*models.WebhookDelivery, error)
}

// Config holds the optional configured Discord endpoint
type Config struct {
	DiscordURL string
	Secret     string
}

// Service handles webhook delivery and retry logic
type Service struct {
	client     *http.Client
	repo       Repository
	configured *models.Webhook
	logger     *logging.Logger
	now        func() time.Time
}

// NewService creates a new webhook service
func NewService(repo Repository, cfg Config, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Service{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		repo:   repo,
		logger: logger.WithComponent("webhook"),
		now:    time.Now,
	}
	if cfg.DiscordURL != "" {
		s.configured = &models.Webhook{
			ID:       ConfiguredWebhookID,
			URL:      cfg.DiscordURL,
			Secret:   cfg.Secret,
			Format:   models.WebhookFormatDiscord,
			IsActive: true,
			Events:   models.WebhookEvents{RequestSubmitted: true, DailyReport: true},
		}
	}
	return s
}

func (s *Service) targets(ctx context.Context, event string) ([]*models.Webhook, error) {
	webhooks, err := s.repo.GetWebhooksByEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to get webhooks: %w", err)
	}
	if s.configured != nil && s.configured.Events.Subscribed(event) {
		webhooks = append(webhooks, s.configured)
	}
	return webhooks, nil
}

func (s *Service) lookup(ctx context.Context, id string) (*models.Webhook, error) {
	if s.configured != nil && id == ConfiguredWebhookID {
		return s.configured, nil
	}
	return s.repo.GetWebhook(ctx, id)
}

// Payload renders data for webhook's format
func Payload(format, event string, data interface{}, at time.Time) ([]byte, error) {
	if format == models.WebhookFormatDiscord {
		switch v := data.(type) {
		case *models.RequestEvent:
			return json.Marshal(RequestEmbed(v))
		case *ReportNotice:
			return json.Marshal(DailyReportEmbed(v.Report, v.ArchiveURL))
		}
	}
	return json.Marshal(models.WebhookEvent{Event: event, Timestamp: at, Data: data})
}

// Notify records and attempts a delivery to every webhook subscribed to event.
// Failed attempts stay pending for RetryPending.
func (s *Service) Notify(ctx context.Context, event string, data interface{}) error {
	webhooks, err := s.targets(ctx, event)
	if err != nil {
		return err
	}

	now := s.now()
	for _, webhook := range webhooks {
		if !webhook.IsActive {
			continue
		}

		payload, err := Payload(webhook.Format, event, data, now)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}

		delivery := &models.WebhookDelivery{
			ID:         uuid.New().String(),
			WebhookID:  webhook.ID,
			Event:      event,
			Payload:    string(payload),
			Status:     models.WebhookDeliveryStatusPending,
			RetryCount: 0,
			CreatedAt:  now,
		}

		if err := s.repo.CreateDelivery(ctx, delivery); err != nil {
			s.logger.WithError(err).WithField("webhook_id", webhook.ID).Error("failed to create delivery")
			continue
		}

		s.deliver(ctx, webhook, delivery)
	}

	return nil
}

// HandleRequestEvent notifies subscribers of a request event
func (s *Service) HandleRequestEvent(ctx context.Context, event *models.RequestEvent) error {
	return s.Notify(ctx, event.Event, event)
}

// ReportNotice is the data of a daily report notification
type ReportNotice struct {
	Report     *models.DailyReport `json:"report"`
	ArchiveURL string              `json:"archive_url,omitempty"`
}

// NotifyDailyReport sends the daily report
func (s *Service) NotifyDailyReport(ctx context.Context, report *models.DailyReport, archiveURL string) error {
	return s.Notify(ctx, models.WebhookEventDailyReport, &ReportNotice{Report: report, ArchiveURL: archiveURL})
}

// deliver attempts to deliver a webhook
func (s *Service) deliver(ctx context.Context, webhook *models.Webhook, delivery *models.WebhookDelivery) {
	payload := []byte(delivery.Payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(payload))
	if err != nil {
		s.markDeliveryFailed(ctx, delivery, 0, fmt.Sprintf("Failed to create request: %v", err))
		return
	}

	// Set headers
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "KidTube-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", delivery.Event)
	req.Header.Set("X-Webhook-Delivery", delivery.ID)

	// Add HMAC signature if secret is configured
	if webhook.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(payload, webhook.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.markDeliveryFailed(ctx, delivery, 0, fmt.Sprintf("Failed to send request: %v", err))
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.markDeliveryFailed(ctx, delivery, resp.StatusCode, string(body))
		return
	}

	delivery.Status = models.WebhookDeliveryStatusDelivered
	delivery.StatusCode = resp.StatusCode
	delivery.ResponseBody = string(body)
	now := s.now()
	delivery.CompletedAt = &now
	delivery.NextRetryAt = nil
	metrics.RecordWebhookDelivery(delivery.Status)

	if err := s.repo.UpdateDelivery(ctx, delivery); err != nil {
		s.logger.WithError(err).WithField("delivery_id", delivery.ID).Error("failed to update delivery")
	}
}

// markDeliveryFailed marks a delivery as failed and schedules retry
func (s *Service) markDeliveryFailed(ctx context.Context, delivery *models.WebhookDelivery, statusCode int, responseBody string) {
	delivery.StatusCode = statusCode
	delivery.ResponseBody = responseBody
	delivery.RetryCount++

	now := s.now()
	if delivery.RetryCount <= len(retryDelays) {
		nextRetry := now.Add(retryDelays[delivery.RetryCount-1])
		delivery.NextRetryAt = &nextRetry
		delivery.Status = models.WebhookDeliveryStatusPending
	} else {
		// Max retries exceeded
		delivery.Status = models.WebhookDeliveryStatusFailed
		delivery.NextRetryAt = nil
		delivery.CompletedAt = &now
	}
	metrics.RecordWebhookDelivery(delivery.Status)

	s.logger.WithField("delivery_id", delivery.ID).WithField("status_code", statusCode).
		WithField("retry_count", delivery.RetryCount).Warn("webhook delivery failed")

	if err := s.repo.UpdateDelivery(ctx, delivery); err != nil {
		s.logger.WithError(err).WithField("delivery_id", delivery.ID).Error("failed to update delivery")
	}
}

// Sign returns the sha256= HMAC signature of payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature produced by Sign
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

// RetryPending re-attempts due deliveries and returns how many were tried
func (s *Service) RetryPending(ctx context.Context) (int, error) {
	deliveries, err := s.repo.GetPendingDeliveries(ctx, 100)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending deliveries: %w", err)
	}

	now := s.now()
	attempted := 0
	for _, delivery := range deliveries {
		// Skip if not ready for retry
		if delivery.NextRetryAt != nil && now.Before(*delivery.NextRetryAt) {
			continue
		}

		webhook, err := s.lookup(ctx, delivery.WebhookID)
		if err != nil || !webhook.IsActive {
			delivery.Status = models.WebhookDeliveryStatusFailed
			delivery.ResponseBody = "webhook removed or inactive"
			delivery.CompletedAt = &now
			if err := s.repo.UpdateDelivery(ctx, delivery); err != nil {
				s.logger.WithError(err).WithField("delivery_id", delivery.ID).Error("failed to update delivery")
			}
			continue
		}

		s.deliver(ctx, webhook, delivery)
		attempted++
	}
	return attempted, nil
}

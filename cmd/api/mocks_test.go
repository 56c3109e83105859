package main

import (
	"context"
	"net/http"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/kidtube/kidtube/internal/approval"
	"github.com/kidtube/kidtube/internal/session"
	"github.com/kidtube/kidtube/pkg/models"
)

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Decide(ctx context.Context, kidID int64, videoYoutubeID string, now time.Time) (*models.Decision, error) {
	args := m.Called(ctx, kidID, videoYoutubeID, now)
	d, _ := args.Get(0).(*models.Decision)
	return d, args.Error(1)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Heartbeat(ctx context.Context, stream string, kidID int64, videoYoutubeID string, secondsDelta int64, now time.Time) (*models.AccrualResult, error) {
	args := m.Called(ctx, stream, kidID, videoYoutubeID, secondsDelta, now)
	r, _ := args.Get(0).(*models.AccrualResult)
	return r, args.Error(1)
}

func (m *MockLedger) Remaining(ctx context.Context, kidID int64, now time.Time) (*models.RemainingBudget, error) {
	args := m.Called(ctx, kidID, now)
	b, _ := args.Get(0).(*models.RemainingBudget)
	return b, args.Error(1)
}

type MockRequests struct {
	mock.Mock
}

func (m *MockRequests) Submit(ctx context.Context, kidID int64, requestType, target string, now time.Time) (*approval.SubmitResult, error) {
	args := m.Called(ctx, kidID, requestType, target, now)
	r, _ := args.Get(0).(*approval.SubmitResult)
	return r, args.Error(1)
}

func (m *MockRequests) Approve(ctx context.Context, id int64, now time.Time) (*models.AccessRequest, error) {
	args := m.Called(ctx, id, now)
	r, _ := args.Get(0).(*models.AccessRequest)
	return r, args.Error(1)
}

func (m *MockRequests) Deny(ctx context.Context, id int64, now time.Time) (*models.AccessRequest, error) {
	args := m.Called(ctx, id, now)
	r, _ := args.Get(0).(*models.AccessRequest)
	return r, args.Error(1)
}

func (m *MockRequests) List(ctx context.Context, status string) ([]models.AccessRequest, error) {
	args := m.Called(ctx, status)
	r, _ := args.Get(0).([]models.AccessRequest)
	return r, args.Error(1)
}

type MockSessions struct {
	mock.Mock
}

func (m *MockSessions) Current(ctx context.Context, sid string) (*models.SessionState, error) {
	args := m.Called(ctx, sid)
	s, _ := args.Get(0).(*models.SessionState)
	return s, args.Error(1)
}

func (m *MockSessions) SelectKid(ctx context.Context, sid string, kidID int64) (*models.KidSelection, error) {
	args := m.Called(ctx, sid, kidID)
	s, _ := args.Get(0).(*models.KidSelection)
	return s, args.Error(1)
}

func (m *MockSessions) VerifyPIN(ctx context.Context, sid, pin string) (int64, error) {
	args := m.Called(ctx, sid, pin)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSessions) VerifyAdmin(ctx context.Context, sid, pin string, now time.Time) (*session.AdminGrant, error) {
	args := m.Called(ctx, sid, pin, now)
	g, _ := args.Get(0).(*session.AdminGrant)
	return g, args.Error(1)
}

func (m *MockSessions) Clear(ctx context.Context, sid string) error {
	return m.Called(ctx, sid).Error(0)
}

type MockControls struct {
	mock.Mock
}

func (m *MockControls) GetKid(ctx context.Context, kidID int64) (*models.Kid, error) {
	args := m.Called(ctx, kidID)
	k, _ := args.Get(0).(*models.Kid)
	return k, args.Error(1)
}

func (m *MockControls) ListSchedules(ctx context.Context, kidID int64) ([]models.ScheduleWindow, error) {
	args := m.Called(ctx, kidID)
	w, _ := args.Get(0).([]models.ScheduleWindow)
	return w, args.Error(1)
}

func (m *MockControls) CreateSchedule(ctx context.Context, w *models.ScheduleWindow) error {
	return m.Called(ctx, w).Error(0)
}

func (m *MockControls) DeleteSchedule(ctx context.Context, kidID, scheduleID int64) error {
	return m.Called(ctx, kidID, scheduleID).Error(0)
}

func (m *MockControls) CreateBonusGrant(ctx context.Context, g *models.BonusGrant) error {
	return m.Called(ctx, g).Error(0)
}

func (m *MockControls) ListActiveBonusGrants(ctx context.Context, kidID int64, now time.Time) ([]models.BonusGrant, error) {
	args := m.Called(ctx, kidID, now)
	g, _ := args.Get(0).([]models.BonusGrant)
	return g, args.Error(1)
}

func (m *MockControls) UpsertCategoryLimit(ctx context.Context, limit models.CategoryLimit) error {
	return m.Called(ctx, limit).Error(0)
}

func (m *MockControls) DeleteCategoryLimit(ctx context.Context, kidID, categoryID int64) error {
	return m.Called(ctx, kidID, categoryID).Error(0)
}

type MockStats struct {
	mock.Mock
}

func (m *MockStats) WatchStats(ctx context.Context, kidID *int64, now time.Time) (*models.WatchStats, error) {
	args := m.Called(ctx, kidID, now)
	s, _ := args.Get(0).(*models.WatchStats)
	return s, args.Error(1)
}

type MockWebhooks struct {
	mock.Mock
}

func (m *MockWebhooks) CreateWebhook(ctx context.Context, webhook *models.Webhook) error {
	return m.Called(ctx, webhook).Error(0)
}

func (m *MockWebhooks) ListWebhooks(ctx context.Context) ([]*models.Webhook, error) {
	args := m.Called(ctx)
	w, _ := args.Get(0).([]*models.Webhook)
	return w, args.Error(1)
}

func (m *MockWebhooks) DeleteWebhook(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type fakeRealtime struct {
	kidID int64
}

func (f *fakeRealtime) ServeWS(w http.ResponseWriter, r *http.Request, kidID int64) error {
	f.kidID = kidID
	w.WriteHeader(http.StatusSwitchingProtocols)
	return nil
}

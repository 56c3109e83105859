package approval

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kidtube/kidtube/internal/apperr"
	"github.com/kidtube/kidtube/internal/cache"
	"github.com/kidtube/kidtube/pkg/models"
)

type memStore struct {
	mu       sync.Mutex
	kids     map[int64]*models.Kid
	videos   map[string]*models.Video
	channels map[string]*models.Channel
	requests map[int64]*models.AccessRequest
	grants   []models.BonusGrant
	nextID   int64

	// raceLoser makes DecideRequest report that another caller won
	raceLoser bool
	// allowErr fails the channel update inside DecideRequest
	allowErr error
	// createErr fails CreatePendingRequest
	createErr error
}

func newMemStore() *memStore {
	return &memStore{
		kids: map[int64]*models.Kid{
			1: {ID: 1, Name: "Ada"},
			2: {ID: 2, Name: "Grace"},
		},
		videos: map[string]*models.Video{
			"vid1": {ID: 10, YoutubeID: "vid1"},
			"vid2": {ID: 11, YoutubeID: "vid2"},
		},
		channels: map[string]*models.Channel{
			"UCfun": {ID: 20, YoutubeID: "UCfun"},
		},
		requests: map[int64]*models.AccessRequest{},
	}
}

func (m *memStore) GetKid(ctx context.Context, kidID int64) (*models.Kid, error) {
	if kid, ok := m.kids[kidID]; ok {
		return kid, nil
	}
	return nil, apperr.NotFound("kid")
}

func (m *memStore) GetVideoByYoutubeID(ctx context.Context, youtubeID string) (*models.Video, error) {
	if v, ok := m.videos[youtubeID]; ok {
		return v, nil
	}
	return nil, apperr.NotFound("video")
}

func (m *memStore) GetChannelByYoutubeID(ctx context.Context, youtubeID string) (*models.Channel, error) {
	if c, ok := m.channels[youtubeID]; ok {
		return c, nil
	}
	return nil, apperr.NotFound("channel")
}

func (m *memStore) findPendingLocked(kidID int64, requestType, target string) *models.AccessRequest {
	for _, r := range m.requests {
		if r.KidID == kidID && r.Type == requestType && r.TargetYoutubeID == target && r.IsPending() {
			copied := *r
			return &copied
		}
	}
	return nil
}

func (m *memStore) FindPendingRequest(ctx context.Context, kidID int64, requestType, target string) (*models.AccessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findPendingLocked(kidID, requestType, target), nil
}

func (m *memStore) CreatePendingRequest(ctx context.Context, kidID int64, requestType, target string, at time.Time) (*models.AccessRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, false, m.createErr
	}
	if existing := m.findPendingLocked(kidID, requestType, target); existing != nil {
		return existing, false, nil
	}
	m.nextID++
	req := &models.AccessRequest{
		ID:              m.nextID,
		KidID:           kidID,
		Type:            requestType,
		TargetYoutubeID: target,
		Status:          models.RequestStatusPending,
		CreatedAt:       at,
	}
	m.requests[req.ID] = req
	copied := *req
	return &copied, true, nil
}

func (m *memStore) GetRequest(ctx context.Context, id int64) (*models.AccessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, apperr.NotFound("request")
	}
	copied := *r
	return &copied, nil
}

func (m *memStore) DecideRequest(ctx context.Context, t Transition) (*models.AccessRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[t.RequestID]
	if !ok {
		return nil, false, apperr.NotFound("request")
	}
	if m.raceLoser {
		r.Status = models.RequestStatusDenied
	}
	if !r.IsPending() {
		copied := *r
		return &copied, false, nil
	}
	if t.AllowChannel != "" {
		if m.allowErr != nil {
			return nil, false, m.allowErr
		}
		ch, ok := m.channels[t.AllowChannel]
		if !ok {
			return nil, false, apperr.NotFound("channel")
		}
		ch.Allowed = true
	}
	r.Status = t.Status
	at := t.At
	r.DecidedAt = &at
	if t.Grant != nil {
		m.grants = append(m.grants, *t.Grant)
	}
	copied := *r
	return &copied, true, nil
}

func (m *memStore) ListRequests(ctx context.Context, status string) ([]models.AccessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AccessRequest
	for _, r := range m.requests {
		if status == "" || r.Status == status {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishRequestEvent(ctx context.Context, event *models.RequestEvent) error {
	return m.Called(ctx, event).Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendToKid(kidID int64, message interface{}) error {
	return m.Called(kidID, message).Error(0)
}

type harness struct {
	store     *memStore
	publisher *mockPublisher
	notifier  *mockNotifier
	mr        *miniredis.Miniredis
	workflow  *Workflow
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := cache.NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	h := &harness{
		store:     newMemStore(),
		publisher: new(mockPublisher),
		notifier:  new(mockNotifier),
		mr:        mr,
	}
	h.publisher.On("PublishRequestEvent", mock.Anything, mock.Anything).Return(nil)
	h.notifier.On("SendToKid", mock.Anything, mock.Anything).Return(nil)

	h.workflow = NewWorkflow(h.store, c, h.publisher, h.notifier, Config{SubmitCooldown: 30 * time.Second}, nil)
	return h
}

var now = time.Date(2024, time.March, 4, 17, 0, 0, 0, time.UTC)

func TestSubmitCreatesPendingRequest(t *testing.T) {
	h := newHarness(t)

	res, err := h.workflow.Submit(context.Background(), 1, models.RequestTypeVideo, "vid1", now)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, models.RequestStatusPending, res.Request.Status)
	assert.Equal(t, "vid1", res.Request.TargetYoutubeID)
	assert.Nil(t, res.Request.DecidedAt)

	h.publisher.AssertCalled(t, "PublishRequestEvent", mock.Anything, mock.MatchedBy(func(e *models.RequestEvent) bool {
		return e.Event == models.EventRequestSubmitted && e.KidName == "Ada"
	}))
	h.notifier.AssertNotCalled(t, "SendToKid", mock.Anything, mock.Anything)
}

func TestSubmitIsIdempotentForPendingTarget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.workflow.Submit(ctx, 1, models.RequestTypeVideo, "vid1", now)
	require.NoError(t, err)

	second, err := h.workflow.Submit(ctx, 1, models.RequestTypeVideo, "vid1", now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Request.ID, second.Request.ID)
	assert.Len(t, h.store.requests, 1)
}

func TestSubmitDistinctTargetInsideCooldown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.workflow.Submit(ctx, 1, models.RequestTypeVideo, "vid1", now)
	require.NoError(t, err)

	h.mr.FastForward(12*time.Second + 300*time.Millisecond)

	_, err = h.workflow.Submit(ctx, 1, models.RequestTypeVideo, "vid2", now)
	rl, ok := apperr.AsRateLimited(err)
	require.True(t, ok, "expected rate limited, got %v", err)
	assert.Equal(t, 18, rl.RetryAfterSeconds())

	// Another kid has its own cooldown
	_, err = h.workflow.Submit(ctx, 2, models.RequestTypeVideo, "vid2", now)
	assert.NoError(t, err)

	h.mr.FastForward(18 * time.Second)
	res, err := h.workflow.Submit(ctx, 1, models.RequestTypeVideo, "vid2", now)
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.workflow.Submit(ctx, 99, models.RequestTypeVideo, "vid1", now)
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "unknown kid")

	_, err = h.workflow.Submit(ctx, 1, models.RequestTypeVideo, "missing", now)
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "unknown video")

	_, err = h.workflow.Submit(ctx, 1, models.RequestTypeChannel, "UCmissing", now)
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "unknown channel")

	_, err = h.workflow.Submit(ctx, 1, models.RequestTypeBonus, "45", now)
	assert.True(t, errors.Is(err, apperr.ErrValidation), "bad bonus code")

	_, err = h.workflow.Submit(ctx, 1, "playlist", "x", now)
	assert.True(t, errors.Is(err, apperr.ErrValidation), "bad type")

	_, err = h.workflow.Submit(ctx, 1, models.RequestTypeVideo, "", now)
	assert.True(t, errors.Is(err, apperr.ErrValidation), "empty target")

	// None of the failures consumed the cooldown
	assert.False(t, h.mr.Exists(CooldownKey(1)))
}

func TestApproveTwiceConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.workflow.Submit(ctx, 1, models.RequestTypeVideo, "vid1", now)
	require.NoError(t, err)

	approved, err := h.workflow.Approve(ctx, res.Request.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, approved.Status)
	require.NotNil(t, approved.DecidedAt)
	decidedAt := *approved.DecidedAt

	_, err = h.workflow.Approve(ctx, res.Request.ID, now.Add(time.Hour))
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	_, err = h.workflow.Deny(ctx, res.Request.ID, now.Add(time.Hour))
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	stored, err := h.store.GetRequest(ctx, res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, stored.Status)
	assert.True(t, decidedAt.Equal(*stored.DecidedAt))

	h.notifier.AssertNumberOfCalls(t, "SendToKid", 1)
	assert.False(t, h.store.channels["UCfun"].Allowed)
}

func TestDenyPushesDecision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.workflow.Submit(ctx, 1, models.RequestTypeVideo, "vid1", now)
	require.NoError(t, err)

	denied, err := h.workflow.Deny(ctx, res.Request.ID, now)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusDenied, denied.Status)

	h.notifier.AssertCalled(t, "SendToKid", int64(1), mock.MatchedBy(func(e *models.RequestEvent) bool {
		return e.Event == models.EventRequestDenied
	}))

	// A denied target can be requested again
	h.mr.FastForward(31 * time.Second)
	again, err := h.workflow.Submit(ctx, 1, models.RequestTypeVideo, "vid1", now)
	require.NoError(t, err)
	assert.True(t, again.Created)
	assert.NotEqual(t, res.Request.ID, again.Request.ID)
}

func TestApproveChannelAllowsChannel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.workflow.Submit(ctx, 1, models.RequestTypeChannel, "UCfun", now)
	require.NoError(t, err)

	_, err = h.workflow.Approve(ctx, res.Request.ID, now)
	require.NoError(t, err)
	assert.True(t, h.store.channels["UCfun"].Allowed)
}

func TestDenyChannelLeavesChannelAlone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.workflow.Submit(ctx, 1, models.RequestTypeChannel, "UCfun", now)
	require.NoError(t, err)

	_, err = h.workflow.Deny(ctx, res.Request.ID, now)
	require.NoError(t, err)
	assert.False(t, h.store.channels["UCfun"].Allowed)
}

func TestApproveChannelFailureKeepsRequestPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.workflow.Submit(ctx, 1, models.RequestTypeChannel, "UCfun", now)
	require.NoError(t, err)

	h.store.allowErr = errors.New("db down")
	_, err = h.workflow.Approve(ctx, res.Request.ID, now)
	assert.ErrorContains(t, err, "db down")

	stored, err := h.store.GetRequest(ctx, res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, stored.Status)
	assert.Nil(t, stored.DecidedAt)
	h.notifier.AssertNotCalled(t, "SendToKid", mock.Anything, mock.Anything)

	// Once the store recovers the same request can still be approved
	h.store.allowErr = nil
	approved, err := h.workflow.Approve(ctx, res.Request.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, approved.Status)
	assert.True(t, h.store.channels["UCfun"].Allowed)
}

func TestFailedCreateRefundsCooldown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.store.createErr = errors.New("db down")
	_, err := h.workflow.Submit(ctx, 1, models.RequestTypeVideo, "vid1", now)
	assert.ErrorContains(t, err, "db down")
	assert.False(t, h.mr.Exists(CooldownKey(1)))

	h.store.createErr = nil
	res, err := h.workflow.Submit(ctx, 1, models.RequestTypeVideo, "vid1", now)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, h.mr.Exists(CooldownKey(1)))
}

func TestApproveBonusCreatesGrant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.workflow.Submit(ctx, 1, models.RequestTypeBonus, "30", now)
	require.NoError(t, err)

	_, err = h.workflow.Approve(ctx, res.Request.ID, now)
	require.NoError(t, err)
	require.Len(t, h.store.grants, 1)
	assert.Equal(t, 30, h.store.grants[0].Minutes)
	assert.Equal(t, int64(1), h.store.grants[0].KidID)
	require.NotNil(t, h.store.grants[0].ExpiresAt)
	assert.Equal(t, time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC), *h.store.grants[0].ExpiresAt)
}

func TestDenyBonusCreatesNoGrant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.workflow.Submit(ctx, 1, models.RequestTypeBonus, BonusToday, now)
	require.NoError(t, err)

	_, err = h.workflow.Deny(ctx, res.Request.ID, now)
	require.NoError(t, err)
	assert.Empty(t, h.store.grants)
}

func TestApproveMissingRequest(t *testing.T) {
	h := newHarness(t)
	_, err := h.workflow.Approve(context.Background(), 404, now)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestApproveLosesRace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.workflow.Submit(ctx, 1, models.RequestTypeVideo, "vid1", now)
	require.NoError(t, err)

	h.store.raceLoser = true
	_, err = h.workflow.Approve(ctx, res.Request.ID, now)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestPublishFailureDoesNotFailSubmit(t *testing.T) {
	h := newHarness(t)
	h.publisher.ExpectedCalls = nil
	h.publisher.On("PublishRequestEvent", mock.Anything, mock.Anything).Return(errors.New("broker unavailable"))

	res, err := h.workflow.Submit(context.Background(), 1, models.RequestTypeVideo, "vid1", now)
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.workflow.Submit(ctx, 1, models.RequestTypeVideo, "vid1", now)
	require.NoError(t, err)
	second, err := h.workflow.Submit(ctx, 2, models.RequestTypeVideo, "vid1", now.Add(time.Minute))
	require.NoError(t, err)
	_, err = h.workflow.Deny(ctx, first.Request.ID, now.Add(2*time.Minute))
	require.NoError(t, err)

	all, err := h.workflow.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.Request.ID, all[0].ID, "newest first")

	pending, err := h.workflow.List(ctx, models.RequestStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.Request.ID, pending[0].ID)

	_, err = h.workflow.List(ctx, "maybe")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestBonusMinutes(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	m, err := BonusMinutes("15", now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 15, m)

	// 17:00 UTC leaves 7 hours in the UTC day
	m, err = BonusMinutes(BonusToday, now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 7*60, m)

	// 17:00 UTC is 12:00 in New York
	m, err = BonusMinutes(BonusToday, now, ny)
	require.NoError(t, err)
	assert.Equal(t, 12*60, m)

	m, err = BonusMinutes(BonusToday, time.Date(2024, time.March, 4, 23, 59, 45, 0, time.UTC), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 1, m)

	_, err = BonusMinutes("90", now, time.UTC)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

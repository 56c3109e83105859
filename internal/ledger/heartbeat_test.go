package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidtube/kidtube/internal/apperr"
	"github.com/kidtube/kidtube/internal/cache"
)

func setupPacedService(t *testing.T, store *memStore) *Service {
	t.Helper()

	mr := miniredis.RunT(t)
	kv, err := cache.NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	return NewService(store, Config{}, nil).WithPacer(kv)
}

func TestHeartbeatBurstBooksOnce(t *testing.T) {
	store := seed(nil)
	svc := setupPacedService(t, store)
	ctx := context.Background()

	var booked int64
	for i := 0; i < 10; i++ {
		result, err := svc.Heartbeat(ctx, "tablet", 1, "loose-video", 120, monday)
		require.NoError(t, err)
		assert.Equal(t, int64(120), result.ReportedSeconds)
		booked += result.AppliedSeconds
	}

	assert.Equal(t, int64(120), booked)
	assert.Equal(t, int64(120), store.rows[ledgerKey{1, "2024-03-04", 0}])
}

func TestHeartbeatCappedByElapsedTime(t *testing.T) {
	store := seed(nil)
	svc := setupPacedService(t, store)
	ctx := context.Background()

	_, err := svc.Heartbeat(ctx, "tablet", 1, "loose-video", 10, monday)
	require.NoError(t, err)

	// Inside the gap: nothing booked, the budget is still reported
	result, err := svc.Heartbeat(ctx, "tablet", 1, "loose-video", 10, monday.Add(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.AppliedSeconds)

	// Twenty seconds after the last accepted heartbeat, a 120s claim books 20
	result, err = svc.Heartbeat(ctx, "tablet", 1, "loose-video", 120, monday.Add(20*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(20), result.AppliedSeconds)

	// A steady ten second cadence books what it reports
	result, err = svc.Heartbeat(ctx, "tablet", 1, "loose-video", 10, monday.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.AppliedSeconds)

	assert.Equal(t, int64(40), store.rows[ledgerKey{1, "2024-03-04", 0}])
}

func TestHeartbeatStreamsArePacedApart(t *testing.T) {
	store := seed(nil)
	svc := setupPacedService(t, store)
	ctx := context.Background()

	deltas := map[string]int64{"tablet": 10, "laptop": 15}
	var wg sync.WaitGroup
	for stream, delta := range deltas {
		wg.Add(1)
		go func(stream string, delta int64) {
			defer wg.Done()
			_, err := svc.Heartbeat(ctx, stream, 1, "edu-video", delta, monday)
			assert.NoError(t, err)
		}(stream, delta)
	}
	wg.Wait()

	// A repeat from one device at the same instant adds nothing
	_, err := svc.Heartbeat(ctx, "tablet", 1, "edu-video", 10, monday)
	require.NoError(t, err)

	assert.Equal(t, int64(25), store.rows[ledgerKey{1, "2024-03-04", education}])
}

func TestHeartbeatWithoutPacerFallsBackToAccrue(t *testing.T) {
	store := seed(nil)
	svc := NewService(store, Config{}, nil)

	for i := 0; i < 2; i++ {
		result, err := svc.Heartbeat(context.Background(), "tablet", 1, "loose-video", 10, monday)
		require.NoError(t, err)
		assert.Equal(t, int64(10), result.AppliedSeconds)
	}
}

func TestHeartbeatRejectsInvalidDelta(t *testing.T) {
	store := seed(nil)
	svc := setupPacedService(t, store)

	_, err := svc.Heartbeat(context.Background(), "tablet", 1, "loose-video", 0, monday)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Empty(t, store.rows)
}

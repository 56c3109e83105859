package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidtube/kidtube/internal/config"
	"github.com/kidtube/kidtube/internal/logging"
	"github.com/kidtube/kidtube/pkg/models"
)

type recordingAck struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *recordingAck) Ack(tag uint64, multiple bool) error {
	a.acked = true
	return nil
}

func (a *recordingAck) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *recordingAck) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func sampleEvent() *models.RequestEvent {
	return &models.RequestEvent{
		Event:      models.EventRequestSubmitted,
		Request:    models.AccessRequest{ID: 4, KidID: 1, Type: models.RequestTypeVideo, TargetYoutubeID: "vid1", Status: models.RequestStatusPending},
		KidName:    "Ada",
		OccurredAt: time.Date(2024, time.March, 4, 17, 0, 0, 0, time.UTC),
	}
}

func TestURL(t *testing.T) {
	url := URL(config.QueueConfig{User: "guest", Password: "pw", Host: "mq", Port: 5672, Vhost: "/"})
	assert.Equal(t, "amqp://guest:pw@mq:5672/", url)
}

func TestPublishing(t *testing.T) {
	msg, err := Publishing(sampleEvent())
	require.NoError(t, err)

	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, models.EventRequestSubmitted, msg.Type)

	var decoded models.RequestEvent
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, int64(4), decoded.Request.ID)
	assert.Equal(t, "Ada", decoded.KidName)
}

func TestDispatch(t *testing.T) {
	msg, err := Publishing(sampleEvent())
	require.NoError(t, err)
	logger := logging.Nop()

	t.Run("handled events are acked", func(t *testing.T) {
		ack := &recordingAck{}
		var got *models.RequestEvent
		Dispatch(context.Background(), amqp.Delivery{Acknowledger: ack, Body: msg.Body}, func(ctx context.Context, e *models.RequestEvent) error {
			got = e
			return nil
		}, logger)

		assert.True(t, ack.acked)
		require.NotNil(t, got)
		assert.Equal(t, "vid1", got.Request.TargetYoutubeID)
	})

	t.Run("handler failures are dead-lettered", func(t *testing.T) {
		ack := &recordingAck{}
		Dispatch(context.Background(), amqp.Delivery{Acknowledger: ack, Body: msg.Body}, func(ctx context.Context, e *models.RequestEvent) error {
			return errors.New("webhook store down")
		}, logger)

		assert.True(t, ack.nacked)
		assert.False(t, ack.requeue)
	})

	t.Run("malformed events are dead-lettered", func(t *testing.T) {
		ack := &recordingAck{}
		called := false
		Dispatch(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("{")}, func(ctx context.Context, e *models.RequestEvent) error {
			called = true
			return nil
		}, logger)

		assert.False(t, called)
		assert.True(t, ack.nacked)
	})
}

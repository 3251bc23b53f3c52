package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	closed    bool
	failNext  bool
	published []amqp.Publishing
	keys      []string
}

func (s *fakeSession) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if s.failNext {
		s.failNext = false
		s.closed = true
		return amqp.ErrClosed
	}
	s.keys = append(s.keys, key)
	s.published = append(s.published, msg)
	return nil
}

func (s *fakeSession) IsClosed() bool { return s.closed }

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// fakeBroker hands out sessions and can be told to refuse connections.
type fakeBroker struct {
	down     bool
	sessions []*fakeSession
}

func (b *fakeBroker) dial(url, exchange string) (brokerSession, error) {
	if b.down {
		return nil, errors.New("events: connect to broker: connection refused")
	}
	session := &fakeSession{}
	b.sessions = append(b.sessions, session)
	return session, nil
}

func newFakePublisher(t *testing.T, broker *fakeBroker) *AMQPPublisher {
	t.Helper()
	p, err := newAMQPPublisher("amqp://broker", "reservations", slog.New(slog.NewTextHandler(io.Discard, nil)), broker.dial)
	require.NoError(t, err)
	return p
}

func TestAMQPPublisher_PublishesWithTopicAsRoutingKey(t *testing.T) {
	broker := &fakeBroker{}
	p := newFakePublisher(t, broker)

	err := p.Publish(context.Background(), Message{ID: "ev-1", Topic: "reservation.confirmed", Payload: []byte(`{}`)})
	require.NoError(t, err)

	require.Len(t, broker.sessions, 1)
	session := broker.sessions[0]
	assert.Equal(t, []string{"reservation.confirmed"}, session.keys)
	assert.Equal(t, "ev-1", session.published[0].MessageId)
	assert.Equal(t, amqp.Persistent, session.published[0].DeliveryMode)

	require.NoError(t, p.Close())
	assert.True(t, session.closed)
}

func TestAMQPPublisher_ReconnectsAfterFailedPublish(t *testing.T) {
	broker := &fakeBroker{}
	p := newFakePublisher(t, broker)
	ctx := context.Background()

	broker.sessions[0].failNext = true
	err := p.Publish(ctx, Message{ID: "ev-1", Topic: "reservation.cancelled"})
	require.Error(t, err)
	assert.Nil(t, p.session, "a failed publish drops the session")

	require.NoError(t, p.Publish(ctx, Message{ID: "ev-1", Topic: "reservation.cancelled"}))
	require.Len(t, broker.sessions, 2)
	assert.Len(t, broker.sessions[1].published, 1)
}

func TestAMQPPublisher_RetriesDialUntilBrokerReturns(t *testing.T) {
	broker := &fakeBroker{}
	p := newFakePublisher(t, broker)
	ctx := context.Background()

	broker.sessions[0].closed = true
	broker.down = true
	err := p.Publish(ctx, Message{ID: "ev-2", Topic: "waitlist.slot_available"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	broker.down = false
	require.NoError(t, p.Publish(ctx, Message{ID: "ev-2", Topic: "waitlist.slot_available"}))
	require.Len(t, broker.sessions, 2)
	assert.Equal(t, []string{"waitlist.slot_available"}, broker.sessions[1].keys)
}

func TestNewAMQPPublisher_FailsWhenBrokerIsDown(t *testing.T) {
	_, err := newAMQPPublisher("amqp://broker", "reservations", nil, (&fakeBroker{down: true}).dial)
	assert.Error(t, err)
}

package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/resource-reservations/internal/events"
	"github.com/example/resource-reservations/internal/lifecycle"
	"github.com/example/resource-reservations/internal/persistence"
	"github.com/example/resource-reservations/internal/persistence/memory"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []events.Message
	failFor  map[string]int
}

func (p *recordingPublisher) Publish(_ context.Context, msg events.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFor[msg.ID] > 0 {
		p.failFor[msg.ID]--
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.messages))
	for i, m := range p.messages {
		out[i] = m.Topic
	}
	return out
}

func seedOutbox(t *testing.T, store *memory.Store, at time.Time, ids ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := store.UpsertResource(ctx, persistence.Resource{ID: "room-1", Name: "Room 1", Bookable: true})
	require.NoError(t, err)

	reservation := persistence.Reservation{
		ID:          "res-1",
		ResourceID:  "room-1",
		RequesterID: "alice",
		Start:       at.Add(time.Hour),
		End:         at.Add(2 * time.Hour),
		Status:      lifecycle.StatusConfirmed,
	}
	err = store.WithResourceLock(ctx, "room-1", func(ctx context.Context, tx persistence.Tx) error {
		for _, id := range ids {
			ev, err := events.NewReservationEvent(id, events.TopicReservationConfirmed, reservation, "alice", "", at)
			if err != nil {
				return err
			}
			if err := tx.AppendOutbox(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRelay_PublishesAndMarks(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	store := memory.New()
	seedOutbox(t, store, now, "ev-1", "ev-2")

	publisher := &recordingPublisher{}
	relay := events.NewRelay(store, publisher, events.RelayConfig{Now: func() time.Time { return now }}, quietLogger())

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"reservation.confirmed", "reservation.confirmed"}, publisher.topics())

	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "published events must not be delivered twice")

	for _, ev := range store.OutboxEvents() {
		require.NotNil(t, ev.PublishedAt)
	}
}

func TestRelay_FailedPublishIsRetried(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	store := memory.New()
	seedOutbox(t, store, now, "ev-1")

	publisher := &recordingPublisher{failFor: map[string]int{"ev-1": 1}}
	relay := events.NewRelay(store, publisher, events.RelayConfig{Now: func() time.Time { return now }}, quietLogger())

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	stored := store.OutboxEvents()
	require.Len(t, stored, 1)
	assert.Equal(t, "broker unavailable", stored[0].LastError)
	assert.Nil(t, stored[0].PublishedAt)

	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, store.OutboxEvents()[0].Attempts)
}

func TestNewReservationEvent_Payload(t *testing.T) {
	at := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	r := persistence.Reservation{
		ID:          "res-9",
		ResourceID:  "room-2",
		RequesterID: "bob",
		Start:       at.Add(time.Hour),
		End:         at.Add(3 * time.Hour),
		Status:      lifecycle.StatusCancelled,
	}

	ev, err := events.NewReservationEvent("ev-9", events.TopicReservationCancelled, r, "admin", "displaced by priority booking", at)
	require.NoError(t, err)
	assert.Equal(t, "res-9", ev.AggregateID)

	var msg events.ReservationMessage
	require.NoError(t, json.Unmarshal(ev.Payload, &msg))
	assert.Equal(t, "CANCELLED", msg.Status)
	assert.Equal(t, "displaced by priority booking", msg.Reason)
	assert.True(t, msg.Start.Equal(r.Start))
}

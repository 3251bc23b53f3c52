package persistence_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/resource-reservations/internal/lifecycle"
	"github.com/example/resource-reservations/internal/persistence"
	"github.com/example/resource-reservations/internal/persistence/memory"
	"github.com/example/resource-reservations/internal/testfixtures"
)

func hours(h int) time.Time {
	return testfixtures.ReferenceTime().Add(time.Duration(h) * time.Hour)
}

func TestResourceCatalog(t *testing.T) {
	testfixtures.ForEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()

		_, err := store.GetResource(ctx, "missing")
		assert.ErrorIs(t, err, persistence.ErrNotFound)

		b := testfixtures.SeedResource(t, store, testfixtures.NewResource(testfixtures.WithResourceID("b")))
		b.Name = "Beta"
		_, err = store.UpsertResource(ctx, b)
		require.NoError(t, err)
		a := testfixtures.NewResource(testfixtures.WithResourceID("a"), testfixtures.WithTimeZone("Asia/Tokyo"), testfixtures.WithBounds(72*time.Hour, 15*time.Minute, 2*time.Hour))
		a.Name = "Alpha"
		testfixtures.SeedResource(t, store, a)

		got, err := store.GetResource(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "Asia/Tokyo", got.TimeZone)
		assert.Equal(t, 72*time.Hour, got.MaxAdvance)
		assert.Equal(t, 15*time.Minute, got.MinDuration)
		assert.Equal(t, 2*time.Hour, got.MaxDuration)

		all, err := store.ListResources(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, []string{"Alpha", "Beta"}, []string{all[0].Name, all[1].Name})
	})
}

func TestResourceTransaction(t *testing.T) {
	testfixtures.ForEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		resource := testfixtures.SeedResource(t, store, testfixtures.NewResource())
		existing := testfixtures.NewReservation(resource.ID, "alice", hours(26), hours(28))
		pending := testfixtures.NewReservation(resource.ID, "bob", hours(26), hours(28), testfixtures.WithStatus(lifecycle.StatusPending))
		testfixtures.SeedReservations(t, store, existing, pending)

		t.Run("blocking query is half-open and skips non-blocking statuses", func(t *testing.T) {
			err := store.WithResourceLock(ctx, resource.ID, func(ctx context.Context, tx persistence.Tx) error {
				touching, err := tx.ListBlocking(ctx, resource.ID, hours(28), hours(29), "")
				require.NoError(t, err)
				assert.Empty(t, touching)

				overlapping, err := tx.ListBlocking(ctx, resource.ID, hours(27), hours(29), "")
				require.NoError(t, err)
				require.Len(t, overlapping, 1)
				assert.Equal(t, existing.ID, overlapping[0].ID)

				excluded, err := tx.ListBlocking(ctx, resource.ID, hours(27), hours(29), existing.ID)
				require.NoError(t, err)
				assert.Empty(t, excluded)
				return nil
			})
			require.NoError(t, err)
		})

		t.Run("an error rolls back every write", func(t *testing.T) {
			boom := errors.New("boom")
			staged := testfixtures.NewReservation(resource.ID, "carol", hours(30), hours(31))
			err := store.WithResourceLock(ctx, resource.ID, func(ctx context.Context, tx persistence.Tx) error {
				require.NoError(t, tx.InsertReservation(ctx, staged))
				require.NoError(t, tx.AppendOutbox(ctx, persistence.OutboxEvent{
					ID: "evt-rollback", Topic: "reservation.confirmed", AggregateID: staged.ID, Payload: []byte(`{}`), CreatedAt: hours(0),
				}))
				return boom
			})
			assert.ErrorIs(t, err, boom)

			_, err = store.GetReservation(ctx, staged.ID)
			assert.ErrorIs(t, err, persistence.ErrNotFound)
			claimed, err := store.ClaimOutbox(ctx, hours(0), time.Minute, 100)
			require.NoError(t, err)
			assert.Empty(t, claimed)
		})

		t.Run("status compare-and-set", func(t *testing.T) {
			err := store.WithResourceLock(ctx, resource.ID, func(ctx context.Context, tx persistence.Tx) error {
				current, err := tx.GetReservation(ctx, existing.ID)
				require.NoError(t, err)

				current.Status = lifecycle.StatusCancelled
				ok, err := tx.UpdateReservation(ctx, current, lifecycle.StatusActive)
				require.NoError(t, err)
				assert.False(t, ok, "a stale expected status must not claim the row")

				ok, err = tx.UpdateReservation(ctx, current, lifecycle.StatusConfirmed)
				require.NoError(t, err)
				assert.True(t, ok)
				return tx.AppendTransition(ctx, persistence.Transition{
					ID: "t-cancel", ReservationID: existing.ID, ActorID: "alice",
					From: lifecycle.StatusConfirmed, To: lifecycle.StatusCancelled, Reason: "test", At: hours(1),
				})
			})
			require.NoError(t, err)

			stored, err := store.GetReservation(ctx, existing.ID)
			require.NoError(t, err)
			assert.Equal(t, lifecycle.StatusCancelled, stored.Status)

			transitions, err := store.ListTransitions(ctx, existing.ID)
			require.NoError(t, err)
			require.Len(t, transitions, 2)
			assert.Equal(t, "seeded", transitions[0].Reason)
			assert.Equal(t, lifecycle.StatusCancelled, transitions[1].To)
		})

		t.Run("unknown resource", func(t *testing.T) {
			err := store.WithResourceLock(ctx, "missing", func(context.Context, persistence.Tx) error {
				t.Fatal("fn must not run for an unknown resource")
				return nil
			})
			assert.ErrorIs(t, err, persistence.ErrNotFound)
		})
	})
}

func TestReservationQueries(t *testing.T) {
	testfixtures.ForEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		resource := testfixtures.SeedResource(t, store, testfixtures.NewResource())
		now := hours(10)

		late := testfixtures.NewReservation(resource.ID, "alice", hours(9), hours(11))
		checkedIn := testfixtures.NewReservation(resource.ID, "bob", hours(5), hours(7), testfixtures.CheckedInAt(hours(5)))
		running := testfixtures.NewReservation(resource.ID, "bob", hours(12), hours(13), testfixtures.CheckedInAt(hours(12)))
		stalePending := testfixtures.NewReservation(resource.ID, "carol", hours(8), hours(9), testfixtures.WithStatus(lifecycle.StatusPending))
		future := testfixtures.NewReservation(resource.ID, "alice", hours(30), hours(31))
		testfixtures.SeedReservations(t, store, late, checkedIn, running, stalePending, future)

		noShows, err := store.ListNoShowCandidates(ctx, now.Add(-30*time.Minute), 10)
		require.NoError(t, err)
		assert.Equal(t, []string{late.ID}, ids(noShows))

		overdue, err := store.ListOverdueActive(ctx, now, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{checkedIn.ID}, ids(overdue))

		pending, err := store.ListStalePending(ctx, now, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{stalePending.ID}, ids(pending))

		mine, err := store.ListReservations(ctx, persistence.ReservationFilter{RequesterID: "alice"})
		require.NoError(t, err)
		assert.Equal(t, []string{late.ID, future.ID}, ids(mine))

		from, to := hours(6), hours(10)
		window, err := store.ListReservations(ctx, persistence.ReservationFilter{
			ResourceID: resource.ID, From: &from, To: &to,
			Statuses: []lifecycle.Status{lifecycle.StatusConfirmed, lifecycle.StatusActive},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{checkedIn.ID, late.ID}, ids(window))

		limited, err := store.ListReservations(ctx, persistence.ReservationFilter{ResourceID: resource.ID, Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})
}

func TestWaitlistStorage(t *testing.T) {
	testfixtures.ForEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		resource := testfixtures.SeedResource(t, store, testfixtures.NewResource())

		second := testfixtures.NewWaitlistEntry(resource.ID, "bob", hours(20), hours(21), 2)
		first := testfixtures.NewWaitlistEntry(resource.ID, "alice", hours(2), hours(3), 1)
		testfixtures.SeedWaitlist(t, store, second, first)

		err := store.WithResourceLock(ctx, resource.ID, func(ctx context.Context, tx persistence.Tx) error {
			active, err := tx.ListActiveWaitlist(ctx, resource.ID)
			require.NoError(t, err)
			require.Equal(t, []int{1, 2}, []int{active[0].Position, active[1].Position})

			notified := active[1]
			notified.Status = lifecycle.WaitlistNotified
			expires := hours(4)
			notified.NotifiedAt = &expires
			notified.ExpiresAt = &expires
			ok, err := tx.UpdateWaitlistEntry(ctx, notified, lifecycle.WaitlistNotified)
			require.NoError(t, err)
			assert.False(t, ok)
			ok, err = tx.UpdateWaitlistEntry(ctx, notified, lifecycle.WaitlistWaiting)
			require.NoError(t, err)
			assert.True(t, ok)
			return nil
		})
		require.NoError(t, err)

		expired, err := store.ListExpiredNotifications(ctx, hours(5), 10)
		require.NoError(t, err)
		assert.Equal(t, []string{second.ID}, entryIDs(expired))

		stale, err := store.ListStaleWaiting(ctx, hours(5), 10)
		require.NoError(t, err)
		assert.Equal(t, []string{first.ID}, entryIDs(stale))

		bobs, err := store.ListWaitlist(ctx, persistence.WaitlistFilter{RequesterID: "bob"})
		require.NoError(t, err)
		require.Len(t, bobs, 1)
		assert.Equal(t, lifecycle.WaitlistNotified, bobs[0].Status)
		require.NotNil(t, bobs[0].ExpiresAt)
		assert.True(t, bobs[0].ExpiresAt.Equal(hours(4)))
	})
}

func TestOutboxLeases(t *testing.T) {
	testfixtures.ForEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		resource := testfixtures.SeedResource(t, store, testfixtures.NewResource())
		err := store.WithResourceLock(ctx, resource.ID, func(ctx context.Context, tx persistence.Tx) error {
			for i, id := range []string{"evt-1", "evt-2"} {
				if err := tx.AppendOutbox(ctx, persistence.OutboxEvent{
					ID: id, Topic: "reservation.confirmed", AggregateID: "r-1", Payload: []byte(`{"n":1}`), CreatedAt: hours(i),
				}); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)

		claimed, err := store.ClaimOutbox(ctx, hours(2), time.Minute, 10)
		require.NoError(t, err)
		require.Equal(t, []string{"evt-1", "evt-2"}, eventIDs(claimed))
		assert.Equal(t, 1, claimed[0].Attempts)

		again, err := store.ClaimOutbox(ctx, hours(2).Add(30*time.Second), time.Minute, 10)
		require.NoError(t, err)
		assert.Empty(t, again, "leased events are not handed out twice")

		require.NoError(t, store.MarkPublished(ctx, []string{"evt-1"}, hours(2)))
		require.NoError(t, store.ReleaseOutbox(ctx, "evt-2", "broker down"))

		retry, err := store.ClaimOutbox(ctx, hours(2).Add(31*time.Second), time.Minute, 10)
		require.NoError(t, err)
		require.Equal(t, []string{"evt-2"}, eventIDs(retry))
		assert.Equal(t, 2, retry[0].Attempts)
		assert.Equal(t, "broker down", retry[0].LastError)
	})
}

func TestMemoryLockWaitIsBounded(t *testing.T) {
	store := memory.New(memory.WithLockTimeout(20 * time.Millisecond))
	resource := testfixtures.SeedResource(t, store, testfixtures.NewResource())
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = store.WithResourceLock(ctx, resource.ID, func(context.Context, persistence.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := store.WithResourceLock(ctx, resource.ID, func(context.Context, persistence.Tx) error { return nil })
	assert.ErrorIs(t, err, persistence.ErrContention)

	close(release)
	wg.Wait()
	assert.NoError(t, store.WithResourceLock(ctx, resource.ID, func(context.Context, persistence.Tx) error { return nil }))
}

func ids(reservations []persistence.Reservation) []string {
	out := make([]string, len(reservations))
	for i, r := range reservations {
		out[i] = r.ID
	}
	return out
}

func entryIDs(entries []persistence.WaitlistEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func eventIDs(events []persistence.OutboxEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

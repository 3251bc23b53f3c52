package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/resource-reservations/internal/events"
	"github.com/example/resource-reservations/internal/lifecycle"
	"github.com/example/resource-reservations/internal/localtime"
	"github.com/example/resource-reservations/internal/persistence"
	"github.com/example/resource-reservations/internal/scheduler"
	"github.com/example/resource-reservations/internal/testfixtures"
)

func TestCreateReservation_ConflictOffersAlternativesAndWaitlist(t *testing.T) {
	testfixtures.ForEachStore(t, func(t *testing.T, store persistence.Store) {
		env := newTestEnv(t, store)
		ctx := context.Background()

		first := env.mustBook(alice, 14, 16)
		assert.Equal(t, lifecycle.StatusConfirmed, first.Status)

		_, err := env.book(bob, 15, 17)
		conflict := requireConflict(t, err)
		require.Len(t, conflict.Conflicts, 1)
		assert.Equal(t, first.ID, conflict.Conflicts[0].ID)
		assert.True(t, conflict.WaitlistAvailable)
		assert.Contains(t, conflict.Alternatives, scheduler.NewWindow(env.at(16), env.at(18)))
		for _, alt := range conflict.Alternatives {
			assert.False(t, alt.Overlaps(scheduler.NewWindow(env.at(14), env.at(16))), "alternative %v overlaps the booking", alt)
		}

		entry := env.mustJoin(bob, 15, 17)
		assert.Equal(t, 1, entry.Position)
		assert.Equal(t, lifecycle.WaitlistWaiting, entry.Status)

		transitions, err := env.svc.ListTransitions(ctx, alice, first.ID)
		require.NoError(t, err)
		require.Len(t, transitions, 1)
		assert.Equal(t, lifecycle.StatusConfirmed, transitions[0].To)
		assert.Equal(t, "alice", transitions[0].ActorID)
	})
}

func TestCancelReservation_NotifiesWaitlistAndExpiresUnusedOffer(t *testing.T) {
	testfixtures.ForEachStore(t, func(t *testing.T, store persistence.Store) {
		env := newTestEnv(t, store)
		ctx := context.Background()

		first := env.mustBook(alice, 14, 16)
		entry := env.mustJoin(bob, 15, 17)

		cancelled, err := env.svc.CancelReservation(ctx, alice, first.ID, "")
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StatusCancelled, cancelled.Status)

		notified := env.entry(entry.ID)
		require.Equal(t, lifecycle.WaitlistNotified, notified.Status)
		require.NotNil(t, notified.NotifiedAt)
		require.NotNil(t, notified.ExpiresAt)
		assert.Equal(t, env.clock.Now(), *notified.NotifiedAt)
		assert.Equal(t, env.clock.Now().Add(2*time.Hour), *notified.ExpiresAt)

		topics := env.topics()
		assert.Equal(t, 1, topics[events.TopicReservationCancelled])
		assert.Equal(t, 1, topics[events.TopicWaitlistSlotAvailable])

		env.clock.Advance(2*time.Hour + time.Minute)
		report, err := env.sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.WaitlistExpired)
		assert.Equal(t, lifecycle.WaitlistExpired, env.entry(entry.ID).Status)

		direct, err := env.book(carol, 15, 17)
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StatusConfirmed, direct.Status)
	})
}

func TestCreateReservation_ConcurrentRequestsExactlyOneWins(t *testing.T) {
	testfixtures.ForEachStore(t, func(t *testing.T, store persistence.Store) {
		env := newTestEnv(t, store)
		const n = 10

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
			others    []error
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := env.book(Principal{UserID: fmt.Sprintf("user-%d", i)}, 10, 12)
				mu.Lock()
				defer mu.Unlock()
				var cErr *ConflictError
				switch {
				case err == nil:
					successes++
				case errors.As(err, &cErr):
					conflicts++
				default:
					others = append(others, err)
				}
			}(i)
		}
		wg.Wait()

		require.Empty(t, others)
		assert.Equal(t, 1, successes)
		assert.Equal(t, n-1, conflicts)

		blocking, err := store.ListReservations(context.Background(), persistence.ReservationFilter{
			ResourceID: env.resource.ID,
			Statuses:   lifecycle.BlockingStatuses(),
		})
		require.NoError(t, err)
		assert.Len(t, blocking, 1)
	})
}

func TestCreateReservation_BoundaryExclusivity(t *testing.T) {
	env := newTestEnv(t, testfixtures.NewMemoryStore(t))

	env.mustBook(alice, 14, 16)
	_, err := env.book(bob, 16, 18)
	require.NoError(t, err, "touching windows must not conflict")

	_, err = env.book(carol, 14, 15)
	requireConflict(t, err)

	_, err = env.book(carol, 12, 14)
	require.NoError(t, err)
}

func TestCreateReservation_Validation(t *testing.T) {
	env := newTestEnv(t, testfixtures.NewMemoryStore(t))
	ctx := context.Background()
	tooLong := string(make([]rune, 1001))

	cases := []struct {
		name   string
		params CreateReservationParams
		field  string
	}{
		{"short purpose", CreateReservationParams{Start: At(env.at(9)), End: At(env.at(10)), Purpose: "Sync"}, "purpose"},
		{"long requirements", CreateReservationParams{Start: At(env.at(9)), End: At(env.at(10)), Purpose: purpose, SpecialRequirements: &tooLong}, "special_requirements"},
		{"end before start", CreateReservationParams{Start: At(env.at(10)), End: At(env.at(9)), Purpose: purpose}, "end"},
		{"too short", CreateReservationParams{Start: At(env.at(9)), End: At(env.at(9).Add(15 * time.Minute)), Purpose: purpose}, "end"},
		{"too long", CreateReservationParams{Start: At(env.at(8)), End: At(env.at(17)), Purpose: purpose}, "end"},
		{"in the past", CreateReservationParams{Start: At(env.clock.Now().Add(-time.Hour)), End: At(env.clock.Now()), Purpose: purpose}, "start"},
		{"too far ahead", CreateReservationParams{Start: At(env.clock.At(31, 9, 0)), End: At(env.clock.At(31, 10, 0)), Purpose: purpose}, "start"},
		{"missing start", CreateReservationParams{End: At(env.at(10)), Purpose: purpose}, "start"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := tc.params
			params.Principal = alice
			params.ResourceID = env.resource.ID
			_, err := env.svc.CreateReservation(ctx, params)
			requireValidation(t, err, tc.field)
		})
	}

	t.Run("unbookable resource", func(t *testing.T) {
		closed := testfixtures.SeedResource(t, env.store, testfixtures.NewResource(testfixtures.NotBookable()))
		_, err := env.svc.CreateReservation(ctx, CreateReservationParams{
			Principal: alice, ResourceID: closed.ID, Start: At(env.at(9)), End: At(env.at(10)), Purpose: purpose,
		})
		requireValidation(t, err, "resource_id")
	})

	t.Run("unknown resource", func(t *testing.T) {
		_, err := env.svc.CreateReservation(ctx, CreateReservationParams{
			Principal: alice, ResourceID: "missing", Start: At(env.at(9)), End: At(env.at(10)), Purpose: purpose,
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("anonymous", func(t *testing.T) {
		_, err := env.svc.CreateReservation(ctx, CreateReservationParams{
			Principal: nobody, ResourceID: env.resource.ID, Start: At(env.at(9)), End: At(env.at(10)), Purpose: purpose,
		})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestCreateReservation_LocalTimesAndDaylightSaving(t *testing.T) {
	store := testfixtures.NewMemoryStore(t)
	env := newTestEnv(t, store)
	env.clock.Set(time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC))
	env.resource = testfixtures.SeedResource(t, store, testfixtures.NewResource(testfixtures.WithTimeZone("America/New_York")))
	ctx := context.Background()

	book := func(start, end string) (persistence.Reservation, error) {
		return env.svc.CreateReservation(ctx, CreateReservationParams{
			Principal:  alice,
			ResourceID: env.resource.ID,
			Start:      Local(start, ""),
			End:        Local(end, ""),
			Purpose:    purpose,
		})
	}

	t.Run("spring forward gap", func(t *testing.T) {
		_, err := book("2025-03-09T02:30", "2025-03-09T04:00")
		var tzErr *TimeZoneAnomalyError
		require.True(t, errors.As(err, &tzErr), "expected TimeZoneAnomalyError, got %v", err)
		assert.Equal(t, localtime.KindGap, tzErr.Kind)
		assert.Equal(t, "start", tzErr.Field)
		require.Len(t, tzErr.Suggestions, 1)
		assert.Equal(t, time.Date(2025, time.March, 9, 7, 30, 0, 0, time.UTC), tzErr.Suggestions[0])

		_, err = book("2025-03-09T02:30", "2025-03-09T04:00")
		var again *TimeZoneAnomalyError
		require.True(t, errors.As(err, &again))
		assert.Equal(t, tzErr.Suggestions, again.Suggestions, "resolution must be deterministic")
	})

	t.Run("regular local time", func(t *testing.T) {
		r, err := book("2025-03-05T09:00", "2025-03-05T10:30")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, time.March, 5, 14, 0, 0, 0, time.UTC), r.Start)
		assert.Equal(t, time.Date(2025, time.March, 5, 15, 30, 0, 0, time.UTC), r.End)
	})

	t.Run("explicit zone overrides the resource zone", func(t *testing.T) {
		r, err := env.svc.CreateReservation(ctx, CreateReservationParams{
			Principal:  bob,
			ResourceID: env.resource.ID,
			Start:      Local("2025-03-06T09:00", "Europe/Berlin"),
			End:        Local("2025-03-06T10:00", "Europe/Berlin"),
			Purpose:    purpose,
		})
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, time.March, 6, 8, 0, 0, 0, time.UTC), r.Start)
	})

	t.Run("unknown zone", func(t *testing.T) {
		_, err := env.svc.CreateReservation(ctx, CreateReservationParams{
			Principal:  bob,
			ResourceID: env.resource.ID,
			Start:      Local("2025-03-06T09:00", "Mars/Olympus"),
			End:        Local("2025-03-06T10:00", "Mars/Olympus"),
			Purpose:    purpose,
		})
		requireValidation(t, err, "zone")
	})
}

func TestModifyReservation(t *testing.T) {
	testfixtures.ForEachStore(t, func(t *testing.T, store persistence.Store) {
		env := newTestEnv(t, store)
		ctx := context.Background()

		mine := env.mustBook(alice, 14, 16)
		other := env.mustBook(bob, 17, 19)

		// Shifting into its own old window must not conflict with itself.
		start, end := At(env.at(15)), At(env.at(17))
		moved, err := env.svc.ModifyReservation(ctx, ModifyReservationParams{
			Principal: alice, ReservationID: mine.ID, Start: &start, End: &end,
		})
		require.NoError(t, err)
		assert.Equal(t, env.at(15), moved.Start)
		assert.Equal(t, env.at(17), moved.End)
		assert.Equal(t, env.clock.Now(), moved.UpdatedAt)

		end = At(env.at(18))
		_, err = env.svc.ModifyReservation(ctx, ModifyReservationParams{
			Principal: alice, ReservationID: mine.ID, End: &end,
		})
		conflict := requireConflict(t, err)
		assert.Equal(t, other.ID, conflict.Conflicts[0].ID)

		_, err = env.svc.ModifyReservation(ctx, ModifyReservationParams{
			Principal: bob, ReservationID: mine.ID, End: &end,
		})
		assert.ErrorIs(t, err, ErrUnauthorized)

		transitions, err := env.svc.ListTransitions(ctx, alice, mine.ID)
		require.NoError(t, err)
		require.Len(t, transitions, 2)
		assert.Equal(t, "modified", transitions[1].Reason)
		assert.Equal(t, transitions[1].From, transitions[1].To)
	})
}

func TestModifyReservation_DeadlineAndFreedTime(t *testing.T) {
	env := newTestEnv(t, testfixtures.NewMemoryStore(t))
	ctx := context.Background()

	soon, err := env.svc.CreateReservation(ctx, CreateReservationParams{
		Principal:  alice,
		ResourceID: env.resource.ID,
		Start:      At(env.clock.Now().Add(23 * time.Hour)),
		End:        At(env.clock.Now().Add(24 * time.Hour)),
		Purpose:    purpose,
	})
	require.NoError(t, err)
	changed := "Rescheduled planning session"
	_, err = env.svc.ModifyReservation(ctx, ModifyReservationParams{Principal: alice, ReservationID: soon.ID, Purpose: &changed})
	requireValidation(t, err, "start")

	// Shrinking a later booking frees its tail for the waitlist.
	later := env.mustBook(alice, 10, 14)
	waiting := env.mustJoin(bob, 12, 13)
	newEnd := At(env.at(12))
	_, err = env.svc.ModifyReservation(ctx, ModifyReservationParams{Principal: alice, ReservationID: later.ID, End: &newEnd})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.WaitlistNotified, env.entry(waiting.ID).Status)
}

func TestModifyReservation_IntoQueuedWindowClosesEntry(t *testing.T) {
	testfixtures.ForEachStore(t, func(t *testing.T, store persistence.Store) {
		env := newTestEnv(t, store)
		ctx := context.Background()

		long := env.mustBook(alice, 14, 16)
		early := env.mustBook(bob, 9, 10)
		queued := env.mustJoin(bob, 15, 16)
		later := env.mustJoin(carol, 14, 16)

		shorter := At(env.at(15))
		_, err := env.svc.ModifyReservation(ctx, ModifyReservationParams{Principal: alice, ReservationID: long.ID, End: &shorter})
		require.NoError(t, err)
		require.Equal(t, lifecycle.WaitlistNotified, env.entry(queued.ID).Status)

		start, end := At(env.at(15)), At(env.at(16))
		_, err = env.svc.ModifyReservation(ctx, ModifyReservationParams{Principal: bob, ReservationID: early.ID, Start: &start, End: &end})
		require.NoError(t, err)

		assert.Equal(t, lifecycle.WaitlistBooked, env.entry(queued.ID).Status)
		assert.Equal(t, 1, env.entry(later.ID).Position)
		positions, err := env.waitlist.MyPositions(ctx, bob)
		require.NoError(t, err)
		assert.Empty(t, positions)

		env.clock.Set(env.at(17))
		_, err = env.waitlist.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, lifecycle.WaitlistBooked, env.entry(queued.ID).Status, "a booked entry never expires")
	})
}

func TestCancelReservation_Rules(t *testing.T) {
	env := newTestEnv(t, testfixtures.NewMemoryStore(t))
	ctx := context.Background()

	r := env.mustBook(alice, 9, 10)
	_, err := env.svc.CancelReservation(ctx, bob, r.ID, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	env.clock.Set(env.at(9).Add(-5 * time.Minute))
	active, err := env.svc.CheckIn(ctx, kiosk, r.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusActive, active.Status)
	require.NotNil(t, active.CheckedInAt)

	_, err = env.svc.CancelReservation(ctx, alice, r.ID, "")
	requireValidation(t, err, "status")

	other := env.mustBook(bob, 11, 12)
	cancelled, err := env.svc.CancelReservation(ctx, admin, other.ID, "")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCancelled, cancelled.Status)

	_, err = env.svc.CancelReservation(ctx, admin, other.ID, "")
	requireValidation(t, err, "status")

	transitions, err := env.svc.ListTransitions(ctx, bob, other.ID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled by administrator", transitions[len(transitions)-1].Reason)
	assert.Equal(t, "admin", transitions[len(transitions)-1].ActorID)
}

func TestCheckInAndCheckOut(t *testing.T) {
	env := newTestEnv(t, testfixtures.NewMemoryStore(t))
	ctx := context.Background()

	r := env.mustBook(alice, 9, 11)

	env.clock.Set(env.at(9).Add(-20 * time.Minute))
	_, err := env.svc.CheckIn(ctx, alice, r.ID)
	requireValidation(t, err, "check_in")

	_, err = env.svc.CheckIn(ctx, bob, r.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	env.clock.Set(env.at(9).Add(-10 * time.Minute))
	_, err = env.svc.CheckIn(ctx, alice, r.ID)
	require.NoError(t, err)

	// Someone waits for the second hour; leaving early hands it over.
	env.clock.Set(env.at(9).Add(10 * time.Minute))
	waiting := env.mustJoin(bob, 10, 11)

	env.clock.Set(env.at(9).Add(45 * time.Minute))
	done, err := env.svc.CheckOut(ctx, kiosk, r.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCompleted, done.Status)
	require.NotNil(t, done.CheckedOutAt)
	assert.Equal(t, lifecycle.WaitlistNotified, env.entry(waiting.ID).Status)

	topics := env.topics()
	assert.Equal(t, 1, topics[events.TopicReservationCheckedIn])
	assert.Equal(t, 1, topics[events.TopicReservationCompleted])
}

func TestApprovalMode(t *testing.T) {
	env := newTestEnv(t, testfixtures.NewMemoryStore(t), func(o *Options) { o.RequireApproval = true })
	ctx := context.Background()

	first := env.mustBook(alice, 9, 10)
	assert.Equal(t, lifecycle.StatusPending, first.Status)

	// PENDING does not block.
	second := env.mustBook(bob, 9, 10)
	assert.Equal(t, lifecycle.StatusPending, second.Status)

	_, err := env.svc.ApproveReservation(ctx, alice, first.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	approved, err := env.svc.ApproveReservation(ctx, admin, first.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusConfirmed, approved.Status)

	_, err = env.svc.ApproveReservation(ctx, admin, second.ID)
	conflict := requireConflict(t, err)
	assert.False(t, conflict.WaitlistAvailable)

	rejected, err := env.svc.RejectReservation(ctx, admin, second.ID, "room reserved for training")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCancelled, rejected.Status)

	topics := env.topics()
	assert.Equal(t, 2, topics[events.TopicReservationPending])
	assert.Equal(t, 1, topics[events.TopicReservationConfirmed])
	assert.Equal(t, 1, topics[events.TopicReservationCancelled])
}

func TestPriorityBook_DisplacesAndNotifies(t *testing.T) {
	testfixtures.ForEachStore(t, func(t *testing.T, store persistence.Store) {
		env := newTestEnv(t, store)
		ctx := context.Background()

		morning := env.mustBook(alice, 10, 12)
		noon := env.mustBook(bob, 12, 14)
		waiting := env.mustJoin(carol, 13, 14)

		_, err := env.svc.PriorityBook(ctx, PriorityBookParams{
			Principal: alice, ResourceID: env.resource.ID,
			Start: At(env.at(11)), End: At(env.at(13)), Purpose: purpose,
		})
		assert.ErrorIs(t, err, ErrUnauthorized)

		result, err := env.svc.PriorityBook(ctx, PriorityBookParams{
			Principal: admin, ResourceID: env.resource.ID,
			Start: At(env.at(11)), End: At(env.at(13)), Purpose: "Board meeting with auditors",
		})
		require.NoError(t, err)
		assert.True(t, result.Reservation.Priority)
		assert.Equal(t, lifecycle.StatusConfirmed, result.Reservation.Status)
		require.Len(t, result.Displaced, 2)

		assert.Equal(t, lifecycle.StatusCancelled, env.reservation(morning.ID).Status)
		assert.Equal(t, lifecycle.StatusCancelled, env.reservation(noon.ID).Status)
		assert.Equal(t, lifecycle.WaitlistNotified, env.entry(waiting.ID).Status)

		transitions, err := env.svc.ListTransitions(ctx, admin, noon.ID)
		require.NoError(t, err)
		last := transitions[len(transitions)-1]
		assert.Equal(t, "admin", last.ActorID)
		assert.Equal(t, "displaced by priority reservation", last.Reason)

		topics := env.topics()
		assert.Equal(t, 2, topics[events.TopicReservationCancelled])
		assert.Equal(t, 3, topics[events.TopicReservationConfirmed])
		assert.Equal(t, 1, topics[events.TopicWaitlistSlotAvailable])

		blocking, err := store.ListReservations(ctx, persistence.ReservationFilter{
			ResourceID: env.resource.ID, Statuses: lifecycle.BlockingStatuses(),
		})
		require.NoError(t, err)
		require.Len(t, blocking, 1)
		assert.Equal(t, result.Reservation.ID, blocking[0].ID)
	})
}

func TestPriorityBook_ClosesOwnWaitlistEntry(t *testing.T) {
	env := newTestEnv(t, testfixtures.NewMemoryStore(t))
	ctx := context.Background()

	env.mustBook(bob, 10, 12)
	queued := env.mustJoin(admin, 10, 11)

	_, err := env.svc.PriorityBook(ctx, PriorityBookParams{
		Principal: admin, ResourceID: env.resource.ID,
		Start: At(env.at(10)), End: At(env.at(12)), Purpose: "Emergency maintenance",
	})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.WaitlistBooked, env.entry(queued.ID).Status)

	positions, err := env.waitlist.MyPositions(ctx, admin)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestPriorityBook_RefusesToDisplaceCheckedIn(t *testing.T) {
	env := newTestEnv(t, testfixtures.NewMemoryStore(t))
	ctx := context.Background()

	r := env.mustBook(alice, 9, 11)
	env.clock.Set(env.at(9))
	_, err := env.svc.CheckIn(ctx, alice, r.ID)
	require.NoError(t, err)

	_, err = env.svc.PriorityBook(ctx, PriorityBookParams{
		Principal: admin, ResourceID: env.resource.ID,
		Start: At(env.at(10)), End: At(env.at(12)), Purpose: "Emergency maintenance",
	})
	conflict := requireConflict(t, err)
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, r.ID, conflict.Conflicts[0].ID)
	assert.Equal(t, lifecycle.StatusActive, env.reservation(r.ID).Status)
}

func TestCheckConflictsAndAvailability(t *testing.T) {
	env := newTestEnv(t, testfixtures.NewMemoryStore(t))
	ctx := context.Background()

	r := env.mustBook(alice, 14, 16)

	report, err := env.svc.CheckConflicts(ctx, bob, env.resource.ID, At(env.at(15)), At(env.at(17)), "")
	require.NoError(t, err)
	assert.False(t, report.Available)
	require.Len(t, report.Conflicts, 1)
	assert.Contains(t, report.Alternatives, scheduler.NewWindow(env.at(16), env.at(18)))

	report, err = env.svc.CheckConflicts(ctx, alice, env.resource.ID, At(env.at(15)), At(env.at(17)), r.ID)
	require.NoError(t, err)
	assert.True(t, report.Available)
	assert.Empty(t, report.Alternatives)

	report, err = env.svc.CheckAvailability(ctx, bob, env.resource.ID, At(env.at(16)), At(env.at(17)))
	require.NoError(t, err)
	assert.True(t, report.Available)
}

func TestGetCalendar_UsesCacheUntilInvalidated(t *testing.T) {
	env := newTestEnv(t, testfixtures.NewMemoryStore(t))
	ctx := context.Background()

	env.mustBook(alice, 9, 10)
	from, to := At(env.clock.At(1, 0, 0)), At(env.clock.At(2, 0, 0))

	calendar, err := env.svc.GetCalendar(ctx, bob, env.resource.ID, from, to)
	require.NoError(t, err)
	require.Len(t, calendar.Busy, 1)
	require.Len(t, calendar.Free, 2)
	assert.Equal(t, scheduler.NewWindow(env.at(10), env.clock.At(2, 0, 0)), calendar.Free[1])

	cached, _, ok := env.cache.Get(ctx, CalendarKey{ResourceID: env.resource.ID, From: env.clock.At(1, 0, 0), To: env.clock.At(2, 0, 0)})
	require.True(t, ok)
	assert.Equal(t, calendar, cached)

	env.mustBook(bob, 12, 13)
	calendar, err = env.svc.GetCalendar(ctx, bob, env.resource.ID, from, to)
	require.NoError(t, err)
	assert.Len(t, calendar.Busy, 2)

	_, err = env.svc.GetCalendar(ctx, bob, env.resource.ID, from, At(env.clock.At(40, 0, 0)))
	requireValidation(t, err, "to")
}

func TestGetCalendar_BookingDuringReadIsNotCachedStale(t *testing.T) {
	store := &bookDuringCalendarRead{Store: testfixtures.NewMemoryStore(t)}
	env := newTestEnv(t, store)
	ctx := context.Background()
	from, to := At(env.clock.At(1, 0, 0)), At(env.clock.At(2, 0, 0))

	store.afterRead = func() { env.mustBook(alice, 14, 16) }
	calendar, err := env.svc.GetCalendar(ctx, bob, env.resource.ID, from, to)
	require.NoError(t, err)
	assert.Empty(t, calendar.Busy, "the read happened before the booking committed")

	calendar, err = env.svc.GetCalendar(ctx, bob, env.resource.ID, from, to)
	require.NoError(t, err)
	require.Len(t, calendar.Busy, 1)
	assert.Equal(t, scheduler.NewWindow(env.at(14), env.at(16)), calendar.Busy[0].Window)
}

// bookDuringCalendarRead runs afterRead once, right after the first
// calendar listing returns.
type bookDuringCalendarRead struct {
	persistence.Store
	afterRead func()
}

func (s *bookDuringCalendarRead) ListReservations(ctx context.Context, filter persistence.ReservationFilter) ([]persistence.Reservation, error) {
	out, err := s.Store.ListReservations(ctx, filter)
	if s.afterRead != nil {
		hook := s.afterRead
		s.afterRead = nil
		hook()
	}
	return out, err
}

func TestListMyReservations(t *testing.T) {
	env := newTestEnv(t, testfixtures.NewMemoryStore(t))
	ctx := context.Background()

	env.mustBook(alice, 9, 10)
	second := env.mustBook(alice, 11, 12)
	env.mustBook(bob, 13, 14)
	_, err := env.svc.CancelReservation(ctx, alice, second.ID, "")
	require.NoError(t, err)

	all, err := env.svc.ListMyReservations(ctx, ListReservationsParams{Principal: alice})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	confirmed, err := env.svc.ListMyReservations(ctx, ListReservationsParams{
		Principal: alice, Statuses: []lifecycle.Status{lifecycle.StatusConfirmed},
	})
	require.NoError(t, err)
	assert.Len(t, confirmed, 1)

	_, err = env.svc.ListMyReservations(ctx, ListReservationsParams{Principal: alice, Statuses: []lifecycle.Status{"BOGUS"}})
	requireValidation(t, err, "status")

	_, err = env.svc.GetReservation(ctx, bob, second.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

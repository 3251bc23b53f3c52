package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/resource-reservations/internal/events"
	"github.com/example/resource-reservations/internal/persistence"
	"github.com/example/resource-reservations/internal/testfixtures"
)

const purpose = "Team sync meeting"

var (
	alice  = Principal{UserID: "alice", Role: RoleUser}
	bob    = Principal{UserID: "bob", Role: RoleUser}
	carol  = Principal{UserID: "carol", Role: RoleUser}
	admin  = Principal{UserID: "admin", Role: RoleAdmin}
	kiosk  = Principal{UserID: "kiosk-1", Role: RoleDevice}
	nobody = Principal{}
)

type testEnv struct {
	t        *testing.T
	store    persistence.Store
	clock    *testfixtures.Clock
	cache    *MemoryCalendarCache
	svc      *ReservationService
	waitlist *WaitlistManager
	sweeper  *NoShowSweeper
	resource persistence.Resource
}

func newTestEnv(t *testing.T, store persistence.Store, configure ...func(*Options)) *testEnv {
	t.Helper()
	clock := testfixtures.NewClock(time.Time{})
	opts := Options{
		Now:    clock.NowFunc(),
		NewID:  testfixtures.NewIDGenerator("gen").NextFunc(),
		Logger: testfixtures.DiscardLogger(),
		Retry:  RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond},
	}
	for _, fn := range configure {
		fn(&opts)
	}
	cache := NewMemoryCalendarCache(time.Minute, 64)
	waitlist := NewWaitlistManager(store, opts)
	env := &testEnv{
		t:        t,
		store:    store,
		clock:    clock,
		cache:    cache,
		waitlist: waitlist,
		svc:      NewReservationService(store, waitlist, cache, opts),
		sweeper:  NewNoShowSweeper(store, waitlist, cache, opts, time.Minute),
		resource: testfixtures.SeedResource(t, store, testfixtures.NewResource()),
	}
	return env
}

// at returns hour:00 on the day after the clock's current day.
func (e *testEnv) at(hour int) time.Time {
	return e.clock.At(1, hour, 0)
}

func (e *testEnv) book(p Principal, startHour, endHour int) (persistence.Reservation, error) {
	return e.svc.CreateReservation(context.Background(), CreateReservationParams{
		Principal:  p,
		ResourceID: e.resource.ID,
		Start:      At(e.at(startHour)),
		End:        At(e.at(endHour)),
		Purpose:    purpose,
	})
}

func (e *testEnv) mustBook(p Principal, startHour, endHour int) persistence.Reservation {
	e.t.Helper()
	r, err := e.book(p, startHour, endHour)
	require.NoError(e.t, err)
	return r
}

func (e *testEnv) join(p Principal, startHour, endHour int) (persistence.WaitlistEntry, error) {
	return e.waitlist.Join(context.Background(), JoinWaitlistParams{
		Principal:  p,
		ResourceID: e.resource.ID,
		Start:      At(e.at(startHour)),
		End:        At(e.at(endHour)),
	})
}

func (e *testEnv) mustJoin(p Principal, startHour, endHour int) persistence.WaitlistEntry {
	e.t.Helper()
	entry, err := e.join(p, startHour, endHour)
	require.NoError(e.t, err)
	return entry
}

func (e *testEnv) entry(id string) persistence.WaitlistEntry {
	e.t.Helper()
	entry, err := e.store.GetWaitlistEntry(context.Background(), id)
	require.NoError(e.t, err)
	return entry
}

func (e *testEnv) reservation(id string) persistence.Reservation {
	e.t.Helper()
	r, err := e.store.GetReservation(context.Background(), id)
	require.NoError(e.t, err)
	return r
}

// topics claims every pending outbox row and returns how often each topic occurs.
func (e *testEnv) topics() map[events.Topic]int {
	e.t.Helper()
	claimed, err := e.store.ClaimOutbox(context.Background(), e.clock.Now(), time.Hour, 10000)
	require.NoError(e.t, err)
	counts := make(map[events.Topic]int)
	for _, ev := range claimed {
		counts[events.Topic(ev.Topic)]++
	}
	return counts
}

func requireValidation(t *testing.T, err error, field string) {
	t.Helper()
	var vErr *ValidationError
	require.Truef(t, errors.As(err, &vErr), "expected ValidationError, got %v", err)
	require.Containsf(t, vErr.FieldErrors, field, "field errors: %v", vErr.FieldErrors)
}

func requireConflict(t *testing.T, err error) *ConflictError {
	t.Helper()
	var cErr *ConflictError
	require.Truef(t, errors.As(err, &cErr), "expected ConflictError, got %v", err)
	return cErr
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/example/resource-reservations/internal/lifecycle"
	"github.com/example/resource-reservations/internal/persistence"
)

type tx struct {
	store        *Store
	reservations map[string]persistence.Reservation
	waitlist     map[string]persistence.WaitlistEntry
	transitions  []persistence.Transition
	outbox       []persistence.OutboxEvent
}

func newTx(store *Store) *tx {
	return &tx{
		store:        store,
		reservations: make(map[string]persistence.Reservation),
		waitlist:     make(map[string]persistence.WaitlistEntry),
	}
}

func (t *tx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range t.reservations {
		s.reservations[id] = r
		s.indexLocked(r)
	}
	for id, e := range t.waitlist {
		s.waitlist[id] = e
	}
	s.transitions = append(s.transitions, t.transitions...)
	for _, ev := range t.outbox {
		s.outbox = append(s.outbox, &outboxRecord{event: ev})
	}
}

func (t *tx) GetResource(ctx context.Context, id string) (persistence.Resource, error) {
	return t.store.GetResource(ctx, id)
}

func (t *tx) GetReservation(ctx context.Context, id string) (persistence.Reservation, error) {
	if r, ok := t.reservations[id]; ok {
		return cloneReservation(r), nil
	}
	return t.store.GetReservation(ctx, id)
}

func (t *tx) ListBlocking(ctx context.Context, resourceID string, start, end time.Time, excludeID string) ([]persistence.Reservation, error) {
	merged := make(map[string]persistence.Reservation)

	t.store.mu.RLock()
	for id := range t.store.blocking[resourceID] {
		merged[id] = t.store.reservations[id]
	}
	t.store.mu.RUnlock()
	for id, r := range t.reservations {
		if r.ResourceID == resourceID {
			merged[id] = r
		}
	}

	var out []persistence.Reservation
	for id, r := range merged {
		if id == excludeID || !r.Status.Blocking() {
			continue
		}
		if r.Start.Before(end) && start.Before(r.End) {
			out = append(out, cloneReservation(r))
		}
	}
	sortReservations(out)
	return out, nil
}

func (t *tx) InsertReservation(ctx context.Context, r persistence.Reservation) error {
	if _, ok := t.reservations[r.ID]; ok {
		return fmt.Errorf("memory: reservation %s: %w", r.ID, persistence.ErrDuplicate)
	}
	if _, err := t.store.GetReservation(ctx, r.ID); err == nil {
		return fmt.Errorf("memory: reservation %s: %w", r.ID, persistence.ErrDuplicate)
	}
	t.reservations[r.ID] = cloneReservation(r)
	return nil
}

func (t *tx) UpdateReservation(ctx context.Context, r persistence.Reservation, expected lifecycle.Status) (bool, error) {
	current, err := t.GetReservation(ctx, r.ID)
	if err != nil {
		return false, err
	}
	if current.Status != expected {
		return false, nil
	}
	t.reservations[r.ID] = cloneReservation(r)
	return true, nil
}

func (t *tx) AppendTransition(ctx context.Context, transition persistence.Transition) error {
	t.transitions = append(t.transitions, transition)
	return nil
}

func (t *tx) ListActiveWaitlist(ctx context.Context, resourceID string) ([]persistence.WaitlistEntry, error) {
	merged := make(map[string]persistence.WaitlistEntry)

	t.store.mu.RLock()
	for id, e := range t.store.waitlist {
		if e.ResourceID == resourceID {
			merged[id] = e
		}
	}
	t.store.mu.RUnlock()
	for id, e := range t.waitlist {
		if e.ResourceID == resourceID {
			merged[id] = e
		}
	}

	var out []persistence.WaitlistEntry
	for _, e := range merged {
		if e.Status.Active() {
			out = append(out, cloneWaitlistEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position == out[j].Position {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (t *tx) getWaitlistEntry(ctx context.Context, id string) (persistence.WaitlistEntry, error) {
	if e, ok := t.waitlist[id]; ok {
		return cloneWaitlistEntry(e), nil
	}
	return t.store.GetWaitlistEntry(ctx, id)
}

func (t *tx) InsertWaitlistEntry(ctx context.Context, e persistence.WaitlistEntry) error {
	if _, err := t.getWaitlistEntry(ctx, e.ID); err == nil {
		return fmt.Errorf("memory: waitlist entry %s: %w", e.ID, persistence.ErrDuplicate)
	}
	active, err := t.ListActiveWaitlist(ctx, e.ResourceID)
	if err != nil {
		return err
	}
	for _, other := range active {
		if e.Status.Active() && other.Position == e.Position {
			return fmt.Errorf("memory: waitlist position %d on %s: %w", e.Position, e.ResourceID, persistence.ErrDuplicate)
		}
	}
	t.waitlist[e.ID] = cloneWaitlistEntry(e)
	return nil
}

func (t *tx) UpdateWaitlistEntry(ctx context.Context, e persistence.WaitlistEntry, expected lifecycle.WaitlistStatus) (bool, error) {
	current, err := t.getWaitlistEntry(ctx, e.ID)
	if err != nil {
		return false, err
	}
	if current.Status != expected {
		return false, nil
	}
	t.waitlist[e.ID] = cloneWaitlistEntry(e)
	return true, nil
}

func (t *tx) AppendOutbox(ctx context.Context, event persistence.OutboxEvent) error {
	t.outbox = append(t.outbox, cloneOutboxEvent(event))
	return nil
}

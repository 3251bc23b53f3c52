// Package memory provides an in-process Timeline Store. Writes made inside
// WithResourceLock are staged and applied atomically on commit, so readers
// never observe a half-finished transaction.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/resource-reservations/internal/lifecycle"
	"github.com/example/resource-reservations/internal/persistence"
)

// DefaultLockTimeout bounds how long WithResourceLock waits for a busy resource.
const DefaultLockTimeout = 3 * time.Second

// Store is a persistence.Store backed by maps.
type Store struct {
	mu           sync.RWMutex
	resources    map[string]persistence.Resource
	reservations map[string]persistence.Reservation
	// blocking indexes the ids of blocking reservations by resource.
	blocking    map[string]map[string]struct{}
	transitions []persistence.Transition
	waitlist    map[string]persistence.WaitlistEntry
	outbox      []*outboxRecord

	locksMu     sync.Mutex
	locks       map[string]chan struct{}
	lockTimeout time.Duration
}

type outboxRecord struct {
	event        persistence.OutboxEvent
	claimedUntil time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		resources:    make(map[string]persistence.Resource),
		reservations: make(map[string]persistence.Reservation),
		blocking:     make(map[string]map[string]struct{}),
		waitlist:     make(map[string]persistence.WaitlistEntry),
		locks:        make(map[string]chan struct{}),
		lockTimeout:  DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// indexLocked keeps the blocking index in step with r. s.mu must be held.
func (s *Store) indexLocked(r persistence.Reservation) {
	ids := s.blocking[r.ResourceID]
	if !r.Status.Blocking() {
		delete(ids, r.ID)
		return
	}
	if ids == nil {
		ids = make(map[string]struct{})
		s.blocking[r.ResourceID] = ids
	}
	ids[r.ID] = struct{}{}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

var _ persistence.Store = (*Store)(nil)

// --- Locking ---

func (s *Store) lockFor(resourceID string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	sem, ok := s.locks[resourceID]
	if !ok {
		sem = make(chan struct{}, 1)
		s.locks[resourceID] = sem
	}
	return sem
}

// WithResourceLock implements persistence.Store.
func (s *Store) WithResourceLock(ctx context.Context, resourceID string, fn persistence.TxFunc) (err error) {
	sem := s.lockFor(resourceID)
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("memory: lock resource %s: %w", resourceID, persistence.ErrContention)
	}
	defer func() { <-sem }()

	if _, err := s.GetResource(ctx, resourceID); err != nil {
		return err
	}

	t := newTx(s)
	if err = fn(ctx, t); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	t.commit()
	return nil
}

// --- Resources ---

// UpsertResource creates or replaces a resource.
func (s *Store) UpsertResource(ctx context.Context, resource persistence.Resource) (persistence.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.resources[resource.ID]; ok && resource.CreatedAt.IsZero() {
		resource.CreatedAt = existing.CreatedAt
	}
	s.resources[resource.ID] = resource
	return resource, nil
}

// GetResource retrieves a resource by ID.
func (s *Store) GetResource(ctx context.Context, id string) (persistence.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resource, ok := s.resources[id]
	if !ok {
		return persistence.Resource{}, persistence.ErrNotFound
	}
	return resource, nil
}

// ListResources returns all resources ordered by name.
func (s *Store) ListResources(ctx context.Context) ([]persistence.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]persistence.Resource, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// --- Reservations ---

// GetReservation retrieves a reservation by ID.
func (s *Store) GetReservation(ctx context.Context, id string) (persistence.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reservations[id]
	if !ok {
		return persistence.Reservation{}, persistence.ErrNotFound
	}
	return cloneReservation(r), nil
}

// ListReservations returns reservations matching filter ordered by start.
func (s *Store) ListReservations(ctx context.Context, filter persistence.ReservationFilter) ([]persistence.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []persistence.Reservation
	for _, r := range s.reservations {
		if matchesReservationFilter(r, filter) {
			out = append(out, cloneReservation(r))
		}
	}
	sortReservations(out)
	return limitReservations(out, filter.Limit), nil
}

// ListTransitions returns the audit trail of a reservation in append order.
func (s *Store) ListTransitions(ctx context.Context, reservationID string) ([]persistence.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []persistence.Transition
	for _, t := range s.transitions {
		if t.ReservationID == reservationID {
			out = append(out, t)
		}
	}
	return out, nil
}

// --- Waitlist ---

// GetWaitlistEntry retrieves a waitlist entry by ID.
func (s *Store) GetWaitlistEntry(ctx context.Context, id string) (persistence.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.waitlist[id]
	if !ok {
		return persistence.WaitlistEntry{}, persistence.ErrNotFound
	}
	return cloneWaitlistEntry(e), nil
}

// ListWaitlist returns entries matching filter ordered by resource and position.
func (s *Store) ListWaitlist(ctx context.Context, filter persistence.WaitlistFilter) ([]persistence.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []persistence.WaitlistEntry
	for _, e := range s.waitlist {
		if filter.ResourceID != "" && e.ResourceID != filter.ResourceID {
			continue
		}
		if filter.RequesterID != "" && e.RequesterID != filter.RequesterID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsWaitlistStatus(filter.Statuses, e.Status) {
			continue
		}
		out = append(out, cloneWaitlistEntry(e))
	}
	sortWaitlist(out)
	return out, nil
}

// --- Sweep queries ---

// ListNoShowCandidates returns CONFIRMED reservations without check-in that started before the cutoff.
func (s *Store) ListNoShowCandidates(ctx context.Context, startedBefore time.Time, limit int) ([]persistence.Reservation, error) {
	return s.selectReservations(limit, func(r persistence.Reservation) bool {
		return r.Status == lifecycle.StatusConfirmed && r.CheckedInAt == nil && r.Start.Before(startedBefore)
	}), nil
}

// ListOverdueActive returns ACTIVE reservations whose end is not after endedBy.
func (s *Store) ListOverdueActive(ctx context.Context, endedBy time.Time, limit int) ([]persistence.Reservation, error) {
	return s.selectReservations(limit, func(r persistence.Reservation) bool {
		return r.Status == lifecycle.StatusActive && !r.End.After(endedBy)
	}), nil
}

// ListStalePending returns PENDING reservations whose start is not after startedBy.
func (s *Store) ListStalePending(ctx context.Context, startedBy time.Time, limit int) ([]persistence.Reservation, error) {
	return s.selectReservations(limit, func(r persistence.Reservation) bool {
		return r.Status == lifecycle.StatusPending && !r.Start.After(startedBy)
	}), nil
}

// ListExpiredNotifications returns NOTIFIED entries whose expiry has passed.
func (s *Store) ListExpiredNotifications(ctx context.Context, now time.Time, limit int) ([]persistence.WaitlistEntry, error) {
	return s.selectWaitlist(limit, func(e persistence.WaitlistEntry) bool {
		return e.Status == lifecycle.WaitlistNotified && e.ExpiresAt != nil && !e.ExpiresAt.After(now)
	}), nil
}

// ListStaleWaiting returns WAITING entries whose requested start has passed.
func (s *Store) ListStaleWaiting(ctx context.Context, now time.Time, limit int) ([]persistence.WaitlistEntry, error) {
	return s.selectWaitlist(limit, func(e persistence.WaitlistEntry) bool {
		return e.Status == lifecycle.WaitlistWaiting && !e.RequestedStart.After(now)
	}), nil
}

func (s *Store) selectReservations(limit int, keep func(persistence.Reservation) bool) []persistence.Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []persistence.Reservation
	for _, r := range s.reservations {
		if keep(r) {
			out = append(out, cloneReservation(r))
		}
	}
	sortReservations(out)
	return limitReservations(out, limit)
}

func (s *Store) selectWaitlist(limit int, keep func(persistence.WaitlistEntry) bool) []persistence.WaitlistEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []persistence.WaitlistEntry
	for _, e := range s.waitlist {
		if keep(e) {
			out = append(out, cloneWaitlistEntry(e))
		}
	}
	sortWaitlist(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// --- Outbox ---

// ClaimOutbox leases unpublished events in creation order.
func (s *Store) ClaimOutbox(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]persistence.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []persistence.OutboxEvent
	for _, rec := range s.outbox {
		if limit > 0 && len(out) >= limit {
			break
		}
		if rec.event.PublishedAt != nil || rec.claimedUntil.After(now) {
			continue
		}
		rec.claimedUntil = now.Add(lease)
		rec.event.Attempts++
		out = append(out, cloneOutboxEvent(rec.event))
	}
	return out, nil
}

// MarkPublished records successful delivery.
func (s *Store) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	for _, rec := range s.outbox {
		if _, ok := wanted[rec.event.ID]; ok {
			published := at
			rec.event.PublishedAt = &published
		}
	}
	return nil
}

// ReleaseOutbox drops the lease on a failed event so the next cycle retries it.
func (s *Store) ReleaseOutbox(ctx context.Context, id string, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.outbox {
		if rec.event.ID == id {
			rec.claimedUntil = time.Time{}
			rec.event.LastError = cause
			return nil
		}
	}
	return persistence.ErrNotFound
}

// OutboxEvents returns a snapshot of every recorded event, published or not.
func (s *Store) OutboxEvents() []persistence.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]persistence.OutboxEvent, len(s.outbox))
	for i, rec := range s.outbox {
		out[i] = cloneOutboxEvent(rec.event)
	}
	return out
}

// --- Helpers ---

func matchesReservationFilter(r persistence.Reservation, filter persistence.ReservationFilter) bool {
	if filter.ResourceID != "" && r.ResourceID != filter.ResourceID {
		return false
	}
	if filter.RequesterID != "" && r.RequesterID != filter.RequesterID {
		return false
	}
	if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, r.Status) {
		return false
	}
	if filter.To != nil && !r.Start.Before(*filter.To) {
		return false
	}
	if filter.From != nil && !r.End.After(*filter.From) {
		return false
	}
	return true
}

func containsStatus(values []lifecycle.Status, target lifecycle.Status) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func containsWaitlistStatus(values []lifecycle.WaitlistStatus, target lifecycle.WaitlistStatus) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func sortReservations(out []persistence.Reservation) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
}

func limitReservations(out []persistence.Reservation, limit int) []persistence.Reservation {
	if limit > 0 && len(out) > limit {
		return out[:limit]
	}
	return out
}

func sortWaitlist(out []persistence.WaitlistEntry) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].ResourceID != out[j].ResourceID {
			return out[i].ResourceID < out[j].ResourceID
		}
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneReservation(r persistence.Reservation) persistence.Reservation {
	r.SpecialRequirements = cloneString(r.SpecialRequirements)
	r.CheckedInAt = cloneTime(r.CheckedInAt)
	r.CheckedOutAt = cloneTime(r.CheckedOutAt)
	return r
}

func cloneWaitlistEntry(e persistence.WaitlistEntry) persistence.WaitlistEntry {
	e.NotifiedAt = cloneTime(e.NotifiedAt)
	e.ExpiresAt = cloneTime(e.ExpiresAt)
	e.OfferStart = cloneTime(e.OfferStart)
	e.OfferEnd = cloneTime(e.OfferEnd)
	return e
}

func cloneOutboxEvent(e persistence.OutboxEvent) persistence.OutboxEvent {
	e.Payload = append([]byte(nil), e.Payload...)
	e.PublishedAt = cloneTime(e.PublishedAt)
	return e
}

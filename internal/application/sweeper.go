package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/resource-reservations/internal/events"
	"github.com/example/resource-reservations/internal/lifecycle"
	"github.com/example/resource-reservations/internal/persistence"
)

// DefaultSweepInterval is the period between sweeps when none is configured.
const DefaultSweepInterval = 10 * time.Minute

// SweepReport summarises one sweep cycle.
type SweepReport struct {
	NoShows         int
	Completed       int
	ExpiredPending  int
	WaitlistExpired int
	Notified        int
	Failed          int
}

// NoShowSweeper runs the time-driven transitions: no-shows, natural
// completion, stale approvals and waitlist expiry. Every decision is made
// again under the resource lock with a status compare-and-set, so any number
// of sweepers may run at once.
type NoShowSweeper struct {
	store    persistence.Store
	waitlist *WaitlistManager
	cache    CalendarCache
	opts     Options
	interval time.Duration
	recorder recorder
	logger   *slog.Logger
}

// NewNoShowSweeper wires a sweeper. A non-positive interval selects DefaultSweepInterval.
func NewNoShowSweeper(store persistence.Store, waitlist *WaitlistManager, cache CalendarCache, opts Options, interval time.Duration) *NoShowSweeper {
	opts = opts.withDefaults()
	if waitlist == nil {
		waitlist = NewWaitlistManager(store, opts)
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &NoShowSweeper{
		store:    store,
		waitlist: waitlist,
		cache:    cache,
		opts:     opts,
		interval: interval,
		recorder: recorder{opts: opts},
		logger:   opts.Logger,
	}
}

// sweepStage describes one class of reservation transitions.
type sweepStage struct {
	name   string
	event  lifecycle.Event
	topic  events.Topic
	reason string
	list   func(ctx context.Context, now time.Time, limit int) ([]persistence.Reservation, error)
	due    func(r persistence.Reservation, now time.Time) bool
	count  func(report *SweepReport)
}

func (s *NoShowSweeper) stages() []sweepStage {
	policy := s.opts.Policy
	return []sweepStage{
		{
			name:   "no_show",
			event:  lifecycle.EventMarkNoShow,
			topic:  events.TopicReservationNoShow,
			reason: "no check-in within grace period",
			list: func(ctx context.Context, now time.Time, limit int) ([]persistence.Reservation, error) {
				return s.store.ListNoShowCandidates(ctx, policy.NoShowCutoff(now), limit)
			},
			due: func(r persistence.Reservation, now time.Time) bool {
				return policy.NoShowDue(r.Status, r.Start, r.CheckedInAt != nil, now)
			},
			count: func(report *SweepReport) { report.NoShows++ },
		},
		{
			name:   "complete",
			event:  lifecycle.EventComplete,
			topic:  events.TopicReservationCompleted,
			reason: "reservation ended",
			list:   s.store.ListOverdueActive,
			due: func(r persistence.Reservation, now time.Time) bool {
				return r.Status == lifecycle.StatusActive && !r.End.After(now)
			},
			count: func(report *SweepReport) { report.Completed++ },
		},
		{
			name:   "expire_pending",
			event:  lifecycle.EventExpirePending,
			topic:  events.TopicReservationCancelled,
			reason: "not approved before start",
			list:   s.store.ListStalePending,
			due: func(r persistence.Reservation, now time.Time) bool {
				return r.Status == lifecycle.StatusPending && !r.Start.After(now)
			},
			count: func(report *SweepReport) { report.ExpiredPending++ },
		},
	}
}

// Sweep runs one cycle at the current clock reading. Individual failures are
// logged and counted; they never stop the rest of the cycle.
func (s *NoShowSweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	if s == nil {
		return report, fmt.Errorf("NoShowSweeper is nil")
	}
	logger := serviceLogger(ctx, s.logger, "NoShowSweeper", "Sweep")
	now := normalize(s.opts.Now())

	var errs []error
	for _, stage := range s.stages() {
		candidates, err := stage.list(ctx, now, s.opts.SweepBatchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", stage.name, err))
			logger.ErrorContext(ctx, "sweep discovery failed", "stage", stage.name, "error", err)
			continue
		}
		for _, candidate := range candidates {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			applied, notified, err := s.apply(ctx, stage, candidate)
			if err != nil {
				report.Failed++
				logger.ErrorContext(ctx, "sweep transition failed",
					"stage", stage.name, "reservation_id", candidate.ID, "error", err)
				continue
			}
			if applied {
				stage.count(&report)
				invalidateCalendar(ctx, s.cache, candidate.ResourceID)
			}
			if notified {
				report.Notified++
			}
		}
	}

	waitlistReport, err := s.waitlist.SweepExpired(ctx)
	report.WaitlistExpired += waitlistReport.Expired
	report.Notified += waitlistReport.Notified
	report.Failed += waitlistReport.Failed
	if err != nil {
		errs = append(errs, fmt.Errorf("waitlist: %w", err))
	}

	logger.InfoContext(ctx, "sweep completed",
		"no_shows", report.NoShows,
		"completed", report.Completed,
		"expired_pending", report.ExpiredPending,
		"waitlist_expired", report.WaitlistExpired,
		"notified", report.Notified,
		"failed", report.Failed)
	return report, errors.Join(errs...)
}

// apply claims one candidate. A candidate already moved on by another
// sweeper or a user action is skipped without error.
func (s *NoShowSweeper) apply(ctx context.Context, stage sweepStage, candidate persistence.Reservation) (applied, notified bool, err error) {
	err = withRetry(ctx, s.opts.Retry, candidate.ResourceID, func() error {
		applied, notified = false, false
		return s.store.WithResourceLock(ctx, candidate.ResourceID, func(ctx context.Context, tx persistence.Tx) error {
			now := normalize(s.opts.Now())
			current, err := tx.GetReservation(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if !stage.due(current, now) {
				return nil
			}
			next, err := lifecycle.Next(current.Status, stage.event)
			if err != nil {
				return err
			}

			updated := current
			updated.Status = next
			updated.UpdatedAt = now
			claimed, err := tx.UpdateReservation(ctx, updated, current.Status)
			if err != nil || !claimed {
				return err
			}
			applied = true
			if err := s.recorder.record(ctx, tx, stage.topic, updated, current.Status, sweeperActor, stage.reason, now); err != nil {
				return err
			}
			if !current.Status.Blocking() {
				return nil
			}
			entry, err := s.waitlist.onSlotFreedTx(ctx, tx, current.ResourceID, remaining(windowOf(current), now), now)
			notified = entry != nil
			return err
		})
	})
	return applied, notified, finish(err)
}

// Run sweeps immediately and then every interval until ctx is done.
func (s *NoShowSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "sweep cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

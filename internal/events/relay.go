package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/resource-reservations/internal/persistence"
)

// RelayConfig tunes the outbox relay.
type RelayConfig struct {
	Interval  time.Duration
	Lease     time.Duration
	BatchSize int
	Now       func() time.Time
}

// Relay moves committed outbox rows to a Publisher. Delivery is
// at-least-once: a row is marked published only after Publish succeeded, and
// an expired lease makes it eligible again.
type Relay struct {
	store     persistence.OutboxStore
	publisher Publisher
	cfg       RelayConfig
	logger    *slog.Logger
}

// NewRelay builds a relay with defaults for unset config fields.
func NewRelay(store persistence.OutboxStore, publisher Publisher, cfg RelayConfig, logger *slog.Logger) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With("component", "outbox_relay"),
	}
}

// RunOnce publishes one batch and returns how many events were delivered.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	batch, err := r.store.ClaimOutbox(ctx, r.cfg.Now(), r.cfg.Lease, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("events: claim outbox: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	published := make([]string, 0, len(batch))
	for _, ev := range batch {
		msg := Message{ID: ev.ID, Topic: ev.Topic, AggregateID: ev.AggregateID, Payload: ev.Payload}
		if err := r.publisher.Publish(ctx, msg); err != nil {
			r.logger.ErrorContext(ctx, "publish failed",
				slog.String("event_id", ev.ID),
				slog.String("topic", ev.Topic),
				slog.Int("attempts", ev.Attempts),
				slog.Any("error", err),
			)
			if relErr := r.store.ReleaseOutbox(ctx, ev.ID, err.Error()); relErr != nil {
				r.logger.ErrorContext(ctx, "release failed", slog.String("event_id", ev.ID), slog.Any("error", relErr))
			}
			continue
		}
		published = append(published, ev.ID)
	}

	if len(published) > 0 {
		if err := r.store.MarkPublished(ctx, published, r.cfg.Now()); err != nil {
			return 0, fmt.Errorf("events: mark published: %w", err)
		}
	}
	return len(published), nil
}

// Run drains the outbox every Interval until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		for {
			n, err := r.RunOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.ErrorContext(ctx, "relay cycle failed", slog.Any("error", err))
				}
				break
			}
			if n > 0 {
				r.logger.DebugContext(ctx, "relay cycle", slog.Int("published", n))
			}
			if n < r.cfg.BatchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

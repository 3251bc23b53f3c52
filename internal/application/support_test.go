package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/resource-reservations/internal/localtime"
	"github.com/example/resource-reservations/internal/persistence"
	"github.com/example/resource-reservations/internal/scheduler"
)

func TestWithRetry(t *testing.T) {
	t.Parallel()
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}

	t.Run("retries contention until success", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), cfg, "room-1", func() error {
			calls++
			if calls < 3 {
				return fmt.Errorf("lock: %w", persistence.ErrContention)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up with ContentionError", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), cfg, "room-1", func() error {
			calls++
			return persistence.ErrContention
		})
		var cErr *ContentionError
		require.True(t, errors.As(err, &cErr))
		assert.Equal(t, 3, cErr.Attempts)
		assert.Equal(t, "room-1", cErr.ResourceID)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		calls := 0
		conflict := &ConflictError{}
		err := withRetry(context.Background(), cfg, "room-1", func() error {
			calls++
			return conflict
		})
		assert.Same(t, conflict, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops when the context ends", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		err := withRetry(ctx, RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 2}, "room-1", func() error {
			cancel()
			return persistence.ErrContention
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestResolveTime(t *testing.T) {
	t.Parallel()

	instant := time.Date(2024, time.June, 3, 9, 0, 0, 123456789, time.FixedZone("CEST", 2*3600))
	got, err := resolveTime("start", At(instant), "America/New_York")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.June, 3, 7, 0, 0, 123456000, time.UTC), got)

	_, err = resolveTime("start", Local("2024-11-03T01:30", ""), "America/New_York")
	var tzErr *TimeZoneAnomalyError
	require.True(t, errors.As(err, &tzErr))
	assert.Equal(t, localtime.KindAmbiguous, tzErr.Kind)
	require.Len(t, tzErr.Suggestions, 2)
	assert.True(t, tzErr.Suggestions[0].Before(tzErr.Suggestions[1]))

	_, err = resolveTime("end", Local("next tuesday", ""), "UTC")
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Contains(t, vErr.FieldErrors, "end")

	_, err = resolveTime("end", TimeInput{}, "UTC")
	require.True(t, errors.As(err, &vErr))
}

func TestMemoryCalendarCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := NewMemoryCalendarCache(time.Minute, 8)
	day := time.Date(2024, time.June, 4, 0, 0, 0, 0, time.UTC)
	key := CalendarKey{ResourceID: "room-1", From: day, To: day.Add(24 * time.Hour)}
	otherKey := CalendarKey{ResourceID: "room-2", From: day, To: day.Add(24 * time.Hour)}

	_, slot, ok := cache.Get(ctx, key)
	require.False(t, ok)
	_, otherSlot, _ := cache.Get(ctx, otherKey)

	original := Calendar{ResourceID: "room-1", Free: []scheduler.Window{scheduler.NewWindow(day, day.Add(time.Hour))}}
	cache.Set(ctx, slot, original)
	cache.Set(ctx, otherSlot, Calendar{ResourceID: "room-2"})
	original.Free[0] = scheduler.Window{}

	cached, _, ok := cache.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, day, cached.Free[0].Start, "cache must hold its own copy")

	cache.Invalidate(ctx, "room-1")
	_, _, ok = cache.Get(ctx, key)
	assert.False(t, ok)
	_, _, ok = cache.Get(ctx, otherKey)
	assert.True(t, ok, "invalidation is per resource")

	// A slot resolved before an invalidation is never read again.
	_, stale, _ := cache.Get(ctx, key)
	cache.Invalidate(ctx, "room-1")
	cache.Set(ctx, stale, original)
	_, _, ok = cache.Get(ctx, key)
	assert.False(t, ok)

	var nilCache *MemoryCalendarCache
	_, _, ok = nilCache.Get(ctx, key)
	assert.False(t, ok)
}

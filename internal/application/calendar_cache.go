package application

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CalendarKey identifies a cached calendar range.
type CalendarKey struct {
	ResourceID string
	From       time.Time
	To         time.Time
}

// CalendarCache serves GetCalendar reads. It is never consulted when a
// booking decision is made.
type CalendarCache interface {
	// Get resolves key against the resource's current generation. On a miss
	// the returned slot names where a calendar built from a later read
	// belongs; an invalidation in between leaves that slot unreachable. An
	// empty slot means the result must not be stored.
	Get(ctx context.Context, key CalendarKey) (calendar Calendar, slot string, ok bool)
	Set(ctx context.Context, slot string, calendar Calendar)
	// Invalidate drops every cached range of the resource.
	Invalidate(ctx context.Context, resourceID string)
}

// MemoryCalendarCache is an in-process CalendarCache. Invalidation bumps a
// per-resource generation that is part of every key, so stale ranges simply
// age out of the LRU.
type MemoryCalendarCache struct {
	mu          sync.Mutex
	generations map[string]uint64
	entries     *expirable.LRU[string, Calendar]
}

// NewMemoryCalendarCache returns a cache holding up to size calendars for ttl.
func NewMemoryCalendarCache(ttl time.Duration, size int) *MemoryCalendarCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if size <= 0 {
		size = 256
	}
	return &MemoryCalendarCache{
		generations: make(map[string]uint64),
		entries:     expirable.NewLRU[string, Calendar](size, nil, ttl),
	}
}

func (c *MemoryCalendarCache) Get(_ context.Context, key CalendarKey) (Calendar, string, bool) {
	if c == nil {
		return Calendar{}, "", false
	}
	slot := c.keyFor(key)
	calendar, ok := c.entries.Get(slot)
	if !ok {
		return Calendar{}, slot, false
	}
	return cloneCalendar(calendar), slot, true
}

func (c *MemoryCalendarCache) Set(_ context.Context, slot string, calendar Calendar) {
	if c == nil || slot == "" {
		return
	}
	c.entries.Add(slot, cloneCalendar(calendar))
}

func (c *MemoryCalendarCache) Invalidate(_ context.Context, resourceID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.generations[resourceID]++
	c.mu.Unlock()
}

func (c *MemoryCalendarCache) keyFor(key CalendarKey) string {
	c.mu.Lock()
	generation := c.generations[key.ResourceID]
	c.mu.Unlock()

	builder := strings.Builder{}
	builder.WriteString(key.ResourceID)
	builder.WriteString("|")
	builder.WriteString(strconv.FormatUint(generation, 10))
	builder.WriteString("|")
	builder.WriteString(key.From.UTC().Format(time.RFC3339Nano))
	builder.WriteString("|")
	builder.WriteString(key.To.UTC().Format(time.RFC3339Nano))
	return builder.String()
}

func cloneCalendar(calendar Calendar) Calendar {
	out := calendar
	if calendar.Busy != nil {
		out.Busy = append([]BusySlot(nil), calendar.Busy...)
	}
	if calendar.Free != nil {
		out.Free = append(out.Free[:0:0], calendar.Free...)
	}
	return out
}

func invalidateCalendar(ctx context.Context, cache CalendarCache, resourceID string) {
	if cache != nil {
		cache.Invalidate(ctx, resourceID)
	}
}

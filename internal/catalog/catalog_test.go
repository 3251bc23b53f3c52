package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/resource-reservations/internal/testfixtures"
)

const sample = `
resources:
  - id: room-a
    name: Room A
    time_zone: Europe/Berlin
    max_advance: 720h
    min_duration: 30m
    max_duration: 4h
  - id: projector-1
    bookable: false
`

func TestParse(t *testing.T) {
	resources, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, resources, 2)

	room := resources[0]
	assert.Equal(t, "room-a", room.ID)
	assert.Equal(t, "Room A", room.Name)
	assert.True(t, room.Bookable)
	assert.Equal(t, "Europe/Berlin", room.TimeZone)
	assert.Equal(t, 720*time.Hour, room.MaxAdvance)
	assert.Equal(t, 30*time.Minute, room.MinDuration)
	assert.Equal(t, 4*time.Hour, room.MaxDuration)

	projector := resources[1]
	assert.Equal(t, "projector-1", projector.Name)
	assert.False(t, projector.Bookable)
	assert.Equal(t, "UTC", projector.TimeZone)
	assert.Zero(t, projector.MaxDuration)
}

func TestParseReportsEveryProblem(t *testing.T) {
	_, err := Parse(strings.NewReader(`
resources:
  - name: nameless
  - id: room-b
    time_zone: Mars/Olympus
    min_duration: 2h
    max_duration: 1h
  - id: room-b
    max_advance: soon
`))
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"resources[0]: id is required",
		`unknown time zone "Mars/Olympus"`,
		"min_duration exceeds max_duration",
		"duplicate id",
		"max_advance must be a positive duration",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("resources:\n  - id: room-a\n    capacity: 12\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacity")
}

func TestLoadFileAndSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	resources, err := LoadFile(path)
	require.NoError(t, err)

	store := testfixtures.NewMemoryStore(t)
	ctx := context.Background()
	written, err := Seed(ctx, store, resources, testfixtures.ReferenceTime())
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	stored, err := store.GetResource(ctx, "room-a")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", stored.TimeZone)
	assert.Equal(t, testfixtures.ReferenceTime(), stored.UpdatedAt)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// Package catalog loads the resource catalog from a YAML file and seeds it
// into the store at startup.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/resource-reservations/internal/localtime"
	"github.com/example/resource-reservations/internal/persistence"
)

// File is the on-disk layout.
//
//	resources:
//	  - id: room-a
//	    name: Room A
//	    time_zone: Europe/Berlin
//	    max_advance: 720h
//	    min_duration: 30m
//	    max_duration: 8h
type File struct {
	Resources []Entry `yaml:"resources"`
}

// Entry describes one resource. Empty durations fall back to the service defaults.
type Entry struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Bookable    *bool  `yaml:"bookable"`
	TimeZone    string `yaml:"time_zone"`
	MaxAdvance  string `yaml:"max_advance"`
	MinDuration string `yaml:"min_duration"`
	MaxDuration string `yaml:"max_duration"`
}

// Upserter is the part of the store the catalog writes to.
type Upserter interface {
	UpsertResource(ctx context.Context, resource persistence.Resource) (persistence.Resource, error)
}

// Parse decodes and validates a catalog. Unknown keys are rejected and every
// problem is reported together.
func Parse(r io.Reader) ([]persistence.Resource, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var file File
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	var (
		problems  []string
		resources = make([]persistence.Resource, 0, len(file.Resources))
		seen      = make(map[string]bool, len(file.Resources))
	)
	for i, entry := range file.Resources {
		resource, errs := entry.resource()
		label := fmt.Sprintf("resources[%d]", i)
		if entry.ID != "" {
			label = fmt.Sprintf("resource %q", entry.ID)
			if seen[entry.ID] {
				errs = append(errs, "duplicate id")
			}
			seen[entry.ID] = true
		}
		for _, e := range errs {
			problems = append(problems, label+": "+e)
		}
		resources = append(resources, resource)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("catalog: %s", strings.Join(problems, "; "))
	}
	return resources, nil
}

// LoadFile parses the catalog at path.
func LoadFile(path string) ([]persistence.Resource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(bytes.NewReader(raw))
}

// Seed upserts every resource and returns how many were written.
func Seed(ctx context.Context, store Upserter, resources []persistence.Resource, now time.Time) (int, error) {
	for i, resource := range resources {
		resource.UpdatedAt = now
		if _, err := store.UpsertResource(ctx, resource); err != nil {
			return i, fmt.Errorf("catalog: upsert %s: %w", resource.ID, err)
		}
	}
	return len(resources), nil
}

func (e Entry) resource() (persistence.Resource, []string) {
	var errs []string
	resource := persistence.Resource{
		ID:       strings.TrimSpace(e.ID),
		Name:     strings.TrimSpace(e.Name),
		Bookable: e.Bookable == nil || *e.Bookable,
		TimeZone: strings.TrimSpace(e.TimeZone),
	}
	if resource.ID == "" {
		errs = append(errs, "id is required")
	}
	if resource.Name == "" {
		resource.Name = resource.ID
	}
	if resource.TimeZone == "" {
		resource.TimeZone = "UTC"
	}
	if _, err := localtime.LoadZone(resource.TimeZone); err != nil {
		errs = append(errs, fmt.Sprintf("unknown time zone %q", resource.TimeZone))
	}

	parse := func(field, value string, target *time.Duration) {
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be a positive duration", field))
			return
		}
		*target = d
	}
	parse("max_advance", e.MaxAdvance, &resource.MaxAdvance)
	parse("min_duration", e.MinDuration, &resource.MinDuration)
	parse("max_duration", e.MaxDuration, &resource.MaxDuration)

	if resource.MinDuration > 0 && resource.MaxDuration > 0 && resource.MinDuration > resource.MaxDuration {
		errs = append(errs, "min_duration exceeds max_duration")
	}
	return resource, errs
}

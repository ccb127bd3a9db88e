package exports

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Timezones resolves the timezone an organization's exports are rendered in
type Timezones interface {
	Location(ctx context.Context, orgID string) (*time.Location, error)
}

// StaticTimezones maps organizations to timezones loaded up front
type StaticTimezones struct {
	mu       sync.RWMutex
	fallback *time.Location
	orgs     map[string]*time.Location
}

// NewStaticTimezones builds a resolver from IANA zone names keyed by
// organization. Organizations not listed use fallback (UTC when empty).
func NewStaticTimezones(fallback string, zones map[string]string) (*StaticTimezones, error) {
	tz := &StaticTimezones{fallback: time.UTC, orgs: make(map[string]*time.Location, len(zones))}
	if fallback != "" {
		loc, err := time.LoadLocation(fallback)
		if err != nil {
			return nil, fmt.Errorf("invalid default timezone %q: %w", fallback, err)
		}
		tz.fallback = loc
	}
	for org, name := range zones {
		if err := tz.Set(org, name); err != nil {
			return nil, err
		}
	}
	return tz, nil
}

// Set assigns a timezone to an organization
func (t *StaticTimezones) Set(orgID, zone string) error {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q for org %s: %w", zone, orgID, err)
	}
	t.mu.Lock()
	t.orgs[orgID] = loc
	t.mu.Unlock()
	return nil
}

// Location implements Timezones
func (t *StaticTimezones) Location(_ context.Context, orgID string) (*time.Location, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if loc, ok := t.orgs[orgID]; ok {
		return loc, nil
	}
	return t.fallback, nil
}

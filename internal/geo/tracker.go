// Package geo tracks the last position a client reported for a session.
package geo

import (
	"errors"
	"math"
	"sync"
	"time"

	"echo-civic-assistant/backend/ai"
)

// ErrInvalidCoordinates rejects positions outside WGS84 ranges
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Tracker holds the latest known location
type Tracker struct {
	mu      sync.RWMutex
	loc     ai.Location
	known   bool
	updated time.Time
}

// NewTracker creates a tracker with no known location
func NewTracker() *Tracker {
	return &Tracker{}
}

// Update records a new position
func (t *Tracker) Update(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return ErrInvalidCoordinates
	}
	t.mu.Lock()
	t.loc = ai.Location{Latitude: lat, Longitude: lng}
	t.known = true
	t.updated = time.Now()
	t.mu.Unlock()
	return nil
}

// Current returns the last position, if any
func (t *Tracker) Current() (ai.Location, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loc, t.known
}

// UpdatedAt returns when the position was last reported
func (t *Tracker) UpdatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updated
}

// Clear forgets the position
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.loc = ai.Location{}
	t.known = false
	t.mu.Unlock()
}

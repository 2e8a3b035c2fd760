package arrival

import (
	"sync"
	"time"

	"github.com/quickbite/courier-nav/internal/state"
	"github.com/quickbite/courier-nav/pkg/config"
	"github.com/quickbite/courier-nav/pkg/geo"
	"github.com/quickbite/courier-nav/pkg/logger"
	"go.uber.org/zap"
)

// TargetFlags carries the server-side arrival flags from the tracking
// record, so a location already marked arrived never re-fires.
type TargetFlags struct {
	PickupArrived   bool
	DeliveryArrived bool
}

type memoKey struct {
	lon    float64
	lat    float64
	status state.Status
}

// Detector decides whether the courier has arrived at the current waypoint.
// GPS noise near the geofence boundary oscillates in and out of range, so a
// positive detection is debounced per (target, status) and the whole
// detector can be suspended for a cooldown after the caller acts on one.
type Detector struct {
	threshold float64
	debounce  time.Duration

	mu             sync.Mutex
	memo           map[memoKey]time.Time
	lastStatus     state.Status
	suspendedUntil time.Time
	now            func() time.Time
}

// NewDetector creates a detector from arrival config.
func NewDetector(cfg config.ArrivalConfig) *Detector {
	return &Detector{
		threshold: cfg.ThresholdMeters,
		debounce:  cfg.DebounceWindow,
		memo:      make(map[memoKey]time.Time),
		now:       time.Now,
	}
}

// Check reports whether the current location counts as a fresh arrival at
// target for the given status. It returns false while already at a stop,
// when the backend has the stop flagged arrived, outside the en-route
// statuses, outside the geofence, and within the debounce window of a
// previous detection for the same target.
func (d *Detector) Check(loc, target geo.Point, status state.Status, flags TargetFlags) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Before(d.suspendedUntil) {
		return false
	}

	// The memo only needs entries for the current leg.
	if status != d.lastStatus {
		d.memo = make(map[memoKey]time.Time)
		d.lastStatus = status
	}

	// Already standing at the stop per status.
	if status == state.StatusAtPickup || status == state.StatusAtDelivery {
		return false
	}

	switch status {
	case state.StatusAssigned, state.StatusHeadingToPickup:
		if flags.PickupArrived {
			return false
		}
	case state.StatusPickedUp, state.StatusHeadingToDelivery:
		if flags.DeliveryArrived {
			return false
		}
	default:
		return false
	}

	key := memoKey{lon: target.Longitude, lat: target.Latitude, status: status}
	distance := geo.DistanceBetween(loc, target)

	if distance > d.threshold {
		// Left the geofence: re-arm so a future approach can trigger again.
		delete(d.memo, key)
		return false
	}

	if last, ok := d.memo[key]; ok && now.Sub(last) < d.debounce {
		return false
	}

	d.memo[key] = now
	logger.Debug("arrival detected",
		zap.String("status", string(status)),
		zap.Float64("distance_m", distance),
	)
	return true
}

// SuspendFor silences detection for the given duration. The navigation
// loop calls this after acting on a detection so the UI can settle before
// the next automatic transition becomes possible.
func (d *Detector) SuspendFor(cooldown time.Duration) {
	d.mu.Lock()
	d.suspendedUntil = d.now().Add(cooldown)
	d.mu.Unlock()
}

// Reset clears all debounce state and any active suspension.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.memo = make(map[memoKey]time.Time)
	d.suspendedUntil = time.Time{}
	d.lastStatus = ""
	d.mu.Unlock()
}

package arrival

import (
	"testing"
	"time"

	"github.com/quickbite/courier-nav/internal/state"
	"github.com/quickbite/courier-nav/pkg/config"
	"github.com/quickbite/courier-nav/pkg/geo"
	"github.com/stretchr/testify/assert"
)

var (
	pickup = geo.Point{Latitude: 18.4861, Longitude: -69.9312}
	// ~25m north of pickup
	nearPickup = geo.Point{Latitude: 18.48632, Longitude: -69.9312}
	// ~550m north of pickup
	farFromPickup = geo.Point{Latitude: 18.4911, Longitude: -69.9312}
)

func newTestDetector(now *time.Time) *Detector {
	d := NewDetector(config.ArrivalConfig{
		ThresholdMeters: 50,
		DebounceWindow:  30 * time.Second,
		Cooldown:        60 * time.Second,
	})
	d.now = func() time.Time { return *now }
	return d
}

func TestCheck_FiresInsideGeofence(t *testing.T) {
	now := time.Now()
	d := newTestDetector(&now)

	assert.True(t, d.Check(nearPickup, pickup, state.StatusHeadingToPickup, TargetFlags{}))
}

func TestCheck_DebouncesWithinWindow(t *testing.T) {
	now := time.Now()
	d := newTestDetector(&now)

	assert.True(t, d.Check(nearPickup, pickup, state.StatusHeadingToPickup, TargetFlags{}))

	now = now.Add(10 * time.Second)
	assert.False(t, d.Check(nearPickup, pickup, state.StatusHeadingToPickup, TargetFlags{}))

	now = now.Add(25 * time.Second)
	assert.True(t, d.Check(nearPickup, pickup, state.StatusHeadingToPickup, TargetFlags{}))
}

func TestCheck_RearmsAfterLeavingGeofence(t *testing.T) {
	now := time.Now()
	d := newTestDetector(&now)

	assert.True(t, d.Check(nearPickup, pickup, state.StatusHeadingToPickup, TargetFlags{}))

	// Leaving the geofence clears the memo, so re-entry fires immediately
	// even inside what would have been the debounce window.
	now = now.Add(5 * time.Second)
	assert.False(t, d.Check(farFromPickup, pickup, state.StatusHeadingToPickup, TargetFlags{}))

	now = now.Add(5 * time.Second)
	assert.True(t, d.Check(nearPickup, pickup, state.StatusHeadingToPickup, TargetFlags{}))
}

func TestCheck_NeverFiresWhileAtStop(t *testing.T) {
	now := time.Now()
	d := newTestDetector(&now)

	assert.False(t, d.Check(nearPickup, pickup, state.StatusAtPickup, TargetFlags{}))
	assert.False(t, d.Check(nearPickup, pickup, state.StatusAtDelivery, TargetFlags{}))
}

func TestCheck_RespectsServerArrivedFlags(t *testing.T) {
	now := time.Now()
	d := newTestDetector(&now)

	assert.False(t, d.Check(nearPickup, pickup, state.StatusHeadingToPickup, TargetFlags{PickupArrived: true}))
	assert.False(t, d.Check(nearPickup, pickup, state.StatusHeadingToDelivery, TargetFlags{DeliveryArrived: true}))

	// The pickup flag does not gate the delivery leg.
	assert.True(t, d.Check(nearPickup, pickup, state.StatusHeadingToDelivery, TargetFlags{PickupArrived: true}))
}

func TestCheck_OnlyEnRouteStatusesEvaluate(t *testing.T) {
	now := time.Now()
	d := newTestDetector(&now)

	assert.False(t, d.Check(nearPickup, pickup, state.StatusDelivered, TargetFlags{}))
	assert.False(t, d.Check(nearPickup, pickup, state.StatusCancelled, TargetFlags{}))
	assert.False(t, d.Check(nearPickup, pickup, state.Status("bogus"), TargetFlags{}))

	assert.True(t, d.Check(nearPickup, pickup, state.StatusAssigned, TargetFlags{}))
}

func TestSuspendFor_SilencesDetection(t *testing.T) {
	now := time.Now()
	d := newTestDetector(&now)

	d.SuspendFor(60 * time.Second)
	assert.False(t, d.Check(nearPickup, pickup, state.StatusHeadingToPickup, TargetFlags{}))

	now = now.Add(61 * time.Second)
	assert.True(t, d.Check(nearPickup, pickup, state.StatusHeadingToPickup, TargetFlags{}))
}

func TestStatusChangeClearsMemo(t *testing.T) {
	now := time.Now()
	d := newTestDetector(&now)

	assert.True(t, d.Check(nearPickup, pickup, state.StatusHeadingToPickup, TargetFlags{}))
	assert.False(t, d.Check(nearPickup, pickup, state.StatusHeadingToPickup, TargetFlags{}))

	// Advancing the leg resets debounce state for the memo bound.
	d.Check(nearPickup, pickup, state.StatusPickedUp, TargetFlags{})
	assert.Len(t, d.memo, 1)
}

func TestReset(t *testing.T) {
	now := time.Now()
	d := newTestDetector(&now)

	assert.True(t, d.Check(nearPickup, pickup, state.StatusHeadingToPickup, TargetFlags{}))
	d.SuspendFor(time.Hour)
	d.Reset()

	assert.True(t, d.Check(nearPickup, pickup, state.StatusHeadingToPickup, TargetFlags{}))
}

package state

import (
	"testing"

	"github.com/quickbite/courier-nav/pkg/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pickupStop   = Stop{Coordinates: geo.Point{Latitude: 18.4861, Longitude: -69.9312}, Address: "Av. Winston Churchill 25"}
	deliveryStop = Stop{Coordinates: geo.Point{Latitude: 18.4655, Longitude: -69.9512}, Address: "Calle El Conde 105"}
)

func TestNextWaypoint_Table(t *testing.T) {
	cases := []struct {
		status   Status
		wantType WaypointType
		wantStop Stop
	}{
		{StatusAssigned, WaypointPickup, pickupStop},
		{StatusHeadingToPickup, WaypointPickup, pickupStop},
		{StatusAtPickup, WaypointPickup, pickupStop},
		{StatusPickedUp, WaypointDelivery, deliveryStop},
		{StatusHeadingToDelivery, WaypointDelivery, deliveryStop},
		{StatusAtDelivery, WaypointDelivery, deliveryStop},
		{StatusDelivered, WaypointCompleted, deliveryStop},
	}

	for _, c := range cases {
		wp := NextWaypoint(c.status, pickupStop, deliveryStop)
		require.NotNil(t, wp, "status %s", c.status)
		assert.Equal(t, c.wantType, wp.Type, "status %s", c.status)
		assert.Equal(t, c.wantStop.Coordinates, wp.Coordinates, "status %s", c.status)
		assert.Equal(t, c.wantStop.Address, wp.Address, "status %s", c.status)
	}
}

func TestNextWaypoint_StationaryStatusKeepsTarget(t *testing.T) {
	// A courier standing at the pickup must still see the pickup location,
	// otherwise the map goes blank the moment they arrive.
	wp := NextWaypoint(StatusAtPickup, pickupStop, deliveryStop)
	require.NotNil(t, wp)
	assert.Equal(t, WaypointPickup, wp.Type)
	assert.Equal(t, pickupStop.Coordinates, wp.Coordinates)
}

func TestNextWaypoint_NoWaypoint(t *testing.T) {
	assert.Nil(t, NextWaypoint(StatusCancelled, pickupStop, deliveryStop))
	assert.Nil(t, NextWaypoint(Status("bogus"), pickupStop, deliveryStop))
}

func TestNextAction_MerchantDrivenEdge(t *testing.T) {
	action := NextAction(StatusAtPickup)
	require.NotNil(t, action)
	assert.Equal(t, StatusPickedUp, action.Target)
	assert.True(t, action.AwaitsExternal)
	assert.Equal(t, ExternalActorMerchant, action.ExternalActor)
}

func TestNextAction_ChainVisitsEveryStatusOnce(t *testing.T) {
	seen := map[Status]bool{StatusAssigned: true}
	current := StatusAssigned

	for {
		action := NextAction(current)
		if action == nil {
			break
		}
		require.False(t, seen[action.Target], "status %s visited twice", action.Target)
		seen[action.Target] = true
		current = action.Target
	}

	assert.Equal(t, StatusDelivered, current)
	assert.Len(t, seen, 7)
	assert.Nil(t, NextAction(StatusDelivered))
	assert.Nil(t, NextAction(StatusCancelled))
	assert.Nil(t, NextAction(Status("bogus")))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusAssigned, StatusHeadingToPickup))
	assert.True(t, CanTransition(StatusAtPickup, StatusPickedUp))
	assert.True(t, CanTransition(StatusAtDelivery, StatusDelivered))

	// No skipping, no going back
	assert.False(t, CanTransition(StatusAssigned, StatusAtPickup))
	assert.False(t, CanTransition(StatusPickedUp, StatusAssigned))
	assert.False(t, CanTransition(StatusDelivered, StatusAssigned))

	// Backend-driven cancellation from any active status, never from terminal
	assert.True(t, CanTransition(StatusHeadingToDelivery, StatusCancelled))
	assert.False(t, CanTransition(StatusDelivered, StatusCancelled))
}

func TestParseAndTerminal(t *testing.T) {
	s, ok := Parse("heading_to_pickup")
	require.True(t, ok)
	assert.Equal(t, StatusHeadingToPickup, s)

	_, ok = Parse("teleporting")
	assert.False(t, ok)

	assert.True(t, StatusDelivered.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusAtDelivery.IsTerminal())

	assert.Len(t, ActiveStatuses(), 6)
}

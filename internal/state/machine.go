package state

import (
	"github.com/quickbite/courier-nav/pkg/geo"
)

// Status is a courier delivery status. Statuses form a strict forward-only
// chain from assigned to delivered; cancelled is a backend-originated exit.
type Status string

const (
	StatusAssigned          Status = "assigned"
	StatusHeadingToPickup   Status = "heading_to_pickup"
	StatusAtPickup          Status = "at_pickup"
	StatusPickedUp          Status = "picked_up"
	StatusHeadingToDelivery Status = "heading_to_delivery"
	StatusAtDelivery        Status = "at_delivery"
	StatusDelivered         Status = "delivered"
	StatusCancelled         Status = "cancelled"
)

// ExternalActorMerchant marks the at_pickup -> picked_up edge, which only
// the merchant side may trigger.
const ExternalActorMerchant = "merchant"

var activeStatuses = []Status{
	StatusAssigned,
	StatusHeadingToPickup,
	StatusAtPickup,
	StatusPickedUp,
	StatusHeadingToDelivery,
	StatusAtDelivery,
}

// Parse validates a raw status string. Unknown values return false.
func Parse(raw string) (Status, bool) {
	s := Status(raw)
	return s, s.IsValid()
}

// IsValid reports whether the status is a known delivery status.
func (s Status) IsValid() bool {
	switch s {
	case StatusAssigned, StatusHeadingToPickup, StatusAtPickup, StatusPickedUp,
		StatusHeadingToDelivery, StatusAtDelivery, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the delivery can no longer change state.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// IsActive reports whether the status is one of the six non-terminal
// courier statuses.
func (s Status) IsActive() bool {
	for _, a := range activeStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// ActiveStatuses returns the non-terminal courier statuses in chain order.
func ActiveStatuses() []Status {
	out := make([]Status, len(activeStatuses))
	copy(out, activeStatuses)
	return out
}

// WaypointType classifies the courier's current target.
type WaypointType string

const (
	WaypointPickup    WaypointType = "pickup"
	WaypointDelivery  WaypointType = "delivery"
	WaypointCompleted WaypointType = "completed"
)

// Stop is a fixed pickup or delivery location on a delivery.
type Stop struct {
	Coordinates geo.Point
	Address     string
}

// Waypoint is the location the courier should currently be shown, derived
// from the status and the delivery's fixed stops.
type Waypoint struct {
	Coordinates geo.Point
	Type        WaypointType
	Address     string
}

// NextWaypoint resolves the current waypoint for a status. The at_pickup and
// at_delivery rows keep returning the location the courier is standing at;
// only cancelled and unknown statuses have no waypoint.
func NextWaypoint(status Status, pickup, delivery Stop) *Waypoint {
	switch status {
	case StatusAssigned, StatusHeadingToPickup, StatusAtPickup:
		return &Waypoint{Coordinates: pickup.Coordinates, Type: WaypointPickup, Address: pickup.Address}
	case StatusPickedUp, StatusHeadingToDelivery, StatusAtDelivery:
		return &Waypoint{Coordinates: delivery.Coordinates, Type: WaypointDelivery, Address: delivery.Address}
	case StatusDelivered:
		return &Waypoint{Coordinates: delivery.Coordinates, Type: WaypointCompleted, Address: delivery.Address}
	}
	return nil
}

// Action describes the one-step forward transition available from a status.
// AwaitsExternal actions cannot be triggered by the courier; the named actor
// drives them server-side and the client observes the change on refresh.
type Action struct {
	Target         Status
	Label          string
	AwaitsExternal bool
	ExternalActor  string
}

// NextAction returns the forward transition from a status, or nil when the
// chain has ended.
func NextAction(status Status) *Action {
	switch status {
	case StatusAssigned:
		return &Action{Target: StatusHeadingToPickup, Label: "Head to pickup"}
	case StatusHeadingToPickup:
		return &Action{Target: StatusAtPickup, Label: "Arrived at pickup"}
	case StatusAtPickup:
		return &Action{
			Target:         StatusPickedUp,
			Label:          "Waiting for merchant",
			AwaitsExternal: true,
			ExternalActor:  ExternalActorMerchant,
		}
	case StatusPickedUp:
		return &Action{Target: StatusHeadingToDelivery, Label: "Start delivery"}
	case StatusHeadingToDelivery:
		return &Action{Target: StatusAtDelivery, Label: "Arrived at delivery"}
	case StatusAtDelivery:
		return &Action{Target: StatusDelivered, Label: "Complete delivery"}
	}
	return nil
}

// CanTransition checks if a status transition is allowed. The forward chain
// admits no skips; cancellation is reachable from any non-terminal status
// because the backend may cancel a delivery at any point before completion.
func CanTransition(from, to Status) bool {
	if to == StatusCancelled {
		return from.IsActive()
	}
	next := NextAction(from)
	return next != nil && next.Target == to
}

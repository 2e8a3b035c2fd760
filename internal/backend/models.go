package backend

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quickbite/courier-nav/internal/state"
	"github.com/quickbite/courier-nav/pkg/geo"
)

// LonLat is a coordinate pair in GeoJSON [longitude, latitude] wire order.
// It is the only place the pair ordering is interpreted; everything past
// the decode boundary works with geo.Point.
type LonLat geo.Point

// UnmarshalJSON decodes a [longitude, latitude] array.
func (p *LonLat) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("coordinates must be a [longitude, latitude] pair: %w", err)
	}
	*p = LonLat(geo.FromLonLat(pair))
	return nil
}

// MarshalJSON encodes back to [longitude, latitude] order.
func (p LonLat) MarshalJSON() ([]byte, error) {
	return json.Marshal(geo.Point(p).LonLat())
}

// Point returns the canonical representation.
func (p LonLat) Point() geo.Point {
	return geo.Point(p)
}

// TrackedLocation is a pickup or delivery endpoint on a delivery tracking
// record, including the server-side arrival flag.
type TrackedLocation struct {
	Coordinates LonLat     `json:"coordinates"`
	Address     string     `json:"address"`
	Arrived     bool       `json:"arrived"`
	ArrivedAt   *time.Time `json:"arrivedAt,omitempty"`
}

// CurrentLocation is the courier position last reported to the backend.
type CurrentLocation struct {
	Coordinates LonLat    `json:"coordinates"`
	Timestamp   time.Time `json:"timestamp"`
}

// DeliveryTracking is the authoritative delivery record owned by the
// backend and cached client-side.
type DeliveryTracking struct {
	ID               uuid.UUID        `json:"id"`
	OrderID          uuid.UUID        `json:"orderId"`
	DeliveryPersonID uuid.UUID        `json:"deliveryPersonId"`
	Status           state.Status     `json:"status"`
	PickupLocation   TrackedLocation  `json:"pickupLocation"`
	DeliveryLocation TrackedLocation  `json:"deliveryLocation"`
	CurrentLocation  *CurrentLocation `json:"currentLocation,omitempty"`
}

// Normalize repairs incomplete tracking data for display purposes: an
// unknown status defaults to assigned and missing coordinates stay at the
// zero sentinel. A missing tracking ID is unrepairable and returns an error.
func (d *DeliveryTracking) Normalize() error {
	if d.ID == uuid.Nil {
		return fmt.Errorf("delivery tracking has no id")
	}
	if !d.Status.IsValid() {
		d.Status = state.StatusAssigned
	}
	return nil
}

// PickupStop returns the pickup endpoint as a state machine stop.
func (d *DeliveryTracking) PickupStop() state.Stop {
	return state.Stop{Coordinates: d.PickupLocation.Coordinates.Point(), Address: d.PickupLocation.Address}
}

// DeliveryStop returns the delivery endpoint as a state machine stop.
func (d *DeliveryTracking) DeliveryStop() state.Stop {
	return state.Stop{Coordinates: d.DeliveryLocation.Coordinates.Point(), Address: d.DeliveryLocation.Address}
}

// envelope is the canonical response wrapper used by every endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *errorInfo      `json:"error,omitempty"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type activeDeliveriesData struct {
	Deliveries []DeliveryTracking `json:"deliveries"`
}

type trackingData struct {
	DeliveryTracking DeliveryTracking `json:"deliveryTracking"`
}

// StatusUpdateRequest is the PUT /delivery/:id/status body.
type StatusUpdateRequest struct {
	Status   state.Status    `json:"status"`
	Notes    string          `json:"notes,omitempty"`
	Location *LocationUpdate `json:"location,omitempty"`
}

// LocationUpdate is the PUT /delivery/:id/location body.
type LocationUpdate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Speed     float64 `json:"speed"`
	Heading   float64 `json:"heading"`
}

// ParseError reports a response that did not match the canonical schema.
type ParseError struct {
	Endpoint string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.Endpoint, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

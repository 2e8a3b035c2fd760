package navigation

import (
	"context"

	"github.com/google/uuid"
	"github.com/quickbite/courier-nav/internal/activedelivery"
	"github.com/quickbite/courier-nav/internal/backend"
	"github.com/quickbite/courier-nav/internal/location"
	"github.com/quickbite/courier-nav/internal/realtime"
	"github.com/quickbite/courier-nav/internal/state"
)

// BackendClient is the slice of the delivery backend the orchestrator uses.
type BackendClient interface {
	ActiveDeliveries(ctx context.Context) ([]backend.DeliveryTracking, error)
	Tracking(ctx context.Context, trackingID uuid.UUID) (*backend.DeliveryTracking, error)
	UpdateStatus(ctx context.Context, trackingID uuid.UUID, status state.Status, notes string, loc *backend.LocationUpdate) error
	UpdateLocation(ctx context.Context, trackingID uuid.UUID, loc backend.LocationUpdate) error
}

// RealtimeChannel is the pub/sub connection for live order events.
type RealtimeChannel interface {
	Connect(ctx context.Context) error
	Disconnect()
	SubscribeOrder(orderID string) error
	UnsubscribeOrder(orderID string) error
	PublishLocation(orderID string, latitude, longitude, speed, heading float64) error
	PublishStatus(orderID string, status state.Status) error
	On(eventType string, h realtime.Handler)
}

// Store is the single-slot active delivery persistence layer.
type Store interface {
	Set(ctx context.Context, trackingID, orderID uuid.UUID, status state.Status) error
	Get(ctx context.Context) (*activedelivery.Record, error)
	Clear(ctx context.Context) error
	UpdateStatus(ctx context.Context, newStatus state.Status) error
	ShouldResumeNavigation(ctx context.Context) (bool, error)
}

// SampleSource is the device location provider. Start begins delivery of
// raw samples; Stop releases the underlying watch.
type SampleSource interface {
	Start(ctx context.Context) (<-chan location.Sample, error)
	Stop()
}

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/quickbite/courier-nav/internal/state"
	"github.com/quickbite/courier-nav/pkg/common"
	"github.com/quickbite/courier-nav/pkg/config"
	"github.com/quickbite/courier-nav/pkg/httpclient"
)

// HTTPDoer is the slice of pkg/httpclient the backend client needs.
type HTTPDoer interface {
	Get(ctx context.Context, path string, headers map[string]string) ([]byte, error)
	Put(ctx context.Context, path string, body interface{}, headers map[string]string) ([]byte, error)
}

// Client is the typed client for the delivery backend REST surface.
type Client struct {
	http HTTPDoer
}

// NewClient builds a backend client from config.
func NewClient(cfg *config.BackendConfig) *Client {
	opts := []httpclient.Option{}
	if cfg.RetryEnabled {
		opts = append(opts, httpclient.WithDefaultRetry())
	}
	return &Client{http: httpclient.NewClient(cfg.BaseURL, cfg.Timeout, opts...)}
}

// NewClientWithDoer builds a backend client over an existing HTTP doer.
func NewClientWithDoer(doer HTTPDoer) *Client {
	return &Client{http: doer}
}

// ActiveDeliveries fetches the courier's active delivery list.
func (c *Client) ActiveDeliveries(ctx context.Context) ([]DeliveryTracking, error) {
	body, err := c.http.Get(ctx, "/delivery/active", nil)
	if err != nil {
		return nil, mapHTTPError("/delivery/active", err)
	}

	var data activeDeliveriesData
	if err := decodeEnvelope("/delivery/active", body, &data); err != nil {
		return nil, err
	}
	return data.Deliveries, nil
}

// Tracking fetches a single delivery tracking record by tracking ID.
func (c *Client) Tracking(ctx context.Context, trackingID uuid.UUID) (*DeliveryTracking, error) {
	path := "/delivery/" + trackingID.String()
	body, err := c.http.Get(ctx, path, nil)
	if err != nil {
		return nil, mapHTTPError(path, err)
	}

	var data trackingData
	if err := decodeEnvelope(path, body, &data); err != nil {
		return nil, err
	}
	return &data.DeliveryTracking, nil
}

// TrackingByOrder fetches the tracking record keyed by order ID.
func (c *Client) TrackingByOrder(ctx context.Context, orderID uuid.UUID) (*DeliveryTracking, error) {
	path := "/delivery/order/" + orderID.String()
	body, err := c.http.Get(ctx, path, nil)
	if err != nil {
		return nil, mapHTTPError(path, err)
	}

	var data trackingData
	if err := decodeEnvelope(path, body, &data); err != nil {
		return nil, err
	}
	return &data.DeliveryTracking, nil
}

// UpdateStatus pushes a status transition. A backend rejection with code
// INVALID_STATUS_TRANSITION comes back as common.ErrInvalidTransition so
// the caller can resynchronize instead of treating it as a failure.
func (c *Client) UpdateStatus(ctx context.Context, trackingID uuid.UUID, status state.Status, notes string, loc *LocationUpdate) error {
	path := "/delivery/" + trackingID.String() + "/status"
	req := StatusUpdateRequest{Status: status, Notes: notes, Location: loc}

	body, err := c.http.Put(ctx, path, req, nil)
	if err != nil {
		return mapHTTPError(path, err)
	}

	return decodeEnvelope(path, body, nil)
}

// UpdateLocation pushes the courier's current position. Callers treat this
// as fire-and-forget: a failed push is dropped, the next sample replaces it.
func (c *Client) UpdateLocation(ctx context.Context, trackingID uuid.UUID, loc LocationUpdate) error {
	path := "/delivery/" + trackingID.String() + "/location"
	body, err := c.http.Put(ctx, path, loc, nil)
	if err != nil {
		return mapHTTPError(path, err)
	}
	return decodeEnvelope(path, body, nil)
}

// decodeEnvelope validates the canonical response wrapper and unmarshals
// the data payload into out when provided.
func decodeEnvelope(endpoint string, body []byte, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &ParseError{Endpoint: endpoint, Err: err}
	}

	if !env.Success {
		if env.Error == nil {
			return &ParseError{Endpoint: endpoint, Err: errors.New("response matches no canonical envelope")}
		}
		return envelopeError(&env)
	}

	if out != nil {
		if len(env.Data) == 0 {
			return &ParseError{Endpoint: endpoint, Err: errors.New("missing data field")}
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &ParseError{Endpoint: endpoint, Err: err}
		}
	}
	return nil
}

func envelopeError(env *envelope) error {
	if env.Error.Code == common.CodeInvalidStatusTransition {
		return common.NewInvalidTransitionError(env.Error.Message)
	}
	return common.NewBadRequestError(env.Error.Message, nil)
}

// mapHTTPError converts transport-level failures into the app error
// taxonomy. Plain network errors pass through untouched so callers can
// distinguish "definitive not found" from "could not reach the backend".
func mapHTTPError(endpoint string, err error) error {
	var httpErr *httpclient.HTTPError
	if !errors.As(err, &httpErr) {
		return err
	}

	// Error bodies still use the canonical envelope; a recognized error
	// code wins over the bare status.
	var env envelope
	if jsonErr := json.Unmarshal([]byte(httpErr.Body), &env); jsonErr == nil && env.Error != nil {
		if env.Error.Code == common.CodeInvalidStatusTransition {
			return common.NewInvalidTransitionError(env.Error.Message)
		}
	}

	switch httpErr.StatusCode {
	case http.StatusNotFound:
		return common.NewNotFoundError("delivery not found", err)
	case http.StatusUnauthorized:
		return common.NewUnauthorizedError("session expired")
	case http.StatusForbidden:
		return common.NewForbiddenError("not your delivery")
	case http.StatusConflict:
		return common.NewConflictError(endpoint + ": conflicting update")
	}
	return common.NewAppError(httpErr.StatusCode, httpErr.Body, err)
}

// LocationUpdateFromSample converts a device sample into the wire body.
func LocationUpdateFromSample(lat, lon, accuracy, speed, heading float64) LocationUpdate {
	return LocationUpdate{
		Latitude:  lat,
		Longitude: lon,
		Accuracy:  accuracy,
		Speed:     speed,
		Heading:   heading,
	}
}

package navigation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quickbite/courier-nav/internal/arrival"
	"github.com/quickbite/courier-nav/internal/backend"
	"github.com/quickbite/courier-nav/internal/location"
	"github.com/quickbite/courier-nav/internal/realtime"
	"github.com/quickbite/courier-nav/internal/state"
	"github.com/quickbite/courier-nav/pkg/common"
	"github.com/quickbite/courier-nav/pkg/config"
	"github.com/quickbite/courier-nav/pkg/logger"
	"go.uber.org/zap"
)

const pushTimeout = 5 * time.Second

// ErrAwaitingExternalActor is returned when the courier tries to trigger a
// transition that only an external actor (the merchant) may drive.
var ErrAwaitingExternalActor = fmt.Errorf("transition awaits an external actor")

// Deps carries the orchestrator's collaborators. Everything is injected;
// the orchestrator holds no global state.
type Deps struct {
	Backend  BackendClient
	Realtime RealtimeChannel
	Store    Store
	Detector *arrival.Detector
	Source   SampleSource

	Location config.LocationConfig
	Arrival  config.ArrivalConfig

	// OnMapUpdate receives accepted samples at the map redraw cadence.
	// Optional; the headless agent leaves it nil.
	OnMapUpdate func(location.Sample)
}

// Orchestrator drives one courier navigation session: it owns the current
// status and location, advances the state machine on arrival detection or
// explicit action, keeps the local active-delivery record in sync, and
// mirrors everything to the backend.
type Orchestrator struct {
	deps      Deps
	optimizer *location.Optimizer

	mu              sync.Mutex
	delivery        *backend.DeliveryTracking
	currentStatus   state.Status
	currentLocation *location.Sample
	tracking        bool
	degraded        bool
	cancel          context.CancelFunc
}

// New builds an orchestrator. Call Reconcile before Start.
func New(deps Deps) *Orchestrator {
	o := &Orchestrator{deps: deps}
	o.optimizer = location.NewOptimizer(deps.Location, o.pushLocation, deps.OnMapUpdate)
	return o
}

// CurrentStatus returns the courier's current delivery status.
func (o *Orchestrator) CurrentStatus() state.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentStatus
}

// CurrentLocation returns the last accepted location sample, if any.
func (o *Orchestrator) CurrentLocation() *location.Sample {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentLocation
}

// Delivery returns the delivery under navigation, nil when idle.
func (o *Orchestrator) Delivery() *backend.DeliveryTracking {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.delivery
}

// IsTracking reports whether the location watch is running.
func (o *Orchestrator) IsTracking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tracking
}

// Degraded reports whether the session is running on local data because
// the backend could not be reached during reconciliation.
func (o *Orchestrator) Degraded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.degraded
}

// Waypoint resolves the courier's current target from the state machine.
func (o *Orchestrator) Waypoint() *state.Waypoint {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.delivery == nil {
		return nil
	}
	return state.NextWaypoint(o.currentStatus, o.delivery.PickupStop(), o.delivery.DeliveryStop())
}

// Reconcile runs the startup reconciliation: the backend's active list is
// authoritative; the local record is the restart fallback. A nil result
// with nil error means no active delivery (show the available orders list).
func (o *Orchestrator) Reconcile(ctx context.Context) (*backend.DeliveryTracking, error) {
	local, err := o.deps.Store.Get(ctx)
	if err != nil {
		logger.Warn("active delivery store unreadable, continuing without it", zap.Error(err))
		local = nil
	}

	deliveries, listErr := o.deps.Backend.ActiveDeliveries(ctx)
	if listErr == nil {
		for i := range deliveries {
			d := &deliveries[i]
			if err := d.Normalize(); err != nil {
				logger.Warn("skipping unusable delivery from backend", zap.Error(err))
				continue
			}
			if !d.Status.IsActive() || d.OrderID == uuid.Nil {
				continue
			}

			// Backend wins: overwrite whatever was stored locally.
			if err := o.deps.Store.Set(ctx, d.ID, d.OrderID, d.Status); err != nil {
				logger.Warn("failed to persist active delivery", zap.Error(err))
			}
			o.adopt(d, false)
			return d, nil
		}
	} else if common.IsUnauthorized(listErr) {
		return nil, listErr
	} else {
		logger.Warn("active delivery list unavailable", zap.Error(listErr))
	}

	if local == nil {
		return nil, nil
	}

	// Backend reported nothing active; verify the remembered delivery.
	tracked, err := o.deps.Backend.Tracking(ctx, local.TrackingID)
	switch {
	case err == nil:
		if err := tracked.Normalize(); err != nil || tracked.Status.IsTerminal() {
			_ = o.deps.Store.Clear(ctx)
			return nil, nil
		}
		if err := o.deps.Store.UpdateStatus(ctx, tracked.Status); err != nil {
			logger.Warn("failed to refresh active delivery record", zap.Error(err))
		}
		o.adopt(tracked, false)
		return tracked, nil

	case common.IsNotFound(err):
		_ = o.deps.Store.Clear(ctx)
		return nil, nil

	case common.IsUnauthorized(err):
		return nil, err

	default:
		// Network failure during the point lookup: not a definitive "gone".
		// Continue optimistically on the local record rather than blocking
		// the courier from navigating. Without backend confirmation the
		// stricter resume window applies: an hours-old record may describe
		// a delivery that is long finished.
		resume, resumeErr := o.deps.Store.ShouldResumeNavigation(ctx)
		if resumeErr != nil {
			logger.Warn("resume check failed", zap.Error(resumeErr))
			return nil, nil
		}
		if !resume {
			logger.Info("local record too old to resume without backend confirmation",
				zap.String("tracking_id", local.TrackingID.String()),
			)
			return nil, nil
		}

		logger.Warn("point lookup failed, resuming from local record",
			zap.String("tracking_id", local.TrackingID.String()),
			zap.Error(err),
		)
		fallback := &backend.DeliveryTracking{
			ID:      local.TrackingID,
			OrderID: local.OrderID,
			Status:  local.Status,
		}
		o.adopt(fallback, true)
		return fallback, nil
	}
}

func (o *Orchestrator) adopt(d *backend.DeliveryTracking, degraded bool) {
	o.mu.Lock()
	o.delivery = d
	o.currentStatus = d.Status
	o.degraded = degraded
	o.mu.Unlock()
}

// Start connects the realtime channel, subscribes to the order, and begins
// consuming the location watch. Reconcile must have found a delivery.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	d := o.delivery
	if d == nil {
		o.mu.Unlock()
		return fmt.Errorf("no active delivery to navigate")
	}
	if o.tracking {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	if err := o.deps.Realtime.Connect(ctx); err != nil {
		// Navigation still works without the live channel; the backend
		// REST surface carries the required updates.
		logger.Warn("realtime channel unavailable", zap.Error(err))
	} else {
		o.deps.Realtime.On(realtime.EventStatusUpdate, o.onRemoteStatus)
		if err := o.deps.Realtime.SubscribeOrder(d.OrderID.String()); err != nil {
			logger.Warn("order subscription failed", zap.Error(err))
		}
	}

	samples, err := o.deps.Source.Start(ctx)
	if err != nil {
		o.deps.Realtime.Disconnect()
		return fmt.Errorf("start location watch: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.tracking = true
	o.cancel = cancel
	o.mu.Unlock()

	go o.run(runCtx, samples)
	return nil
}

func (o *Orchestrator) run(ctx context.Context, samples <-chan location.Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples:
			if !ok {
				return
			}
			o.handleSample(ctx, s)
		}
	}
}

func (o *Orchestrator) handleSample(ctx context.Context, s location.Sample) {
	if !o.optimizer.Offer(s) {
		return
	}

	o.mu.Lock()
	o.currentLocation = &s
	status := o.currentStatus
	d := o.delivery
	o.mu.Unlock()

	if d == nil || status.IsTerminal() {
		return
	}

	wp := state.NextWaypoint(status, d.PickupStop(), d.DeliveryStop())
	if wp == nil || wp.Coordinates.IsZero() {
		return
	}

	flags := arrival.TargetFlags{
		PickupArrived:   d.PickupLocation.Arrived,
		DeliveryArrived: d.DeliveryLocation.Arrived,
	}
	if o.deps.Detector.Check(s.Point(), wp.Coordinates, status, flags) {
		o.autoAdvance(ctx)
	}
}

// autoAdvance moves the state machine one step forward after a positive
// arrival detection, then suspends detection so the UI can settle. No
// confirmation prompt: repeated dialogs at every geofence are worse than a
// wrong detection the courier can correct manually.
func (o *Orchestrator) autoAdvance(ctx context.Context) {
	o.deps.Detector.SuspendFor(o.deps.Arrival.Cooldown)

	if err := o.advance(ctx, "arrival auto-detection"); err != nil {
		logger.Warn("automatic status advancement failed", zap.Error(err))
	}
}

// AdvanceStatus performs the courier-triggered one-step transition. The
// merchant-driven edge is refused locally; a backend rejection resyncs
// state and surfaces common.ErrInvalidTransition so the UI can tell the
// courier to retry against fresh state.
func (o *Orchestrator) AdvanceStatus(ctx context.Context) error {
	return o.advance(ctx, "")
}

func (o *Orchestrator) advance(ctx context.Context, notes string) error {
	o.mu.Lock()
	status := o.currentStatus
	d := o.delivery
	loc := o.currentLocation
	o.mu.Unlock()

	if d == nil {
		return fmt.Errorf("no active delivery")
	}

	action := state.NextAction(status)
	if action == nil {
		return fmt.Errorf("no further action from status %s", status)
	}
	if action.AwaitsExternal {
		return ErrAwaitingExternalActor
	}

	var locUpdate *backend.LocationUpdate
	if loc != nil {
		u := backend.LocationUpdateFromSample(loc.Latitude, loc.Longitude, loc.Accuracy, loc.Speed, loc.Heading)
		locUpdate = &u
	}

	if err := o.deps.Backend.UpdateStatus(ctx, d.ID, action.Target, notes, locUpdate); err != nil {
		if common.IsInvalidTransition(err) {
			// State drifted (e.g. the concurrent automatic detection won
			// the race). Resynchronize from the source of truth.
			logger.Info("transition rejected, refreshing authoritative state",
				zap.String("attempted", string(action.Target)),
			)
			o.refresh(ctx)
		}
		return err
	}

	o.applyStatus(ctx, action.Target)
	return nil
}

// applyStatus commits an accepted transition to memory, the local record,
// and the realtime channel, and tears the session down on completion.
func (o *Orchestrator) applyStatus(ctx context.Context, newStatus state.Status) {
	o.mu.Lock()
	o.currentStatus = newStatus
	if o.delivery != nil {
		o.delivery.Status = newStatus
	}
	d := o.delivery
	o.mu.Unlock()

	if err := o.deps.Store.UpdateStatus(ctx, newStatus); err != nil {
		logger.Warn("failed to persist status change", zap.Error(err))
	}

	if d != nil {
		if err := o.deps.Realtime.PublishStatus(d.OrderID.String(), newStatus); err != nil {
			logger.Debug("realtime status publish skipped", zap.Error(err))
		}
	}

	logger.Info("delivery status advanced", zap.String("status", string(newStatus)))

	if newStatus.IsTerminal() {
		o.Stop()
	}
}

// refresh re-fetches the authoritative tracking record and adopts its
// status. Detection state is reset because the leg may have changed.
func (o *Orchestrator) refresh(ctx context.Context) {
	o.mu.Lock()
	d := o.delivery
	o.mu.Unlock()
	if d == nil {
		return
	}

	tracked, err := o.deps.Backend.Tracking(ctx, d.ID)
	if err != nil {
		logger.Warn("state refresh failed", zap.Error(err))
		return
	}
	if err := tracked.Normalize(); err != nil {
		logger.Warn("refreshed delivery unusable", zap.Error(err))
		return
	}

	o.mu.Lock()
	o.delivery = tracked
	o.currentStatus = tracked.Status
	o.degraded = false
	o.mu.Unlock()

	o.deps.Detector.Reset()

	if err := o.deps.Store.UpdateStatus(ctx, tracked.Status); err != nil {
		logger.Warn("failed to persist refreshed status", zap.Error(err))
	}

	if tracked.Status.IsTerminal() {
		o.Stop()
	}
}

// onRemoteStatus handles server-driven status events, e.g. the merchant
// marking the order picked up while the courier waits.
func (o *Orchestrator) onRemoteStatus(evt realtime.Event) {
	raw, _ := evt.Data["status"].(string)
	newStatus, ok := state.Parse(raw)

	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	o.mu.Lock()
	current := o.currentStatus
	o.mu.Unlock()

	if !ok || !state.CanTransition(current, newStatus) {
		// Unparseable or out-of-order event: fall back to the source of truth.
		o.refresh(ctx)
		return
	}

	o.deps.Detector.Reset()
	o.applyStatus(ctx, newStatus)
}

// pushLocation is the network sink of the location optimizer. Pushes are
// fire-and-forget: a failed push is logged and dropped, the next accepted
// sample supersedes it.
func (o *Orchestrator) pushLocation(s location.Sample) {
	o.mu.Lock()
	d := o.delivery
	o.mu.Unlock()
	if d == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	update := backend.LocationUpdateFromSample(s.Latitude, s.Longitude, s.Accuracy, s.Speed, s.Heading)
	if err := o.deps.Backend.UpdateLocation(ctx, d.ID, update); err != nil {
		logger.Debug("location push dropped", zap.Error(err))
	}

	if err := o.deps.Realtime.PublishLocation(d.OrderID.String(), s.Latitude, s.Longitude, s.Speed, s.Heading); err != nil {
		logger.Debug("realtime location publish skipped", zap.Error(err))
	}
}

// Stop ends the navigation session: the location watch, the optimizer
// timers, and the realtime subscription are all released. The active
// delivery record is left to its own lifecycle (terminal statuses already
// scheduled their deferred clear).
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.tracking {
		o.mu.Unlock()
		return
	}
	o.tracking = false
	cancel := o.cancel
	o.cancel = nil
	d := o.delivery
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.deps.Source.Stop()
	o.optimizer.Stop()

	if d != nil {
		if err := o.deps.Realtime.UnsubscribeOrder(d.OrderID.String()); err != nil {
			logger.Debug("order unsubscribe skipped", zap.Error(err))
		}
	}
	o.deps.Realtime.Disconnect()

	logger.Info("navigation session stopped")
}

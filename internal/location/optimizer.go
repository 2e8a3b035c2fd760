package location

import (
	"sync"
	"time"

	"github.com/quickbite/courier-nav/pkg/config"
	"github.com/quickbite/courier-nav/pkg/geo"
	"github.com/quickbite/courier-nav/pkg/logger"
	"go.uber.org/zap"
)

// Sample is one raw GPS reading from the device location provider. Samples
// are ephemeral: they live in orchestrator memory and on the wire, never in
// the persistence layer.
type Sample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	Timestamp time.Time `json:"timestamp"`
}

// Point returns the sample position as a canonical point.
func (s Sample) Point() geo.Point {
	return geo.Point{Latitude: s.Latitude, Longitude: s.Longitude}
}

// Filter is the acceptance gate in front of everything downstream. Raw GPS
// arrives every second or two; a sample passes only when it moved far
// enough AND enough time elapsed since the last accepted one, and when its
// reported accuracy is usable.
type Filter struct {
	minDistance  float64
	minInterval  time.Duration
	maxAccuracy  float64
	highAccuracy bool

	mu         sync.Mutex
	last       *Sample
	lastAccept time.Time
	now        func() time.Time
}

// NewFilter creates a filter from location config.
func NewFilter(cfg config.LocationConfig) *Filter {
	return &Filter{
		minDistance:  cfg.MinDistanceMeters,
		minInterval:  cfg.MinInterval,
		maxAccuracy:  cfg.MaxAccuracyMeters,
		highAccuracy: cfg.HighAccuracy,
		now:          time.Now,
	}
}

// Accept reports whether the sample passes the spatial/temporal gate and
// records it as the new reference point when it does.
func (f *Filter) Accept(s Sample) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.highAccuracy && s.Accuracy > f.maxAccuracy {
		logger.Debug("dropping low accuracy sample", zap.Float64("accuracy_m", s.Accuracy))
		return false
	}

	now := f.now()
	if f.last != nil {
		if now.Sub(f.lastAccept) < f.minInterval {
			return false
		}
		if geo.DistanceBetween(f.last.Point(), s.Point()) < f.minDistance {
			return false
		}
	}

	f.last = &s
	f.lastAccept = now
	return true
}

// Reset forgets the reference sample so the next offer is accepted.
func (f *Filter) Reset() {
	f.mu.Lock()
	f.last = nil
	f.lastAccept = time.Time{}
	f.mu.Unlock()
}

// Throttler rate-limits a downstream effect to at most one invocation per
// window, always delivering the trailing sample of a burst.
type Throttler struct {
	window time.Duration
	emit   func(Sample)

	mu       sync.Mutex
	pending  *Sample
	timer    *time.Timer
	lastEmit time.Time
	stopped  bool
	now      func() time.Time
}

// NewThrottler creates a throttler that invokes emit at most once per window.
func NewThrottler(window time.Duration, emit func(Sample)) *Throttler {
	return &Throttler{
		window: window,
		emit:   emit,
		now:    time.Now,
	}
}

// Offer replaces the pending sample and schedules an emit if none is due.
func (t *Throttler) Offer(s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}

	t.pending = &s
	if t.timer != nil {
		// An emit is already scheduled; it will pick up this sample.
		return
	}

	delay := t.window - t.now().Sub(t.lastEmit)
	if delay < 0 {
		delay = 0
	}
	t.timer = time.AfterFunc(delay, t.fire)
}

func (t *Throttler) fire() {
	t.mu.Lock()
	t.timer = nil
	sample := t.pending
	t.pending = nil
	if sample != nil {
		t.lastEmit = t.now()
	}
	stopped := t.stopped
	t.mu.Unlock()

	if sample != nil && !stopped {
		t.emit(*sample)
	}
}

// Stop cancels any scheduled emit and drops the pending sample.
func (t *Throttler) Stop() {
	t.mu.Lock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = nil
	t.mu.Unlock()
}

// Optimizer composes the acceptance filter with the per-sink throttlers:
// one cadence for network pushes, a faster one for map region recomputes.
type Optimizer struct {
	filter *Filter
	push   *Throttler
	redraw *Throttler
}

// NewOptimizer wires the two-stage pipeline. onPush receives samples at
// the network cadence, onRedraw at the map cadence; either may be nil.
func NewOptimizer(cfg config.LocationConfig, onPush, onRedraw func(Sample)) *Optimizer {
	o := &Optimizer{filter: NewFilter(cfg)}
	if onPush != nil {
		o.push = NewThrottler(cfg.PushInterval, onPush)
	}
	if onRedraw != nil {
		o.redraw = NewThrottler(cfg.RedrawInterval, onRedraw)
	}
	return o
}

// Offer runs a raw sample through the pipeline. It reports whether the
// sample was accepted by the filter stage.
func (o *Optimizer) Offer(s Sample) bool {
	if !o.filter.Accept(s) {
		return false
	}
	if o.push != nil {
		o.push.Offer(s)
	}
	if o.redraw != nil {
		o.redraw.Offer(s)
	}
	return true
}

// Stop releases both throttler timers.
func (o *Optimizer) Stop() {
	if o.push != nil {
		o.push.Stop()
	}
	if o.redraw != nil {
		o.redraw.Stop()
	}
}

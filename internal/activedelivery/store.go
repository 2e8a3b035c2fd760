package activedelivery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quickbite/courier-nav/internal/state"
	"github.com/quickbite/courier-nav/pkg/config"
	"github.com/quickbite/courier-nav/pkg/logger"
	redisclient "github.com/quickbite/courier-nav/pkg/redis"
	"go.uber.org/zap"
)

// storageKey is the single well-known slot. One courier session per device
// means one active delivery at a time, so the store never keys by ID.
const storageKey = "courier:active_delivery"

// Record is the locally persisted active delivery. It is the resilience
// mechanism for app restarts mid-delivery; the backend stays authoritative.
type Record struct {
	TrackingID uuid.UUID    `json:"trackingId"`
	OrderID    uuid.UUID    `json:"orderId"`
	Status     state.Status `json:"status"`
	Timestamp  time.Time    `json:"timestamp"`
}

// Store owns the single-slot active delivery record.
type Store struct {
	redis      redisclient.ClientInterface
	readTTL    time.Duration
	resumeTTL  time.Duration
	clearGrace time.Duration

	mu         sync.Mutex
	clearTimer *time.Timer
	now        func() time.Time
}

// NewStore creates a store from active-delivery config.
func NewStore(redis redisclient.ClientInterface, cfg config.ActiveDeliveryConfig) *Store {
	return &Store{
		redis:      redis,
		readTTL:    cfg.ReadTTL,
		resumeTTL:  cfg.ResumeTTL,
		clearGrace: cfg.ClearGrace,
		now:        time.Now,
	}
}

// Set overwrites the slot with a fresh record.
func (s *Store) Set(ctx context.Context, trackingID, orderID uuid.UUID, status state.Status) error {
	record := Record{
		TrackingID: trackingID,
		OrderID:    orderID,
		Status:     status,
		Timestamp:  s.now(),
	}
	return s.write(ctx, &record)
}

// Get reads the record, evicting and returning nil when it is older than
// the read TTL. A missing record returns (nil, nil).
func (s *Store) Get(ctx context.Context) (*Record, error) {
	raw, err := s.redis.GetString(ctx, storageKey)
	if err != nil {
		if redisclient.IsNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read active delivery: %w", err)
	}

	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		// A record we cannot decode is useless; drop it.
		logger.Warn("clearing undecodable active delivery record", zap.Error(err))
		_ = s.redis.Delete(ctx, storageKey)
		return nil, nil
	}

	if s.now().Sub(record.Timestamp) > s.readTTL {
		logger.Info("evicting stale active delivery record",
			zap.String("tracking_id", record.TrackingID.String()),
			zap.Time("written_at", record.Timestamp),
		)
		_ = s.redis.Delete(ctx, storageKey)
		return nil, nil
	}

	return &record, nil
}

// Clear deletes the record unconditionally and cancels any pending
// deferred clear.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	if s.clearTimer != nil {
		s.clearTimer.Stop()
		s.clearTimer = nil
	}
	s.mu.Unlock()
	return s.redis.Delete(ctx, storageKey)
}

// UpdateStatus rewrites the record with a new status and a fresh
// timestamp. Terminal statuses schedule a deferred clear instead of
// deleting immediately, so in-flight readers still observe the final
// status during the grace window.
func (s *Store) UpdateStatus(ctx context.Context, newStatus state.Status) error {
	record, err := s.Get(ctx)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	record.Status = newStatus
	record.Timestamp = s.now()
	if err := s.write(ctx, record); err != nil {
		return err
	}

	if newStatus.IsTerminal() {
		s.scheduleClear()
	}
	return nil
}

// ShouldResumeNavigation decides whether the app should reopen the
// navigation flow on startup. Incomplete records self-heal by clearing.
// The resume window is shorter than the read TTL: resuming navigation on
// hours-old data risks pointing the courier at an already-dead delivery.
func (s *Store) ShouldResumeNavigation(ctx context.Context) (bool, error) {
	record, err := s.Get(ctx)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}

	if record.TrackingID == uuid.Nil || record.OrderID == uuid.Nil {
		logger.Warn("clearing incomplete active delivery record")
		return false, s.Clear(ctx)
	}

	if s.now().Sub(record.Timestamp) > s.resumeTTL {
		logger.Info("active delivery too old to resume navigation",
			zap.String("tracking_id", record.TrackingID.String()),
		)
		return false, s.Clear(ctx)
	}

	return record.Status.IsActive(), nil
}

func (s *Store) write(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal active delivery: %w", err)
	}
	if err := s.redis.SetWithExpiration(ctx, storageKey, data, s.readTTL); err != nil {
		return fmt.Errorf("write active delivery: %w", err)
	}
	return nil
}

func (s *Store) scheduleClear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clearTimer != nil {
		s.clearTimer.Stop()
	}
	s.clearTimer = time.AfterFunc(s.clearGrace, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.redis.Delete(ctx, storageKey); err != nil {
			logger.Warn("deferred active delivery clear failed", zap.Error(err))
		}
	})
}

package location

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/quickbite/courier-nav/pkg/logger"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const rawFixChannelPrefix = "courier:location:raw:"

// RawFixChannel returns the pub/sub channel carrying raw GPS fixes for a
// courier. The mobile shell publishes to it; the agent subscribes.
func RawFixChannel(courierID string) string {
	return rawFixChannelPrefix + courierID
}

type subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *goredis.PubSub
}

// RedisSource delivers location samples published on the courier's raw fix
// channel. Undecodable payloads are logged and dropped so one bad publisher
// cannot stall navigation.
type RedisSource struct {
	client    subscriber
	courierID string

	mu     sync.Mutex
	pubsub *goredis.PubSub
	cancel context.CancelFunc
}

// NewRedisSource creates a source for the given courier.
func NewRedisSource(client subscriber, courierID string) *RedisSource {
	return &RedisSource{client: client, courierID: courierID}
}

// Start subscribes to the raw fix channel and begins delivering samples.
// The returned channel closes when the context ends or Stop is called.
func (s *RedisSource) Start(ctx context.Context) (<-chan Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pubsub != nil {
		return nil, fmt.Errorf("location source already started")
	}
	if s.courierID == "" {
		return nil, fmt.Errorf("courier id is required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	pubsub := s.client.Subscribe(runCtx, RawFixChannel(s.courierID))
	if _, err := pubsub.Receive(runCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to raw fix channel: %w", err)
	}

	s.pubsub = pubsub
	s.cancel = cancel

	out := make(chan Sample, 16)
	go s.pump(runCtx, pubsub.Channel(), out)
	return out, nil
}

func (s *RedisSource) pump(ctx context.Context, in <-chan *goredis.Message, out chan<- Sample) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			sample, err := DecodeSample([]byte(msg.Payload))
			if err != nil {
				logger.Warn("dropping undecodable location fix", zap.Error(err))
				continue
			}
			select {
			case out <- sample:
			default:
				// Consumer is behind; the freshest fix matters most.
				logger.Debug("location fix dropped, consumer behind")
			}
		}
	}
}

// Stop unsubscribes and closes the sample channel. Safe to call more than
// once and before Start.
func (s *RedisSource) Stop() {
	s.mu.Lock()
	pubsub := s.pubsub
	cancel := s.cancel
	s.pubsub = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pubsub != nil {
		_ = pubsub.Close()
	}
}

// DecodeSample parses a raw fix payload published by the mobile shell.
func DecodeSample(payload []byte) (Sample, error) {
	var s Sample
	if err := json.Unmarshal(payload, &s); err != nil {
		return Sample{}, fmt.Errorf("decode location fix: %w", err)
	}
	if s.Latitude < -90 || s.Latitude > 90 || s.Longitude < -180 || s.Longitude > 180 {
		return Sample{}, fmt.Errorf("location fix out of range: lat=%f lon=%f", s.Latitude, s.Longitude)
	}
	return s, nil
}

package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quickbite/courier-nav/internal/state"
	"github.com/quickbite/courier-nav/pkg/config"
	"github.com/quickbite/courier-nav/pkg/logger"
	"go.uber.org/zap"
)

const (
	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	sendBufferSize = 256
)

// Event kinds on the channel.
const (
	EventLocationUpdate = "location_update"
	EventStatusUpdate   = "status_update"
	eventSubscribe      = "subscribe_order"
	eventUnsubscribe    = "unsubscribe_order"
)

// Origins distinguish courier-triggered updates from server-driven ones
// (e.g. the merchant confirming pickup).
const (
	OriginManual    = "manual"
	OriginAutomatic = "automatic"
)

// Event is a message on the realtime channel.
type Event struct {
	Type      string                 `json:"type"`
	OrderID   string                 `json:"order_id,omitempty"`
	Origin    string                 `json:"origin,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Handler consumes inbound events of a subscribed kind.
type Handler func(Event)

// Channel is the courier's connection to the realtime service. It is an
// explicitly constructed object with a connect/disconnect lifecycle, owned
// by whichever component runs the navigation session; nothing in this
// package holds global connection state.
type Channel struct {
	url          string
	writeTimeout time.Duration
	pingInterval time.Duration

	mu            sync.Mutex
	conn          *websocket.Conn
	send          chan Event
	done          chan struct{}
	handlers      map[string][]Handler
	subscriptions map[string]struct{}
}

// NewChannel creates a disconnected channel from realtime config.
func NewChannel(cfg *config.RealtimeConfig) *Channel {
	return &Channel{
		url:           cfg.URL,
		writeTimeout:  cfg.WriteTimeout,
		pingInterval:  cfg.PingInterval,
		handlers:      make(map[string][]Handler),
		subscriptions: make(map[string]struct{}),
	}
}

// On registers a handler for an inbound event kind. Handlers must be
// registered before Connect.
func (c *Channel) On(eventType string, h Handler) {
	c.mu.Lock()
	c.handlers[eventType] = append(c.handlers[eventType], h)
	c.mu.Unlock()
}

// Connect dials the realtime service and starts the read/write pumps.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial realtime service: %w", err)
	}

	c.conn = conn
	c.send = make(chan Event, sendBufferSize)
	c.done = make(chan struct{})

	go c.readPump(conn, c.done)
	go c.writePump(conn, c.send, c.done)

	logger.Info("realtime channel connected", zap.String("url", c.url))
	return nil
}

// Connected reports whether the channel currently holds a live connection.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Disconnect closes the connection and stops both pumps. Subscriptions are
// forgotten; a reconnect starts clean.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return
	}

	close(c.done)
	c.conn.Close()
	c.conn = nil
	c.subscriptions = make(map[string]struct{})
	logger.Info("realtime channel disconnected")
}

// connLost tears the channel down after a pump exits on a dead connection,
// so Connected stops reporting true and enqueue stops accepting events
// nothing will drain. No-op when Disconnect already ran or a newer
// connection replaced this one.
func (c *Channel) connLost(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		return
	}

	close(c.done)
	c.conn.Close()
	c.conn = nil
	c.subscriptions = make(map[string]struct{})
	logger.Warn("realtime connection lost")
}

// SubscribeOrder joins the order's event room.
func (c *Channel) SubscribeOrder(orderID string) error {
	c.mu.Lock()
	if _, ok := c.subscriptions[orderID]; ok {
		c.mu.Unlock()
		return nil
	}
	c.subscriptions[orderID] = struct{}{}
	c.mu.Unlock()

	return c.enqueue(Event{Type: eventSubscribe, OrderID: orderID, Timestamp: time.Now()})
}

// UnsubscribeOrder leaves the order's event room.
func (c *Channel) UnsubscribeOrder(orderID string) error {
	c.mu.Lock()
	delete(c.subscriptions, orderID)
	c.mu.Unlock()

	return c.enqueue(Event{Type: eventUnsubscribe, OrderID: orderID, Timestamp: time.Now()})
}

// PublishLocation emits the courier's position to the order room.
func (c *Channel) PublishLocation(orderID string, latitude, longitude, speed, heading float64) error {
	return c.enqueue(Event{
		Type:      EventLocationUpdate,
		OrderID:   orderID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"latitude":  latitude,
			"longitude": longitude,
			"speed":     speed,
			"heading":   heading,
		},
	})
}

// PublishStatus emits a courier-triggered status change to the order room.
func (c *Channel) PublishStatus(orderID string, status state.Status) error {
	return c.enqueue(Event{
		Type:      EventStatusUpdate,
		OrderID:   orderID,
		Origin:    OriginManual,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"status": string(status)},
	})
}

func (c *Channel) enqueue(evt Event) error {
	c.mu.Lock()
	send := c.send
	connected := c.conn != nil
	c.mu.Unlock()

	if !connected {
		return fmt.Errorf("realtime channel not connected")
	}

	select {
	case send <- evt:
		return nil
	default:
		// A full buffer means the connection is wedged; dropping a
		// realtime event is preferable to blocking the caller.
		logger.Warn("realtime send buffer full, dropping event", zap.String("type", evt.Type))
		return nil
	}
}

// readPump pumps inbound events to registered handlers until the
// connection dies or Disconnect is called.
func (c *Channel) readPump(conn *websocket.Conn, done chan struct{}) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var evt Event
		if err := conn.ReadJSON(&evt); err != nil {
			select {
			case <-done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn("realtime read failed", zap.Error(err))
				}
				c.connLost(conn)
			}
			return
		}

		c.dispatch(evt)
	}
}

func (c *Channel) dispatch(evt Event) {
	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[evt.Type]...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(evt)
	}
}

// writePump serializes outbound events and keeps the connection alive
// with periodic pings.
func (c *Channel) writePump(conn *websocket.Conn, send chan Event, done chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case evt := <-send:
			conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				logger.Warn("realtime write failed", zap.Error(err))
				c.connLost(conn)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.connLost(conn)
				return
			}
		case <-done:
			return
		}
	}
}

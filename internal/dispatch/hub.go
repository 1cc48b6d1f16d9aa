package dispatch

import (
	"context"
	"sync"

	"github.com/gmsas95/medtrack/internal/metrics"
	"go.uber.org/zap"
)

// Conn is the write side of a websocket connection
type Conn interface {
	WriteJSON(v interface{}) error
}

type subscriber struct {
	mu     sync.Mutex
	conn   Conn
	userID string
	closed bool
}

// Hub fans notifications out to websocket subscribers. A subscriber with an
// empty user ID receives every notification.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHub creates an empty hub
func NewHub(m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		subs:    make(map[*subscriber]struct{}),
		metrics: m,
		logger:  logger,
	}
}

func (h *Hub) Name() string { return "websocket" }

// Subscribe registers conn for userID's notifications. The returned
// function removes it again and waits for any write in flight, after which
// conn is never touched.
func (h *Hub) Subscribe(userID string, conn Conn) func() {
	sub := &subscriber{conn: conn, userID: userID}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.metrics.IncrementActiveConnections()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.remove(sub)
			sub.mu.Lock()
			sub.closed = true
			sub.mu.Unlock()
		})
	}
}

// Count returns the number of live subscribers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Notify writes n to every matching subscriber. Subscribers whose write
// fails are dropped; nobody listening is not an error.
func (h *Hub) Notify(ctx context.Context, n Notification) error {
	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		if sub.userID == "" || sub.userID == n.UserID {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		sub.mu.Lock()
		if sub.closed {
			sub.mu.Unlock()
			continue
		}
		err := sub.conn.WriteJSON(n)
		sub.mu.Unlock()
		if err != nil {
			h.logger.Warn("Dropping websocket subscriber",
				zap.String("user_id", sub.userID),
				zap.Error(err),
			)
			h.remove(sub)
		}
	}
	return nil
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok {
		h.metrics.DecrementActiveConnections()
	}
}

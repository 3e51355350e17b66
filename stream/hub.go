// Package stream fans board events published on Redis out to the server-sent
// event connections of the session owner.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const reconnectDelay = time.Second

// Hub keeps the live subscribers of every board session.
type Hub struct {
	buffer int

	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	return &Hub{buffer: buffer, subs: make(map[string]map[chan []byte]struct{})}
}

// Subscribe registers a listener for userID. The returned cancel func must be
// called once; it closes the channel.
func (h *Hub) Subscribe(userID string) (<-chan []byte, func()) {
	ch := make(chan []byte, h.buffer)
	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[chan []byte]struct{})
		h.subs[userID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast hands data to every subscriber of userID and returns how many
// received it. Slow subscribers with a full buffer miss the message.
func (h *Hub) Broadcast(userID string, data []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for ch := range h.subs[userID] {
		select {
		case ch <- data:
			delivered++
		default:
		}
	}
	return delivered
}

func (h *Hub) subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

// Run relays messages from the Redis channel to local subscribers until ctx
// is done, resubscribing when the pub/sub connection drops.
func (h *Hub) Run(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	for {
		h.relay(ctx, logger, rc, channel)
		if ctx.Err() != nil {
			return
		}
		logger.WithField("channel", channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (h *Hub) relay(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string) {
	sub := rc.Subscribe(ctx, channel)
	defer func() {
		if err := sub.Close(); err != nil {
			logger.WithError(err).Debug("close pubsub")
		}
	}()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev struct {
				UserID string `json:"userId"`
			}
			if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil || ev.UserID == "" {
				logger.WithField("channel", channel).Warn("dropping board event without owner")
				continue
			}
			n := h.Broadcast(ev.UserID, []byte(msg.Payload))
			logger.WithFields(log.Fields{"user": ev.UserID, "subscribers": n}).Debug("board event relayed")
		}
	}
}

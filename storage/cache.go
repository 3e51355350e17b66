package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

type backend interface {
	LoadBoard(ctx context.Context, userID string) (domain.Snapshot, bool, error)
	SaveBoard(ctx context.Context, userID string, snap domain.Snapshot) error
	PublishEvents(ctx context.Context, userID string, events []domain.Event) error
}

// Cache wraps a board backend with a Redis read-through snapshot cache and
// fans published events out on a Redis channel.
type Cache struct {
	base    backend
	redis   *redis.Client
	ttl     time.Duration
	channel string
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// An empty channel disables event fan-out.
func NewCache(base backend, client *redis.Client, ttl time.Duration, channel string) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl, channel: channel}
}

func (c *Cache) LoadBoard(ctx context.Context, userID string) (domain.Snapshot, bool, error) {
	if snap, ok := c.loadFromCache(ctx, userID); ok {
		return snap, true, nil
	}
	snap, found, err := c.base.LoadBoard(ctx, userID)
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	if found {
		c.store(ctx, userID, snap)
	}
	return snap, found, nil
}

// SaveBoard writes through to the backend and then refreshes the cached copy.
// On failure the cached copy is evicted so the next load reads the backend.
func (c *Cache) SaveBoard(ctx context.Context, userID string, snap domain.Snapshot) error {
	if err := c.base.SaveBoard(ctx, userID, snap); err != nil {
		c.evict(ctx, userID)
		return err
	}
	c.store(ctx, userID, snap)
	return nil
}

func (c *Cache) PublishEvents(ctx context.Context, userID string, events []domain.Event) error {
	if err := c.base.PublishEvents(ctx, userID, events); err != nil {
		return err
	}
	if c.redis == nil || c.channel == "" || len(events) == 0 {
		return nil
	}
	pipe := c.redis.Pipeline()
	for _, ev := range events {
		if ev.UserID == "" {
			ev.UserID = userID
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		pipe.Publish(ctx, c.channel, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.WithError(err).WithFields(log.Fields{"user": userID, "channel": c.channel}).Warn("failed to fan out board events")
	}
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context, userID string) (domain.Snapshot, bool) {
	if c.redis == nil {
		return domain.Snapshot{}, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardCacheKey(userID)).Err()
		}
		return domain.Snapshot{}, false
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(userID)).Err()
		return domain.Snapshot{}, false
	}
	if snap.Tasks == nil {
		snap.Tasks = []domain.Task{}
	}
	return snap, true
}

func (c *Cache) store(ctx context.Context, userID string, snap domain.Snapshot) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		c.evict(ctx, userID)
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(userID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, boardCacheKey(userID)).Err()
}

func boardCacheKey(userID string) string {
	return "board:" + userID
}

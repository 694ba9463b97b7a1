package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/pkg/fractal"
)

// RedisSink publishes render output over Redis. Tile summaries are stored as
// hashes and announced on the tile events channel; lifecycle events go to the
// render events channel. All keys and channels are namespaced, so multiple
// renders can share one server.
// The sink is thread-safe and can be used concurrently from multiple goroutines.
type RedisSink struct {
	rdb       *redis.Client
	namespace string
}

// NewRedisSink creates a sink from a Redis URL (redis://host:port/db).
func NewRedisSink(redisURL, namespace string) (*RedisSink, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisSink{rdb: redis.NewClient(opts), namespace: namespace}, nil
}

// NewRedisSinkFromOptions creates a sink from explicit connection options.
func NewRedisSinkFromOptions(opts *redis.Options, namespace string) (*RedisSink, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	return &RedisSink{rdb: redis.NewClient(opts), namespace: namespace}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// PublishTile stores the tile summary hash and announces it on the tile
// events channel. The iteration buffer never crosses the wire; subscribers
// work from the summary.
func (s *RedisSink) PublishTile(ctx context.Context, session string, res *fractal.TileResult) error {
	if err := res.Validate(); err != nil {
		return fmt.Errorf("invalid tile result: %w", err)
	}

	ev := TileEvent{
		Session:   session,
		TaskID:    res.TaskID,
		Tile:      res.Tile.Key(),
		Width:     res.Tile.Width,
		Height:    res.Tile.Height,
		Glitches:  len(res.Glitches),
		ElapsedMS: res.Elapsed.Milliseconds(),
		Timestamp: time.Now().UTC(),
	}

	key := TileKey(s.namespace, session, res.Tile.Key())
	hash := map[string]interface{}{
		"task_id":    ev.TaskID,
		"width":      ev.Width,
		"height":     ev.Height,
		"glitches":   ev.Glitches,
		"elapsed_ms": ev.ElapsedMS,
	}
	if err := s.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write tile summary to Redis: %w", err)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal tile event: %w", err)
	}
	channel := TileEventsChannel(s.namespace, session)
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish tile event: %w", err)
	}

	return nil
}

// PublishEvent announces a render lifecycle event.
func (s *RedisSink) PublishEvent(ctx context.Context, ev RenderEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal render event: %w", err)
	}
	channel := RenderEventsChannel(s.namespace, ev.Session)
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish render event: %w", err)
	}

	return nil
}

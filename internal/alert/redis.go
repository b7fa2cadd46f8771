package alert

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisScheme is the destination prefix for Redis stream keys.
const RedisScheme = "redis"

// defaultStreamMaxLen caps each alert stream (approximate trimming).
const defaultStreamMaxLen = 10000

// StreamAdder is the subset of [redis.Cmdable] used by [RedisStream].
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStream appends alerts to Redis streams so downstream consumers can pick
// them up through consumer groups. The recipient is the stream key.
type RedisStream struct {
	client StreamAdder
	closer func() error
	maxLen int64
}

var _ Transport = (*RedisStream)(nil)

// NewRedisStream connects to the Redis server at rawURL
// (e.g. "redis://localhost:6379/0") and verifies the connection.
func NewRedisStream(ctx context.Context, rawURL string) (*RedisStream, error) {
	if rawURL == "" {
		return nil, errors.New("alert: redis url must not be empty")
	}
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("alert: parse redis url: %w", err)
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("alert: ping redis: %w", err)
	}
	return &RedisStream{client: rdb, closer: rdb.Close, maxLen: defaultStreamMaxLen}, nil
}

// NewRedisStreamWithClient wraps an existing client.
func NewRedisStreamWithClient(client StreamAdder) *RedisStream {
	return &RedisStream{client: client, maxLen: defaultStreamMaxLen}
}

// Scheme implements [Transport].
func (r *RedisStream) Scheme() string { return RedisScheme }

// Send implements [Transport].
func (r *RedisStream) Send(ctx context.Context, stream string, a Alert) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"incident_id": a.IncidentID,
			"level":       a.Level.String(),
			"timestamp":   a.Timestamp.UTC().Format(time.RFC3339Nano),
			"volume":      strconv.FormatFloat(a.Volume, 'f', 1, 64),
			"confidence":  strconv.FormatFloat(a.Confidence, 'f', 3, 64),
			"message":     a.Message,
			"transcript":  a.Transcript,
		},
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: xadd %s: %w", stream, err)
	}
	return nil
}

// Close closes the owned client, if any.
func (r *RedisStream) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

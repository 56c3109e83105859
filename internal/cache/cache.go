package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache provides TTL state on Redis: cooldowns, attempt counters and sessions
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Cooldown Operations

// cooldownScript takes the key with a TTL when free and otherwise reports
// how many milliseconds remain on it, in one round trip.
var cooldownScript = redis.NewScript(`
	if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
		return {1, 0}
	end
	return {0, redis.call('PTTL', KEYS[1])}
`)

// TakeCooldown claims key for ttl. When the key is already held it returns
// false and the time left before it frees up.
func (c *Cache) TakeCooldown(ctx context.Context, key string, ttl time.Duration) (bool, time.Duration, error) {
	vals, err := cooldownScript.Run(ctx, c.client, []string{key}, time.Now().UnixMilli(), ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("failed to take cooldown: %w", err)
	}
	if len(vals) != 2 {
		return false, 0, fmt.Errorf("unexpected cooldown result: %v", vals)
	}
	if vals[0] == 1 {
		return true, 0, nil
	}

	remaining := time.Duration(vals[1]) * time.Millisecond
	if remaining <= 0 {
		// no TTL or expired between the two calls
		remaining = time.Millisecond
	}
	return false, remaining, nil
}

// ReleaseCooldown drops a cooldown early
func (c *Cache) ReleaseCooldown(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Attempt Counting Operations

// AttemptsExceeded reports whether key has reached limit failures, and if so
// how long until the window resets
func (c *Cache) AttemptsExceeded(ctx context.Context, key string, limit int64) (bool, time.Duration, error) {
	count, err := c.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("failed to read attempts: %w", err)
	}
	if count < limit {
		return false, 0, nil
	}

	ttl, err := c.client.PTTL(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to read attempts ttl: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Millisecond
	}
	return true, ttl, nil
}

// RecordFailure increments the failure counter, starting its window on the first failure
func (c *Cache) RecordFailure(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}

	// Set expiry on first failure
	if count == 1 {
		if err := c.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("failed to set expiry: %w", err)
		}
	}
	return count, nil
}

// ResetAttempts clears a failure counter
func (c *Cache) ResetAttempts(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Heartbeat Operations

// heartbeatScript records ARGV[1] against the key unless the previously
// recorded heartbeat is less than ARGV[2] ms older. It returns the elapsed
// milliseconds, -1 when the heartbeat is rejected and -2 when none was recorded.
var heartbeatScript = redis.NewScript(`
	local now = tonumber(ARGV[1])
	local last = redis.call('GET', KEYS[1])
	if last then
		local elapsed = now - tonumber(last)
		if elapsed < tonumber(ARGV[2]) then
			return -1
		end
		redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
		return elapsed
	end
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
	return -2
`)

// MarkHeartbeat records now as the latest accepted heartbeat of key and
// returns the time since the previous one, zero when there was none. A
// heartbeat less than minGap after the previous one is rejected and leaves
// the record alone. minGap is at least one second.
func (c *Cache) MarkHeartbeat(ctx context.Context, key string, now time.Time, minGap, ttl time.Duration) (time.Duration, bool, error) {
	if minGap < time.Second {
		minGap = time.Second
	}
	res, err := heartbeatScript.Run(ctx, c.client, []string{key}, now.UnixMilli(), minGap.Milliseconds(), ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, false, fmt.Errorf("failed to mark heartbeat: %w", err)
	}
	switch res {
	case -1:
		return 0, false, nil
	case -2:
		return 0, true, nil
	}
	return time.Duration(res) * time.Millisecond, true, nil
}

// JSON Operations

// SetWithJSON sets a value with JSON marshaling
func (c *Cache) SetWithJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetWithJSON gets a value with JSON unmarshaling. It reports false on a miss.
func (c *Cache) GetWithJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil // Cache miss
		}
		return false, fmt.Errorf("failed to get value from cache: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal value: %w", err)
	}

	return true, nil
}

// Delete removes a key
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Locking Operations

// AcquireLock attempts to acquire a distributed lock. Locks are never
// released early; they expire after ttl.
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.SetNX(ctx, key, "locked", ttl).Result()
}

// Ping is the health check
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps the shared Redis connection. It backs the cross-process
// pieces of the dispatcher: advisory locks, rate-limit counters,
// circuit-breaker state and inbound dedup keys.
type Client struct {
	rdb *redis.Client
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

func NewClient(cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquireLock takes the advisory lock named by key, waiting up to maxWait.
// The lock auto-expires after ttl so a crashed holder cannot wedge a booking.
func (c *Client) AcquireLock(ctx context.Context, key, holder string, ttl, maxWait time.Duration) (bool, error) {
	deadline := time.Now().Add(maxWait)
	for {
		ok, err := c.rdb.SetNX(ctx, "lock:"+key, holder, ttl).Result()
		if err != nil {
			return false, fmt.Errorf("lock acquire failed: %w", err)
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// ReleaseLock releases the lock only if holder still owns it.
func (c *Client) ReleaseLock(ctx context.Context, key, holder string) error {
	return releaseScript.Run(ctx, c.rdb, []string{"lock:" + key}, holder).Err()
}

// AllowRequest implements a fixed-window rate limit shared across
// processes. Returns false when the (hotel, channel) window is exhausted.
func (c *Client) AllowRequest(ctx context.Context, key string, perSecond float64, burst int) (bool, error) {
	window := time.Now().Unix()
	counterKey := fmt.Sprintf("rate:%s:%d", key, window)

	count, err := c.rdb.Incr(ctx, counterKey).Result()
	if err != nil {
		return false, fmt.Errorf("rate counter failed: %w", err)
	}
	if count == 1 {
		c.rdb.Expire(ctx, counterKey, 2*time.Second)
	}

	limit := int64(perSecond) + int64(burst)
	return count <= limit, nil
}

// CircuitState is the shared breaker state per (hotel, channel)
type CircuitState struct {
	State    string    `json:"state"` // closed | open | half_open
	Failures int       `json:"failures"`
	OpenedAt time.Time `json:"opened_at"`
}

func circuitKey(key string) string { return "circuit:" + key }

func (c *Client) GetCircuit(ctx context.Context, key string) (CircuitState, error) {
	vals, err := c.rdb.HGetAll(ctx, circuitKey(key)).Result()
	if err != nil {
		return CircuitState{}, fmt.Errorf("circuit read failed: %w", err)
	}
	state := CircuitState{State: "closed"}
	if s, ok := vals["state"]; ok && s != "" {
		state.State = s
	}
	if f, ok := vals["failures"]; ok {
		fmt.Sscanf(f, "%d", &state.Failures)
	}
	if t, ok := vals["opened_at"]; ok && t != "" {
		if parsed, perr := time.Parse(time.RFC3339Nano, t); perr == nil {
			state.OpenedAt = parsed
		}
	}
	return state, nil
}

func (c *Client) SetCircuit(ctx context.Context, key string, state CircuitState) error {
	err := c.rdb.HSet(ctx, circuitKey(key), map[string]interface{}{
		"state":     state.State,
		"failures":  state.Failures,
		"opened_at": state.OpenedAt.Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("circuit write failed: %w", err)
	}
	return nil
}

// OpenCircuits scans the shared breaker state and returns the keys
// currently open.
func (c *Client) OpenCircuits(ctx context.Context) ([]string, error) {
	var open []string
	iter := c.rdb.Scan(ctx, 0, "circuit:*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		state, err := c.rdb.HGet(ctx, key, "state").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("circuit scan failed: %w", err)
		}
		if state == "open" {
			open = append(open, strings.TrimPrefix(key, "circuit:"))
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("circuit scan failed: %w", err)
	}
	return open, nil
}

// MarkSeen records an inbound (channel, event-id) pair. Returns false if
// the pair was already seen inside ttl; the stored value is the payload
// id of the first delivery.
func (c *Client) MarkSeen(ctx context.Context, channel, channelEventID, payloadID string, ttl time.Duration) (bool, string, error) {
	key := fmt.Sprintf("seen:%s:%s", channel, channelEventID)
	ok, err := c.rdb.SetNX(ctx, key, payloadID, ttl).Result()
	if err != nil {
		return false, "", fmt.Errorf("dedup write failed: %w", err)
	}
	if ok {
		return true, payloadID, nil
	}
	prior, err := c.rdb.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return false, "", fmt.Errorf("dedup read failed: %w", err)
	}
	return false, prior, nil
}

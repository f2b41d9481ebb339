package sequence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// nextScript raises the counter to floor if it lags behind, then increments
// it, all in one atomic step on the server.
var nextScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if cur < floor then
  redis.call('SET', KEYS[1], floor)
end
return redis.call('INCR', KEYS[1])
`)

// Counter hands out strictly increasing numbers per key.
type Counter struct {
	client *redis.Client
	prefix string
}

// NewClient parses a redis:// URL into a client.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func NewCounter(client *redis.Client, prefix string) *Counter {
	return &Counter{client: client, prefix: prefix}
}

// Next returns the next number for key. floor is the highest number already
// known to be in use; the result is always greater than it.
func (c *Counter) Next(ctx context.Context, key string, floor int64) (int64, error) {
	n, err := nextScript.Run(ctx, c.client, []string{c.prefix + key}, floor).Int64()
	if err != nil {
		return 0, fmt.Errorf("next %s: %w", key, err)
	}
	return n, nil
}

// Ping checks the connection.
func (c *Counter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

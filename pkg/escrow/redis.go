package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
)

// moveScript atomically moves ARGV[1] from KEYS[1] to KEYS[2].
// Returns -1 if KEYS[1] cannot cover the amount. The credit runs first so an
// INCRBY overflow aborts the script before the debit.
var moveScript = redis.NewScript(`
local amount = tonumber(ARGV[1])
local src = tonumber(redis.call("GET", KEYS[1]) or "0")
if src < amount then
    return -1
end
redis.call("INCRBY", KEYS[2], ARGV[1])
redis.call("DECRBY", KEYS[1], ARGV[1])
return src - amount
`)

// overflowed reports whether err is Redis rejecting an INCRBY past int64.
func overflowed(err error) bool {
	return err != nil && strings.Contains(err.Error(), "would overflow")
}

// RedisCustody is a Custody backed by Redis counters.
type RedisCustody struct {
	client *redis.Client
	prefix string
}

// NewRedisCustody creates a custody over client. Keys are namespaced by prefix.
func NewRedisCustody(client *redis.Client, prefix string) *RedisCustody {
	if prefix == "" {
		prefix = "buildmarket"
	}
	return &RedisCustody{client: client, prefix: prefix}
}

func (c *RedisCustody) accountKey(a identity.Address) string {
	return fmt.Sprintf("%s:account:%s", c.prefix, a)
}

func (c *RedisCustody) poolKey() string {
	return c.prefix + ":custody:held"
}

func (c *RedisCustody) Deposit(ctx context.Context, to identity.Address, amount int64) error {
	if err := checkTransfer("deposit", to, amount); err != nil {
		return err
	}
	if err := c.client.IncrBy(ctx, c.accountKey(to), amount).Err(); err != nil {
		if overflowed(err) {
			return fmt.Errorf("deposit %d to %s: %w", amount, to, ErrOverflow)
		}
		return fmt.Errorf("redis deposit: %w", err)
	}
	return nil
}

func (c *RedisCustody) Hold(ctx context.Context, from identity.Address, amount int64) error {
	if err := checkTransfer("hold", from, amount); err != nil {
		return err
	}
	return c.move(ctx, c.accountKey(from), c.poolKey(), amount, "hold", from)
}

func (c *RedisCustody) Release(ctx context.Context, to identity.Address, amount int64) error {
	if err := checkTransfer("release", to, amount); err != nil {
		return err
	}
	return c.move(ctx, c.poolKey(), c.accountKey(to), amount, "release", to)
}

func (c *RedisCustody) move(ctx context.Context, src, dst string, amount int64, op string, who identity.Address) error {
	left, err := moveScript.Run(ctx, c.client, []string{src, dst}, amount).Int64()
	if overflowed(err) {
		return fmt.Errorf("%s %d for %s: %w", op, amount, who, ErrOverflow)
	}
	if err != nil {
		return fmt.Errorf("redis %s: %w", op, err)
	}
	if left < 0 {
		return fmt.Errorf("%s %d for %s: %w", op, amount, who, ErrInsufficientBalance)
	}
	return nil
}

func (c *RedisCustody) Balance(ctx context.Context, addr identity.Address) (int64, error) {
	return c.get(ctx, c.accountKey(addr))
}

func (c *RedisCustody) Held(ctx context.Context) (int64, error) {
	return c.get(ctx, c.poolKey())
}

func (c *RedisCustody) get(ctx context.Context, key string) (int64, error) {
	v, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

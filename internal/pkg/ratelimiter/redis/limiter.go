package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/open-apime/relay/internal/pkg/ratelimiter"
)

// DefaultPrefix separa as chaves do limiter das da fila de webhooks no
// mesmo banco Redis.
const DefaultPrefix = "relay:ratelimit:"

// A janela começa no primeiro INCR. Uma chave que perdeu o TTL recebe outro.
var windowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

type RedisLimiter struct {
	client *redis.Client
	prefix string
}

func NewLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: DefaultPrefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*ratelimiter.Result, error) {
	vals, err := windowScript.Run(ctx, l.client, []string{l.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis limiter: %w", err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("redis limiter: resposta inválida (%d valores)", len(vals))
	}

	return ratelimiter.Decide(vals[0], limit, time.Now(), time.Duration(vals[1])*time.Millisecond), nil
}

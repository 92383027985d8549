package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/open-apime/relay/internal/pkg/queue"
)

// RedisQueue é uma lista Redis usada como fila: LPUSH na entrada, BRPOP na
// saída. Com maxLen > 0 a lista é aparada no LPUSH e os eventos mais antigos
// são descartados, como no limite da fila em memória.
type RedisQueue struct {
	client *redis.Client
	key    string
	maxLen int64
}

func NewQueue(client *redis.Client, key string, maxLen int64) *RedisQueue {
	return &RedisQueue{
		client: client,
		key:    key,
		maxLen: maxLen,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, event queue.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("queue enqueue: marshal: %w", err)
	}

	if q.maxLen <= 0 {
		if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
			return fmt.Errorf("queue enqueue: %w", err)
		}
		return nil
	}

	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.key, data)
	pipe.LTrim(ctx, q.key, 0, q.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Event, error) {
	result, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("queue dequeue: %w", err)
	}

	if len(result) < 2 {
		return nil, errors.New("queue dequeue: resultado inválido")
	}

	var event queue.Event
	if err := json.Unmarshal([]byte(result[1]), &event); err != nil {
		return nil, fmt.Errorf("queue dequeue: unmarshal: %w", err)
	}
	return &event, nil
}

func (q *RedisQueue) Size(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Close não fecha o cliente, que é compartilhado com o rate limiter.
func (q *RedisQueue) Close() error {
	return nil
}

package queue

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("queue: fechada")

// Event é uma entrega de webhook pendente. URL é o destino resolvido no
// momento do enfileiramento, então mudanças posteriores de configuração
// não afetam eventos já aceitos.
type Event struct {
	ID         string                 `json:"id"`
	InstanceID string                 `json:"instanceId"`
	Type       string                 `json:"type"`
	URL        string                 `json:"url"`
	Payload    map[string]interface{} `json:"payload"`
	CreatedAt  time.Time              `json:"createdAt"`
}

type Queue interface {
	Enqueue(ctx context.Context, event Event) error
	// Dequeue devolve (nil, nil) quando o timeout expira sem eventos.
	Dequeue(ctx context.Context, timeout time.Duration) (*Event, error)
	Size(ctx context.Context) (int64, error)
	Close() error
}

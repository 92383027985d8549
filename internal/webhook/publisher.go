package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/open-apime/relay/internal/pkg/queue"
	"github.com/open-apime/relay/internal/transport"
)

const EventTypeMessage = "message"

// Publisher transforma mensagens roteadas em eventos de webhook e os
// enfileira para o pool de entrega.
type Publisher struct {
	queue queue.Queue
	log   *zap.Logger
	now   func() time.Time
}

func NewPublisher(q queue.Queue, log *zap.Logger) *Publisher {
	return &Publisher{queue: q, log: log, now: time.Now}
}

// Publish enfileira a mensagem para url sem bloquear. Com a fila cheia o
// evento mais antigo é descartado.
func (p *Publisher) Publish(ctx context.Context, instanceID, url string, msg transport.Message) error {
	event := queue.Event{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		Type:       EventTypeMessage,
		URL:        url,
		Payload:    Payload(instanceID, msg),
		CreatedAt:  p.now(),
	}

	if err := p.queue.Enqueue(ctx, event); err != nil {
		return fmt.Errorf("webhook: enfileirar: %w", err)
	}

	p.log.Debug("webhook: evento enfileirado",
		zap.String("event_id", event.ID),
		zap.String("instance_id", instanceID),
		zap.String("message_id", msg.ID),
	)
	return nil
}

// Payload monta o corpo enviado ao webhook genérico.
func Payload(instanceID string, msg transport.Message) map[string]interface{} {
	name := msg.PushName
	if name == "" {
		name = "Desconhecido"
	}
	return map[string]interface{}{
		"instanceId":  instanceID,
		"from":        msg.From,
		"message":     msg.Text,
		"displayName": name,
		"timestamp":   msg.Timestamp.Unix(),
	}
}

package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/relay/internal/logsink"
	"github.com/open-apime/relay/internal/pkg/queue"
)

// Deliverer entrega um payload; *delivery.Delivery satisfaz.
type Deliverer interface {
	Deliver(ctx context.Context, url, secret string, event any) error
}

// Pool consome a fila de webhooks e entrega cada evento uma única vez.
// O resultado é apenas registrado.
type Pool struct {
	queue    queue.Queue
	delivery Deliverer
	secret   string
	sink     logsink.Sink
	log      *zap.Logger

	numWorkers int
	taskChan   chan *queue.Event
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewPool cria o pool. Com secret não vazio cada entrega leva a assinatura
// HMAC do corpo.
func NewPool(q queue.Queue, d Deliverer, secret string, sink logsink.Sink, log *zap.Logger, numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	if sink == nil {
		sink = logsink.Discard
	}

	return &Pool{
		queue:      q,
		delivery:   d,
		secret:     secret,
		sink:       sink,
		log:        log,
		numWorkers: numWorkers,
		taskChan:   make(chan *queue.Event, numWorkers*2),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.log.Info("webhook pool: iniciando", zap.Int("workers", p.numWorkers))

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}

	p.wg.Add(1)
	go p.runDispatcher()
}

func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.log.Info("webhook pool: encerrando")
	p.cancel()
	p.wg.Wait()
	p.log.Info("webhook pool: encerrada")
}

func (p *Pool) runDispatcher() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		event, err := p.queue.Dequeue(p.ctx, time.Second)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || p.ctx.Err() != nil {
				return
			}
			p.log.Error("webhook pool: erro ao desenfileirar", zap.Error(err))
			continue
		}
		if event == nil {
			continue
		}

		select {
		case p.taskChan <- event:
		case <-p.ctx.Done():
			return
		case <-time.After(5 * time.Second):
			p.log.Warn("webhook pool: workers ocupados, descartando evento", zap.String("event_id", event.ID))
			p.sink.Add(logsink.CategoryN8N, logsink.LevelError, event.InstanceID, "Webhook descartado: fila de entrega cheia")
		}
	}
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case event := <-p.taskChan:
			p.process(id, event)
		}
	}
}

func (p *Pool) process(workerID int, event *queue.Event) {
	if event.URL == "" {
		p.log.Warn("webhook pool: evento sem destino", zap.String("event_id", event.ID))
		return
	}

	err := p.delivery.Deliver(p.ctx, event.URL, p.secret, event.Payload)
	if err != nil {
		p.log.Error("webhook pool: falha na entrega",
			zap.Int("worker_id", workerID),
			zap.String("event_id", event.ID),
			zap.String("instance_id", event.InstanceID),
			zap.Error(err),
		)
		p.sink.Add(logsink.CategoryN8N, logsink.LevelError, event.InstanceID, fmt.Sprintf("Falha no Webhook: %v", err))
		return
	}

	p.log.Debug("webhook pool: evento entregue",
		zap.Int("worker_id", workerID),
		zap.String("event_id", event.ID),
	)
	p.sink.Add(logsink.CategoryN8N, logsink.LevelInfo, event.InstanceID, "Webhook enviado com sucesso")
}

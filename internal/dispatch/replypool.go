package dispatch

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Job é o processamento de uma mensagem roteada para uma conversa.
type Job struct {
	InstanceID string
	ChatID     string
	Handler    func(ctx context.Context) error
}

// PoolStats são os contadores acumulados do pool.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queueSize"`
	Queued     int   `json:"queued"`
	Dispatched int64 `json:"dispatched"`
	Processed  int64 `json:"processed"`
	Dropped    int64 `json:"dropped"`
	Errors     int64 `json:"errors"`
}

// ReplyPool distribui jobs entre workers por hash de instância+conversa, de
// modo que uma conversa é sempre atendida em ordem pelo mesmo worker.
type ReplyPool struct {
	numWorkers int
	queueSize  int
	workers    []*replyWorker
	log        *zap.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	mu       sync.RWMutex
	started  bool
	stopped  bool

	dispatched int64
	processed  int64
	dropped    int64
	errors     int64
}

type replyWorker struct {
	id     int
	jobs   chan Job
	ctx    context.Context
	cancel context.CancelFunc
	pool   *ReplyPool
}

func NewReplyPool(numWorkers, queueSize int, log *zap.Logger) *ReplyPool {
	if numWorkers <= 0 {
		numWorkers = 8
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &ReplyPool{
		numWorkers: numWorkers,
		queueSize:  queueSize,
		workers:    make([]*replyWorker, numWorkers),
		log:        log,
	}
}

func (p *ReplyPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.numWorkers; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		w := &replyWorker{
			id:     i,
			jobs:   make(chan Job, p.queueSize),
			ctx:    workerCtx,
			cancel: cancel,
			pool:   p,
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(&p.wg)
	}

	p.log.Info("reply pool: iniciado", zap.Int("workers", p.numWorkers), zap.Int("queue_size", p.queueSize))
}

// TryDispatch enfileira sem bloquear e informa se o job foi aceito.
func (p *ReplyPool) TryDispatch(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started || p.stopped {
		atomic.AddInt64(&p.dropped, 1)
		return false
	}

	shard := p.shardFor(job.InstanceID, job.ChatID)
	select {
	case p.workers[shard].jobs <- job:
		atomic.AddInt64(&p.dispatched, 1)
		return true
	default:
		atomic.AddInt64(&p.dropped, 1)
		p.log.Warn("reply pool: fila cheia, descartando job",
			zap.Int("worker_id", shard),
			zap.String("instance_id", job.InstanceID),
			zap.String("chat", job.ChatID),
		)
		return false
	}
}

// Stop cancela os workers; jobs ainda na fila são executados com contexto
// cancelado, o que interrompe as esperas de digitação.
func (p *ReplyPool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		started := p.started
		p.mu.Unlock()
		if !started {
			return
		}

		for _, w := range p.workers {
			w.cancel()
			close(w.jobs)
		}
		p.wg.Wait()
		p.log.Info("reply pool: encerrado")
	})
}

func (p *ReplyPool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	queued := 0
	for _, w := range p.workers {
		if w != nil {
			queued += len(w.jobs)
		}
	}
	return PoolStats{
		Workers:    p.numWorkers,
		QueueSize:  p.queueSize,
		Queued:     queued,
		Dispatched: atomic.LoadInt64(&p.dispatched),
		Processed:  atomic.LoadInt64(&p.processed),
		Dropped:    atomic.LoadInt64(&p.dropped),
		Errors:     atomic.LoadInt64(&p.errors),
	}
}

func (p *ReplyPool) shardFor(instanceID, chatID string) int {
	h := fnv.New32a()
	h.Write([]byte(instanceID + "|" + chatID))
	return int(h.Sum32() % uint32(p.numWorkers))
}

func (w *replyWorker) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for job := range w.jobs {
		w.execute(job)
	}
}

func (w *replyWorker) execute(job Job) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&w.pool.errors, 1)
			w.pool.log.Error("reply pool: panic no job",
				zap.Int("worker_id", w.id),
				zap.String("instance_id", job.InstanceID),
				zap.Any("panic", r),
			)
		}
		atomic.AddInt64(&w.pool.processed, 1)
	}()

	if err := job.Handler(w.ctx); err != nil {
		atomic.AddInt64(&w.pool.errors, 1)
		w.pool.log.Debug("reply pool: job falhou",
			zap.Int("worker_id", w.id),
			zap.String("instance_id", job.InstanceID),
			zap.String("chat", job.ChatID),
			zap.Error(err),
		)
	}
}

// Package logsink mantém o log operacional exibido no painel: um buffer
// circular das entradas mais recentes, transmitido em tempo real para
// assinantes e opcionalmente persistido.
package logsink

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/relay/internal/storage"
	"github.com/open-apime/relay/internal/storage/model"
)

const (
	DefaultCapacity  = 100
	subscriberBuffer = 32
	persistTimeout   = 5 * time.Second
)

type Category string

const (
	CategoryWhatsApp Category = "WHATSAPP"
	CategoryTypebot  Category = "TYPEBOT"
	CategoryN8N      Category = "N8N"
	CategorySystem   Category = "SYSTEM"
)

type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	Category   Category  `json:"type"`
	InstanceID string    `json:"instance"`
	Level      Level     `json:"level"`
	Message    string    `json:"message"`
}

// Sink recebe linhas do log operacional.
type Sink interface {
	Add(category Category, level Level, instanceID, message string)
}

type discard struct{}

func (discard) Add(Category, Level, string, string) {}

// Discard descarta tudo.
var Discard Sink = discard{}

// Buffer guarda as últimas entradas, mais novas primeiro.
type Buffer struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	subs     map[chan Entry]struct{}

	repo storage.LogRepository
	log  *zap.Logger
	now  func() time.Time
}

func New(log *zap.Logger, repo storage.LogRepository) *Buffer {
	return &Buffer{
		entries:  make([]Entry, 0, DefaultCapacity),
		capacity: DefaultCapacity,
		subs:     make(map[chan Entry]struct{}),
		repo:     repo,
		log:      log,
		now:      time.Now,
	}
}

// Preload carrega as entradas persistidas mais recentes.
func (b *Buffer) Preload(ctx context.Context) error {
	if b.repo == nil {
		return nil
	}
	rows, err := b.repo.Recent(ctx, b.capacity)
	if err != nil {
		return err
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{
			Timestamp:  row.Timestamp,
			Category:   Category(row.Category),
			InstanceID: row.InstanceID,
			Level:      Level(row.Level),
			Message:    row.Message,
		})
	}

	b.mu.Lock()
	b.entries = entries
	b.mu.Unlock()
	return nil
}

func (b *Buffer) Add(category Category, level Level, instanceID, message string) {
	entry := Entry{
		Timestamp:  b.now(),
		Category:   category,
		InstanceID: instanceID,
		Level:      level,
		Message:    message,
	}

	b.mu.Lock()
	b.entries = append(b.entries, Entry{})
	copy(b.entries[1:], b.entries)
	b.entries[0] = entry
	if len(b.entries) > b.capacity {
		b.entries = b.entries[:b.capacity]
	}
	subs := make([]chan Entry, 0, len(b.subs))
	for ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- entry:
		default:
			// assinante lento perde a entrada
		}
	}

	b.echo(entry)

	if b.repo != nil {
		go b.persist(entry)
	}
}

// Entries devolve uma cópia, mais novas primeiro.
func (b *Buffer) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Entry(nil), b.entries...)
}

// Subscribe registra um assinante. A função devolvida cancela a assinatura
// e deve ser chamada exatamente uma vez.
func (b *Buffer) Subscribe() (<-chan Entry, func()) {
	ch := make(chan Entry, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
}

func (b *Buffer) echo(e Entry) {
	if b.log == nil {
		return
	}
	fields := []zap.Field{
		zap.String("category", string(e.Category)),
		zap.String("instance_id", e.InstanceID),
	}
	switch e.Level {
	case LevelError:
		b.log.Error(e.Message, fields...)
	case LevelWarn:
		b.log.Warn(e.Message, fields...)
	default:
		b.log.Info(e.Message, fields...)
	}
}

func (b *Buffer) persist(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	_, err := b.repo.Append(ctx, model.LogEntry{
		Timestamp:  e.Timestamp,
		Category:   string(e.Category),
		InstanceID: e.InstanceID,
		Level:      string(e.Level),
		Message:    e.Message,
	})
	if err != nil && b.log != nil {
		b.log.Warn("logsink: falha ao persistir entrada", zap.Error(err))
	}
}

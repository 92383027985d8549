package memory

import (
	"context"
	"sync"
	"time"

	"github.com/open-apime/relay/internal/pkg/ratelimiter"
)

type window struct {
	count     int
	expiresAt time.Time
}

// MemoryLimiter conta requisições em janelas fixas por chave.
type MemoryLimiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

func NewLimiter() *MemoryLimiter {
	l := newLimiter(time.Now)
	go l.cleanupLoop(time.Minute)
	return l
}

func newLimiter(now func() time.Time) *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		now:     now,
		stop:    make(chan struct{}),
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit int, size time.Duration) (*ratelimiter.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &window{expiresAt: now.Add(size)}
		l.windows[key] = w
	}
	w.count++

	return ratelimiter.Decide(int64(w.count), limit, now, w.expiresAt.Sub(now)), nil
}

// Stop encerra a limpeza periódica.
func (l *MemoryLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *MemoryLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.purge()
		}
	}
}

func (l *MemoryLimiter) purge() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, w := range l.windows {
		if !now.Before(w.expiresAt) {
			delete(l.windows, k)
		}
	}
}

package session

import "sync"

const DefaultDedupCapacity = 1000

// Dedup é um conjunto limitado de IDs de mensagem; ao atingir a capacidade
// o mais antigo é removido (FIFO).
type Dedup struct {
	mu       sync.Mutex
	ids      map[string]struct{}
	order    []string
	capacity int
}

func NewDedup(capacity int) *Dedup {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &Dedup{
		ids:      make(map[string]struct{}, capacity),
		order:    make([]string, 0, capacity),
		capacity: capacity,
	}
}

func (d *Dedup) Contains(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.ids[id]
	return ok
}

// Add insere id e informa se ele era novo.
func (d *Dedup) Add(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.ids[id]; ok {
		return false
	}

	if len(d.order) >= d.capacity {
		oldest := d.order[0]
		delete(d.ids, oldest)
		d.order = d.order[1:]
	}

	d.ids[id] = struct{}{}
	d.order = append(d.order, id)
	return true
}

func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}

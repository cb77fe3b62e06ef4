package dedup

import (
	"context"
	"sync"
)

// MemoryDedup is the in-process fallback when Redis is not configured.
// It forgets events on restart, which only risks reprocessing an event
// that is idempotent anyway.
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemory creates an in-memory dedup store.
func NewMemory() *MemoryDedup {
	return &MemoryDedup{seen: make(map[string]struct{})}
}

// MarkProcessed records the event ID and reports whether it was already seen.
func (d *MemoryDedup) MarkProcessed(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[eventID]; ok {
		return true, nil
	}
	d.seen[eventID] = struct{}{}
	return false, nil
}

// Clear forgets the event ID.
func (d *MemoryDedup) Clear(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.seen, eventID)
	return nil
}

package entries

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/gophjournal/internal/common"
)

// MemoryRepository keeps entries in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string]*Entry)}
}

func (r *MemoryRepository) Save(_ context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ID] = copyEntry(e)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", id, common.ErrNotFound)
	}
	return copyEntry(e), nil
}

func (r *MemoryRepository) ListByTag(_ context.Context, tagID string) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Entry
	for _, e := range r.entries {
		if e.TagID == tagID {
			out = append(out, copyEntry(e))
		}
	}
	sortEntries(out)
	return out, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return fmt.Errorf("entry %s: %w", id, common.ErrNotFound)
	}
	delete(r.entries, id)
	return nil
}

func copyEntry(e *Entry) *Entry {
	c := *e
	c.Ciphertext = common.CloneBytes(e.Ciphertext)
	c.Nonce = common.CloneBytes(e.Nonce)
	c.WrappedKey = common.CloneBytes(e.WrappedKey)
	c.KeyNonce = common.CloneBytes(e.KeyNonce)
	c.Metadata = e.Metadata.clone()
	return &c
}

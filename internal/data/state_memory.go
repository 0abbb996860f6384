package data

import (
	"context"
	"sync"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
)

// MemoryStateRepo keeps the encoded state document in memory.
// Both relay roles can share one instance inside a single process.
type MemoryStateRepo struct {
	mu       sync.Mutex
	doc      []byte
	watchers map[chan struct{}]struct{}
}

// NewMemoryStateRepo creates an empty in-memory state repository
func NewMemoryStateRepo() *MemoryStateRepo {
	return &MemoryStateRepo{watchers: make(map[chan struct{}]struct{})}
}

// Load decodes a private copy of the stored document
func (r *MemoryStateRepo) Load(ctx context.Context) (*domain.RelayState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == nil {
		return domain.NewRelayState(), nil
	}
	return decodeState(r.doc)
}

// Save stores the encoded state and wakes watchers
func (r *MemoryStateRepo) Save(ctx context.Context, state *domain.RelayState) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.doc = data
	for ch := range r.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	r.mu.Unlock()
	return nil
}

// Raw returns the encoded document, nil if nothing was saved
func (r *MemoryStateRepo) Raw() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.doc...)
}

// Watch calls onChange after every Save until ctx is done
func (r *MemoryStateRepo) Watch(ctx context.Context, onChange func()) error {
	ch := make(chan struct{}, 1)
	r.mu.Lock()
	r.watchers[ch] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.watchers, ch)
		r.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			onChange()
		}
	}
}

// Close is a no-op
func (r *MemoryStateRepo) Close() error {
	return nil
}

package repo

import (
	"context"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
)

// StateRepo is the shared relay state repository interface
// Responsible for crash-safe persistence visible to both relay processes
type StateRepo interface {
	// Load reads a consistent snapshot of the relay state
	// A missing document yields a fresh empty state
	Load(ctx context.Context) (*domain.RelayState, error)

	// Save atomically replaces the persisted relay state
	Save(ctx context.Context, state *domain.RelayState) error

	// Watch calls onChange whenever the persisted state may have been modified
	// by another process. Blocks until ctx is done.
	Watch(ctx context.Context, onChange func()) error

	// Close releases resources held by the repository
	Close() error
}

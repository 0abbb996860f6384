package repo

import (
	"context"
)

// RemoteRepo is the remote chat service repository interface
// Rate limiting is reported as *domain.RateLimitError, other failures as *domain.RemoteError
type RemoteRepo interface {
	// CreateChannel creates a remote channel and returns its id
	// parent is the platform grouping the channel belongs to (may be empty)
	CreateChannel(ctx context.Context, parent, name string) (string, error)

	// SendMessage sends a text message to a channel
	// dedupeKey makes retried sends idempotent where the platform supports it
	SendMessage(ctx context.Context, channelID, text, dedupeKey string) error

	// SendDirect sends a text message directly to a user
	SendDirect(ctx context.Context, userID, text string) error
}

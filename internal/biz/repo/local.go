package repo

import (
	"context"
	"time"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
)

// LocalStore is the local message store interface
// Read-only access to the append-only message database, polled for changes
type LocalStore interface {
	// ListActiveConversations lists conversations with messages after since
	ListActiveConversations(ctx context.Context, since time.Time) ([]string, error)

	// ListParticipants lists the participant handles of a conversation
	ListParticipants(ctx context.Context, conversationID string) ([]string, error)

	// ResolveDisplayName resolves the current display name of a participant
	ResolveDisplayName(ctx context.Context, participantID string) (string, error)

	// FetchMessages returns messages with ordinal > after, ascending by ordinal
	FetchMessages(ctx context.Context, conversationID string, after int64) ([]domain.LocalMessage, error)

	// LatestOrdinal returns the highest message ordinal of a conversation, 0 if empty
	LatestOrdinal(ctx context.Context, conversationID string) (int64, error)
}

// Injector delivers text into the local platform
type Injector interface {
	// InjectMessage sends text into the local conversation
	// Implementations own input sanitization
	InjectMessage(ctx context.Context, conversationID, text string) error
}

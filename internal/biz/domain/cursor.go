package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCursor is returned when a cursor would not strictly increase
	ErrInvalidCursor = errors.New("invalid cursor")

	// ErrUnknownConversation is returned for a conversation id absent from the state
	ErrUnknownConversation = errors.New("unknown conversation")
)

// Advance moves the conversation's cursor to ordinal.
// The first initialization accepts any non-negative ordinal, afterwards the
// ordinal must be strictly greater than the stored cursor. On error the
// record is left untouched.
func (s *RelayState) Advance(conversationID string, ordinal int64) error {
	rec, ok := s.Conversations[conversationID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	if ordinal < 0 {
		return fmt.Errorf("%w: negative ordinal %d for %s", ErrInvalidCursor, ordinal, conversationID)
	}
	if rec.CursorInitialized && ordinal <= rec.Cursor {
		return fmt.Errorf("%w: %d does not advance %d for %s", ErrInvalidCursor, ordinal, rec.Cursor, conversationID)
	}
	rec.Cursor = ordinal
	rec.CursorInitialized = true
	return nil
}

// FetchSince returns the cursor to use as the exclusive lower bound of the next fetch
func (s *RelayState) FetchSince(conversationID string) (int64, error) {
	rec, ok := s.Conversations[conversationID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	return rec.Cursor, nil
}

package data

import (
	"context"
	"time"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
	"github.com/devricklin/imessage-feishu-relay/internal/biz/repo"
	"github.com/devricklin/imessage-feishu-relay/internal/infra/imessage"
	"github.com/devricklin/imessage-feishu-relay/internal/infra/retry"
)

// chatSource is the subset of imessage.ChatDB the local store needs
type chatSource interface {
	ActiveChats(ctx context.Context, since time.Time) ([]string, error)
	ChatHandles(ctx context.Context, guid string) ([]string, error)
	HandleLabel(ctx context.Context, handleID string) (string, error)
	MessagesAfter(ctx context.Context, guid string, after int64) ([]imessage.Message, error)
	MaxRowID(ctx context.Context, guid string) (int64, error)
}

// nameSource resolves handles to contact names
type nameSource interface {
	Lookup(handle string) (string, bool)
}

// localStore implements the local store repository over chat.db
type localStore struct {
	chats    chatSource
	contacts nameSource
	busy     retry.Policy
}

// NewLocalStore creates the local store repository.
// contacts may be nil, in which case handles are their own display names.
func NewLocalStore(chats *imessage.ChatDB, contacts *imessage.Contacts) repo.LocalStore {
	s := &localStore{chats: chats, busy: busyPolicy()}
	if contacts != nil {
		s.contacts = contacts
	}
	return s
}

// busyPolicy retries queries that hit SQLite lock contention from Messages.app writes
func busyPolicy() retry.Policy {
	p := retry.FixedPolicy(3, 200*time.Millisecond)
	p.Retryable = imessage.IsBusy
	return p
}

// ListActiveConversations lists chats with messages after since
func (s *localStore) ListActiveConversations(ctx context.Context, since time.Time) ([]string, error) {
	var ids []string
	err := retry.Do(ctx, s.busy, func(int) error {
		var err error
		ids, err = s.chats.ActiveChats(ctx, since)
		return err
	})
	return ids, err
}

// ListParticipants lists chat participant handles
func (s *localStore) ListParticipants(ctx context.Context, conversationID string) ([]string, error) {
	var handles []string
	err := retry.Do(ctx, s.busy, func(int) error {
		var err error
		handles, err = s.chats.ChatHandles(ctx, conversationID)
		return err
	})
	return handles, err
}

// ResolveDisplayName prefers the contact name, then the handle as typed, then the handle
func (s *localStore) ResolveDisplayName(ctx context.Context, participantID string) (string, error) {
	if s.contacts != nil {
		if name, ok := s.contacts.Lookup(participantID); ok {
			return name, nil
		}
	}
	var label string
	err := retry.Do(ctx, s.busy, func(int) error {
		var err error
		label, err = s.chats.HandleLabel(ctx, participantID)
		return err
	})
	if err != nil {
		return "", err
	}
	if label == "" {
		return participantID, nil
	}
	return label, nil
}

// FetchMessages returns messages after the ordinal in ascending order
func (s *localStore) FetchMessages(ctx context.Context, conversationID string, after int64) ([]domain.LocalMessage, error) {
	var rows []imessage.Message
	err := retry.Do(ctx, s.busy, func(int) error {
		var err error
		rows, err = s.chats.MessagesAfter(ctx, conversationID, after)
		return err
	})
	if err != nil {
		return nil, err
	}

	messages := make([]domain.LocalMessage, 0, len(rows))
	for _, m := range rows {
		messages = append(messages, domain.LocalMessage{
			Ordinal:   m.RowID,
			Timestamp: m.Date,
			Author:    m.HandleID,
			Text:      m.Text,
			FromMe:    m.IsFromMe,
		})
	}
	return messages, nil
}

// LatestOrdinal returns the highest ROWID of the chat
func (s *localStore) LatestOrdinal(ctx context.Context, conversationID string) (int64, error) {
	var latest int64
	err := retry.Do(ctx, s.busy, func(int) error {
		var err error
		latest, err = s.chats.MaxRowID(ctx, conversationID)
		return err
	})
	return latest, err
}

// injector implements the injector repository with AppleScript
type injector struct {
	sender *imessage.Sender
}

// NewInjector creates the injector repository
func NewInjector(sender *imessage.Sender) repo.Injector {
	return &injector{sender: sender}
}

// InjectMessage sends text into the chat through Messages.app
func (i *injector) InjectMessage(ctx context.Context, conversationID, text string) error {
	return i.sender.Send(ctx, conversationID, text)
}

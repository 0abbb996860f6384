package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
)

var errBoom = errors.New("boom")

type mockState struct {
	mu      sync.Mutex
	st      *domain.RelayState
	loadErr error
	saveErr error
	saves   int
	loads   int
	watch   chan struct{}
}

func (m *mockState) Load(ctx context.Context) (*domain.RelayState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.st == nil {
		return domain.NewRelayState(), nil
	}
	return m.st.Clone(), nil
}

func (m *mockState) Save(ctx context.Context, st *domain.RelayState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.st = st.Clone()
	return nil
}

func (m *mockState) Watch(ctx context.Context, onChange func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.watch:
			onChange()
		}
	}
}

func (m *mockState) Close() error { return nil }

func (m *mockState) setLoadErr(err error) {
	m.mu.Lock()
	m.loadErr = err
	m.mu.Unlock()
}

func (m *mockState) set(st *domain.RelayState) {
	m.mu.Lock()
	m.st = st
	m.mu.Unlock()
}

type mockLocal struct {
	mu       sync.Mutex
	messages map[string][]domain.LocalMessage
	fetched  []string
}

func (m *mockLocal) ListActiveConversations(ctx context.Context, since time.Time) ([]string, error) {
	return nil, nil
}

func (m *mockLocal) ListParticipants(ctx context.Context, conversationID string) ([]string, error) {
	return nil, nil
}

func (m *mockLocal) ResolveDisplayName(ctx context.Context, participantID string) (string, error) {
	return participantID, nil
}

func (m *mockLocal) FetchMessages(ctx context.Context, conversationID string, after int64) ([]domain.LocalMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched = append(m.fetched, conversationID)
	var out []domain.LocalMessage
	for _, msg := range m.messages[conversationID] {
		if msg.Ordinal > after {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockLocal) LatestOrdinal(ctx context.Context, conversationID string) (int64, error) {
	return 0, nil
}

type sentText struct {
	channelID string
	text      string
}

type mockRemote struct {
	mu     sync.Mutex
	sent   []sentText
	direct []sentText
}

func (m *mockRemote) CreateChannel(ctx context.Context, parent, name string) (string, error) {
	return "oc_" + name, nil
}

func (m *mockRemote) SendMessage(ctx context.Context, channelID, text, dedupeKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentText{channelID, text})
	return nil
}

func (m *mockRemote) SendDirect(ctx context.Context, userID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.direct = append(m.direct, sentText{userID, text})
	return nil
}

func (m *mockRemote) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

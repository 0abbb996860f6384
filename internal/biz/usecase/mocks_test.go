package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
)

// Mock implementations

type sentMessage struct {
	channelID string
	text      string
	dedupeKey string
}

type mockRemote struct {
	mu sync.Mutex

	sent     []sentMessage
	direct   []sentMessage
	channels []string // names of created channels

	createErrs []error // consumed one per CreateChannel call
	sendErrs   []error // consumed one per SendMessage call
	failText   map[string]error
	nextID     int
}

func (m *mockRemote) CreateChannel(ctx context.Context, parent, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return "", err
		}
	}
	m.nextID++
	m.channels = append(m.channels, name)
	return "oc_" + name, nil
}

func (m *mockRemote) SendMessage(ctx context.Context, channelID, text, dedupeKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	if err, ok := m.failText[text]; ok {
		return err
	}
	m.sent = append(m.sent, sentMessage{channelID, text, dedupeKey})
	return nil
}

func (m *mockRemote) SendDirect(ctx context.Context, userID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.direct = append(m.direct, sentMessage{channelID: userID, text: text})
	return nil
}

func (m *mockRemote) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, s := range m.sent {
		out = append(out, s.text)
	}
	return out
}

type mockLocal struct {
	active       []string
	activeErr    error
	since        time.Time
	participants map[string][]string
	names        map[string]string
	messages     map[string][]domain.LocalMessage
	fetchErr     error
}

func (m *mockLocal) ListActiveConversations(ctx context.Context, since time.Time) ([]string, error) {
	m.since = since
	return m.active, m.activeErr
}

func (m *mockLocal) ListParticipants(ctx context.Context, conversationID string) ([]string, error) {
	return m.participants[conversationID], nil
}

func (m *mockLocal) ResolveDisplayName(ctx context.Context, participantID string) (string, error) {
	if name, ok := m.names[participantID]; ok {
		return name, nil
	}
	return participantID, nil
}

func (m *mockLocal) FetchMessages(ctx context.Context, conversationID string, after int64) ([]domain.LocalMessage, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	var out []domain.LocalMessage
	for _, msg := range m.messages[conversationID] {
		if msg.Ordinal > after {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockLocal) LatestOrdinal(ctx context.Context, conversationID string) (int64, error) {
	var latest int64
	for _, msg := range m.messages[conversationID] {
		if msg.Ordinal > latest {
			latest = msg.Ordinal
		}
	}
	return latest, nil
}

type mockInjector struct {
	mu       sync.Mutex
	injected []string
	err      error
	inFlight int
	maxSeen  int
	delay    time.Duration
}

func (m *mockInjector) InjectMessage(ctx context.Context, conversationID, text string) error {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxSeen {
		m.maxSeen = m.inFlight
	}
	m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
	if m.err != nil {
		return m.err
	}
	m.injected = append(m.injected, conversationID+"|"+text)
	return nil
}

type mockStateRepo struct {
	saves   int
	saved   *domain.RelayState
	saveErr error
}

func (m *mockStateRepo) Load(ctx context.Context) (*domain.RelayState, error) {
	if m.saved == nil {
		return domain.NewRelayState(), nil
	}
	return m.saved.Clone(), nil
}

func (m *mockStateRepo) Save(ctx context.Context, st *domain.RelayState) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.saved = st.Clone()
	return nil
}

func (m *mockStateRepo) Watch(ctx context.Context, onChange func()) error {
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockStateRepo) Close() error { return nil }

var errBoom = errors.New("boom")

func noSleep(ctx context.Context, d time.Duration) error { return nil }

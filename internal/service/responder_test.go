package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
	"github.com/devricklin/imessage-feishu-relay/internal/biz/usecase"
)

// blockingInjector records injections; texts listed in hold wait for release
type blockingInjector struct {
	mu       sync.Mutex
	injected []string
	hold     map[string]chan struct{}
	started  chan string
}

func (m *blockingInjector) InjectMessage(ctx context.Context, conversationID, text string) error {
	if m.started != nil {
		m.started <- text
	}
	if ch, ok := m.hold[text]; ok {
		<-ch
	}
	m.mu.Lock()
	m.injected = append(m.injected, conversationID+"|"+text)
	m.mu.Unlock()
	return nil
}

func (m *blockingInjector) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.injected...)
}

func routedState(routes map[string]string) *domain.RelayState {
	st := domain.NewRelayState()
	for channel, id := range routes {
		rec, _ := st.EnsureConversation(id, time.Now())
		rec.RemoteChannelID = channel
	}
	return st
}

func newResponder(state *mockState, injector *blockingInjector) *ResponderService {
	inbound := usecase.NewInboundUsecase(injector, &mockRemote{}, usecase.InboundConfig{}, zerolog.Nop())
	return NewResponderService(state, inbound, zerolog.Nop())
}

func (s *ResponderService) queueCount() int {
	s.queuesMu.Lock()
	defer s.queuesMu.Unlock()
	return len(s.queues)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResponder_StartLoadsRoutes(t *testing.T) {
	state := &mockState{st: routedState(map[string]string{"oc_1": "conv-1"}), watch: make(chan struct{})}
	svc := newResponder(state, &blockingInjector{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if routes := svc.Routes(); routes["oc_1"] != "conv-1" {
		t.Errorf("Expected route for oc_1, got %v", routes)
	}
}

func TestResponder_StartFailsWithoutState(t *testing.T) {
	state := &mockState{loadErr: errBoom}
	svc := newResponder(state, &blockingInjector{})

	if err := svc.Start(context.Background()); err == nil {
		t.Error("Expected initial load failure to be returned")
	}
}

func TestResponder_ReloadOnChange(t *testing.T) {
	state := &mockState{st: routedState(map[string]string{"oc_1": "conv-1"}), watch: make(chan struct{})}
	svc := newResponder(state, &blockingInjector{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	state.set(routedState(map[string]string{"oc_1": "conv-1", "oc_2": "conv-2"}))
	state.watch <- struct{}{}
	waitFor(t, "reload", func() bool { return svc.Routes()["oc_2"] == "conv-2" })
}

func TestResponder_ReloadFailureKeepsRoutes(t *testing.T) {
	state := &mockState{st: routedState(map[string]string{"oc_1": "conv-1"})}
	svc := newResponder(state, &blockingInjector{})
	if err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	state.setLoadErr(errBoom)
	if err := svc.Reload(context.Background()); err == nil {
		t.Fatal("Expected reload error")
	}
	if svc.Routes()["oc_1"] != "conv-1" {
		t.Error("Expected previous routes to stay authoritative")
	}
}

func TestResponder_HandleMessage(t *testing.T) {
	state := &mockState{st: routedState(map[string]string{"oc_1": "conv-1"})}
	injector := &blockingInjector{}
	svc := newResponder(state, injector)
	svc.Reload(context.Background())

	outcome, err := svc.HandleMessage(context.Background(), domain.InboundMessage{ChannelID: "oc_1", AuthorID: "ou_a", Text: "hi"})
	if err != nil || outcome != usecase.InboundInjected {
		t.Fatalf("Expected injected, got %s (%v)", outcome, err)
	}
	if got := injector.snapshot(); len(got) != 1 || got[0] != "conv-1|hi" {
		t.Errorf("Unexpected injections: %v", got)
	}
}

func TestResponder_DispatchOrdering(t *testing.T) {
	state := &mockState{st: routedState(map[string]string{"oc_1": "conv-1", "oc_2": "conv-2"}), watch: make(chan struct{})}
	release := make(chan struct{})
	injector := &blockingInjector{
		hold:    map[string]chan struct{}{"first": release},
		started: make(chan string, 8),
	}
	svc := newResponder(state, injector)
	ctx, cancel := context.WithCancel(context.Background())
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	svc.Dispatch(domain.InboundMessage{ChannelID: "oc_1", AuthorID: "ou_a", Text: "first"})
	if got := <-injector.started; got != "first" {
		t.Fatalf("Expected first message started, got %q", got)
	}
	svc.Dispatch(domain.InboundMessage{ChannelID: "oc_1", AuthorID: "ou_a", Text: "second"})
	svc.Dispatch(domain.InboundMessage{ChannelID: "oc_2", AuthorID: "ou_b", Text: "other"})

	// The other channel proceeds while oc_1 is blocked
	waitFor(t, "other channel", func() bool { return len(injector.snapshot()) == 1 })
	if got := injector.snapshot(); got[0] != "conv-2|other" {
		t.Fatalf("Expected other channel injected first, got %v", got)
	}

	close(release)
	waitFor(t, "all injections", func() bool { return len(injector.snapshot()) == 3 })
	got := injector.snapshot()
	if got[1] != "conv-1|first" || got[2] != "conv-1|second" {
		t.Errorf("Expected oc_1 messages in arrival order, got %v", got)
	}

	cancel()
	svc.Wait()
}

func TestResponder_DispatchUnmappedStartsNoWorker(t *testing.T) {
	state := &mockState{st: routedState(map[string]string{"oc_1": "conv-1"}), watch: make(chan struct{})}
	injector := &blockingInjector{}
	remote := &mockRemote{}
	inbound := usecase.NewInboundUsecase(injector, remote, usecase.InboundConfig{AllowedAuthors: []string{"ou_a"}}, zerolog.Nop())
	svc := NewResponderService(state, inbound, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	svc.Dispatch(domain.InboundMessage{ChannelID: "oc_group", AuthorID: "ou_a", Text: "not bridged"})
	svc.Dispatch(domain.InboundMessage{ChannelID: "oc_p2p", AuthorID: "ou_stranger", Text: "hello"})
	if n := svc.queueCount(); n != 0 {
		t.Errorf("Expected no workers for unmapped channels, got %d", n)
	}
	waitFor(t, "unauthorized reply", func() bool {
		remote.mu.Lock()
		defer remote.mu.Unlock()
		return len(remote.direct) == 1
	})

	svc.Dispatch(domain.InboundMessage{ChannelID: "oc_1", AuthorID: "ou_a", Text: "bridged"})
	waitFor(t, "injection", func() bool { return len(injector.snapshot()) == 1 })
	if n := svc.queueCount(); n != 1 {
		t.Errorf("Expected one worker for the mapped channel, got %d", n)
	}
	if got := injector.snapshot(); got[0] != "conv-1|bridged" {
		t.Errorf("Unexpected injections: %v", got)
	}

	cancel()
	svc.Wait()
}

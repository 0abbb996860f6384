package usecase

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
)

var testRoutes = map[string]string{"oc_1": "conv-1"}

func inbound(text string) domain.InboundMessage {
	return domain.InboundMessage{MessageID: "om_1", ChannelID: "oc_1", AuthorID: "ou_alice", Text: text}
}

func TestInbound_InjectsMappedMessage(t *testing.T) {
	injector := &mockInjector{}
	remote := &mockRemote{}
	uc := NewInboundUsecase(injector, remote, InboundConfig{}, zerolog.Nop())

	outcome, err := uc.Handle(context.Background(), testRoutes, inbound("hello"))
	if err != nil || outcome != InboundInjected {
		t.Fatalf("Expected injected, got %s (%v)", outcome, err)
	}
	if len(injector.injected) != 1 || injector.injected[0] != "conv-1|hello" {
		t.Errorf("Unexpected injections: %v", injector.injected)
	}
	if len(remote.sent) != 0 || len(remote.direct) != 0 {
		t.Error("Expected no remote traffic on success")
	}
}

func TestInbound_DropsOwnMessages(t *testing.T) {
	injector := &mockInjector{}
	uc := NewInboundUsecase(injector, &mockRemote{}, InboundConfig{}, zerolog.Nop())
	msg := inbound("echo")
	msg.FromSelf = true

	if outcome, _ := uc.Handle(context.Background(), testRoutes, msg); outcome != InboundSelf {
		t.Errorf("Expected self, got %s", outcome)
	}
	if len(injector.injected) != 0 {
		t.Error("Expected nothing injected")
	}
}

func TestInbound_UnauthorizedAuthorNotified(t *testing.T) {
	injector := &mockInjector{}
	remote := &mockRemote{}
	uc := NewInboundUsecase(injector, remote, InboundConfig{AllowedAuthors: []string{"ou_bob"}}, zerolog.Nop())

	outcome, _ := uc.Handle(context.Background(), testRoutes, inbound("let me in"))
	if outcome != InboundUnauthorized {
		t.Fatalf("Expected unauthorized, got %s", outcome)
	}
	if len(remote.direct) != 1 || remote.direct[0].channelID != "ou_alice" || remote.direct[0].text != UnauthorizedReply {
		t.Errorf("Expected direct reply to author, got %+v", remote.direct)
	}
	if len(injector.injected) != 0 {
		t.Error("Expected nothing injected")
	}
}

func TestInbound_UnmappedChannelDroppedSilently(t *testing.T) {
	injector := &mockInjector{}
	remote := &mockRemote{}
	uc := NewInboundUsecase(injector, remote, InboundConfig{}, zerolog.Nop())
	msg := inbound("hi")
	msg.ChannelID = "oc_unknown"

	if outcome, _ := uc.Handle(context.Background(), testRoutes, msg); outcome != InboundUnmapped {
		t.Errorf("Expected unmapped, got %s", outcome)
	}
	if len(injector.injected) != 0 || len(remote.sent) != 0 {
		t.Error("Expected silent drop")
	}
}

func TestInbound_InjectionFailureReportedOnce(t *testing.T) {
	injector := &mockInjector{err: errBoom}
	remote := &mockRemote{}
	uc := NewInboundUsecase(injector, remote, InboundConfig{}, zerolog.Nop())

	outcome, err := uc.Handle(context.Background(), testRoutes, inbound("hello"))
	if outcome != InboundFailed || err == nil {
		t.Fatalf("Expected failed with error, got %s (%v)", outcome, err)
	}
	texts := remote.texts()
	if len(texts) != 1 || texts[0] != InjectionFailedNotice || remote.sent[0].channelID != "oc_1" {
		t.Errorf("Expected one error notice in the channel, got %+v", remote.sent)
	}
}

func TestInbound_EmptyText(t *testing.T) {
	injector := &mockInjector{}
	uc := NewInboundUsecase(injector, &mockRemote{}, InboundConfig{}, zerolog.Nop())

	if outcome, _ := uc.Handle(context.Background(), testRoutes, inbound("  ")); outcome != InboundEmpty {
		t.Errorf("Expected empty, got %s", outcome)
	}
}

package server

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
	"github.com/devricklin/imessage-feishu-relay/internal/infra/feishu"
)

type mockDispatcher struct {
	msgs []domain.InboundMessage
}

func (m *mockDispatcher) Dispatch(msg domain.InboundMessage) {
	m.msgs = append(m.msgs, msg)
}

func TestFeishuServer_DeduplicatesEvents(t *testing.T) {
	d := &mockDispatcher{}
	s := NewFeishuServer(nil, d, zerolog.Nop())
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	msg := &feishu.Message{ChatID: "oc_1", MsgID: "om_1", Content: "hi", SenderID: "ou_a", SenderType: "user"}
	s.handleMessage(msg)
	s.handleMessage(msg)
	if len(d.msgs) != 1 {
		t.Fatalf("Expected 1 dispatch, got %d", len(d.msgs))
	}
	if d.msgs[0].ChannelID != "oc_1" || d.msgs[0].Text != "hi" || d.msgs[0].FromSelf {
		t.Errorf("Unexpected inbound message: %+v", d.msgs[0])
	}

	now = now.Add(seenTTL + time.Second)
	s.handleMessage(msg)
	if len(d.msgs) != 2 {
		t.Errorf("Expected redelivery after expiry, got %d dispatches", len(d.msgs))
	}
}

func TestFeishuServer_MarksAppMessages(t *testing.T) {
	d := &mockDispatcher{}
	s := NewFeishuServer(nil, d, zerolog.Nop())

	s.handleMessage(&feishu.Message{ChatID: "oc_1", MsgID: "om_2", Content: "[x]", SenderType: "app"})
	if len(d.msgs) != 1 || !d.msgs[0].FromSelf {
		t.Errorf("Expected app message flagged as self, got %+v", d.msgs)
	}
}

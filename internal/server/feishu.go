package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
	"github.com/devricklin/imessage-feishu-relay/internal/infra/feishu"
)

// seenTTL is how long a delivered event id is remembered; Feishu redelivers unacked events
const seenTTL = 5 * time.Minute

// Dispatcher accepts inbound messages for asynchronous handling
type Dispatcher interface {
	Dispatch(msg domain.InboundMessage)
}

// FeishuServer receives Feishu events and hands them to the responder
type FeishuServer struct {
	client     *feishu.Client
	dispatcher Dispatcher
	log        zerolog.Logger
	now        func() time.Time

	// Message deduplication cache
	seenMsgsMu sync.Mutex
	seenMsgs   map[string]time.Time // msgID -> timestamp
}

// NewFeishuServer creates a new Feishu server
func NewFeishuServer(client *feishu.Client, dispatcher Dispatcher, log zerolog.Logger) *FeishuServer {
	return &FeishuServer{
		client:     client,
		dispatcher: dispatcher,
		log:        log,
		now:        time.Now,
		seenMsgs:   make(map[string]time.Time),
	}
}

// Start registers the handler and blocks on the event stream
func (s *FeishuServer) Start(ctx context.Context) error {
	s.client.OnMessage(s.handleMessage)
	return s.client.Start(ctx)
}

func (s *FeishuServer) handleMessage(msg *feishu.Message) {
	if !s.markMessageSeen(msg.MsgID) {
		s.log.Debug().Str("message_id", msg.MsgID).Msg("duplicate event ignored")
		return
	}
	s.log.Debug().
		Str("channel_id", msg.ChatID).
		Str("message_id", msg.MsgID).
		Str("msg_type", msg.MsgType).
		Msg("event received")
	s.dispatcher.Dispatch(msg.Inbound())
}

// markMessageSeen records msgID and reports whether it was new.
// Expired entries are swept on every call.
func (s *FeishuServer) markMessageSeen(msgID string) bool {
	s.seenMsgsMu.Lock()
	defer s.seenMsgsMu.Unlock()

	now := s.now()
	cutoff := now.Add(-seenTTL)
	for id, ts := range s.seenMsgs {
		if ts.Before(cutoff) {
			delete(s.seenMsgs, id)
		}
	}

	if _, exists := s.seenMsgs[msgID]; exists {
		return false
	}
	s.seenMsgs[msgID] = now
	return true
}

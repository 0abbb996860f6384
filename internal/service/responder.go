package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
	"github.com/devricklin/imessage-feishu-relay/internal/biz/repo"
	"github.com/devricklin/imessage-feishu-relay/internal/biz/usecase"
)

// DefaultQueueSize is the per-channel inbound backlog before Dispatch blocks
const DefaultQueueSize = 64

// ResponderService relays remote messages into local conversations.
// It keeps the channel routing table in memory and refreshes it whenever the
// shared state changes. Messages of one channel are handled in arrival order;
// distinct channels are handled concurrently.
type ResponderService struct {
	state   repo.StateRepo
	inbound *usecase.InboundUsecase
	log     zerolog.Logger

	routesMu sync.RWMutex
	routes   map[string]string // channel id -> conversation id

	queuesMu  sync.Mutex
	queues    map[string]chan domain.InboundMessage
	queueSize int
	ctx       context.Context
	wg        sync.WaitGroup
}

// NewResponderService creates a new responder service
func NewResponderService(state repo.StateRepo, inbound *usecase.InboundUsecase, log zerolog.Logger) *ResponderService {
	return &ResponderService{
		state:     state,
		inbound:   inbound,
		log:       log,
		routes:    make(map[string]string),
		queues:    make(map[string]chan domain.InboundMessage),
		queueSize: DefaultQueueSize,
		ctx:       context.Background(),
	}
}

// Start loads the routing table and watches the state for changes.
// The initial load must succeed; later reload failures keep the previous table.
func (s *ResponderService) Start(ctx context.Context) error {
	st, err := s.state.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	s.setRoutes(st.ChannelIndex())

	s.queuesMu.Lock()
	s.ctx = ctx
	s.queuesMu.Unlock()

	go func() {
		err := s.state.Watch(ctx, func() {
			if err := s.Reload(ctx); err != nil {
				s.log.Error().Err(err).Msg("state reload failed, keeping previous routes")
			}
		})
		if err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("state watch stopped")
		}
	}()
	return nil
}

// Reload re-reads the state and swaps in the new routing table
func (s *ResponderService) Reload(ctx context.Context) error {
	st, err := s.state.Load(ctx)
	if err != nil {
		return err
	}
	routes := st.ChannelIndex()
	s.setRoutes(routes)
	s.log.Debug().Int("routes", len(routes)).Msg("routes reloaded")
	return nil
}

// Routes returns a copy of the current routing table
func (s *ResponderService) Routes() map[string]string {
	s.routesMu.RLock()
	defer s.routesMu.RUnlock()
	c := make(map[string]string, len(s.routes))
	for k, v := range s.routes {
		c[k] = v
	}
	return c
}

func (s *ResponderService) setRoutes(routes map[string]string) {
	s.routesMu.Lock()
	s.routes = routes
	s.routesMu.Unlock()
}

// HandleMessage relays msg synchronously using the current routing table
func (s *ResponderService) HandleMessage(ctx context.Context, msg domain.InboundMessage) (usecase.InboundOutcome, error) {
	s.routesMu.RLock()
	routes := s.routes
	s.routesMu.RUnlock()
	return s.inbound.Handle(ctx, routes, msg)
}

// Dispatch queues msg on its channel's worker and returns without waiting for it.
// Channels without a route get no worker: their messages are handled once and dropped.
func (s *ResponderService) Dispatch(msg domain.InboundMessage) {
	s.routesMu.RLock()
	_, routed := s.routes[msg.ChannelID]
	s.routesMu.RUnlock()

	s.queuesMu.Lock()
	ctx := s.ctx
	q, ok := s.queues[msg.ChannelID]
	if !ok && !routed {
		s.wg.Add(1)
		s.queuesMu.Unlock()
		go func() {
			defer s.wg.Done()
			s.handle(ctx, msg.ChannelID, msg)
		}()
		return
	}
	if !ok {
		q = make(chan domain.InboundMessage, s.queueSize)
		s.queues[msg.ChannelID] = q
		s.wg.Add(1)
		go s.worker(ctx, msg.ChannelID, q)
	}
	s.queuesMu.Unlock()

	select {
	case q <- msg:
	case <-ctx.Done():
		s.log.Warn().Str("channel_id", msg.ChannelID).Str("message_id", msg.MessageID).Msg("dropped message on shutdown")
	}
}

func (s *ResponderService) worker(ctx context.Context, channelID string, q <-chan domain.InboundMessage) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q:
			s.handle(ctx, channelID, msg)
		}
	}
}

func (s *ResponderService) handle(ctx context.Context, channelID string, msg domain.InboundMessage) {
	outcome, err := s.HandleMessage(ctx, msg)
	if err != nil {
		return
	}
	s.log.Debug().
		Str("channel_id", channelID).
		Str("message_id", msg.MessageID).
		Str("outcome", string(outcome)).
		Msg("inbound message handled")
}

// Wait blocks until every channel worker has exited after ctx is done
func (s *ResponderService) Wait() {
	s.wg.Wait()
}

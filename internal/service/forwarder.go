package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
	"github.com/devricklin/imessage-feishu-relay/internal/biz/repo"
	"github.com/devricklin/imessage-feishu-relay/internal/biz/usecase"
	"github.com/devricklin/imessage-feishu-relay/internal/infra/retry"
)

// DefaultLoopFloor is the shortest sleep between loop iterations
const DefaultLoopFloor = 100 * time.Millisecond

// ForwarderService drives the outbound relay: one iteration runs discovery when due,
// polls every due conversation, persists state once and sleeps until the soonest
// conversation is due again.
type ForwarderService struct {
	state     repo.StateRepo
	discovery *usecase.DiscoveryUsecase
	relay     *usecase.RelayUsecase
	floor     time.Duration
	log       zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	st *domain.RelayState

	// Archive requests from outside the loop, applied at the start of the next iteration
	pendingMu sync.Mutex
	pending   []string

	// Published copy of st for readers outside the loop
	snapMu   sync.RWMutex
	snapshot *domain.RelayState
}

// NewForwarderService creates a new forwarder service
func NewForwarderService(
	state repo.StateRepo,
	discovery *usecase.DiscoveryUsecase,
	relay *usecase.RelayUsecase,
	floor time.Duration,
	log zerolog.Logger,
) *ForwarderService {
	if floor <= 0 {
		floor = DefaultLoopFloor
	}
	return &ForwarderService{
		state:     state,
		discovery: discovery,
		relay:     relay,
		floor:     floor,
		log:       log,
		now:       time.Now,
		sleep:     retry.Wait,
	}
}

// Init loads the persisted state
func (s *ForwarderService) Init(ctx context.Context) error {
	st, err := s.state.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	s.st = st
	s.publish()
	s.log.Info().Int("conversations", len(st.Conversations)).Msg("state loaded")
	return nil
}

// RunOnce runs a single iteration at now and returns how long to sleep before the next.
// A returned error is fatal: the state could not be persisted.
func (s *ForwarderService) RunOnce(ctx context.Context, now time.Time) (time.Duration, error) {
	if s.st == nil {
		if err := s.Init(ctx); err != nil {
			return 0, err
		}
	}
	st := s.st
	s.applyArchives(st, now)

	if s.discovery.Due(st, now) {
		result, err := s.discovery.Scan(ctx, st, now)
		if err != nil {
			return 0, err
		}
		if result.Provisioned > 0 || result.Failed > 0 {
			s.log.Info().
				Int("seen", result.Seen).
				Int("provisioned", result.Provisioned).
				Int("failed", result.Failed).
				Msg("discovery scan finished")
		}
	}

	var soonest time.Time
	track := func(t time.Time) {
		if soonest.IsZero() || t.Before(soonest) {
			soonest = t
		}
	}

	for _, id := range st.ConversationIDs() {
		rec, _ := st.Conversation(id)
		if !rec.Mapped() || !s.discovery.Allowed(id) {
			continue
		}
		if !rec.IsDue(now) {
			track(rec.NextDue())
			continue
		}

		if _, err := s.relay.Poll(ctx, st, rec, now); err != nil {
			s.log.Warn().Err(err).Str("conversation_id", id).Msg("poll failed")
		}
		if _, err := s.relay.CheckNames(ctx, st, rec, now); err != nil {
			s.log.Warn().Err(err).Str("conversation_id", id).Msg("name check failed")
		}
		track(rec.NextDue())
	}

	if err := s.state.Save(ctx, st); err != nil {
		return 0, fmt.Errorf("failed to persist state: %w", err)
	}
	s.publish()

	if next := s.discovery.NextDue(st); soonest.IsZero() || next.Before(soonest) {
		soonest = next
	}
	wait := soonest.Sub(now)
	if wait < s.floor {
		wait = s.floor
	}
	return wait, nil
}

// Run loops until ctx is done or an iteration fails fatally
func (s *ForwarderService) Run(ctx context.Context) error {
	if s.st == nil {
		if err := s.Init(ctx); err != nil {
			return err
		}
	}
	for {
		wait, err := s.RunOnce(ctx, s.now())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := s.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// Archive queues id for archival. It is applied and persisted by the next iteration.
func (s *ForwarderService) Archive(id string) {
	s.pendingMu.Lock()
	s.pending = append(s.pending, id)
	s.pendingMu.Unlock()
}

func (s *ForwarderService) applyArchives(st *domain.RelayState, now time.Time) {
	s.pendingMu.Lock()
	ids := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	for _, id := range ids {
		if st.Archive(id, now) {
			s.log.Info().Str("conversation_id", id).Msg("conversation archived")
		} else {
			s.log.Warn().Str("conversation_id", id).Msg("archive requested for unknown conversation")
		}
	}
}

// Snapshot returns a copy of the state as of the last completed iteration
func (s *ForwarderService) Snapshot() *domain.RelayState {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	if s.snapshot == nil {
		return domain.NewRelayState()
	}
	return s.snapshot.Clone()
}

func (s *ForwarderService) publish() {
	c := s.st.Clone()
	s.snapMu.Lock()
	s.snapshot = c
	s.snapMu.Unlock()
}

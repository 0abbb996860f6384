package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
	"github.com/devricklin/imessage-feishu-relay/internal/biz/repo"
)

// DiscoveryConfig represents discovery scanner configuration
type DiscoveryConfig struct {
	Interval time.Duration
	Overlap  time.Duration

	// AllowedConversations restricts bridging; empty allows every conversation
	AllowedConversations []string

	// ChannelParent is passed to CreateChannel (the owner open_id on Feishu)
	ChannelParent     string
	ChannelNameMaxLen int

	// BackfillOnProvision starts the cursor at 0 instead of the latest message
	BackfillOnProvision bool
}

// DefaultDiscoveryConfig returns default discovery configuration
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		Interval:          15 * time.Second,
		Overlap:           24 * time.Hour,
		ChannelNameMaxLen: domain.DefaultChannelNameMaxLen,
	}
}

// ScanResult summarizes one discovery scan
type ScanResult struct {
	Seen        int
	Created     int
	Provisioned int
	Failed      int
}

// DiscoveryUsecase finds active local conversations and provisions remote channels for them
type DiscoveryUsecase struct {
	local   repo.LocalStore
	remote  repo.RemoteRepo
	state   repo.StateRepo
	cfg     DiscoveryConfig
	allowed map[string]struct{}
	log     zerolog.Logger
}

// NewDiscoveryUsecase creates a new discovery usecase.
// remote should be the delivery usecase so provisioning absorbs rate limits.
func NewDiscoveryUsecase(local repo.LocalStore, remote repo.RemoteRepo, state repo.StateRepo, cfg DiscoveryConfig, log zerolog.Logger) *DiscoveryUsecase {
	allowed := make(map[string]struct{}, len(cfg.AllowedConversations))
	for _, id := range cfg.AllowedConversations {
		if id != "" {
			allowed[id] = struct{}{}
		}
	}
	return &DiscoveryUsecase{
		local:   local,
		remote:  remote,
		state:   state,
		cfg:     cfg,
		allowed: allowed,
		log:     log,
	}
}

// Allowed reports whether a conversation passes the allow-list
func (uc *DiscoveryUsecase) Allowed(conversationID string) bool {
	if len(uc.allowed) == 0 {
		return true
	}
	_, ok := uc.allowed[conversationID]
	return ok
}

// NextDue returns when the next scan should run; zero means immediately
func (uc *DiscoveryUsecase) NextDue(st *domain.RelayState) time.Time {
	if st.LastDiscoveryScanAt.IsZero() {
		return time.Time{}
	}
	return st.LastDiscoveryScanAt.Add(uc.cfg.Interval)
}

// Due reports whether a scan should run at now
func (uc *DiscoveryUsecase) Due(st *domain.RelayState, now time.Time) bool {
	return !now.Before(uc.NextDue(st))
}

// Scan runs one discovery pass over st. Each unmapped conversation gets exactly one
// provisioning attempt. The only error returned is a failure to persist state.
func (uc *DiscoveryUsecase) Scan(ctx context.Context, st *domain.RelayState, now time.Time) (*ScanResult, error) {
	since := now.Add(-uc.cfg.Overlap)
	if !st.LastDiscoveryScanAt.IsZero() {
		since = st.LastDiscoveryScanAt.Add(-uc.cfg.Overlap)
	}
	// Recorded even on failure; the overlap window covers what a failed listing missed.
	defer func() { st.LastDiscoveryScanAt = now }()

	ids, err := uc.local.ListActiveConversations(ctx, since)
	if err != nil {
		uc.log.Error().Err(err).Msg("failed to list active conversations")
		return &ScanResult{}, nil
	}

	result := &ScanResult{}
	for _, id := range ids {
		if !uc.Allowed(id) || st.IsArchived(id) {
			continue
		}
		result.Seen++

		rec, created := st.EnsureConversation(id, now)
		if created {
			result.Created++
			uc.log.Info().Str("conversation_id", id).Msg("conversation discovered")
		}
		if rec.Mapped() {
			continue
		}

		ok, err := uc.provision(ctx, st, rec)
		if err != nil {
			return result, err
		}
		if ok {
			result.Provisioned++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

// provision creates the remote channel for rec. It returns an error only when
// the new mapping cannot be persisted.
func (uc *DiscoveryUsecase) provision(ctx context.Context, st *domain.RelayState, rec *domain.ConversationRecord) (bool, error) {
	log := uc.log.With().Str("conversation_id", rec.ConversationID).Logger()

	participants, err := uc.local.ListParticipants(ctx, rec.ConversationID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list participants")
		return false, nil
	}
	name := domain.ChannelName(rec.ConversationID, participants, uc.cfg.ChannelNameMaxLen)

	channelID, err := uc.remote.CreateChannel(ctx, uc.cfg.ChannelParent, name)
	if err != nil {
		log.Error().Err(err).Str("channel_name", name).Msg("failed to provision channel")
		return false, nil
	}
	rec.RemoteChannelID = channelID
	initCursor(ctx, uc.local, st, rec, uc.cfg.BackfillOnProvision, uc.log)

	if err := uc.state.Save(ctx, st); err != nil {
		return false, fmt.Errorf("failed to persist channel mapping: %w", err)
	}
	log.Info().Str("channel_id", channelID).Str("channel_name", name).Int64("cursor", rec.Cursor).Msg("channel provisioned")

	if err := uc.remote.SendMessage(ctx, channelID, domain.WelcomeNotice(participants), ""); err != nil {
		log.Warn().Err(err).Msg("failed to send welcome notice")
	}
	return true, nil
}

// initCursor performs the first-time cursor initialization. If the latest ordinal
// is unavailable the cursor stays uninitialized and the relay loop retries.
func initCursor(ctx context.Context, local repo.LocalStore, st *domain.RelayState, rec *domain.ConversationRecord, backfill bool, log zerolog.Logger) bool {
	if rec.CursorInitialized {
		return true
	}
	var start int64
	if !backfill {
		latest, err := local.LatestOrdinal(ctx, rec.ConversationID)
		if err != nil {
			log.Warn().Err(err).Str("conversation_id", rec.ConversationID).Msg("failed to read latest ordinal")
			return false
		}
		start = latest
	}
	if err := st.Advance(rec.ConversationID, start); err != nil {
		log.Warn().Err(err).Str("conversation_id", rec.ConversationID).Msg("failed to initialize cursor")
		return false
	}
	return true
}

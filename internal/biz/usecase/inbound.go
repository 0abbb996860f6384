package usecase

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
	"github.com/devricklin/imessage-feishu-relay/internal/biz/repo"
)

const (
	// UnauthorizedReply is sent directly to authors outside the allow-list
	UnauthorizedReply = "You are not authorized to use this bot."
	// InjectionFailedNotice is posted into the channel when local injection fails
	InjectionFailedNotice = "**Error:** Failed to send iMessage from bot."
)

// InboundOutcome describes what happened to an inbound message
type InboundOutcome string

const (
	InboundSelf         InboundOutcome = "self"
	InboundUnauthorized InboundOutcome = "unauthorized"
	InboundUnmapped     InboundOutcome = "unmapped"
	InboundEmpty        InboundOutcome = "empty"
	InboundInjected     InboundOutcome = "injected"
	InboundFailed       InboundOutcome = "failed"
)

// InboundConfig represents inbound relay configuration
type InboundConfig struct {
	// AllowedAuthors restricts who may write into bridged chats; empty allows everyone
	AllowedAuthors []string
}

// InboundUsecase relays remote messages into the local conversation they are bridged to.
// Failures are reported once to the channel and never retried.
type InboundUsecase struct {
	injector repo.Injector
	remote   repo.RemoteRepo
	allowed  map[string]struct{}
	log      zerolog.Logger
}

// NewInboundUsecase creates a new inbound usecase
func NewInboundUsecase(injector repo.Injector, remote repo.RemoteRepo, cfg InboundConfig, log zerolog.Logger) *InboundUsecase {
	allowed := make(map[string]struct{}, len(cfg.AllowedAuthors))
	for _, id := range cfg.AllowedAuthors {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = struct{}{}
		}
	}
	return &InboundUsecase{
		injector: injector,
		remote:   remote,
		allowed:  allowed,
		log:      log,
	}
}

// Authorized reports whether author may relay messages
func (uc *InboundUsecase) Authorized(authorID string) bool {
	if len(uc.allowed) == 0 {
		return true
	}
	_, ok := uc.allowed[authorID]
	return ok
}

// Handle relays msg using routes, the channel id -> conversation id index.
// The error is non-nil only for injection failures.
func (uc *InboundUsecase) Handle(ctx context.Context, routes map[string]string, msg domain.InboundMessage) (InboundOutcome, error) {
	log := uc.log.With().Str("channel_id", msg.ChannelID).Str("message_id", msg.MessageID).Logger()

	if msg.FromSelf {
		return InboundSelf, nil
	}
	if !uc.Authorized(msg.AuthorID) {
		log.Warn().Str("author_id", msg.AuthorID).Msg("unauthorized author")
		if err := uc.remote.SendDirect(ctx, msg.AuthorID, UnauthorizedReply); err != nil {
			log.Warn().Err(err).Msg("failed to notify unauthorized author")
		}
		return InboundUnauthorized, nil
	}

	conversationID, ok := routes[msg.ChannelID]
	if !ok {
		return InboundUnmapped, nil
	}
	if strings.TrimSpace(msg.Text) == "" {
		return InboundEmpty, nil
	}

	if err := uc.injector.InjectMessage(ctx, conversationID, msg.Text); err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to inject message")
		if nerr := uc.remote.SendMessage(ctx, msg.ChannelID, InjectionFailedNotice, ""); nerr != nil {
			log.Warn().Err(nerr).Msg("failed to send error notice")
		}
		return InboundFailed, err
	}

	log.Info().Str("conversation_id", conversationID).Msg("message injected")
	return InboundInjected, nil
}

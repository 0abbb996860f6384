package usecase

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
	"github.com/devricklin/imessage-feishu-relay/internal/biz/repo"
)

// RelayConfig represents outbound relay configuration
type RelayConfig struct {
	Activity domain.ActivityConfig

	// SkipOwnMessages drops the account owner's messages, including text injected inbound.
	// Off by default.
	SkipOwnMessages bool

	// MaxDeliveryAttempts is how many polls a failing message is retried before it is skipped
	MaxDeliveryAttempts int

	BackfillOnProvision bool
	Location            *time.Location
}

// DefaultRelayConfig returns default relay configuration
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Activity:            domain.DefaultActivityConfig(),
		SkipOwnMessages:     false,
		MaxDeliveryAttempts: 3,
		Location:            time.Local,
	}
}

// PollResult summarizes one poll of a conversation
type PollResult struct {
	Fetched   int
	Forwarded int
	Skipped   int
	State     domain.ActivityState
}

// RelayUsecase forwards new local messages of one conversation to its remote channel
type RelayUsecase struct {
	local  repo.LocalStore
	remote repo.RemoteRepo
	cfg    RelayConfig
	log    zerolog.Logger
}

// NewRelayUsecase creates a new relay usecase.
// remote should be the delivery usecase so sends absorb rate limits.
func NewRelayUsecase(local repo.LocalStore, remote repo.RemoteRepo, cfg RelayConfig, log zerolog.Logger) *RelayUsecase {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxDeliveryAttempts <= 0 {
		cfg.MaxDeliveryAttempts = 1
	}
	return &RelayUsecase{local: local, remote: remote, cfg: cfg, log: log}
}

// Activity returns the classifier configuration
func (uc *RelayUsecase) Activity() domain.ActivityConfig {
	return uc.cfg.Activity
}

// Poll fetches messages after the cursor of rec and delivers them in order.
// It mutates rec and st in memory only; the caller persists once per iteration.
// The returned error is informational: the record is always left consistent.
func (uc *RelayUsecase) Poll(ctx context.Context, st *domain.RelayState, rec *domain.ConversationRecord, now time.Time) (*PollResult, error) {
	log := uc.log.With().Str("conversation_id", rec.ConversationID).Logger()
	result := &PollResult{}
	rec.LastPolledAt = now

	defer func() {
		result.State = uc.cfg.Activity.Classify(rec, now)
	}()

	if !initCursor(ctx, uc.local, st, rec, uc.cfg.BackfillOnProvision, log) {
		return result, fmt.Errorf("cursor for %s is not initialized", rec.ConversationID)
	}

	messages, err := uc.local.FetchMessages(ctx, rec.ConversationID, rec.Cursor)
	if err != nil {
		return result, fmt.Errorf("failed to fetch messages: %w", err)
	}
	result.Fetched = len(messages)

	var deliveryErr error
	for i := range messages {
		msg := &messages[i]
		if msg.Ordinal <= rec.Cursor {
			continue
		}

		delivered, err := uc.deliver(ctx, rec, msg)
		if err != nil {
			rec.DeliveryFailures++
			if rec.DeliveryFailures < uc.cfg.MaxDeliveryAttempts {
				log.Warn().Err(err).Int64("ordinal", msg.Ordinal).Int("attempt", rec.DeliveryFailures).Msg("delivery failed, will retry")
				deliveryErr = err
				break
			}
			log.Error().Err(err).Int64("ordinal", msg.Ordinal).Int("attempts", rec.DeliveryFailures).Msg("delivery failed, skipping message")
		}
		rec.DeliveryFailures = 0

		if err := st.Advance(rec.ConversationID, msg.Ordinal); err != nil {
			log.Error().Err(err).Int64("ordinal", msg.Ordinal).Msg("failed to advance cursor")
			break
		}
		rec.ExtendActive(now, uc.cfg.Activity.ActiveGrace)
		rec.RecordTimestamp(msg.Timestamp, uc.cfg.Activity.TimestampCapacity)

		if delivered {
			result.Forwarded++
		} else {
			result.Skipped++
		}
	}

	if result.Forwarded > 0 || result.Skipped > 0 {
		log.Debug().
			Int("forwarded", result.Forwarded).
			Int("skipped", result.Skipped).
			Int64("cursor", rec.Cursor).
			Msg("conversation polled")
	}
	return result, deliveryErr
}

// deliver sends msg unless it carries nothing to relay. It reports whether a send happened.
func (uc *RelayUsecase) deliver(ctx context.Context, rec *domain.ConversationRecord, msg *domain.LocalMessage) (bool, error) {
	if !msg.HasText() {
		return false, nil
	}
	if msg.FromMe && uc.cfg.SkipOwnMessages {
		return false, nil
	}
	key := DedupeKey(rec.ConversationID, msg.Ordinal)
	if err := uc.remote.SendMessage(ctx, rec.RemoteChannelID, msg.Format(uc.cfg.Location), key); err != nil {
		return false, err
	}
	return true, nil
}

// CheckNames re-resolves participant display names when the per-state interval has
// elapsed. The first sighting of a participant is cached without an announcement.
func (uc *RelayUsecase) CheckNames(ctx context.Context, st *domain.RelayState, rec *domain.ConversationRecord, now time.Time) (int, error) {
	if now.Sub(rec.LastNameCheckAt) < domain.NameCheckInterval(rec.ActivityState) {
		return 0, nil
	}
	rec.LastNameCheckAt = now

	participants, err := uc.local.ListParticipants(ctx, rec.ConversationID)
	if err != nil {
		return 0, fmt.Errorf("failed to list participants: %w", err)
	}

	renamed := 0
	for _, p := range participants {
		name, err := uc.local.ResolveDisplayName(ctx, p)
		if err != nil {
			uc.log.Warn().Err(err).Str("participant", p).Msg("failed to resolve display name")
			continue
		}
		cached, seen := st.DisplayNames[p]
		if seen && cached == name {
			continue
		}
		if seen {
			if err := uc.remote.SendMessage(ctx, rec.RemoteChannelID, domain.RenameNotice(p, name), ""); err != nil {
				// Cache stays stale so the change is announced on the next check
				uc.log.Warn().Err(err).Str("participant", p).Msg("failed to announce name change")
				continue
			}
			renamed++
		}
		st.DisplayNames[p] = name
	}
	return renamed, nil
}

// DedupeKey derives the idempotency key for a local message.
// It is stable across restarts so a resend after a crash collapses remotely.
func DedupeKey(conversationID string, ordinal int64) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("imessage:"+conversationID+":"+strconv.FormatInt(ordinal, 10))).String()
}

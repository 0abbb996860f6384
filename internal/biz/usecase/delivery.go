package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
	"github.com/devricklin/imessage-feishu-relay/internal/biz/repo"
	"github.com/devricklin/imessage-feishu-relay/internal/infra/retry"
)

// DeliveryUsecase sends to the remote service, absorbing rate limits.
// A rate-limited call sleeps for the advertised wait and retries the same
// payload with no attempt cap; every other error is returned to the caller.
type DeliveryUsecase struct {
	remote repo.RemoteRepo
	sleep  func(ctx context.Context, d time.Duration) error
	log    zerolog.Logger
}

// NewDeliveryUsecase creates a new delivery usecase
func NewDeliveryUsecase(remote repo.RemoteRepo, log zerolog.Logger) *DeliveryUsecase {
	return &DeliveryUsecase{remote: remote, sleep: retry.Wait, log: log}
}

// SetSleep replaces the wait between rate-limited attempts
func (uc *DeliveryUsecase) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	uc.sleep = sleep
}

// CreateChannel provisions a remote channel
func (uc *DeliveryUsecase) CreateChannel(ctx context.Context, parent, name string) (string, error) {
	var id string
	err := uc.do(ctx, "create_channel", func() error {
		var err error
		id, err = uc.remote.CreateChannel(ctx, parent, name)
		return err
	})
	return id, err
}

// SendMessage sends text to a channel
func (uc *DeliveryUsecase) SendMessage(ctx context.Context, channelID, text, dedupeKey string) error {
	return uc.do(ctx, "send_message", func() error {
		return uc.remote.SendMessage(ctx, channelID, text, dedupeKey)
	})
}

// SendDirect sends text to a user
func (uc *DeliveryUsecase) SendDirect(ctx context.Context, userID, text string) error {
	return uc.do(ctx, "send_direct", func() error {
		return uc.remote.SendDirect(ctx, userID, text)
	})
}

func (uc *DeliveryUsecase) do(ctx context.Context, op string, call func() error) error {
	for attempt := 1; ; attempt++ {
		err := call()
		rl, limited := domain.AsRateLimit(err)
		if !limited {
			return err
		}
		uc.log.Warn().
			Str("op", op).
			Int("attempt", attempt).
			Dur("retry_after", rl.RetryAfter).
			Msg("rate limited")
		if err := uc.sleep(ctx, rl.RetryAfter); err != nil {
			return err
		}
	}
}

package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
)

func TestDelivery_RateLimitRetriesSamePayload(t *testing.T) {
	remote := &mockRemote{sendErrs: []error{&domain.RateLimitError{RetryAfter: 2500 * time.Millisecond}}}
	uc := NewDeliveryUsecase(remote, zerolog.Nop())

	var waits []time.Duration
	uc.SetSleep(func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	})

	if err := uc.SendMessage(context.Background(), "oc_1", "hello", "key"); err != nil {
		t.Fatalf("Expected success after rate limit, got %v", err)
	}
	if len(waits) != 1 || waits[0] != 2500*time.Millisecond {
		t.Errorf("Expected one 2.5s wait, got %v", waits)
	}
	if len(remote.sent) != 1 || remote.sent[0].text != "hello" || remote.sent[0].dedupeKey != "key" {
		t.Errorf("Expected the same payload delivered once, got %+v", remote.sent)
	}
}

func TestDelivery_RateLimitHasNoAttemptCap(t *testing.T) {
	var errs []error
	for i := 0; i < 20; i++ {
		errs = append(errs, &domain.RateLimitError{RetryAfter: time.Second})
	}
	remote := &mockRemote{sendErrs: errs}
	uc := NewDeliveryUsecase(remote, zerolog.Nop())
	uc.SetSleep(noSleep)

	if err := uc.SendMessage(context.Background(), "oc_1", "hello", ""); err != nil {
		t.Fatalf("Expected eventual success, got %v", err)
	}
	if len(remote.sent) != 1 {
		t.Errorf("Expected 1 delivery, got %d", len(remote.sent))
	}
}

func TestDelivery_OtherErrorsSurface(t *testing.T) {
	remoteErr := &domain.RemoteError{Status: 400, Code: 230001, Body: "bad"}
	remote := &mockRemote{sendErrs: []error{remoteErr}}
	uc := NewDeliveryUsecase(remote, zerolog.Nop())
	slept := false
	uc.SetSleep(func(ctx context.Context, d time.Duration) error {
		slept = true
		return nil
	})

	err := uc.SendMessage(context.Background(), "oc_1", "hello", "")
	var got *domain.RemoteError
	if !errors.As(err, &got) || got.Code != 230001 {
		t.Errorf("Expected RemoteError, got %v", err)
	}
	if slept {
		t.Error("Expected no wait for non rate-limit errors")
	}
}

func TestDelivery_CancelledDuringWait(t *testing.T) {
	remote := &mockRemote{createErrs: []error{&domain.RateLimitError{RetryAfter: time.Hour}}}
	uc := NewDeliveryUsecase(remote, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := uc.CreateChannel(ctx, "", "chat-a")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

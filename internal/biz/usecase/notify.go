package usecase

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/repo"
)

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"~", `\~`,
	"`", "\\`",
)

const fatalNoticeTimeout = 30 * time.Second

// NotifierUsecase reports fatal conditions to the operator channel
type NotifierUsecase struct {
	remote      repo.RemoteRepo
	adminChatID string
	log         zerolog.Logger
	exit        func(code int)
}

// NewNotifierUsecase creates a notifier. An empty adminChatID only logs.
func NewNotifierUsecase(remote repo.RemoteRepo, adminChatID string, log zerolog.Logger) *NotifierUsecase {
	return &NotifierUsecase{remote: remote, adminChatID: adminChatID, log: log, exit: os.Exit}
}

// Exit reports a fatal startup or runtime error to the admin channel and
// terminates the process with status 1
func (uc *NotifierUsecase) Exit(msg string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), fatalNoticeTimeout)
	if nerr := uc.Fatal(ctx, msg+": "+err.Error()); nerr != nil {
		uc.log.Error().Err(nerr).Msg("failed to notify admin chat")
	}
	cancel()
	uc.exit(1)
}

// Fatal logs msg and posts it to the admin channel
func (uc *NotifierUsecase) Fatal(ctx context.Context, msg string) error {
	uc.log.Error().Str("notice", msg).Msg("fatal error")
	if uc.adminChatID == "" || uc.remote == nil {
		return nil
	}
	return uc.remote.SendMessage(ctx, uc.adminChatID, FatalNotice(msg), "")
}

// FatalNotice renders the admin notification text
func FatalNotice(msg string) string {
	return "**Fatal Error:** " + markdownEscaper.Replace(msg)
}

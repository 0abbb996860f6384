package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/usecase"
	"github.com/devricklin/imessage-feishu-relay/internal/conf"
	"github.com/devricklin/imessage-feishu-relay/internal/data"
	"github.com/devricklin/imessage-feishu-relay/internal/infra/feishu"
	"github.com/devricklin/imessage-feishu-relay/internal/logger"
)

// send-message posts a line of text into the Feishu chat bridged to an iMessage conversation
func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: send-message <conversation_id> <message>")
		os.Exit(1)
	}
	conversationID := os.Args[1]
	message := strings.Join(os.Args[2:], " ")

	cfg, err := conf.LoadFromEnv()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	log := logger.Component(logger.New(cfg.Log.Level, cfg.Log.Format), "send-message")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	state, err := data.NewStateRepo(data.StateOptions{
		Path:         cfg.State.Path,
		DSN:          cfg.State.DSN,
		PollInterval: cfg.State.PollInterval,
		LockPolicy:   cfg.ToLockPolicy(),
	}, log)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer state.Close()

	st, err := state.Load(ctx)
	if err != nil {
		fmt.Printf("Error: failed to load state: %v\n", err)
		os.Exit(1)
	}
	rec, ok := st.Conversation(conversationID)
	if !ok || !rec.Mapped() {
		fmt.Printf("Error: conversation %s is not bridged to a Feishu chat\n", conversationID)
		os.Exit(1)
	}

	client := feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, cfg.Feishu.BaseURL, log)
	delivery := usecase.NewDeliveryUsecase(data.NewFeishuRepo(client), log)
	if err := delivery.SendMessage(ctx, rec.RemoteChannelID, message, ""); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Message sent successfully!")
}

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/usecase"
	"github.com/devricklin/imessage-feishu-relay/internal/conf"
	"github.com/devricklin/imessage-feishu-relay/internal/data"
	"github.com/devricklin/imessage-feishu-relay/internal/infra/feishu"
	"github.com/devricklin/imessage-feishu-relay/internal/infra/imessage"
	"github.com/devricklin/imessage-feishu-relay/internal/logger"
	"github.com/devricklin/imessage-feishu-relay/internal/server"
	"github.com/devricklin/imessage-feishu-relay/internal/service"
)

func main() {
	cfg, err := conf.LoadFromEnv()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.Component(logger.New(cfg.Log.Level, cfg.Log.Format), "responder")
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Remote side first so fatal startup errors can reach the admin chat
	feishuClient := feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, cfg.Feishu.BaseURL, logger.Component(log, "feishu"))
	delivery := usecase.NewDeliveryUsecase(data.NewFeishuRepo(feishuClient), logger.Component(log, "delivery"))
	notifier := usecase.NewNotifierUsecase(delivery, cfg.Feishu.AdminChatID, log)
	sender := imessage.NewSender(cfg.IMessage.OsascriptPath, cfg.IMessage.InjectTimeout, cfg.IMessage.MaxInboundLength)

	state, err := data.NewStateRepo(data.StateOptions{
		Path:         cfg.State.Path,
		DSN:          cfg.State.DSN,
		PollInterval: cfg.State.PollInterval,
		LockPolicy:   cfg.ToLockPolicy(),
	}, logger.Component(log, "state"))
	if err != nil {
		notifier.Exit("state store unavailable", err)
	}

	repos := data.NewRepositories(state, data.Sources{Sender: sender, Feishu: feishuClient})
	defer repos.Close()

	inbound := usecase.NewInboundUsecase(repos.Injector, delivery, usecase.InboundConfig{
		AllowedAuthors: cfg.Inbound.AllowedAuthors,
	}, logger.Component(log, "inbound"))

	svc := service.NewResponderService(repos.State, inbound, log)
	if err := svc.Start(ctx); err != nil {
		repos.Close()
		notifier.Exit("failed to load relay state", err)
	}

	srv := server.NewFeishuServer(feishuClient, svc, logger.Component(log, "server"))
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	log.Info().Int("routes", len(svc.Routes())).Msg("responder started")
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("feishu event stream stopped")
		}
		stop()
	}
	svc.Wait()
	log.Info().Msg("responder stopped")
}

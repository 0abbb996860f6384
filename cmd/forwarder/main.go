package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/devricklin/imessage-feishu-relay/internal/api"
	"github.com/devricklin/imessage-feishu-relay/internal/biz/usecase"
	"github.com/devricklin/imessage-feishu-relay/internal/conf"
	"github.com/devricklin/imessage-feishu-relay/internal/data"
	"github.com/devricklin/imessage-feishu-relay/internal/infra/feishu"
	"github.com/devricklin/imessage-feishu-relay/internal/infra/imessage"
	"github.com/devricklin/imessage-feishu-relay/internal/infra/retry"
	"github.com/devricklin/imessage-feishu-relay/internal/logger"
	"github.com/devricklin/imessage-feishu-relay/internal/service"
)

func main() {
	cfg, err := conf.LoadFromEnv()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.Component(logger.New(cfg.Log.Level, cfg.Log.Format), "forwarder")
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Remote side first so fatal startup errors can reach the admin chat
	feishuClient := feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, cfg.Feishu.BaseURL, logger.Component(log, "feishu"))
	delivery := usecase.NewDeliveryUsecase(data.NewFeishuRepo(feishuClient), logger.Component(log, "delivery"))
	notifier := usecase.NewNotifierUsecase(delivery, cfg.Feishu.AdminChatID, log)

	fatal := notifier.Exit

	var chatDB *imessage.ChatDB
	err = retry.Do(ctx, cfg.ToConnectPolicy(), func(attempt int) error {
		var err error
		chatDB, err = imessage.OpenChatDB(ctx, cfg.IMessage.DBPath, cfg.IMessage.BusyTimeout)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Str("path", cfg.IMessage.DBPath).Msg("chat.db not reachable")
		}
		return err
	})
	if err != nil {
		fatal("chat.db unreachable at "+cfg.IMessage.DBPath, err)
	}

	var contacts *imessage.Contacts
	if cfg.IMessage.ContactsPath != "" {
		contacts, err = imessage.OpenContacts(ctx, cfg.IMessage.ContactsPath)
		if err != nil {
			log.Warn().Err(err).Msg("contacts unavailable, using raw handles")
			contacts = nil
		}
	}
	if contacts != nil && cfg.IMessage.ContactsRefresh > 0 {
		refresher := service.NewRefreshScheduler(contacts, cfg.IMessage.ContactsRefresh, logger.Component(log, "contacts"))
		refresher.Start(ctx)
		defer refresher.Stop()
	}

	state, err := data.NewStateRepo(data.StateOptions{
		Path:         cfg.State.Path,
		DSN:          cfg.State.DSN,
		PollInterval: cfg.State.PollInterval,
		LockPolicy:   cfg.ToLockPolicy(),
	}, logger.Component(log, "state"))
	if err != nil {
		fatal("state store unavailable", err)
	}

	repos := data.NewRepositories(state, data.Sources{ChatDB: chatDB, Contacts: contacts})
	defer repos.Close()

	loc, _ := cfg.Location()
	discovery := usecase.NewDiscoveryUsecase(repos.Local, delivery, repos.State, usecase.DiscoveryConfig{
		Interval:             cfg.Discovery.Interval,
		Overlap:              cfg.Discovery.Overlap,
		AllowedConversations: cfg.Discovery.AllowedConversations,
		ChannelParent:        cfg.Feishu.ChannelOwnerID,
		ChannelNameMaxLen:    cfg.Discovery.ChannelNameMaxLen,
		BackfillOnProvision:  cfg.Discovery.BackfillOnProvision,
	}, logger.Component(log, "discovery"))
	relay := usecase.NewRelayUsecase(repos.Local, delivery, usecase.RelayConfig{
		Activity:            cfg.ToActivityConfig(),
		SkipOwnMessages:     cfg.Relay.SkipOwnMessages,
		MaxDeliveryAttempts: cfg.Relay.MaxDeliveryAttempts,
		BackfillOnProvision: cfg.Discovery.BackfillOnProvision,
		Location:            loc,
	}, logger.Component(log, "relay"))

	svc := service.NewForwarderService(repos.State, discovery, relay, cfg.Relay.LoopFloor, log)
	if err := svc.Init(ctx); err != nil {
		fatal("failed to load relay state", err)
	}

	var apiServer *api.Server
	if cfg.API.Addr != "" {
		apiServer = api.NewServer(svc, svc, cfg.API.Addr, logger.Component(log, "api"))
		go func() {
			if err := apiServer.Start(); err != nil {
				log.Error().Err(err).Msg("api server stopped")
			}
		}()
	}

	log.Info().Str("chat_db", cfg.IMessage.DBPath).Msg("forwarder started")
	runErr := svc.Run(ctx)

	if apiServer != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		apiServer.Stop(sctx)
		cancel()
	}
	if runErr != nil {
		repos.Close()
		fatal("relay loop stopped", runErr)
	}
	log.Info().Msg("forwarder stopped")
}


package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/devricklin/imessage-feishu-relay/internal/conf"
	"github.com/devricklin/imessage-feishu-relay/internal/logger"
	relaymcp "github.com/devricklin/imessage-feishu-relay/internal/mcp"
)

const version = "v1.0.0"

// relay-mcp serves operator tools over stdio; stdout belongs to the protocol, logs go to stderr
func main() {
	cfg, err := conf.LoadFromEnv()
	if err != nil {
		bootLog := logger.New("info", "json")
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.Component(logger.NewWithWriter(os.Stderr, cfg.Log.Level, "json"), "relay-mcp")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := relaymcp.NewHandler(relaymcp.NewClient(cfg.API.URL))
	server := relaymcp.NewServer(handler, version)

	log.Info().Str("api", cfg.API.URL).Msg("mcp server starting")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("mcp server stopped")
	}
}

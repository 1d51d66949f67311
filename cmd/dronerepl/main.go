package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/afit-csce689/dronerepl/internal/config"
	"github.com/afit-csce689/dronerepl/internal/observability"
	"github.com/afit-csce689/dronerepl/internal/replnode"
)

func main() {
	configPath := flag.String("config", "node.toml", "path to node configuration")
	flag.Parse()

	logger := observability.InitLogger("dronerepl")

	cfg, err := config.LoadNodeConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load node config")
	}

	key, err := config.LoadKey(cfg.KeyPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load shared key")
	}

	node, err := replnode.NewNode(cfg, key, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build node")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info().Str("node", cfg.NodeID).Str("bind_addr", cfg.BindAddr).Msg("starting node")
	if err := node.Run(ctx); err != nil {
		log.Fatal(err)
	}
}

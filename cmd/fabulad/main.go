package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"fabula/internal/config"
	"fabula/internal/daemon"
	"fabula/internal/events"
	"fabula/internal/logging"
	"fabula/internal/notifications"
	"fabula/internal/snapshot"
	"fabula/internal/stages"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := snapshot.Open(cfg)
	if err != nil {
		logger.Error("open snapshot store", logging.Error(err))
		return
	}
	defer store.Close()

	bus := events.NewBus()
	runners := stages.NewRunnerSet(cfg, logger)
	notifier := notifications.NewService(cfg)

	d, err := daemon.New(cfg, store, bus, runners, notifier, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	logger.Info("fabulad listening", logging.String("addr", d.APIAddr()))
	<-ctx.Done()
	logger.Info("fabulad shutting down")
	d.Stop()
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"canonical_cutover/internal/config"
	"canonical_cutover/internal/db"
	httpserver "canonical_cutover/internal/http"
	"canonical_cutover/internal/logging"
	"canonical_cutover/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	mgr := db.NewManager(cfg.Stores, store.EnsureCanonicalSchema, logger)
	defer mgr.Close()

	handle, err := mgr.Get(ctx, cfg.Destination)
	if err != nil {
		logger.Error("store connection failed", "store", cfg.Destination, "error", err)
		os.Exit(1)
	}

	server := httpserver.New(cfg, logger, handle)
	if err := server.Start(ctx); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

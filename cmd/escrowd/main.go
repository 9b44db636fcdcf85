package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"juryledger/config"
	"juryledger/observability/logging"
	"juryledger/services/escrowd"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./escrowd.toml", "path to escrowd configuration (created when missing)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	env := strings.TrimSpace(cfg.Telemetry.Environment)
	logger, closer := logging.SetupWithOptions("escrowd", env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := escrowd.Run(ctx, cfg, logger); err != nil {
		logger.Error("escrowd exited", slog.Any("error", err))
		stop()
		_ = closer.Close()
		os.Exit(1)
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pkt.systems/pslog"

	"github.com/xplor-dev/xplor/internal/backend"
	"github.com/xplor-dev/xplor/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Path to config.json")
	reqAddr := flag.String("req", "", "Request channel address (overrides config)")
	evtAddr := flag.String("evt", "", "Event channel address (overrides config)")
	flag.Parse()

	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())

	mgr := config.NewManager()
	if err := mgr.Load(*configPath); err != nil {
		logger.Warn("config load failed, running on defaults", "err", err)
	}
	cfg := mgr.Get()

	srvCfg := backend.Config{
		RequestAddr:   cfg.Backend.RequestAddr,
		EventAddr:     cfg.Backend.EventAddr,
		ThemeDBPath:   cfg.Backend.ThemeDBPath,
		WatchDebounce: time.Duration(cfg.Backend.WatchDebounceMs) * time.Millisecond,
		SearchDepth:   cfg.Backend.SearchDepth,
	}
	if *reqAddr != "" {
		srvCfg.RequestAddr = *reqAddr
	}
	if *evtAddr != "" {
		srvCfg.EventAddr = *evtAddr
	}

	srv := backend.NewServer(logger, srvCfg)
	if err := srv.Listen(); err != nil {
		logger.With("err", err).Error("xplord startup failed")
		os.Exit(1)
	}

	err := srv.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.With("err", err).Error("xplord exited")
		os.Exit(1)
	}
	logger.Info("xplord stopped")
}

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"dsumsg/config"
	"dsumsg/db"
	"dsumsg/server"
)

func main() {
	cfg, err := config.LoadRelay(".env")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Error("failed to initialize database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer database.Close()

	srv := server.New(database, &server.ServerConfig{
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGUSR1 {
				logger.Info("stats", "stats", srv.GetStats())
				continue
			}
			logger.Info("shutting down", "signal", sig.String(), "stats", srv.GetStats())
			srv.Shutdown()
			return
		}
	}()

	if err := srv.Start(); err != nil {
		logger.Error("relay stopped", "error", err)
		os.Exit(1)
	}
}

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/omochice/chatwire/internal/chat"
	"github.com/omochice/chatwire/internal/config"
	"github.com/omochice/chatwire/internal/server"
)

func main() {
	cfg, err := config.Load("chatwire-server", os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := cfg.Logger(os.Stderr)

	// One port serves both raw TCP and WebSocket peers
	srv := server.New(server.Config{
		Address:          cfg.Address,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Connection:       cfg.Connection(logger),
		Logger:           logger,
	}, chat.NewHub())

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			logger.Error("Server error", "error", err)
			os.Exit(1)
		}
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", "signal", sig.String())
		srv.Stop()
	}
}

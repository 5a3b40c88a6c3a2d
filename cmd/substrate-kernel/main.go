// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/substrate-foundation/substrate/kernel"
	"github.com/substrate-foundation/substrate/lib/config"
	"github.com/substrate-foundation/substrate/lib/policy"
	"github.com/substrate-foundation/substrate/lib/process"
	"github.com/substrate-foundation/substrate/lib/service"
	"github.com/substrate-foundation/substrate/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", "", "path to substrate.yaml (overrides SUBSTRATE_CONFIG)")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		version.Print("substrate-kernel")
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	}))

	pol := policy.Default()
	if cfg.Kernel.PolicyFile != "" {
		pol, err = policy.ReadFile(cfg.Kernel.PolicyFile)
		if err != nil {
			return err
		}
	}

	for _, dir := range []string{cfg.Paths.Data, cfg.Paths.Run} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	k, err := kernel.New(kernel.Config{
		DBPath:   cfg.DatabasePath(),
		Policy:   pol,
		Logger:   logger,
		PoolSize: cfg.Kernel.PoolSize,
	})
	if err != nil {
		return err
	}
	defer k.Close()

	// Refuse to serve over a broken chain. A verification failure
	// here means the database was edited outside the kernel.
	report, err := k.Ledger.VerifyChain(ctx)
	if err != nil {
		return fmt.Errorf("ledger verification on startup: %w", err)
	}
	logger.Info("ledger verified", "entries", report.Entries)

	socketServer := service.NewSocketServer(cfg.SocketPath(), logger)
	registerActions(socketServer, k)

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	logger.Info("substrate kernel running",
		"socket", cfg.SocketPath(),
		"database", cfg.DatabasePath(),
		"mode", k.Arbiter.Current().Mode,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := <-socketDone; err != nil {
		logger.Error("socket server error", "error", err)
	}
	return nil
}

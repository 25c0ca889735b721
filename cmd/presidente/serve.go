package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/lox/presidente/internal/server"
	"github.com/lox/presidente/internal/store"
)

// ServeCmd runs the game server
type ServeCmd struct {
	Config  string `kong:"default='presidente.hcl',help='Path to HCL config file'"`
	Addr    string `kong:"help='Listen address, overrides config'"`
	Port    int    `kong:"help='Listen port, overrides config'"`
	DataDir string `kong:"help='Room data directory, overrides config'"`
	Seed    *int64 `kong:"help='Deterministic RNG seed (optional)'"`
	Debug   bool   `kong:"help='Enable debug logging'"`
}

func (c *ServeCmd) Run() error {
	cfg, err := server.LoadConfig(c.Config)
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Address = c.Addr
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.DataDir != "" {
		cfg.DataDir = c.DataDir
	}
	if c.Seed != nil {
		cfg.Seed = *c.Seed
	}
	if c.Debug {
		cfg.Server.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := setupLogger(cfg.Server.LogLevel)

	st := store.New(cfg.DataDir, logger)
	srv := server.NewServer(cfg, st, quartz.NewReal(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")
		return nil
	})
	return g.Wait()
}

func setupLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})
	if lvl, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/zapgate/pkg/zapgate/config"
	"github.com/jholhewres/zapgate/pkg/zapgate/gateway"
	"github.com/jholhewres/zapgate/pkg/zapgate/relay"
	"github.com/jholhewres/zapgate/pkg/zapgate/session"
)

// newServeCmd creates the `zapgate serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway daemon",
		Long: `Start zapgate as a daemon: connects the WhatsApp session, relays
observed messages to the host webhook and serves the HTTP control API.

Examples:
  zapgate serve
  zapgate serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// ── Configure logger ──
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)

	// ── Resolve secrets (keyring → env → config) ──
	config.ResolveTokens(cfg, logger)

	// ── Create context ──
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Connection manager ──
	manager := session.New(cfg.Session, logger)
	if err := manager.Connect(ctx); err != nil {
		logger.Error("initial connect failed, control API still available for reconnect",
			"error", err)
	}
	manager.StartHealthMonitor(ctx)

	// ── Relay ──
	rl := relay.New(cfg.Webhook, logger)
	go rl.Run(ctx, manager.Events())

	// ── Control API ──
	gw := gateway.New(manager, rl.Stats, cfg.Gateway, logger)
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}

	logger.Info("zapgate running",
		"address", cfg.Gateway.Address,
		"webhook", cfg.Webhook.BaseURL)

	// ── Wait for shutdown signal ──
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown error", "error", err)
	}
	if err := manager.Close(); err != nil {
		logger.Warn("session close error", "error", err)
	}

	logger.Info("bye")
	return nil
}

// resolveConfig finds and loads the configuration file, honoring --config.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = config.FindFile()
	}
	if path == "" {
		return nil, fmt.Errorf("no config file found; run `zapgate setup` first")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// ORBIT daemon: the HTTP API, realtime hub and background loops.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/orbitlabs/orbit/internal/app"
	"github.com/orbitlabs/orbit/internal/logging"
)

var v = viper.New()

func main() {
	rootCmd := &cobra.Command{
		Use:   "orbitd",
		Short: "ORBIT daemon - behavioral signals and attention",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env file is fine.
			_ = godotenv.Load()
			return nil
		},
		RunE:         runDaemon,
		SilenceUsage: true,
	}

	if err := app.BindFlags(rootCmd, v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := app.LoadConfig(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a, err := app.New(cfg, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	logging.WithFields(map[string]interface{}{
		"driver":    cfg.Database.Driver,
		"attention": cfg.Attention.Store,
	}).Info("Starting ORBIT daemon")

	if cfg.Scheduler.Enabled {
		if err := a.Engine.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	server := a.Server()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			logging.Error("API server stopped: %v", err)
		}
		a.Engine.Stop()
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		logging.Warn("API server shutdown incomplete: %v", err)
	}
	if err := a.Engine.Stop(); err != nil {
		logging.Warn("Scheduler shutdown incomplete: %v", err)
	}
	logging.Info("ORBIT daemon stopped")
	return nil
}

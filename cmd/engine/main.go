// Command engine is the process entrypoint: it loads static
// configuration, connects to the bus, brings up the per-shard router,
// and serves Prometheus metrics until signaled to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"fenrir/internal/bus"
	"fenrir/internal/config"
	"fenrir/internal/engine"
	"fenrir/internal/metrics"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("engine exited with error")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "engine",
		Short: "runs the sharded matching engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the engine's YAML settings file")
	return cmd
}

func run(configPath string) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if settings.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(settings.MetricsAddr); err != nil {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	subjects := []string{settings.Bus.InputSubject, settings.Bus.OutputSubject}
	natsBus, err := bus.Connect(settings.Bus.NatsURL, settings.Bus.DurableName+"-stream", settings.Bus.DurableName, subjects)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer natsBus.Close()

	router, err := engine.New(*settings, natsBus)
	if err != nil {
		return fmt.Errorf("construct router: %w", err)
	}

	return router.Run(ctx)
}

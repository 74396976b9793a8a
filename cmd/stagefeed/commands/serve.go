package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/StageFeed/internal/api"
	"github.com/bryanchriswhite/StageFeed/internal/logger"
	"github.com/bryanchriswhite/StageFeed/internal/output"
	"github.com/bryanchriswhite/StageFeed/internal/stage"
	"github.com/bryanchriswhite/StageFeed/internal/target"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Sinks register themselves with the output factory.
	_ "github.com/bryanchriswhite/StageFeed/internal/display"
	_ "github.com/bryanchriswhite/StageFeed/internal/output/gst"
)

const disposeTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the StageFeed server",
	Long: `Start the stage, every configured display target and the HTTP server.

Each target captures the stage at its own frame rate and sends frames to its
output. Targets can be switched on and off through the API, the CLI or by
editing the config file while the server runs.`,
	Example: `  # Start server on default port (8080)
  stagefeed serve

  # Start server on custom port
  stagefeed serve --port 9090

  # Start with specific config file
  stagefeed serve --config /path/to/config.yaml

  # Start with debug logging in JSON
  stagefeed serve --log-level debug --log-json`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	// Flag overrides apply to this run only
	port := cfg.ServerPort
	if p := viper.GetInt("server_port"); p > 0 {
		port = p
	}
	level := cfg.LogLevel
	if l := viper.GetString("log_level"); l != "" {
		level = l
	}
	logger.Init(level, !viper.GetBool("log_json"))
	log := logger.WithComponent("serve")

	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("log_level", level).
		Strs("outputs", output.Types()).
		Msg("Configuration loaded")

	st, err := stage.New(cfg.Stage)
	if err != nil {
		return fmt.Errorf("failed to build stage: %w", err)
	}

	targets := make([]*target.Target, 0, len(cfg.Targets))
	byName := make(map[string]*target.Target, len(cfg.Targets))
	for _, tc := range cfg.Targets {
		sink, err := output.New(tc.Output)
		if err != nil {
			log.Error().Err(err).Str("target", tc.Name).Msg("Skipping target")
			continue
		}
		t, err := target.New(tc, st, sink)
		if err != nil {
			log.Error().Err(err).Str("target", tc.Name).Msg("Skipping target")
			continue
		}
		if err := t.Start(); err != nil {
			log.Error().Err(err).Str("target", tc.Name).Msg("Failed to start target")
			continue
		}
		targets = append(targets, t)
		byName[tc.Name] = t
	}
	if len(targets) == 0 {
		return errors.New("no display target could be started")
	}

	configMgr.OnActiveChange(func(name string, active bool) {
		if t, ok := byName[name]; ok {
			t.SetActive(active)
		}
	})
	if err := configMgr.Watch(); err != nil {
		log.Warn().Err(err).Msg("Config file changes will not be picked up")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg conc.WaitGroup
	wg.Go(func() { hostLoop(ctx, cfg.RefreshHz, targets) })

	server := api.NewServer(configMgr, st, targets)
	wg.Go(func() {
		if err := server.Start(port); err != nil {
			log.Error().Err(err).Msg("Server error")
			stop()
		}
	})

	log.Info().Int("targets", len(targets)).Msg("StageFeed is running, press Ctrl+C to stop")
	<-ctx.Done()
	log.Info().Msg("Shutting down gracefully...")

	for _, t := range targets {
		t.Dispose()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
	defer cancel()
	for _, t := range targets {
		select {
		case <-t.Done():
		case <-shutdownCtx.Done():
			log.Warn().Str("target", t.Name()).Msg("Target did not finish disposing in time")
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}

	wg.Wait()
	return nil
}

// hostLoop is the refresh callback driving every target's scheduler with a
// shared monotonic clock.
func hostLoop(ctx context.Context, hz int, targets []*target.Target) {
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := int64(time.Since(start))
			for _, t := range targets {
				t.Tick(now)
			}
		}
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/fxline/internal/config"
	"github.com/friendsincode/fxline/internal/relay"
	"github.com/friendsincode/fxline/internal/replay"
	"github.com/friendsincode/fxline/internal/scheduler"
	"github.com/friendsincode/fxline/internal/script"
	"github.com/friendsincode/fxline/internal/server"
	"github.com/friendsincode/fxline/internal/telemetry"
	"github.com/friendsincode/fxline/internal/version"
)

var replayFlags struct {
	speed    float64
	deferred bool
	simulate bool
	tick     time.Duration
	httpPort int
	relay    string
	output   string
}

var replayCmd = &cobra.Command{
	Use:   "replay <script.yaml>",
	Short: "Play a script of host observations through the scheduler",
	Long: "Replay feeds a YAML script of timed observations to a scheduler and prints the " +
		"resulting trace of start, end and snapshot notifications as JSON.",
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	f := replayCmd.Flags()
	f.Float64Var(&replayFlags.speed, "speed", 0, "timeline speed multiplier (overrides FXLINE_SPEED_MULTIPLIER)")
	f.BoolVar(&replayFlags.deferred, "defer", false, "withhold snapshots until each batch completes")
	f.BoolVar(&replayFlags.simulate, "simulate", false, "step a simulated clock instead of waiting in real time")
	f.DurationVar(&replayFlags.tick, "tick", 0, "tick interval (overrides the script and FXLINE_TICK_INTERVAL)")
	f.IntVar(&replayFlags.httpPort, "http", -1, "serve diagnostics on this port (overrides FXLINE_HTTP_PORT)")
	f.StringVar(&replayFlags.relay, "relay", "", "relay backend: none, redis or nats (overrides FXLINE_RELAY_BACKEND)")
	f.StringVarP(&replayFlags.output, "output", "o", "", "write the trace to a file instead of stdout")
	rootCmd.AddCommand(replayCmd)
}

// applyReplayFlags overrides environment configuration with explicit flags.
func applyReplayFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("speed") {
		c.SpeedMultiplier = replayFlags.speed
	}
	if flags.Changed("defer") {
		c.DeferUntilComplete = replayFlags.deferred
	}
	if flags.Changed("tick") {
		c.TickInterval = replayFlags.tick
	}
	if flags.Changed("http") {
		c.HTTPPort = replayFlags.httpPort
	}
	if flags.Changed("relay") {
		c.RelayBackend = config.RelayBackend(replayFlags.relay)
	}
	return c.Validate()
}

func runReplay(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if err := applyReplayFlags(cmd, cfg); err != nil {
		return err
	}

	sc, err := script.Load(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "fxline",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	rel, err := newRelay(ctx, cfg)
	if err != nil {
		return err
	}
	if rel != nil {
		rel.Start(ctx)
		defer func() {
			if err := rel.Close(); err != nil {
				logger.Error().Err(err).Msg("relay close failed")
			}
		}()
	}

	// Script settings win over environment defaults; explicit flags win over both.
	tick, speed := cfg.TickInterval, cfg.SpeedMultiplier
	if sc.Settings.Tick != "" && !cmd.Flags().Changed("tick") {
		tick = 0
	}
	if sc.Settings.Speed > 0 && !cmd.Flags().Changed("speed") {
		speed = 0
	}

	metrics := telemetry.NewMetrics()
	var httpServer *http.Server

	opts := replay.Options{
		Simulate:           replayFlags.simulate,
		Tick:               tick,
		Speed:              speed,
		DeferUntilComplete: cfg.DeferUntilComplete,
		SkipValidation:     !cfg.ValidateBatches,
		Metrics:            metrics,
		Logger:             logger,
		Attach: func(svc *scheduler.Service) {
			if rel != nil {
				rel.Attach(svc.Starts(), svc.Ends())
			}
			if addr := cfg.HTTPAddr(); addr != "" {
				httpServer = server.New(addr, svc, metrics, logBuf, logger).HTTPServer()
				go func() {
					logger.Info().Str("addr", addr).Msg("HTTP server listening")
					if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error().Err(err).Msg("http server error")
					}
				}()
			}
		},
	}

	trace, runErr := replay.Run(ctx, sc, opts)

	if httpServer != nil {
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := httpServer.Shutdown(timeoutCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
		cancel()
	}

	if trace != nil {
		if err := writeTrace(cmd, trace); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("replay %s: %w", sc.Name, runErr)
	}
	return nil
}

func newRelay(ctx context.Context, c *config.Config) (*relay.Relay, error) {
	var pub relay.Publisher
	switch c.RelayBackend {
	case config.RelayRedis:
		rc := relay.DefaultRedisConfig()
		rc.Addr = c.RedisAddr
		rc.Password = c.RedisPassword
		rc.DB = c.RedisDB
		p, err := relay.NewRedisPublisher(ctx, rc)
		if err != nil {
			return nil, fmt.Errorf("connect relay: %w", err)
		}
		pub = p
	case config.RelayNATS:
		nc := relay.DefaultNATSConfig()
		nc.URL = c.NATSURL
		p, err := relay.NewNATSPublisher(nc)
		if err != nil {
			return nil, fmt.Errorf("connect relay: %w", err)
		}
		pub = p
	default:
		return nil, nil
	}
	logger.Info().Str("backend", string(c.RelayBackend)).Str("prefix", c.RelayPrefix).Msg("relay enabled")
	return relay.New(pub, c.RelayPrefix, 0, logger), nil
}

func writeTrace(cmd *cobra.Command, trace *replay.Trace) error {
	out := cmd.OutOrStdout()
	if replayFlags.output != "" {
		f, err := os.Create(replayFlags.output)
		if err != nil {
			return fmt.Errorf("create trace file: %w", err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(trace)
}

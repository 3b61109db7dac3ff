/*
 *
 * Copyright 2025 the Ultimate Squash Game authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// squashmetrics drives the telemetry collector with a synthetic game
// loop, for smoke-testing transports and sinks outside the game.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/config"
	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/metrics"
	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/storage"
	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/telemetry"
)

var (
	flagRate     int
	flagDuration time.Duration
	flagFallback bool
)

func main() {
	root := &cobra.Command{
		Use:          "squashmetrics",
		Short:        "Telemetry collector tooling for the squash game",
		SilenceUsage: true,
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Run a synthetic game-loop producer against the configured sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProducer()
		},
	}
	run.Flags().IntVar(&flagRate, "rate", 240, "frames per second to simulate")
	run.Flags().DurationVar(&flagDuration, "duration", 0, "how long to run (0 = until interrupted)")
	run.Flags().BoolVar(&flagFallback, "fallback", false, "force the fallback channel transport")
	root.AddCommand(run)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func openStore(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		return storage.NewSQLite(cfg.Storage.Path, log)
	case "nats":
		return storage.NewNATS(cfg.Storage.URL, cfg.Storage.Subject, log)
	case "memory":
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func runProducer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	handle, err := telemetry.Initialize(telemetry.Config{
		Capacity:       cfg.Capacity,
		OverflowMargin: cfg.OverflowMargin,
		DrainInterval:  cfg.DrainInterval,
		BatchSize:      cfg.BatchSize,
		QueueCapacity:  cfg.QueueCapacity,
		MirrorDepth:    cfg.MirrorDepth,
		ForceFallback:  flagFallback,
	}, log, store)
	if err != nil {
		return err
	}

	sessionID := handle.StartSession(map[string]string{
		"source": "squashmetrics",
		"rate":   fmt.Sprintf("%d", flagRate),
	})
	log.Info("producing synthetic samples",
		zap.String("session_id", sessionID),
		zap.Int("rate", flagRate))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	frame := time.NewTicker(time.Second / time.Duration(flagRate))
	defer frame.Stop()
	stats := time.NewTicker(2 * time.Second)
	defer stats.Stop()

	var deadline <-chan time.Time
	if flagDuration > 0 {
		deadline = time.After(flagDuration)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

loop:
	for {
		select {
		case <-frame.C:
			// One simulated frame's worth of metrics.
			frameMs := 3.5 + rng.Float32()*4
			handle.RecordMetric(metrics.MetricFrameTime, frameMs, metrics.CategoryGameplay)
			handle.RecordMetric(metrics.MetricFPS, 1000/frameMs, metrics.CategoryGameplay)
			handle.RecordMetric(metrics.MetricRenderTime, frameMs*0.6, metrics.CategoryRendering)
			handle.RecordMetric(metrics.MetricUpdateTime, frameMs*0.3, metrics.CategoryPhysics)
			if rng.Intn(flagRate) == 0 {
				handle.RecordMetric(metrics.MetricMemoryUsed, 80+rng.Float32()*40)
			}
		case <-stats.C:
			d := handle.Diagnostics()
			log.Info("collector stats",
				zap.Uint64("writes", d.Writes),
				zap.Uint64("overflows", d.OverflowCount),
				zap.Uint64("data_loss", d.DataLoss),
				zap.Float64("utilization_pct", d.BufferUtilizationPct),
				zap.Duration("avg_write_latency", d.AverageWriteLatency))
		case <-deadline:
			break loop
		case s := <-sig:
			log.Info("signal received, stopping", zap.String("signal", s.String()))
			break loop
		}
	}

	handle.RequestFlush()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := handle.Stop(ctx); err != nil {
		log.Error("stop failed", zap.Error(err))
		return err
	}

	d := handle.Diagnostics()
	log.Info("final diagnostics",
		zap.String("mode", d.Mode.String()),
		zap.String("session_id", d.SessionID),
		zap.Uint64("writes", d.Writes),
		zap.Uint64("overflows", d.OverflowCount),
		zap.Uint64("data_loss", d.DataLoss))
	return nil
}

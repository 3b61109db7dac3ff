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

// Package config loads collector configuration from defaults,
// environment variables, and an optional YAML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage selects and parameterizes the durable sink.
type Storage struct {
	// Driver is one of "sqlite", "nats", "memory".
	Driver string

	// Path is the SQLite file path (sqlite driver).
	Path string

	// URL is the NATS server URL (nats driver).
	URL string

	// Subject is the NATS publish subject (nats driver).
	Subject string
}

// Config holds every configurable value for the collector and the
// demo runner.
type Config struct {
	// Ring/transport tuning.
	Capacity       int
	OverflowMargin int
	DrainInterval  time.Duration
	BatchSize      int
	QueueCapacity  int
	MirrorDepth    int

	Storage Storage

	LogLevel string // debug|info|warn|error
}

// Load reads configuration from (in decreasing priority) environment
// variables (e.g. TELEMETRY_CAPACITY, TELEMETRY_STORAGE_DRIVER) and an
// optional YAML file (./configs/telemetry.yaml), falling back to the
// defaults. It returns a fully populated *Config or an error.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("Capacity", 4096)
	v.SetDefault("OverflowMargin", 10)
	v.SetDefault("DrainInterval", 10*time.Millisecond)
	v.SetDefault("BatchSize", 256)
	v.SetDefault("QueueCapacity", 0) // 0: follow Capacity
	v.SetDefault("MirrorDepth", 64)
	v.SetDefault("Storage.Driver", "sqlite")
	v.SetDefault("Storage.Path", "./data/telemetry.db")
	v.SetDefault("Storage.URL", "nats://localhost:4222")
	v.SetDefault("Storage.Subject", "telemetry.batches")
	v.SetDefault("LogLevel", "info")

	v.SetEnvPrefix("telemetry")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Optional yaml file, useful for local dev.
	v.SetConfigName("telemetry")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	return &cfg, nil
}

// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the engine's YAML configuration through
// confengine (go-ucfg) into typed structs, the same unpack-into-struct
// convention logger.Options already uses.
package config

import (
	"github.com/packetd/amqprouter/common"
	"github.com/packetd/amqprouter/confengine"
	"github.com/packetd/amqprouter/logger"
)

// MetricsOptions controls the Prometheus exposition endpoint.
type MetricsOptions struct {
	Enabled bool   `config:"enabled"`
	Addr    string `config:"addr"`
}

// RouterConfig is the top-level configuration for one amqprouterd
// process: the backpressure thresholds the receive/send loops enforce,
// plus the ambient logging and metrics sub-blocks.
type RouterConfig struct {
	// BufferSize is the fixed capacity, in bytes, of every buffer
	// chained into a Content. Defaults to common.BufferSize.
	BufferSize int `config:"bufferSize"`

	// MaxMessageSize caps total received bytes per delivery; 0 means
	// unbounded. See message.Content.RecordBytesReceived.
	MaxMessageSize int64 `config:"maxMessageSize"`

	// Q2UpperBuffers/Q2LowerBuffers are the receive-side holdoff
	// watermarks, measured in chained buffer count.
	Q2UpperBuffers int `config:"q2UpperBuffers"`
	Q2LowerBuffers int `config:"q2LowerBuffers"`

	// Q3UpperUnits scales BufferSize into the send-side stall
	// threshold: a fanout send loop pauses once its transport's
	// OutgoingBytes reaches BufferSize * Q3UpperUnits.
	Q3UpperUnits int `config:"q3UpperUnits"`

	// StripAnnotationsDefault is the default stripAnnotationsIn policy
	// for links that do not set it explicitly per-delivery.
	StripAnnotationsDefault bool `config:"stripAnnotationsDefault"`

	Logging logger.Options `config:"logging"`
	Metrics MetricsOptions `config:"metrics"`
}

// Default returns a RouterConfig with the same constants the teacher's
// own packages fall back to absent an operator override.
func Default() RouterConfig {
	return RouterConfig{
		BufferSize:     common.BufferSize,
		MaxMessageSize: 0,
		Q2UpperBuffers: 16,
		Q2LowerBuffers: 4,
		Q3UpperUnits:   4,
		Logging:        logger.Options{Stdout: true, Level: string(logger.LevelInfo)},
		Metrics:        MetricsOptions{Enabled: true, Addr: ":9469"},
	}
}

// Load reads path as YAML and unpacks it over Default(), so a config
// file only needs to set the fields it wants to override.
func Load(path string) (RouterConfig, error) {
	cfg := Default()
	c, err := confengine.LoadConfigPath(path)
	if err != nil {
		return cfg, newError("load %s: %v", path, err)
	}
	if err := c.Unpack(&cfg); err != nil {
		return cfg, newError("unpack %s: %v", path, err)
	}
	return cfg, nil
}

// ApplyOverrides loosely coerces a set of CLI-supplied key/value pairs
// onto cfg, using common.Options' cast-backed getters rather than a
// second Unpack pass -- these are one-off overrides, not a YAML
// document. Unknown keys are ignored so --set flags stay forward
// compatible with older binaries.
func ApplyOverrides(cfg *RouterConfig, overrides common.Options) error {
	setInt := func(key string, dst *int) error {
		if _, ok := overrides[key]; !ok {
			return nil
		}
		v, err := overrides.GetInt(key)
		if err != nil {
			return newError("override %s: %v", key, err)
		}
		*dst = v
		return nil
	}
	setBool := func(key string, dst *bool) error {
		if _, ok := overrides[key]; !ok {
			return nil
		}
		v, err := overrides.GetBool(key)
		if err != nil {
			return newError("override %s: %v", key, err)
		}
		*dst = v
		return nil
	}

	for _, step := range []func() error{
		func() error { return setInt("bufferSize", &cfg.BufferSize) },
		func() error { return setInt("q2UpperBuffers", &cfg.Q2UpperBuffers) },
		func() error { return setInt("q2LowerBuffers", &cfg.Q2LowerBuffers) },
		func() error { return setInt("q3UpperUnits", &cfg.Q3UpperUnits) },
		func() error { return setBool("stripAnnotationsDefault", &cfg.StripAnnotationsDefault) },
	} {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

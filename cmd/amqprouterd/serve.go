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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/packetd/amqprouter/common"
	"github.com/packetd/amqprouter/config"
	"github.com/packetd/amqprouter/internal/sigs"
	"github.com/packetd/amqprouter/logger"
)

var (
	serveConfigPath string
	serveOverrides  []string
)

// parseOverrides turns "key=value" flag arguments into a common.Options
// map for config.ApplyOverrides; entries without an "=" are ignored.
func parseOverrides(kvs []string) common.Options {
	opts := common.NewOptions()
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		opts.Merge(k, v)
	}
	return opts
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load configuration and run the metrics/logging plane for an embedding host",
	Long: `serve loads the router configuration, wires structured logging and the
Prometheus exposition endpoint, and then waits for a host process to drive
router.Receive/router.Send against its own transport.Receiver/Sender pair.
This binary does not itself terminate AMQP 1.0 connections: the transport
is always supplied by the embedder, per the engine's own non-goals.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(serveConfigPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		if err := config.ApplyOverrides(&cfg, parseOverrides(serveOverrides)); err != nil {
			fmt.Fprintf(os.Stderr, "failed to apply --set overrides: %v\n", err)
			os.Exit(1)
		}

		logger.SetOptions(cfg.Logging)

		var srv *http.Server
		if cfg.Metrics.Enabled {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Errorf("metrics server stopped: %v", err)
				}
			}()
			logger.Infof("metrics listening on %s", cfg.Metrics.Addr)
		}

		logger.Infof("amqprouterd ready: bufferSize=%d q2=[%d,%d] q3UpperUnits=%d",
			cfg.BufferSize, cfg.Q2LowerBuffers, cfg.Q2UpperBuffers, cfg.Q3UpperUnits)

		select {
		case <-sigs.Terminate():
			logger.Infof("shutting down")
		case <-sigs.Reload():
			logger.Infof("reload requested, restart the process to pick up config changes")
		}

		if srv != nil {
			_ = srv.Shutdown(context.Background())
		}
	},
	Example: "# amqprouterd serve --config router.yaml",
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "router.yaml", "Configuration file path")
	serveCmd.Flags().StringArrayVar(&serveOverrides, "set", nil, "Override a config field, e.g. --set q2UpperBuffers=64 (repeatable)")
	rootCmd.AddCommand(serveCmd)
}

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

// Package main is the amqprouterd CLI entrypoint: a single "serve"
// subcommand that loads configuration, wires logging and metrics, and
// hands control to a host-supplied transport. The router core itself
// never owns a process; this binary is one way to embed it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/packetd/amqprouter/common"
)

var rootCmd = &cobra.Command{
	Use:   "amqprouterd",
	Short: "AMQP 1.0 streaming message engine",
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%+v)", common.Version, common.GetBuildInfo())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

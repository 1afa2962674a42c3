// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad
//
// mdcstat - Roboteq MDC2250 Serial Protocol Analyzer
//
// A CLI tool for identifying, monitoring and commanding Roboteq motor
// controllers over their ASCII serial protocol.

package main

import (
	"os"

	"github.com/Thermoquad/mdcstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

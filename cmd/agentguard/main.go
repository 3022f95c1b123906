// Package main is the agentguard command.
//
// Start the server:
//
//	agentguard serve --config agentguard.yaml
//
// Inspect and publish agent configs:
//
//	agentguard config resolve trip-planner
//	agentguard config put trip-planner trip-planner.yaml
//
// The config path may also come from AGENTGUARD_CONFIG.
package main

import (
	"fmt"
	"os"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

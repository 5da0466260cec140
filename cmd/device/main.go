// Package main is the on-device sync daemon. The capture UI talks to it
// over REST/WebSocket on localhost; the daemon owns the record store and
// the reconciliation loops against the remote service.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

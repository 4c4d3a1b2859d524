package main

import (
	"os"

	"github.com/wonny/marketdata/cmd/marketdata/commands"
)

// main is the entry point for the market data CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/marketdata [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}

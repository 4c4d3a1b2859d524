package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/marketdata/pkg/config"
	"github.com/wonny/marketdata/pkg/logger"
)

var (
	// Global flags
	env         string
	routingFile string
	verbose     bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "marketdata",
	Short: "Market data acquisition layer",
	Long: `Market data acquisition layer

시세/경제지표 시계열을 여러 공급자(Alpha Vantage, Yahoo, FRED)에서
캐시와 일일 호출 예산을 지키며 가져옵니다.

Usage:
  go run ./cmd/marketdata [command]

Examples:
  go run ./cmd/marketdata serve
  go run ./cmd/marketdata fetch SPY ^VIX --period 6mo
  go run ./cmd/marketdata budget
  go run ./cmd/marketdata cache show alphavantage SPY`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "environment (development|staging|production), overrides ENV")
	rootCmd.PersistentFlags().StringVar(&routingFile, "routing", "", "routing table YAML, overrides ROUTING_FILE")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig loads configuration and applies global flags.
// quiet lowers the log level so that command output stays readable.
func loadConfig(quiet bool) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if env != "" {
		cfg.Env = env
	}
	if routingFile != "" {
		cfg.RoutingFile = routingFile
	}

	switch {
	case verbose:
		cfg.LogLevel = "debug"
	case quiet:
		cfg.LogLevel = "warn"
		cfg.LogFormat = "console"
	}

	return cfg, logger.New(cfg), nil
}

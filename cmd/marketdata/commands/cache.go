package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/marketdata/internal/cache"
	"github.com/wonny/marketdata/internal/provider"
)

// cacheCmd represents the cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "캐시 조회",
	Long: `캐시 엔트리를 조회합니다.

Subcommands:
  show    - 공급자/심볼 단위 엔트리 조회

Example:
  go run ./cmd/marketdata cache show alphavantage SPY
  go run ./cmd/marketdata cache show fred CPIAUCSL --granularity monthly`,
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <provider> <symbol>",
	Short: "캐시 엔트리 조회",
	Args:  cobra.ExactArgs(2),
	RunE:  runCacheShow,
}

var (
	cacheGranularity string
	cacheTail        int
)

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheShowCmd)

	cacheShowCmd.Flags().StringVar(&cacheGranularity, "granularity", "daily", "daily|weekly|monthly|quarterly")
	cacheShowCmd.Flags().IntVar(&cacheTail, "tail", 5, "표시할 최근 포인트 수")
}

func runCacheShow(cmd *cobra.Command, args []string) error {
	granularity, err := provider.ParseGranularity(cacheGranularity)
	if err != nil {
		return err
	}

	cfg, log, err := loadConfig(true)
	if err != nil {
		return err
	}

	ctx := context.Background()
	app, err := NewApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	key := cache.Key{Provider: args[0], Symbol: args[1], Granularity: granularity}
	entry, err := app.Cache.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return fmt.Errorf("no cache entry for %s", key)
	}
	if err != nil {
		return err
	}

	printEntry(cmd.OutOrStdout(), entry, app.Router.IsFresh(entry), cacheTail)
	return nil
}

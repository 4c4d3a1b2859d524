package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wonny/marketdata/internal/marketdata"
)

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch <symbol...>",
	Short: "시계열 조회 (캐시 → 공급자 → stale fallback)",
	Long: `심볼별 시계열을 라우터를 통해 가져옵니다.

신선한 캐시가 있으면 네트워크 호출 없이 반환하고, 없으면 라우팅
순서대로 공급자를 시도합니다. 모두 실패하면 가장 최근 캐시를 stale로
반환합니다.

Example:
  go run ./cmd/marketdata fetch SPY
  go run ./cmd/marketdata fetch SPY QQQ ^VIX --period 6mo
  go run ./cmd/marketdata fetch DGS10 --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFetch,
}

var (
	fetchPeriod  string
	fetchWorkers int
	fetchJSON    bool
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVar(&fetchPeriod, "period", "1y", "조회 기간 (30d, 6mo, 1y, 5y, max)")
	fetchCmd.Flags().IntVar(&fetchWorkers, "workers", marketdata.DefaultWorkers, "동시 조회 수")
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "JSON 출력")
}

func runFetch(cmd *cobra.Command, args []string) error {
	period, err := marketdata.ParsePeriod(fetchPeriod)
	if err != nil {
		return err
	}

	cfg, log, err := loadConfig(!fetchJSON)
	if err != nil {
		return err
	}

	ctx := context.Background()
	app, err := NewApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	outcomes := app.Router.FetchMany(ctx, args, period, fetchWorkers)

	out := cmd.OutOrStdout()
	if fetchJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcomes); err != nil {
			return err
		}
	} else {
		printOutcomes(out, outcomes)
	}

	failed := 0
	for _, o := range outcomes {
		if !o.OK() {
			failed++
		}
	}
	if failed == len(outcomes) {
		return fmt.Errorf("no data for %s", strings.Join(args, ", "))
	}
	return nil
}

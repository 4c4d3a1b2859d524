package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/marketdata/internal/budget"
)

// budgetCmd represents the budget command
var budgetCmd = &cobra.Command{
	Use:   "budget [provider]",
	Short: "공급자별 일일 호출 예산 조회",
	Long: `오늘(UTC) 공급자별 사용량과 남은 호출 수를 표시합니다.

Example:
  go run ./cmd/marketdata budget
  go run ./cmd/marketdata budget alphavantage`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBudget,
}

func init() {
	rootCmd.AddCommand(budgetCmd)
}

func runBudget(cmd *cobra.Command, args []string) error {
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

	var statuses []budget.Status
	if len(args) == 1 {
		if !app.Tracker.Known(args[0]) {
			return fmt.Errorf("unknown provider: %s", args[0])
		}
		status, err := app.Tracker.Status(ctx, args[0])
		if err != nil {
			return err
		}
		statuses = append(statuses, status)
	} else {
		statuses, err = app.Tracker.StatusAll(ctx)
		if err != nil {
			return err
		}
	}

	printBudget(cmd.OutOrStdout(), statuses)
	return nil
}

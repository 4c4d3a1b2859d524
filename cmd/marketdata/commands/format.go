package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/marketdata/internal/api/handlers"
	"github.com/wonny/marketdata/internal/budget"
	"github.com/wonny/marketdata/internal/cache"
	"github.com/wonny/marketdata/internal/marketdata"
	"github.com/wonny/marketdata/internal/provider"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// 모든 커맨드가 동일한 출력 포맷을 사용하도록 통일
// ═══════════════════════════════════════════════════════════

var (
	outcomeColumns = []string{"SYMBOL", "KIND", "PROVIDER", "AS OF", "POINTS", "LAST", "NOTE"}
	outcomeWidths  = []int{10, 7, 13, 10, 6, 12, 30}

	budgetColumns = []string{"PROVIDER", "USED", "LIMIT", "REMAINING", "RESETS AT"}
	budgetWidths  = []int{13, 5, 9, 9, 20}
)

// outcomeRow renders one fetch outcome as table cells
func outcomeRow(o marketdata.Outcome) []string {
	row := []string{o.Symbol, o.Kind.String(), "-", "-", "0", "-", ""}

	if o.Entry != nil {
		row[2] = o.Provider
		row[3] = o.Entry.AsOf.Format(provider.DateLayout)
	}
	if n := o.Series.Len(); n > 0 {
		row[4] = strconv.Itoa(n)
		row[5] = o.Series.Points[n-1].Value.String()
	}

	switch o.Kind {
	case marketdata.Stale:
		row[6] = o.Reason
	case marketdata.Failed:
		if o.Err != nil {
			row[6] = o.Err.Error()
		}
	}
	if len(o.Attempts) > 0 && o.Kind != marketdata.Fresh {
		parts := make([]string, len(o.Attempts))
		for i, a := range o.Attempts {
			parts[i] = a.Provider + "=" + a.Kind.String()
		}
		row[6] = strings.TrimSpace(row[6] + " [" + strings.Join(parts, ", ") + "]")
	}
	return row
}

// budgetRow renders one quota snapshot as table cells
func budgetRow(s budget.Status) []string {
	limit, remaining := "∞", "∞"
	if !s.Unmetered {
		limit = strconv.Itoa(s.Limit)
		remaining = strconv.Itoa(s.Remaining)
	}
	return []string{s.Provider, strconv.Itoa(s.Used), limit, remaining, s.ResetsAt.UTC().Format(time.RFC3339)}
}

func printOutcomes(w io.Writer, outcomes []marketdata.Outcome) {
	printTableHeader(w, outcomeColumns, outcomeWidths)
	for _, o := range outcomes {
		printTableRow(w, outcomeRow(o), outcomeWidths)
	}
}

func printBudget(w io.Writer, statuses []budget.Status) {
	printTableHeader(w, budgetColumns, budgetWidths)
	for _, s := range statuses {
		printTableRow(w, budgetRow(s), budgetWidths)
	}
}

func printEntry(w io.Writer, entry *cache.Entry, fresh bool, tail int) {
	desc := handlers.DescribeEntry(entry, fresh)

	printDoubleSeparator(w)
	fmt.Fprintf(w, "  %s\n", entry.Key)
	printSeparator(w)
	printKeyValue(w, "As of", desc.AsOf, 10)
	printKeyValue(w, "Fetched at", desc.FetchedAt, 10)
	printKeyValue(w, "TTL class", desc.TTLClass, 10)
	printKeyValue(w, "Fresh", strconv.FormatBool(desc.Fresh), 10)
	printKeyValue(w, "Points", fmt.Sprintf("%d (from %s)", desc.Points, desc.FirstDate), 10)
	printSeparator(w)

	points := entry.Series.Points
	if tail > 0 && len(points) > tail {
		points = points[len(points)-tail:]
	}
	for _, p := range points {
		fmt.Fprintf(w, "   %s  %12s  %d\n", p.Date.Format(provider.DateLayout), p.Value.String(), p.Volume)
	}
}

// printSeparator prints a visual separator
func printSeparator(w io.Writer) {
	fmt.Fprintln(w, "───────────────────────────────────────────────────────────")
}

// printDoubleSeparator prints a double-line separator
func printDoubleSeparator(w io.Writer) {
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
}

// printTableHeader prints a table header
func printTableHeader(w io.Writer, columns []string, widths []int) {
	printTableRow(w, columns, widths)

	totalWidth := 0
	for i, width := range widths {
		totalWidth += width
		if i < len(widths)-1 {
			totalWidth += 2 // spacing
		}
	}
	fmt.Fprintln(w, strings.Repeat("─", totalWidth))
}

// printTableRow prints a table row
func printTableRow(w io.Writer, values []string, widths []int) {
	for i, val := range values {
		if i < len(values)-1 {
			fmt.Fprintf(w, "%-*s  ", widths[i], val)
		} else {
			fmt.Fprint(w, val)
		}
	}
	fmt.Fprintln(w)
}

// printKeyValue prints key-value pairs
func printKeyValue(w io.Writer, key string, value string, keyWidth int) {
	fmt.Fprintf(w, "   %-*s : %s\n", keyWidth, key, value)
}

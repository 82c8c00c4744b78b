package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
)

// Usage prints quota consumption against both budgets.
func (a *App) Usage(_ context.Context) error {
	tracker, err := a.newQuotaTracker()
	if err != nil {
		return err
	}

	remaining := tracker.Remaining()

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Period\tUsed\tLimit\tRemaining\tUsed%")
	fmt.Fprintf(writer, "daily\t%d\t%d\t%d\t%.1f%%\n",
		remaining.DailyUsed, remaining.DailyLimit, remaining.DailyRemaining,
		usedPct(remaining.DailyUsed, remaining.DailyLimit))
	fmt.Fprintf(writer, "monthly\t%d\t%d\t%d\t%.1f%%\n",
		remaining.MonthlyUsed, remaining.MonthlyLimit, remaining.MonthlyRemaining,
		usedPct(remaining.MonthlyUsed, remaining.MonthlyLimit))
	return writer.Flush()
}

func usedPct(used, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit) * 100
}

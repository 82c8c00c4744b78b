package app

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"options-harvester/internal/session"
	"options-harvester/internal/storage"
)

// Status prints the current session progress and stored-data summary.
func (a *App) Status(ctx context.Context) error {
	state, err := session.NewFileStateStore(a.sessionStatePath()).Load()
	if err != nil {
		return err
	}
	if state == nil {
		fmt.Fprintln(os.Stdout, "no session state found")
	} else {
		printSessionState(state)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return nil
	}
	defer closeStore()

	return printStoredSummary(ctx, store)
}

func printSessionState(state *session.State) {
	total := len(state.Targets)
	pct := 0.0
	if total > 0 {
		pct = float64(len(state.Completed)) / float64(total) * 100
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Session\t%s\n", state.SessionID)
	fmt.Fprintf(writer, "Status\t%s\n", state.Status)
	fmt.Fprintf(writer, "Started\t%s\n", state.StartTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(writer, "Last update\t%s\n", state.LastUpdate.UTC().Format(time.RFC3339))
	fmt.Fprintf(writer, "Progress\t%d/%d (%.1f%%)\n", len(state.Completed), total, pct)
	fmt.Fprintf(writer, "Pending\t%d\n", len(state.Pending))
	if state.InProgress != "" {
		fmt.Fprintf(writer, "In progress\t%s\n", state.InProgress)
	}
	fmt.Fprintf(writer, "Records fetched\t%d\n", state.Stats.RecordsFetched)
	fmt.Fprintf(writer, "Units consumed\t%d\n", state.Stats.UnitsConsumed)
	fmt.Fprintf(writer, "Errors\t%d\n", state.Stats.Errors)
	writer.Flush()

	if len(state.Failed) == 0 {
		return
	}

	ids := make([]string, 0, len(state.Failed))
	for id := range state.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintln(os.Stdout, "\nfailed targets:")
	failWriter := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(failWriter, "Target\tRetries\tError")
	for _, id := range ids {
		failure := state.Failed[id]
		fmt.Fprintf(failWriter, "%s\t%d\t%s\n", id, failure.RetryCount, sanitizeInline(failure.Error))
	}
	failWriter.Flush()
}

func printStoredSummary(ctx context.Context, store *storage.Store) error {
	fmt.Fprintln(os.Stdout, "\nstored data:")
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Family\tRows\tDates\tExpiries\tStrikes\tFirst\tLast")

	for _, family := range []storage.Family{storage.FamilyIndex, storage.FamilyConstituent} {
		stats, err := store.SummaryStats(ctx, family)
		if err != nil {
			return err
		}
		fmt.Fprintf(writer, "%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			family,
			stats.TotalRows,
			stats.DistinctDates,
			stats.DistinctExpiries,
			stats.DistinctStrikes,
			formatDate(stats.MinDate),
			formatDate(stats.MaxDate),
		)
	}
	return writer.Flush()
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02")
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

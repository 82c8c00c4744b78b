package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"options-harvester/internal/fetch"
	"options-harvester/internal/session"
	"options-harvester/internal/universe"
)

// Fetch executes one acquisition run: build or resume the session target set,
// then drive the orchestrator until the queue drains or the run is stopped.
func (a *App) Fetch(ctx context.Context, opts FetchOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	policy := opts.Policy
	if policy == "" {
		policy = a.Config.Quota.Policy
	}
	if policy != fetch.PolicyAbort && policy != fetch.PolicySkip {
		return fmt.Errorf("invalid quota policy %q: must be abort or skip", policy)
	}

	universeCfg := a.Config.Universe
	if opts.TopN > 0 {
		universeCfg.TopN = opts.TopN
	}
	targets := universe.NewBuilder(universeCfg).
		WithHistoryDays(a.Config.Fetch.HistoryDays).
		Build()
	if len(targets) == 0 {
		return errors.New("universe produced no targets; check max_days_to_expiry")
	}

	if opts.DryRun {
		return a.printPlan(targets)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; cannot fetch")
	}
	defer closeStore()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	mgr, err := a.newSessionManager(store)
	if err != nil {
		return err
	}

	if err := a.prepareSession(mgr, targets, opts.Resume); err != nil {
		return err
	}

	tracker, err := a.newQuotaTracker()
	if err != nil {
		return err
	}

	orch := fetch.New(fetch.Options{
		Fetch:       a.Config.Fetch,
		Market:      a.Config.Universe.MarketQualifier,
		Client:      a.newGateway(),
		Session:     mgr,
		Quota:       tracker,
		Pipeline:    a.newPipeline(),
		Stores:      fetch.Stores{Options: store, Equity: store},
		QuotaPolicy: policy,
	}, a.Logger)

	result, err := orch.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		a.Logger.Info().Msg("run interrupted; session state saved for resume")
		return nil
	case errors.Is(err, fetch.ErrQuotaExhausted):
		a.printResult(result)
		return err
	case err != nil:
		return err
	}

	a.printResult(result)
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d of %d targets failed", len(result.Failed), len(result.Successful)+len(result.Failed))
	}
	return nil
}

// prepareSession decides between resuming an interrupted session and starting
// a fresh one. Resume only applies to a session that still has work queued.
func (a *App) prepareSession(mgr *session.Manager, targets []session.Target, resume bool) error {
	summary := mgr.Summary()
	resumable := summary.Pending > 0 || summary.InProgress != ""
	active := summary.Status == session.StatusReady || summary.Status == session.StatusFetching

	if resume && active && resumable {
		a.Logger.Info().
			Str("session_id", summary.SessionID).
			Int("pending", summary.Pending).
			Int("completed", summary.Completed).
			Msg("resuming interrupted session")
		return nil
	}

	if resume {
		a.Logger.Warn().Str("status", summary.Status).Msg("no resumable session; starting fresh")
	}
	if err := mgr.Reset(); err != nil {
		return err
	}
	return mgr.Initialize(targets)
}

func (a *App) printPlan(targets []session.Target) error {
	market := a.Config.Universe.MarketQualifier

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Target\tKind\tUnderlying\tExpiry\tEst. Units")

	var total int64
	for _, target := range targets {
		cost := fetch.EstimateCost(target, market)
		total += cost

		expiry := "-"
		if !target.Expiry.IsZero() {
			expiry = target.Expiry.Format("2006-01-02")
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%d\n", target.ID, target.Kind, target.Underlying, expiry, cost)
	}
	writer.Flush()

	fmt.Fprintf(os.Stdout, "\n%d targets, estimated %d quota units (daily limit %d)\n",
		len(targets), total, a.Config.Quota.DailyLimit)
	return nil
}

func (a *App) printResult(result fetch.Result) {
	fmt.Fprintf(os.Stdout, "successful: %d\nfailed: %d\nrecords: %d\nunits consumed: %d\n",
		len(result.Successful), len(result.Failed), result.TotalRecords, result.UnitsConsumed)
	if result.Aborted {
		fmt.Fprintln(os.Stdout, "run aborted on quota exhaustion; rerun with --resume once quota recovers")
	}
	for _, id := range result.Failed {
		if msg := result.Errors[id]; msg != "" {
			fmt.Fprintf(os.Stdout, "failed target: %s (%s)\n", id, msg)
			continue
		}
		fmt.Fprintf(os.Stdout, "failed target: %s\n", id)
	}
}

package app

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"options-harvester/internal/config"
	"options-harvester/internal/pipeline"
	"options-harvester/internal/quota"
	"options-harvester/internal/session"
	"options-harvester/internal/storage"
	"options-harvester/internal/terminal"
)

const sessionStateFile = "fetch_session.json"

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) sessionStatePath() string {
	return filepath.Join(a.Config.State.Dir, sessionStateFile)
}

func (a *App) newSessionManager(audit session.AuditLog) (*session.Manager, error) {
	store := session.NewFileStateStore(a.sessionStatePath())
	return session.NewManager(store, audit, a.Logger)
}

func (a *App) newQuotaTracker() (*quota.Tracker, error) {
	store := quota.NewFileLedgerStore(a.Config.Quota.LedgerPath)
	limits := quota.Limits{
		Daily:   a.Config.Quota.DailyLimit,
		Monthly: a.Config.Quota.MonthlyLimit,
	}
	return quota.NewTracker(limits, store, a.Logger)
}

func (a *App) newGateway() *terminal.Gateway {
	return terminal.NewGateway(terminal.GatewayOptions{
		Host:           a.Config.Terminal.Host,
		Port:           a.Config.Terminal.Port,
		Timeout:        a.Config.Terminal.RequestTimeout,
		ConnectRetries: a.Config.Terminal.ConnectRetries,
		ConnectBackoff: a.Config.Terminal.ConnectBackoff,
		UserAgent:      a.Config.Terminal.UserAgent,
	}, a.Logger)
}

func (a *App) newPipeline() *pipeline.Pipeline {
	return pipeline.New(pipeline.Options{
		SpreadCeilingPct: a.Config.Export.SpreadCeilingPct,
		GreeksFallback:   a.Config.Greeks.FallbackEnabled,
		RiskFreeRate:     a.Config.Greeks.RiskFreeRate,
	}, a.Logger)
}

// FetchOptions configure one acquisition run.
type FetchOptions struct {
	Resume bool
	DryRun bool
	// Policy overrides quota.policy for this run; empty keeps the config value.
	Policy string
	// TopN limits the constituent universe for this run; 0 keeps the config value.
	TopN int
}

// ExportOptions hold parameters for exporting stored observations.
type ExportOptions struct {
	Family      string
	From        *time.Time
	To          *time.Time
	CSVPath     string
	ParquetPath string
	PNGPath     string
	MaxRows     int
}

// PurgeOptions configure deletion of aged observations.
type PurgeOptions struct {
	Family        string
	OlderThanDays int
}

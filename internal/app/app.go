package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"journalfill/internal/backfill"
	"journalfill/internal/compute"
	"journalfill/internal/config"
	"journalfill/internal/ingest"
	"journalfill/internal/logger"
	"journalfill/internal/market"
	"journalfill/internal/plan"
	"journalfill/internal/provider/polygon"
	"journalfill/internal/session"
	"journalfill/internal/store"
	"journalfill/internal/store/gormstore"
	"journalfill/internal/store/runlog"
)

// symbolSource lists the symbols a run should cover. The trade ledger
// provides it in database mode; a parsed pairs file provides it in CSV
// mode.
type symbolSource interface {
	Symbols(ctx context.Context) ([]string, error)
}

// App wires the whole backfill together: provider client, journal store,
// run log and orchestrator.
type App struct {
	cfg     *config.Config
	store   *gormstore.Store
	runs    *runlog.Store
	orch    *backfill.Orchestrator
	symbols symbolSource
}

// New builds an app against the configured journal database. When pairs is
// non-empty the run plans exactly those (symbol, date) pairs instead of
// scanning the ledger; previous closes still land on matching trades.
func New(cfg *config.Config, pairs []market.BackfillRequest) (*App, error) {
	windows, err := loadWindows(cfg.Calendar)
	if err != nil {
		return nil, err
	}

	client, err := polygon.New(polygon.Config{
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.BaseURL,
		Timeout:       cfg.Timeout,
		MaxConcurrent: cfg.Concurrency,
		Adjusted:      cfg.Adjusted,
		Retry: polygon.RetryPolicy{
			MaxAttempts: cfg.MaxRetries,
			InitialWait: cfg.RetryInitial,
			MaxWait:     cfg.RetryMax,
			Retryable:   polygon.IsRetryable,
		},
	}, windows)
	if err != nil {
		return nil, err
	}

	st, err := gormstore.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	runs, err := runlog.Open(cfg.RunLogPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open run log: %w", err)
	}

	var trades plan.TradeDateSource = st
	var symbols symbolSource = st
	if len(pairs) > 0 {
		set := ingest.NewPairSet(pairs)
		trades = set
		symbols = set
	}

	orch := backfill.New(client, st, st, trades, compute.New(windows), windows, backfill.Options{
		Concurrency: cfg.Concurrency,
		BatchSize:   cfg.BatchSize,
	})

	return &App{cfg: cfg, store: st, runs: runs, orch: orch, symbols: symbols}, nil
}

func loadWindows(calendarPath string) (*session.Calculator, error) {
	if calendarPath == "" {
		return session.NewCalculator()
	}
	cal, err := session.LoadCalendar(calendarPath)
	if err != nil {
		return nil, err
	}
	return session.NewCalculatorFromCalendar(cal)
}

// Run executes one full backfill and records its report. A run with any
// failed work returns an error so the caller can exit non-zero.
func (a *App) Run(ctx context.Context) error {
	symbols, err := a.symbols.Symbols(ctx)
	if err != nil {
		return fmt.Errorf("list symbols: %w", err)
	}
	if len(symbols) == 0 {
		logger.Infof("nothing to backfill: no symbols found")
		return nil
	}
	logger.Infof("backfilling %d symbols (concurrency=%d, batch=%d)",
		len(symbols), a.cfg.Concurrency, a.cfg.BatchSize)

	started := time.Now().UTC()
	totals, err := a.orch.BackfillAll(ctx, symbols)
	if err != nil {
		return err
	}

	report := runlog.Run{
		ID:           uuid.NewString(),
		StartedAt:    started,
		FinishedAt:   time.Now().UTC(),
		Symbols:      totals.Symbols,
		RowsFetched:  totals.RowsFetched,
		PrevCloseSet: totals.PrevCloseSet,
		Spans:        totals.Spans,
		Errors:       totals.Errors,
	}
	if err := a.runs.Record(ctx, report); err != nil {
		logger.Warnf("recording run report: %v", err)
	}
	logger.Infow("run recorded",
		"run_id", report.ID,
		"took", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))

	if totals.Errors > 0 {
		return fmt.Errorf("backfill finished with %d errors", totals.Errors)
	}
	return nil
}

// Status prints backfill coverage for the journal database.
func (a *App) Status(ctx context.Context) (store.Status, error) {
	return a.store.Status(ctx)
}

// RecentRuns returns the latest recorded run reports, newest first.
func (a *App) RecentRuns(ctx context.Context, limit int) ([]runlog.Run, error) {
	return a.runs.Recent(ctx, limit)
}

func (a *App) Close() {
	if err := a.runs.Close(); err != nil {
		logger.Warnf("closing run log: %v", err)
	}
	if err := a.store.Close(); err != nil {
		logger.Warnf("closing journal database: %v", err)
	}
}

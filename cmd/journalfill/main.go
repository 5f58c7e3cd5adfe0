// Backfill market context for a trading journal: for every (symbol, date)
// a trade happened on, fetch session highs/lows, the daily aggregate and
// the previous close from Polygon, and upsert them into the journal
// database.
//
// Usage:
//
//	journalfill [-pairs-csv pairs.csv] [-db journal.sqlite3]
//	            [-concurrency 12] [-batch-size 300]
//	            [-log-level INFO] [-status] [-create-sample pairs.csv]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"journalfill/internal/app"
	"journalfill/internal/config"
	"journalfill/internal/ingest"
	"journalfill/internal/logger"
	"journalfill/internal/market"
)

func main() {
	if err := run(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run() error {
	pairsCSV := flag.String("pairs-csv", "", "CSV of symbol,trade_date pairs to backfill (default: scan the journal's trades)")
	dbPath := flag.String("db", "", "journal SQLite database path (overrides JOURNALFILL_DB_PATH)")
	concurrency := flag.Int("concurrency", 0, "max concurrent provider fetches (overrides JOURNALFILL_CONCURRENCY)")
	batchSize := flag.Int("batch-size", 0, "rows per database write batch (overrides JOURNALFILL_BATCH_SIZE)")
	logLevel := flag.String("log-level", "INFO", "log level: DEBUG, INFO, WARNING or ERROR")
	status := flag.Bool("status", false, "print backfill coverage and recent runs, then exit")
	createSample := flag.String("create-sample", "", "write a sample pairs CSV to this path and exit")
	flag.Parse()

	logger.SetLevel(*logLevel)

	// Optional .env next to the binary; real environment wins.
	if err := godotenv.Load(); err == nil {
		logger.Debugf("loaded .env")
	}

	if *createSample != "" {
		if err := ingest.WriteSamplePairs(*createSample); err != nil {
			return err
		}
		fmt.Printf("sample pairs file written to %s\n", *createSample)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}
	if *batchSize > 0 {
		cfg.BatchSize = *batchSize
	}

	var pairs []market.BackfillRequest
	if *pairsCSV != "" {
		pairs, err = ingest.LoadPairsFile(*pairsCSV)
		if err != nil {
			return err
		}
		if len(pairs) == 0 {
			return fmt.Errorf("pairs file %s has no usable rows", *pairsCSV)
		}
		logger.Infof("loaded %d pairs from %s", len(pairs), *pairsCSV)
	}

	a, err := app.New(cfg, pairs)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *status {
		return printStatus(ctx, a)
	}
	return a.Run(ctx)
}

func printStatus(ctx context.Context, a *app.App) error {
	st, err := a.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("trades:               %d\n", st.TotalTrades)
	fmt.Printf("  with price context: %d\n", st.TradesWithPrices)
	fmt.Printf("  with prev close:    %d\n", st.TradesWithPrevious)
	fmt.Printf("backfill rows:        %d\n", st.BackfillRows)
	fmt.Printf("symbols:              %d\n", st.Symbols)

	runs, err := a.RecentRuns(ctx, 5)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return nil
	}
	fmt.Println("\nrecent runs:")
	for _, r := range runs {
		fmt.Printf("  %s  %s  rows=%d prev=%d spans=%d errors=%d\n",
			r.StartedAt.Format("2006-01-02 15:04:05"),
			strings.Split(r.ID, "-")[0],
			r.RowsFetched, r.PrevCloseSet, r.Spans, r.Errors)
	}
	return nil
}

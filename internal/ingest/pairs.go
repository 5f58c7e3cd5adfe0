package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"journalfill/internal/logger"
	"journalfill/internal/market"
)

// ParsePairs reads a (symbol, trade_date) work list from CSV. The first
// record must be a "symbol,trade_date" header. Malformed rows are logged
// and skipped rather than failing the whole file; symbols are uppercased.
func ParsePairs(r io.Reader) ([]market.BackfillRequest, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("pairs file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read pairs header: %w", err)
	}
	if len(header) < 2 ||
		!strings.EqualFold(strings.TrimSpace(header[0]), "symbol") ||
		!strings.EqualFold(strings.TrimSpace(header[1]), "trade_date") {
		return nil, fmt.Errorf("pairs file must start with a symbol,trade_date header, got %v", header)
	}

	var out []market.BackfillRequest
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			logger.Warnf("pairs line %d: %v, skipping", line, err)
			continue
		}
		if len(record) < 2 {
			logger.Warnf("pairs line %d: expected symbol,trade_date, got %d fields, skipping", line, len(record))
			continue
		}
		symbol := strings.ToUpper(strings.TrimSpace(record[0]))
		if symbol == "" {
			logger.Warnf("pairs line %d: empty symbol, skipping", line)
			continue
		}
		date, err := market.ParseDate(strings.TrimSpace(record[1]))
		if err != nil {
			logger.Warnf("pairs line %d: bad trade_date %q, skipping", line, record[1])
			continue
		}
		out = append(out, market.BackfillRequest{Symbol: symbol, TradeDate: date})
	}
	return out, nil
}

// LoadPairsFile is ParsePairs over a path.
func LoadPairsFile(path string) ([]market.BackfillRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pairs file: %w", err)
	}
	defer f.Close()
	return ParsePairs(f)
}

var sampleSymbols = []string{"AAPL", "MSFT", "GOOGL", "TSLA", "NVDA"}

// WriteSamplePairs writes a starter pairs file dated today so a new user
// has something runnable to edit.
func WriteSamplePairs(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create sample pairs file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"symbol", "trade_date"}); err != nil {
		return err
	}
	today := market.FormatDate(time.Now())
	for _, s := range sampleSymbols {
		if err := w.Write([]string{s, today}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

// PairSet adapts a parsed pairs list to the planner's trade-date source, so
// a CSV run plans exactly the listed work without consulting the ledger.
type PairSet struct {
	bySymbol map[string][]time.Time
}

func NewPairSet(pairs []market.BackfillRequest) *PairSet {
	bySymbol := make(map[string][]time.Time)
	for _, p := range pairs {
		bySymbol[p.Symbol] = append(bySymbol[p.Symbol], market.Midnight(p.TradeDate))
	}
	for sym := range bySymbol {
		sort.Slice(bySymbol[sym], func(i, j int) bool { return bySymbol[sym][i].Before(bySymbol[sym][j]) })
	}
	return &PairSet{bySymbol: bySymbol}
}

// Symbols returns the distinct symbols in the set, ascending.
func (p *PairSet) Symbols(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(p.bySymbol))
	for sym := range p.bySymbol {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

// TradeDates returns the set's dates for one symbol, ascending.
func (p *PairSet) TradeDates(ctx context.Context, symbol string) ([]time.Time, error) {
	return p.bySymbol[symbol], nil
}

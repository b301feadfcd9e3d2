// Package ingest loads raw option chain exports, persists them as Parquet,
// and exposes stored chains as a feed source.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/7uyf/backtrade/internal/domain"
)

// Raw chain exports carry one option quote per row, keyed by observation
// time. Column layout follows the ivol dte exports.
const (
	csvTimeLayout       = "2006-01-02 15:04:05"
	csvExpirationLayout = "2006-01-02"
)

// requiredColumns are the header names a chain CSV must carry. Extra columns
// (sizes, volume, rho) are ignored.
var requiredColumns = []string{
	"t_date", "stock_symbol", "expiration_date", "strike", "price_opt",
	"call_put", "price_bid", "price_ask", "iv", "delta", "gamma", "theta", "vega",
}

// ReadChainCSV parses a raw chain export into chronologically ordered
// snapshots, one per distinct observation time.
func ReadChainCSV(path string) ([]*domain.ChainSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening chain csv: %w", err)
	}
	defer f.Close()
	return parseChainCSV(f)
}

func parseChainCSV(r io.Reader) ([]*domain.ChainSnapshot, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("chain csv missing column %q", name)
		}
	}

	byTime := make(map[time.Time][]domain.Contract)
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv line %d: %w", line, err)
		}
		c, err := contractFromRow(row, cols)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		byTime[c.Time] = append(byTime[c.Time], c)
	}

	times := make([]time.Time, 0, len(byTime))
	for t := range byTime {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	snapshots := make([]*domain.ChainSnapshot, 0, len(times))
	for _, t := range times {
		snapshots = append(snapshots, domain.NewChainSnapshot(t, byTime[t]))
	}
	return snapshots, nil
}

func contractFromRow(row []string, cols map[string]int) (domain.Contract, error) {
	field := func(name string) string { return row[cols[name]] }

	t, err := time.Parse(csvTimeLayout, field("t_date"))
	if err != nil {
		return domain.Contract{}, fmt.Errorf("parsing t_date: %w", err)
	}
	// Expiration appears both with and without a time component.
	exp, err := time.Parse(csvExpirationLayout, field("expiration_date"))
	if err != nil {
		exp, err = time.Parse(csvTimeLayout, field("expiration_date"))
		if err != nil {
			return domain.Contract{}, fmt.Errorf("parsing expiration_date: %w", err)
		}
	}

	right := domain.Right(field("call_put"))
	if right != domain.Call && right != domain.Put {
		return domain.Contract{}, fmt.Errorf("unknown call_put value %q", field("call_put"))
	}

	strike, err := strconv.ParseFloat(field("strike"), 64)
	if err != nil {
		return domain.Contract{}, fmt.Errorf("parsing strike: %w", err)
	}

	return domain.Contract{
		Time:       t,
		Symbol:     field("stock_symbol"),
		Expiration: exp,
		Strike:     strike,
		Underlying: optionalFloat(field("price_opt")),
		Right:      right,
		Bid:        optionalFloat(field("price_bid")),
		Ask:        optionalFloat(field("price_ask")),
		IV:         optionalFloat(field("iv")),
		Delta:      optionalFloat(field("delta")),
		Gamma:      optionalFloat(field("gamma")),
		Theta:      optionalFloat(field("theta")),
		Vega:       optionalFloat(field("vega")),
	}, nil
}

// optionalFloat treats empty and malformed cells as zero, matching how the
// raw exports encode missing greeks.
func optionalFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/7uyf/backtrade/internal/domain"
)

// ChainStore persists option chain snapshots as Parquet files on disk, one
// file per symbol and trading day:
//
//	<DataDir>/chains/<SYMBOL>/<YYYY-MM-DD>.parquet
type ChainStore struct {
	DataDir string
}

// NewChainStore creates a chain store rooted at the given data directory.
func NewChainStore(dataDir string) *ChainStore {
	return &ChainStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record type (on-disk schema)
// ---------------------------------------------------------------------------

// ChainRecord is the Parquet schema for one option quote.
type ChainRecord struct {
	Time       int64   `parquet:"time,timestamp(millisecond)"` // Unix ms
	Symbol     string  `parquet:"symbol"`
	Expiration int64   `parquet:"expiration,timestamp(millisecond)"` // Unix ms
	Strike     float64 `parquet:"strike"`
	Underlying float64 `parquet:"underlying"`
	Right      string  `parquet:"right"`
	Bid        float64 `parquet:"bid"`
	Ask        float64 `parquet:"ask"`
	IV         float64 `parquet:"iv"`
	Delta      float64 `parquet:"delta"`
	Gamma      float64 `parquet:"gamma"`
	Theta      float64 `parquet:"theta"`
	Vega       float64 `parquet:"vega"`
}

// ---------------------------------------------------------------------------
// Write / read
// ---------------------------------------------------------------------------

// WriteSnapshots persists snapshots grouped by symbol and trading day,
// merging into any existing day files. A quote is identified by its contract
// plus observation time; new quotes win over existing ones.
func (s *ChainStore) WriteSnapshots(snapshots []*domain.ChainSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	type key struct {
		symbol string
		date   string // YYYY-MM-DD
	}
	groups := make(map[key][]ChainRecord)
	for _, snap := range snapshots {
		for _, c := range snap.Contracts() {
			k := key{symbol: c.Symbol, date: c.Time.Format("2006-01-02")}
			groups[k] = append(groups[k], recordFromContract(c))
		}
	}

	for k, records := range groups {
		path := s.chainPath(k.symbol, k.date)

		existing, _ := readParquetFile[ChainRecord](path)
		merged := mergeChainRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing chain for %s/%s: %w", k.symbol, k.date, err)
		}
	}
	return nil
}

// ReadDay loads one symbol's snapshots for a trading day, in chronological
// order. A missing day file yields no snapshots and no error.
func (s *ChainStore) ReadDay(symbol string, day time.Time) ([]*domain.ChainSnapshot, error) {
	records, err := readParquetFile[ChainRecord](s.chainPath(symbol, day.Format("2006-01-02")))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading chain for %s/%s: %w", symbol, day.Format("2006-01-02"), err)
	}

	byTime := make(map[time.Time][]domain.Contract)
	for _, r := range records {
		c := r.contract()
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

// ListDays lists the trading days stored for a symbol, sorted ascending.
func (s *ChainStore) ListDays(symbol string) ([]time.Time, error) {
	dir := filepath.Join(s.DataDir, "chains", strings.ToUpper(symbol))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var days []time.Time
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".parquet")
		if !ok {
			continue
		}
		d, err := time.Parse("2006-01-02", name)
		if err != nil {
			continue
		}
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

// ListSymbols lists all symbols with stored chain data.
func (s *ChainStore) ListSymbols() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "chains"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// chainPath returns the filesystem path for a symbol's day file.
func (s *ChainStore) chainPath(symbol, date string) string {
	return filepath.Join(s.DataDir, "chains", strings.ToUpper(symbol), date+".parquet")
}

// ---------------------------------------------------------------------------
// Record conversion and merging
// ---------------------------------------------------------------------------

func recordFromContract(c domain.Contract) ChainRecord {
	return ChainRecord{
		Time:       c.Time.UnixMilli(),
		Symbol:     c.Symbol,
		Expiration: c.Expiration.UnixMilli(),
		Strike:     c.Strike,
		Underlying: c.Underlying,
		Right:      string(c.Right),
		Bid:        c.Bid,
		Ask:        c.Ask,
		IV:         c.IV,
		Delta:      c.Delta,
		Gamma:      c.Gamma,
		Theta:      c.Theta,
		Vega:       c.Vega,
	}
}

func (r ChainRecord) contract() domain.Contract {
	return domain.Contract{
		Time:       time.UnixMilli(r.Time).UTC(),
		Symbol:     r.Symbol,
		Expiration: time.UnixMilli(r.Expiration).UTC(),
		Strike:     r.Strike,
		Underlying: r.Underlying,
		Right:      domain.Right(r.Right),
		Bid:        r.Bid,
		Ask:        r.Ask,
		IV:         r.IV,
		Delta:      r.Delta,
		Gamma:      r.Gamma,
		Theta:      r.Theta,
		Vega:       r.Vega,
	}
}

// mergeChainRecords deduplicates records by (time, contract), preferring new
// records over existing ones. Results are sorted by time, then expiration,
// strike, and right for stable files.
func mergeChainRecords(existing, incoming []ChainRecord) []ChainRecord {
	type key struct {
		time       int64
		symbol     string
		expiration int64
		strike     float64
		right      string
	}
	seen := make(map[key]ChainRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Time, r.Symbol, r.Expiration, r.Strike, r.Right}] = r
	}
	for _, r := range incoming {
		seen[key{r.Time, r.Symbol, r.Expiration, r.Strike, r.Right}] = r
	}

	merged := make([]ChainRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		if a.Expiration != b.Expiration {
			return a.Expiration < b.Expiration
		}
		if a.Strike != b.Strike {
			return a.Strike < b.Strike
		}
		return a.Right < b.Right
	})
	return merged
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

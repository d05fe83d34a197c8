// Package provider supplies daily OHLCV history to the driver. CSVProvider
// reads a local file per symbol (spec §5's offline/deterministic data
// source); CachingProvider decorates any Fetcher with the gorm-backed
// OHLCVStore cache the teacher's file-cache layer inspired, avoiding a
// re-read of the same symbol across repeated runs.
package provider

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/khangdang-jpg/weeklyback/internal/model"
	"github.com/khangdang-jpg/weeklyback/internal/store"
)

// Fetcher matches driver.HistoryFetcher without importing the driver
// package, so provider stays a leaf dependency.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error)
}

// CSVProvider reads "<dir>/<symbol>.csv" files with a
// date,open,high,low,close,volume header, the simplest possible offline
// data source for a deterministic backtest.
type CSVProvider struct {
	Dir string
}

func (p CSVProvider) Fetch(_ context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	path := filepath.Join(p.Dir, symbol+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("provider: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("provider: read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var bars []model.Bar
	for _, row := range rows[1:] { // skip header
		if len(row) < 6 {
			return nil, fmt.Errorf("provider: %s: malformed row %v", path, row)
		}
		d, err := time.Parse("2006-01-02", row[0])
		if err != nil {
			return nil, fmt.Errorf("provider: %s: bad date %q: %w", path, row[0], err)
		}
		if d.Before(from) || d.After(to) {
			continue
		}
		bar, err := parseBar(d, row)
		if err != nil {
			return nil, fmt.Errorf("provider: %s: %w", path, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseBar(d time.Time, row []string) (model.Bar, error) {
	vals := make([]float64, 5)
	for i, s := range row[1:6] {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("field %d (%q): %w", i+1, s, err)
		}
		vals[i] = v
	}
	return model.Bar{Date: d, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}, nil
}

// CachingProvider decorates a Fetcher with a whole-series cache: a symbol's
// full available history is fetched once and stored, then served from
// OHLCVStore on every later call, re-slicing in memory to the requested
// range rather than re-touching the underlying source. A cache row older
// than TTL is treated as a miss and re-fetched from Inner, the same
// staleness check the teacher runs before trusting its own OHLCV cache.
type CachingProvider struct {
	Inner Fetcher
	Cache *store.OHLCVStore
	TTL   time.Duration
}

func (p CachingProvider) Fetch(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	if cached, ok, err := p.Cache.Get(symbol, p.TTL); err != nil {
		return nil, fmt.Errorf("provider: cache read %s: %w", symbol, err)
	} else if ok {
		return sliceRange(cached, from, to), nil
	}

	bars, err := p.Inner.Fetch(ctx, symbol, time.Time{}, time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return nil, err
	}
	if err := p.Cache.Put(symbol, bars); err != nil {
		return nil, fmt.Errorf("provider: cache write %s: %w", symbol, err)
	}
	return sliceRange(bars, from, to), nil
}

func sliceRange(bars []model.Bar, from, to time.Time) []model.Bar {
	var out []model.Bar
	for _, b := range bars {
		if !b.Date.Before(from) && !b.Date.After(to) {
			out = append(out, b)
		}
	}
	return out
}

// Package store persists cached OHLCV series and finished run records in
// SQLite via gorm, mirroring the teacher's OHLCVCache/BacktestLabHistory
// tables and PRAGMA tuning.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/khangdang-jpg/weeklyback/internal/model"
)

// CachedSeries is one symbol's daily OHLCV history as compact JSON, keyed by
// symbol (daily bars only — this repo has no other interval to key on).
type CachedSeries struct {
	ID        uint      `gorm:"primaryKey"`
	Symbol    string    `gorm:"uniqueIndex:idx_series_symbol;not null"`
	DataJSON  string    `gorm:"type:text"`
	BarCount  int       `gorm:"default:0"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// RunRecord is one finished backtest run's metadata and serialized summary,
// kept so the API server can list history and replay a prior run.
type RunRecord struct {
	ID          uint      `gorm:"primaryKey"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	FromDate    string
	ToDate      string
	ExitMode    string
	TieBreaker  string
	SummaryJSON string `gorm:"type:text"`
	PlanJSON    string `gorm:"type:text"`
}

// DB wraps a gorm connection opened against a single SQLite file, with the
// same WAL/busy-timeout tuning the teacher applies.
type DB struct {
	conn *gorm.DB
}

// Open connects to path, applies PRAGMA tuning, and auto-migrates the
// schema.
func Open(path string) (*DB, error) {
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	conn.Exec("PRAGMA journal_mode=WAL")
	conn.Exec("PRAGMA busy_timeout=5000")
	conn.Exec("PRAGMA synchronous=NORMAL")

	if err := conn.AutoMigrate(&CachedSeries{}, &RunRecord{}); err != nil {
		return nil, fmt.Errorf("store: automigrate: %w", err)
	}
	return &DB{conn: conn}, nil
}

// OHLCVStore is the CachedSeries-backed read/write surface the caching
// provider decorator uses.
type OHLCVStore struct {
	db *DB
}

func (d *DB) OHLCV() *OHLCVStore { return &OHLCVStore{db: d} }

// Close releases the underlying SQLite connection.
func (d *DB) Close() error {
	sqlDB, err := d.conn.DB()
	if err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return sqlDB.Close()
}

// Get returns a symbol's cached bars, or ok=false on a cache miss or on a
// row older than maxAge — the same time.Since(UpdatedAt) >= freshness check
// the teacher runs before trusting its own OHLCV cache. maxAge <= 0 disables
// the freshness check (a row is good forever once written).
func (s *OHLCVStore) Get(symbol string, maxAge time.Duration) ([]model.Bar, bool, error) {
	var row CachedSeries
	if err := s.db.conn.Where("symbol = ?", symbol).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: get %s: %w", symbol, err)
	}
	if maxAge > 0 && time.Since(row.UpdatedAt) >= maxAge {
		return nil, false, nil
	}
	var bars []model.Bar
	if err := json.Unmarshal([]byte(row.DataJSON), &bars); err != nil {
		return nil, false, fmt.Errorf("store: unmarshal %s: %w", symbol, err)
	}
	return bars, true, nil
}

// Put upserts a symbol's full bar history.
func (s *OHLCVStore) Put(symbol string, bars []model.Bar) error {
	data, err := json.Marshal(bars)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", symbol, err)
	}
	row := CachedSeries{Symbol: symbol, DataJSON: string(data), BarCount: len(bars)}
	return s.db.conn.
		Where("symbol = ?", symbol).
		Assign(CachedSeries{DataJSON: row.DataJSON, BarCount: row.BarCount}).
		FirstOrCreate(&row).Error
}

// RunStore is the RunRecord-backed persistence the API server and replay
// command use.
type RunStore struct {
	db *DB
}

func (d *DB) Runs() *RunStore { return &RunStore{db: d} }

// Save inserts a new run record and returns its assigned ID.
func (s *RunStore) Save(r RunRecord) (uint, error) {
	if err := s.db.conn.Create(&r).Error; err != nil {
		return 0, fmt.Errorf("store: save run: %w", err)
	}
	return r.ID, nil
}

// Get fetches a run record by ID.
func (s *RunStore) Get(id uint) (RunRecord, error) {
	var r RunRecord
	if err := s.db.conn.First(&r, id).Error; err != nil {
		return RunRecord{}, fmt.Errorf("store: get run %d: %w", id, err)
	}
	return r, nil
}

// List returns run records newest-first.
func (s *RunStore) List() ([]RunRecord, error) {
	var rows []RunRecord
	if err := s.db.conn.Order("created_at desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	return rows, nil
}

// Delete removes a run record by ID.
func (s *RunStore) Delete(id uint) error {
	if err := s.db.conn.Delete(&RunRecord{}, id).Error; err != nil {
		return fmt.Errorf("store: delete run %d: %w", id, err)
	}
	return nil
}

package store

import (
	"testing"
	"time"

	"github.com/khangdang-jpg/weeklyback/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return db
}

func TestOHLCVStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	bars := []model.Bar{
		{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Close: 100},
		{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: 101},
	}
	s := db.OHLCV()

	if _, ok, err := s.Get("AAA", 0); err != nil || ok {
		t.Fatalf("expected a clean cache miss, got ok=%v err=%v", ok, err)
	}

	if err := s.Put("AAA", bars); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := s.Get("AAA", 0)
	if err != nil || !ok {
		t.Fatalf("expected a hit after put, got ok=%v err=%v", ok, err)
	}
	if len(got) != 2 || got[1].Close != 101 {
		t.Errorf("unexpected round-tripped bars: %+v", got)
	}
}

func TestOHLCVStorePutOverwrites(t *testing.T) {
	db := openTestDB(t)
	s := db.OHLCV()
	_ = s.Put("AAA", []model.Bar{{Close: 1}})
	_ = s.Put("AAA", []model.Bar{{Close: 1}, {Close: 2}, {Close: 3}})

	got, _, _ := s.Get("AAA", 0)
	if len(got) != 3 {
		t.Fatalf("expected the later put to overwrite, got %d bars", len(got))
	}
}

func TestOHLCVStoreGetRejectsStaleRow(t *testing.T) {
	db := openTestDB(t)
	s := db.OHLCV()
	if err := s.Put("AAA", []model.Bar{{Close: 1}}); err != nil {
		t.Fatalf("put: %v", err)
	}

	if _, ok, err := s.Get("AAA", 0); err != nil || !ok {
		t.Fatalf("expected maxAge=0 to disable the freshness check, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := s.Get("AAA", time.Hour); err != nil || !ok {
		t.Fatalf("expected a row written moments ago to be fresh under a 1h TTL, got ok=%v err=%v", ok, err)
	}

	time.Sleep(2 * time.Millisecond)
	if _, ok, err := s.Get("AAA", time.Millisecond); err != nil || ok {
		t.Fatalf("expected a row older than a 1ms TTL to be treated as a cache miss, got ok=%v err=%v", ok, err)
	}
}

func TestRunStoreSaveListDelete(t *testing.T) {
	db := openTestDB(t)
	runs := db.Runs()

	id, err := runs.Save(RunRecord{FromDate: "2024-01-01", ToDate: "2024-12-31", ExitMode: "tpsl_only"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	list, err := runs.List()
	if err != nil || len(list) != 1 {
		t.Fatalf("expected 1 run, got %d (err=%v)", len(list), err)
	}

	got, err := runs.Get(id)
	if err != nil || got.ExitMode != "tpsl_only" {
		t.Fatalf("unexpected run record: %+v (err=%v)", got, err)
	}

	if err := runs.Delete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	list, _ = runs.List()
	if len(list) != 0 {
		t.Fatalf("expected 0 runs after delete, got %d", len(list))
	}
}

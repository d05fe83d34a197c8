package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/khangdang-jpg/weeklyback/internal/model"
)

func mkPoint(d time.Time, total int64) model.EquityPoint {
	return model.EquityPoint{Date: d, TotalValue: total, Cash: total}
}

func TestSummarizeComputesWinRateAndProfitFactor(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)
	state := &model.EngineState{
		Cash: 10_500_000,
		ClosedTrades: []model.ClosedTrade{
			{PnLVND: 200_000, HoldDays: 5},
			{PnLVND: -100_000, HoldDays: 3},
			{PnLVND: 400_000, HoldDays: 10},
		},
		EquityCurve: []model.EquityPoint{
			mkPoint(from, 10_000_000),
			mkPoint(from.AddDate(0, 6, 0), 9_500_000),
			mkPoint(to, 10_500_000),
		},
	}

	s := Summarize(state, 10_000_000, from, to)
	if s.TotalTrades != 3 || s.Wins != 2 || s.Losses != 1 {
		t.Fatalf("unexpected trade counts: %+v", s)
	}
	wantWinRate := 2.0 / 3.0 * 100
	if diff := s.WinRatePct - wantWinRate; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("win_rate = %.4f, want %.4f", s.WinRatePct, wantWinRate)
	}
	wantPF := 600_000.0 / 100_000.0
	if s.ProfitFactor != wantPF {
		t.Errorf("profit_factor = %.4f, want %.4f", s.ProfitFactor, wantPF)
	}
	if s.MaxDrawdownPct <= 0 {
		t.Error("expected a positive max drawdown given the mid-year dip")
	}
}

func TestWriteTradesCSVSortsByExitDate(t *testing.T) {
	trades := []model.ClosedTrade{
		{Symbol: "BBB", ExitDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Reason: model.ExitTP},
		{Symbol: "AAA", ExitDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Reason: model.ExitSL},
	}
	var buf bytes.Buffer
	if err := WriteTradesCSV(&buf, trades); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[1], "AAA,") {
		t.Errorf("expected AAA (earlier exit) first, got %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "BBB,") {
		t.Errorf("expected BBB second, got %q", lines[2])
	}
}

func TestWriteEquityCSVRowCount(t *testing.T) {
	curve := []model.EquityPoint{
		mkPoint(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 1_000_000),
		mkPoint(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), 1_010_000),
	}
	var buf bytes.Buffer
	if err := WriteEquityCSV(&buf, curve); err != nil {
		t.Fatalf("write: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(lines))
	}
}

func TestDiffRangeSpread(t *testing.T) {
	worst := Summary{FinalValue: 9_820_000}
	best := Summary{FinalValue: 10_000_000}
	diff := DiffRange(worst, best)
	if diff.SpreadVND != 180_000 {
		t.Errorf("spread = %d, want 180000", diff.SpreadVND)
	}
}

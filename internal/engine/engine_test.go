package engine

import (
	"testing"
	"time"

	"github.com/khangdang-jpg/weeklyback/internal/model"
	"github.com/khangdang-jpg/weeklyback/internal/sizer"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func bar(d time.Time, o, h, l, c float64) model.Bar {
	return model.Bar{Date: d, Open: o, High: h, Low: l, Close: c, Volume: 1000}
}

// TestProcessDayFillsAndRecordsTPHappyPath is spec §8 scenario 1: entry at
// 100, qty = floor(1_000_000/100) = 10000, TP at 112 hit on a later bar.
// pnl = 10000*(112-100) = 120_000 minus fees.
func TestProcessDayFillsAndRecordsTPHappyPath(t *testing.T) {
	e := New(10_000_000, model.TieBreakWorst, model.ExitModeTPSLOnly, sizer.Fee(0))
	e.SubmitPendingEntry(model.PendingEntry{
		Symbol: "AAA", EntryPrice: 100, StopLoss: 94, TakeProfit: 112,
		TargetQty: 10000, EntryType: model.EntryPullback,
		EarliestFillDate: day(0), ExpiresAt: day(30),
	})

	if err := e.ProcessDay(day(0), map[string]model.Bar{"AAA": bar(day(0), 99, 101, 98, 100)}); err != nil {
		t.Fatalf("day 0: %v", err)
	}
	if _, ok := e.State().OpenTrades["AAA"]; !ok {
		t.Fatal("expected AAA to be filled on day 0")
	}

	if err := e.ProcessDay(day(1), map[string]model.Bar{"AAA": bar(day(1), 105, 113, 104, 110)}); err != nil {
		t.Fatalf("day 1: %v", err)
	}

	closed := e.State().ClosedTrades
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed trade, got %d", len(closed))
	}
	ct := closed[0]
	if ct.Reason != model.ExitTP {
		t.Errorf("reason = %s, want TP", ct.Reason)
	}
	wantPnL := int64(10000 * (112 - 100))
	if ct.PnLVND != wantPnL {
		t.Errorf("pnl = %d, want %d", ct.PnLVND, wantPnL)
	}
}

// TestProcessDaySLFillHappyPath is spec §8 scenario 2: SL hit instead of TP.
// pnl = 10000*(94-100) = -60_000.
func TestProcessDaySLFillHappyPath(t *testing.T) {
	e := New(10_000_000, model.TieBreakWorst, model.ExitModeTPSLOnly, sizer.Fee(0))
	e.SubmitPendingEntry(model.PendingEntry{
		Symbol: "AAA", EntryPrice: 100, StopLoss: 94, TakeProfit: 112,
		TargetQty: 10000, EntryType: model.EntryPullback,
		EarliestFillDate: day(0), ExpiresAt: day(30),
	})
	if err := e.ProcessDay(day(0), map[string]model.Bar{"AAA": bar(day(0), 99, 101, 98, 100)}); err != nil {
		t.Fatalf("day 0: %v", err)
	}
	if err := e.ProcessDay(day(1), map[string]model.Bar{"AAA": bar(day(1), 98, 99, 92, 95)}); err != nil {
		t.Fatalf("day 1: %v", err)
	}

	closed := e.State().ClosedTrades
	if len(closed) != 1 || closed[0].Reason != model.ExitSL {
		t.Fatalf("expected 1 closed SL trade, got %+v", closed)
	}
	wantPnL := int64(10000 * (94 - 100))
	if closed[0].PnLVND != wantPnL {
		t.Errorf("pnl = %d, want %d", closed[0].PnLVND, wantPnL)
	}
}

// TestProcessDaySameBarTieBreak is spec §8 scenario 3: a single bar touches
// both SL and TP. The worst/best tie-break policies must produce final
// values differing by exactly qty*(TP-SL), modulo the fee applied once per
// run either way.
func TestProcessDaySameBarTieBreak(t *testing.T) {
	run := func(tb model.TieBreaker) int64 {
		e := New(10_000_000, tb, model.ExitModeTPSLOnly, sizer.Fee(0))
		e.SubmitPendingEntry(model.PendingEntry{
			Symbol: "AAA", EntryPrice: 100, StopLoss: 94, TakeProfit: 112,
			TargetQty: 10000, EntryType: model.EntryPullback,
			EarliestFillDate: day(0), ExpiresAt: day(30),
		})
		if err := e.ProcessDay(day(0), map[string]model.Bar{"AAA": bar(day(0), 99, 101, 98, 100)}); err != nil {
			t.Fatalf("day 0 (%s): %v", tb, err)
		}
		// single bar spans both SL (94) and TP (112)
		if err := e.ProcessDay(day(1), map[string]model.Bar{"AAA": bar(day(1), 100, 115, 90, 105)}); err != nil {
			t.Fatalf("day 1 (%s): %v", tb, err)
		}
		last := e.State().EquityCurve[len(e.State().EquityCurve)-1]
		return last.TotalValue
	}

	worst := run(model.TieBreakWorst)
	best := run(model.TieBreakBest)

	wantDiff := int64(10000 * (112 - 94))
	if diff := best - worst; diff != wantDiff {
		t.Errorf("final_value diff = %d, want %d", diff, wantDiff)
	}
}

// TestProcessDayNoSameDayExit is spec §8 scenario 4: a fill and a same-bar
// SL/TP touch on the very same candle must not both happen — the exit is
// deferred to the following day even if the fill bar's range also crosses
// the stop or target.
func TestProcessDayNoSameDayExit(t *testing.T) {
	e := New(10_000_000, model.TieBreakWorst, model.ExitModeTPSLOnly, sizer.Fee(0))
	e.SubmitPendingEntry(model.PendingEntry{
		Symbol: "AAA", EntryPrice: 100, StopLoss: 94, TakeProfit: 112,
		TargetQty: 10000, EntryType: model.EntryPullback,
		EarliestFillDate: day(0), ExpiresAt: day(30),
	})
	// Day 0's bar fills the entry AND its range already crosses the TP.
	if err := e.ProcessDay(day(0), map[string]model.Bar{"AAA": bar(day(0), 99, 115, 98, 110)}); err != nil {
		t.Fatalf("day 0: %v", err)
	}
	if len(e.State().ClosedTrades) != 0 {
		t.Fatal("exit must not happen on the same day as the fill")
	}
	if _, ok := e.State().OpenTrades["AAA"]; !ok {
		t.Fatal("trade must remain open after day 0")
	}

	if err := e.ProcessDay(day(1), map[string]model.Bar{"AAA": bar(day(1), 110, 116, 109, 113)}); err != nil {
		t.Fatalf("day 1: %v", err)
	}
	if len(e.State().ClosedTrades) != 1 {
		t.Fatalf("expected exit on day 1, got %d closed trades", len(e.State().ClosedTrades))
	}
}

// TestReduceThenSellSameEntry is spec §8 scenario 5: a manual REDUCE
// followed by a manual SELL produces two closed trade records, both
// referencing the same entry_date/entry_price.
func TestReduceThenSellSameEntry(t *testing.T) {
	e := New(10_000_000, model.TieBreakWorst, model.ExitModeThreeAction, sizer.Fee(0))
	e.SubmitPendingEntry(model.PendingEntry{
		Symbol: "AAA", EntryPrice: 100, StopLoss: 94, TakeProfit: 112,
		TargetQty: 10000, EntryType: model.EntryPullback,
		EarliestFillDate: day(0), ExpiresAt: day(30),
	})
	if err := e.ProcessDay(day(0), map[string]model.Bar{"AAA": bar(day(0), 99, 101, 98, 100)}); err != nil {
		t.Fatalf("day 0: %v", err)
	}

	reduceBar := bar(day(1), 105, 106, 104, 105)
	if err := e.Reduce("AAA", reduceBar); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if _, ok := e.State().OpenTrades["AAA"]; !ok {
		t.Fatal("position should remain open (partially) after REDUCE")
	}

	sellBar := bar(day(2), 107, 108, 106, 107)
	if err := e.ForceExitAtMarket("AAA", sellBar); err != nil {
		t.Fatalf("force exit: %v", err)
	}

	closed := e.State().ClosedTrades
	if len(closed) != 2 {
		t.Fatalf("expected 2 closed trade records, got %d", len(closed))
	}
	if closed[0].Reason != model.ExitReduce || closed[1].Reason != model.ExitSell {
		t.Fatalf("expected REDUCE then SELL, got %s then %s", closed[0].Reason, closed[1].Reason)
	}
	if closed[0].EntryDate != closed[1].EntryDate || closed[0].EntryPrice != closed[1].EntryPrice {
		t.Error("both records must reference the same entry_date/entry_price")
	}
}

// TestReduceToSingleShareCoalescesIntoSell covers the Open Question decision
// recorded in engine.go: reducing a 1-share position coalesces into a SELL
// rather than emitting a zero-qty REDUCE record.
func TestReduceToSingleShareCoalescesIntoSell(t *testing.T) {
	e := New(10_000_000, model.TieBreakWorst, model.ExitModeThreeAction, sizer.Fee(0))
	e.SubmitPendingEntry(model.PendingEntry{
		Symbol: "AAA", EntryPrice: 100, StopLoss: 94, TakeProfit: 112,
		TargetQty: 1, EntryType: model.EntryPullback,
		EarliestFillDate: day(0), ExpiresAt: day(30),
	})
	if err := e.ProcessDay(day(0), map[string]model.Bar{"AAA": bar(day(0), 99, 101, 98, 100)}); err != nil {
		t.Fatalf("day 0: %v", err)
	}

	if err := e.Reduce("AAA", bar(day(1), 105, 106, 104, 105)); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	closed := e.State().ClosedTrades
	if len(closed) != 1 || closed[0].Reason != model.ExitSell {
		t.Fatalf("expected a single coalesced SELL, got %+v", closed)
	}
	if _, ok := e.State().OpenTrades["AAA"]; ok {
		t.Error("position must be fully closed after reducing a 1-share trade")
	}
}

// TestEquityCurveStrictlyIncreasingDates guards the invariant enforced in
// recordEquity.
func TestEquityCurveStrictlyIncreasingDates(t *testing.T) {
	e := New(1_000_000, model.TieBreakWorst, model.ExitModeTPSLOnly, sizer.Fee(0))
	if err := e.ProcessDay(day(0), map[string]model.Bar{"AAA": bar(day(0), 10, 11, 9, 10)}); err != nil {
		t.Fatalf("day 0: %v", err)
	}
	if err := e.ProcessDay(day(0), map[string]model.Bar{"AAA": bar(day(0), 10, 11, 9, 10)}); err == nil {
		t.Fatal("expected an invariant error for a non-increasing equity date")
	}
}

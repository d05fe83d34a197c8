// Package report turns an engine's final state into the summary metrics,
// per-trade ledger, and equity curve spec §4.6 requires, plus the CSV and
// .xlsx exports and worst/best range diff this repo adds on top.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/khangdang-jpg/weeklyback/internal/model"
)

// Summary is the run-level metrics block from spec §4.6.
type Summary struct {
	InitialCash      int64
	FinalValue       int64
	TotalReturnPct   float64
	CAGRPct          float64
	MaxDrawdownPct   float64
	WinRatePct       float64
	ProfitFactor     float64
	AvgHoldDays      float64
	AvgInvestedPct   float64
	TotalTrades      int
	Wins             int
	Losses           int
}

// Summarize computes the summary block from a completed engine state.
func Summarize(state *model.EngineState, initialCash int64, from, to time.Time) Summary {
	s := Summary{InitialCash: initialCash, TotalTrades: len(state.ClosedTrades)}
	if len(state.EquityCurve) > 0 {
		s.FinalValue = state.EquityCurve[len(state.EquityCurve)-1].TotalValue
	} else {
		s.FinalValue = state.Cash
	}

	if initialCash > 0 {
		s.TotalReturnPct = (float64(s.FinalValue) - float64(initialCash)) / float64(initialCash) * 100
	}

	years := to.Sub(from).Hours() / 24 / 365.25
	if years > 0 && initialCash > 0 && s.FinalValue > 0 {
		s.CAGRPct = (math.Pow(float64(s.FinalValue)/float64(initialCash), 1/years) - 1) * 100
	}

	s.MaxDrawdownPct = maxDrawdown(state.EquityCurve)

	var grossWin, grossLoss float64
	var holdSum float64
	for _, t := range state.ClosedTrades {
		if t.PnLVND >= 0 {
			s.Wins++
			grossWin += float64(t.PnLVND)
		} else {
			s.Losses++
			grossLoss += -float64(t.PnLVND)
		}
		holdSum += float64(t.HoldDays)
	}
	if s.TotalTrades > 0 {
		s.WinRatePct = float64(s.Wins) / float64(s.TotalTrades) * 100
		s.AvgHoldDays = holdSum / float64(s.TotalTrades)
	}
	if grossLoss > 0 {
		s.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		s.ProfitFactor = math.Inf(1)
	}

	s.AvgInvestedPct = avgInvestedPct(state.EquityCurve)
	return s
}

func maxDrawdown(curve []model.EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].TotalValue
	var maxDD float64
	for _, p := range curve {
		if p.TotalValue > peak {
			peak = p.TotalValue
		}
		if peak <= 0 {
			continue
		}
		dd := float64(peak-p.TotalValue) / float64(peak) * 100
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func avgInvestedPct(curve []model.EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	var sum float64
	for _, p := range curve {
		if p.TotalValue <= 0 {
			continue
		}
		sum += float64(p.OpenPositionsValue) / float64(p.TotalValue) * 100
	}
	return sum / float64(len(curve))
}

// WriteTradesCSV writes one row per closed trade, sorted by exit date.
func WriteTradesCSV(w io.Writer, trades []model.ClosedTrade) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	sorted := make([]model.ClosedTrade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ExitDate.Before(sorted[j].ExitDate) })

	if err := cw.Write([]string{"symbol", "entry_date", "entry_price", "exit_date", "exit_price", "qty", "reason", "return_pct", "pnl_vnd", "hold_days"}); err != nil {
		return err
	}
	for _, t := range sorted {
		row := []string{
			t.Symbol,
			t.EntryDate.Format("2006-01-02"),
			strconv.FormatFloat(t.EntryPrice, 'f', 4, 64),
			t.ExitDate.Format("2006-01-02"),
			strconv.FormatFloat(t.ExitPrice, 'f', 4, 64),
			strconv.FormatInt(t.Qty, 10),
			string(t.Reason),
			strconv.FormatFloat(t.ReturnPct, 'f', 4, 64),
			strconv.FormatInt(t.PnLVND, 10),
			strconv.Itoa(t.HoldDays),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return cw.Error()
}

// WriteEquityCSV writes the daily equity curve, one row per EquityPoint.
func WriteEquityCSV(w io.Writer, curve []model.EquityPoint) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()
	if err := cw.Write([]string{"date", "total_value", "cash", "open_positions_value"}); err != nil {
		return err
	}
	for _, p := range curve {
		row := []string{
			p.Date.Format("2006-01-02"),
			strconv.FormatInt(p.TotalValue, 10),
			strconv.FormatInt(p.Cash, 10),
			strconv.FormatInt(p.OpenPositionsValue, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return cw.Error()
}

// WriteWorkbook assembles a single .xlsx with a Summary sheet, a Trades
// sheet, and an Equity sheet — the supplemental export this repo adds on
// top of the CSV exports spec §4.6 names.
func WriteWorkbook(path string, summary Summary, trades []model.ClosedTrade, curve []model.EquityPoint) error {
	f := excelize.NewFile()
	defer f.Close()

	const summarySheet = "Summary"
	f.SetSheetName("Sheet1", summarySheet)
	summaryRows := [][2]string{
		{"initial_cash", strconv.FormatInt(summary.InitialCash, 10)},
		{"final_value", strconv.FormatInt(summary.FinalValue, 10)},
		{"total_return_pct", strconv.FormatFloat(summary.TotalReturnPct, 'f', 4, 64)},
		{"cagr_pct", strconv.FormatFloat(summary.CAGRPct, 'f', 4, 64)},
		{"max_drawdown_pct", strconv.FormatFloat(summary.MaxDrawdownPct, 'f', 4, 64)},
		{"win_rate_pct", strconv.FormatFloat(summary.WinRatePct, 'f', 4, 64)},
		{"profit_factor", strconv.FormatFloat(summary.ProfitFactor, 'f', 4, 64)},
		{"avg_hold_days", strconv.FormatFloat(summary.AvgHoldDays, 'f', 4, 64)},
		{"avg_invested_pct", strconv.FormatFloat(summary.AvgInvestedPct, 'f', 4, 64)},
		{"total_trades", strconv.Itoa(summary.TotalTrades)},
	}
	for i, row := range summaryRows {
		cell := fmt.Sprintf("A%d", i+1)
		valCell := fmt.Sprintf("B%d", i+1)
		f.SetCellValue(summarySheet, cell, row[0])
		f.SetCellValue(summarySheet, valCell, row[1])
	}

	const tradesSheet = "Trades"
	f.NewSheet(tradesSheet)
	headers := []string{"symbol", "entry_date", "entry_price", "exit_date", "exit_price", "qty", "reason", "return_pct", "pnl_vnd", "hold_days"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(tradesSheet, cell, h)
	}
	for r, t := range trades {
		row := []interface{}{
			t.Symbol, t.EntryDate.Format("2006-01-02"), t.EntryPrice,
			t.ExitDate.Format("2006-01-02"), t.ExitPrice, t.Qty,
			string(t.Reason), t.ReturnPct, t.PnLVND, t.HoldDays,
		}
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			f.SetCellValue(tradesSheet, cell, v)
		}
	}

	const equitySheet = "Equity"
	f.NewSheet(equitySheet)
	for i, h := range []string{"date", "cash", "open_positions_value", "total_value"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(equitySheet, cell, h)
	}
	for r, p := range curve {
		row := []interface{}{p.Date.Format("2006-01-02"), p.Cash, p.OpenPositionsValue, p.TotalValue}
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			f.SetCellValue(equitySheet, cell, v)
		}
	}

	return f.SaveAs(path)
}

// RangeDiff compares two runs of the same plan under different tie-break
// policies (spec §8 scenario 3's "worst vs best" range mode).
type RangeDiff struct {
	WorstFinalValue int64
	BestFinalValue  int64
	SpreadVND       int64
}

// DiffRange computes the worst/best spread between two completed runs.
func DiffRange(worst, best Summary) RangeDiff {
	return RangeDiff{
		WorstFinalValue: worst.FinalValue,
		BestFinalValue:  best.FinalValue,
		SpreadVND:       best.FinalValue - worst.FinalValue,
	}
}

// Package engine implements the per-day backtest simulation loop (spec
// §4.4): filling pending entries on touch, evaluating exits under the
// active exit mode, applying the same-bar tie-break, and recording the
// daily equity curve. It is single-threaded and deterministic — process_day
// is synchronous and pure with respect to (candle, prior state).
package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/khangdang-jpg/weeklyback/internal/model"
	"github.com/khangdang-jpg/weeklyback/internal/sizer"
)

// Engine owns an EngineState and advances it one trading day at a time.
type Engine struct {
	state      *model.EngineState
	tieBreaker model.TieBreaker
	exitMode   model.ExitMode
	fee        sizer.Fee
}

// New creates an engine with the given starting cash and policy.
func New(initialCash int64, tieBreaker model.TieBreaker, exitMode model.ExitMode, fee sizer.Fee) *Engine {
	return &Engine{
		state:      model.NewEngineState(initialCash),
		tieBreaker: tieBreaker,
		exitMode:   exitMode,
		fee:        fee,
	}
}

// State exposes the engine's bookkeeping read-only for the driver/reporter.
func (e *Engine) State() *model.EngineState { return e.state }

// SubmitPendingEntry registers (or replaces) the pending entry for a symbol.
// A new BUY for a symbol that already has a pending entry replaces it, per
// spec §3's PendingEntry ownership rule.
func (e *Engine) SubmitPendingEntry(p model.PendingEntry) {
	e.state.PendingEntries[p.Symbol] = &p
}

// InvariantError marks a violated engine invariant — always fatal per
// spec §7 (negative cash, duplicate pending, stop >= entry, etc).
type InvariantError struct {
	Symbol string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("engine invariant violated for %s: %s", e.Symbol, e.Detail)
}

// ProcessDay runs one trading day's worth of bars. day is the trading date
// being processed; candles holds at most one bar per symbol that actually
// traded that day (a missing entry means a per-symbol data gap, tolerated
// per spec §4.4/§7). Symbols are processed in lexicographic order within
// each phase for deterministic tie-breaks.
func (e *Engine) ProcessDay(day time.Time, candles map[string]model.Bar) error {
	symbols := make([]string, 0, len(candles))
	for sym := range candles {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	// Phase 1: fill pending entries (and expire stale ones).
	for _, sym := range symbols {
		if err := e.fillPending(sym, candles[sym]); err != nil {
			return err
		}
	}

	// Phase 2: evaluate exits on already-open trades (no same-day entry+exit).
	for _, sym := range symbols {
		if err := e.evaluateExit(sym, candles[sym]); err != nil {
			return err
		}
	}

	// Phase 3: record equity for this day.
	if err := e.recordEquity(day, candles); err != nil {
		return err
	}
	return nil
}

func (e *Engine) fillPending(sym string, bar model.Bar) error {
	pending, ok := e.state.PendingEntries[sym]
	if !ok {
		return nil
	}
	if bar.Date.Before(pending.EarliestFillDate) {
		return nil
	}
	if bar.Low <= pending.EntryPrice && pending.EntryPrice <= bar.High {
		if _, exists := e.state.OpenTrades[sym]; exists {
			return &InvariantError{Symbol: sym, Detail: "pending fill would create a second concurrent open trade"}
		}
		if pending.StopLoss >= pending.EntryPrice || pending.EntryPrice >= pending.TakeProfit {
			return &InvariantError{Symbol: sym, Detail: "stop_loss must be < entry_price < take_profit"}
		}
		cost := int64(math.Round(float64(pending.TargetQty)*pending.EntryPrice)) + int64(e.fee)
		if cost > e.state.Cash {
			delete(e.state.PendingEntries, sym)
			return nil
		}
		e.state.Cash -= cost
		if e.state.Cash < 0 {
			return &InvariantError{Symbol: sym, Detail: "fill would drive cash negative"}
		}
		e.state.OpenTrades[sym] = &model.OpenTrade{
			Symbol:     sym,
			EntryDate:  bar.Date,
			EntryPrice: pending.EntryPrice,
			Qty:        pending.TargetQty,
			StopLoss:   pending.StopLoss,
			TakeProfit: pending.TakeProfit,
			Cost:       cost,
			EntryType:  pending.EntryType,
		}
		delete(e.state.PendingEntries, sym)
		return nil
	}
	if !bar.Date.Before(pending.ExpiresAt) {
		delete(e.state.PendingEntries, sym)
	}
	return nil
}

func (e *Engine) evaluateExit(sym string, bar model.Bar) error {
	trade, ok := e.state.OpenTrades[sym]
	if !ok {
		return nil
	}
	if !bar.Date.After(trade.EntryDate) {
		return nil // no-same-day-exit rule
	}
	if e.exitMode != model.ExitModeTPSLOnly {
		return nil // automatic SL/TP disabled; manual signals drive exits
	}

	hitSL := bar.Low <= trade.StopLoss
	hitTP := bar.High >= trade.TakeProfit
	if !hitSL && !hitTP {
		return nil
	}

	var reason model.ExitReason
	var exitPrice float64
	switch {
	case hitSL && hitTP:
		if e.tieBreaker == model.TieBreakWorst {
			reason, exitPrice = model.ExitSL, trade.StopLoss
		} else {
			reason, exitPrice = model.ExitTP, trade.TakeProfit
		}
	case hitSL:
		reason, exitPrice = model.ExitSL, trade.StopLoss
	default:
		reason, exitPrice = model.ExitTP, trade.TakeProfit
	}
	return e.closeTrade(sym, bar.Date, exitPrice, trade.Qty, reason)
}

// ForceExitAtMarket closes a whole position at the given date/price,
// driven by a manual SELL recommendation (spec §4.4, manual exits). It is a
// no-op if the symbol isn't held, since "Signals for non-held symbols are
// ignored by the engine".
func (e *Engine) ForceExitAtMarket(sym string, weekStartBar model.Bar) error {
	trade, ok := e.state.OpenTrades[sym]
	if !ok {
		return nil
	}
	if !weekStartBar.Date.After(trade.EntryDate) {
		return nil // still no-same-day-exit, even for manual signals
	}
	return e.closeTrade(sym, weekStartBar.Date, weekStartBar.Open, trade.Qty, model.ExitSell)
}

// Reduce halves (integer floor) an open position's quantity, realizing PnL
// on the sold half at the given date/price. If the sold half would be zero
// (a 1-share position), it coalesces into a full SELL instead of emitting a
// zero-qty REDUCE record (spec §9, Open Question: this repo prescribes coalescing).
func (e *Engine) Reduce(sym string, date model.Bar) error {
	trade, ok := e.state.OpenTrades[sym]
	if !ok {
		return nil
	}
	if !date.Date.After(trade.EntryDate) {
		return nil
	}
	half := trade.Qty / 2
	if half <= 0 {
		return e.closeTrade(sym, date.Date, date.Open, trade.Qty, model.ExitSell)
	}
	return e.reduceTrade(sym, date.Date, date.Open, half)
}

// closeTrade fully closes the open trade for sym, realizing PnL on the
// whole remaining quantity and appending a ClosedTrade record.
func (e *Engine) closeTrade(sym string, exitDate time.Time, exitPrice float64, qty int64, reason model.ExitReason) error {
	trade, ok := e.state.OpenTrades[sym]
	if !ok {
		return nil
	}
	if !exitDate.After(trade.EntryDate) {
		return &InvariantError{Symbol: sym, Detail: "exit_date must be after entry_date"}
	}

	proceeds := int64(math.Round(float64(qty)*exitPrice)) - int64(e.fee)
	e.state.Cash += proceeds
	if e.state.Cash < 0 {
		return &InvariantError{Symbol: sym, Detail: "exit would drive cash negative"}
	}

	pnl := proceeds - int64(math.Round(float64(qty)*trade.EntryPrice))
	returnPct := (exitPrice - trade.EntryPrice) / trade.EntryPrice * 100
	holdDays := int(exitDate.Sub(trade.EntryDate).Hours() / 24)

	e.state.ClosedTrades = append(e.state.ClosedTrades, model.ClosedTrade{
		Symbol:     sym,
		EntryDate:  trade.EntryDate,
		EntryPrice: trade.EntryPrice,
		ExitDate:   exitDate,
		ExitPrice:  exitPrice,
		Qty:        qty,
		Reason:     reason,
		ReturnPct:  returnPct,
		PnLVND:     pnl,
		HoldDays:   holdDays,
	})
	delete(e.state.OpenTrades, sym)
	return nil
}

// reduceTrade sells `qty` shares of an open position, realizing PnL on that
// slice while leaving the remainder open with a smaller quantity.
func (e *Engine) reduceTrade(sym string, exitDate time.Time, exitPrice float64, qty int64) error {
	trade, ok := e.state.OpenTrades[sym]
	if !ok {
		return nil
	}
	if !exitDate.After(trade.EntryDate) {
		return &InvariantError{Symbol: sym, Detail: "exit_date must be after entry_date"}
	}
	if qty <= 0 || qty >= trade.Qty {
		return &InvariantError{Symbol: sym, Detail: "reduce quantity must be in (0, open_qty)"}
	}

	proceeds := int64(math.Round(float64(qty)*exitPrice)) - int64(e.fee)
	e.state.Cash += proceeds
	if e.state.Cash < 0 {
		return &InvariantError{Symbol: sym, Detail: "reduce would drive cash negative"}
	}

	pnl := proceeds - int64(math.Round(float64(qty)*trade.EntryPrice))
	returnPct := (exitPrice - trade.EntryPrice) / trade.EntryPrice * 100
	holdDays := int(exitDate.Sub(trade.EntryDate).Hours() / 24)

	e.state.ClosedTrades = append(e.state.ClosedTrades, model.ClosedTrade{
		Symbol:     sym,
		EntryDate:  trade.EntryDate,
		EntryPrice: trade.EntryPrice,
		ExitDate:   exitDate,
		ExitPrice:  exitPrice,
		Qty:        qty,
		Reason:     model.ExitReduce,
		ReturnPct:  returnPct,
		PnLVND:     pnl,
		HoldDays:   holdDays,
	})

	trade.Qty -= qty
	trade.RealizedPnL += pnl
	return nil
}

// recordEquity appends one EquityPoint: cash plus the mark-to-close value
// of every open position, for every symbol held after phase 2. A symbol with
// no candle today (a per-symbol data gap, which spec §4.4 tolerates) is
// valued at the trade's entry price; the last seen close is not carried
// forward.
func (e *Engine) recordEquity(day time.Time, candles map[string]model.Bar) error {
	var openValue int64
	symbols := make([]string, 0, len(e.state.OpenTrades))
	for sym := range e.state.OpenTrades {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		trade := e.state.OpenTrades[sym]
		close := trade.EntryPrice
		if bar, ok := candles[sym]; ok {
			close = bar.Close
		}
		openValue += int64(math.Round(float64(trade.Qty) * close))
	}

	point := model.EquityPoint{
		Date:               day,
		Cash:               e.state.Cash,
		OpenPositionsValue: openValue,
		TotalValue:         e.state.Cash + openValue,
	}
	if e.state.Cash < 0 {
		return &InvariantError{Detail: "cash is negative at equity recording time"}
	}
	if n := len(e.state.EquityCurve); n > 0 && !point.Date.After(e.state.EquityCurve[n-1].Date) {
		return &InvariantError{Detail: "equity curve dates must be strictly increasing"}
	}
	e.state.EquityCurve = append(e.state.EquityCurve, point)
	return nil
}

// Package driver owns the weekly calendar: it slices market data so the
// signal generator never sees a bar dated on or after the week being
// planned, turns its plan into pending entries and manual exits, and steps
// the engine forward one trading day at a time between Mondays.
package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/khangdang-jpg/weeklyback/internal/config"
	"github.com/khangdang-jpg/weeklyback/internal/engine"
	"github.com/khangdang-jpg/weeklyback/internal/indicators"
	"github.com/khangdang-jpg/weeklyback/internal/model"
	"github.com/khangdang-jpg/weeklyback/internal/signal"
	"github.com/khangdang-jpg/weeklyback/internal/sizer"
)

// HistoryFetcher is the driver's only dependency on the outside world: given
// a symbol and a date range, return its daily OHLCV bars. The provider
// package supplies the concrete implementation (CSV file, cache decorator).
type HistoryFetcher interface {
	Fetch(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error)
}

// Run is one full backtest over [from, to]. Symbols are the trading
// universe; history for each is fetched once upfront, then sliced per week.
type Run struct {
	Engine    *engine.Engine
	Fetcher   HistoryFetcher
	Symbols   []string
	Strategy  config.Strategy
	Risk      config.Risk
	ExitMode  model.ExitMode
	Fee       sizer.Fee
	From, To  time.Time

	// StaticPlan, when set, is replayed unchanged every week instead of
	// calling signal.Generate — the --mode=plan CLI path (spec §6). Only
	// its WeekStart and GeneratedAt are retargeted per week; recommended
	// prices, stops, and targets are reused as-is.
	StaticPlan *model.WeeklyPlan

	// Log receives per-symbol fetch failures and sizing rejections (spec §7:
	// both are recoverable and must be logged, never fatal). The zero value
	// is zerolog's no-op logger, so Run is safe to use without setting it.
	Log zerolog.Logger

	// OnEquityPoint, when set, is called once per trading day right after
	// the engine records that day's equity point — the hook --serve-url
	// uses to push live updates to a running `serve` process (spec §4.8).
	OnEquityPoint func(model.EquityPoint)
}

// Result is everything the reporter needs after a run completes.
type Result struct {
	Plans []model.WeeklyPlan
}

// Execute fetches history for every symbol, then walks ISO weeks from the
// Monday on/after From through To, applying one plan per week and stepping
// the engine day by day. It never hands the signal generator a bar dated on
// or after the week it is planning for (spec §4.2/§9's stateless-generator
// guard).
func (r *Run) Execute(ctx context.Context) (*Result, error) {
	history, err := r.fetchAll(ctx)
	if err != nil {
		return nil, err
	}

	calendar := buildTradingCalendar(history)
	if len(calendar) == 0 {
		return &Result{}, nil
	}

	result := &Result{}
	weekStart := indicators.MondayOf(r.From)
	if weekStart.Before(r.From) {
		weekStart = weekStart.AddDate(0, 0, 7)
	}

	for weekStart.Before(r.To) || weekStart.Equal(r.To) {
		weekEnd := weekStart.AddDate(0, 0, 7)

		var plan model.WeeklyPlan
		if r.StaticPlan != nil {
			plan = r.planForWeek(weekStart)
		} else {
			sliced := sliceBefore(history, weekStart)
			openPositions := r.openPositionsView()
			plan = signal.Generate(sliced, openPositions, r.Strategy, r.Risk, r.ExitMode, weekStart)
		}
		result.Plans = append(result.Plans, plan)

		weekDays := tradingDaysIn(calendar, weekStart, weekEnd, r.To)
		if len(weekDays) == 0 {
			r.expireUnfilledPending(weekEnd)
			weekStart = weekEnd
			continue
		}

		if err := r.applyPlan(plan, weekDays[0], history); err != nil {
			return result, err
		}

		for _, d := range weekDays {
			candles := candlesOn(history, d)
			if err := r.Engine.ProcessDay(d, candles); err != nil {
				return result, fmt.Errorf("driver: week of %s, day %s: %w", weekStart.Format("2006-01-02"), d.Format("2006-01-02"), err)
			}
			if r.OnEquityPoint != nil {
				if curve := r.Engine.State().EquityCurve; len(curve) > 0 {
					r.OnEquityPoint(curve[len(curve)-1])
				}
			}
		}

		r.expireUnfilledPending(weekEnd)
		weekStart = weekEnd
	}

	return result, nil
}

// ErrNoDataForUniverse is returned when every symbol in the universe came
// back with an empty history — the fatal case spec §7 maps to exit code 4.
// A single symbol's provider error is not fatal: it is logged and that
// symbol is treated as having empty history for the run.
var ErrNoDataForUniverse = fmt.Errorf("driver: no data for any symbol in the universe")

// fetchAll pulls the full history for every symbol concurrently. Per spec
// §7, a single symbol's provider error is recoverable — it degrades that
// symbol to an empty history rather than aborting the run; only a universe
// that comes back entirely empty is fatal.
func (r *Run) fetchAll(ctx context.Context) (map[string][]model.Bar, error) {
	g, _ := errgroup.WithContext(ctx)
	var mu sync.Mutex
	history := make(map[string][]model.Bar, len(r.Symbols))

	for _, sym := range r.Symbols {
		sym := sym
		g.Go(func() error {
			bars, err := r.Fetcher.Fetch(ctx, sym, r.From, r.To)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.Log.Error().Err(err).Str("symbol", sym).Msg("provider error, treating symbol as empty history")
				history[sym] = nil
				return nil
			}
			history[sym] = bars
			return nil
		})
	}
	_ = g.Wait() // fetch errors are already degraded to empty history above

	anyData := false
	for _, bars := range history {
		if len(bars) > 0 {
			anyData = true
			break
		}
	}
	if !anyData {
		return nil, ErrNoDataForUniverse
	}
	return history, nil
}

// planForWeek retargets the static plan's WeekStart/GeneratedAt to the week
// being stepped, leaving every recommendation's prices and targets as the
// plan file recorded them.
func (r *Run) planForWeek(weekStart time.Time) model.WeeklyPlan {
	p := *r.StaticPlan
	p.WeekStart = weekStart
	p.GeneratedAt = weekStart
	recs := make([]model.Recommendation, len(r.StaticPlan.Recommendations))
	copy(recs, r.StaticPlan.Recommendations)
	p.Recommendations = recs
	return p
}

// openPositionsView builds the read-only snapshot the signal generator is
// allowed to see, from the engine's current open trades.
func (r *Run) openPositionsView() map[string]model.OpenPosition {
	state := r.Engine.State()
	if len(state.OpenTrades) == 0 {
		return nil
	}
	view := make(map[string]model.OpenPosition, len(state.OpenTrades))
	for sym, t := range state.OpenTrades {
		view[sym] = model.OpenPosition{Qty: t.Qty, EntryPrice: t.EntryPrice}
	}
	return view
}

// currentEquity is cash plus the last recorded open-positions value, the
// basis position_target_pct is sized against (spec §4.3). Before the first
// equity point exists (week 1, nothing processed yet) it's just cash.
func (r *Run) currentEquity() int64 {
	state := r.Engine.State()
	if n := len(state.EquityCurve); n > 0 {
		return state.EquityCurve[n-1].TotalValue
	}
	return state.Cash
}

// applyPlan turns BUY recommendations into sized pending entries, and
// (outside tpsl_only) applies SELL/REDUCE recommendations at the first
// trading day of the week's open, per spec §4.5.
func (r *Run) applyPlan(plan model.WeeklyPlan, firstDay time.Time, history map[string][]model.Bar) error {
	state := r.Engine.State()
	openBar := func(sym string) (model.Bar, bool) {
		for _, b := range history[sym] {
			if b.Date.Equal(firstDay) {
				return b, true
			}
		}
		return model.Bar{}, false
	}

	equity := r.currentEquity()
	for _, rec := range plan.Recommendations {
		switch rec.Action {
		case model.ActionBuy:
			qty, _, ok := sizer.Size(equity, rec.EntryPrice, rec.PositionTargetPct, state.Cash, r.Fee)
			if !ok {
				r.Log.Debug().Str("symbol", rec.Symbol).Float64("entry_price", rec.EntryPrice).
					Float64("position_target_pct", rec.PositionTargetPct).Int64("cash", state.Cash).
					Msg("sizing rejected, dropping pending entry")
				continue
			}
			expires := plan.WeekStart.AddDate(0, 0, 7)
			earliest := rec.EarliestFillDate
			if earliest.IsZero() {
				earliest = plan.WeekStart
			}
			r.Engine.SubmitPendingEntry(model.PendingEntry{
				Symbol:           rec.Symbol,
				EntryPrice:       rec.EntryPrice,
				StopLoss:         rec.StopLoss,
				TakeProfit:       rec.TakeProfit,
				TargetQty:        qty,
				EntryType:        rec.EntryType,
				EarliestFillDate: earliest,
				ExpiresAt:        expires,
			})
		case model.ActionSell:
			if r.ExitMode == model.ExitModeTPSLOnly {
				continue
			}
			if bar, ok := openBar(rec.Symbol); ok {
				if err := r.Engine.ForceExitAtMarket(rec.Symbol, bar); err != nil {
					return err
				}
			}
		case model.ActionReduce:
			if r.ExitMode == model.ExitModeTPSLOnly {
				continue
			}
			if bar, ok := openBar(rec.Symbol); ok {
				if err := r.Engine.Reduce(rec.Symbol, bar); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// expireUnfilledPending drops any pending entry still outstanding at week
// end — the breakout-entry cancellation default named in spec §9's Open
// Question. fillPending already checks ExpiresAt on every day it's given a
// candle; this sweeps symbols that had no candle at all during the week.
func (r *Run) expireUnfilledPending(weekEnd time.Time) {
	state := r.Engine.State()
	for sym, p := range state.PendingEntries {
		if !weekEnd.Before(p.ExpiresAt) {
			delete(state.PendingEntries, sym)
		}
	}
}

// buildTradingCalendar is the sorted union of every distinct date across
// all symbols' history, used to find each week's trading days without
// assuming every symbol trades every day (data gaps are tolerated per
// spec §4.4/§7).
func buildTradingCalendar(history map[string][]model.Bar) []time.Time {
	seen := make(map[time.Time]bool)
	for _, bars := range history {
		for _, b := range bars {
			seen[b.Date] = true
		}
	}
	out := make([]time.Time, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// tradingDaysIn returns calendar dates in [weekStart, weekEnd) that are also
// <= the run's end date, preserving ascending order.
func tradingDaysIn(calendar []time.Time, weekStart, weekEnd, runTo time.Time) []time.Time {
	var out []time.Time
	for _, d := range calendar {
		if d.Before(weekStart) {
			continue
		}
		if !d.Before(weekEnd) || d.After(runTo) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// sliceBefore returns, per symbol, only the bars dated strictly before cut.
// This is the driver's enforcement point for the no-lookahead contract the
// signal generator relies on (spec §4.2, §8 scenario 7).
func sliceBefore(history map[string][]model.Bar, cut time.Time) map[string][]model.Bar {
	out := make(map[string][]model.Bar, len(history))
	for sym, bars := range history {
		i := sort.Search(len(bars), func(i int) bool { return !bars[i].Date.Before(cut) })
		if i > 0 {
			cp := make([]model.Bar, i)
			copy(cp, bars[:i])
			out[sym] = cp
		}
	}
	return out
}

// candlesOn collects the one bar per symbol, if any, dated exactly d.
func candlesOn(history map[string][]model.Bar, d time.Time) map[string]model.Bar {
	out := make(map[string]model.Bar)
	for sym, bars := range history {
		i := sort.Search(len(bars), func(i int) bool { return !bars[i].Date.Before(d) })
		if i < len(bars) && bars[i].Date.Equal(d) {
			out[sym] = bars[i]
		}
	}
	return out
}

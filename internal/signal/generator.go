// Package signal implements the portfolio-aware weekly signal generator
// (spec §4.2). It is a pure function of (market data, open positions,
// config, as-of date) — it never mutates engine state and never looks at a
// bar dated on or after as_of_week_start, which the driver enforces by only
// ever handing it a pre-sliced market_data_by_symbol.
package signal

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/khangdang-jpg/weeklyback/internal/config"
	"github.com/khangdang-jpg/weeklyback/internal/indicators"
	"github.com/khangdang-jpg/weeklyback/internal/model"
	"github.com/khangdang-jpg/weeklyback/internal/sizer"
)

const minWeeklyBars = 30

// StrategyID identifies this generator's rule set; bumped on any change to
// the decision table so saved plans can be distinguished from the code that
// produced them.
const StrategyID = "weekly-trend-atr"
const StrategyVersion = "1.0"

// Generate computes the weekly plan for every symbol in marketData, given
// the engine's currently open positions. marketData must already be sliced
// to bars dated strictly before asOfWeekStart — this function does not
// re-check that, by contract (see spec §4.2 and the design note on the
// stateless-generator bug this guards against).
func Generate(
	marketData map[string][]model.Bar,
	openPositions map[string]model.OpenPosition,
	strat config.Strategy,
	risk config.Risk,
	exitMode model.ExitMode,
	asOfWeekStart time.Time,
) model.WeeklyPlan {
	plan := model.WeeklyPlan{
		GeneratedAt:     asOfWeekStart,
		WeekStart:       asOfWeekStart,
		StrategyID:      StrategyID,
		StrategyVersion: StrategyVersion,
	}

	symbols := make([]string, 0, len(marketData))
	for sym := range marketData {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var buyCandidates []scored
	var rest []model.Recommendation

	for _, sym := range symbols {
		_, held := openPositions[sym]
		rec, isBuy, ok := evaluateSymbol(sym, marketData[sym], held, strat, risk, exitMode, asOfWeekStart)
		if !ok {
			continue
		}
		if isBuy {
			buyCandidates = append(buyCandidates, rec)
		} else {
			rest = append(rest, rec.Recommendation)
		}
	}

	sort.SliceStable(buyCandidates, func(i, j int) bool {
		ri, rj := buyCandidates[i], buyCandidates[j]
		if ri.rsi14 != rj.rsi14 {
			return ri.rsi14 > rj.rsi14
		}
		return ri.stopDistancePct < rj.stopDistancePct
	})

	for i, rec := range buyCandidates {
		if i < strat.MaxBuysPerWeek {
			plan.Recommendations = append(plan.Recommendations, rec.Recommendation)
			continue
		}
		watch := rec.Recommendation
		watch.Action = model.ActionWatch
		watch.EntryType = model.EntryNone
		watch.EntryPrice, watch.BuyZoneLow, watch.BuyZoneHigh = 0, 0, 0
		watch.StopLoss, watch.TakeProfit, watch.PositionTargetPct = 0, 0, 0
		watch.Rationale = fmt.Sprintf("capped: exceeds max_buys_per_week (%d)", strat.MaxBuysPerWeek)
		rest = append(rest, watch)
	}

	plan.Recommendations = append(plan.Recommendations, orderByAction(rest)...)
	// Re-sort the whole slice so BUY always leads even after appending capped WATCHes.
	sortPlan(plan.Recommendations)
	return plan
}

// scored wraps a Recommendation with the sort keys needed for BUY ordering;
// it never leaves this package.
type scored struct {
	model.Recommendation
	rsi14           float64
	stopDistancePct float64
}

func orderByAction(recs []model.Recommendation) []model.Recommendation {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Symbol < recs[j].Symbol
	})
	return recs
}

func actionRank(a model.Action) int {
	switch a {
	case model.ActionBuy:
		return 0
	case model.ActionHold:
		return 1
	case model.ActionReduce:
		return 2
	case model.ActionSell:
		return 3
	case model.ActionWatch:
		return 4
	default:
		return 5
	}
}

func sortPlan(recs []model.Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		return actionRank(recs[i].Action) < actionRank(recs[j].Action)
	})
}

// evaluateSymbol implements the per-symbol decision table. It returns
// ok=false when the symbol should produce no recommendation at all
// (insufficient history or a NaN indicator).
func evaluateSymbol(
	sym string,
	daily []model.Bar,
	held bool,
	strat config.Strategy,
	risk config.Risk,
	exitMode model.ExitMode,
	asOfWeekStart time.Time,
) (rec scored, isBuy bool, ok bool) {
	weekly := indicators.WeeklyResample(daily)
	if len(weekly) < minWeeklyBars {
		return rec, false, false
	}

	closes := make([]float64, len(weekly))
	volumes := make([]float64, len(weekly))
	for i, w := range weekly {
		closes[i] = w.Close
		volumes[i] = w.Volume
	}

	ma10 := indicators.SMA(closes, strat.MAShort)
	ma30 := indicators.SMA(closes, strat.MALong)
	rsi := indicators.RSI(closes, strat.RSIPeriod)
	atr := indicators.ATR(weekly, strat.ATRPeriod)
	vol14 := indicators.SMA(volumes, strat.BreakoutVolumeWindow)

	last := len(weekly) - 1
	price := weekly[last].Close

	for _, v := range []float64{ma10[last], ma30[last], rsi[last], atr[last], vol14[last]} {
		if math.IsNaN(v) {
			return rec, false, false
		}
	}

	trendUp := price > ma10[last] && ma10[last] > ma30[last]
	trendWeakening := ma30[last] < price && price <= ma10[last]
	trendDown := price <= ma30[last]
	rsiBullish := rsi[last] >= 50
	rsiOverbought := rsi[last] >= 70

	prevWeekHigh := weekly[last-1].High
	breakoutConfirmed := weekly[last].Close >= prevWeekHigh &&
		weekly[last].Volume >= vol14[last] &&
		trendUp && rsiBullish && !rsiOverbought

	base := model.Recommendation{Symbol: sym}

	switch {
	case breakoutConfirmed && !held:
		entry := prevWeekHigh * 1.001
		return buildBuy(base, model.EntryBreakout, entry, entry, entry, atr[last], rsi[last], strat, risk, asOfWeekStart,
			fmt.Sprintf("breakout above prior week high %.4f on volume %.0f >= avg %.0f", prevWeekHigh, weekly[last].Volume, vol14[last])), true, true

	case trendUp && !rsiOverbought && !held:
		lo := price - 1.0*atr[last]
		hi := price - 0.5*atr[last]
		entry := (lo + hi) / 2
		return buildBuy(base, model.EntryPullback, entry, lo, hi, atr[last], rsi[last], strat, risk, asOfWeekStart,
			fmt.Sprintf("pullback in uptrend: price %.4f > ma%d %.4f > ma%d %.4f", price, strat.MAShort, ma10[last], strat.MALong, ma30[last])), true, true

	case trendUp && held:
		base.Action = model.ActionHold
		base.Rationale = "uptrend intact, holding"
		return scored{Recommendation: base, rsi14: rsi[last]}, false, true

	case trendWeakening && held:
		if exitMode == model.ExitModeFourAction {
			base.Action = model.ActionReduce
			base.Rationale = fmt.Sprintf("trend weakening: ma%d %.4f < price %.4f <= ma%d %.4f", strat.MALong, ma30[last], price, strat.MAShort, ma10[last])
		} else {
			base.Action = model.ActionHold
			base.Rationale = "trend weakening but exit mode does not reduce"
		}
		return scored{Recommendation: base, rsi14: rsi[last]}, false, true

	case trendDown && held:
		base.Action = model.ActionSell
		base.Rationale = fmt.Sprintf("trend broken: price %.4f <= ma%d %.4f", price, strat.MALong, ma30[last])
		return scored{Recommendation: base, rsi14: rsi[last]}, false, true

	case held:
		// Edge state none of the three named trends covers: price above
		// both averages while ma10 <= ma30. Never
		// duplicate a BUY for a held symbol, never leave it unlabeled.
		base.Action = model.ActionHold
		base.Rationale = "indeterminate trend state, holding existing position"
		return scored{Recommendation: base, rsi14: rsi[last]}, false, true

	default:
		base.Action = model.ActionWatch
		base.Rationale = "no actionable setup this week"
		return scored{Recommendation: base, rsi14: rsi[last]}, false, true
	}
}

func buildBuy(
	base model.Recommendation,
	entryType model.EntryType,
	entry, zoneLow, zoneHigh, atr, rsi14 float64,
	strat config.Strategy,
	risk config.Risk,
	asOfWeekStart time.Time,
	rationale string,
) scored {
	base.Action = model.ActionBuy
	base.EntryType = entryType
	base.EntryPrice = entry
	base.BuyZoneLow = zoneLow
	base.BuyZoneHigh = zoneHigh
	base.StopLoss = entry - strat.ATRStopMult*atr
	base.TakeProfit = entry + strat.ATRTargetMult*atr
	base.Rationale = rationale
	if entryType == model.EntryBreakout {
		base.EarliestFillDate = asOfWeekStart
	}

	stopDistancePct := (entry - base.StopLoss) / entry
	base.PositionTargetPct = sizer.Clamp(risk.RiskPerTradePct/stopDistancePct, risk.MinAllocPct, risk.MaxAllocPct)

	return scored{Recommendation: base, rsi14: rsi14, stopDistancePct: stopDistancePct}
}

// Package indicators holds pure, deterministic functions over ordered price
// series: weekly resampling, SMA, Wilder's RSI, and Wilder's ATR. None of
// them perform I/O, and none of them know about symbols, portfolios, or
// trading rules.
package indicators

import (
	"math"
	"time"

	"github.com/khangdang-jpg/weeklyback/internal/model"
)

// WeeklyResample groups daily bars by ISO (year, week) and emits one weekly
// bar per group that has at least one daily bar. Groups are returned in
// ascending week order. An incomplete trailing week (fewer than 5 days) is
// still emitted — callers that need to exclude "today's partial week" do so
// by slicing the daily input before calling this, not by filtering here.
func WeeklyResample(daily []model.Bar) []model.WeeklyBar {
	if len(daily) == 0 {
		return nil
	}
	var out []model.WeeklyBar
	var cur *model.WeeklyBar
	var curYear, curWeek int

	for _, bar := range daily {
		year, week := bar.Date.ISOWeek()
		if cur == nil || year != curYear || week != curWeek {
			if cur != nil {
				out = append(out, *cur)
			}
			cur = &model.WeeklyBar{
				WeekStart: MondayOf(bar.Date),
				Open:      bar.Open,
				High:      bar.High,
				Low:       bar.Low,
				Close:     bar.Close,
				Volume:    bar.Volume,
			}
			curYear, curWeek = year, week
			continue
		}
		if bar.High > cur.High {
			cur.High = bar.High
		}
		if bar.Low < cur.Low {
			cur.Low = bar.Low
		}
		cur.Close = bar.Close
		cur.Volume += bar.Volume
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// MondayOf returns the Monday (UTC midnight) of the ISO week containing t.
func MondayOf(t time.Time) time.Time {
	t = t.UTC().Truncate(24 * time.Hour)
	// time.Weekday: Sunday=0 ... Saturday=6. ISO weeks start Monday.
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

// SMA computes the trailing simple moving average of the last n values.
// Indices before n-1 values are available are math.NaN ("absent" per spec).
func SMA(values []float64, n int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if n <= 0 || len(values) < n {
		return out
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += values[i]
	}
	out[n-1] = sum / float64(n)
	for i := n; i < len(values); i++ {
		sum += values[i] - values[i-n]
		out[i] = sum / float64(n)
	}
	return out
}

// rma is Wilder's smoothing: the running moving average used by both RSI and
// ATR. seed is the simple average of the first `period` values; values[0]
// must already align with the first smoothed sample's input.
func rma(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	prev := sum / float64(period)
	out[period-1] = prev
	for i := period; i < len(values); i++ {
		prev = (prev*float64(period-1) + values[i]) / float64(period)
		out[i] = prev
	}
	return out
}

// RSI computes Wilder's RSI(period). The first defined value is at index
// `period` (gains/losses need one prior close, then `period` smoothed
// samples): out[0..period-1] are math.NaN.
func RSI(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(closes) < period+1 {
		return out
	}

	gains := make([]float64, len(closes)-1)
	losses := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains[i-1] = change
		} else {
			losses[i-1] = -change
		}
	}

	avgGain := rma(gains, period)
	avgLoss := rma(losses, period)

	for i := period; i < len(closes); i++ {
		ag := avgGain[i-1]
		al := avgLoss[i-1]
		if math.IsNaN(ag) || math.IsNaN(al) {
			continue
		}
		if al == 0 {
			if ag == 0 {
				out[i] = 50
			} else {
				out[i] = 100
			}
			continue
		}
		rs := ag / al
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// ATR computes Wilder's ATR(period) over true range. The first defined value
// is at index `period` (true range needs a previous close, then `period`
// smoothed samples).
func ATR(bars []model.WeeklyBar, period int) []float64 {
	out := make([]float64, len(bars))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(bars) < period+1 {
		return out
	}

	tr := make([]float64, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		tr[i-1] = math.Max(hl, math.Max(hc, lc))
	}

	smoothed := rma(tr, period)
	for i := period; i < len(bars); i++ {
		out[i] = smoothed[i-1]
	}
	return out
}

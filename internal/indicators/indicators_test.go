package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/khangdang-jpg/weeklyback/internal/model"
)

// genDailyBars builds n consecutive trading-day bars (Mon-Fri only) starting
// at a fixed Monday, with the close rising 0.5% per day so weekly
// aggregation has something to chew on.
func genDailyBars(n int, startPrice float64) []model.Bar {
	bars := make([]model.Bar, 0, n)
	d := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // a Monday
	price := startPrice
	for len(bars) < n {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
			continue
		}
		price *= 1.005
		bars = append(bars, model.Bar{
			Date:   d,
			Open:   price * 0.99,
			High:   price * 1.01,
			Low:    price * 0.98,
			Close:  price,
			Volume: 1000,
		})
		d = d.AddDate(0, 0, 1)
	}
	return bars
}

func TestWeeklyResampleGroupsByISOWeek(t *testing.T) {
	daily := genDailyBars(15, 100) // 3 full Mon-Fri weeks
	weekly := WeeklyResample(daily)
	if len(weekly) != 3 {
		t.Fatalf("expected 3 weekly bars, got %d", len(weekly))
	}
	for i, w := range weekly {
		if w.WeekStart.Weekday() != time.Monday {
			t.Errorf("week %d: WeekStart %v is not a Monday", i, w.WeekStart)
		}
	}
	// first week: open = Monday's open, close = Friday's close
	if weekly[0].Open != daily[0].Open {
		t.Errorf("week 0 open = %v, want %v", weekly[0].Open, daily[0].Open)
	}
	if weekly[0].Close != daily[4].Close {
		t.Errorf("week 0 close = %v, want %v", weekly[0].Close, daily[4].Close)
	}
}

func TestWeeklyResampleHighLowVolume(t *testing.T) {
	daily := genDailyBars(5, 100)
	weekly := WeeklyResample(daily)
	if len(weekly) != 1 {
		t.Fatalf("expected 1 weekly bar, got %d", len(weekly))
	}
	wantHigh, wantLow, wantVol := daily[0].High, daily[0].Low, 0.0
	for _, d := range daily {
		if d.High > wantHigh {
			wantHigh = d.High
		}
		if d.Low < wantLow {
			wantLow = d.Low
		}
		wantVol += d.Volume
	}
	if weekly[0].High != wantHigh {
		t.Errorf("High = %v, want %v", weekly[0].High, wantHigh)
	}
	if weekly[0].Low != wantLow {
		t.Errorf("Low = %v, want %v", weekly[0].Low, wantLow)
	}
	if weekly[0].Volume != wantVol {
		t.Errorf("Volume = %v, want %v", weekly[0].Volume, wantVol)
	}
}

func TestSMAUndefinedBeforePeriod(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	sma := SMA(values, 3)
	for i := 0; i < 2; i++ {
		if !math.IsNaN(sma[i]) {
			t.Errorf("sma[%d] = %v, want NaN", i, sma[i])
		}
	}
	if sma[2] != 2 {
		t.Errorf("sma[2] = %v, want 2", sma[2])
	}
	if sma[4] != 4 {
		t.Errorf("sma[4] = %v, want 4", sma[4])
	}
}

func TestRSIBoundsAndFirstIndex(t *testing.T) {
	closes := make([]float64, 40)
	price := 100.0
	for i := range closes {
		if i%2 == 0 {
			price += 1
		} else {
			price -= 0.4
		}
		closes[i] = price
	}
	rsi := RSI(closes, 14)
	for i := 0; i < 14; i++ {
		if !math.IsNaN(rsi[i]) {
			t.Errorf("rsi[%d] = %v, want NaN (insufficient history)", i, rsi[i])
		}
	}
	for i := 14; i < len(rsi); i++ {
		if rsi[i] < 0 || rsi[i] > 100 {
			t.Errorf("rsi[%d] = %v out of [0,100]", i, rsi[i])
		}
	}
}

func TestRSIAllGainsIs100(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	rsi := RSI(closes, 14)
	if rsi[14] != 100 {
		t.Errorf("rsi[14] = %v, want 100 for a monotonically rising series", rsi[14])
	}
}

func TestATRFirstIndexAndNonNegative(t *testing.T) {
	weekly := make([]model.WeeklyBar, 20)
	price := 100.0
	for i := range weekly {
		price *= 1.01
		weekly[i] = model.WeeklyBar{
			WeekStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 7*i),
			Open:      price * 0.99,
			High:      price * 1.02,
			Low:       price * 0.97,
			Close:     price,
			Volume:    1000,
		}
	}
	atr := ATR(weekly, 14)
	for i := 0; i < 14; i++ {
		if !math.IsNaN(atr[i]) {
			t.Errorf("atr[%d] = %v, want NaN", i, atr[i])
		}
	}
	for i := 14; i < len(atr); i++ {
		if atr[i] < 0 {
			t.Errorf("atr[%d] = %v, want >= 0", i, atr[i])
		}
	}
}

func TestATRInsufficientHistory(t *testing.T) {
	weekly := make([]model.WeeklyBar, 5)
	atr := ATR(weekly, 14)
	for i, v := range atr {
		if !math.IsNaN(v) {
			t.Errorf("atr[%d] = %v, want NaN for insufficient history", i, v)
		}
	}
}

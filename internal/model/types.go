// Package model holds the data types shared across the backtest engine,
// signal generator, driver, and reporter. Nothing in here does I/O.
package model

import "time"

// Bar is one day of OHLCV data. Dates are UTC, truncated to midnight.
type Bar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// WeeklyBar aggregates a Mon-Fri ISO week of daily bars.
type WeeklyBar struct {
	WeekStart time.Time // Monday
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Action is the recommendation a symbol receives from the signal generator.
type Action string

const (
	ActionBuy    Action = "BUY"
	ActionHold   Action = "HOLD"
	ActionReduce Action = "REDUCE"
	ActionSell   Action = "SELL"
	ActionWatch  Action = "WATCH"
)

// EntryType distinguishes how a BUY's entry price was derived.
type EntryType string

const (
	EntryBreakout EntryType = "breakout"
	EntryPullback EntryType = "pullback"
	EntryNone     EntryType = "none"
)

// ExitReason is the closed set of reasons a trade can close.
type ExitReason string

const (
	ExitTP      ExitReason = "TP"
	ExitSL      ExitReason = "SL"
	ExitSell    ExitReason = "SELL"
	ExitReduce  ExitReason = "REDUCE"
	ExitTimeout ExitReason = "TIMEOUT"
)

// ExitMode selects how positions are closed once opened.
type ExitMode string

const (
	ExitModeTPSLOnly   ExitMode = "tpsl_only"
	ExitModeThreeAction ExitMode = "3action"
	ExitModeFourAction  ExitMode = "4action"
)

// TieBreaker picks which of a same-bar SL+TP touch wins.
type TieBreaker string

const (
	TieBreakWorst TieBreaker = "worst"
	TieBreakBest  TieBreaker = "best"
)

// Recommendation is one symbol's weekly signal.
type Recommendation struct {
	Symbol             string
	Action             Action
	EntryType          EntryType
	EntryPrice         float64
	BuyZoneLow         float64
	BuyZoneHigh        float64
	StopLoss           float64
	TakeProfit         float64
	PositionTargetPct  float64
	EarliestFillDate   time.Time // zero value means "no constraint"
	Rationale          string
}

// WeeklyPlan is the signal generator's output for one ISO week.
type WeeklyPlan struct {
	GeneratedAt     time.Time
	WeekStart       time.Time
	StrategyID      string
	StrategyVersion string
	Recommendations []Recommendation
}

// PendingEntry is a BUY recommendation waiting to be filled by the engine.
type PendingEntry struct {
	Symbol           string
	EntryPrice       float64
	StopLoss         float64
	TakeProfit       float64
	TargetQty        int64
	EntryType        EntryType
	EarliestFillDate time.Time
	ExpiresAt        time.Time
}

// OpenTrade is a live position. Created on fill, mutated only by reduce,
// destroyed on full exit.
type OpenTrade struct {
	Symbol       string
	EntryDate    time.Time
	EntryPrice   float64
	Qty          int64
	StopLoss     float64
	TakeProfit   float64
	Cost         int64
	EntryType    EntryType
	RealizedPnL  int64 // accumulated from partial REDUCEs
}

// ClosedTrade is a fully or partially closed position record.
type ClosedTrade struct {
	Symbol      string
	EntryDate   time.Time
	EntryPrice  float64
	ExitDate    time.Time
	ExitPrice   float64
	Qty         int64
	Reason      ExitReason
	ReturnPct   float64
	PnLVND      int64
	HoldDays    int
}

// EquityPoint is one day's portfolio valuation.
type EquityPoint struct {
	Date              time.Time
	Cash              int64
	OpenPositionsValue int64
	TotalValue        int64
}

// EngineState is all the backtest engine's mutable bookkeeping.
type EngineState struct {
	Cash           int64
	OpenTrades     map[string]*OpenTrade
	PendingEntries map[string]*PendingEntry
	ClosedTrades   []ClosedTrade
	EquityCurve    []EquityPoint
}

// NewEngineState builds an empty state with the given starting cash.
func NewEngineState(initialCash int64) *EngineState {
	return &EngineState{
		Cash:           initialCash,
		OpenTrades:     make(map[string]*OpenTrade),
		PendingEntries: make(map[string]*PendingEntry),
	}
}

// OpenPosition is the read-only view of a held position the signal generator
// receives. It is intentionally smaller than OpenTrade: the generator must
// not be able to mutate engine state, and shouldn't need to know about cost
// basis bookkeeping it has no business touching.
type OpenPosition struct {
	Qty        int64
	EntryPrice float64
}

// Package config defines the strategy/risk/run configuration schema (spec
// §6) and loads it from CLI flags with optional YAML file overrides,
// validated with struct tags.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/khangdang-jpg/weeklyback/internal/model"
)

// Strategy holds the weekly-signal-generator parameters.
type Strategy struct {
	MAShort              int     `yaml:"ma_short" validate:"required,gt=0"`
	MALong               int     `yaml:"ma_long" validate:"required,gtfield=MAShort"`
	RSIPeriod            int     `yaml:"rsi_period" validate:"required,gt=0"`
	ATRPeriod            int     `yaml:"atr_period" validate:"required,gt=0"`
	ATRStopMult          float64 `yaml:"atr_stop_mult" validate:"required,gt=0"`
	ATRTargetMult        float64 `yaml:"atr_target_mult" validate:"required,gt=0"`
	BreakoutVolumeWindow int     `yaml:"breakout_volume_window" validate:"required,gt=0"`
	MaxBuysPerWeek       int     `yaml:"max_buys_per_week" validate:"required,gt=0"`
}

// DefaultStrategy mirrors spec §6's defaults.
func DefaultStrategy() Strategy {
	return Strategy{
		MAShort:              10,
		MALong:               30,
		RSIPeriod:            14,
		ATRPeriod:            14,
		ATRStopMult:          1.5,
		ATRTargetMult:        2.5,
		BreakoutVolumeWindow: 14,
		MaxBuysPerWeek:       4,
	}
}

// Risk holds the position-sizing parameters.
type Risk struct {
	RiskPerTradePct float64 `yaml:"risk_per_trade_pct" validate:"required,gt=0,lt=1"`
	MinAllocPct     float64 `yaml:"min_alloc_pct" validate:"required,gt=0,ltefield=MaxAllocPct"`
	MaxAllocPct     float64 `yaml:"max_alloc_pct" validate:"required,gt=0,lte=1"`
	FeePerTrade     int64   `yaml:"fee_per_trade" validate:"gte=0"`
}

// DefaultRisk mirrors spec §6's defaults.
func DefaultRisk() Risk {
	return Risk{
		RiskPerTradePct: 0.01,
		MinAllocPct:     0.03,
		MaxAllocPct:     0.15,
		FeePerTrade:     0,
	}
}

// Run holds the CLI-level parameters for one backtest invocation.
type Run struct {
	From            string `validate:"required"`
	To              string `validate:"required"`
	InitialCash     int64  `validate:"required,gt=0"`
	OrderSize       int64  `validate:"gte=0"`
	TradesPerWeek   int    `validate:"gt=0"`
	UniversePath    string
	Mode            string `validate:"oneof=generate plan"`
	PlanFile        string
	TieBreaker      model.TieBreaker `validate:"oneof=worst best"`
	ExitMode        model.ExitMode   `validate:"oneof=tpsl_only 3action 4action"`
	RunRange        bool
	RiskBasedSizing bool
}

// DefaultRun mirrors spec §6's CLI defaults.
func DefaultRun() Run {
	return Run{
		InitialCash:     10_000_000,
		OrderSize:       1_000_000,
		TradesPerWeek:   4,
		Mode:            "generate",
		TieBreaker:      model.TieBreakWorst,
		ExitMode:        model.ExitModeTPSLOnly,
		RiskBasedSizing: true,
	}
}

// Config is the full validated configuration for one run.
type Config struct {
	Strategy Strategy `yaml:"strategy"`
	Risk     Risk     `yaml:"risk"`
	Run      Run      `yaml:"-"` // always CLI-sourced, never from file
}

var validate = validator.New()

// LoadFile strictly decodes a YAML overrides file (unknown keys are a
// startup input error) on top of the given defaults.
func LoadFile(path string, base Config) (Config, error) {
	out := base
	if path == "" {
		return out, validateConfig(out)
	}
	f, err := os.Open(path)
	if err != nil {
		return out, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return out, validateConfig(out)
}

func validateConfig(c Config) error {
	if err := validate.Struct(c.Strategy); err != nil {
		return fmt.Errorf("config: invalid strategy section: %w", err)
	}
	if err := validate.Struct(c.Risk); err != nil {
		return fmt.Errorf("config: invalid risk section: %w", err)
	}
	if err := validate.Struct(c.Run); err != nil {
		return fmt.Errorf("config: invalid run section: %w", err)
	}
	return nil
}

// ParseExitMode validates and normalizes a CLI --exit-mode flag value.
func ParseExitMode(s string) (model.ExitMode, error) {
	switch model.ExitMode(strings.ToLower(s)) {
	case model.ExitModeTPSLOnly:
		return model.ExitModeTPSLOnly, nil
	case model.ExitModeThreeAction:
		return model.ExitModeThreeAction, nil
	case model.ExitModeFourAction:
		return model.ExitModeFourAction, nil
	default:
		return "", fmt.Errorf("config: unknown exit mode %q (want tpsl_only, 3action, or 4action)", s)
	}
}

// ParseTieBreaker validates and normalizes a CLI --tie-breaker flag value.
func ParseTieBreaker(s string) (model.TieBreaker, error) {
	switch model.TieBreaker(strings.ToLower(s)) {
	case model.TieBreakWorst:
		return model.TieBreakWorst, nil
	case model.TieBreakBest:
		return model.TieBreakBest, nil
	default:
		return "", fmt.Errorf("config: unknown tie-breaker %q (want worst or best)", s)
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/khangdang-jpg/weeklyback/internal/model"
	"github.com/khangdang-jpg/weeklyback/internal/report"
)

// loadStaticPlan reads a WeeklyPlan JSON file for --mode=plan, where the
// same recommendations are replayed for every week of the run instead of
// being recomputed by the signal generator.
func loadStaticPlan(path string) (*model.WeeklyPlan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("plan-file: open %s: %w", path, err)
	}
	defer f.Close()

	var plan model.WeeklyPlan
	if err := json.NewDecoder(f).Decode(&plan); err != nil {
		return nil, fmt.Errorf("plan-file: decode %s: %w", path, err)
	}
	return &plan, nil
}

func writeSummaryJSON(path string, summary report.Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("run: create %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func writeRangeSummary(outDir string, diff report.RangeDiff) error {
	path := outDir + "/range_summary.json"
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("run: create %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(diff)
}

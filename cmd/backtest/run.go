package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/khangdang-jpg/weeklyback/internal/config"
	"github.com/khangdang-jpg/weeklyback/internal/driver"
	"github.com/khangdang-jpg/weeklyback/internal/engine"
	"github.com/khangdang-jpg/weeklyback/internal/logging"
	"github.com/khangdang-jpg/weeklyback/internal/model"
	"github.com/khangdang-jpg/weeklyback/internal/provider"
	"github.com/khangdang-jpg/weeklyback/internal/report"
	"github.com/khangdang-jpg/weeklyback/internal/sizer"
	"github.com/khangdang-jpg/weeklyback/internal/store"
)

// defaultUniverse is used when --universe is empty, per spec §6.
var defaultUniverse = []string{"VNM", "FPT", "HPG", "VCB", "MWG"}

// liveRunID is the websocket-hub channel a --serve-url run streams its
// equity points to while it's still in flight, before it has a real
// RunRecord ID from the final save. It's a separate concern from run
// history: one "current run" channel, independent of any persisted ID.
const liveRunID uint = 0

func newRunCmd() *cobra.Command {
	var (
		from, to        string
		initialCash     int64
		orderSize       int64
		tradesPerWeek   int
		universePath    string
		cliMode         string
		planFile        string
		tieBreaker      string
		exitMode        string
		runRange        bool
		riskBasedSizing bool
		dataDir         string
		outDir          string
		dbPath          string
		cacheTTL        time.Duration
		configPath      string
		xlsx            bool
		noSave          bool
		serveURL        string
		verbose         bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a backtest over a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(verbose, os.Stderr)
			runLog := logging.Component(log, "run")

			fromDate, err := time.Parse("2006-01-02", from)
			if err != nil {
				return &inputError{fmt.Errorf("--from: %w", err)}
			}
			toDate, err := time.Parse("2006-01-02", to)
			if err != nil {
				return &inputError{fmt.Errorf("--to: %w", err)}
			}
			if !toDate.After(fromDate) {
				return &inputError{fmt.Errorf("--to must be after --from")}
			}

			tb, err := config.ParseTieBreaker(tieBreaker)
			if err != nil {
				return &inputError{err}
			}
			em, err := config.ParseExitMode(exitMode)
			if err != nil {
				return &inputError{err}
			}
			if cliMode != "generate" && cliMode != "plan" {
				return &inputError{fmt.Errorf("--mode must be generate or plan, got %q", cliMode)}
			}
			if cliMode == "plan" && planFile == "" {
				return &inputError{fmt.Errorf("--plan-file is required when --mode=plan")}
			}

			symbols, err := loadUniverse(universePath)
			if err != nil {
				return &inputError{err}
			}

			var staticPlan *model.WeeklyPlan
			if cliMode == "plan" {
				staticPlan, err = loadStaticPlan(planFile)
				if err != nil {
					return &inputError{err}
				}
			}

			base := riskConfiguredRun(initialCash, orderSize, tradesPerWeek, tb, em, riskBasedSizing)
			base.Run.From = from
			base.Run.To = to
			base.Run.UniversePath = universePath
			base.Run.Mode = cliMode
			base.Run.PlanFile = planFile

			cfg, err := config.LoadFile(configPath, base)
			if err != nil {
				return &inputError{err}
			}

			db, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("run: open db %s: %w", dbPath, err)
			}
			defer db.Close()

			var fetcher driver.HistoryFetcher = provider.CachingProvider{
				Inner: provider.CSVProvider{Dir: dataDir},
				Cache: db.OHLCV(),
				TTL:   cacheTTL,
			}

			runDir := filepath.Join(outDir, fmt.Sprintf("%s-%s", fromDate.Format("20060102"), uuid.NewString()))
			runLog.Info().Strs("symbols", symbols).Str("from", from).Str("to", to).Str("run_dir", runDir).Msg("starting run")

			opts := runOptions{
				db:       db,
				log:      runLog,
				xlsx:     xlsx,
				noSave:   noSave,
				serveURL: strings.TrimRight(serveURL, "/"),
			}

			if runRange {
				err = executeRange(cmd.Context(), cfg, fetcher, symbols, fromDate, toDate, runDir, staticPlan, opts)
			} else {
				err = executeRun(cmd.Context(), cfg, fetcher, symbols, fromDate, toDate, runDir, "", staticPlan, opts)
			}
			if err != nil {
				runLog.Error().Err(err).Msg("run failed")
				notifyCompletion(opts.serveURL, runLog, report.Summary{}, true)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "start date (YYYY-MM-DD), required")
	cmd.Flags().StringVar(&to, "to", "", "end date (YYYY-MM-DD), required")
	cmd.Flags().Int64Var(&initialCash, "initial-cash", 10_000_000, "starting cash in VND")
	cmd.Flags().Int64Var(&orderSize, "order-size", 1_000_000, "fixed order size when risk-based sizing is disabled")
	cmd.Flags().IntVar(&tradesPerWeek, "trades-per-week", 4, "max buys per week")
	cmd.Flags().StringVar(&universePath, "universe", "", "newline-separated symbol list; '#' starts a comment")
	cmd.Flags().StringVar(&cliMode, "mode", "generate", "generate or plan")
	cmd.Flags().StringVar(&planFile, "plan-file", "", "static plan file, used with --mode=plan")
	cmd.Flags().StringVar(&tieBreaker, "tie-breaker", "worst", "worst or best")
	cmd.Flags().StringVar(&exitMode, "exit-mode", "tpsl_only", "tpsl_only, 3action, or 4action")
	cmd.Flags().BoolVar(&runRange, "run-range", false, "run both tie-breakers and emit a comparison")
	cmd.Flags().BoolVar(&riskBasedSizing, "risk-based-sizing", true, "size positions by risk_per_trade_pct instead of a fixed order size")
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "directory of <symbol>.csv OHLCV files")
	cmd.Flags().StringVar(&outDir, "out-dir", "./runs", "directory to write the timestamped run output into")
	cmd.Flags().StringVar(&dbPath, "db", "./backtest.db", "SQLite database path for the OHLCV cache and run history")
	cmd.Flags().DurationVar(&cacheTTL, "cache-ttl", 24*time.Hour, "max age of a cached OHLCV series before it's re-fetched")
	cmd.Flags().StringVar(&configPath, "config", "", "YAML file overriding the strategy/risk defaults")
	cmd.Flags().BoolVar(&xlsx, "xlsx", false, "also write a .xlsx workbook alongside the CSV exports")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "don't persist a RunRecord for this run")
	cmd.Flags().StringVar(&serveURL, "serve-url", "", "base URL of a running `serve` instance to push live equity points and completion events to")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "debug-level logging")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func riskConfiguredRun(initialCash, orderSize int64, tradesPerWeek int, tb model.TieBreaker, em model.ExitMode, riskBased bool) config.Config {
	strat := config.DefaultStrategy()
	strat.MaxBuysPerWeek = tradesPerWeek
	risk := config.DefaultRisk()
	if !riskBased {
		// Fixed order size mode: collapse the risk-based band to a single
		// percentage computed from order_size/initial_cash so the signal
		// generator's sizer.Clamp call degenerates to a constant target.
		if initialCash > 0 {
			pct := float64(orderSize) / float64(initialCash)
			risk.MinAllocPct, risk.MaxAllocPct = pct, pct
		}
	}
	return config.Config{
		Strategy: strat,
		Risk:     risk,
		Run: config.Run{
			InitialCash:     initialCash,
			OrderSize:       orderSize,
			TradesPerWeek:   tradesPerWeek,
			TieBreaker:      tb,
			ExitMode:        em,
			RiskBasedSizing: riskBased,
		},
	}
}

// runOptions carries the cross-cutting concerns (persistence, exports, live
// push) that every execute* helper needs but that aren't part of the
// backtest's own configuration.
type runOptions struct {
	db       *store.DB
	log      zerolog.Logger
	xlsx     bool
	noSave   bool
	serveURL string
}

func executeRange(ctx context.Context, cfg config.Config, fetcher driver.HistoryFetcher, symbols []string, from, to time.Time, outDir string, staticPlan *model.WeeklyPlan, opts runOptions) error {
	worstCfg := cfg
	worstCfg.Run.TieBreaker = model.TieBreakWorst
	bestCfg := cfg
	bestCfg.Run.TieBreaker = model.TieBreakBest

	worstSummary, err := executeRunSummary(ctx, worstCfg, fetcher, symbols, from, to, outDir, "worst", staticPlan, opts)
	if err != nil {
		return err
	}
	bestSummary, err := executeRunSummary(ctx, bestCfg, fetcher, symbols, from, to, outDir, "best", staticPlan, opts)
	if err != nil {
		return err
	}

	diff := report.DiffRange(worstSummary, bestSummary)
	return writeRangeSummary(outDir, diff)
}

func executeRun(ctx context.Context, cfg config.Config, fetcher driver.HistoryFetcher, symbols []string, from, to time.Time, outDir, suffix string, staticPlan *model.WeeklyPlan, opts runOptions) error {
	_, err := executeRunSummary(ctx, cfg, fetcher, symbols, from, to, outDir, suffix, staticPlan, opts)
	return err
}

func executeRunSummary(ctx context.Context, cfg config.Config, fetcher driver.HistoryFetcher, symbols []string, from, to time.Time, outDir, suffix string, staticPlan *model.WeeklyPlan, opts runOptions) (report.Summary, error) {
	fee := sizer.Fee(cfg.Risk.FeePerTrade)
	e := engine.New(cfg.Run.InitialCash, cfg.Run.TieBreaker, cfg.Run.ExitMode, fee)

	var onPoint func(model.EquityPoint)
	if opts.serveURL != "" {
		onPoint = func(p model.EquityPoint) { pushEquityPoint(opts.serveURL, opts.log, p) }
	}

	run := &driver.Run{
		Engine:        e,
		Fetcher:       fetcher,
		Symbols:       symbols,
		Strategy:      cfg.Strategy,
		Risk:          cfg.Risk,
		ExitMode:      cfg.Run.ExitMode,
		Fee:           fee,
		From:          from,
		To:            to,
		StaticPlan:    staticPlan,
		Log:           opts.log,
		OnEquityPoint: onPoint,
	}
	if _, err := run.Execute(ctx); err != nil {
		return report.Summary{}, err
	}

	summary := report.Summarize(e.State(), cfg.Run.InitialCash, from, to)
	if err := writeRunOutputs(outDir, suffix, summary, e.State(), opts.xlsx); err != nil {
		return summary, err
	}
	if !opts.noSave {
		if _, err := opts.db.Runs().Save(store.RunRecord{
			FromDate:    from.Format("2006-01-02"),
			ToDate:      to.Format("2006-01-02"),
			ExitMode:    string(cfg.Run.ExitMode),
			TieBreaker:  string(cfg.Run.TieBreaker),
			SummaryJSON: mustJSON(summary),
		}); err != nil {
			opts.log.Error().Err(err).Msg("failed to persist run record")
		}
	}
	notifyCompletion(opts.serveURL, opts.log, summary, false)
	return summary, nil
}

func writeRunOutputs(outDir, suffix string, summary report.Summary, state *model.EngineState, xlsx bool) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("run: create out dir: %w", err)
	}
	name := func(base string) string {
		if suffix == "" {
			return filepath.Join(outDir, base)
		}
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		return filepath.Join(outDir, fmt.Sprintf("%s_%s%s", stem, suffix, ext))
	}

	tradesFile, err := os.Create(name("trades.csv"))
	if err != nil {
		return err
	}
	defer tradesFile.Close()
	if err := report.WriteTradesCSV(tradesFile, state.ClosedTrades); err != nil {
		return err
	}

	equityFile, err := os.Create(name("equity_curve.csv"))
	if err != nil {
		return err
	}
	defer equityFile.Close()
	if err := report.WriteEquityCSV(equityFile, state.EquityCurve); err != nil {
		return err
	}

	if err := writeSummaryJSON(name("summary.json"), summary); err != nil {
		return err
	}

	if xlsx {
		if err := report.WriteWorkbook(name("report.xlsx"), summary, state.ClosedTrades, state.EquityCurve); err != nil {
			return fmt.Errorf("run: write workbook: %w", err)
		}
	}
	return nil
}

// pushEquityPoint POSTs one live equity point to a running `serve`
// instance's broadcast hub. Failures are logged and swallowed — a stream
// subscriber missing a point never aborts the backtest itself.
func pushEquityPoint(serveURL string, log zerolog.Logger, p model.EquityPoint) {
	body, err := json.Marshal(p)
	if err != nil {
		return
	}
	url := fmt.Sprintf("%s/runs/%d/publish", serveURL, liveRunID)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Debug().Err(err).Msg("serve-url publish failed")
		return
	}
	resp.Body.Close()
}

// notifyCompletion POSTs the finished (or failed) run's summary to a
// running `serve` instance so its /metrics counters reflect real runs.
func notifyCompletion(serveURL string, log zerolog.Logger, summary report.Summary, failed bool) {
	if serveURL == "" {
		return
	}
	body, err := json.Marshal(map[string]any{"summary": summary, "failed": failed})
	if err != nil {
		return
	}
	resp, err := http.Post(serveURL+"/runs/completion", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Debug().Err(err).Msg("serve-url completion notice failed")
		return
	}
	resp.Body.Close()
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func loadUniverse(path string) ([]string, error) {
	if path == "" {
		return defaultUniverse, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("universe: open %s: %w", path, err)
	}
	defer f.Close()

	var symbols []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		symbols = append(symbols, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("universe: read %s: %w", path, err)
	}
	if len(symbols) == 0 {
		return defaultUniverse, nil
	}
	return symbols, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mabot/internal/config"
	"mabot/internal/engine"
	"mabot/internal/events"
	"mabot/internal/ledger"
	"mabot/internal/logger"
	"mabot/internal/md"
	"mabot/internal/sim"
	"mabot/internal/state"
	"mabot/internal/store"
	"mabot/internal/strategy"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)
	if cfg.Mode != config.ModeBacktest {
		log.Fatal().Str("mode", string(cfg.Mode)).Msg("backtest requires -mode backtest")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("backtest failed")
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	bars, err := loadBars(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load bars: %w", err)
	}
	repo, checkpoint, closeRepo, err := openRepository(cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	if checkpoint != nil {
		if last := checkpoint.Snapshot().LastBarTime; !last.IsZero() {
			bars = after(bars, last)
			log.Info().Time("resume_after", last).Int("bars", len(bars)).Msg("resuming from checkpoint")
		}
	}
	if len(bars) == 0 {
		return errors.New("no bars in the requested period")
	}

	account, err := ledger.OpenAccount(ctx, repo, cfg.TradeContext(), cfg.InitialBalance, log)
	if err != nil {
		return fmt.Errorf("open account: %w", err)
	}
	positions := ledger.NewPositionLedger(account, repo, cfg.Symbol, log)

	feed, err := md.NewSliceFeed(bars)
	if err != nil {
		return err
	}
	decisions, err := engine.NewDecisionLogger(cfg.DecisionsPath, newRunID(), log)
	if err != nil {
		return fmt.Errorf("decision logger: %w", err)
	}
	defer func() {
		if err := decisions.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close decision logger")
		}
	}()

	var publisher engine.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		publisher = producer
	}

	simulator := sim.New(cfg.Location, cfg.SessionClose, log)
	e := engine.New(engine.Config{
		Instrument:    cfg.Symbol,
		Location:      cfg.Location,
		SessionClose:  cfg.SessionClose,
		HistoryWindow: cfg.HistoryWindow,
		DryRun:        cfg.DryRun,
	}, engine.Options{
		Strategy:  strategy.NewMovingAverage(cfg.StrategyParams(), log),
		Feed:      feed,
		Account:   account,
		Positions: positions,
		Repo:      repo,
		Execution: simulator,
		Decisions: decisions,
		Publisher: publisher,
		Log:       log,
	})
	simulator.SetHandler(e)

	pending, err := e.OpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("restore open orders: %w", err)
	}
	if len(pending) > 0 {
		simulator.Restore(pending)
		log.Info().Int("orders", len(pending)).Msg("restored open orders")
	}

	log.Info().Str("symbol", cfg.Symbol).Int("bars", len(bars)).Str("balance", account.Available().String()).Msg("backtest started")
	started := time.Now()
	var last md.Bar
	for _, bar := range bars {
		if err := ctx.Err(); err != nil {
			log.Warn().Msg("backtest interrupted")
			break
		}
		tick := bar.Tick()
		if err := e.OnTick(ctx, tick); err != nil {
			return fmt.Errorf("tick %s: %w", tick.Time.Format(time.RFC3339), err)
		}
		if err := simulator.OnTick(ctx, tick); err != nil {
			return fmt.Errorf("simulate %s: %w", tick.Time.Format(time.RFC3339), err)
		}
		if checkpoint != nil {
			checkpoint.SetLastBarTime(bar.Time)
		}
		last = bar
	}
	log.Info().Dur("elapsed", time.Since(started)).Msg("backtest finished")

	report, err := engine.BuildReport(ctx, cfg.Symbol, account, positions, decimal.NewFromFloat(last.Close))
	if err != nil {
		return err
	}
	report.Start, report.End = bars[0].Time, last.Time
	if err := report.Write(os.Stdout); err != nil {
		return err
	}

	if checkpoint != nil && cfg.CheckpointPath != "" {
		if err := checkpoint.Save(cfg.CheckpointPath); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		log.Info().Str("path", cfg.CheckpointPath).Msg("checkpoint saved")
	}
	return nil
}

func loadBars(ctx context.Context, cfg config.Config) ([]md.Bar, error) {
	var bars []md.Bar
	var err error
	if cfg.BarsPath != "" {
		bars, err = md.LoadBarsFile(cfg.BarsPath, cfg.Symbol)
	} else {
		bars, err = md.NewAlpacaFeed(cfg.APIKey, cfg.APISecret, cfg.Feed, cfg.Symbol).Query(ctx, cfg.Start, cfg.End)
	}
	if err != nil {
		return nil, err
	}
	var out []md.Bar
	for _, bar := range bars {
		if !cfg.Start.IsZero() && bar.Time.Before(cfg.Start) {
			continue
		}
		if !cfg.End.IsZero() && !bar.Time.Before(cfg.End) {
			continue
		}
		out = append(out, bar)
	}
	return out, nil
}

// openRepository returns the SQLite store when a database path is set, and
// otherwise the in-memory store restored from the checkpoint if one exists.
func openRepository(cfg config.Config, log zerolog.Logger) (store.Repository, *state.Store, func(), error) {
	if cfg.DBPath != "" {
		db, err := store.New(cfg.DBPath)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return db, nil, func() { db.Close() }, nil
	}

	mem := state.NewStore()
	if cfg.CheckpointPath != "" {
		err := mem.Load(cfg.CheckpointPath)
		switch {
		case err == nil:
			log.Info().Str("path", cfg.CheckpointPath).Msg("loaded checkpoint")
		case !errors.Is(err, os.ErrNotExist):
			return nil, nil, nil, fmt.Errorf("load checkpoint: %w", err)
		}
	}
	return mem, mem, func() {}, nil
}

func after(bars []md.Bar, t time.Time) []md.Bar {
	for i, bar := range bars {
		if bar.Time.After(t) {
			return bars[i:]
		}
	}
	return nil
}

func newRunID() string {
	return time.Now().UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
}

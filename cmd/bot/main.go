package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mabot/internal/broker"
	"mabot/internal/config"
	"mabot/internal/engine"
	"mabot/internal/events"
	"mabot/internal/ledger"
	"mabot/internal/logger"
	"mabot/internal/md"
	"mabot/internal/state"
	"mabot/internal/store"
	"mabot/internal/strategy"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const streamRetryDelay = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)
	if cfg.Mode != config.ModePaper {
		log.Fatal().Str("mode", string(cfg.Mode)).Msg("bot requires -mode paper, use cmd/backtest for backtests")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("bot stopped")
	}
	log.Info().Msg("bot shutdown complete")
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	repo, checkpoint, err := openRepository(cfg, log)
	if err != nil {
		return err
	}
	if closer, ok := repo.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	if checkpoint != nil {
		defer func() {
			if err := checkpoint.Save(cfg.CheckpointPath); err != nil {
				log.Error().Err(err).Msg("failed to save checkpoint")
			}
		}()
	}

	account, err := ledger.OpenAccount(ctx, repo, cfg.TradeContext(), cfg.InitialBalance, log)
	if err != nil {
		return fmt.Errorf("open account: %w", err)
	}
	positions := ledger.NewPositionLedger(account, repo, cfg.Symbol, log)

	brokerClient := broker.New(cfg.APIKey, cfg.APISecret, cfg.PaperBaseURL, cfg.ExtendedHours, log)
	if acct, err := brokerClient.Account(ctx); err != nil {
		log.Warn().Err(err).Msg("broker account unavailable")
	} else if acct.BuyingPower.LessThan(account.Available()) {
		log.Warn().Str("buying_power", acct.BuyingPower.String()).Str("ledger_balance", account.Available().String()).Msg("ledger balance exceeds broker buying power")
	}

	runID := newRunID()
	decisions, err := engine.NewDecisionLogger(cfg.DecisionsPath, runID, log)
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

	capacity := int(cfg.HistoryWindow/time.Minute) + 1
	feed := md.NewCachedFeed(md.NewAlpacaFeed(cfg.APIKey, cfg.APISecret, cfg.Feed, cfg.Symbol), capacity, time.Minute, log)

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
		Execution: brokerClient,
		Decisions: decisions,
		Publisher: publisher,
		Log:       log,
	})

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	go engine.ReconcileLoop(ctx, brokerClient, e, cfg.ReconcileInterval, log)

	log.Info().Str("run_id", runID).Str("symbol", cfg.Symbol).Str("feed", cfg.Feed).Str("balance", account.Available().String()).Msg("starting bot")
	for {
		err := md.StartStream(ctx, cfg.APIKey, cfg.APISecret, cfg.Feed, cfg.Symbol, log, func(bar md.Bar) {
			if err := e.OnTick(ctx, bar.Tick()); err != nil {
				cancel(err)
			}
			if checkpoint != nil {
				checkpoint.SetLastBarTime(bar.Time)
			}
		})
		if cause := context.Cause(ctx); cause != nil {
			if errors.Is(cause, context.Canceled) {
				return nil
			}
			return cause
		}
		log.Warn().Err(err).Dur("retry_in", streamRetryDelay).Msg("market data stream stopped")
		if err := broker.WaitForContext(ctx, streamRetryDelay); err != nil {
			return nil
		}
	}
}

func openRepository(cfg config.Config, log zerolog.Logger) (store.Repository, *state.Store, error) {
	if cfg.DBPath != "" {
		db, err := store.New(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info().Str("path", cfg.DBPath).Msg("database ready")
		return db, nil, nil
	}

	mem := state.NewStore()
	err := mem.Load(cfg.CheckpointPath)
	switch {
	case err == nil:
		log.Info().Str("path", cfg.CheckpointPath).Msg("loaded checkpoint")
	case !errors.Is(err, os.ErrNotExist):
		return nil, nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return mem, mem, nil
}

func newRunID() string {
	return time.Now().UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
}

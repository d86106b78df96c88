package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mabot/internal/config"
	"mabot/internal/fees"
	"mabot/internal/ledger"
	"mabot/internal/md"
	"mabot/internal/models"
	"mabot/internal/state"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionOpen = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func writeBars(t *testing.T, dir string, closes ...float64) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("time,open,close,high,low,volume\n")
	for i, c := range closes {
		fmt.Fprintf(&b, "%s,%g,%g,%g,%g,1000\n", sessionOpen.Add(time.Duration(i)*time.Minute).Format(time.RFC3339), c, c, c, c)
	}
	path := filepath.Join(dir, "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	return config.Config{
		Mode:              config.ModeBacktest,
		Symbol:            "AAPL",
		Env:               "backtest",
		Market:            "us",
		Account:           "main",
		InitialBalance:    decimal.NewFromInt(100000),
		Location:          time.UTC,
		SessionClose:      21 * time.Hour,
		HistoryWindow:     24 * time.Hour,
		MinOrderValue:     20000,
		LotSize:           100,
		BandPct:           0.05,
		ProfitThreshold:   0.005,
		PeriodsPerSession: 390,
		SellMemoryTTL:     time.Hour,
		DecisionsPath:     filepath.Join(dir, "decisions.ndjson"),
		CheckpointPath:    filepath.Join(dir, "checkpoint.json"),
		BarsPath:          writeBars(t, dir, 100, 101, 102, 101, 100, 99, 100, 101),
	}
}

func TestRunSavesCheckpointAndResumes(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, run(context.Background(), cfg, zerolog.Nop()))

	saved := state.NewStore()
	require.NoError(t, saved.Load(cfg.CheckpointPath))
	assert.Equal(t, sessionOpen.Add(7*time.Minute), saved.Snapshot().LastBarTime)
	assert.Len(t, saved.Snapshot().Accounts, 1)

	err := run(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "no bars")
}

// seedPendingBuy writes a checkpoint holding one BUYING lot whose order is
// still open at the venue.
func seedPendingBuy(t *testing.T, cfg config.Config, validUntil time.Time) models.HoldingKey {
	t.Helper()
	ctx := context.Background()
	mem := state.NewStore()
	account, err := ledger.OpenAccount(ctx, mem, cfg.TradeContext(), cfg.InitialBalance, zerolog.Nop())
	require.NoError(t, err)
	positions := ledger.NewPositionLedger(account, mem, cfg.Symbol, zerolog.Nop())

	price := decimal.NewFromInt(100)
	notional := price.Mul(decimal.NewFromInt(200))
	fee := fees.Calculate(notional)
	tr, err := positions.SubmitBuy(ctx, models.Order{
		Env: cfg.Env, Market: cfg.Market, Account: cfg.Account,
		OrderID: "sim-20240304142000-000001", Side: models.SideBuy, Instrument: cfg.Symbol, HoldingID: "h1",
		Quantity: 200, Price: price, Notional: notional, Fee: fee.Total, FeeDetail: fee.Detail,
		SubmitTime: sessionOpen.Add(-10 * time.Minute), ValidUntil: validUntil,
	})
	require.NoError(t, err)
	mem.SetLastBarTime(sessionOpen.Add(-time.Minute))
	require.NoError(t, mem.Save(cfg.CheckpointPath))
	return tr.Holding.Key()
}

func loadCheckpoint(t *testing.T, cfg config.Config, key models.HoldingKey) (models.Holding, models.Account) {
	t.Helper()
	saved := state.NewStore()
	require.NoError(t, saved.Load(cfg.CheckpointPath))
	h, err := saved.GetHolding(context.Background(), key)
	require.NoError(t, err)
	a, err := saved.GetAccount(context.Background(), cfg.TradeContext())
	require.NoError(t, err)
	return h, a
}

func TestResumeFillsRestoredOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.BarsPath = writeBars(t, t.TempDir(), 101, 99, 100)
	key := seedPendingBuy(t, cfg, sessionOpen.Add(6*time.Hour))

	require.NoError(t, run(context.Background(), cfg, zerolog.Nop()))

	h, account := loadCheckpoint(t, cfg, key)
	assert.Equal(t, models.HoldingHolding, h.Status)
	assert.True(t, account.Balance.Equal(decimal.RequireFromString("79955.30")), account.Balance.String())
}

func TestResumeCancelsRestoredOrderAtClose(t *testing.T) {
	cfg := testConfig(t)
	cfg.SessionClose = 14*time.Hour + 32*time.Minute
	cfg.BarsPath = writeBars(t, t.TempDir(), 101, 101, 101)
	key := seedPendingBuy(t, cfg, sessionOpen.Add(2*time.Minute))

	require.NoError(t, run(context.Background(), cfg, zerolog.Nop()))

	h, account := loadCheckpoint(t, cfg, key)
	assert.Equal(t, models.HoldingDeleted, h.Status)
	assert.True(t, account.Balance.Equal(cfg.InitialBalance), account.Balance.String())
}

func TestLoadBarsHonoursPeriod(t *testing.T) {
	cfg := testConfig(t)
	cfg.Start = sessionOpen.Add(2 * time.Minute)
	cfg.End = sessionOpen.Add(4 * time.Minute)

	bars, err := loadBars(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 102.0, bars[0].Close)
	assert.Equal(t, 101.0, bars[1].Close)
}

func TestAfter(t *testing.T) {
	bars := []md.Bar{{Time: sessionOpen}, {Time: sessionOpen.Add(time.Minute)}}
	assert.Len(t, after(bars, sessionOpen), 1)
	assert.Empty(t, after(bars, sessionOpen.Add(time.Minute)))
	assert.Len(t, after(bars, sessionOpen.Add(-time.Minute)), 2)
}

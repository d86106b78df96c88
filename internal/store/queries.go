package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"mabot/internal/models"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds the statements shared by the plain and transactional repositories.
type queries struct {
	q querier
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

func parseTimes(dst []*time.Time, src []string) error {
	for i, s := range src {
		t, err := parseTime(s)
		if err != nil {
			return fmt.Errorf("failed to parse time %q: %w", s, err)
		}
		*dst[i] = t
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func upsert(table string, keys, columns []string) string {
	all := append(append([]string{}, keys...), columns...)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(all)), ", ")
	sets := make([]string, len(columns))
	for i, c := range columns {
		sets[i] = c + " = excluded." + c
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table, strings.Join(all, ", "), marks, strings.Join(keys, ", "), strings.Join(sets, ", "))
}

// accounts

const selectAccount = `SELECT env, market, name, balance, created_at, updated_at
FROM accounts WHERE env = ? AND market = ? AND name = ?`

var upsertAccount = upsert("accounts",
	[]string{"env", "market", "name"},
	[]string{"balance", "created_at", "updated_at"})

func (r queries) GetAccount(ctx context.Context, key models.TradeContext) (models.Account, error) {
	var a models.Account
	var created, updated string
	err := r.q.QueryRowContext(ctx, selectAccount, key.Env, key.Market, key.Account).
		Scan(&a.Env, &a.Market, &a.Name, &a.Balance, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, fmt.Errorf("account %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to load account %s: %w", key, err)
	}
	if err := parseTimes([]*time.Time{&a.CreatedAt, &a.UpdatedAt}, []string{created, updated}); err != nil {
		return models.Account{}, err
	}
	return a, nil
}

func (r queries) SaveAccount(ctx context.Context, a models.Account) error {
	_, err := r.q.ExecContext(ctx, upsertAccount,
		a.Env, a.Market, a.Name, a.Balance.StringFixed(models.BalancePlaces), formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save account %s: %w", a.Context(), err)
	}
	return nil
}

// holdings

var holdingColumns = []string{
	"status", "quantity",
	"buy_price", "buy_notional", "buy_fee", "buy_order_id", "buy_time",
	"sell_price", "sell_notional", "sell_fee", "sell_order_id", "sell_time",
	"profit", "created_at", "updated_at",
}

var holdingKeys = []string{"env", "market", "account", "instrument", "holding_id"}

var (
	selectHoldings = "SELECT " + strings.Join(append(append([]string{}, holdingKeys...), holdingColumns...), ", ") + " FROM holdings"
	upsertHolding  = upsert("holdings", holdingKeys, holdingColumns)
)

func scanHolding(row rowScanner) (models.Holding, error) {
	var h models.Holding
	var status, buyTime, sellTime, created, updated string
	err := row.Scan(
		&h.Env, &h.Market, &h.Account, &h.Instrument, &h.HoldingID,
		&status, &h.Quantity,
		&h.BuyPrice, &h.BuyNotional, &h.BuyFee, &h.BuyOrderID, &buyTime,
		&h.SellPrice, &h.SellNotional, &h.SellFee, &h.SellOrderID, &sellTime,
		&h.Profit, &created, &updated,
	)
	if err != nil {
		return models.Holding{}, err
	}
	if err := h.Status.UnmarshalText([]byte(status)); err != nil {
		return models.Holding{}, err
	}
	err = parseTimes(
		[]*time.Time{&h.BuyTime, &h.SellTime, &h.CreatedAt, &h.UpdatedAt},
		[]string{buyTime, sellTime, created, updated},
	)
	return h, err
}

func (r queries) GetHolding(ctx context.Context, key models.HoldingKey) (models.Holding, error) {
	row := r.q.QueryRowContext(ctx, selectHoldings+" WHERE env = ? AND market = ? AND account = ? AND instrument = ? AND holding_id = ?",
		key.Env, key.Market, key.Account, key.Instrument, key.HoldingID)
	h, err := scanHolding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Holding{}, fmt.Errorf("holding %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return models.Holding{}, fmt.Errorf("failed to load holding %s: %w", key, err)
	}
	return h, nil
}

func (r queries) SaveHolding(ctx context.Context, h models.Holding) error {
	_, err := r.q.ExecContext(ctx, upsertHolding,
		h.Env, h.Market, h.Account, h.Instrument, h.HoldingID,
		h.Status.String(), h.Quantity,
		h.BuyPrice.String(), h.BuyNotional.String(), h.BuyFee.String(), h.BuyOrderID, formatTime(h.BuyTime),
		h.SellPrice.String(), h.SellNotional.String(), h.SellFee.String(), h.SellOrderID, formatTime(h.SellTime),
		h.Profit.String(), formatTime(h.CreatedAt), formatTime(h.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save holding %s: %w", h.Key(), err)
	}
	return nil
}

func (r queries) ListHoldings(ctx context.Context, tc models.TradeContext, instrument string, statuses ...models.HoldingStatus) ([]models.Holding, error) {
	query := selectHoldings + " WHERE env = ? AND market = ? AND account = ? AND instrument = ?"
	args := []any{tc.Env, tc.Market, tc.Account, instrument}
	if len(statuses) > 0 {
		query += " AND status IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ") + ")"
		for _, s := range statuses {
			args = append(args, s.String())
		}
	}
	query += " ORDER BY created_at, holding_id"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	defer rows.Close()

	var out []models.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	return out, nil
}

// orders

var orderColumns = []string{
	"side", "status", "instrument", "holding_id", "quantity",
	"price", "notional", "fee", "fee_detail",
	"submit_time", "valid_until", "complete_time",
	"trader", "note", "detail",
}

var orderKeys = []string{"env", "market", "account", "order_id"}

var (
	selectOrder = "SELECT " + strings.Join(append(append([]string{}, orderKeys...), orderColumns...), ", ") +
		" FROM orders WHERE env = ? AND market = ? AND account = ? AND order_id = ?"
	upsertOrder = upsert("orders", orderKeys, orderColumns)
)

func (r queries) GetOrder(ctx context.Context, key models.OrderKey) (models.Order, error) {
	var o models.Order
	var side, status, feeDetail, submit, valid, complete, detail string
	err := r.q.QueryRowContext(ctx, selectOrder, key.Env, key.Market, key.Account, key.OrderID).Scan(
		&o.Env, &o.Market, &o.Account, &o.OrderID,
		&side, &status, &o.Instrument, &o.HoldingID, &o.Quantity,
		&o.Price, &o.Notional, &o.Fee, &feeDetail,
		&submit, &valid, &complete,
		&o.Trader, &o.Note, &detail,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, fmt.Errorf("order %s/%s: %w", key.TradeContext, key.OrderID, ErrNotFound)
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to load order %s: %w", key.OrderID, err)
	}
	o.Side, o.Status = models.Side(side), models.OrderStatus(status)
	if err := json.Unmarshal([]byte(feeDetail), &o.FeeDetail); err != nil {
		return models.Order{}, fmt.Errorf("failed to decode fee detail of %s: %w", key.OrderID, err)
	}
	if err := json.Unmarshal([]byte(detail), &o.Detail); err != nil {
		return models.Order{}, fmt.Errorf("failed to decode detail of %s: %w", key.OrderID, err)
	}
	if err := parseTimes([]*time.Time{&o.SubmitTime, &o.ValidUntil, &o.CompleteTime}, []string{submit, valid, complete}); err != nil {
		return models.Order{}, err
	}
	return o, nil
}

func (r queries) SaveOrder(ctx context.Context, o models.Order) error {
	if o.OrderID == "" {
		return fmt.Errorf("failed to save order for holding %s: empty order id", o.HoldingID)
	}
	feeDetail, err := encodeJSON(o.FeeDetail)
	if err != nil {
		return fmt.Errorf("failed to encode fee detail of %s: %w", o.OrderID, err)
	}
	detail, err := encodeJSON(o.Detail)
	if err != nil {
		return fmt.Errorf("failed to encode detail of %s: %w", o.OrderID, err)
	}
	_, err = r.q.ExecContext(ctx, upsertOrder,
		o.Env, o.Market, o.Account, o.OrderID,
		string(o.Side), string(o.Status), o.Instrument, o.HoldingID, o.Quantity,
		o.Price.String(), o.Notional.String(), o.Fee.String(), feeDetail,
		formatTime(o.SubmitTime), formatTime(o.ValidUntil), formatTime(o.CompleteTime),
		o.Trader, o.Note, detail,
	)
	if err != nil {
		return fmt.Errorf("failed to save order %s: %w", o.OrderID, err)
	}
	return nil
}

func encodeJSON[T any](v map[string]T) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

package broker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mabot/internal/models"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	placed    []alpaca.PlaceOrderRequest
	orders    map[string]*alpaca.Order
	cancelled []string
	err       error
}

func (f *fakeAPI) PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.placed = append(f.placed, req)
	return &alpaca.Order{ID: "venue-1", ClientOrderID: req.ClientOrderID, Status: "new"}, nil
}

func (f *fakeAPI) GetOrder(id string) (*alpaca.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return o, nil
}

func (f *fakeAPI) CancelOrder(id string) error {
	f.cancelled = append(f.cancelled, id)
	return f.err
}

func (f *fakeAPI) GetAccount() (*alpaca.Account, error) {
	return &alpaca.Account{Equity: decimal.NewFromInt(1000), BuyingPower: decimal.NewFromInt(500)}, nil
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestSubmitPlacesDayLimitOrder(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(api, false, zerolog.Nop())
	order := models.Order{Side: models.SideSell, Instrument: "AAPL", HoldingID: "h1", Quantity: 200, Price: decimal.RequireFromString("100.90"),
		SubmitTime: time.Unix(36, 0)}

	id, err := c.Submit(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, "venue-1", id)

	require.Len(t, api.placed, 1)
	req := api.placed[0]
	assert.Equal(t, alpaca.Sell, req.Side)
	assert.Equal(t, alpaca.Limit, req.Type)
	assert.Equal(t, alpaca.Day, req.TimeInForce)
	assert.True(t, req.Qty.Equal(decimal.NewFromInt(200)))
	assert.True(t, req.LimitPrice.Equal(decimal.RequireFromString("100.9")))
	assert.Equal(t, "sell-h1-10", req.ClientOrderID)
}

func TestSubmitReturnsVenueError(t *testing.T) {
	boom := errors.New("forbidden")
	c := newClient(&fakeAPI{err: boom}, false, zerolog.Nop())
	_, err := c.Submit(context.Background(), models.Order{Side: models.SideBuy, Quantity: 1, Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, boom)
}

func TestOrderStatusMapping(t *testing.T) {
	filledAt := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	api := &fakeAPI{orders: map[string]*alpaca.Order{
		"f": {ID: "f", Status: "filled", FilledQty: decimal.NewFromInt(200), FilledAvgPrice: decPtr("99.5"), FilledAt: &filledAt},
		"x": {ID: "x", Status: "expired", Qty: decPtr("200")},
		"p": {ID: "p", Status: "partially_filled", FilledQty: decimal.NewFromInt(50)},
		"n": {ID: "n", Status: "new"},
	}}
	c := newClient(api, false, zerolog.Nop())
	ctx := context.Background()

	conf, err := c.OrderStatus(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, conf.Status)
	assert.Equal(t, int64(200), conf.Quantity)
	assert.True(t, conf.Price.Equal(decimal.RequireFromString("99.5")))
	assert.Equal(t, filledAt, conf.Time)

	conf, err = c.OrderStatus(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, conf.Status)
	assert.Equal(t, int64(200), conf.Quantity)

	conf, err = c.OrderStatus(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPartial, conf.Status)

	conf, err = c.OrderStatus(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, models.OrderSubmitted, conf.Status)

	_, err = c.OrderStatus(ctx, "missing")
	assert.Error(t, err)
}

func TestCancelAndAccount(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(api, false, zerolog.Nop())
	require.NoError(t, c.Cancel(context.Background(), "venue-1"))
	assert.Equal(t, []string{"venue-1"}, api.cancelled)

	acct, err := c.Account(context.Background())
	require.NoError(t, err)
	assert.True(t, acct.BuyingPower.Equal(decimal.NewFromInt(500)))
}

func TestClientOrderIDIsUniquePerSubmission(t *testing.T) {
	at := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	first := models.Order{Side: models.SideSell, HoldingID: "20240304_103000.3f2a9c1e_100", SubmitTime: at}
	second := first
	second.SubmitTime = at.Add(24 * time.Hour)

	assert.NotEqual(t, ClientOrderID(first), ClientOrderID(second))
	assert.Equal(t, ClientOrderID(first), ClientOrderID(first), "retries of one submission reuse the key")
	assert.True(t, strings.HasPrefix(ClientOrderID(first), "sell-20240304_103000.3f2a9c1e_100-"))
}

func TestClientOrderIDIsBounded(t *testing.T) {
	at := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	long := models.Order{Side: models.SideBuy, HoldingID: strings.Repeat("x", 80), SubmitTime: at}
	later := long
	later.SubmitTime = at.Add(time.Minute)

	assert.Len(t, ClientOrderID(long), 48)
	assert.NotEqual(t, ClientOrderID(long), ClientOrderID(later), "truncation keeps the time component")
}

func TestWaitForContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, WaitForContext(ctx, time.Hour), context.Canceled)
}

package md

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

// AlpacaFeed reads one-minute historical bars from the Alpaca data API.
type AlpacaFeed struct {
	client *marketdata.Client
	symbol string
	feed   marketdata.Feed
}

func NewAlpacaFeed(apiKey, apiSecret, feed, symbol string) *AlpacaFeed {
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	})
	return &AlpacaFeed{client: client, symbol: symbol, feed: parseFeed(feed)}
}

func (f *AlpacaFeed) Query(ctx context.Context, begin, end time.Time) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := f.client.GetBars(f.symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneMin,
		Start:     begin,
		End:       end,
		Feed:      f.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("get bars symbol=%s: %w", f.symbol, err)
	}
	bars := make([]Bar, 0, len(raw))
	for _, b := range raw {
		volume := float64(b.Volume)
		bars = append(bars, Bar{
			Symbol:   f.symbol,
			Time:     b.Timestamp.UTC(),
			Open:     b.Open,
			Close:    b.Close,
			High:     b.High,
			Low:      b.Low,
			Volume:   volume,
			Turnover: b.VWAP * volume,
		})
	}
	return Normalize(bars)
}

func parseFeed(feed string) marketdata.Feed {
	switch feed {
	case "iex":
		return marketdata.IEX
	case "sip":
		return marketdata.SIP
	default:
		return marketdata.IEX
	}
}

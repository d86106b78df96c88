package md

import (
	"context"
	"fmt"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
	"github.com/rs/zerolog"
)

type BarHandler func(Bar)

// StartStream subscribes to live minute bars for symbol and blocks until ctx
// is done.
func StartStream(ctx context.Context, apiKey, apiSecret, feed, symbol string, log zerolog.Logger, handler BarHandler) error {
	client := stream.NewStocksClient(
		parseFeed(feed),
		stream.WithCredentials(apiKey, apiSecret),
	)

	// Connect must be called before subscribing in this SDK version
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect market data stream: %w", err)
	}

	if err := client.SubscribeToBars(func(bar stream.Bar) {
		log.Debug().Str("symbol", bar.Symbol).Time("time", bar.Timestamp).Float64("close", bar.Close).Msg("received bar")
		handler(Bar{
			Symbol: bar.Symbol,
			Time:   bar.Timestamp.UTC(),
			Open:   bar.Open,
			Close:  bar.Close,
			High:   bar.High,
			Low:    bar.Low,
			Volume: float64(bar.Volume),
		})
	}, symbol); err != nil {
		return fmt.Errorf("subscribe to bars: %w", err)
	}

	log.Info().Str("symbol", symbol).Msg("subscribed to bars")

	<-ctx.Done()
	return ctx.Err()
}

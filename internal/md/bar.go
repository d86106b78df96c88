package md

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrMarketDataFormat marks a bar that cannot be used as a price observation.
var ErrMarketDataFormat = errors.New("market data format error")

// Bar is one sampling period of price data for an instrument.
type Bar struct {
	Symbol   string    `json:"symbol"`
	Time     time.Time `json:"time"`
	Open     float64   `json:"open"`
	Close    float64   `json:"close"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Volume   float64   `json:"volume"`
	Turnover float64   `json:"turnover"`
}

// Tick is one price observation delivered to the trading loop.
type Tick struct {
	Symbol string
	Time   time.Time
	Price  float64
}

func (b Bar) Tick() Tick {
	return Tick{Symbol: b.Symbol, Time: b.Time, Price: b.Close}
}

// Normalize validates bars and returns them sorted ascending by time with
// duplicate timestamps collapsed to the last occurrence.
func Normalize(bars []Bar) ([]Bar, error) {
	for i, bar := range bars {
		if bar.Time.IsZero() {
			return nil, fmt.Errorf("%w: bar %d has no time", ErrMarketDataFormat, i)
		}
		if bar.Close <= 0 {
			return nil, fmt.Errorf("%w: bar %d at %s has close %.4f", ErrMarketDataFormat, i, bar.Time.Format(time.RFC3339), bar.Close)
		}
	}
	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})
	out := sorted[:0]
	for _, bar := range sorted {
		if n := len(out); n > 0 && out[n-1].Time.Equal(bar.Time) {
			out[n-1] = bar
			continue
		}
		out = append(out, bar)
	}
	return out, nil
}

// Closes extracts the close price series.
func Closes(bars []Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}
	return closes
}

package md

import (
	"context"
	"sort"
	"time"
)

// Feed returns the bars of one instrument between begin and end inclusive,
// ascending and deduplicated by time.
type Feed interface {
	Query(ctx context.Context, begin, end time.Time) ([]Bar, error)
}

// SliceFeed serves bars from memory. It backs backtests and tests.
type SliceFeed struct {
	bars []Bar
}

func NewSliceFeed(bars []Bar) (*SliceFeed, error) {
	normalized, err := Normalize(bars)
	if err != nil {
		return nil, err
	}
	return &SliceFeed{bars: normalized}, nil
}

func (f *SliceFeed) Query(ctx context.Context, begin, end time.Time) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return window(f.bars, begin, end), nil
}

// Bars returns every bar held by the feed.
func (f *SliceFeed) Bars() []Bar {
	return f.bars
}

func window(bars []Bar, begin, end time.Time) []Bar {
	lo := sort.Search(len(bars), func(i int) bool { return !bars[i].Time.Before(begin) })
	hi := sort.Search(len(bars), func(i int) bool { return bars[i].Time.After(end) })
	if lo >= hi {
		return nil
	}
	out := make([]Bar, hi-lo)
	copy(out, bars[lo:hi])
	return out
}

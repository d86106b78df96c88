package md

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CachedFeed keeps the most recent bars of an upstream feed in memory and
// only asks upstream for the tail it has not seen yet.
type CachedFeed struct {
	upstream Feed
	step     time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	bars    *RingBuffer[Bar]
	covered time.Time
}

// NewCachedFeed retains at most capacity bars. step is the sampling period of
// the upstream bars.
func NewCachedFeed(upstream Feed, capacity int, step time.Duration, log zerolog.Logger) *CachedFeed {
	return &CachedFeed{
		upstream: upstream,
		step:     step,
		log:      log.With().Str("component", "cached_feed").Logger(),
		bars:     NewRingBuffer[Bar](capacity),
	}
}

func (c *CachedFeed) Query(ctx context.Context, begin, end time.Time) ([]Bar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, hasLast := c.bars.Last()
	switch {
	case !hasLast || begin.Before(c.covered):
		c.bars.Reset()
		if err := c.fetch(ctx, begin, end); err != nil {
			return nil, err
		}
		c.covered = begin
	case last.Time.Before(end):
		if err := c.fetch(ctx, last.Time.Add(c.step), end); err != nil {
			return nil, err
		}
	}

	if first, ok := c.bars.First(); ok && c.bars.Len() == c.bars.size && first.Time.After(c.covered) {
		// older bars were evicted, only what is still buffered is covered
		c.covered = first.Time
	}
	return window(c.bars.Values(), begin, end), nil
}

func (c *CachedFeed) fetch(ctx context.Context, begin, end time.Time) error {
	if begin.After(end) {
		return nil
	}
	bars, err := c.upstream.Query(ctx, begin, end)
	if err != nil {
		return fmt.Errorf("query upstream %s..%s: %w", begin.Format(time.RFC3339), end.Format(time.RFC3339), err)
	}
	bars, err = Normalize(bars)
	if err != nil {
		return err
	}
	last, hasLast := c.bars.Last()
	added := 0
	for _, bar := range bars {
		if hasLast && !bar.Time.After(last.Time) {
			continue
		}
		c.bars.Add(bar)
		added++
	}
	c.log.Debug().Time("begin", begin).Time("end", end).Int("fetched", len(bars)).Int("added", added).Msg("synced bars")
	return nil
}

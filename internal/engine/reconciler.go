package engine

import (
	"context"
	"time"

	"mabot/internal/models"

	"github.com/rs/zerolog"
)

// OrderSource reports the current state of a venue order.
type OrderSource interface {
	OrderStatus(ctx context.Context, orderID string) (Confirmation, error)
}

// ReconcileLoop polls the venue for the orders the ledger is waiting on and
// feeds final statuses back into the engine.
func ReconcileLoop(ctx context.Context, source OrderSource, e *Engine, interval time.Duration, log zerolog.Logger) {
	log = log.With().Str("component", "reconciler").Logger()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reconcileOnce(ctx, source, e, log)
		}
	}
}

func reconcileOnce(ctx context.Context, source OrderSource, e *Engine, log zerolog.Logger) {
	ids, err := e.PendingOrders(ctx)
	if err != nil {
		log.Error().Err(err).Msg("reconcile pending orders failed")
		return
	}
	for _, id := range ids {
		c, err := source.OrderStatus(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("order", id).Msg("reconcile order status failed")
			continue
		}
		if c.Status != models.OrderFilled && c.Status != models.OrderCancelled {
			continue
		}
		if err := e.OnConfirmation(ctx, c); err != nil {
			log.Error().Err(err).Str("order", id).Msg("reconcile confirmation failed")
		}
	}
}

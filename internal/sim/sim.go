// Package sim fills limit orders against a replayed price series.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mabot/internal/engine"
	"mabot/internal/md"
	"mabot/internal/models"

	"github.com/rs/zerolog"
)

// ConfirmationHandler receives the execution reports of the simulator.
type ConfirmationHandler interface {
	OnConfirmation(ctx context.Context, c engine.Confirmation) error
}

// Simulator keeps open limit orders and fills them when the tick price
// crosses the limit. Every order still open at the session close is cancelled.
type Simulator struct {
	location     *time.Location
	sessionClose time.Duration
	log          zerolog.Logger

	mu      sync.Mutex
	handler ConfirmationHandler
	seq     int
	open    []models.Order
}

func New(location *time.Location, sessionClose time.Duration, log zerolog.Logger) *Simulator {
	if location == nil {
		location = time.UTC
	}
	return &Simulator{
		location:     location,
		sessionClose: sessionClose,
		log:          log.With().Str("component", "sim").Logger(),
	}
}

func (s *Simulator) SetHandler(h ConfirmationHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *Simulator) Submit(_ context.Context, order models.Order) (string, error) {
	if order.Side != models.SideBuy && order.Side != models.SideSell {
		return "", fmt.Errorf("unsupported side %q", order.Side)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	order.OrderID = fmt.Sprintf("sim-%s-%06d", order.SubmitTime.Format("20060102150405"), s.seq)
	order.Status = models.OrderSubmitted
	s.open = append(s.open, order)
	return order.OrderID, nil
}

// Restore puts back orders that were still open when an earlier run stopped.
// Orders already open are skipped.
func (s *Simulator) Restore(orders []models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	known := make(map[string]bool, len(s.open))
	for _, o := range s.open {
		known[o.OrderID] = true
	}
	for _, o := range orders {
		if o.OrderID == "" || known[o.OrderID] {
			continue
		}
		known[o.OrderID] = true
		s.open = append(s.open, o)
	}
	s.seq += len(orders)
}

// Cancel withdraws an open order and reports it as cancelled.
func (s *Simulator) Cancel(ctx context.Context, orderID string) error {
	s.mu.Lock()
	var found *models.Order
	for i, o := range s.open {
		if o.OrderID == orderID {
			found = &o
			s.open = append(s.open[:i], s.open[i+1:]...)
			break
		}
	}
	handler := s.handler
	s.mu.Unlock()

	if found == nil {
		return fmt.Errorf("order %s is not open", orderID)
	}
	return report(ctx, handler, *found, models.OrderCancelled, found.SubmitTime)
}

// Open returns the number of orders waiting for a fill.
func (s *Simulator) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// OnTick cancels orders past their validity, fills crossing orders at their
// limit price, then cancels the rest when the tick is at or after the session
// close.
func (s *Simulator) OnTick(ctx context.Context, tick md.Tick) error {
	s.mu.Lock()
	var filled, cancelled, kept []models.Order
	for _, o := range s.open {
		if !o.ValidUntil.IsZero() && tick.Time.After(o.ValidUntil) {
			cancelled = append(cancelled, o)
			continue
		}
		if crosses(o, tick.Price) {
			filled = append(filled, o)
		} else {
			kept = append(kept, o)
		}
	}
	if !tick.Time.Before(s.closeOf(tick.Time)) {
		cancelled, kept = append(cancelled, kept...), nil
	}
	s.open = kept
	handler := s.handler
	s.mu.Unlock()

	for _, o := range filled {
		if err := report(ctx, handler, o, models.OrderFilled, tick.Time); err != nil {
			return err
		}
	}
	for _, o := range cancelled {
		if err := report(ctx, handler, o, models.OrderCancelled, tick.Time); err != nil {
			return err
		}
	}
	if len(filled)+len(cancelled) > 0 {
		s.log.Debug().Int("filled", len(filled)).Int("cancelled", len(cancelled)).Time("tick", tick.Time).Msg("orders settled")
	}
	return nil
}

func crosses(o models.Order, price float64) bool {
	limit := o.Price.InexactFloat64()
	if o.Side == models.SideBuy {
		return limit >= price
	}
	return limit <= price
}

func (s *Simulator) closeOf(t time.Time) time.Time {
	y, m, d := t.In(s.location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.location).Add(s.sessionClose)
}

func report(ctx context.Context, h ConfirmationHandler, o models.Order, status models.OrderStatus, at time.Time) error {
	if h == nil {
		return nil
	}
	return h.OnConfirmation(ctx, engine.Confirmation{
		OrderID:  o.OrderID,
		Status:   status,
		Quantity: o.Quantity,
		Price:    o.Price,
		Time:     at,
	})
}

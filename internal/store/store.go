// Package store defines the persistence boundary of the ledger and its
// SQLite implementation.
package store

import (
	"context"
	"errors"

	"mabot/internal/models"
)

var ErrNotFound = errors.New("not found")

// Repository persists accounts, holdings and orders. Atomic runs fn against
// a repository whose writes commit together or not at all.
type Repository interface {
	GetAccount(ctx context.Context, key models.TradeContext) (models.Account, error)
	SaveAccount(ctx context.Context, account models.Account) error

	GetHolding(ctx context.Context, key models.HoldingKey) (models.Holding, error)
	SaveHolding(ctx context.Context, holding models.Holding) error
	ListHoldings(ctx context.Context, tc models.TradeContext, instrument string, statuses ...models.HoldingStatus) ([]models.Holding, error)

	GetOrder(ctx context.Context, key models.OrderKey) (models.Order, error)
	SaveOrder(ctx context.Context, order models.Order) error

	Atomic(ctx context.Context, fn func(tx Repository) error) error
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mabot/internal/models"
	"mabot/internal/store"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AccountLedger owns the cash balance of one account. Every change is
// rounded to models.BalancePlaces and written through before it is applied.
type AccountLedger struct {
	tc   models.TradeContext
	repo store.Repository
	log  zerolog.Logger
	now  func() time.Time

	mu      sync.Mutex
	account models.Account
}

// OpenAccount loads the account for tc, creating it with initial when it
// does not exist yet.
func OpenAccount(ctx context.Context, repo store.Repository, tc models.TradeContext, initial decimal.Decimal, log zerolog.Logger) (*AccountLedger, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	l := &AccountLedger{
		tc:   tc,
		repo: repo,
		log:  log.With().Str("component", "account").Str("account", tc.String()).Logger(),
		now:  time.Now,
	}

	account, err := repo.GetAccount(ctx, tc)
	switch {
	case errors.Is(err, store.ErrNotFound):
		now := l.now()
		account = models.Account{
			Env:       tc.Env,
			Market:    tc.Market,
			Name:      tc.Account,
			Balance:   initial.Round(models.BalancePlaces),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repo.SaveAccount(ctx, account); err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}
		l.log.Info().Str("balance", account.Balance.String()).Msg("account created")
	case err != nil:
		return nil, fmt.Errorf("load account: %w", err)
	case account.Context() != tc:
		return nil, fmt.Errorf("%w: loaded %s for %s", ErrAccountContextMismatch, account.Context(), tc)
	}
	l.account = account
	return l, nil
}

func (l *AccountLedger) Context() models.TradeContext {
	return l.tc
}

func (l *AccountLedger) Available() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account.Balance
}

// Debit subtracts amount and persists the account.
func (l *AccountLedger) Debit(ctx context.Context, amount decimal.Decimal, reason string) error {
	return l.debit(ctx, l.repo, amount, reason)
}

// Credit adds amount and persists the account.
func (l *AccountLedger) Credit(ctx context.Context, amount decimal.Decimal, reason string) error {
	return l.credit(ctx, l.repo, amount, reason)
}

func (l *AccountLedger) debit(ctx context.Context, tx store.Repository, amount decimal.Decimal, reason string) error {
	amount = amount.Round(models.BalancePlaces)
	if amount.IsNegative() {
		return fmt.Errorf("debit %s: negative amount", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.account.Balance.LessThan(amount) {
		return fmt.Errorf("%w: balance %s, debit %s (%s)", ErrInsufficientFunds, l.account.Balance, amount, reason)
	}
	return l.apply(ctx, tx, amount.Neg(), reason)
}

func (l *AccountLedger) credit(ctx context.Context, tx store.Repository, amount decimal.Decimal, reason string) error {
	amount = amount.Round(models.BalancePlaces)
	if amount.IsNegative() {
		return fmt.Errorf("credit %s: negative amount", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.apply(ctx, tx, amount, reason)
}

// settle debits a positive delta or credits a negative one.
func (l *AccountLedger) settle(ctx context.Context, tx store.Repository, delta decimal.Decimal, reason string) error {
	switch delta.Sign() {
	case 1:
		return l.debit(ctx, tx, delta, reason)
	case -1:
		return l.credit(ctx, tx, delta.Neg(), reason)
	}
	return nil
}

// apply must be called with l.mu held.
func (l *AccountLedger) apply(ctx context.Context, tx store.Repository, delta decimal.Decimal, reason string) error {
	pre := l.account.Balance
	next := l.account
	next.Balance = pre.Add(delta).Round(models.BalancePlaces)
	next.UpdatedAt = l.now()
	if err := tx.SaveAccount(ctx, next); err != nil {
		return err
	}
	l.account = next
	l.log.Info().
		Str("pre_balance", pre.String()).
		Str("delta", delta.String()).
		Str("balance", next.Balance.String()).
		Str("reason", reason).
		Msg("balance changed")
	return nil
}

func (l *AccountLedger) snapshot() models.Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account
}

func (l *AccountLedger) restore(a models.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !a.Balance.Equal(l.account.Balance) {
		l.log.Warn().Str("balance", l.account.Balance.String()).Str("restored", a.Balance.String()).Msg("balance restored after failed unit")
	}
	l.account = a
}

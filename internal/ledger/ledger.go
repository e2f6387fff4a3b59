package ledger

import (
	"errors"
	"fmt"
	"math"

	"github.com/xtrntr/venue/internal/models"
)

var (
	// ErrUnsupportedCurrency is returned for a currency outside the configured set.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	// ErrOutOfRange is returned when a change would leave a balance that is
	// not a finite number. The balance is left untouched.
	ErrOutOfRange = errors.New("balance out of range")
)

// Ledger applies balance changes for a fixed set of currencies. It holds no
// locks of its own; the caller serializes access.
type Ledger struct {
	currencies []string
	known      map[string]struct{}
}

// New creates a ledger for the given currency codes
func New(currencies []string) *Ledger {
	l := &Ledger{known: make(map[string]struct{}, len(currencies))}
	for _, c := range currencies {
		if _, dup := l.known[c]; dup {
			continue
		}
		l.known[c] = struct{}{}
		l.currencies = append(l.currencies, c)
	}
	return l
}

// Currencies returns the configured currency codes in configuration order.
func (l *Ledger) Currencies() []string {
	out := make([]string, len(l.currencies))
	copy(out, l.currencies)
	return out
}

// Supports reports whether the currency is configured.
func (l *Ledger) Supports(currency string) bool {
	_, ok := l.known[currency]
	return ok
}

// Open gives the user a zero entry for every configured currency.
func (l *Ledger) Open(u *models.User) {
	u.Balance = make(map[string]float64, len(l.currencies))
	for _, c := range l.currencies {
		u.Balance[c] = 0
	}
}

// Deposit adds the amount to the user's balance
func (l *Ledger) Deposit(u *models.User, amt models.CurrencyAmount) error {
	return l.apply("deposit", u, amt.Currency, amt.Value)
}

// Withdraw subtracts the amount from the user's balance. The result may be
// negative.
func (l *Ledger) Withdraw(u *models.User, amt models.CurrencyAmount) error {
	return l.apply("withdraw", u, amt.Currency, -amt.Value)
}

// Fits reports whether adding delta to the user's balance in currency keeps
// it finite.
func (l *Ledger) Fits(u *models.User, currency string, delta float64) bool {
	return finite(u.Balance[currency] + delta)
}

func (l *Ledger) apply(op string, u *models.User, currency string, delta float64) error {
	if !l.Supports(currency) {
		return fmt.Errorf("%s %s: %w", op, currency, ErrUnsupportedCurrency)
	}
	next := u.Balance[currency] + delta
	if !finite(next) {
		return fmt.Errorf("%s %s: %w", op, currency, ErrOutOfRange)
	}
	u.Balance[currency] = next
	return nil
}

func finite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Snapshot copies the user's balance.
func (l *Ledger) Snapshot(u *models.User) map[string]float64 {
	out := make(map[string]float64, len(u.Balance))
	for c, v := range u.Balance {
		out[c] = v
	}
	return out
}

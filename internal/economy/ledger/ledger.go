// Package ledger owns the village's single spendable balance.
//
// A Ledger is not safe for concurrent use. All mutators are expected to run on
// the village event loop; observers run synchronously inside the mutator and must
// not call back into a Ledger mutator.
package ledger

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
	ErrOverflow      = errors.New("ledger: balance would overflow")
)

// Kind identifies which mutator produced a Change.
type Kind string

const (
	KindCredit Kind = "CREDIT"
	KindDebit  Kind = "DEBIT"
	KindSpend  Kind = "SPEND"
	KindSet    Kind = "SET"
	KindReset  Kind = "RESET"
)

// Change is passed to observers after every successful mutation.
type Change struct {
	Kind    Kind
	Delta   int64
	Balance int64
}

type Observer func(Change)

type ObserverID uint64

type observerEntry struct {
	id ObserverID
	fn Observer
}

type Ledger struct {
	balance  int64
	starting int64

	observers []observerEntry
	nextID    ObserverID
}

// New returns a ledger holding startingBalance (floored at zero). Reset restores it.
func New(startingBalance int64) *Ledger {
	if startingBalance < 0 {
		startingBalance = 0
	}
	return &Ledger{balance: startingBalance, starting: startingBalance}
}

func (l *Ledger) Balance() int64         { return l.balance }
func (l *Ledger) StartingBalance() int64 { return l.starting }

func (l *Ledger) CanAfford(amount int64) bool { return l.balance >= amount }

func (l *Ledger) Credit(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit %d: %w", amount, ErrInvalidAmount)
	}
	if amount > math.MaxInt64-l.balance {
		return fmt.Errorf("credit %d on %d: %w", amount, l.balance, ErrOverflow)
	}
	l.apply(KindCredit, l.balance+amount)
	return nil
}

// Debit removes amount, flooring the balance at zero instead of failing.
// Mini-game penalties use it; purchases use Spend.
func (l *Ledger) Debit(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("debit %d: %w", amount, ErrInvalidAmount)
	}
	next := l.balance - amount
	if next < 0 {
		next = 0
	}
	l.apply(KindDebit, next)
	return nil
}

// Spend debits exactly amount when the balance covers it. On insufficient funds it
// returns false with a nil error and leaves the balance untouched.
func (l *Ledger) Spend(amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("spend %d: %w", amount, ErrInvalidAmount)
	}
	if l.balance < amount {
		return false, nil
	}
	l.apply(KindSpend, l.balance-amount)
	return true, nil
}

// Set is reserved for the persistence layer when restoring a save.
func (l *Ledger) Set(amount int64) {
	if amount < 0 {
		amount = 0
	}
	l.apply(KindSet, amount)
}

func (l *Ledger) Reset() {
	l.apply(KindReset, l.starting)
}

// Register adds fn to the observer list. Callers must Unregister on teardown.
func (l *Ledger) Register(fn Observer) ObserverID {
	l.nextID++
	l.observers = append(l.observers, observerEntry{id: l.nextID, fn: fn})
	return l.nextID
}

func (l *Ledger) Unregister(id ObserverID) bool {
	for i, o := range l.observers {
		if o.id == id {
			l.observers = append(l.observers[:i:i], l.observers[i+1:]...)
			return true
		}
	}
	return false
}

func (l *Ledger) apply(kind Kind, next int64) {
	ch := Change{Kind: kind, Delta: next - l.balance, Balance: next}
	l.balance = next
	// Copy so an observer unregistering itself does not skip its neighbour.
	obs := append([]observerEntry(nil), l.observers...)
	for _, o := range obs {
		o.fn(ch)
	}
}

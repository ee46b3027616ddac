// Package account implements the account-state inputs the C6 sizer and
// validator consume: per-user-broker cash tracking (adapted from the
// teacher's internal/balance.Manager/MultiUserManager, synced from an
// exchange there, seeded and settled locally here since a live funds API is
// outside this module's broker adapters) plus the risk.Snapshot assembler
// that combines it with ATR and open-position lookups.
package account

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Balance is one user-broker's cash position.
type Balance struct {
	Total     decimal.Decimal
	Available decimal.Decimal
	Locked    decimal.Decimal
}

// Ledger tracks per-user-broker cash balances in memory. Grounded on the
// teacher's balance.MultiUserManager keyed-by-user map, keyed here by
// userBrokerId since sizing is per user-broker, not per user.
type Ledger struct {
	mu       sync.RWMutex
	balances map[string]*Balance
	lastSeen map[string]time.Time
	now      func() time.Time
}

// NewLedger builds an empty ledger; call Seed per user-broker at startup.
func NewLedger(now func() time.Time) *Ledger {
	return &Ledger{balances: make(map[string]*Balance), lastSeen: make(map[string]time.Time), now: now}
}

// Seed sets a user-broker's starting total/available capital.
func (l *Ledger) Seed(userBrokerID string, total decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userBrokerID] = &Balance{Total: total, Available: total}
	l.lastSeen[userBrokerID] = l.now()
}

func (l *Ledger) get(userBrokerID string) *Balance {
	b, ok := l.balances[userBrokerID]
	if !ok {
		b = &Balance{}
		l.balances[userBrokerID] = b
	}
	return b
}

// Get returns the current balance snapshot for a user-broker (zero value if
// never seeded).
func (l *Ledger) Get(userBrokerID string) Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[userBrokerID]; ok {
		return *b
	}
	return Balance{}
}

// Lock reserves amount from available balance ahead of an order placement
// (spec §4.6 point 13: "lock balance AFTER evaluation, with final adjusted
// size").
func (l *Ledger) Lock(userBrokerID string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.get(userBrokerID)
	if amount.GreaterThan(b.Available) {
		return fmt.Errorf("insufficient balance for %s: need %s, have %s", userBrokerID, amount, b.Available)
	}
	b.Available = b.Available.Sub(amount)
	b.Locked = b.Locked.Add(amount)
	l.lastSeen[userBrokerID] = l.now()
	return nil
}

// Unlock releases a reservation that did not result in a fill.
func (l *Ledger) Unlock(userBrokerID string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.get(userBrokerID)
	b.Locked = b.Locked.Sub(amount)
	b.Available = b.Available.Add(amount)
}

// Fill settles a buy fill: the locked reservation becomes a real deduction
// against total capital.
func (l *Ledger) Fill(userBrokerID string, cost decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.get(userBrokerID)
	b.Locked = b.Locked.Sub(cost)
	b.Total = b.Total.Sub(cost)
}

// Credit adds exit proceeds back to cash.
func (l *Ledger) Credit(userBrokerID string, proceeds decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.get(userBrokerID)
	b.Total = b.Total.Add(proceeds)
	b.Available = b.Available.Add(proceeds)
}

// CleanupIdle evicts ledgers untouched for longer than ttl, grounded on the
// teacher's balance.MultiUserManager.CleanupIdle sweep.
func (l *Ledger) CleanupIdle(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	cutoff := l.now().Add(-ttl)
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, t := range l.lastSeen {
		if t.Before(cutoff) {
			delete(l.balances, id)
			delete(l.lastSeen, id)
		}
	}
}

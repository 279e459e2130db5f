// Package treasury accumulates platform fees collected by the circle
// engine. Withdrawal administration lives outside the engine; this manager
// only records accruals and answers balance queries.
package treasury

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"circlepot/pkg/money"
)

// Reason categorizes a fee accrual.
type Reason string

const (
	ReasonPayoutFee       Reason = "payout_fee"
	ReasonLateFee         Reason = "late_fee"
	ReasonDissolutionFee  Reason = "dissolution_fee"
	ReasonVisibilityFee   Reason = "visibility_fee"
	ReasonSurplusShare    Reason = "surplus_share"
	ReasonUnclaimedExcess Reason = "unclaimed_excess"
)

// Entry is a single immutable accrual record.
type Entry struct {
	ID        uuid.UUID    `json:"id"`
	CircleID  uint64       `json:"circle_id"`
	Amount    money.Amount `json:"amount"`
	Reason    Reason       `json:"reason"`
	CreatedAt time.Time    `json:"created_at"`
}

// Manager is the engine-owned platform fee accumulator.
type Manager struct {
	mu      sync.RWMutex
	balance money.Amount
	entries []Entry
}

func NewManager() *Manager {
	return &Manager{}
}

// Accrue records a fee against the platform balance.
func (m *Manager) Accrue(circleID uint64, amount money.Amount, reason Reason) {
	if amount <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.balance += amount
	m.entries = append(m.entries, Entry{
		ID:        uuid.New(),
		CircleID:  circleID,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: time.Now(),
	})
}

// Balance returns the accumulated platform fee balance.
func (m *Manager) Balance() money.Amount {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balance
}

// Entries returns a copy of the accrual history for a circle. A zero
// circleID returns everything.
func (m *Manager) Entries(circleID uint64) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if circleID == 0 || e.CircleID == circleID {
			out = append(out, e)
		}
	}
	return out
}

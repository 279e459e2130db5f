// Package collaborator provides local implementations of the engine's
// external services (value transfer, reputation, yield vault) for
// development and simulation, in the spirit of a mock rate provider.
package collaborator

import (
	"context"
	"sync"

	"github.com/google/uuid"

	pkgerrors "circlepot/pkg/errors"
	"circlepot/pkg/logger"
	"circlepot/pkg/money"
)

// LedgerTransfer is an in-memory value transfer service. TransferIn debits
// a participant's balance into the platform float, TransferOut pays it
// back out.
type LedgerTransfer struct {
	mu       sync.Mutex
	balances map[uuid.UUID]money.Amount
	float    money.Amount
}

func NewLedgerTransfer() *LedgerTransfer {
	return &LedgerTransfer{balances: make(map[uuid.UUID]money.Amount)}
}

// Fund credits a participant balance, standing in for an external deposit.
func (t *LedgerTransfer) Fund(holder uuid.UUID, amount money.Amount) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[holder] += amount
}

func (t *LedgerTransfer) TransferIn(ctx context.Context, payer uuid.UUID, amount money.Amount) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balances[payer] < amount {
		return pkgerrors.ErrInsufficientFunds
	}
	t.balances[payer] -= amount
	t.float += amount
	return nil
}

func (t *LedgerTransfer) TransferOut(ctx context.Context, payee uuid.UUID, amount money.Amount) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[payee] += amount
	t.float -= amount
	return nil
}

func (t *LedgerTransfer) BalanceOf(ctx context.Context, holder uuid.UUID) (money.Amount, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[holder], nil
}

// Float returns the value currently held by the platform.
func (t *LedgerTransfer) Float() money.Amount {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.float
}

// LoggingReputation is a reputation service that records scores in memory
// and logs every notification.
type LoggingReputation struct {
	mu     sync.Mutex
	scores map[uuid.UUID]int64
	logger logger.Logger
}

func NewLoggingReputation(log logger.Logger) *LoggingReputation {
	return &LoggingReputation{scores: make(map[uuid.UUID]int64), logger: log}
}

// SetScore seeds a participant's reputation.
func (r *LoggingReputation) SetScore(user uuid.UUID, score int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores[user] = score
}

func (r *LoggingReputation) ScoreOf(ctx context.Context, user uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scores[user], nil
}

func (r *LoggingReputation) NotifyIncrease(ctx context.Context, user uuid.UUID, points int64, reason string) error {
	r.mu.Lock()
	r.scores[user] += points
	r.mu.Unlock()
	r.logger.Debug("Reputation increase", map[string]interface{}{"user": user, "points": points, "reason": reason})
	return nil
}

func (r *LoggingReputation) NotifyDecrease(ctx context.Context, user uuid.UUID, points int64, reason string) error {
	r.mu.Lock()
	r.scores[user] -= points
	r.mu.Unlock()
	r.logger.Debug("Reputation decrease", map[string]interface{}{"user": user, "points": points, "reason": reason})
	return nil
}

func (r *LoggingReputation) NotifyCircleCompleted(ctx context.Context, user uuid.UUID, circleID uint64) error {
	r.logger.Debug("Circle completed notification", map[string]interface{}{"user": user, "circle_id": circleID})
	return nil
}

func (r *LoggingReputation) NotifyLatePayment(ctx context.Context, user uuid.UUID, circleID uint64, round int, fee money.Amount) error {
	r.logger.Debug("Late payment notification", map[string]interface{}{"user": user, "circle_id": circleID, "round": round, "fee": fee})
	return nil
}

// FixedRateVault simulates a yield vault with a fixed share price
// expressed in basis points of growth applied at redemption.
type FixedRateVault struct {
	mu       sync.Mutex
	yieldBps int64
	total    money.Amount
}

func NewFixedRateVault(yieldBps int64) *FixedRateVault {
	return &FixedRateVault{yieldBps: yieldBps}
}

func (v *FixedRateVault) Deposit(ctx context.Context, amount money.Amount) (money.Amount, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.total += amount
	// shares are minted 1:1 with principal
	return amount, nil
}

func (v *FixedRateVault) Redeem(ctx context.Context, shares money.Amount) (money.Amount, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if shares > v.total {
		return 0, pkgerrors.ErrNoVaultShares
	}
	v.total -= shares
	return v.value(shares)
}

func (v *FixedRateVault) PreviewRedeem(ctx context.Context, shares money.Amount) (money.Amount, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value(shares)
}

func (v *FixedRateVault) value(shares money.Amount) (money.Amount, error) {
	gain, err := money.ApplyBps(shares, v.yieldBps)
	if err != nil {
		return 0, err
	}
	return shares + gain, nil
}
